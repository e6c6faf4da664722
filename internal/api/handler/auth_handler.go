package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"fleettrack/internal/api/util"
)

type AuthHandler struct {
	secret   string
	username string
	password string
}

func NewAuthHandler(secret, username, password string) *AuthHandler {
	return &AuthHandler{secret: secret, username: username, password: password}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if h.username == "" ||
		subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.username)) != 1 ||
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) != 1 {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	accessToken, err := util.GenerateToken(h.secret, req.Username, 15*time.Minute)
	if err != nil {
		http.Error(w, "Error generating token", http.StatusInternalServerError)
		return
	}
	refreshToken, err := util.GenerateToken(h.secret, req.Username, 7*24*time.Hour)
	if err != nil {
		http.Error(w, "Error generating refresh token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := util.BearerToken(r)
	if token == "" {
		http.Error(w, "Authorization header required", http.StatusUnauthorized)
		return
	}
	subject, err := util.VerifyToken(h.secret, token)
	if err != nil {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	accessToken, err := util.GenerateToken(h.secret, subject, 15*time.Minute)
	if err != nil {
		http.Error(w, "Error generating token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"access_token": accessToken})
}
