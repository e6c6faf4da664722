package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"fleettrack/internal/core/service"
	"fleettrack/internal/storage"
)

type MediaHandler struct {
	mediaService service.MediaService
	files        *storage.FileStore
}

func NewMediaHandler(mediaService service.MediaService, files *storage.FileStore) *MediaHandler {
	return &MediaHandler{
		mediaService: mediaService,
		files:        files,
	}
}

func (h *MediaHandler) GetDeviceMedia(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		http.Error(w, "Device ID required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	files, err := h.mediaService.GetDeviceMedia(deviceID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(files)
}

// GetAlarmMedia lists the media files correlated to one alarm occurrence.
func (h *MediaHandler) GetAlarmMedia(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	alarmID, err := strconv.ParseUint(r.URL.Query().Get("alarmId"), 10, 32)
	if deviceID == "" || err != nil {
		http.Error(w, "deviceId and numeric alarmId required", http.StatusBadRequest)
		return
	}

	files, err := h.mediaService.GetAlarmMedia(deviceID, uint32(alarmID))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(files)
}

// Download streams the stored bytes of one media file.
func (h *MediaHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Media ID required", http.StatusBadRequest)
		return
	}

	file, err := h.mediaService.GetMedia(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if file == nil {
		http.Error(w, "Media not found", http.StatusNotFound)
		return
	}

	path, err := h.files.Open(file.Path)
	if err != nil {
		http.Error(w, "Media blob unavailable", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}
