package router

import (
	"encoding/json"
	"net/http"

	"fleettrack/internal/api/handler"
	"fleettrack/internal/api/middleware"
	"fleettrack/internal/config"
	"fleettrack/internal/core/service"
	"fleettrack/internal/protocol/jt808"
	"fleettrack/internal/storage"
)

func NewRouter(
	cfg *config.Config,
	deviceService service.DeviceService,
	positionService service.PositionService,
	mediaService service.MediaService,
	files *storage.FileStore,
	sender handler.CommandSender,
) http.Handler {
	callback := jt808.CallbackServer{
		Host:    cfg.Callback.Host,
		TCPPort: cfg.Callback.TCPPort,
		UDPPort: cfg.Callback.UDPPort,
	}

	authHandler := handler.NewAuthHandler(cfg.Auth.JWTSecret, cfg.Auth.Username, cfg.Auth.Password)
	deviceHandler := handler.NewDeviceHandler(deviceService, sender, callback)
	positionHandler := handler.NewPositionHandler(positionService)
	mediaHandler := handler.NewMediaHandler(mediaService, files)
	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)

	mux := http.NewServeMux()

	withMiddleware := func(handler http.Handler) http.Handler {
		return middleware.CORSMiddleware(
			middleware.LoggingMiddleware(
				authMiddleware.Authenticate(handler),
			),
		)
	}
	public := func(handler http.Handler) http.Handler {
		return middleware.CORSMiddleware(middleware.LoggingMiddleware(handler))
	}

	mux.Handle("/health", public(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})))

	mux.Handle("/api/auth/login", public(methodHandler(http.MethodPost, authHandler.Login)))
	mux.Handle("/api/auth/refresh", public(methodHandler(http.MethodPost, authHandler.Refresh)))

	mux.Handle("/api/devices", withMiddleware(methodHandler(http.MethodPost, deviceHandler.Create)))
	mux.Handle("/api/devices/list", withMiddleware(methodHandler(http.MethodGet, deviceHandler.GetDevices)))
	mux.Handle("/api/devices/get", withMiddleware(methodHandler(http.MethodGet, deviceHandler.GetDevice)))
	mux.Handle("/api/devices/command", withMiddleware(methodHandler(http.MethodPost, deviceHandler.SendCommand)))

	mux.Handle("/api/positions/list", withMiddleware(methodHandler(http.MethodGet, positionHandler.GetPositions)))
	mux.Handle("/api/positions/latest", withMiddleware(methodHandler(http.MethodGet, positionHandler.GetLatestPosition)))

	mux.Handle("/api/media/list", withMiddleware(methodHandler(http.MethodGet, mediaHandler.GetDeviceMedia)))
	mux.Handle("/api/media/alarm", withMiddleware(methodHandler(http.MethodGet, mediaHandler.GetAlarmMedia)))
	mux.Handle("/api/media/download", withMiddleware(methodHandler(http.MethodGet, mediaHandler.Download)))

	return mux
}

func methodHandler(method string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case method:
			fn(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
