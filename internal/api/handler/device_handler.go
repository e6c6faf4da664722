package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"fleettrack/internal/core/service"
	"fleettrack/internal/protocol/jt808"
)

// CommandSender routes an encoded command to a device's live connection.
type CommandSender interface {
	SendCommand(deviceID string, cmd jt808.Command) error
}

type DeviceHandler struct {
	deviceService service.DeviceService
	sender        CommandSender
	callback      jt808.CallbackServer
}

func NewDeviceHandler(deviceService service.DeviceService, sender CommandSender, callback jt808.CallbackServer) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		sender:        sender,
		callback:      callback,
	}
}

type createDeviceRequest struct {
	Name     string `json:"name"`
	UniqueID string `json:"uniqueId"`
}

func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	device, err := h.deviceService.CreateDevice(req.Name, req.UniqueID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(device)
}

func (h *DeviceHandler) GetDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.deviceService.GetAllDevices()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(devices)
}

func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("id")
	if deviceID == "" {
		http.Error(w, "Device ID required", http.StatusBadRequest)
		return
	}

	device, err := h.deviceService.GetDevice(deviceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if device == nil {
		device, err = h.deviceService.FindByUniqueID(deviceID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if device == nil {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(device)
}

type commandRequest struct {
	DeviceID   string `json:"deviceId"`
	Type       string `json:"type"`
	Interval   uint32 `json:"interval,omitempty"`
	Cut        bool   `json:"cut,omitempty"`
	Text       string `json:"text,omitempty"`
	Channel    byte   `json:"channel,omitempty"`
	DataType   byte   `json:"dataType,omitempty"`
	StreamType byte   `json:"streamType,omitempty"`
	Control    byte   `json:"control,omitempty"`
	StartTime  string `json:"startTime,omitempty"` // RFC 3339
	EndTime    string `json:"endTime,omitempty"`
	Direction  byte   `json:"direction,omitempty"`
	Speed      byte   `json:"speed,omitempty"`
}

// SendCommand translates an API command request into a protocol command and
// routes it to the device's live connection.
func (h *DeviceHandler) SendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" || req.Type == "" {
		http.Error(w, "deviceId and type required", http.StatusBadRequest)
		return
	}

	cmd := jt808.Command{
		Type:       jt808.CommandType(req.Type),
		DeviceID:   req.DeviceID,
		Interval:   req.Interval,
		Cut:        req.Cut,
		Text:       req.Text,
		Channel:    req.Channel,
		DataType:   req.DataType,
		StreamType: req.StreamType,
		Control:    req.Control,
		Server:     h.callback.Host,
		TCPPort:    h.callback.TCPPort,
		UDPPort:    h.callback.UDPPort,

		PTZDirection: req.Direction,
		PTZSpeed:     req.Speed,
	}
	if req.StartTime != "" {
		t, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			http.Error(w, "Invalid startTime", http.StatusBadRequest)
			return
		}
		cmd.StartTime = t
	}
	if req.EndTime != "" {
		t, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			http.Error(w, "Invalid endTime", http.StatusBadRequest)
			return
		}
		cmd.EndTime = t
	}

	if err := h.sender.SendCommand(req.DeviceID, cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
}
