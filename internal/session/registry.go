// Package session maps live connections to device identities. The protocol
// dispatcher consults it on every frame from an unbound connection; device
// records come from the device service, per-model protocol variants from
// configuration.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fleettrack/internal/cache"
	"fleettrack/internal/core/service"
	"fleettrack/internal/protocol/jt808"
)

type Registry struct {
	devices service.DeviceService

	shortIndexModels map[string]bool
	altOilModels     map[string]bool

	mu       sync.RWMutex
	byConn   map[string]string // connection id -> device id
	byDevice map[string]string // device id -> connection id

	log zerolog.Logger
}

func NewRegistry(devices service.DeviceService, shortIndexModels, altOilModels []string) *Registry {
	r := &Registry{
		devices:          devices,
		shortIndexModels: make(map[string]bool),
		altOilModels:     make(map[string]bool),
		byConn:           make(map[string]string),
		byDevice:         make(map[string]string),
		log:              log.With().Str("mod", "session").Logger(),
	}
	for _, m := range shortIndexModels {
		r.shortIndexModels[m] = true
	}
	for _, m := range altOilModels {
		r.altOilModels[m] = true
	}
	return r
}

// Resolve looks the device up and, on success, binds the connection to it.
func (r *Registry) Resolve(connID, deviceID string) (jt808.SessionHandle, bool) {
	device, err := r.devices.FindByUniqueID(deviceID)
	if err != nil {
		r.log.Warn().Err(err).Str("device", deviceID).Msg("device lookup failed")
		return jt808.SessionHandle{}, false
	}
	if device == nil {
		return jt808.SessionHandle{}, false
	}

	r.bind(connID, deviceID)
	return jt808.SessionHandle{
		DeviceID:   deviceID,
		ShortIndex: r.shortIndexModels[device.Model],
	}, true
}

// Register provisions the device (or refreshes its record) and returns the
// auth code for the registration reply.
func (r *Registry) Register(connID, deviceID string, reg jt808.Registration) (string, byte) {
	device, err := r.devices.EnsureRegistered(deviceID, reg.Model, reg.Plate)
	if err != nil {
		r.log.Error().Err(err).Str("device", deviceID).Msg("registration failed")
		return "", jt808.RegNoTerminal
	}
	r.log.Info().Str("device", deviceID).Str("model", reg.Model).Str("plate", reg.Plate).
		Msg("device registered")
	return device.AuthCode, jt808.RegOK
}

// Authenticate checks the echoed auth code against the device record.
func (r *Registry) Authenticate(connID, deviceID, authCode string) bool {
	device, err := r.devices.FindByUniqueID(deviceID)
	if err != nil || device == nil {
		return false
	}
	if authCode == "" || device.AuthCode != authCode {
		r.log.Warn().Str("device", deviceID).Msg("auth code mismatch")
		return false
	}
	return true
}

// Unbind drops the connection's binding and marks the device offline.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	deviceID, ok := r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
		if r.byDevice[deviceID] == connID {
			delete(r.byDevice, deviceID)
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.devices.MarkOffline(deviceID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.Delete(ctx, sessionKey(deviceID)); err != nil {
		r.log.Debug().Err(err).Str("device", deviceID).Msg("session index delete failed")
	}
}

// ConnFor returns the connection currently bound to a device.
func (r *Registry) ConnFor(deviceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byDevice[deviceID]
	return connID, ok
}

// AltOil reports whether the device's model needs the alternative oil-control
// encoding.
func (r *Registry) AltOil(deviceID string) bool {
	device, err := r.devices.FindByUniqueID(deviceID)
	if err != nil || device == nil {
		return false
	}
	return r.altOilModels[device.Model]
}

func (r *Registry) bind(connID, deviceID string) {
	r.mu.Lock()
	prev, rebound := r.byDevice[deviceID]
	r.byConn[connID] = deviceID
	r.byDevice[deviceID] = connID
	if rebound && prev != connID {
		delete(r.byConn, prev)
	}
	r.mu.Unlock()

	if rebound && prev != connID {
		r.log.Debug().Str("device", deviceID).Msg("device moved to a new connection")
	}

	// The session index lets other nodes see who is online; best effort.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.Set(ctx, sessionKey(deviceID), connID, 10*time.Minute); err != nil {
		r.log.Debug().Err(err).Str("device", deviceID).Msg("session index write failed")
	}
}

func sessionKey(deviceID string) string {
	return "session:" + deviceID
}
