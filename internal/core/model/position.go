package model

import (
	"time"

	"fleettrack/internal/core/util"
)

type Position struct {
	ID         string                 `json:"id" bson:"_id,omitempty"`
	DeviceID   string                 `json:"deviceId" bson:"deviceId"`
	Timestamp  time.Time              `json:"timestamp" bson:"timestamp"`
	Latitude   float64                `json:"latitude" bson:"latitude"`
	Longitude  float64                `json:"longitude" bson:"longitude"`
	Altitude   float64                `json:"altitude" bson:"altitude"`
	Speed      float64                `json:"speed" bson:"speed"` // knots
	Course     float64                `json:"course" bson:"course"`
	Protocol   string                 `json:"protocol" bson:"protocol"`
	Valid      bool                   `json:"valid" bson:"valid"` // GPS fix validity
	Ignition   bool                   `json:"ignition" bson:"ignition"`
	Satellites uint8                  `json:"satellites" bson:"satellites"`
	Odometer   float64                `json:"odometer,omitempty" bson:"odometer,omitempty"` // km
	Alarms     []string               `json:"alarms,omitempty" bson:"alarms,omitempty"`
	Status     map[string]interface{} `json:"status,omitempty" bson:"status,omitempty"`
}

func NewPosition(deviceID string, lat, lon float64) *Position {
	return &Position{
		ID:        util.GenerateID(),
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Latitude:  lat,
		Longitude: lon,
		Protocol:  "unknown",
		Valid:     true,
		Status:    make(map[string]interface{}),
	}
}

// HasAlarm reports whether any alarm tag is present on the position.
func (p *Position) HasAlarm() bool {
	return len(p.Alarms) > 0
}
