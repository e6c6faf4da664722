package model

import (
	"time"

	"fleettrack/internal/core/util"
)

type Device struct {
	ID           string    `json:"id" bson:"_id,omitempty"`
	Name         string    `json:"name" bson:"name"`
	UniqueID     string    `json:"uniqueId" bson:"uniqueId"` // terminal phone number / BCD identity
	Plate        string    `json:"plate,omitempty" bson:"plate,omitempty"`
	Model        string    `json:"model,omitempty" bson:"model,omitempty"`
	Status       string    `json:"status" bson:"status"`
	Protocol     string    `json:"protocol" bson:"protocol"`
	AuthCode     string    `json:"-" bson:"authCode,omitempty"`
	PositionID   string    `json:"positionId,omitempty" bson:"positionId,omitempty"`
	LastUpdate   time.Time `json:"lastUpdate" bson:"lastUpdate"`
	RegisteredAt time.Time `json:"registeredAt" bson:"registeredAt"`
}

func NewDevice(name, uniqueID string) *Device {
	return &Device{
		ID:           util.GenerateID(),
		Name:         name,
		UniqueID:     uniqueID,
		Status:       "inactive",
		Protocol:     "jt808",
		LastUpdate:   time.Now(),
		RegisteredAt: time.Now(),
	}
}
