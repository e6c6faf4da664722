package model

import (
	"time"

	"fleettrack/internal/core/util"
)

// MediaFile is a finalized multimedia transfer: the durable reference to the
// reassembled bytes plus the metadata the device declared for them.
type MediaFile struct {
	ID          string    `json:"id" bson:"_id,omitempty"`
	DeviceID    string    `json:"deviceId" bson:"deviceId"`
	MediaID     uint32    `json:"mediaId" bson:"mediaId"`
	Type        string    `json:"type" bson:"type"` // image, audio, video
	Path        string    `json:"path" bson:"path"`
	Size        int       `json:"size" bson:"size"`
	Packets     int       `json:"packets" bson:"packets"`
	Channel     uint8     `json:"channel,omitempty" bson:"channel,omitempty"`
	EventCode   uint8     `json:"eventCode,omitempty" bson:"eventCode,omitempty"`
	SourceName  string    `json:"sourceName,omitempty" bson:"sourceName,omitempty"` // bulk framing only
	Incomplete  bool      `json:"incomplete,omitempty" bson:"incomplete,omitempty"`
	AlarmID     uint32    `json:"alarmId,omitempty" bson:"alarmId,omitempty"`
	AlarmType   string    `json:"alarmType,omitempty" bson:"alarmType,omitempty"`
	Correlated  bool      `json:"correlated,omitempty" bson:"correlated,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt" bson:"uploadedAt"`
}

func NewMediaFile(deviceID string, mediaID uint32, mediaType, path string) *MediaFile {
	return &MediaFile{
		ID:         util.GenerateID(),
		DeviceID:   deviceID,
		MediaID:    mediaID,
		Type:       mediaType,
		Path:       path,
		UploadedAt: time.Now(),
	}
}
