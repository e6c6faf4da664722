package util

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a time-prefixed unique identifier. The timestamp
// prefix keeps records roughly sortable by creation time.
func GenerateID() string {
	return time.Now().Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// GenerateAlarmNumber returns the 32-character ASCII alarm number embedded in
// attachment-upload requests. Uniqueness per call is required even for
// identical inputs, so it is a bare UUID rather than anything derived from
// the alarm.
func GenerateAlarmNumber() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateAuthCode returns the registration auth code handed to a device.
// Devices echo it verbatim in the authentication message; some firmware
// truncates long codes, so keep it short.
func GenerateAuthCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
