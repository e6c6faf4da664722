package jt808

import (
	"sync"
	"time"
)

// AlarmCorrelation links an alarm occurrence to the media requested and
// received because of it.
type AlarmCorrelation struct {
	DeviceID      string
	AlarmID       uint32
	AlarmType     string
	AlarmNumber   string
	CreatedAt     time.Time
	ExpectedMedia []uint32
	ReceivedPaths []string
}

type correlationKey struct {
	deviceID string
	alarmID  uint32
}

// CorrelationTracker is the short-lived keyed index between alarm ids and the
// media expected or received for them. Entries are evicted by an age-based
// sweep since a device may never send the matching upload. Pure bookkeeping,
// no I/O.
type CorrelationTracker struct {
	mu      sync.RWMutex
	entries map[correlationKey]*AlarmCorrelation
	now     func() time.Time
}

func NewCorrelationTracker() *CorrelationTracker {
	return &CorrelationTracker{
		entries: make(map[correlationKey]*AlarmCorrelation),
		now:     time.Now,
	}
}

// SetClock injects the time source; used by the sweep tests.
func (t *CorrelationTracker) SetClock(now func() time.Time) {
	t.now = now
}

// Create registers (or refreshes) the correlation for an alarm occurrence.
func (t *CorrelationTracker) Create(deviceID string, alarmID uint32, alarmType, alarmNumber string) *AlarmCorrelation {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := correlationKey{deviceID, alarmID}
	entry, ok := t.entries[key]
	if !ok {
		entry = &AlarmCorrelation{
			DeviceID:    deviceID,
			AlarmID:     alarmID,
			AlarmType:   alarmType,
			AlarmNumber: alarmNumber,
			CreatedAt:   t.now(),
		}
		t.entries[key] = entry
		return entry
	}
	entry.AlarmType = alarmType
	entry.AlarmNumber = alarmNumber
	entry.CreatedAt = t.now()
	return entry
}

// AttachExpectedMedia records the media ids a capture response enumerated.
// It attaches to the first correlation for the device that has no
// expectation yet. Under concurrent alarms from one device this positional
// match can pick the wrong entry; the device would have to echo the request
// context to do better, and firmware behavior there is unverified.
func (t *CorrelationTracker) AttachExpectedMedia(deviceID string, mediaIDs []uint32) *AlarmCorrelation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var oldest *AlarmCorrelation
	for key, entry := range t.entries {
		if key.deviceID != deviceID || len(entry.ExpectedMedia) > 0 {
			continue
		}
		if oldest == nil || entry.CreatedAt.Before(oldest.CreatedAt) {
			oldest = entry
		}
	}
	if oldest == nil {
		return nil
	}
	oldest.ExpectedMedia = append(oldest.ExpectedMedia, mediaIDs...)
	return oldest
}

// FindByMedia returns the correlation expecting the given media id, if any.
func (t *CorrelationTracker) FindByMedia(deviceID string, mediaID uint32) *AlarmCorrelation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for key, entry := range t.entries {
		if key.deviceID != deviceID {
			continue
		}
		for _, id := range entry.ExpectedMedia {
			if id == mediaID {
				return entry
			}
		}
	}
	return nil
}

// Get returns the correlation for (device, alarm id), if present.
func (t *CorrelationTracker) Get(deviceID string, alarmID uint32) *AlarmCorrelation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[correlationKey{deviceID, alarmID}]
}

// RecordReceivedMedia appends a stored media path to the correlation.
func (t *CorrelationTracker) RecordReceivedMedia(entry *AlarmCorrelation, path string) {
	if entry == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry.ReceivedPaths = append(entry.ReceivedPaths, path)
}

// Sweep removes entries older than maxAge and returns how many were evicted.
func (t *CorrelationTracker) Sweep(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-maxAge)
	removed := 0
	for key, entry := range t.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live correlations.
func (t *CorrelationTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
