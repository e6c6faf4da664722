package jt808

import (
	"encoding/binary"
	"errors"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fleettrack/internal/core/model"
)

// BlobSink is the durable storage collaborator: it owns the bytes of a
// completed transfer and returns the reference recorded on the media file.
type BlobSink interface {
	Store(deviceID string, data []byte, ext string) (string, error)
}

// MediaEventSink consumes finalized media files (persistence, downstream
// pipelines).
type MediaEventSink interface {
	MediaStored(file *model.MediaFile)
}

var errNoTransfer = errors.New("no pending transfer")

type transferKey struct {
	deviceID string
	mediaID  uint32
	filename string // bulk framing path only
}

// PendingTransfer accumulates one in-flight binary transfer. Owned
// exclusively by the MediaStore; the entry mutex covers buffer appends so two
// chunk paths converging on one key cannot interleave.
type PendingTransfer struct {
	mu sync.Mutex

	DeviceID  string
	MediaID   uint32
	MediaType byte
	Format    byte
	EventCode byte
	Channel   byte
	Filename  string

	buf          []byte
	packets      int
	totalPackets int
	seen         map[uint16]bool // message-path sub-package numbers received
	declaredSize int
	createdAt    time.Time
}

// MediaStore is the keyed accumulator of in-flight transfers, shared across
// all connections: bulk packets arrive with no session binding of their own,
// and message uploads and bulk packets must converge on one entry.
type MediaStore struct {
	mu        sync.Mutex
	transfers map[transferKey]*PendingTransfer

	sink    BlobSink
	events  MediaEventSink
	tracker *CorrelationTracker
	now     func() time.Time
	log     zerolog.Logger
}

func NewMediaStore(sink BlobSink, events MediaEventSink, tracker *CorrelationTracker) *MediaStore {
	return &MediaStore{
		transfers: make(map[transferKey]*PendingTransfer),
		sink:      sink,
		events:    events,
		tracker:   tracker,
		now:       time.Now,
		log:       log.With().Str("mod", "jt808.media").Logger(),
	}
}

// SetClock injects the time source; used by the sweep tests.
func (s *MediaStore) SetClock(now func() time.Time) {
	s.now = now
}

// Pending reports the number of in-flight transfers.
func (s *MediaStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

// HandleUploadChunk ingests one 0x0801 multimedia-data message. The first
// chunk for a key creates the transfer and carries the 8-byte media header;
// later sub-packages append raw bytes. The finalized file is returned when
// every declared package number has been seen: the distinct-packet counter is
// the only completion signal (an earlier generation finalized on buffer
// emptiness, which misfires on out-of-order delivery and must not return).
// A retransmitted sub-package is dropped instead of counted again.
func (s *MediaStore) HandleUploadChunk(env *Envelope) (*model.MediaFile, error) {
	total := 1
	if env.SubPackage {
		total = int(env.SubTotal)
	}

	entry, first, err := s.ensureTransfer(env, total)
	if err != nil {
		return nil, err
	}

	pkgNo := uint16(1)
	if env.SubPackage {
		pkgNo = env.SubIndex
	}

	entry.mu.Lock()
	if entry.seen[pkgNo] {
		entry.mu.Unlock()
		return nil, nil
	}
	entry.seen[pkgNo] = true
	chunk := env.Body
	if first && len(chunk) >= 8 {
		chunk = chunk[8:]
	}
	entry.buf = append(entry.buf, chunk...)
	entry.packets++
	done := entry.totalPackets > 0 && entry.packets >= entry.totalPackets
	entry.mu.Unlock()

	if !done {
		return nil, nil
	}
	key := transferKey{deviceID: entry.DeviceID, mediaID: entry.MediaID}
	return s.finalize(key, false)
}

// ensureTransfer returns the device's in-flight message-path transfer,
// creating it from the first chunk's media header when none exists. Only the
// first sub-package carries the header; later chunks are raw data, so they
// must never be keyed by their leading bytes. One in-flight message-path
// transfer per device, matching how devices actually interleave.
func (s *MediaStore) ensureTransfer(env *Envelope, total int) (*PendingTransfer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.transfers {
		if key.deviceID == env.DeviceID && key.filename == "" {
			return entry, false, nil
		}
	}
	if len(env.Body) < 8 {
		return nil, false, errors.New("multimedia chunk too short for header")
	}
	entry := &PendingTransfer{
		DeviceID:     env.DeviceID,
		MediaID:      binary.BigEndian.Uint32(env.Body[0:4]),
		MediaType:    env.Body[4],
		Format:       env.Body[5],
		EventCode:    env.Body[6],
		Channel:      env.Body[7],
		totalPackets: total,
		seen:         make(map[uint16]bool),
		createdAt:    s.now(),
	}
	s.transfers[transferKey{deviceID: env.DeviceID, mediaID: entry.MediaID}] = entry
	return entry, true, nil
}

// HandleBulkPacket ingests one code-stream packet. The packet carries no
// device id; it is recovered from the alarm-number token embedded in the
// filename, falling back to the connection's bound device.
func (s *MediaStore) HandleBulkPacket(pkt *BulkPacket, connDevice string) {
	deviceID, serial, ok := parseAlarmFilename(pkt.Filename)
	if !ok {
		if connDevice == "" {
			s.log.Warn().Str("file", pkt.Filename).Msg("bulk packet with no resolvable device")
			return
		}
		deviceID = connDevice
	}

	key := transferKey{deviceID: deviceID, mediaID: serial, filename: pkt.Filename}

	s.mu.Lock()
	entry, present := s.transfers[key]
	if !present {
		entry = &PendingTransfer{
			DeviceID:  deviceID,
			MediaID:   serial,
			MediaType: mediaTypeFromExt(path.Ext(pkt.Filename)),
			Filename:  pkt.Filename,
			createdAt: s.now(),
		}
		s.transfers[key] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	end := int(pkt.Offset) + len(pkt.Data)
	if end > len(entry.buf) {
		grown := make([]byte, end)
		copy(grown, entry.buf)
		entry.buf = grown
	}
	copy(entry.buf[pkt.Offset:end], pkt.Data)
	entry.packets++
	entry.mu.Unlock()
}

// RecordDeclaredSize stores the file size announced by a 0x1211 file-info
// message; completion validation compares against it. The lookup and the
// miss-path insert stay under one store-lock acquisition: the file info and
// the first data packet arrive on different connections, and a racing insert
// would clobber an entry the bulk path already filled.
func (s *MediaStore) RecordDeclaredSize(deviceID, filename string, size int) {
	s.mu.Lock()
	entry := s.lockedLookupByFilename(deviceID, filename)
	if entry == nil {
		// File info may precede the first data packet; create the entry so
		// the size survives.
		_, serial, _ := parseAlarmFilename(filename)
		entry = &PendingTransfer{
			DeviceID:  deviceID,
			MediaID:   serial,
			MediaType: mediaTypeFromExt(path.Ext(filename)),
			Filename:  filename,
			createdAt: s.now(),
		}
		s.transfers[transferKey{deviceID: deviceID, mediaID: serial, filename: filename}] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	entry.declaredSize = size
	entry.mu.Unlock()
}

// CompleteBulkTransfer finalizes a bulk-path transfer on 0x1212. A size
// mismatch against the declared file size does not discard the transfer; the
// result is tagged incomplete so downstream can decide tolerance.
func (s *MediaStore) CompleteBulkTransfer(deviceID, filename string) (*model.MediaFile, error) {
	entry := s.lookupByFilename(deviceID, filename)
	if entry == nil {
		return nil, errNoTransfer
	}
	return s.finalize(transferKey{deviceID: entry.DeviceID, mediaID: entry.MediaID, filename: entry.Filename}, true)
}

func (s *MediaStore) lookupByFilename(deviceID, filename string) *PendingTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedLookupByFilename(deviceID, filename)
}

// lockedLookupByFilename requires s.mu held.
func (s *MediaStore) lockedLookupByFilename(deviceID, filename string) *PendingTransfer {
	for key, entry := range s.transfers {
		if key.filename == filename && (key.deviceID == deviceID || deviceID == "") {
			return entry
		}
	}
	return nil
}

// finalize removes the entry under the store lock, then persists outside any
// lock: the blob write is the only blocking I/O in this package and must not
// stall other transfers.
func (s *MediaStore) finalize(key transferKey, validateSize bool) (*model.MediaFile, error) {
	s.mu.Lock()
	entry, ok := s.transfers[key]
	if ok {
		delete(s.transfers, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil, errNoTransfer
	}

	entry.mu.Lock()
	data := entry.buf
	entry.buf = nil
	packets := entry.packets
	declared := entry.declaredSize
	entry.mu.Unlock()

	ext := extensionForFormat(entry.Format)
	if entry.Filename != "" {
		if e := path.Ext(entry.Filename); e != "" {
			ext = strings.TrimPrefix(e, ".")
		}
	}

	ref, err := s.sink.Store(entry.DeviceID, data, ext)
	if err != nil {
		s.log.Error().Err(err).Str("device", entry.DeviceID).Msg("blob store failed")
		return nil, err
	}

	file := model.NewMediaFile(entry.DeviceID, entry.MediaID, mediaTypeName(entry.MediaType), ref)
	file.Size = len(data)
	file.Packets = packets
	file.Channel = entry.Channel
	file.EventCode = entry.EventCode
	file.SourceName = entry.Filename
	if validateSize && declared > 0 && declared != len(data) {
		file.Incomplete = true
		s.log.Warn().Str("device", entry.DeviceID).Str("file", entry.Filename).
			Int("declared", declared).Int("got", len(data)).Msg("bulk transfer size mismatch")
	}

	if corr := s.tracker.FindByMedia(entry.DeviceID, entry.MediaID); corr != nil {
		file.Correlated = true
		file.AlarmID = corr.AlarmID
		file.AlarmType = corr.AlarmType
		s.tracker.RecordReceivedMedia(corr, ref)
	}

	if s.events != nil {
		s.events.MediaStored(file)
	}
	return file, nil
}

// Sweep drops transfers older than maxAge. A transfer abandoned mid-upload
// leaks until swept; that bound is accepted rather than guaranteed prompt.
func (s *MediaStore) Sweep(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.transfers {
		if entry.createdAt.Before(cutoff) {
			delete(s.transfers, key)
			removed++
		}
	}
	return removed
}

// parseAlarmFilename extracts the device id and serial from the embedded
// alarm-number token: `…_ALM-<deviceId>-<serial>-<epochMillis>.<ext>`.
func parseAlarmFilename(name string) (deviceID string, serial uint32, ok bool) {
	idx := strings.Index(name, "ALM-")
	if idx < 0 {
		return "", 0, false
	}
	rest := strings.TrimSuffix(name[idx+4:], path.Ext(name))
	parts := strings.Split(rest, "-")
	if len(parts) < 3 {
		return "", 0, false
	}
	n, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, false
	}
	return parts[0], uint32(n), true
}

func extensionForFormat(format byte) string {
	switch format {
	case formatJPEG:
		return "jpg"
	case formatTIFF:
		return "tif"
	case formatMP3:
		return "mp3"
	case formatWAV:
		return "wav"
	case formatWMV:
		return "wmv"
	}
	return "bin"
}

func mediaTypeName(t byte) string {
	switch t {
	case 0:
		return "image"
	case 1:
		return "audio"
	case 2:
		return "video"
	}
	return "unknown"
}

func mediaTypeFromExt(ext string) byte {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg", "png", "tif":
		return 0
	case "mp3", "wav":
		return 1
	case "mp4", "wmv", "h264", "avi":
		return 2
	}
	return 0
}
