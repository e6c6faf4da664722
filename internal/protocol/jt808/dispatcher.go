package jt808

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fleettrack/internal/core/model"
)

// General-acknowledgment result codes
const (
	AckSuccess     byte = 0x00
	AckFailure     byte = 0x01
	AckBadMessage  byte = 0x02
	AckUnsupported byte = 0x03
)

// Registration result codes (0x8100)
const (
	RegOK                 byte = 0x00
	RegVehicleRegistered  byte = 0x01
	RegNoVehicle          byte = 0x02
	RegTerminalRegistered byte = 0x03
	RegNoTerminal         byte = 0x04
)

// SessionHandle describes a bound device session, including the per-model
// protocol variants the encoder must honor.
type SessionHandle struct {
	DeviceID   string
	ShortIndex bool
}

// Registration is the decoded 0x0100 body.
type Registration struct {
	ProvinceID   uint16
	CityID       uint16
	Manufacturer string
	Model        string
	TerminalID   string
	PlateColor   byte
	Plate        string
}

// SessionRegistry is the external device-session collaborator: it maps a
// decoded device identity to a live session and owns registration and
// authentication state.
type SessionRegistry interface {
	Resolve(connID, deviceID string) (SessionHandle, bool)
	Register(connID, deviceID string, reg Registration) (authCode string, result byte)
	Authenticate(connID, deviceID, authCode string) bool
	Unbind(connID string)
}

// PositionSink consumes decoded positions.
type PositionSink interface {
	PositionReceived(pos *model.Position)
}

// Sender writes outbound frames to one connection.
type Sender interface {
	Send(frame []byte) error
}

// ackPolicy controls when the generic 0x8001 acknowledgment is emitted
// relative to the type-specific handler.
type ackPolicy int

const (
	ackAfter    ackPolicy = iota // handler first, then generic ack
	ackBefore                    // generic ack first, then handler
	ackSuppress                  // handler builds its own bespoke reply
)

type handlerFunc func(c *Conn, env *Envelope) error

type handlerEntry struct {
	fn     handlerFunc
	policy ackPolicy
}

// Dispatcher routes parsed envelopes to per-type handlers through a lookup
// table; adding a message type never touches the dispatch loop. All handler
// failures are absorbed here: one malformed message must not cost a
// multi-hour device session.
type Dispatcher struct {
	registry SessionRegistry
	events   PositionSink
	media    *MediaStore
	tracker  *CorrelationTracker
	location *LocationDecoder
	handlers map[uint16]handlerEntry
	log      zerolog.Logger
}

func NewDispatcher(registry SessionRegistry, events PositionSink, media *MediaStore, tracker *CorrelationTracker, location *LocationDecoder) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		events:   events,
		media:    media,
		tracker:  tracker,
		location: location,
		log:      log.With().Str("mod", "jt808.dispatch").Logger(),
	}
	d.handlers = map[uint16]handlerEntry{
		MsgTerminalAck:         {fn: nil, policy: ackSuppress}, // acks are not acked
		MsgHeartbeat:           {fn: nil, policy: ackAfter},
		MsgUnregister:          {fn: (*Conn).handleUnregister, policy: ackAfter},
		MsgRegister:            {fn: (*Conn).handleRegister, policy: ackSuppress},
		MsgAuthenticate:        {fn: (*Conn).handleAuthenticate, policy: ackAfter},
		MsgQueryParamsAck:      {fn: nil, policy: ackAfter},
		MsgQueryAttributesAck:  {fn: nil, policy: ackAfter},
		MsgUpgradeResult:       {fn: nil, policy: ackAfter},
		MsgLocationReport:      {fn: (*Conn).handleLocation, policy: ackBefore},
		MsgLocationQueryAck:    {fn: (*Conn).handleLocationQueryAck, policy: ackAfter},
		MsgEventReport:         {fn: nil, policy: ackAfter},
		MsgInfoDemand:          {fn: nil, policy: ackAfter},
		MsgVehicleControlAck:   {fn: nil, policy: ackAfter},
		MsgDrivingRecordUpload: {fn: nil, policy: ackAfter},
		MsgWaybillReport:       {fn: nil, policy: ackAfter},
		MsgDriverIdentity:      {fn: nil, policy: ackAfter},
		MsgBatchLocationUpload: {fn: (*Conn).handleBatchLocation, policy: ackBefore},
		MsgCANDataUpload:       {fn: nil, policy: ackAfter},
		MsgMultimediaEvent:     {fn: (*Conn).handleMultimediaEvent, policy: ackAfter},
		MsgMultimediaUpload:    {fn: (*Conn).handleMultimediaUpload, policy: ackSuppress},
		MsgStoredMediaQueryAck: {fn: nil, policy: ackAfter},
		MsgCameraCaptureAck:    {fn: (*Conn).handleCameraCaptureAck, policy: ackAfter},
		MsgDataUplink:          {fn: nil, policy: ackAfter},
		MsgAVAttributesAck:     {fn: nil, policy: ackAfter},
		MsgPassengerFlow:       {fn: nil, policy: ackAfter},
		MsgAVResourceListAck:   {fn: nil, policy: ackAfter},
		MsgAlarmAttachmentInfo: {fn: (*Conn).handleAlarmAttachmentInfo, policy: ackAfter},
		MsgFileInfoUpload:      {fn: (*Conn).handleFileInfoUpload, policy: ackAfter},
		MsgFileUploadComplete:  {fn: (*Conn).handleFileUploadComplete, policy: ackSuppress},
	}
	return d
}

// Conn is the per-connection pipeline: synchronizer → envelope codec →
// dispatch, strictly sequential per arriving chunk of bytes. The two-state
// auth machine lives here; the media store and correlation tracker are shared
// across connections.
type Conn struct {
	id      string
	d       *Dispatcher
	sync    *Synchronizer
	sender  Sender
	session *SessionHandle // nil until the device identity resolves
}

// NewConn binds a dispatcher to one connection.
func (d *Dispatcher) NewConn(id string, sender Sender) *Conn {
	return &Conn{id: id, d: d, sync: NewSynchronizer(), sender: sender}
}

// Close releases the connection's session binding.
func (c *Conn) Close() {
	if c.session != nil {
		c.d.registry.Unbind(c.id)
		c.session = nil
	}
}

// DeviceID returns the bound device identity, or "" while unauthenticated.
func (c *Conn) DeviceID() string {
	if c.session == nil {
		return ""
	}
	return c.session.DeviceID
}

// HandleBytes feeds received bytes through the pipeline, draining every
// complete unit currently buffered.
func (c *Conn) HandleBytes(p []byte) {
	c.sync.Feed(p)
	for {
		frame, bulk := c.sync.Next()
		if frame == nil && bulk == nil {
			return
		}
		if bulk != nil {
			c.d.media.HandleBulkPacket(bulk, c.DeviceID())
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Conn) handleFrame(frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		// Integrity failures are dropped silently: no ack, connection stays
		// open. Device tolerance, not an error to propagate.
		evt := c.d.log.Debug().Str("conn", c.id).Err(err)
		if env != nil {
			evt = evt.Str("device", env.DeviceID)
		}
		evt.Msg("frame dropped")
		return
	}

	if c.session == nil && !c.bind(env) {
		return
	}

	entry, known := c.d.handlers[env.MsgID]
	if !known {
		// Devices must not be left waiting on ids we do not speak.
		c.ack(env, AckSuccess)
		c.d.log.Debug().Str("device", env.DeviceID).
			Str("msg", fmt.Sprintf("0x%04x", env.MsgID)).Msg("unknown message id")
		return
	}

	if entry.policy == ackBefore {
		c.ack(env, AckSuccess)
	}
	if entry.fn != nil {
		if err := entry.fn(c, env); err != nil {
			c.d.log.Warn().Err(err).Str("device", env.DeviceID).
				Str("msg", fmt.Sprintf("0x%04x", env.MsgID)).Msg("handler failed")
			if entry.policy == ackAfter {
				c.ack(env, AckFailure)
			}
			return
		}
	}
	if entry.policy == ackAfter {
		c.ack(env, AckSuccess)
	}
}

// bind drives the unauthenticated → bound transition. Registration and
// authentication are the only messages accepted before a device identity
// resolves; everything else is ignored.
func (c *Conn) bind(env *Envelope) bool {
	if handle, ok := c.d.registry.Resolve(c.id, env.DeviceID); ok {
		c.session = &handle
		return true
	}
	if env.MsgID == MsgRegister || env.MsgID == MsgAuthenticate {
		return true // handled unauthenticated; handler completes the binding
	}
	c.d.log.Debug().Str("conn", c.id).Str("device", env.DeviceID).
		Str("msg", fmt.Sprintf("0x%04x", env.MsgID)).Msg("ignoring message before authentication")
	return false
}

// ack emits the generic platform acknowledgment referencing the original
// message id and sequence.
func (c *Conn) ack(env *Envelope, result byte) {
	body := make([]byte, 5)
	binary.BigEndian.PutUint16(body[0:2], env.Seq)
	binary.BigEndian.PutUint16(body[2:4], env.MsgID)
	body[4] = result
	c.send(EncodeFrame(MsgPlatformAck, env.DeviceID, nextSeq(), body, c.shortIndex()))
}

func (c *Conn) send(frame []byte) {
	if frame == nil {
		return
	}
	if err := c.sender.Send(frame); err != nil {
		c.d.log.Warn().Err(err).Str("conn", c.id).Msg("send failed")
	}
}

func (c *Conn) shortIndex() bool {
	return c.session != nil && c.session.ShortIndex
}

func (c *Conn) handleRegister(env *Envelope) error {
	reg, err := decodeRegistration(env.Body)
	if err != nil {
		return err
	}
	authCode, result := c.d.registry.Register(c.id, env.DeviceID, reg)

	// Bespoke 0x8100 reply; the generic ack is suppressed for registration.
	body := make([]byte, 3, 3+len(authCode))
	binary.BigEndian.PutUint16(body[0:2], env.Seq)
	body[2] = result
	if result == RegOK {
		body = append(body, authCode...)
	}
	c.send(EncodeFrame(MsgRegisterReply, env.DeviceID, nextSeq(), body, c.shortIndex()))

	if result == RegOK {
		if handle, ok := c.d.registry.Resolve(c.id, env.DeviceID); ok {
			c.session = &handle
		}
	}
	return nil
}

func (c *Conn) handleAuthenticate(env *Envelope) error {
	code := strings.TrimRight(string(env.Body), "\x00")
	if !c.d.registry.Authenticate(c.id, env.DeviceID, code) {
		return fmt.Errorf("authentication rejected for %s", env.DeviceID)
	}
	if handle, ok := c.d.registry.Resolve(c.id, env.DeviceID); ok {
		c.session = &handle
	}
	return nil
}

func (c *Conn) handleUnregister(env *Envelope) error {
	c.d.registry.Unbind(c.id)
	c.session = nil
	return nil
}

func (c *Conn) handleLocation(env *Envelope) error {
	pos, outbound, err := c.d.location.Decode(env)
	if err != nil {
		return err
	}
	c.d.events.PositionReceived(pos)
	for _, frame := range outbound {
		c.send(frame)
	}
	return nil
}

// handleLocationQueryAck parses a 0x0201 reply: the echoed request sequence
// followed by a full location body.
func (c *Conn) handleLocationQueryAck(env *Envelope) error {
	if len(env.Body) < 2 {
		return fmt.Errorf("location query ack too short")
	}
	inner := *env
	inner.Body = env.Body[2:]
	return c.handleLocation(&inner)
}

func (c *Conn) handleBatchLocation(env *Envelope) error {
	positions, outbound, err := c.d.location.DecodeBatch(env)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		c.d.events.PositionReceived(pos)
	}
	for _, frame := range outbound {
		c.send(frame)
	}
	return nil
}

func (c *Conn) handleMultimediaEvent(env *Envelope) error {
	if len(env.Body) < 8 {
		return fmt.Errorf("multimedia event too short")
	}
	c.d.log.Info().Str("device", env.DeviceID).
		Uint32("media", binary.BigEndian.Uint32(env.Body[0:4])).
		Uint8("event", env.Body[6]).Msg("multimedia event")
	return nil
}

func (c *Conn) handleMultimediaUpload(env *Envelope) error {
	file, err := c.d.media.HandleUploadChunk(env)
	if err != nil {
		// Reassembly anomaly: acknowledge the control message, no media
		// result.
		c.ack(env, AckSuccess)
		return err
	}
	if file == nil {
		return nil // mid-transfer chunk, nothing to say yet
	}
	body := make([]byte, 5)
	binary.BigEndian.PutUint32(body[0:4], file.MediaID)
	body[4] = 0 // no retransmission requests
	c.send(EncodeFrame(MsgMultimediaUploadAck, env.DeviceID, nextSeq(), body, c.shortIndex()))
	return nil
}

// handleCameraCaptureAck records the media ids the device enumerated for the
// latest capture so later uploads can be correlated to their alarm.
func (c *Conn) handleCameraCaptureAck(env *Envelope) error {
	if len(env.Body) < 5 {
		return fmt.Errorf("capture ack too short")
	}
	if env.Body[2] != 0 {
		return nil // capture failed, nothing to expect
	}
	count := int(binary.BigEndian.Uint16(env.Body[3:5]))
	ids := make([]uint32, 0, count)
	rest := env.Body[5:]
	for i := 0; i < count && len(rest) >= 4; i++ {
		ids = append(ids, binary.BigEndian.Uint32(rest[0:4]))
		rest = rest[4:]
	}
	if len(ids) > 0 {
		c.d.tracker.AttachExpectedMedia(env.DeviceID, ids)
	}
	return nil
}

// handleAlarmAttachmentInfo records the attachment catalog announced for an
// alarm (0x1210): each item carries a filename and its declared size.
func (c *Conn) handleAlarmAttachmentInfo(env *Envelope) error {
	body := env.Body
	if len(body) < 7+16+32+1 {
		return fmt.Errorf("alarm attachment info too short")
	}
	rest := body[7+16+32+1:]
	for len(rest) >= 1 {
		nameLen := int(rest[0])
		if len(rest) < 1+nameLen+4 {
			break
		}
		name := string(rest[1 : 1+nameLen])
		size := int(binary.BigEndian.Uint32(rest[1+nameLen : 5+nameLen]))
		c.d.media.RecordDeclaredSize(env.DeviceID, name, size)
		rest = rest[5+nameLen:]
	}
	return nil
}

// handleFileInfoUpload records the declared size of one bulk-path file
// (0x1211); completion validation compares against it.
func (c *Conn) handleFileInfoUpload(env *Envelope) error {
	name, size, err := decodeFileInfo(env.Body)
	if err != nil {
		return err
	}
	c.d.media.RecordDeclaredSize(env.DeviceID, name, size)
	return nil
}

// handleFileUploadComplete finalizes a bulk transfer (0x1212) and answers
// with the bespoke 0x9212 reply.
func (c *Conn) handleFileUploadComplete(env *Envelope) error {
	name, _, err := decodeFileInfo(env.Body)
	if err != nil {
		return err
	}
	file, err := c.d.media.CompleteBulkTransfer(env.DeviceID, name)
	if err != nil {
		c.ack(env, AckSuccess)
		return err
	}

	result := byte(0x00)
	if file.Incomplete {
		result = 0x01
	}
	body := make([]byte, 0, 2+len(name)+2)
	body = append(body, byte(len(name)))
	body = append(body, name...)
	body = append(body, 0x00) // file type echo
	body = append(body, result)
	c.send(EncodeFrame(MsgFileUploadCompleteAck, env.DeviceID, nextSeq(), body, c.shortIndex()))
	return nil
}

func decodeRegistration(body []byte) (Registration, error) {
	if len(body) < 37 {
		return Registration{}, fmt.Errorf("registration body too short: %d", len(body))
	}
	return Registration{
		ProvinceID:   binary.BigEndian.Uint16(body[0:2]),
		CityID:       binary.BigEndian.Uint16(body[2:4]),
		Manufacturer: strings.TrimRight(string(body[4:9]), "\x00"),
		Model:        strings.TrimRight(string(body[9:29]), "\x00"),
		TerminalID:   strings.TrimRight(string(body[29:36]), "\x00"),
		PlateColor:   body[36],
		Plate:        string(body[37:]),
	}, nil
}

// decodeFileInfo parses the {nameLen, name, type, size} layout shared by
// 0x1211 and 0x1212.
func decodeFileInfo(body []byte) (name string, size int, err error) {
	if len(body) < 1 {
		return "", 0, fmt.Errorf("file info body empty")
	}
	nameLen := int(body[0])
	if len(body) < 1+nameLen+5 {
		return "", 0, fmt.Errorf("file info body too short")
	}
	name = string(body[1 : 1+nameLen])
	size = int(binary.BigEndian.Uint32(body[2+nameLen : 6+nameLen]))
	return name, size, nil
}
