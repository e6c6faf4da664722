package jt808

import (
	"encoding/binary"
	"testing"

	"fleettrack/internal/core/model"
)

type frameSender struct {
	frames [][]byte
}

func (f *frameSender) Send(p []byte) error {
	f.frames = append(f.frames, p)
	return nil
}

// stubRegistry backs sessions with a known-device set and a fixed auth code.
type stubRegistry struct {
	known    map[string]bool
	authCode string
	unbinds  int
}

func newStubRegistry(devices ...string) *stubRegistry {
	r := &stubRegistry{known: make(map[string]bool), authCode: "AUTH42"}
	for _, d := range devices {
		r.known[d] = true
	}
	return r
}

func (r *stubRegistry) Resolve(connID, deviceID string) (SessionHandle, bool) {
	if !r.known[deviceID] {
		return SessionHandle{}, false
	}
	return SessionHandle{DeviceID: deviceID}, true
}

func (r *stubRegistry) Register(connID, deviceID string, reg Registration) (string, byte) {
	r.known[deviceID] = true
	return r.authCode, RegOK
}

func (r *stubRegistry) Authenticate(connID, deviceID, code string) bool {
	if code != r.authCode {
		return false
	}
	r.known[deviceID] = true
	return true
}

func (r *stubRegistry) Unbind(connID string) { r.unbinds++ }

type positionRecorder struct {
	positions []*model.Position
}

func (p *positionRecorder) PositionReceived(pos *model.Position) {
	p.positions = append(p.positions, pos)
}

func newTestConn(devices ...string) (*Conn, *frameSender, *positionRecorder, *stubRegistry) {
	registry := newStubRegistry(devices...)
	sink := &positionRecorder{}
	tracker := NewCorrelationTracker()
	media := NewMediaStore(newMemorySink(), &recordingEvents{}, tracker)
	location := NewLocationDecoder(tracker, CallbackServer{Host: "203.0.113.5", TCPPort: 7100, UDPPort: 7100}, false)

	d := NewDispatcher(registry, sink, media, tracker, location)
	sender := &frameSender{}
	return d.NewConn("conn-1", sender), sender, sink, registry
}

const testDevice = "013812345678"

func TestDispatchHeartbeat(t *testing.T) {
	conn, sender, sink, _ := newTestConn(testDevice)

	conn.HandleBytes(EncodeFrame(MsgHeartbeat, testDevice, 45, nil, false))

	if len(sender.frames) != 1 {
		t.Fatalf("%d frames sent, want exactly one generic ack", len(sender.frames))
	}
	env := decodeWire(t, sender.frames[0])
	if env.MsgID != MsgPlatformAck {
		t.Fatalf("reply msg = 0x%04x, want 0x8001", env.MsgID)
	}
	if seq := binary.BigEndian.Uint16(env.Body[0:2]); seq != 45 {
		t.Errorf("echoed seq = %d, want 45", seq)
	}
	if id := binary.BigEndian.Uint16(env.Body[2:4]); id != MsgHeartbeat {
		t.Errorf("echoed msg id = 0x%04x", id)
	}
	if env.Body[4] != AckSuccess {
		t.Errorf("result = 0x%02x", env.Body[4])
	}
	if len(sink.positions) != 0 {
		t.Errorf("heartbeat produced %d positions", len(sink.positions))
	}
}

func TestDispatchBadChecksumDropped(t *testing.T) {
	conn, sender, _, _ := newTestConn(testDevice)

	wire := EncodeFrame(MsgHeartbeat, testDevice, 45, nil, false)
	wire[len(wire)-2] ^= 0xFF // corrupt the checksum byte

	conn.HandleBytes(wire)
	if len(sender.frames) != 0 {
		t.Fatalf("%d frames sent for corrupt frame, want silent drop", len(sender.frames))
	}
}

func TestDispatchUnknownMessageAcked(t *testing.T) {
	conn, sender, _, _ := newTestConn(testDevice)

	conn.HandleBytes(EncodeFrame(0x0F00, testDevice, 1, []byte{0x01}, false))
	if len(sender.frames) != 1 {
		t.Fatalf("%d frames, want one ack for the unknown id", len(sender.frames))
	}
	env := decodeWire(t, sender.frames[0])
	if env.MsgID != MsgPlatformAck {
		t.Errorf("reply msg = 0x%04x", env.MsgID)
	}
}

func TestDispatchIgnoresUnauthenticated(t *testing.T) {
	conn, sender, sink, _ := newTestConn() // empty registry

	body := locationBody(0, statusFixValid, 31234567, 121456789, 0, 0, 0, "250110083000", nil)
	conn.HandleBytes(EncodeFrame(MsgLocationReport, testDevice, 1, body, false))

	if len(sender.frames) != 0 || len(sink.positions) != 0 {
		t.Fatalf("frames=%d positions=%d from unauthenticated device, want none",
			len(sender.frames), len(sink.positions))
	}
}

func TestDispatchRegistration(t *testing.T) {
	conn, sender, _, _ := newTestConn() // device unknown until it registers

	body := make([]byte, 37)
	copy(body[4:9], "MFGR1")
	copy(body[9:29], "MODEL-X")
	copy(body[29:36], "T123456")
	body = append(body, "B-1234"...)

	conn.HandleBytes(EncodeFrame(MsgRegister, testDevice, 9, body, false))

	if len(sender.frames) != 1 {
		t.Fatalf("%d frames, want one registration reply", len(sender.frames))
	}
	env := decodeWire(t, sender.frames[0])
	if env.MsgID != MsgRegisterReply {
		t.Fatalf("reply msg = 0x%04x, want 0x8100", env.MsgID)
	}
	if seq := binary.BigEndian.Uint16(env.Body[0:2]); seq != 9 {
		t.Errorf("echoed seq = %d", seq)
	}
	if env.Body[2] != RegOK {
		t.Errorf("result = 0x%02x", env.Body[2])
	}
	if got := string(env.Body[3:]); got != "AUTH42" {
		t.Errorf("auth code = %q", got)
	}
	if conn.DeviceID() != testDevice {
		t.Errorf("session not bound after registration, device = %q", conn.DeviceID())
	}
}

func TestDispatchAuthentication(t *testing.T) {
	conn, sender, _, _ := newTestConn()

	conn.HandleBytes(EncodeFrame(MsgAuthenticate, testDevice, 2, []byte("AUTH42"), false))
	if conn.DeviceID() != testDevice {
		t.Fatalf("session not bound after authentication")
	}
	if len(sender.frames) != 1 {
		t.Fatalf("%d frames, want one ack", len(sender.frames))
	}
	if env := decodeWire(t, sender.frames[0]); env.Body[4] != AckSuccess {
		t.Errorf("auth ack result = 0x%02x", env.Body[4])
	}
}

func TestDispatchAuthenticationRejected(t *testing.T) {
	conn, sender, _, _ := newTestConn()

	conn.HandleBytes(EncodeFrame(MsgAuthenticate, testDevice, 2, []byte("WRONG"), false))
	if conn.DeviceID() != "" {
		t.Fatal("session bound despite rejected auth code")
	}
	if len(sender.frames) != 1 {
		t.Fatalf("%d frames, want one failure ack", len(sender.frames))
	}
	if env := decodeWire(t, sender.frames[0]); env.Body[4] != AckFailure {
		t.Errorf("result = 0x%02x, want failure", env.Body[4])
	}
}

func TestDispatchLocationReport(t *testing.T) {
	conn, sender, sink, _ := newTestConn(testDevice)

	body := locationBody(0, statusFixValid|statusIgnition, 31234567, 121456789, 42, 1000, 90, "250110083000", nil)
	conn.HandleBytes(EncodeFrame(MsgLocationReport, testDevice, 7, body, false))

	if len(sink.positions) != 1 {
		t.Fatalf("%d positions, want 1", len(sink.positions))
	}
	pos := sink.positions[0]
	if pos.DeviceID != testDevice || !almostEqual(pos.Latitude, 31.234567) {
		t.Errorf("position = %+v", pos)
	}
	if len(sender.frames) != 1 {
		t.Fatalf("%d frames, want the generic ack", len(sender.frames))
	}
	if env := decodeWire(t, sender.frames[0]); env.MsgID != MsgPlatformAck {
		t.Errorf("reply msg = 0x%04x", env.MsgID)
	}
}

func TestDispatchAlarmEmitsRequests(t *testing.T) {
	conn, sender, sink, _ := newTestConn(testDevice)

	body := locationBody(0, statusFixValid, 31234567, 121456789, 0, 0, 0, "250110083000", dsmRecord(42, 0x02))
	conn.HandleBytes(EncodeFrame(MsgLocationReport, testDevice, 7, body, false))

	if len(sink.positions) != 1 {
		t.Fatalf("%d positions", len(sink.positions))
	}
	// Generic ack first, then attachment request and capture request.
	if len(sender.frames) != 3 {
		t.Fatalf("%d frames, want ack + 0x9208 + 0x8801", len(sender.frames))
	}
	wantIDs := []uint16{MsgPlatformAck, MsgAttachmentUploadReq, MsgCameraCapture}
	for i, want := range wantIDs {
		if env := decodeWire(t, sender.frames[i]); env.MsgID != want {
			t.Errorf("frame %d msg = 0x%04x, want 0x%04x", i, env.MsgID, want)
		}
	}
}

func TestDispatchMultimediaUpload(t *testing.T) {
	conn, sender, _, _ := newTestConn(testDevice)

	chunk := uploadChunk(testDevice, 7, 1, 1, []byte{0x01, 0x02, 0x03})
	conn.HandleBytes(EncodeFrame(MsgMultimediaUpload, testDevice, 3, chunk.Body, false))

	// Single-package upload finalizes immediately: one 0x8800, no generic ack.
	if len(sender.frames) != 1 {
		t.Fatalf("%d frames, want one multimedia ack", len(sender.frames))
	}
	env := decodeWire(t, sender.frames[0])
	if env.MsgID != MsgMultimediaUploadAck {
		t.Fatalf("reply msg = 0x%04x, want 0x8800", env.MsgID)
	}
	if id := binary.BigEndian.Uint32(env.Body[0:4]); id != 7 {
		t.Errorf("acked media id = %d", id)
	}
	if env.Body[4] != 0 {
		t.Errorf("retransmit count = %d", env.Body[4])
	}
}

func TestDispatchCaptureAckFeedsCorrelation(t *testing.T) {
	conn, _, _, _ := newTestConn(testDevice)
	tracker := conn.d.tracker
	tracker.Create(testDevice, 42, "phoneCall", "num-1")

	body := make([]byte, 5, 9)
	binary.BigEndian.PutUint16(body[0:2], 1) // echoed seq
	body[2] = 0x00                           // success
	binary.BigEndian.PutUint16(body[3:5], 1) // one media id
	body = append(body, 0x00, 0x00, 0x00, 0x07)

	conn.HandleBytes(EncodeFrame(MsgCameraCaptureAck, testDevice, 4, body, false))

	corr := tracker.FindByMedia(testDevice, 7)
	if corr == nil || corr.AlarmID != 42 {
		t.Fatalf("media 7 not attached to alarm 42: %+v", corr)
	}
}

func TestDispatchFileUploadComplete(t *testing.T) {
	conn, sender, _, _ := newTestConn(testDevice)
	const filename = "64_ALM-013812345678-9-1700000000000.jpg"

	// 0x1211 declares the file, the bulk packet carries the bytes, 0x1212
	// closes it out.
	info := append([]byte{byte(len(filename))}, filename...)
	info = append(info, 0x00, 0x00, 0x00, 0x00, 0x04)
	conn.HandleBytes(EncodeFrame(MsgFileInfoUpload, testDevice, 5, info, false))

	conn.HandleBytes(buildBulkPacket(filename, 0, []byte{1, 2, 3, 4}))

	conn.HandleBytes(EncodeFrame(MsgFileUploadComplete, testDevice, 6, info, false))

	var complete *Envelope
	for _, f := range sender.frames {
		env := decodeWire(t, f)
		if env.MsgID == MsgFileUploadCompleteAck {
			complete = env
		}
	}
	if complete == nil {
		t.Fatal("no 0x9212 reply sent")
	}
	nameLen := int(complete.Body[0])
	if got := string(complete.Body[1 : 1+nameLen]); got != filename {
		t.Errorf("echoed filename = %q", got)
	}
	if result := complete.Body[len(complete.Body)-1]; result != 0x00 {
		t.Errorf("result = 0x%02x, want complete", result)
	}
}

func TestConnCloseUnbinds(t *testing.T) {
	conn, _, _, registry := newTestConn(testDevice)

	conn.HandleBytes(EncodeFrame(MsgHeartbeat, testDevice, 1, nil, false))
	if conn.DeviceID() != testDevice {
		t.Fatal("session not bound")
	}
	conn.Close()
	if registry.unbinds != 1 {
		t.Errorf("unbinds = %d, want 1", registry.unbinds)
	}
	if conn.DeviceID() != "" {
		t.Error("device still bound after close")
	}
}
