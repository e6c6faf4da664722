package jt808

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// locationBody assembles a 0x0200 body from its fixed prefix plus an optional
// additional-information suffix.
func locationBody(alarm, status, latRaw, lonRaw uint32, alt, speed, course uint16, ts string, extras []byte) []byte {
	body := make([]byte, 22)
	binary.BigEndian.PutUint32(body[0:4], alarm)
	binary.BigEndian.PutUint32(body[4:8], status)
	binary.BigEndian.PutUint32(body[8:12], latRaw)
	binary.BigEndian.PutUint32(body[12:16], lonRaw)
	binary.BigEndian.PutUint16(body[16:18], alt)
	binary.BigEndian.PutUint16(body[18:20], speed)
	binary.BigEndian.PutUint16(body[20:22], course)
	body = append(body, stringToBCD(ts)...)
	return append(body, extras...)
}

// decodeWire unwraps an outbound frame back into its envelope.
func decodeWire(t *testing.T, wire []byte) *Envelope {
	t.Helper()
	s := NewSynchronizer()
	s.Feed(wire)
	frame, _ := s.Next()
	if frame == nil {
		t.Fatalf("no frame in wire bytes % x", wire)
	}
	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("decode outbound frame: %v", err)
	}
	return env
}

func newTestDecoder(shim bool) (*LocationDecoder, *CorrelationTracker) {
	tracker := NewCorrelationTracker()
	d := NewLocationDecoder(tracker, CallbackServer{Host: "203.0.113.5", TCPPort: 7100, UDPPort: 7100}, shim)
	return d, tracker
}

func TestDecodeLocation(t *testing.T) {
	d, _ := newTestDecoder(false)

	tests := []struct {
		name     string
		body     []byte
		wantLat  float64
		wantLon  float64
		wantSpd  float64
		valid    bool
		ignition bool
	}{
		{
			name:     "northern eastern fix",
			body:     locationBody(0, statusFixValid|statusIgnition, 31234567, 121456789, 42, 1000, 90, "250110083000", nil),
			wantLat:  31.234567,
			wantLon:  121.456789,
			wantSpd:  53.9957,
			valid:    true,
			ignition: true,
		},
		{
			name:    "southern western fix",
			body:    locationBody(0, statusFixValid|statusSouthLat|statusWestLon, 31234567, 121456789, 0, 0, 0, "250110083000", nil),
			wantLat: -31.234567,
			wantLon: -121.456789,
			valid:   true,
		},
		{
			name: "no fix",
			body: locationBody(0, 0, 0, 0, 0, 0, 0, "250110083000", nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, outbound, err := d.Decode(&Envelope{DeviceID: "013812345678", Body: tt.body})
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !almostEqual(pos.Latitude, tt.wantLat) || !almostEqual(pos.Longitude, tt.wantLon) {
				t.Errorf("lat/lon = %f/%f, want %f/%f", pos.Latitude, pos.Longitude, tt.wantLat, tt.wantLon)
			}
			if !almostEqual(pos.Speed, tt.wantSpd) {
				t.Errorf("speed = %f knots, want %f", pos.Speed, tt.wantSpd)
			}
			if pos.Valid != tt.valid || pos.Ignition != tt.ignition {
				t.Errorf("valid/ignition = %v/%v, want %v/%v", pos.Valid, pos.Ignition, tt.valid, tt.ignition)
			}
			if len(outbound) != 0 {
				t.Errorf("%d outbound frames for alarm-free report", len(outbound))
			}
			want := time.Date(2025, 1, 10, 8, 30, 0, 0, protocolZone)
			if !pos.Timestamp.Equal(want) {
				t.Errorf("timestamp = %v, want %v", pos.Timestamp, want)
			}
		})
	}
}

func TestDecodeLocationExtras(t *testing.T) {
	d, _ := newTestDecoder(false)

	extras := []byte{
		0x01, 0x04, 0x00, 0x12, 0xD6, 0x80, // odometer: 1234560 -> 123456.0 km
		0x54, 0x03, 0xAA, 0xBB, 0xCC, // unknown sub-id, skipped by length
		0x31, 0x01, 0x0C, // satellites: 12
	}
	body := locationBody(0, statusFixValid, 31234567, 121456789, 0, 0, 0, "250110083000", extras)

	pos, _, err := d.Decode(&Envelope{DeviceID: "013812345678", Body: body})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !almostEqual(pos.Odometer, 123456.0) {
		t.Errorf("odometer = %f, want 123456.0", pos.Odometer)
	}
	if pos.Satellites != 12 {
		t.Errorf("satellites = %d after unknown sub-record, want 12", pos.Satellites)
	}
}

func TestDecodeLocationAlarmWord(t *testing.T) {
	d, _ := newTestDecoder(false)

	body := locationBody(1<<0|1<<31, statusFixValid, 31234567, 121456789, 0, 0, 0, "250110083000", nil)
	pos, outbound, err := d.Decode(&Envelope{DeviceID: "013812345678", Body: body})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tags := map[string]bool{}
	for _, a := range pos.Alarms {
		tags[a] = true
	}
	if !tags["sos"] || !tags["collisionRollover"] {
		t.Errorf("alarms = %v, want sos and collisionRollover", pos.Alarms)
	}
	if len(outbound) != 1 {
		t.Fatalf("%d outbound frames, want 1 capture request", len(outbound))
	}
	if env := decodeWire(t, outbound[0]); env.MsgID != MsgCameraCapture {
		t.Errorf("outbound msg = 0x%04x, want 0x8801", env.MsgID)
	}
}

func dsmRecord(alarmID uint32, alarmType byte) []byte {
	rec := make([]byte, 7)
	binary.BigEndian.PutUint32(rec[0:4], alarmID)
	rec[4] = 0x00 // status
	rec[5] = alarmType
	rec[6] = 0x01 // level
	return append([]byte{extDSMAlarm, byte(len(rec))}, rec...)
}

func TestAlarmClassification(t *testing.T) {
	tests := []struct {
		name         string
		alarmType    byte
		wantAlarms   int
		wantOutbound int
		wantTracked  int
	}{
		{name: "type 0x00 is a monitoring heartbeat", alarmType: 0x00},
		{name: "type 0x02 is a genuine alarm", alarmType: 0x02, wantAlarms: 1, wantOutbound: 2, wantTracked: 1},
		{name: "type 0x10 is an informational event", alarmType: 0x10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, tracker := newTestDecoder(false)
			body := locationBody(0, statusFixValid, 31234567, 121456789, 0, 0, 0, "250110083000", dsmRecord(42, tt.alarmType))

			pos, outbound, err := d.Decode(&Envelope{DeviceID: "013812345678", Body: body})
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(pos.Alarms) != tt.wantAlarms {
				t.Errorf("alarms = %v, want %d entries", pos.Alarms, tt.wantAlarms)
			}
			if len(outbound) != tt.wantOutbound {
				t.Errorf("%d outbound frames, want %d", len(outbound), tt.wantOutbound)
			}
			if tracker.Len() != tt.wantTracked {
				t.Errorf("%d correlations, want %d", tracker.Len(), tt.wantTracked)
			}
			if tt.alarmType == 0x10 && pos.Status["dsmEvent"] != "autoCapture" {
				t.Errorf("dsmEvent status = %v, want autoCapture", pos.Status["dsmEvent"])
			}
		})
	}
}

func TestAlarmAttachmentRequest(t *testing.T) {
	d, tracker := newTestDecoder(false)
	body := locationBody(0, statusFixValid, 31234567, 121456789, 0, 0, 0, "250110083000", dsmRecord(42, 0x02))

	_, outbound, err := d.Decode(&Envelope{DeviceID: "013812345678", Body: body})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(outbound) != 2 {
		t.Fatalf("%d outbound frames, want attachment request + capture", len(outbound))
	}

	env := decodeWire(t, outbound[0])
	if env.MsgID != MsgAttachmentUploadReq {
		t.Fatalf("first outbound msg = 0x%04x, want 0x9208", env.MsgID)
	}
	ipLen := int(env.Body[0])
	if got := string(env.Body[1 : 1+ipLen]); got != "203.0.113.5" {
		t.Errorf("callback server = %q", got)
	}
	number := string(env.Body[1+ipLen+4+16 : 1+ipLen+4+16+32])

	corr := tracker.Get("013812345678", 42)
	if corr == nil {
		t.Fatal("no correlation for alarm 42")
	}
	if corr.AlarmType != "phoneCall" {
		t.Errorf("alarm type = %q, want phoneCall", corr.AlarmType)
	}
	if corr.AlarmNumber != number {
		t.Errorf("wire alarm number %q != tracked %q", number, corr.AlarmNumber)
	}
}

func TestAlarmNumbersUnique(t *testing.T) {
	d, tracker := newTestDecoder(false)
	for _, id := range []uint32{1, 2} {
		body := locationBody(0, statusFixValid, 31234567, 121456789, 0, 0, 0, "250110083000", dsmRecord(id, 0x03))
		if _, _, err := d.Decode(&Envelope{DeviceID: "013812345678", Body: body}); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	a, b := tracker.Get("013812345678", 1), tracker.Get("013812345678", 2)
	if a == nil || b == nil {
		t.Fatal("missing correlations")
	}
	if a.AlarmNumber == b.AlarmNumber {
		t.Errorf("alarm numbers collide: %q", a.AlarmNumber)
	}
}

func TestMultimediaEventShim(t *testing.T) {
	extras := []byte{extMultimediaEvent, 0x08, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x02, 0x01}
	body := locationBody(0, statusFixValid, 31234567, 121456789, 0, 0, 0, "250110083000", extras)

	// Shim disabled: the record is ignored.
	d, tracker := newTestDecoder(false)
	_, outbound, _ := d.Decode(&Envelope{DeviceID: "013812345678", Body: body})
	if len(outbound) != 0 || tracker.Len() != 0 {
		t.Fatalf("shim disabled but outbound=%d tracked=%d", len(outbound), tracker.Len())
	}

	// Shim enabled: synthetic alarm keyed by the media id.
	d, tracker = newTestDecoder(true)
	_, outbound, _ = d.Decode(&Envelope{DeviceID: "013812345678", Body: body})
	if len(outbound) != 1 {
		t.Fatalf("%d outbound frames, want 1 attachment request", len(outbound))
	}
	if env := decodeWire(t, outbound[0]); env.MsgID != MsgAttachmentUploadReq {
		t.Errorf("outbound msg = 0x%04x, want 0x9208", env.MsgID)
	}
	if tracker.Get("013812345678", 9) == nil {
		t.Error("no synthetic correlation for media id 9")
	}
}

func TestDecodeBatch(t *testing.T) {
	d, _ := newTestDecoder(false)

	one := locationBody(0, statusFixValid, 31234567, 121456789, 0, 100, 0, "250110083000", nil)
	two := locationBody(0, statusFixValid, 31234600, 121456800, 0, 200, 0, "250110083100", nil)

	body := []byte{0x00, 0x02, 0x00} // count 2, type: normal batch
	for _, item := range [][]byte{one, two} {
		body = append(body, byte(len(item)>>8), byte(len(item)))
		body = append(body, item...)
	}

	positions, outbound, err := d.DecodeBatch(&Envelope{DeviceID: "013812345678", Body: body})
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("%d positions, want 2", len(positions))
	}
	if len(outbound) != 0 {
		t.Errorf("%d outbound frames for alarm-free batch", len(outbound))
	}
	if !almostEqual(positions[1].Latitude, 31.2346) {
		t.Errorf("second latitude = %f", positions[1].Latitude)
	}
}
