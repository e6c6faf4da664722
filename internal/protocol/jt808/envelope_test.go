package jt808

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		want    *Envelope
		wantErr error
	}{
		{
			name: "heartbeat",
			frame: []byte{
				0x00, 0x02, // msg id
				0x00, 0x00, // attributes: empty body
				0x49, 0x60, 0x76, 0x89, 0x89, 0x91, // device id BCD
				0x00, 0x2D, // sequence
				0xE1, // checksum
			},
			want: &Envelope{
				MsgID:    MsgHeartbeat,
				DeviceID: "496076898991",
				Seq:      45,
				Body:     []byte{},
			},
		},
		{
			name: "sub-package fields precede device id",
			frame: func() []byte {
				content := []byte{
					0x08, 0x01, // msg id
					0x20, 0x02, // attributes: sub-package flag, body len 2
					0x00, 0x03, // total packages
					0x00, 0x01, // package index
					0x01, 0x23, 0x45, 0x67, 0x89, 0x01, // device id
					0x00, 0x10, // sequence
					0xAA, 0xBB, // body
				}
				return append(content, xorChecksum(content))
			}(),
			want: &Envelope{
				MsgID:      MsgMultimediaUpload,
				SubPackage: true,
				SubTotal:   3,
				SubIndex:   1,
				DeviceID:   "012345678901",
				Seq:        16,
				Body:       []byte{0xAA, 0xBB},
			},
		},
		{
			name:    "too short",
			frame:   []byte{0x00, 0x02, 0x00, 0x00, 0x49},
			wantErr: ErrFrameTooShort,
		},
		{
			name: "flipped checksum",
			frame: []byte{
				0x00, 0x02, 0x00, 0x00,
				0x49, 0x60, 0x76, 0x89, 0x89, 0x91,
				0x00, 0x2D,
				0xE2,
			},
			wantErr: ErrChecksumMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEnvelope(tt.frame)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.want == nil {
				return
			}
			if got.MsgID != tt.want.MsgID {
				t.Errorf("msg id = 0x%04x, want 0x%04x", got.MsgID, tt.want.MsgID)
			}
			if got.DeviceID != tt.want.DeviceID {
				t.Errorf("device = %q, want %q", got.DeviceID, tt.want.DeviceID)
			}
			if got.Seq != tt.want.Seq {
				t.Errorf("seq = %d, want %d", got.Seq, tt.want.Seq)
			}
			if got.SubPackage != tt.want.SubPackage ||
				got.SubTotal != tt.want.SubTotal || got.SubIndex != tt.want.SubIndex {
				t.Errorf("sub-package = %v %d/%d, want %v %d/%d",
					got.SubPackage, got.SubIndex, got.SubTotal,
					tt.want.SubPackage, tt.want.SubIndex, tt.want.SubTotal)
			}
			if !bytes.Equal(got.Body, tt.want.Body) {
				t.Errorf("body = % x, want % x", got.Body, tt.want.Body)
			}
		})
	}
}

func TestDecodeEnvelopeEncrypted(t *testing.T) {
	content := []byte{
		0x02, 0x00, // msg id
		0x04, 0x01, // attributes: encryption mode 1, body len 1
		0x01, 0x23, 0x45, 0x67, 0x89, 0x01,
		0x00, 0x01,
		0x5A, // body
	}
	frame := append(content, xorChecksum(content))

	env, err := DecodeEnvelope(frame)
	if !errors.Is(err, ErrUnsupportedEncryption) {
		t.Fatalf("err = %v, want ErrUnsupportedEncryption", err)
	}
	if env == nil || env.DeviceID != "012345678901" {
		t.Fatalf("envelope should still carry the device id, got %+v", env)
	}
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	// Body containing both bytes the escape transform rewrites.
	body := []byte{0x7E, 0x7D, 0x00, 0xFF}
	wire := EncodeFrame(MsgPlatformAck, "496076898991", 0x1234, body, false)

	if wire[0] != 0x7E || wire[len(wire)-1] != 0x7E {
		t.Fatalf("frame not delimited: % x", wire)
	}
	for _, b := range wire[1 : len(wire)-1] {
		if b == 0x7E {
			t.Fatalf("unescaped delimiter inside frame: % x", wire)
		}
	}

	s := NewSynchronizer()
	s.Feed(wire)
	frame, _ := s.Next()
	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.MsgID != MsgPlatformAck || env.DeviceID != "496076898991" || env.Seq != 0x1234 {
		t.Errorf("header round trip: %+v", env)
	}
	if !bytes.Equal(env.Body, body) {
		t.Errorf("body = % x, want % x", env.Body, body)
	}
}

func TestEncodeFrameShortIndex(t *testing.T) {
	wire := EncodeFrame(MsgSetParams, "13012345678", 0x0299, nil, true)

	s := NewSynchronizer()
	s.Feed(wire)
	frame, _ := s.Next()

	// Short-index frames carry one index byte: header is 11 bytes + checksum.
	if len(frame) != 12 {
		t.Fatalf("frame length = %d, want 12", len(frame))
	}
	if frame[10] != 0x99 {
		t.Errorf("index byte = 0x%02x, want 0x99", frame[10])
	}
}
