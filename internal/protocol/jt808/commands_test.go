package jt808

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Command
		wantMsg  uint16
		wantBody []byte
	}{
		{
			name:     "reboot rides the parameter message",
			cmd:      Command{Type: CmdReboot, DeviceID: "013812345678"},
			wantMsg:  MsgSetParams,
			wantBody: []byte{0x01, 0x00, 0x00, 0x00, 0x23, 0x01, 0x03},
		},
		{
			name:     "report interval",
			cmd:      Command{Type: CmdSetReportInterval, DeviceID: "013812345678", Interval: 30},
			wantMsg:  MsgSetParams,
			wantBody: []byte{0x01, 0x00, 0x00, 0x00, 0x06, 0x04, 0x00, 0x00, 0x00, 0x1E},
		},
		{
			name:     "oil cut",
			cmd:      Command{Type: CmdOilControl, DeviceID: "013812345678", Cut: true},
			wantMsg:  MsgTerminalControl,
			wantBody: []byte{0xF0},
		},
		{
			name:     "oil restore",
			cmd:      Command{Type: CmdOilControl, DeviceID: "013812345678"},
			wantMsg:  MsgTerminalControl,
			wantBody: []byte{0xF1},
		},
		{
			name:     "oil cut alternative encoding",
			cmd:      Command{Type: CmdOilControl, DeviceID: "013812345678", Cut: true, Alternative: true},
			wantMsg:  MsgSetParams,
			wantBody: []byte{0x01, 0x00, 0x00, 0x00, 0xF0, 0x01, 0x01},
		},
		{
			name:     "location query has an empty body",
			cmd:      Command{Type: CmdLocationQuery, DeviceID: "013812345678"},
			wantMsg:  MsgLocationQuery,
			wantBody: []byte{},
		},
		{
			name:     "text message",
			cmd:      Command{Type: CmdTextMessage, DeviceID: "013812345678", Text: "hi"},
			wantMsg:  MsgTextMessage,
			wantBody: []byte{0x01, 'h', 'i'},
		},
		{
			name:    "image capture",
			cmd:     Command{Type: CmdImageCapture, DeviceID: "013812345678"},
			wantMsg: MsgCameraCapture,
			wantBody: []byte{
				0x01, 0x00, 0x00, 0x00, 0x00,
				0x01, 0x01, 0x01,
				0x55, 0x55, 0x55, 0x55,
			},
		},
		{
			name: "live stream start",
			cmd: Command{
				Type: CmdLiveStreamStart, DeviceID: "013812345678",
				Server: "203.0.113.5", TCPPort: 7200, UDPPort: 7201,
				Channel: 2, DataType: 1, StreamType: 0,
			},
			wantMsg: MsgLiveStreamStart,
			wantBody: append(
				append([]byte{11}, "203.0.113.5"...),
				0x1C, 0x20, 0x1C, 0x21, 0x02, 0x01, 0x00,
			),
		},
		{
			name:     "live stream stop",
			cmd:      Command{Type: CmdLiveStreamStop, DeviceID: "013812345678", Channel: 2},
			wantMsg:  MsgLiveStreamControl,
			wantBody: []byte{0x02, 0x00, 0x00, 0x00},
		},
		{
			name:     "ptz rotate",
			cmd:      Command{Type: CmdPTZRotate, DeviceID: "013812345678", Channel: 1, PTZDirection: 3, PTZSpeed: 0x20},
			wantMsg:  MsgPTZRotate,
			wantBody: []byte{0x01, 0x03, 0x20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := EncodeCommand(tt.cmd)
			if wire == nil {
				t.Fatal("no frame encoded")
			}
			env := decodeWire(t, wire)
			if env.MsgID != tt.wantMsg {
				t.Errorf("msg id = 0x%04x, want 0x%04x", env.MsgID, tt.wantMsg)
			}
			if env.DeviceID != "013812345678" {
				t.Errorf("device = %q", env.DeviceID)
			}
			if !bytes.Equal(env.Body, tt.wantBody) {
				t.Errorf("body = % x, want % x", env.Body, tt.wantBody)
			}
		})
	}
}

func TestEncodeCommandUnsupported(t *testing.T) {
	if EncodeCommand(Command{Type: CommandType("selfDestruct"), DeviceID: "013812345678"}) != nil {
		t.Error("unsupported command type must encode to nil")
	}
	if EncodeCommand(Command{Type: CmdSetParam, DeviceID: "013812345678"}) != nil {
		t.Error("setParam without a value must encode to nil")
	}
}

func TestEncodeAttachmentUpload(t *testing.T) {
	var flag [16]byte
	copy(flag[:], []byte{0xDE, 0xAD})
	number := "0123456789abcdef0123456789abcdef"

	wire := EncodeCommand(Command{
		Type: CmdAttachmentUpload, DeviceID: "013812345678",
		Server: "203.0.113.5", TCPPort: 7100, UDPPort: 7101,
		AlarmFlag: flag, AlarmNumber: number,
	})
	env := decodeWire(t, wire)
	if env.MsgID != MsgAttachmentUploadReq {
		t.Fatalf("msg id = 0x%04x", env.MsgID)
	}

	body := env.Body
	ipLen := int(body[0])
	if want := 1 + ipLen + 4 + 16 + 32 + 16; len(body) != want {
		t.Fatalf("body length = %d, want %d", len(body), want)
	}
	if string(body[1:1+ipLen]) != "203.0.113.5" {
		t.Errorf("server = %q", body[1:1+ipLen])
	}
	off := 1 + ipLen
	if body[off] != 0x1B || body[off+1] != 0xBC {
		t.Errorf("tcp port bytes = % x", body[off:off+2])
	}
	if !bytes.Equal(body[off+4:off+20], flag[:]) {
		t.Errorf("alarm flag = % x", body[off+4:off+20])
	}
	if string(body[off+20:off+52]) != number {
		t.Errorf("alarm number = %q", body[off+20:off+52])
	}
}

func TestEncodePlaybackWindow(t *testing.T) {
	start := time.Date(2025, 1, 10, 8, 0, 0, 0, protocolZone)
	end := start.Add(10 * time.Minute)

	wire := EncodeCommand(Command{
		Type: CmdPlayback, DeviceID: "013812345678",
		Server: "203.0.113.5", TCPPort: 7200, UDPPort: 7201,
		Channel: 1, StartTime: start, EndTime: end,
	})
	env := decodeWire(t, wire)
	if env.MsgID != MsgPlaybackRequest {
		t.Fatalf("msg id = 0x%04x", env.MsgID)
	}

	body := env.Body
	ipLen := int(body[0])
	times := body[len(body)-12:]
	if !bytes.Equal(times[:6], []byte{0x25, 0x01, 0x10, 0x08, 0x00, 0x00}) {
		t.Errorf("start BCD = % x", times[:6])
	}
	if !bytes.Equal(times[6:], []byte{0x25, 0x01, 0x10, 0x08, 0x10, 0x00}) {
		t.Errorf("end BCD = % x", times[6:])
	}
	if want := 1 + ipLen + 4 + 3 + 3 + 12; len(body) != want {
		t.Errorf("body length = %d, want %d", len(body), want)
	}
}
