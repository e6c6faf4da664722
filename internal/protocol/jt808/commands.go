package jt808

import (
	"bytes"
	"encoding/binary"
	"sync/atomic"
	"time"
)

// CommandType identifies a logical device-control request.
type CommandType string

const (
	CmdReboot            CommandType = "reboot"
	CmdSetReportInterval CommandType = "setReportInterval"
	CmdSetParam          CommandType = "setParam"
	CmdOilControl        CommandType = "oilControl"
	CmdLocationQuery     CommandType = "locationQuery"
	CmdTextMessage       CommandType = "textMessage"
	CmdImageCapture      CommandType = "imageCapture"
	CmdAttachmentUpload  CommandType = "attachmentUpload"
	CmdLiveStreamStart   CommandType = "liveStreamStart"
	CmdLiveStreamStop    CommandType = "liveStreamStop"
	CmdPlayback          CommandType = "playback"
	CmdPlaybackControl   CommandType = "playbackControl"
	CmdPTZRotate         CommandType = "ptzRotate"
	CmdPTZFocus          CommandType = "ptzFocus"
	CmdPTZIris           CommandType = "ptzIris"
)

// Command is a logical outbound request plus its typed parameters. Only the
// fields relevant to the type are read.
type Command struct {
	Type     CommandType
	DeviceID string
	// Seq is used as the outbound frame index; 0 picks the next generated
	// sequence number.
	Seq uint16
	// ShortIndex selects the 1-byte index trailer used by one device family.
	ShortIndex bool

	Interval    uint32 // setReportInterval, seconds
	ParamID     uint32 // setParam
	ParamValue  []byte // setParam
	Cut         bool   // oilControl: true cuts oil/electricity
	Alternative bool   // oilControl: per-model alternative encoding

	Server      string // attachmentUpload / liveStreamStart callback server
	TCPPort     uint16
	UDPPort     uint16
	AlarmFlag   [16]byte // attachmentUpload
	AlarmNumber string   // attachmentUpload, 32 ASCII bytes

	Channel    byte // media/stream commands
	DataType   byte // liveStreamStart: 0 AV, 1 video, 2 talk, 3 listen
	StreamType byte // liveStreamStart: 0 main, 1 sub
	Control    byte // liveStreamStop / playbackControl command word

	StartTime time.Time // playback window
	EndTime   time.Time
	Text      string // textMessage

	PTZSpeed     byte // ptzRotate
	PTZDirection byte // ptzRotate: 0 stop, 1 up, 2 down, 3 left, 4 right
	PTZStop      bool // ptzFocus / ptzIris: stop flag
	PTZIn        bool // ptzFocus: zoom in, ptzIris: open
}

var cmdSeq uint32

func nextSeq() uint16 {
	return uint16(atomic.AddUint32(&cmdSeq, 1))
}

// EncodeCommand translates a logical command into a complete outbound frame.
// Unsupported command types yield nil, which callers must treat as a no-op
// rather than a failure.
func EncodeCommand(c Command) []byte {
	msgID, body := commandBody(c)
	if body == nil {
		return nil
	}
	seq := c.Seq
	if seq == 0 {
		seq = nextSeq()
	}
	return EncodeFrame(msgID, c.DeviceID, seq, body, c.ShortIndex)
}

func commandBody(c Command) (uint16, []byte) {
	switch c.Type {
	case CmdReboot:
		// Reboot rides the parameter-set message: param 0x23 value 0x03.
		return MsgSetParams, paramBody(paramRebootControl, []byte{0x03})

	case CmdSetReportInterval:
		val := make([]byte, 4)
		binary.BigEndian.PutUint32(val, c.Interval)
		return MsgSetParams, paramBody(paramReportInterval, val)

	case CmdSetParam:
		if c.ParamValue == nil {
			return 0, nil
		}
		return MsgSetParams, paramBody(c.ParamID, c.ParamValue)

	case CmdOilControl:
		return oilControlBody(c)

	case CmdLocationQuery:
		return MsgLocationQuery, []byte{}

	case CmdTextMessage:
		var buf bytes.Buffer
		buf.WriteByte(0x01) // flag: emergency off, display on
		buf.WriteString(c.Text)
		return MsgTextMessage, buf.Bytes()

	case CmdImageCapture:
		// Fixed single-shot capture body; 0x55 is the vendor-neutral middle
		// setting for the image tuning bytes.
		return MsgCameraCapture, []byte{
			0x01,       // channel
			0x00, 0x00, // mode: single shot
			0x00, 0x00, // interval
			0x01, // save
			0x01, // resolution
			0x01, // quality
			0x55, 0x55, 0x55, 0x55, // brightness, contrast, saturation, chroma
		}

	case CmdAttachmentUpload:
		var buf bytes.Buffer
		buf.WriteByte(byte(len(c.Server)))
		buf.WriteString(c.Server)
		_ = binary.Write(&buf, binary.BigEndian, c.TCPPort)
		_ = binary.Write(&buf, binary.BigEndian, c.UDPPort)
		buf.Write(c.AlarmFlag[:])
		buf.Write(padASCII(c.AlarmNumber, 32))
		buf.Write(make([]byte, 16)) // reserved
		return MsgAttachmentUploadReq, buf.Bytes()

	case CmdLiveStreamStart:
		var buf bytes.Buffer
		buf.WriteByte(byte(len(c.Server)))
		buf.WriteString(c.Server)
		_ = binary.Write(&buf, binary.BigEndian, c.TCPPort)
		_ = binary.Write(&buf, binary.BigEndian, c.UDPPort)
		buf.WriteByte(c.Channel)
		buf.WriteByte(c.DataType)
		buf.WriteByte(c.StreamType)
		return MsgLiveStreamStart, buf.Bytes()

	case CmdLiveStreamStop:
		// Control word 0 closes the channel; CloseType 0 closes both streams.
		return MsgLiveStreamControl, []byte{c.Channel, c.Control, 0x00, 0x00}

	case CmdPlayback:
		var buf bytes.Buffer
		buf.WriteByte(byte(len(c.Server)))
		buf.WriteString(c.Server)
		_ = binary.Write(&buf, binary.BigEndian, c.TCPPort)
		_ = binary.Write(&buf, binary.BigEndian, c.UDPPort)
		buf.WriteByte(c.Channel)
		buf.WriteByte(c.DataType)
		buf.WriteByte(c.StreamType)
		buf.WriteByte(0x00) // storage type: all
		buf.WriteByte(0x00) // playback mode: normal
		buf.WriteByte(0x00) // fast-forward multiple
		buf.Write(formatBCDTime(c.StartTime, protocolZone))
		buf.Write(formatBCDTime(c.EndTime, protocolZone))
		return MsgPlaybackRequest, buf.Bytes()

	case CmdPlaybackControl:
		body := []byte{c.Channel, c.Control, 0x00}
		body = append(body, formatBCDTime(c.StartTime, protocolZone)...)
		return MsgPlaybackControl, body

	case CmdPTZRotate:
		return MsgPTZRotate, []byte{c.Channel, c.PTZDirection, c.PTZSpeed}

	case CmdPTZFocus:
		return MsgPTZFocus, []byte{c.Channel, ptzFlag(c.PTZStop, c.PTZIn)}

	case CmdPTZIris:
		return MsgPTZIris, []byte{c.Channel, ptzFlag(c.PTZStop, c.PTZIn)}
	}
	return 0, nil
}

// paramBody builds the {count, id, len, value} parameter-set layout shared by
// every 0x8103 variant.
func paramBody(id uint32, value []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0x01) // param count
	_ = binary.Write(&buf, binary.BigEndian, id)
	buf.WriteByte(byte(len(value)))
	buf.Write(value)
	return buf.Bytes()
}

// oilControlBody encodes the oil/electricity relay command. Some device
// models only honor the vendor parameter form, selected by the Alternative
// flag from the per-model config.
func oilControlBody(c Command) (uint16, []byte) {
	if c.Alternative {
		val := byte(0x00)
		if c.Cut {
			val = 0x01
		}
		return MsgSetParams, paramBody(0x000000F0, []byte{val})
	}
	cmd := byte(0xF1) // restore
	if c.Cut {
		cmd = 0xF0
	}
	return MsgTerminalControl, []byte{cmd}
}

func ptzFlag(stop, in bool) byte {
	if stop {
		return 0x00
	}
	if in {
		return 0x01
	}
	return 0x02
}

func padASCII(s string, n int) []byte {
	out := make([]byte, n)
	copy(out, s)
	return out
}

// protocolZone is the fixed zone BCD timestamps are interpreted in. The
// protocol default is UTC+8; SetProtocolZone installs the configured offset
// at startup.
var protocolZone = time.FixedZone("CST", 8*3600)

// SetProtocolZone installs the fixed timezone offset (in hours) used for all
// BCD timestamps, both parsed and emitted.
func SetProtocolZone(offsetHours int) {
	protocolZone = time.FixedZone("", offsetHours*3600)
}
