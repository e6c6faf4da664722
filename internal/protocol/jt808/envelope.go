package jt808

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Decode errors. Integrity failures are dropped silently by the dispatcher;
// the sentinels exist so callers can tell the cases apart in logs and tests.
var (
	ErrFrameTooShort         = errors.New("frame too short")
	ErrChecksumMismatch      = errors.New("checksum mismatch")
	ErrUnsupportedEncryption = errors.New("unsupported encryption mode")
)

// Attribute bitfield layout: bits 0-9 body length, bits 10-12 encryption
// mode, bit 13 sub-package flag.
const (
	attrBodyLenMask uint16 = 0x03FF
	attrEncryptMask uint16 = 0x1C00
	attrSubPackage  uint16 = 0x2000
)

// Envelope is the parsed header+body+checksum structure inside one frame.
type Envelope struct {
	MsgID      uint16
	Attr       uint16
	Encryption byte
	SubPackage bool
	SubTotal   uint16
	SubIndex   uint16
	DeviceID   string
	Seq        uint16
	Body       []byte
	Checksum   byte
}

// DecodeEnvelope parses an unescaped frame (delimiters already stripped by
// the synchronizer). The checksum byte must equal the XOR of every byte from
// the message id through the body. Envelopes with a non-zero encryption mode
// are rejected, but the returned envelope still carries the device id so the
// caller can attribute the drop.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	if len(frame) < 13 {
		return nil, ErrFrameTooShort
	}
	content := frame[:len(frame)-1]
	checksum := frame[len(frame)-1]
	if xorChecksum(content) != checksum {
		return nil, ErrChecksumMismatch
	}

	env := &Envelope{
		MsgID:    binary.BigEndian.Uint16(frame[0:2]),
		Attr:     binary.BigEndian.Uint16(frame[2:4]),
		Checksum: checksum,
	}
	env.Encryption = byte((env.Attr & attrEncryptMask) >> 10)
	env.SubPackage = env.Attr&attrSubPackage != 0

	offset := 4
	if env.SubPackage {
		if len(content) < 16 {
			return nil, ErrFrameTooShort
		}
		env.SubTotal = binary.BigEndian.Uint16(frame[4:6])
		env.SubIndex = binary.BigEndian.Uint16(frame[6:8])
		offset = 8
	}
	if len(content) < offset+8 {
		return nil, ErrFrameTooShort
	}
	env.DeviceID = bcdToString(frame[offset : offset+6])
	env.Seq = binary.BigEndian.Uint16(frame[offset+6 : offset+8])
	env.Body = frame[offset+8 : len(frame)-1]

	if env.Encryption != 0 {
		return env, ErrUnsupportedEncryption
	}
	return env, nil
}

// EncodeFrame builds a complete on-wire frame: delimiter, message id, body
// length, BCD device id, index field, body, checksum, delimiter, with escape
// stuffing applied in between. The shortIndex flag selects the 1-byte index
// trailer used by one device family instead of the usual 2-byte sequence.
// Acknowledgments and server-initiated commands both go through here; it is
// the single source of truth for outbound layout.
func EncodeFrame(msgID uint16, deviceID string, seq uint16, body []byte, shortIndex bool) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, msgID)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(body)))
	buf.Write(deviceIDToBCD(deviceID))
	if shortIndex {
		buf.WriteByte(byte(seq))
	} else {
		_ = binary.Write(&buf, binary.BigEndian, seq)
	}
	buf.Write(body)

	content := buf.Bytes()
	content = append(content, xorChecksum(content))

	out := make([]byte, 0, len(content)+2)
	out = append(out, frameDelimiter)
	out = append(out, escape(content)...)
	out = append(out, frameDelimiter)
	return out
}

func xorChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// deviceIDToBCD packs a decimal device identifier into the fixed 6-byte BCD
// field, left-padding with zeros.
func deviceIDToBCD(id string) []byte {
	for len(id) < 12 {
		id = "0" + id
	}
	if len(id) > 12 {
		id = id[len(id)-12:]
	}
	return stringToBCD(id)
}
