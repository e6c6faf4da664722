package jt808

import (
	"encoding/binary"
	"strings"
)

// BulkPacket is one packet of the magic-header bulk transfer framing used by
// attachment uploads. It carries a slice of a named file rather than an
// envelope.
type BulkPacket struct {
	Filename string
	Offset   uint32
	Length   uint32
	Data     []byte
}

// Synchronizer turns a raw byte stream into complete protocol units. Feed
// appends received bytes; Next yields either one unescaped delimiter frame,
// one bulk packet, or nothing when more bytes are needed. The synchronizer
// holds no state across emitted units beyond the unconsumed tail of the
// stream.
type Synchronizer struct {
	buf []byte
}

func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// Feed appends raw bytes read from the connection.
func (s *Synchronizer) Feed(p []byte) {
	s.buf = append(s.buf, p...)
}

// Pending reports how many unconsumed bytes are buffered.
func (s *Synchronizer) Pending() int {
	return len(s.buf)
}

// Next extracts the next complete unit from the buffered stream. Exactly one
// of the return values is non-nil when a unit is available; both are nil when
// the synchronizer needs more bytes. Garbage bytes that match neither framing
// are discarded one at a time so a corrupt prefix can never stall the stream.
func (s *Synchronizer) Next() (frame []byte, bulk *BulkPacket) {
	for len(s.buf) > 0 {
		if s.buf[0] == frameDelimiter {
			frame, ok := s.nextFrame()
			if !ok {
				return nil, nil
			}
			if frame == nil {
				// Empty frame between back-to-back delimiters; resync.
				continue
			}
			return frame, nil
		}

		// The bulk magic is recognized before the one-byte resync rule so a
		// transfer stream never loses its header.
		if len(s.buf) < 4 {
			if isBulkMagicPrefix(s.buf) {
				return nil, nil
			}
			s.buf = s.buf[1:]
			continue
		}
		if binary.BigEndian.Uint32(s.buf[:4]) == bulkMagic {
			pkt, ok := s.nextBulk()
			if !ok {
				return nil, nil
			}
			return nil, pkt
		}

		// Unrecognized leading byte: drop it and retry.
		s.buf = s.buf[1:]
	}
	return nil, nil
}

// nextFrame scans for the closing delimiter, unescaping as it goes. Returns
// ok=false when the frame is still incomplete. A nil frame with ok=true means
// an empty frame was consumed (two adjacent delimiters).
func (s *Synchronizer) nextFrame() ([]byte, bool) {
	out := make([]byte, 0, len(s.buf))
	i := 1
	for i < len(s.buf) {
		b := s.buf[i]
		switch b {
		case frameDelimiter:
			s.buf = s.buf[i+1:]
			if len(out) == 0 {
				return nil, true
			}
			return out, true
		case escapeByte:
			if i+1 >= len(s.buf) {
				return nil, false
			}
			switch s.buf[i+1] {
			case 0x01:
				out = append(out, escapeByte)
			case 0x02:
				out = append(out, frameDelimiter)
			default:
				// Not a defined escape pair; keep the literal byte.
				out = append(out, b)
				i++
				continue
			}
			i += 2
		default:
			out = append(out, b)
			i++
		}
	}
	return nil, false
}

// nextBulk parses one bulk packet once header and declared payload are fully
// buffered.
func (s *Synchronizer) nextBulk() (*BulkPacket, bool) {
	if len(s.buf) < bulkHeaderLen {
		return nil, false
	}
	name := strings.TrimRight(string(s.buf[4:4+bulkFilenameLen]), "\x00")
	offset := binary.BigEndian.Uint32(s.buf[4+bulkFilenameLen : 8+bulkFilenameLen])
	length := binary.BigEndian.Uint32(s.buf[8+bulkFilenameLen : 12+bulkFilenameLen])
	total := bulkHeaderLen + int(length)
	if len(s.buf) < total {
		return nil, false
	}
	data := make([]byte, length)
	copy(data, s.buf[bulkHeaderLen:total])
	s.buf = s.buf[total:]
	return &BulkPacket{
		Filename: name,
		Offset:   offset,
		Length:   length,
		Data:     data,
	}, true
}

func isBulkMagicPrefix(p []byte) bool {
	magic := []byte{0x30, 0x31, 0x63, 0x64}
	for i := range p {
		if p[i] != magic[i] {
			return false
		}
	}
	return true
}

// escape applies the 0x7D byte-stuffing transform to everything between two
// frame delimiters.
func escape(data []byte) []byte {
	out := make([]byte, 0, len(data)+8)
	for _, b := range data {
		switch b {
		case frameDelimiter:
			out = append(out, escapeByte, 0x02)
		case escapeByte:
			out = append(out, escapeByte, 0x01)
		default:
			out = append(out, b)
		}
	}
	return out
}
