package jt808

import (
	"errors"
	"time"
)

// bcdToString decodes packed BCD bytes into their decimal digit string.
func bcdToString(bcd []byte) string {
	out := make([]byte, 0, len(bcd)*2)
	for _, b := range bcd {
		out = append(out, '0'+(b>>4)&0x0F, '0'+b&0x0F)
	}
	return string(out)
}

// stringToBCD packs a decimal digit string into BCD, padding a leading zero
// when the length is odd.
func stringToBCD(s string) []byte {
	if len(s)%2 == 1 {
		s = "0" + s
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		out[i/2] = (s[i]-'0')<<4 | (s[i+1] - '0')
	}
	return out
}

func bcdDigit(b byte) (int, bool) {
	hi, lo := int(b>>4), int(b&0x0F)
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return hi*10 + lo, true
}

// parseBCDTime interprets a 6-byte YYMMDDHHMMSS timestamp in the given fixed
// zone. The protocol default is UTC+8; devices never report a zone of their
// own.
func parseBCDTime(raw []byte, loc *time.Location) (time.Time, error) {
	if len(raw) < 6 {
		return time.Time{}, errors.New("timestamp too short")
	}
	var vals [6]int
	for i := 0; i < 6; i++ {
		v, ok := bcdDigit(raw[i])
		if !ok {
			return time.Time{}, errors.New("invalid BCD digit in timestamp")
		}
		vals[i] = v
	}
	year, month, day := 2000+vals[0], vals[1], vals[2]
	hour, minute, second := vals[3], vals[4], vals[5]
	if month < 1 || month > 12 || day < 1 || day > 31 ||
		hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, errors.New("invalid timestamp values")
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

// formatBCDTime renders a time as the 6-byte YYMMDDHHMMSS BCD form in the
// given zone.
func formatBCDTime(t time.Time, loc *time.Location) []byte {
	t = t.In(loc)
	return stringToBCD(t.Format("060102150405"))
}
