package jt808

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fleettrack/internal/core/model"
	"fleettrack/internal/core/util"
)

// Status word bits (location report, second doubleword)
const (
	statusIgnition   uint32 = 1 << 0
	statusFixValid   uint32 = 1 << 1
	statusSouthLat   uint32 = 1 << 2
	statusWestLon    uint32 = 1 << 3
)

// knotsPerRawSpeed converts the device's native 0.1 km/h unit to knots.
const knotsPerRawSpeed = 0.1 * 0.539957

// CallbackServer is the address embedded in attachment-upload requests; the
// device opens its bulk-transfer connection back to it.
type CallbackServer struct {
	Host    string
	TCPPort uint16
	UDPPort uint16
}

// AlarmDetail is one decoded ADAS/DSM sub-record.
type AlarmDetail struct {
	Source  string // "adas" or "dsm"
	AlarmID uint32
	Status  byte
	Type    byte
	Level   byte
	Tag     string

	// Auxiliary telemetry, present when the record carries it.
	AuxSpeed    uint8
	AuxAltitude uint16
	AuxLat      float64
	AuxLon      float64
	AuxTime     time.Time
}

type alarmKind int

const (
	kindHeartbeat alarmKind = iota // type 0x00: monitoring ping, no action
	kindAlarm                      // 0x01-0x0F: genuine alarm
	kindEvent                      // 0x10 and up: informational event
)

func classifyAlarmType(t byte) alarmKind {
	switch {
	case t == 0x00:
		return kindHeartbeat
	case t <= 0x0F:
		return kindAlarm
	default:
		return kindEvent
	}
}

// LocationDecoder decodes 0x0200-family bodies into positions and drives the
// reactive alarm flow: correlation entries, attachment-upload requests and
// image-capture requests.
type LocationDecoder struct {
	tracker  *CorrelationTracker
	callback CallbackServer
	// mediaEventShim enables the historical 0x70 workaround: some firmware
	// reports multimedia events with no 0x64/0x65 record and still expects
	// the attachment-request flow. Device-compatibility shim, not protocol.
	mediaEventShim bool
	alarmSerial    uint32
	log            zerolog.Logger
}

func NewLocationDecoder(tracker *CorrelationTracker, callback CallbackServer, mediaEventShim bool) *LocationDecoder {
	return &LocationDecoder{
		tracker:        tracker,
		callback:       callback,
		mediaEventShim: mediaEventShim,
		log:            log.With().Str("mod", "jt808.location").Logger(),
	}
}

// Decode parses one location report body and returns the position plus any
// outbound frames the report triggered.
func (d *LocationDecoder) Decode(env *Envelope) (*model.Position, [][]byte, error) {
	return d.decodeBody(env.DeviceID, env.Body)
}

// DecodeBatch parses a 0x0704 batch upload: u16 count, u8 type, then
// length-prefixed location bodies. Outbound alarm traffic is triggered per
// contained report exactly as for single reports.
func (d *LocationDecoder) DecodeBatch(env *Envelope) ([]*model.Position, [][]byte, error) {
	body := env.Body
	if len(body) < 3 {
		return nil, nil, errors.New("batch body too short")
	}
	count := int(binary.BigEndian.Uint16(body[0:2]))
	body = body[3:] // skip count and type byte

	positions := make([]*model.Position, 0, count)
	var outbound [][]byte
	for len(body) >= 2 {
		itemLen := int(binary.BigEndian.Uint16(body[0:2]))
		if len(body) < 2+itemLen {
			break
		}
		pos, frames, err := d.decodeBody(env.DeviceID, body[2:2+itemLen])
		if err == nil {
			positions = append(positions, pos)
			outbound = append(outbound, frames...)
		}
		body = body[2+itemLen:]
	}
	return positions, outbound, nil
}

func (d *LocationDecoder) decodeBody(deviceID string, body []byte) (*model.Position, [][]byte, error) {
	if len(body) < 28 {
		return nil, nil, errors.New("location body too short")
	}

	alarmWord := binary.BigEndian.Uint32(body[0:4])
	statusWord := binary.BigEndian.Uint32(body[4:8])

	lat := float64(binary.BigEndian.Uint32(body[8:12])) / 1e6
	lon := float64(binary.BigEndian.Uint32(body[12:16])) / 1e6
	if statusWord&statusSouthLat != 0 {
		lat = -lat
	}
	if statusWord&statusWestLon != 0 {
		lon = -lon
	}

	pos := model.NewPosition(deviceID, lat, lon)
	pos.Protocol = "jt808"
	pos.Altitude = float64(binary.BigEndian.Uint16(body[16:18]))
	pos.Speed = float64(binary.BigEndian.Uint16(body[18:20])) * knotsPerRawSpeed
	pos.Course = float64(binary.BigEndian.Uint16(body[20:22]))
	pos.Valid = statusWord&statusFixValid != 0
	pos.Ignition = statusWord&statusIgnition != 0

	if ts, err := parseBCDTime(body[22:28], protocolZone); err == nil {
		pos.Timestamp = ts
	}

	for bit, tag := range alarmBitTags {
		if alarmWord&(1<<bit) != 0 {
			pos.Alarms = append(pos.Alarms, tag)
		}
	}

	outbound := d.decodeExtras(pos, body[28:])

	// Any alarm tag on the decoded position triggers one capture request.
	if pos.HasAlarm() {
		outbound = append(outbound, EncodeCommand(Command{
			Type:     CmdImageCapture,
			DeviceID: deviceID,
		}))
	}
	return pos, outbound, nil
}

// decodeExtras walks the TLV additional-information suffix. Unrecognized
// sub-ids are skipped by their declared length; a decoder that does not know
// a sub-id must never guess its width.
func (d *LocationDecoder) decodeExtras(pos *model.Position, data []byte) [][]byte {
	var outbound [][]byte
	for len(data) >= 2 {
		id := data[0]
		length := int(data[1])
		if len(data) < 2+length {
			break
		}
		value := data[2 : 2+length]

		switch id {
		case extOdometer:
			if length >= 4 {
				pos.Odometer = float64(binary.BigEndian.Uint32(value[0:4])) / 10.0
			}
		case extFuel:
			if length >= 2 {
				pos.Status["fuel"] = float64(binary.BigEndian.Uint16(value[0:2])) / 10.0
			}
		case extSignalStrength:
			if length >= 1 {
				pos.Status["signal"] = value[0]
			}
		case extSatellites:
			if length >= 1 {
				pos.Satellites = value[0]
			}
		case extADASAlarm, extDSMAlarm:
			detail, err := parseAlarmDetail(id, value)
			if err != nil {
				d.log.Debug().Err(err).Str("device", pos.DeviceID).Msg("bad alarm sub-record")
				break
			}
			outbound = append(outbound, d.handleAlarmDetail(pos, detail)...)
		case extMultimediaEvent:
			if d.mediaEventShim && length >= 4 {
				outbound = append(outbound, d.handleMediaEventShim(pos, value)...)
			}
		default:
			// Forward compatibility: skip by declared length.
		}
		data = data[2+length:]
	}
	return outbound
}

// parseAlarmDetail decodes an ADAS (0x64) or DSM (0x65) sub-record.
func parseAlarmDetail(id byte, value []byte) (*AlarmDetail, error) {
	if len(value) < 7 {
		return nil, errors.New("alarm sub-record too short")
	}
	detail := &AlarmDetail{
		AlarmID: binary.BigEndian.Uint32(value[0:4]),
		Status:  value[4],
		Type:    value[5],
		Level:   value[6],
	}
	if id == extADASAlarm {
		detail.Source = "adas"
		detail.Tag = adasTypeTags[detail.Type]
	} else {
		detail.Source = "dsm"
		detail.Tag = dsmTypeTags[detail.Type]
	}
	if detail.Tag == "" {
		detail.Tag = fmt.Sprintf("%s_%02x", detail.Source, detail.Type)
	}

	if len(value) >= 32 {
		aux := value[7:]
		detail.AuxSpeed = aux[0]
		detail.AuxAltitude = binary.BigEndian.Uint16(aux[1:3])
		detail.AuxLat = float64(binary.BigEndian.Uint32(aux[3:7])) / 1e6
		detail.AuxLon = float64(binary.BigEndian.Uint32(aux[7:11])) / 1e6
		if ts, err := parseBCDTime(aux[11:17], protocolZone); err == nil {
			detail.AuxTime = ts
		}
	}
	return detail, nil
}

// handleAlarmDetail applies the classification rule that gates outbound
// traffic: only genuine alarms (type 0x01-0x0F) create a correlation and
// request attachments. Heartbeats and informational events are recorded for
// observability only.
func (d *LocationDecoder) handleAlarmDetail(pos *model.Position, detail *AlarmDetail) [][]byte {
	statusKey := detail.Source + "Event"
	switch classifyAlarmType(detail.Type) {
	case kindHeartbeat:
		return nil
	case kindEvent:
		pos.Status[statusKey] = detail.Tag
		return nil
	}

	pos.Alarms = append(pos.Alarms, detail.Tag)
	pos.Status[statusKey] = detail.Tag
	return [][]byte{d.requestAttachments(pos.DeviceID, detail.AlarmID, detail.Tag, pos.Timestamp)}
}

// handleMediaEventShim manufactures a synthetic alarm id from the multimedia
// id and issues the same attachment flow even though no 0x64/0x65 record was
// present.
func (d *LocationDecoder) handleMediaEventShim(pos *model.Position, value []byte) [][]byte {
	mediaID := binary.BigEndian.Uint32(value[0:4])
	d.log.Debug().Str("device", pos.DeviceID).Uint32("media", mediaID).
		Msg("multimedia event shim: synthesizing alarm")
	pos.Status["multimediaEvent"] = mediaID
	return [][]byte{d.requestAttachments(pos.DeviceID, mediaID, "multimediaEvent", pos.Timestamp)}
}

// requestAttachments creates/refreshes the correlation entry and builds the
// 0x9208 attachment-upload request.
func (d *LocationDecoder) requestAttachments(deviceID string, alarmID uint32, tag string, alarmTime time.Time) []byte {
	serial := byte(atomic.AddUint32(&d.alarmSerial, 1))
	number := util.GenerateAlarmNumber()
	d.tracker.Create(deviceID, alarmID, tag, number)

	return EncodeCommand(Command{
		Type:        CmdAttachmentUpload,
		DeviceID:    deviceID,
		Server:      d.callback.Host,
		TCPPort:     d.callback.TCPPort,
		UDPPort:     d.callback.UDPPort,
		AlarmFlag:   buildAlarmFlag(deviceID, alarmTime, serial),
		AlarmNumber: number,
	})
}

// buildAlarmFlag packs the 16-byte alarm flag: zero-padded device id (7B),
// BCD alarm time (6B), alarm serial, attachment count, reserved.
func buildAlarmFlag(deviceID string, t time.Time, serial byte) [16]byte {
	var flag [16]byte
	for len(deviceID) < 14 {
		deviceID = "0" + deviceID
	}
	copy(flag[0:7], stringToBCD(deviceID[len(deviceID)-14:]))
	copy(flag[7:13], formatBCDTime(t, protocolZone))
	flag[13] = serial
	flag[14] = 0x01 // attachment count, device overwrites on upload
	return flag
}
