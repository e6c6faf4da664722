// Package jt808 implements the JT/T 808 vehicle telemetry protocol and its
// JT/T 1078 video/media companion: frame synchronization, envelope codec,
// message dispatch, location/alarm decoding, multi-packet media reassembly
// and outbound command encoding.
package jt808

// Framing constants
const (
	frameDelimiter byte = 0x7E
	escapeByte     byte = 0x7D

	// Bulk (code-stream) transfer framing, used for large attachment upload.
	bulkMagic       uint32 = 0x30316364
	bulkFilenameLen        = 50
	bulkHeaderLen          = 4 + bulkFilenameLen + 4 + 4
)

// Terminal (device → platform) message IDs
const (
	MsgTerminalAck          uint16 = 0x0001
	MsgHeartbeat            uint16 = 0x0002
	MsgUnregister           uint16 = 0x0003
	MsgRegister             uint16 = 0x0100
	MsgAuthenticate         uint16 = 0x0102
	MsgQueryParamsAck       uint16 = 0x0104
	MsgQueryAttributesAck   uint16 = 0x0107
	MsgUpgradeResult        uint16 = 0x0108
	MsgLocationReport       uint16 = 0x0200
	MsgLocationQueryAck     uint16 = 0x0201
	MsgEventReport          uint16 = 0x0301
	MsgInfoDemand           uint16 = 0x0303
	MsgVehicleControlAck    uint16 = 0x0500
	MsgDrivingRecordUpload  uint16 = 0x0700
	MsgWaybillReport        uint16 = 0x0701
	MsgDriverIdentity       uint16 = 0x0702
	MsgBatchLocationUpload  uint16 = 0x0704
	MsgCANDataUpload        uint16 = 0x0705
	MsgMultimediaEvent      uint16 = 0x0800
	MsgMultimediaUpload     uint16 = 0x0801
	MsgStoredMediaQueryAck  uint16 = 0x0802
	MsgCameraCaptureAck     uint16 = 0x0805
	MsgDataUplink           uint16 = 0x0900
	MsgAVAttributesAck      uint16 = 0x1003
	MsgPassengerFlow        uint16 = 0x1005
	MsgAVResourceListAck    uint16 = 0x1205
	MsgAlarmAttachmentInfo  uint16 = 0x1210
	MsgFileInfoUpload       uint16 = 0x1211
	MsgFileUploadComplete   uint16 = 0x1212
)

// Platform (platform → device) message IDs
const (
	MsgPlatformAck          uint16 = 0x8001
	MsgRegisterReply        uint16 = 0x8100
	MsgSetParams            uint16 = 0x8103
	MsgTerminalControl      uint16 = 0x8105
	MsgLocationQuery        uint16 = 0x8201
	MsgTextMessage          uint16 = 0x8300
	MsgCameraCapture        uint16 = 0x8801
	MsgMultimediaUploadAck  uint16 = 0x8800
	MsgLiveStreamStart      uint16 = 0x9101
	MsgLiveStreamControl    uint16 = 0x9102
	MsgPlaybackRequest      uint16 = 0x9201
	MsgPlaybackControl      uint16 = 0x9202
	MsgAttachmentUploadReq  uint16 = 0x9208
	MsgFileUploadCompleteAck uint16 = 0x9212
	MsgPTZRotate            uint16 = 0x9301
	MsgPTZFocus             uint16 = 0x9302
	MsgPTZIris              uint16 = 0x9303
)

// Device parameter IDs carried in 0x8103 bodies
const (
	paramHeartbeatInterval uint32 = 0x0001
	paramReportInterval    uint32 = 0x0006
	paramRebootControl     uint32 = 0x0023
)

// TLV sub-record IDs inside a location report's additional-information suffix
const (
	extOdometer        byte = 0x01
	extFuel            byte = 0x02
	extSignalStrength  byte = 0x30
	extSatellites      byte = 0x31
	extADASAlarm       byte = 0x64
	extDSMAlarm        byte = 0x65
	extMultimediaEvent byte = 0x70
)

// Multimedia format codes (0x0801 header) mapped to file extensions.
const (
	formatJPEG byte = 0
	formatTIFF byte = 1
	formatMP3  byte = 2
	formatWAV  byte = 3
	formatWMV  byte = 4
)

// Alarm word bits (location report, first doubleword). Each mapped bit gets a
// canonical tag; reserved bits are ignored.
var alarmBitTags = map[uint]string{
	0:  "sos",
	1:  "overspeed",
	2:  "fatigueDriving",
	3:  "dangerWarning",
	4:  "gnssFault",
	5:  "gnssAntennaCut",
	6:  "gnssAntennaShort",
	7:  "powerLow",
	8:  "powerCut",
	9:  "lcdFault",
	10: "ttsFault",
	11: "cameraFault",
	18: "drivingTimeout",
	19: "parkingTimeout",
	20: "geofenceEnter",
	21: "geofenceExit",
	22: "routeEnter",
	23: "routeExit",
	24: "routeTimeError",
	25: "routeDeviation",
	26: "vssFault",
	27: "fuelFault",
	28: "vehicleTheft",
	29: "illegalIgnition",
	30: "illegalMove",
	31: "collisionRollover",
}

// ADAS (0x64) alarm/event type tags
var adasTypeTags = map[byte]string{
	0x01: "forwardCollision",
	0x02: "laneDeparture",
	0x03: "headwayTooClose",
	0x04: "pedestrianCollision",
	0x05: "frequentLaneChange",
	0x06: "roadSignOverrun",
	0x07: "obstacle",
	0x10: "roadSignRecognition",
	0x11: "activeCapture",
}

// DSM (0x65) alarm/event type tags
var dsmTypeTags = map[byte]string{
	0x01: "fatigueDriving",
	0x02: "phoneCall",
	0x03: "smoking",
	0x04: "distractedDriving",
	0x05: "driverAbnormal",
	0x10: "autoCapture",
	0x11: "driverChange",
}
