package olarm

import (
	"math"
	"time"
)

// ConnStatus is the cloud-reported connectivity of a controller.
type ConnStatus uint8

const (
	ConnStatusUnknown ConnStatus = iota
	ConnStatusOnline
	ConnStatusOffline
	ConnStatusProblem
)

func (s ConnStatus) String() string {
	switch s {
	case ConnStatusOnline:
		return "online"
	case ConnStatusOffline:
		return "offline"
	case ConnStatusProblem:
		return "problem"
	default:
		return "unknown"
	}
}

func parseConnStatus(raw string) (ConnStatus, bool) {
	switch raw {
	case "online":
		return ConnStatusOnline, true
	case "offline":
		return ConnStatusOffline, true
	case "problem":
		return ConnStatusProblem, true
	default:
		return ConnStatusUnknown, false
	}
}

type ZoneStatus uint8

const (
	ZoneStatusClosed ZoneStatus = iota
	ZoneStatusActive
	ZoneStatusBypassed
)

func (s ZoneStatus) String() string {
	switch s {
	case ZoneStatusActive:
		return "active"
	case ZoneStatusBypassed:
		return "bypassed"
	default:
		return "closed"
	}
}

// The cloud reports zone states as single letters.
func parseZoneStatus(raw string) (ZoneStatus, bool) {
	switch raw {
	case "c":
		return ZoneStatusClosed, true
	case "a":
		return ZoneStatusActive, true
	case "b":
		return ZoneStatusBypassed, true
	default:
		return ZoneStatusClosed, false
	}
}

type AreaStatus uint8

const (
	AreaStatusNotReady AreaStatus = iota
	AreaStatusDisarmed
	AreaStatusArmedAway
	AreaStatusArmedHome1
	AreaStatusArmedHome2
	AreaStatusArmedHome3
	AreaStatusArmedHome4
	AreaStatusAlarm
	AreaStatusFire
	AreaStatusEmergency
	AreaStatusCountdown
)

func (s AreaStatus) String() string {
	switch s {
	case AreaStatusDisarmed:
		return "disarmed"
	case AreaStatusArmedAway:
		return "armed-away"
	case AreaStatusArmedHome1:
		return "armed-home-1"
	case AreaStatusArmedHome2:
		return "armed-home-2"
	case AreaStatusArmedHome3:
		return "armed-home-3"
	case AreaStatusArmedHome4:
		return "armed-home-4"
	case AreaStatusAlarm:
		return "alarm"
	case AreaStatusFire:
		return "fire"
	case AreaStatusEmergency:
		return "emergency"
	case AreaStatusCountdown:
		return "countdown"
	default:
		return "not-ready"
	}
}

// Triggered reports whether the area is in an active alarm condition.
func (s AreaStatus) Triggered() bool {
	return s == AreaStatusAlarm || s == AreaStatusFire || s == AreaStatusEmergency
}

// Armed reports whether the area is armed in any mode.
func (s AreaStatus) Armed() bool {
	return s == AreaStatusArmedAway ||
		(s >= AreaStatusArmedHome1 && s <= AreaStatusArmedHome4)
}

// "stay" and "partarm1" are the same mode under different names, as are
// "sleep" and "partarm2": stay arms partition profile 1, sleep profile 2.
func parseAreaStatus(raw string) (AreaStatus, bool) {
	switch raw {
	case "notready":
		return AreaStatusNotReady, true
	case "disarm":
		return AreaStatusDisarmed, true
	case "arm":
		return AreaStatusArmedAway, true
	case "stay", "partarm1":
		return AreaStatusArmedHome1, true
	case "sleep", "partarm2":
		return AreaStatusArmedHome2, true
	case "partarm3":
		return AreaStatusArmedHome3, true
	case "partarm4":
		return AreaStatusArmedHome4, true
	case "alarm":
		return AreaStatusAlarm, true
	case "fire":
		return AreaStatusFire, true
	case "emergency":
		return AreaStatusEmergency, true
	case "countdown":
		return AreaStatusCountdown, true
	default:
		return AreaStatusNotReady, false
	}
}

// ZoneType is the vendor sensor-type code assigned to a zone.
type ZoneType int

const (
	ZoneTypeNotApplicable ZoneType = 0
	ZoneTypeDoor          ZoneType = 10
	ZoneTypeWindow        ZoneType = 11
	ZoneTypeMotionIndoor  ZoneType = 20
	ZoneTypeMotionOutdoor ZoneType = 21
	ZoneTypePanicButton   ZoneType = 50
	ZoneTypePanicZone     ZoneType = 51
	ZoneTypeNotUsed       ZoneType = 90
)

func (t ZoneType) String() string {
	switch t {
	case ZoneTypeDoor:
		return "door"
	case ZoneTypeWindow:
		return "window"
	case ZoneTypeMotionIndoor:
		return "motion-indoor"
	case ZoneTypeMotionOutdoor:
		return "motion-outdoor"
	case ZoneTypePanicButton:
		return "panic-button"
	case ZoneTypePanicZone:
		return "panic-zone"
	case ZoneTypeNotUsed:
		return "not-used"
	default:
		return "other"
	}
}

func (t ZoneType) Motion() bool {
	return t == ZoneTypeMotionIndoor || t == ZoneTypeMotionOutdoor
}

// Controller is the static view of one alarm controller: identity plus the
// zone and area inventory. It only changes when the vendor reshapes the
// device profile, unlike ControllerState which changes every poll.
type Controller struct {
	ID           string
	Label        string
	SerialNumber string
	Make         string
	MakeDetail   string
	Firmware     string
	Zones        []ZoneConfig
	Areas        []AreaConfig
}

type ZoneConfig struct {
	Number int
	Label  string
	Type   ZoneType
}

type AreaConfig struct {
	Number int
	Label  string
}

// ControllerState is the live view of one controller.
type ControllerState struct {
	Status   ConnStatus
	Timezone string
	Firmware string
	Alarm    AlarmState
}

type AlarmState struct {
	Zones     map[int]ZoneState
	Areas     map[int]AreaState
	BatteryOK bool
	ACOK      bool
}

type ZoneState struct {
	Status     ZoneStatus
	LastChange time.Time
}

type AreaState struct {
	Status AreaStatus
	// Zones implicated in the current trigger. Only meaningful while the
	// area is in alarm or counting down.
	TriggerZones []int
	LastChange   time.Time
}

// DevicePayload is the raw per-device document returned by the cloud API.
// Zone and area attributes come as parallel arrays indexed by position.
type DevicePayload struct {
	DeviceID              string        `json:"deviceId"`
	DeviceName            string        `json:"deviceName"`
	DeviceSerial          string        `json:"deviceSerial"`
	DeviceType            string        `json:"deviceType"`
	DeviceStatus          string        `json:"deviceStatus"`
	DeviceTimezone        string        `json:"deviceTimezone"`
	DeviceFirmware        string        `json:"deviceFirmware"`
	DeviceAlarmType       string        `json:"deviceAlarmType"`
	DeviceAlarmTypeDetail string        `json:"deviceAlarmTypeDetail"`
	Profile               DeviceProfile `json:"deviceProfile"`
	State                 DeviceState   `json:"deviceState"`
}

type DeviceProfile struct {
	ZonesLimit  int      `json:"zonesLimit"`
	AreasLimit  int      `json:"areasLimit"`
	ZonesLabels []string `json:"zonesLabels"`
	ZonesTypes  []int    `json:"zonesTypes"`
	AreasLabels []string `json:"areasLabels"`
}

type DeviceState struct {
	Zones       []string  `json:"zones"`
	ZonesStamp  []float64 `json:"zonesStamp"`
	Areas       []string  `json:"areas"`
	AreasDetail [][]any   `json:"areasDetail"`
	AreasStamp  []float64 `json:"areasStamp"`
	Power       Power     `json:"power"`
}

// Power flags come over the wire as "1"/"0" strings.
type Power struct {
	AC   string `json:"AC"`
	Batt string `json:"Batt"`
}

// stampToTime converts the cloud's millisecond epoch stamps. Zero or
// negative stamps mean "never" and map to the zero time.
func stampToTime(ms float64) time.Time {
	if ms <= 0 || math.IsNaN(ms) {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}
