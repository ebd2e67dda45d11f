package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageClass distinguishes periodic status samples from event-driven
// messages. Devices report it as the MSG_CLASS field.
type MessageClass string

const (
	ClassStatus  MessageClass = "STATUS"
	ClassAlert   MessageClass = "ALERT"
	ClassUnknown MessageClass = ""
)

type AlertType string

const (
	AlertEngineOn         AlertType = "ignition_on"
	AlertEngineOff        AlertType = "ignition_off"
	AlertPowerCut         AlertType = "power_cut"
	AlertJamming          AlertType = "jamming"
	AlertLowBackupBattery AlertType = "low_backup_battery"
	AlertUnknown          AlertType = "unknown"
)

type AlertSeverity int16

const (
	SeverityInfo     AlertSeverity = 1
	SeverityWarning  AlertSeverity = 2
	SeverityCritical AlertSeverity = 3
)

// alertCodes maps the alert strings emitted by the device firmwares we have
// seen (generic "ENGINE ON/OFF", Queclink "Turn On/Off", ...) to the fixed
// taxonomy. Lookup is case-insensitive. New firmware variants are added here,
// not in branching logic.
var alertCodes = map[string]AlertType{
	"ENGINE ON":          AlertEngineOn,
	"TURN ON":            AlertEngineOn,
	"ENGINE OFF":         AlertEngineOff,
	"TURN OFF":           AlertEngineOff,
	"POWER CUT":          AlertPowerCut,
	"MAIN POWER CUT":     AlertPowerCut,
	"POWER DISCONNECTED": AlertPowerCut,
	"JAMMING":            AlertJamming,
	"GPS JAMMING":        AlertJamming,
	"JAMMING DETECTED":   AlertJamming,
	"LOW BACKUP BATTERY": AlertLowBackupBattery,
	"BACKUP BATTERY LOW": AlertLowBackupBattery,
}

var alertSeverities = map[AlertType]AlertSeverity{
	AlertEngineOn:         SeverityInfo,
	AlertEngineOff:        SeverityInfo,
	AlertPowerCut:         SeverityCritical,
	AlertJamming:          SeverityCritical,
	AlertLowBackupBattery: SeverityWarning,
	AlertUnknown:          SeverityWarning,
}

// MapAlertCode resolves a vendor alert string to the taxonomy. Unrecognized
// codes degrade to AlertUnknown so unmapped hardware variants keep flowing.
// Empty or blank strings mean "no alert" and return ok=false.
func MapAlertCode(code string) (AlertType, bool) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "", false
	}
	if t, ok := alertCodes[strings.ToUpper(trimmed)]; ok {
		return t, true
	}
	return AlertUnknown, true
}

func (t AlertType) Severity() AlertSeverity {
	if s, ok := alertSeverities[t]; ok {
		return s
	}
	return SeverityWarning
}

func (t AlertType) IsIgnitionOn() bool  { return t == AlertEngineOn }
func (t AlertType) IsIgnitionOff() bool { return t == AlertEngineOff }

// TelemetryEvent is one decoded message from one device. Pointer fields are
// optional: devices omit them freely depending on firmware and message class.
type TelemetryEvent struct {
	DeviceID      string
	EventTime     time.Time
	CorrelationID uuid.UUID

	Alert        AlertType // empty when the message carries no alert signal
	RawAlert     string    // vendor string as received, kept for unknown codes
	RawCode      *int32
	MessageClass MessageClass

	Lat            *float64
	Lng            *float64
	Speed          *float64
	Heading        *float64
	OdometerMeters *float64

	// Metadata is the opaque side payload from the transport envelope,
	// carried into alert and idle records.
	Metadata map[string]any
}

func (e *TelemetryEvent) HasAlert() bool { return e.Alert != "" }

func (e *TelemetryEvent) IsStatus() bool { return e.MessageClass == ClassStatus }
