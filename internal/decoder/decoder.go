// Package decoder turns raw broker payloads into typed telemetry events.
// It performs no I/O; a failure here is permanent and the message should be
// acknowledged and dropped, never retried.
package decoder

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"github.com/JesusCabrera84/siscom-trips/internal/domain"
)

// Error is the class for permanently malformed payloads.
var Error = errs.Class("decode")

// envelope mirrors the wire format produced by the device gateway: a flat
// "data" section of vendor fields (numbers often arrive as strings), an
// opaque "metadata" section, and a message uuid used as idempotency token.
type envelope struct {
	Data     payloadData    `json:"data"`
	Metadata map[string]any `json:"metadata"`
	UUID     string         `json:"uuid"`
}

type payloadData struct {
	Alert       string      `json:"ALERT"`
	MsgClass    string      `json:"MSG_CLASS"`
	GPSDatetime string      `json:"GPS_DATETIME"`
	Latitude    looseFloat  `json:"LATITUD"`
	Longitude   looseFloat  `json:"LONGITUD"`
	Speed       looseFloat  `json:"SPEED"`
	Odometer    looseFloat  `json:"ODOMETER"`
	Heading     looseFloat  `json:"COURSE"`
	DeviceID    string      `json:"DEVICE_ID"`
	RawCode     looseString `json:"raw_code"`
}

// looseFloat accepts both JSON numbers and numeric strings; blank strings
// decode as absent. Device firmwares disagree on which one they send.
type looseFloat struct {
	Value *float64
}

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		f.Value = &v
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}

type looseString struct {
	Value string
}

func (s *looseString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &s.Value)
	}
	s.Value = string(b)
	return nil
}

// gpsTimeLayouts are tried in order; devices switch between them across
// firmware versions.
var gpsTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Decode parses one raw payload into a TelemetryEvent. It fails only on
// conditions no retry can fix: invalid JSON, missing device id, or an
// unparseable GPS timestamp.
func Decode(payload []byte) (*domain.TelemetryEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, Error.Wrap(err)
	}

	deviceID := env.Data.DeviceID
	if deviceID == "" {
		deviceID = metadataDeviceID(env.Metadata)
	}
	if deviceID == "" {
		return nil, Error.New("missing DEVICE_ID")
	}

	eventTime, err := parseGPSTime(env.Data.GPSDatetime)
	if err != nil {
		return nil, err
	}

	// The gateway stamps every message with a deterministic uuid; a missing
	// or mangled one gets a fresh token, trading dedup for delivery.
	correlationID, err := uuid.Parse(env.UUID)
	if err != nil {
		correlationID = uuid.New()
	}

	ev := &domain.TelemetryEvent{
		DeviceID:      deviceID,
		EventTime:     eventTime,
		CorrelationID: correlationID,
		RawAlert:      env.Data.Alert,
		MessageClass:  messageClass(env.Data.MsgClass),
		Lat:           env.Data.Latitude.Value,
		Lng:           env.Data.Longitude.Value,
		Speed:         env.Data.Speed.Value,
		Heading:       env.Data.Heading.Value,
		Metadata:      env.Metadata,
	}

	if t, ok := domain.MapAlertCode(env.Data.Alert); ok {
		ev.Alert = t
	}

	// ODOMETER is reported in kilometers; the ledgers store meters.
	if km := env.Data.Odometer.Value; km != nil {
		m := *km * 1000
		ev.OdometerMeters = &m
	}

	if raw := strings.TrimSpace(env.Data.RawCode.Value); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 32); err == nil {
			code := int32(n)
			ev.RawCode = &code
		}
	}

	return ev, nil
}

func parseGPSTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, Error.New("missing GPS_DATETIME")
	}
	for _, layout := range gpsTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, Error.New("invalid GPS_DATETIME %q", s)
}

func messageClass(s string) domain.MessageClass {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STATUS":
		return domain.ClassStatus
	case "ALERT":
		return domain.ClassAlert
	default:
		return domain.ClassUnknown
	}
}

func metadataDeviceID(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta["DEVICE_ID"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
