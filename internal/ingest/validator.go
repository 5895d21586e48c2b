// Package ingest validates, enriches and persists telemetry batches posted
// by the field gateway.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/akilada/openlews/internal/model"
)

// Timestamp bounds: 2020-01-01 to the 32-bit epoch rollover.
const (
	minTimestamp = 1577836800
	maxTimestamp = 2147483647
)

// WireReading is the unvalidated wire shape. Everything is a pointer (or
// any, for the epoch-or-ISO timestamp) so missing and zero stay distinct.
type WireReading struct {
	SensorID  *string `json:"sensor_id"`
	Timestamp any     `json:"timestamp"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Geohash   *string  `json:"geohash"`

	MoisturePercent   *float64 `json:"moisture_percent"`
	TiltXDegrees      *float64 `json:"tilt_x_degrees"`
	TiltYDegrees      *float64 `json:"tilt_y_degrees"`
	TiltRateMMHr      *float64 `json:"tilt_rate_mm_hr"`
	PorePressureKPa   *float64 `json:"pore_pressure_kpa"`
	VibrationCount    *float64 `json:"vibration_count"`
	VibrationBaseline *float64 `json:"vibration_baseline"`
	SafetyFactor      *float64 `json:"safety_factor"`
	Rainfall24hMM     *float64 `json:"rainfall_24h_mm"`
	BatteryPercent    *float64 `json:"battery_percent"`
	TemperatureC      *float64 `json:"temperature_c"`
}

// Rule names for validation failures.
const (
	RuleMissingField     = "MissingField"
	RuleOutOfRange       = "OutOfRange"
	RuleInvalidTimestamp = "InvalidTimestamp"
	RuleShortIdentifier  = "ShortIdentifier"
)

// Issue is one validation failure; Detail is operator-facing.
type Issue struct {
	Rule   string `json:"rule"`
	Detail string `json:"error"`
}

func (i *Issue) Error() string { return i.Detail }

type rangeRule struct {
	name     string
	value    *float64
	min, max float64
}

// Validate checks the wire reading against the shape, range and timestamp
// rules and returns the normalised domain reading.
func Validate(w *WireReading) (model.Reading, *Issue) {
	var missing []string
	if w.SensorID == nil {
		missing = append(missing, "sensor_id")
	}
	if w.Timestamp == nil {
		missing = append(missing, "timestamp")
	}
	if w.Latitude == nil {
		missing = append(missing, "latitude")
	}
	if w.Longitude == nil {
		missing = append(missing, "longitude")
	}
	if w.MoisturePercent == nil {
		missing = append(missing, "moisture_percent")
	}
	if w.Geohash == nil {
		missing = append(missing, "geohash")
	}
	if len(missing) > 0 {
		return model.Reading{}, &Issue{
			Rule:   RuleMissingField,
			Detail: "missing required fields: " + strings.Join(missing, ", "),
		}
	}

	ts, issue := normaliseTimestamp(w.Timestamp)
	if issue != nil {
		return model.Reading{}, issue
	}

	if len(*w.SensorID) < 3 {
		return model.Reading{}, &Issue{
			Rule:   RuleShortIdentifier,
			Detail: fmt.Sprintf("sensor_id %q is shorter than 3 characters", *w.SensorID),
		}
	}
	if len(*w.Geohash) < 4 {
		return model.Reading{}, &Issue{
			Rule:   RuleShortIdentifier,
			Detail: fmt.Sprintf("geohash %q is shorter than 4 characters", *w.Geohash),
		}
	}

	rules := []rangeRule{
		{"latitude", w.Latitude, -90, 90},
		{"longitude", w.Longitude, -180, 180},
		{"moisture_percent", w.MoisturePercent, 0, 100},
		{"tilt_x_degrees", w.TiltXDegrees, -30, 30},
		{"tilt_y_degrees", w.TiltYDegrees, -30, 30},
		{"tilt_rate_mm_hr", w.TiltRateMMHr, 0, 50},
		{"pore_pressure_kpa", w.PorePressureKPa, -100, 50},
		{"vibration_count", w.VibrationCount, 0, 1000},
		{"vibration_baseline", w.VibrationBaseline, 0, 1e308},
		{"safety_factor", w.SafetyFactor, 0, 10},
		{"rainfall_24h_mm", w.Rainfall24hMM, 0, 1e308},
		{"battery_percent", w.BatteryPercent, 0, 100},
		{"temperature_c", w.TemperatureC, -10, 50},
	}
	for _, r := range rules {
		if r.value == nil {
			continue
		}
		if *r.value < r.min || *r.value > r.max {
			var bound string
			if r.max >= 1e308 {
				bound = fmt.Sprintf("[%g, +inf)", r.min)
			} else {
				bound = fmt.Sprintf("[%g, %g]", r.min, r.max)
			}
			return model.Reading{}, &Issue{
				Rule:   RuleOutOfRange,
				Detail: fmt.Sprintf("%s=%g out of range %s", r.name, *r.value, bound),
			}
		}
	}

	return model.Reading{
		SensorID:          *w.SensorID,
		Timestamp:         ts,
		Latitude:          *w.Latitude,
		Longitude:         *w.Longitude,
		Geohash:           strings.ToLower(*w.Geohash),
		MoisturePercent:   *w.MoisturePercent,
		TiltXDegrees:      w.TiltXDegrees,
		TiltYDegrees:      w.TiltYDegrees,
		TiltRateMMHr:      w.TiltRateMMHr,
		PorePressureKPa:   w.PorePressureKPa,
		VibrationCount:    w.VibrationCount,
		VibrationBaseline: w.VibrationBaseline,
		SafetyFactor:      w.SafetyFactor,
		Rainfall24hMM:     w.Rainfall24hMM,
		BatteryPercent:    w.BatteryPercent,
		TemperatureC:      w.TemperatureC,
	}, nil
}

// normaliseTimestamp accepts epoch seconds (number) or an ISO-8601 string,
// with or without timezone, and returns epoch seconds.
func normaliseTimestamp(v any) (int64, *Issue) {
	var ts int64
	switch t := v.(type) {
	case float64:
		ts = int64(t)
	case int64:
		ts = t
	case int:
		ts = int64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, &Issue{Rule: RuleInvalidTimestamp,
				Detail: fmt.Sprintf("timestamp %q is not numeric", t.String())}
		}
		ts = int64(f)
	case string:
		parsed, err := parseISOTimestamp(t)
		if err != nil {
			return 0, &Issue{Rule: RuleInvalidTimestamp,
				Detail: fmt.Sprintf("timestamp must be ISO 8601 or epoch seconds, got %q", t)}
		}
		ts = parsed
	default:
		return 0, &Issue{Rule: RuleInvalidTimestamp,
			Detail: fmt.Sprintf("timestamp must be a number or string, got %T", v)}
	}

	if ts < minTimestamp || ts > maxTimestamp {
		return 0, &Issue{Rule: RuleInvalidTimestamp,
			Detail: fmt.Sprintf("timestamp %d outside [%d, %d]", ts, minTimestamp, maxTimestamp)}
	}
	return ts, nil
}

func parseISOTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognised timestamp %q", s)
}
