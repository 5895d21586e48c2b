package ingest

import (
	"strings"
	"testing"

	"github.com/akilada/openlews/internal/model"
)

func validWire() WireReading {
	sensor := "SENSOR_001"
	gh := "tc1xyz"
	return WireReading{
		SensorID:        &sensor,
		Timestamp:       float64(1735430400),
		Latitude:        model.Ptr(6.85),
		Longitude:       model.Ptr(80.93),
		Geohash:         &gh,
		MoisturePercent: model.Ptr(75.5),
	}
}

func TestValidate_Accepts(t *testing.T) {
	w := validWire()
	r, issue := Validate(&w)
	if issue != nil {
		t.Fatalf("Validate rejected valid reading: %v", issue)
	}
	if r.SensorID != "SENSOR_001" || r.Timestamp != 1735430400 {
		t.Fatalf("normalised reading = %+v", r)
	}
	if r.MoisturePercent != 75.5 {
		t.Fatalf("moisture = %v", r.MoisturePercent)
	}
}

func TestValidate_MissingFields(t *testing.T) {
	w := validWire()
	w.MoisturePercent = nil
	w.Geohash = nil
	_, issue := Validate(&w)
	if issue == nil || issue.Rule != RuleMissingField {
		t.Fatalf("issue = %+v, want MissingField", issue)
	}
	if !strings.Contains(issue.Detail, "moisture_percent") || !strings.Contains(issue.Detail, "geohash") {
		t.Fatalf("detail %q does not name the missing fields", issue.Detail)
	}
}

func TestValidate_OutOfRange(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*WireReading)
	}{
		{"moisture high", func(w *WireReading) { w.MoisturePercent = model.Ptr(105) }},
		{"moisture low", func(w *WireReading) { w.MoisturePercent = model.Ptr(-1) }},
		{"latitude", func(w *WireReading) { w.Latitude = model.Ptr(91) }},
		{"longitude", func(w *WireReading) { w.Longitude = model.Ptr(-181) }},
		{"tilt_x", func(w *WireReading) { w.TiltXDegrees = model.Ptr(31) }},
		{"tilt_rate", func(w *WireReading) { w.TiltRateMMHr = model.Ptr(51) }},
		{"pore_pressure", func(w *WireReading) { w.PorePressureKPa = model.Ptr(60) }},
		{"vibration", func(w *WireReading) { w.VibrationCount = model.Ptr(1001) }},
		{"safety_factor", func(w *WireReading) { w.SafetyFactor = model.Ptr(10.5) }},
		{"battery", func(w *WireReading) { w.BatteryPercent = model.Ptr(101) }},
		{"temperature", func(w *WireReading) { w.TemperatureC = model.Ptr(-11) }},
		{"rainfall negative", func(w *WireReading) { w.Rainfall24hMM = model.Ptr(-5) }},
	}
	for _, c := range cases {
		w := validWire()
		c.mutate(&w)
		_, issue := Validate(&w)
		if issue == nil || issue.Rule != RuleOutOfRange {
			t.Errorf("%s: issue = %+v, want OutOfRange", c.name, issue)
			continue
		}
		if !strings.Contains(issue.Detail, "out of range") {
			t.Errorf("%s: detail %q missing 'out of range'", c.name, issue.Detail)
		}
	}
}

func TestValidate_ShortIdentifiers(t *testing.T) {
	w := validWire()
	short := "s1"
	w.SensorID = &short
	if _, issue := Validate(&w); issue == nil || issue.Rule != RuleShortIdentifier {
		t.Fatalf("short sensor_id: issue = %+v", issue)
	}

	w = validWire()
	gh := "tc1"
	w.Geohash = &gh
	if _, issue := Validate(&w); issue == nil || issue.Rule != RuleShortIdentifier {
		t.Fatalf("short geohash: issue = %+v", issue)
	}
}

func TestValidate_Timestamps(t *testing.T) {
	cases := []struct {
		name  string
		ts    any
		want  int64
		valid bool
	}{
		{"epoch number", float64(1735430400), 1735430400, true},
		{"iso with Z", "2024-12-29T00:00:00Z", 1735430400, true},
		{"iso with offset", "2024-12-29T05:30:00+05:30", 1735430400, true},
		{"iso naive", "2024-12-29T00:00:00", 1735430400, true},
		{"before 2020", float64(1500000000), 0, false},
		{"after rollover", float64(2147483648), 0, false},
		{"garbage string", "yesterday", 0, false},
		{"wrong type", true, 0, false},
	}
	for _, c := range cases {
		w := validWire()
		w.Timestamp = c.ts
		r, issue := Validate(&w)
		if c.valid {
			if issue != nil {
				t.Errorf("%s: rejected: %v", c.name, issue)
				continue
			}
			if r.Timestamp != c.want {
				t.Errorf("%s: timestamp = %d, want %d", c.name, r.Timestamp, c.want)
			}
		} else {
			if issue == nil || issue.Rule != RuleInvalidTimestamp {
				t.Errorf("%s: issue = %+v, want InvalidTimestamp", c.name, issue)
			}
		}
	}
}

func TestValidate_OptionalFieldsSurviveNormalisation(t *testing.T) {
	w := validWire()
	w.SafetyFactor = model.Ptr(0)
	w.Rainfall24hMM = model.Ptr(0)
	r, issue := Validate(&w)
	if issue != nil {
		t.Fatalf("Validate: %v", issue)
	}
	if r.SafetyFactor == nil || *r.SafetyFactor != 0 {
		t.Fatal("explicit zero safety_factor was lost")
	}
	if r.TiltRateMMHr != nil {
		t.Fatal("absent tilt_rate materialised")
	}
}
