package ingest

import (
	"testing"

	"github.com/akilada/openlews/internal/model"
)

func candidate(id string, lat, lon float64, level model.HazardLevel, box *model.BBox) model.HazardZone {
	return model.HazardZone{
		ZoneID:      id,
		HazardLevel: level,
		CentroidLat: lat,
		CentroidLon: lon,
		Geohash4:    "tc3j",
		BoundingBox: box,
	}
}

func TestPickZone_ContainingBeatsCloser(t *testing.T) {
	box := &model.BBox{MinLat: 6.8, MaxLat: 6.9, MinLon: 80.9, MaxLon: 81.0}
	zones := []model.HazardZone{
		candidate("close-outside", 6.8501, 80.9301, model.HazardVeryHigh, nil),
		candidate("containing", 6.88, 80.97, model.HazardLow, box),
	}
	best, _ := pickZone(zones, 6.85, 80.93)
	if best == nil || best.ZoneID != "containing" {
		t.Fatalf("pickZone = %+v, want the containing zone", best)
	}
}

func TestPickZone_HighestLevelAmongContaining(t *testing.T) {
	box := &model.BBox{MinLat: 6.8, MaxLat: 6.9, MinLon: 80.9, MaxLon: 81.0}
	zones := []model.HazardZone{
		candidate("low", 6.8501, 80.9301, model.HazardLow, box),
		candidate("high", 6.89, 80.99, model.HazardHigh, box),
		candidate("moderate", 6.851, 80.931, model.HazardModerate, box),
	}
	best, _ := pickZone(zones, 6.85, 80.93)
	if best == nil || best.ZoneID != "high" {
		t.Fatalf("pickZone = %+v, want the highest hazard level", best)
	}
}

func TestPickZone_TieBrokenByDistance(t *testing.T) {
	box := &model.BBox{MinLat: 6.8, MaxLat: 6.9, MinLon: 80.9, MaxLon: 81.0}
	zones := []model.HazardZone{
		candidate("far-high", 6.89, 80.99, model.HazardHigh, box),
		candidate("near-high", 6.8501, 80.9301, model.HazardHigh, box),
	}
	best, d := pickZone(zones, 6.85, 80.93)
	if best == nil || best.ZoneID != "near-high" {
		t.Fatalf("pickZone = %+v, want the nearer of the tied zones", best)
	}
	if d <= 0 {
		t.Fatalf("distance = %v, want > 0", d)
	}
}

func TestPickZone_FallbackToClosestWhenNoneContain(t *testing.T) {
	zones := []model.HazardZone{
		candidate("far", 6.9, 81.0, model.HazardVeryHigh, nil),
		candidate("near", 6.8502, 80.9302, model.HazardLow, nil),
	}
	best, _ := pickZone(zones, 6.85, 80.93)
	if best == nil || best.ZoneID != "near" {
		t.Fatalf("pickZone = %+v, want closest centroid on fallback", best)
	}
}

func TestPickZone_Empty(t *testing.T) {
	if best, _ := pickZone(nil, 6.85, 80.93); best != nil {
		t.Fatalf("pickZone(nil) = %+v", best)
	}
}

func TestIsHighRisk_Thresholds(t *testing.T) {
	base := func() model.Reading {
		return model.Reading{SensorID: "s1", MoisturePercent: 40}
	}
	cases := []struct {
		name   string
		mutate func(*model.Reading)
		want   bool
	}{
		{"calm", func(r *model.Reading) {}, false},
		{"moisture at threshold", func(r *model.Reading) { r.MoisturePercent = 85 }, true},
		{"pore pressure", func(r *model.Reading) { r.PorePressureKPa = model.Ptr(10) }, true},
		{"tilt rate", func(r *model.Reading) { r.TiltRateMMHr = model.Ptr(5) }, true},
		{"low safety factor", func(r *model.Reading) { r.SafetyFactor = model.Ptr(1.1) }, true},
		{"zero safety factor not risky", func(r *model.Reading) { r.SafetyFactor = model.Ptr(0) }, false},
		{"safe safety factor", func(r *model.Reading) { r.SafetyFactor = model.Ptr(1.5) }, false},
		{"high zone wet", func(r *model.Reading) {
			r.MoisturePercent = 71
			r.Zone = &model.ZoneSnapshot{HazardLevel: model.HazardHigh}
		}, true},
		{"high zone dry", func(r *model.Reading) {
			r.MoisturePercent = 60
			r.Zone = &model.ZoneSnapshot{HazardLevel: model.HazardVeryHigh}
		}, false},
		{"low zone wet", func(r *model.Reading) {
			r.MoisturePercent = 71
			r.Zone = &model.ZoneSnapshot{HazardLevel: model.HazardLow}
		}, false},
	}
	for _, c := range cases {
		r := base()
		c.mutate(&r)
		if got := IsHighRisk(&r); got != c.want {
			t.Errorf("%s: IsHighRisk = %v, want %v", c.name, got, c.want)
		}
	}
}
