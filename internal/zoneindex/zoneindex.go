// Package zoneindex answers spatial queries over the hazard-zone store.
// Zones are bucketed by precision-4 geohash; every query expands to the
// 9-cell neighbourhood before measuring distance.
package zoneindex

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/geo"
	"github.com/akilada/openlews/internal/geo/geohash"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/store/zones"
)

// DefaultCriticalMoisture applies when no zone context is available or the
// soil type is unmapped.
const DefaultCriticalMoisture = 40.0

type Config struct {
	MaxDistanceKM  float64
	RadiusKM       float64
	GeohashLen     int
	HazardDefaults map[string]float64 // soil type -> critical moisture %
}

type Index struct {
	store *zones.Store
	cfg   Config
}

func New(store *zones.Store, cfg Config) *Index {
	if cfg.MaxDistanceKM <= 0 {
		cfg.MaxDistanceKM = 5.0
	}
	if cfg.RadiusKM <= 0 {
		cfg.RadiusKM = 1.0
	}
	if cfg.GeohashLen <= 0 {
		cfg.GeohashLen = 4
	}
	return &Index{store: store, cfg: cfg}
}

// Hit pairs a zone with its distance from the query point.
type Hit struct {
	Zone      model.HazardZone
	DistanceM float64
}

// CandidatesByCell returns all zones bucketed in the 9-cell neighbourhood of
// the given precision-4 cell. The enricher caches this per run.
func (x *Index) CandidatesByCell(ctx context.Context, cell string) ([]model.HazardZone, error) {
	out, err := x.store.FindByCells(ctx, geohash.Neighbours8(cell))
	if err != nil {
		return nil, errs.E(errs.KindRagUnavailable, "zoneindex.CandidatesByCell", err)
	}
	return out, nil
}

// distanceM is 0 when the zone's bounding box contains the point, otherwise
// the Haversine distance to the centroid.
func distanceM(z *model.HazardZone, lat, lon float64) float64 {
	if z.BoundingBox != nil && geo.BBoxContains(*z.BoundingBox, lat, lon) {
		return 0
	}
	return geo.HaversineM(lat, lon, z.CentroidLat, z.CentroidLon)
}

// Nearest returns the closest zone within maxKM (<=0 uses the configured
// default), or nil when nothing is in range. Ties on distance go to the
// higher hazard level.
func (x *Index) Nearest(ctx context.Context, lat, lon, maxKM float64) (*Hit, error) {
	if maxKM <= 0 {
		maxKM = x.cfg.MaxDistanceKM
	}
	cell := geohash.Encode(lat, lon, x.cfg.GeohashLen)
	candidates, err := x.CandidatesByCell(ctx, cell)
	if err != nil {
		return nil, err
	}

	var best *Hit
	for i := range candidates {
		z := candidates[i]
		d := distanceM(&z, lat, lon)
		if d > maxKM*1000 {
			continue
		}
		if best == nil ||
			d < best.DistanceM ||
			(d == best.DistanceM && z.HazardLevel.Rank() > best.Zone.HazardLevel.Rank()) {
			best = &Hit{Zone: z, DistanceM: d}
		}
	}
	return best, nil
}

// WithinRadius returns all zones within km of the point, ascending by
// distance, plus a hazard-level histogram.
func (x *Index) WithinRadius(ctx context.Context, lat, lon, km float64) ([]Hit, map[model.HazardLevel]int, error) {
	if km <= 0 {
		km = x.cfg.RadiusKM
	}
	cell := geohash.Encode(lat, lon, x.cfg.GeohashLen)
	candidates, err := x.CandidatesByCell(ctx, cell)
	if err != nil {
		return nil, nil, err
	}

	hits := make([]Hit, 0, len(candidates))
	summary := map[model.HazardLevel]int{}
	for i := range candidates {
		z := candidates[i]
		d := distanceM(&z, lat, lon)
		if d > km*1000 {
			continue
		}
		hits = append(hits, Hit{Zone: z, DistanceM: d})
		summary[z.HazardLevel]++
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].DistanceM < hits[j].DistanceM })
	return hits, summary, nil
}

// CriticalMoisture derives the moisture percentage at which a site is
// saturated: soil baseline, adjusted by hazard level, clamped to [20, 80].
func (x *Index) CriticalMoisture(soilType string, level model.HazardLevel) float64 {
	critical := DefaultCriticalMoisture
	if v, ok := x.cfg.HazardDefaults[soilType]; ok {
		critical = v
	}
	switch level {
	case model.HazardVeryHigh:
		critical -= 5
	case model.HazardHigh:
		critical -= 2
	case model.HazardLow:
		critical += 5
	}
	if critical < 20 {
		critical = 20
	}
	if critical > 80 {
		critical = 80
	}
	return critical
}

// SummaryLine renders the radius query result for the assessment context,
// e.g. "3 hazard zones within 1.0 km: 1 Very High, 2 High".
func SummaryLine(km float64, summary map[model.HazardLevel]int) string {
	total := 0
	for _, n := range summary {
		total += n
	}
	if total == 0 {
		return fmt.Sprintf("no mapped hazard zones within %.1f km", km)
	}
	order := []model.HazardLevel{
		model.HazardVeryHigh, model.HazardHigh, model.HazardModerate,
		model.HazardLow, model.HazardUnknown,
	}
	parts := make([]string, 0, len(order))
	for _, lvl := range order {
		if n := summary[lvl]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, lvl))
		}
	}
	noun := "hazard zones"
	if total == 1 {
		noun = "hazard zone"
	}
	return fmt.Sprintf("%d %s within %.1f km: %s", total, noun, km, strings.Join(parts, ", "))
}
