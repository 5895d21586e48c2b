package ingest

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/akilada/openlews/internal/geo"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/observability"
	"github.com/akilada/openlews/internal/zoneindex"
)

// RunCache coalesces zone lookups for sensors sharing a precision-4 cell.
// It lives for one handler invocation and is discarded afterwards.
type RunCache struct {
	cells *lru.Cache[string, []model.HazardZone]
}

func NewRunCache(size int) *RunCache {
	if size <= 0 {
		size = 256
	}
	c, _ := lru.New[string, []model.HazardZone](size)
	return &RunCache{cells: c}
}

type Enricher struct {
	idx     *zoneindex.Index
	enabled bool
}

func NewEnricher(idx *zoneindex.Index, enabled bool) *Enricher {
	return &Enricher{idx: idx, enabled: enabled}
}

// Enrich attaches the best-matching hazard zone to the reading. Zones whose
// bounding box contains the point win; among those the highest hazard level,
// ties by distance. Without a containing zone the closest candidate in the
// cell neighbourhood is used. Lookup failures leave the reading un-enriched.
func (e *Enricher) Enrich(ctx context.Context, cache *RunCache, r *model.Reading) error {
	if !e.enabled || e.idx == nil {
		return nil
	}
	if len(r.Geohash) < 4 {
		observability.IncEnrichment("none")
		return nil
	}
	cell := r.Geohash[:4]

	candidates, ok := cache.cells.Get(cell)
	if !ok {
		var err error
		candidates, err = e.idx.CandidatesByCell(ctx, cell)
		if err != nil {
			observability.IncEnrichment("error")
			return err
		}
		cache.cells.Add(cell, candidates)
	} else {
		observability.IncEnrichment("cache_hit")
	}

	best, distance := pickZone(candidates, r.Latitude, r.Longitude)
	if best == nil {
		observability.IncEnrichment("none")
		return nil
	}

	snap := best.Snapshot(distance)
	snap.CriticalMoisture = e.idx.CriticalMoisture(best.SoilType, best.HazardLevel)
	r.Zone = snap
	r.Enriched = true
	observability.IncEnrichment("attached")
	return nil
}

func pickZone(candidates []model.HazardZone, lat, lon float64) (*model.HazardZone, float64) {
	if len(candidates) == 0 {
		return nil, 0
	}

	type scored struct {
		zone      *model.HazardZone
		distanceM float64
	}

	var containing []scored
	for i := range candidates {
		z := &candidates[i]
		if z.BoundingBox != nil && geo.BBoxContains(*z.BoundingBox, lat, lon) {
			containing = append(containing, scored{
				zone:      z,
				distanceM: geo.HaversineM(lat, lon, z.CentroidLat, z.CentroidLon),
			})
		}
	}

	if len(containing) > 0 {
		best := containing[0]
		for _, c := range containing[1:] {
			if c.zone.HazardLevel.Rank() > best.zone.HazardLevel.Rank() ||
				(c.zone.HazardLevel.Rank() == best.zone.HazardLevel.Rank() &&
					c.distanceM < best.distanceM) {
				best = c
			}
		}
		return best.zone, best.distanceM
	}

	// nothing contains the point: closest centroid wins
	best := scored{
		zone:      &candidates[0],
		distanceM: geo.HaversineM(lat, lon, candidates[0].CentroidLat, candidates[0].CentroidLon),
	}
	for i := 1; i < len(candidates); i++ {
		z := &candidates[i]
		d := geo.HaversineM(lat, lon, z.CentroidLat, z.CentroidLon)
		if d < best.distanceM {
			best = scored{zone: z, distanceM: d}
		}
	}
	return best.zone, best.distanceM
}
