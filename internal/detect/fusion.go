package detect

import (
	"sort"

	"github.com/akilada/openlews/internal/geo"
	"github.com/akilada/openlews/internal/model"
)

type FusionConfig struct {
	CorrelationRadiusM float64
	ClusterRadiusM     float64
	MinClusterSize     int
	RiskThreshold      float64
}

func (c FusionConfig) withDefaults() FusionConfig {
	if c.CorrelationRadiusM <= 0 {
		c.CorrelationRadiusM = 50
	}
	if c.ClusterRadiusM <= 0 {
		c.ClusterRadiusM = 50
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = 3
	}
	if c.RiskThreshold <= 0 {
		c.RiskThreshold = 0.6
	}
	return c
}

// Fuse fills in spatial correlation and composite risk for every analysis.
// Correlation is the share of neighbours (within the correlation radius)
// whose base risk agrees within 0.2; with no neighbours it is a neutral 0.5.
// Agreement boosts the composite (x1.3), isolation attenuates it (x0.5).
func Fuse(analyses []model.SensorAnalysis, cfg FusionConfig) {
	cfg = cfg.withDefaults()

	for i := range analyses {
		a := &analyses[i]
		neighbours := 0
		agreeing := 0
		a.NeighbourIDs = a.NeighbourIDs[:0]
		for j := range analyses {
			if i == j {
				continue
			}
			b := &analyses[j]
			d := geo.HaversineM(
				a.Reading.Latitude, a.Reading.Longitude,
				b.Reading.Latitude, b.Reading.Longitude,
			)
			if d > cfg.CorrelationRadiusM {
				continue
			}
			neighbours++
			a.NeighbourIDs = append(a.NeighbourIDs, b.SensorID)
			if diff := b.BaseRisk - a.BaseRisk; diff >= -0.2 && diff <= 0.2 {
				agreeing++
			}
		}

		if neighbours == 0 {
			a.SpatialCorrelation = 0.5
		} else {
			a.SpatialCorrelation = float64(agreeing) / float64(neighbours)
		}
		sort.Strings(a.NeighbourIDs)

		m := 1.0
		switch {
		case a.SpatialCorrelation > 0.6:
			m = 1.3
		case a.SpatialCorrelation < 0.3:
			m = 0.5
		}
		composite := a.BaseRisk * m
		if composite > 1 {
			composite = 1
		}
		if composite < 0 {
			composite = 0
		}
		a.CompositeRisk = composite
	}
}

// Clusters groups high-risk sensors by single-linkage within the cluster
// radius and emits every connected component of at least MinClusterSize.
// The result is deterministic regardless of input ordering.
func Clusters(analyses []model.SensorAnalysis, cfg FusionConfig) []model.Cluster {
	cfg = cfg.withDefaults()

	high := make([]*model.SensorAnalysis, 0, len(analyses))
	for i := range analyses {
		if analyses[i].CompositeRisk >= cfg.RiskThreshold {
			high = append(high, &analyses[i])
		}
	}
	if len(high) == 0 {
		return nil
	}
	// canonical order so union-find results do not depend on caller ordering
	sort.Slice(high, func(i, j int) bool { return high[i].SensorID < high[j].SensorID })

	parent := make([]int, len(high))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	for i := 0; i < len(high); i++ {
		for j := i + 1; j < len(high); j++ {
			d := geo.HaversineM(
				high[i].Reading.Latitude, high[i].Reading.Longitude,
				high[j].Reading.Latitude, high[j].Reading.Longitude,
			)
			if d <= cfg.ClusterRadiusM {
				union(i, j)
			}
		}
	}

	groups := map[int][]*model.SensorAnalysis{}
	for i := range high {
		root := find(i)
		groups[root] = append(groups[root], high[i])
	}

	roots := make([]int, 0, len(groups))
	for r := range groups {
		roots = append(roots, r)
	}
	sort.Ints(roots)

	var out []model.Cluster
	for _, r := range roots {
		members := groups[r]
		if len(members) < cfg.MinClusterSize {
			continue
		}
		// members listed by descending composite risk, ties by sensor id
		sort.Slice(members, func(i, j int) bool {
			if members[i].CompositeRisk != members[j].CompositeRisk {
				return members[i].CompositeRisk > members[j].CompositeRisk
			}
			return members[i].SensorID < members[j].SensorID
		})

		var latSum, lonSum, riskSum, maxRisk float64
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.SensorID
			latSum += m.Reading.Latitude
			lonSum += m.Reading.Longitude
			riskSum += m.CompositeRisk
			if m.CompositeRisk > maxRisk {
				maxRisk = m.CompositeRisk
			}
		}
		n := float64(len(members))
		out = append(out, model.Cluster{
			Members:          ids,
			CenterSensor:     members[0].SensorID,
			CentroidLat:      latSum / n,
			CentroidLon:      lonSum / n,
			AvgCompositeRisk: riskSum / n,
			MaxCompositeRisk: maxRisk,
		})
	}
	return out
}
