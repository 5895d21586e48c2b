// Package zones reads the hazard-zone index written by the offline
// zonation loader. Zones are keyed by id and indexed per precision-4
// geohash cell.
package zones

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/store/keys"
	"github.com/akilada/openlews/internal/store/redisstore"
)

type Store struct {
	c *redisstore.Client
}

func New(c *redisstore.Client) *Store { return &Store{c: c} }

// Put writes one zone and registers it in its cell index. Used by the
// loader and by tests; the pipeline itself only reads.
func (s *Store) Put(ctx context.Context, z model.HazardZone) error {
	if z.ZoneID == "" || z.Geohash4 == "" {
		return errs.E(errs.KindValidation, "zones.Put",
			fmt.Errorf("zone needs id and geohash4, got %q / %q", z.ZoneID, z.Geohash4))
	}
	b, err := json.Marshal(z)
	if err != nil {
		return errs.E(errs.KindStorageFatal, "zones.Put", err)
	}
	if err := s.c.Set(ctx, keys.Zone(z.ZoneID), b, 0); err != nil {
		return errs.E(errs.KindStorageTransient, "zones.Put", err)
	}
	if err := s.c.SAdd(ctx, keys.ZoneCell(z.Geohash4), z.ZoneID); err != nil {
		return errs.E(errs.KindStorageTransient, "zones.Put", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.HazardZone, error) {
	b, err := s.c.Get(ctx, keys.Zone(id))
	if err != nil {
		return nil, errs.E(errs.KindStorageTransient, "zones.Get", err)
	}
	if b == nil {
		return nil, nil
	}
	var z model.HazardZone
	if err := json.Unmarshal(b, &z); err != nil {
		return nil, errs.E(errs.KindStorageFatal, "zones.Get",
			fmt.Errorf("decode zone %q: %w", id, err))
	}
	return &z, nil
}

// FindByCells returns every zone registered in any of the given
// precision-4 cells, sorted by zone id for deterministic iteration.
func (s *Store) FindByCells(ctx context.Context, cells []string) ([]model.HazardZone, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	idxKeys := make([]string, len(cells))
	for i, c := range cells {
		idxKeys[i] = keys.ZoneCell(c)
	}
	ids, err := s.c.SUnion(ctx, idxKeys...)
	if err != nil {
		return nil, errs.E(errs.KindStorageTransient, "zones.FindByCells", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	zoneKeys := make([]string, len(ids))
	for i, id := range ids {
		zoneKeys[i] = keys.Zone(id)
	}
	found, err := s.c.MGet(ctx, zoneKeys)
	if err != nil {
		return nil, errs.E(errs.KindStorageTransient, "zones.FindByCells", err)
	}

	out := make([]model.HazardZone, 0, len(found))
	for _, k := range zoneKeys {
		b, ok := found[k]
		if !ok {
			continue // index entry for a deleted zone
		}
		var z model.HazardZone
		if err := json.Unmarshal(b, &z); err != nil {
			return nil, errs.E(errs.KindStorageFatal, "zones.FindByCells",
				fmt.Errorf("decode %q: %w", k, err))
		}
		out = append(out, z)
	}
	return out, nil
}
