package zones

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/store/redisstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return New(rc)
}

func zone(id, gh4 string, level model.HazardLevel) model.HazardZone {
	return model.HazardZone{
		ZoneID:      id,
		HazardLevel: level,
		CentroidLat: 6.85,
		CentroidLon: 80.93,
		Geohash4:    gh4,
		District:    "Badulla",
		SoilType:    "Colluvium",
		Version:     1,
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	z := zone("zone-7", "tc3j", model.HazardHigh)
	if err := st.Put(ctx, z); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := st.Get(ctx, "zone-7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ZoneID != "zone-7" || got.HazardLevel != model.HazardHigh {
		t.Fatalf("Get = %+v", got)
	}

	missing, err := st.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("Get(missing) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestPut_RejectsIncompleteZone(t *testing.T) {
	st := newStore(t)
	err := st.Put(context.Background(), model.HazardZone{ZoneID: "x"})
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("Put without geohash4: err = %v, want validation kind", err)
	}
}

func TestFindByCells_UnionAndOrder(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	for _, z := range []model.HazardZone{
		zone("z-b", "tc3j", model.HazardHigh),
		zone("z-a", "tc3j", model.HazardModerate),
		zone("z-c", "tc3m", model.HazardVeryHigh),
		zone("z-d", "u4pr", model.HazardLow), // different cell, not queried
	} {
		if err := st.Put(ctx, z); err != nil {
			t.Fatalf("Put %s: %v", z.ZoneID, err)
		}
	}

	got, err := st.FindByCells(ctx, []string{"tc3j", "tc3m"})
	if err != nil {
		t.Fatalf("FindByCells: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("FindByCells returned %d zones, want 3", len(got))
	}
	wantOrder := []string{"z-a", "z-b", "z-c"}
	for i, w := range wantOrder {
		if got[i].ZoneID != w {
			t.Fatalf("order[%d] = %s, want %s (full: %+v)", i, got[i].ZoneID, w, got)
		}
	}
}

func TestFindByCells_EmptyInputs(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	if got, err := st.FindByCells(ctx, nil); err != nil || got != nil {
		t.Fatalf("FindByCells(nil) = %v, %v", got, err)
	}
	if got, err := st.FindByCells(ctx, []string{"zzzz"}); err != nil || len(got) != 0 {
		t.Fatalf("FindByCells(no zones) = %v, %v", got, err)
	}
}
