package telemetry

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/store/redisstore"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
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
	return New(rc, time.Hour), mr
}

func reading(sensor string, ts int64, moisture float64) model.Reading {
	return model.Reading{
		SensorID:        sensor,
		Timestamp:       ts,
		Latitude:        6.85,
		Longitude:       80.93,
		Geohash:         "tc3jvx",
		MoisturePercent: moisture,
	}
}

func TestPutBatch_QueryWindow(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	batch := []model.Reading{
		reading("s1", 1000, 40),
		reading("s2", 1500, 55),
		reading("s1", 2000, 60),
	}
	fails, err := st.PutBatch(ctx, batch)
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if len(fails) != 0 {
		t.Fatalf("unexpected failures: %+v", fails)
	}

	got, err := st.QueryWindow(ctx, 1000, 1600)
	if err != nil {
		t.Fatalf("QueryWindow: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("window [1000,1600] returned %d readings, want 2", len(got))
	}
	for _, r := range got {
		if r.Timestamp < 1000 || r.Timestamp > 1600 {
			t.Errorf("reading outside window: %+v", r)
		}
	}

	all, err := st.QueryWindow(ctx, 0, 3000)
	if err != nil {
		t.Fatalf("QueryWindow: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("full window returned %d, want 3", len(all))
	}
}

func TestLatestPerSensor_LateReadingDoesNotRegress(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	if _, err := st.PutBatch(ctx, []model.Reading{reading("s1", 2000, 60)}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	// a delayed older reading arrives afterwards
	if _, err := st.PutBatch(ctx, []model.Reading{reading("s1", 1000, 40)}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	latest, err := st.LatestPerSensor(ctx)
	if err != nil {
		t.Fatalf("LatestPerSensor: %v", err)
	}
	got, ok := latest["s1"]
	if !ok {
		t.Fatal("s1 missing from latest projection")
	}
	if got.Timestamp != 2000 {
		t.Fatalf("latest timestamp = %d, want 2000", got.Timestamp)
	}
}

func TestQueryWindow_SkipsExpiredKeys(t *testing.T) {
	st, mr := newStore(t)
	ctx := context.Background()

	if _, err := st.PutBatch(ctx, []model.Reading{
		reading("s1", 1000, 40),
		reading("s2", 1200, 50),
	}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	// simulate TTL expiry of one backing key while the index entry remains
	mr.FastForward(2 * time.Hour)
	// re-add the survivor so only s1's key is gone
	if _, err := st.PutBatch(ctx, []model.Reading{reading("s2", 1200, 50)}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	got, err := st.QueryWindow(ctx, 0, 3000)
	if err != nil {
		t.Fatalf("QueryWindow: %v", err)
	}
	if len(got) != 1 || got[0].SensorID != "s2" {
		t.Fatalf("QueryWindow after expiry = %+v, want just s2", got)
	}
}

func TestPruneIndex(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	if _, err := st.PutBatch(ctx, []model.Reading{
		reading("s1", 1000, 40),
		reading("s2", 5000, 50),
	}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if err := st.PruneIndex(ctx, 2000); err != nil {
		t.Fatalf("PruneIndex: %v", err)
	}
	got, err := st.QueryWindow(ctx, 0, 10000)
	if err != nil {
		t.Fatalf("QueryWindow: %v", err)
	}
	if len(got) != 1 || got[0].SensorID != "s2" {
		t.Fatalf("after prune = %+v, want just s2", got)
	}
}

func TestPutBatch_Empty(t *testing.T) {
	st, _ := newStore(t)
	fails, err := st.PutBatch(context.Background(), nil)
	if err != nil || fails != nil {
		t.Fatalf("PutBatch(nil) = %v, %v; want nil, nil", fails, err)
	}
}
