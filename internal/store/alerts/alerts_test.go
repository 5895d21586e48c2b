package alerts

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/store/keys"
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
	return New(rc, 30*24*time.Hour)
}

func alert(id string, level model.RiskLevel, conf float64, ts int64) model.Alert {
	return model.Alert{
		AlertID:         id,
		CreatedAt:       ts,
		UpdatedAt:       ts,
		Status:          model.StatusActive,
		RiskLevel:       level,
		Confidence:      conf,
		DetectionType:   model.DetectionCluster,
		SensorsAffected: []string{"s1", "s2", "s3"},
		CenterLat:       6.85,
		CenterLon:       80.93,
		TimeToFailure:   "24-48h",
	}
}

func TestCompareAndPut_CreateThenGet(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	a := alert("CLUSTER:zone-7", model.RiskOrange, 0.7, 1000)
	ok, err := st.CompareAndPut(ctx, a, 0)
	if err != nil {
		t.Fatalf("CompareAndPut: %v", err)
	}
	if !ok {
		t.Fatal("create with expected=0 did not win")
	}

	got, err := st.Get(ctx, "CLUSTER:zone-7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.RiskLevel != model.RiskOrange || got.Confidence != 0.7 {
		t.Fatalf("Get = %+v", got)
	}
}

func TestCompareAndPut_StaleWriterLoses(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	a := alert("CLUSTER:zone-7", model.RiskOrange, 0.7, 1000)
	if _, err := st.CompareAndPut(ctx, a, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	// first writer escalates
	b := a
	b.RiskLevel = model.RiskRed
	b.UpdatedAt = 2000
	if ok, err := st.CompareAndPut(ctx, b, 1000); err != nil || !ok {
		t.Fatalf("escalate = %v, %v", ok, err)
	}

	// second writer still holds the original read; must lose
	c := a
	c.RiskLevel = model.RiskYellow
	c.UpdatedAt = 2001
	ok, err := st.CompareAndPut(ctx, c, 1000)
	if err != nil {
		t.Fatalf("stale write: %v", err)
	}
	if ok {
		t.Fatal("stale writer won the compare-and-put")
	}

	got, err := st.Get(ctx, "CLUSTER:zone-7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RiskLevel != model.RiskRed {
		t.Fatalf("level after races = %s, want Red", got.RiskLevel)
	}
}

func TestGetActiveByPrefix(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	for _, a := range []model.Alert{
		alert("CLUSTER:zone-1", model.RiskOrange, 0.7, 1000),
		alert("CLUSTER:zone-2", model.RiskRed, 0.9, 1000),
		alert("SENSOR:s9", model.RiskYellow, 0.5, 1000),
	} {
		if _, err := st.CompareAndPut(ctx, a, 0); err != nil {
			t.Fatalf("put %s: %v", a.AlertID, err)
		}
	}

	clusters, err := st.GetActiveByPrefix(ctx, keys.ClusterAlertPrefix)
	if err != nil {
		t.Fatalf("GetActiveByPrefix: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("cluster alerts = %d, want 2", len(clusters))
	}

	sensors, err := st.GetActiveByPrefix(ctx, keys.SensorAlertPrefix)
	if err != nil {
		t.Fatalf("GetActiveByPrefix: %v", err)
	}
	if len(sensors) != 1 || sensors[0].AlertID != "SENSOR:s9" {
		t.Fatalf("sensor alerts = %+v", sensors)
	}
}

func TestMarkExpired_ExcludedFromActive(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	a := alert("SENSOR:s9", model.RiskYellow, 0.5, 1000)
	if _, err := st.CompareAndPut(ctx, a, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := st.MarkExpired(ctx, a, 5000)
	if err != nil || !ok {
		t.Fatalf("MarkExpired = %v, %v", ok, err)
	}

	active, err := st.GetActiveByPrefix(ctx, keys.SensorAlertPrefix)
	if err != nil {
		t.Fatalf("GetActiveByPrefix: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expired alert still listed active: %+v", active)
	}

	got, err := st.Get(ctx, "SENSOR:s9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
}

func TestGet_Missing(t *testing.T) {
	st := newStore(t)
	got, err := st.Get(context.Background(), "CLUSTER:none")
	if err != nil || got != nil {
		t.Fatalf("Get(missing) = %+v, %v", got, err)
	}
}
