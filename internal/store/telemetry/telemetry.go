// Package telemetry persists validated sensor readings and serves the
// time-window and latest-per-sensor queries the detection engine runs on.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/store/keys"
	"github.com/akilada/openlews/internal/store/redisstore"
)

type Store struct {
	c   *redisstore.Client
	ttl time.Duration
}

func New(c *redisstore.Client, ttl time.Duration) *Store {
	return &Store{c: c, ttl: ttl}
}

// WriteFailure reports one reading that could not be persisted. The rest of
// the batch is unaffected.
type WriteFailure struct {
	SensorID  string `json:"sensor_id"`
	Timestamp int64  `json:"timestamp"`
	Detail    string `json:"detail"`
}

// PutBatch stores each reading under its own key, indexes it by timestamp and
// refreshes the latest-per-sensor projection. Returns per-reading failures;
// the error is non-nil only when the whole batch is undeliverable.
func (s *Store) PutBatch(ctx context.Context, readings []model.Reading) ([]WriteFailure, error) {
	if len(readings) == 0 {
		return nil, nil
	}

	kv := make(map[string][]byte, len(readings))
	blobs := make([][]byte, len(readings))
	var failures []WriteFailure
	for i, r := range readings {
		b, err := json.Marshal(r)
		if err != nil {
			failures = append(failures, WriteFailure{
				SensorID: r.SensorID, Timestamp: r.Timestamp,
				Detail: fmt.Sprintf("encode: %v", err),
			})
			continue
		}
		blobs[i] = b
		kv[keys.Reading(r.SensorID, r.Timestamp)] = b
	}
	if len(kv) == 0 {
		return failures, nil
	}

	if err := s.c.PipelineSet(ctx, kv, s.ttl); err != nil {
		return failures, errs.E(errs.KindStorageTransient, "telemetry.PutBatch", err)
	}

	for i, r := range readings {
		if blobs[i] == nil {
			continue
		}
		key := keys.Reading(r.SensorID, r.Timestamp)
		if err := s.c.ZAdd(ctx, keys.TimeIndex(), float64(r.Timestamp), key); err != nil {
			failures = append(failures, WriteFailure{
				SensorID: r.SensorID, Timestamp: r.Timestamp,
				Detail: fmt.Sprintf("index: %v", err),
			})
			continue
		}
		if err := s.refreshLatest(ctx, r, blobs[i]); err != nil {
			failures = append(failures, WriteFailure{
				SensorID: r.SensorID, Timestamp: r.Timestamp,
				Detail: fmt.Sprintf("latest: %v", err),
			})
		}
	}
	return failures, nil
}

// refreshLatest only advances the projection; a late reading never
// overwrites a newer one.
func (s *Store) refreshLatest(ctx context.Context, r model.Reading, blob []byte) error {
	existing, err := s.c.HGetAll(ctx, keys.LatestHash())
	if err != nil {
		return err
	}
	if prev, ok := existing[r.SensorID]; ok {
		var p model.Reading
		if json.Unmarshal([]byte(prev), &p) == nil && p.Timestamp > r.Timestamp {
			return nil
		}
	}
	return s.c.HSet(ctx, keys.LatestHash(), r.SensorID, blob)
}

// QueryWindow returns all readings with from <= timestamp <= to. Index
// entries whose backing keys have expired are dropped from the result.
func (s *Store) QueryWindow(ctx context.Context, from, to int64) ([]model.Reading, error) {
	members, err := s.c.ZRangeByScore(ctx, keys.TimeIndex(), float64(from), float64(to))
	if err != nil {
		return nil, errs.E(errs.KindStorageTransient, "telemetry.QueryWindow", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	found, err := s.c.MGet(ctx, members)
	if err != nil {
		return nil, errs.E(errs.KindStorageTransient, "telemetry.QueryWindow", err)
	}

	out := make([]model.Reading, 0, len(found))
	for _, k := range members {
		b, ok := found[k]
		if !ok {
			continue // key expired under the index entry
		}
		var r model.Reading
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, errs.E(errs.KindStorageFatal, "telemetry.QueryWindow",
				fmt.Errorf("decode %q: %w", k, err))
		}
		out = append(out, r)
	}
	return out, nil
}

// LatestPerSensor returns the most recent reading for every known sensor.
func (s *Store) LatestPerSensor(ctx context.Context) (map[string]model.Reading, error) {
	raw, err := s.c.HGetAll(ctx, keys.LatestHash())
	if err != nil {
		return nil, errs.E(errs.KindStorageTransient, "telemetry.LatestPerSensor", err)
	}
	out := make(map[string]model.Reading, len(raw))
	for sensorID, v := range raw {
		var r model.Reading
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, errs.E(errs.KindStorageFatal, "telemetry.LatestPerSensor",
				fmt.Errorf("decode latest for %q: %w", sensorID, err))
		}
		out[sensorID] = r
	}
	return out, nil
}

// PruneIndex drops index entries older than the cutoff. The backing keys
// expire on their own; this keeps the sorted set from growing unbounded.
func (s *Store) PruneIndex(ctx context.Context, olderThan int64) error {
	err := s.c.ZRemRangeByScore(ctx, keys.TimeIndex(), 0, float64(olderThan))
	if err != nil {
		return errs.E(errs.KindStorageTransient, "telemetry.PruneIndex", err)
	}
	return nil
}
