// Package alerts persists durable alerts. Each alert is a Redis hash whose
// "json" field carries the document and whose side fields (rank, confidence,
// status, updated_at) let concurrent writers compare without decoding.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/store/keys"
	"github.com/akilada/openlews/internal/store/redisstore"
)

// casScript writes the alert only when updated_at still matches what the
// caller read, so two detector runs cannot interleave a downgrade.
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'updated_at')
if cur == false then cur = '0' end
if cur ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1],
  'json', ARGV[2],
  'rank', ARGV[3],
  'confidence', ARGV[4],
  'status', ARGV[5],
  'updated_at', ARGV[6])
redis.call('EXPIRE', KEYS[1], ARGV[7])
return 1
`)

type Store struct {
	c   *redisstore.Client
	ttl time.Duration
}

func New(c *redisstore.Client, ttl time.Duration) *Store {
	return &Store{c: c, ttl: ttl}
}

// Get returns (nil, nil) for an unknown alert id.
func (s *Store) Get(ctx context.Context, id string) (*model.Alert, error) {
	fields, err := s.c.HGetAll(ctx, keys.Alert(id))
	if err != nil {
		return nil, errs.E(errs.KindStorageTransient, "alerts.Get", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeAlert(id, fields)
}

// CompareAndPut writes the alert if its stored updated_at still equals
// expectedUpdatedAt (0 for a new alert). Returns false when another writer
// got there first; the caller re-reads and re-decides.
func (s *Store) CompareAndPut(ctx context.Context, a model.Alert, expectedUpdatedAt int64) (bool, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return false, errs.E(errs.KindStorageFatal, "alerts.CompareAndPut", err)
	}
	res, err := s.c.Eval(ctx, casScript, []string{keys.Alert(a.AlertID)},
		strconv.FormatInt(expectedUpdatedAt, 10),
		string(b),
		strconv.Itoa(a.RiskLevel.Rank()),
		strconv.FormatFloat(a.Confidence, 'f', -1, 64),
		string(a.Status),
		strconv.FormatInt(a.UpdatedAt, 10),
		strconv.FormatInt(int64(s.ttl.Seconds()), 10),
	)
	if err != nil {
		return false, errs.E(errs.KindStorageTransient, "alerts.CompareAndPut", err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// GetActiveByPrefix returns every non-expired alert whose id carries the
// given prefix (keys.ClusterAlertPrefix or keys.SensorAlertPrefix) and whose
// status is still active.
func (s *Store) GetActiveByPrefix(ctx context.Context, idPrefix string) ([]model.Alert, error) {
	ks, err := s.c.ScanKeys(ctx, keys.AlertPattern(idPrefix))
	if err != nil {
		return nil, errs.E(errs.KindStorageTransient, "alerts.GetActiveByPrefix", err)
	}

	out := make([]model.Alert, 0, len(ks))
	for _, k := range ks {
		fields, err := s.c.HGetAll(ctx, k)
		if err != nil {
			return nil, errs.E(errs.KindStorageTransient, "alerts.GetActiveByPrefix", err)
		}
		if len(fields) == 0 {
			continue // expired between scan and read
		}
		if model.AlertStatus(fields["status"]) != model.StatusActive {
			continue
		}
		a, err := decodeAlert(k, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

// MarkExpired flips an active alert to expired in place. Used by the sweep
// that runs ahead of each detection pass.
func (s *Store) MarkExpired(ctx context.Context, a model.Alert, now int64) (bool, error) {
	prev := a.UpdatedAt
	a.Status = model.StatusExpired
	a.UpdatedAt = now
	return s.CompareAndPut(ctx, a, prev)
}

func decodeAlert(key string, fields map[string]string) (*model.Alert, error) {
	raw, ok := fields["json"]
	if !ok {
		return nil, errs.E(errs.KindStorageFatal, "alerts.decode",
			fmt.Errorf("alert %q has no json field", key))
	}
	var a model.Alert
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, errs.E(errs.KindStorageFatal, "alerts.decode",
			fmt.Errorf("decode %q: %w", key, err))
	}
	return &a, nil
}
