package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Pinger is satisfied by the Redis client wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness reports 503 until the backing store answers a ping.
func Readiness(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"store": "ok"}
		if p == nil {
			status = http.StatusServiceUnavailable
			body["store"] = "unconfigured"
		} else if err := p.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["store"] = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
