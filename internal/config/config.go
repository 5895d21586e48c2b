// Package config centralises every behaviour-affecting parameter. Values are
// read once at startup; nothing inside the pipeline touches the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type LLMCfg struct {
	BaseURL      string
	APIKey       string
	ModelID      string
	MaxTokens    int
	Temperature  float64
	TopP         float64
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	CallTimeout  time.Duration
	RatePerSec   float64
	ParseRetries int
}

type BusCfg struct {
	Brokers    []string
	EventTopic string
	AlertTopic string
	QueueSize  int
}

type Config struct {
	Addr     string
	LogLevel string

	RedisAddr string

	Bus BusCfg
	LLM LLMCfg

	GeocoderURL    string
	GeocodeTimeout time.Duration

	// detection
	RiskThreshold      float64
	CorrelationRadiusM float64
	ClusterRadiusM     float64
	MinClusterSize     int
	WindowSeconds      int
	DetectFanout       int
	DetectDeadline     time.Duration
	DetectInterval     time.Duration

	// ingest
	IngestDeadline   time.Duration
	EnableEnrichment bool
	EnableEventPub   bool
	EnrichCacheSize  int

	// zone index
	MaxDistanceKM     float64
	RadiusKM          float64
	ZoneGeohashLen    int
	FineGeohashLen    int
	ZoneQueryTimeout  time.Duration
	TelemetryPageTime time.Duration

	// alerts
	AlertTTL         time.Duration
	AlertDedupWindow time.Duration
	AlertExpireGrace time.Duration

	// scoring
	HazardDefaults   map[string]float64 // soil type -> critical moisture %
	SFZeroIsCritical bool
	TelemetryTTL     time.Duration
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),

		Bus: BusCfg{
			Brokers:    splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			EventTopic: getenv("KAFKA_EVENT_TOPIC", "openlews-events"),
			AlertTopic: getenv("KAFKA_ALERT_TOPIC", "openlews-alerts"),
			QueueSize:  getint("KAFKA_QUEUE_SIZE", 1024),
		},

		LLM: LLMCfg{
			BaseURL:      getenv("LLM_BASE_URL", ""),
			APIKey:       getenv("LLM_API_KEY", ""),
			ModelID:      getenv("LLM_MODEL_ID", "gpt-4o-mini"),
			MaxTokens:    getint("LLM_MAX_TOKENS", 2000),
			Temperature:  getfloat("LLM_TEMPERATURE", 0.3),
			TopP:         getfloat("LLM_TOP_P", 0.9),
			MaxAttempts:  getint("LLM_MAX_ATTEMPTS", 6),
			BackoffBase:  getduration("LLM_BACKOFF_BASE", 600*time.Millisecond),
			BackoffCap:   getduration("LLM_BACKOFF_CAP", 10*time.Second),
			CallTimeout:  getduration("LLM_CALL_TIMEOUT", 20*time.Second),
			RatePerSec:   getfloat("LLM_RATE_PER_SEC", 2.0),
			ParseRetries: getint("LLM_PARSE_RETRIES", 2),
		},

		GeocoderURL:    getenv("GEOCODER_URL", ""),
		GeocodeTimeout: getduration("GEOCODE_TIMEOUT", 3*time.Second),

		RiskThreshold:      getfloat("RISK_THRESHOLD", 0.6),
		CorrelationRadiusM: getfloat("CORRELATION_RADIUS_M", 50),
		ClusterRadiusM:     getfloat("CLUSTER_RADIUS_M", 50),
		MinClusterSize:     getint("MIN_CLUSTER_SIZE", 3),
		WindowSeconds:      getint("WINDOW_SECONDS", 24*3600),
		DetectFanout:       getint("DETECT_FANOUT", 8),
		DetectDeadline:     getduration("DETECT_DEADLINE", 5*time.Minute),
		DetectInterval:     getduration("DETECT_INTERVAL", 15*time.Minute),

		IngestDeadline:   getduration("INGEST_DEADLINE", 60*time.Second),
		EnableEnrichment: getbool("ENABLE_ENRICHMENT", true),
		EnableEventPub:   getbool("ENABLE_EVENT_PUBLISH", true),
		EnrichCacheSize:  getint("ENRICH_CACHE_SIZE", 256),

		MaxDistanceKM:     getfloat("MAX_DISTANCE_KM", 5.0),
		RadiusKM:          getfloat("RADIUS_KM", 1.0),
		ZoneGeohashLen:    getint("ZONE_GEOHASH_PRECISION", 4),
		FineGeohashLen:    getint("FINE_GEOHASH_PRECISION", 6),
		ZoneQueryTimeout:  getduration("ZONE_QUERY_TIMEOUT", 3*time.Second),
		TelemetryPageTime: getduration("TELEMETRY_PAGE_TIMEOUT", 5*time.Second),

		AlertTTL:         getduration("ALERT_TTL", 30*24*time.Hour),
		AlertDedupWindow: getduration("ALERT_DEDUP_WINDOW", 6*time.Hour),
		AlertExpireGrace: getduration("ALERT_EXPIRE_GRACE", 24*time.Hour),

		HazardDefaults: parseFloatMap(getenv("HAZARD_DEFAULTS",
			"Colluvium=35,Residual=45,Fill=30,Bedrock=60")),
		SFZeroIsCritical: getbool("SF_ZERO_IS_CRITICAL", false),
		TelemetryTTL:     getduration("TELEMETRY_TTL", 30*24*time.Hour),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "Colluvium=35,Fill=30" into a map
func parseFloatMap(s string) map[string]float64 {
	out := map[string]float64{}
	for _, p := range strings.Split(strings.TrimSpace(s), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		if k == "" {
			continue
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64); err == nil {
			out[k] = f
		}
	}
	return out
}
