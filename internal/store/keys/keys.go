// Package keys builds the Redis key families used across the stores. Key
// shapes live here so the layout can be read in one place.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	readingPrefix = "telemetry:reading:"
	timeIndexKey  = "telemetry:by_time"
	latestHashKey = "telemetry:latest"
	zonePrefix    = "zone:"
	zoneCellPfx   = "zoneidx:"
	alertPrefix   = "alert:"
)

// ClusterAlertPrefix and SensorAlertPrefix partition the alert id space by
// detection type.
const (
	ClusterAlertPrefix = "CLUSTER:"
	SensorAlertPrefix  = "SENSOR:"
)

func Reading(sensorID string, ts int64) string {
	return fmt.Sprintf("%s%s:%d", readingPrefix, Sanitize(sensorID), ts)
}

func TimeIndex() string { return timeIndexKey }

func LatestHash() string { return latestHashKey }

func Zone(id string) string { return zonePrefix + Sanitize(id) }

func ZoneCell(geohash string) string { return zoneCellPfx + strings.ToLower(geohash) }

func Alert(id string) string { return alertPrefix + id }

// AlertPattern is the SCAN pattern for one detection type, e.g.
// "alert:CLUSTER:*".
func AlertPattern(idPrefix string) string { return alertPrefix + idPrefix + "*" }

func ClusterAlertID(zoneID string) string { return ClusterAlertPrefix + Sanitize(zoneID) }

func SensorAlertID(sensorID string) string { return SensorAlertPrefix + Sanitize(sensorID) }

// BatchID fingerprints a raw request body for log correlation.
func BatchID(body []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(body))
}

// Sanitize keeps identifiers key-safe: whitespace becomes '_', anything
// outside [a-zA-Z0-9:_-] becomes '-', and runs collapse.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
