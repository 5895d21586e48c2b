// Package geocode resolves alert coordinates into human-readable labels.
// Resolution is strictly best effort: a failed or unconfigured geocoder
// degrades to a coordinates-only location, never to an error for the caller.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/model"
)

const (
	resolvedByGeocoder    = "geocoder"
	resolvedByCoordinates = "coordinates"
)

type Resolver struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

type Option func(*Resolver)

// WithHTTPClient substitutes the transport, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// NewResolver builds a resolver against a reverse-geocoding endpoint. An
// empty baseURL is valid and yields coordinate-only resolutions.
func NewResolver(baseURL string, timeout time.Duration, log zerolog.Logger, opts ...Option) *Resolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	r := &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "geocode").Logger(),
	}
	for _, f := range opts {
		f(r)
	}
	return r
}

// geocodeResponse is the subset of the provider payload we keep. Address
// parts are joined most-specific first into the alert label.
type geocodeResponse struct {
	Label   string            `json:"label"`
	Address map[string]string `json:"address"`
}

// Resolve reverse-geocodes a position. It always returns a usable location:
// provider failures are logged and fall back to coordinates.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) model.ResolvedLocation {
	loc := coordinateFallback(lat, lon)
	if r.baseURL == "" {
		return loc
	}

	resolved, err := r.lookup(ctx, lat, lon)
	if err != nil {
		r.log.Warn().Err(err).
			Float64("lat", lat).Float64("lon", lon).
			Msg("reverse geocode failed, using coordinates")
		return loc
	}

	loc.Label = resolved.Label
	loc.Address = resolved.Address
	loc.ResolvedBy = resolvedByGeocoder
	return loc
}

func (r *Resolver) lookup(ctx context.Context, lat, lon float64) (*geocodeResponse, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lon))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, errs.E(errs.KindLocationResolve, "geocode.lookup", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errs.E(errs.KindLocationResolve, "geocode.lookup", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Errorf(errs.KindLocationResolve, "geocode.lookup",
			"geocoder returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errs.E(errs.KindLocationResolve, "geocode.lookup", err)
	}

	var out geocodeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.E(errs.KindLocationResolve, "geocode.lookup", err)
	}
	if out.Label == "" {
		out.Label = shortLabel(out.Address)
	}
	if out.Label == "" {
		return nil, errs.Errorf(errs.KindLocationResolve, "geocode.lookup", "empty geocoder result")
	}
	return &out, nil
}

// shortLabel joins the address parts most useful in an alert headline.
func shortLabel(addr map[string]string) string {
	var parts []string
	for _, k := range []string{"neighborhood", "municipality", "subregion", "region", "country"} {
		if v := addr[k]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

func coordinateFallback(lat, lon float64) model.ResolvedLocation {
	return model.ResolvedLocation{
		Label:         fmt.Sprintf("%.6f, %.6f", lat, lon),
		MapsURL:       fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%.6f,%.6f", lat, lon),
		DirectionsURL: fmt.Sprintf("https://www.google.com/maps/dir/?api=1&destination=%.6f,%.6f", lat, lon),
		ResolvedBy:    resolvedByCoordinates,
	}
}
