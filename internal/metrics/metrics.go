// Package metrics wires the Prometheus scrape surface. Application metrics
// register themselves on the default registry (see internal/observability);
// this package only adds the HTTP handler on top of it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akilada/openlews/internal/observability"
)

type BuildInfo struct {
	Version   string
	Revision  string
	BuildDate string
}

type Provider struct {
	gatherer prometheus.Gatherer
}

func Init(build BuildInfo) *Provider {
	observability.ExposeBuildInfo(build.Version)
	return &Provider{gatherer: prometheus.DefaultGatherer}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func (p *Provider) Registerer() prometheus.Registerer { return prometheus.DefaultRegisterer }
