package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/service"
)

// Metrics holds the gateway's Prometheus metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all request metrics with the given
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fastmcp_gateway",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fastmcp_gateway",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// RegisterGatewayCollectors registers gauges sampled from the gateway's
// registry on every scrape.
func RegisterGatewayCollectors(reg prometheus.Registerer, g *service.Gateway) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "fastmcp_gateway",
			Name:      "registered_tools",
			Help:      "Number of tools currently in the registry",
		},
		func() float64 { return float64(g.Registry().ToolCount()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "fastmcp_gateway",
			Name:      "upstream_domains",
			Help:      "Number of configured upstream domains",
		},
		func() float64 { return float64(len(g.Manager().Domains())) },
	))
}
