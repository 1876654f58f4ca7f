package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	turnsTotal      *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costTotal       *prometheus.CounterVec
	activeTurns     prometheus.Gauge
	turnRounds      prometheus.Histogram
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	quotaRejections *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// NewCollector creates a collector on its own registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		turnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicpulse_turns_total",
			Help: "Chat turns by provider and outcome",
		}, []string{"provider", "outcome"}),
		tokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicpulse_tokens_total",
			Help: "Model tokens by provider and direction",
		}, []string{"provider", "type"}),
		costTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicpulse_cost_usd_total",
			Help: "Estimated platform spend in USD",
		}, []string{"provider"}),
		activeTurns: f.NewGauge(prometheus.GaugeOpts{
			Name: "civicpulse_active_turns",
			Help: "Chat turns currently in progress",
		}),
		turnRounds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicpulse_turn_rounds",
			Help:    "Model rounds per turn",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12},
		}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicpulse_tool_calls_total",
			Help: "Tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civicpulse_tool_duration_seconds",
			Help:    "Tool call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		quotaRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicpulse_quota_rejections_total",
			Help: "Requests refused by the quota gate",
		}, []string{"reason"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicpulse_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),
	}
}

// TurnStarted marks a turn as in progress and returns a func that ends it
func (c *Collector) TurnStarted() func() {
	if c == nil {
		return func() {}
	}
	c.activeTurns.Inc()
	return c.activeTurns.Dec
}

// ObserveTurn records a finished turn
func (c *Collector) ObserveTurn(provider, outcome string, rounds, inputTokens, outputTokens int, costUSD float64) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(provider, outcome).Inc()
	if rounds > 0 {
		c.turnRounds.Observe(float64(rounds))
	}
	c.tokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	c.tokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	if costUSD > 0 {
		c.costTotal.WithLabelValues(provider).Add(costUSD)
	}
}

// ObserveTool records one tool call
func (c *Collector) ObserveTool(name, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(name, outcome).Inc()
	c.toolDuration.WithLabelValues(name).Observe(d.Seconds())
}

// QuotaRejected counts a refused request
func (c *Collector) QuotaRejected(reason string) {
	if c == nil {
		return
	}
	c.quotaRejections.WithLabelValues(reason).Inc()
}

// ObserveRequest counts an HTTP request
func (c *Collector) ObserveRequest(route string, status int) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
