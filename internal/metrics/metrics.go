// Package metrics holds the Prometheus collectors for the bot.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgerchat"

// Outcome labels for command metrics.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeReplayed = "replayed"
)

// Collector owns a private registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	AuditFailures   prometheus.Counter
	RateLimited     prometheus.Counter
	Suspicious      prometheus.Counter
}

func New() *Collector {
	registry := prometheus.NewRegistry()

	commands := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled, by intent and outcome",
		},
		[]string{"intent", "outcome"},
	)

	commandDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from resolution to reply, by intent",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"intent"},
	)

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	auditFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Committed mutations whose audit record could not be written",
		},
	)

	rateLimited := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the per-IP rate limiter",
		},
	)

	suspicious := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicious_requests_total",
			Help:      "Requests matching a known probing pattern",
		},
	)

	registry.MustRegister(
		commands,
		commandDuration,
		httpRequests,
		httpDuration,
		auditFailures,
		rateLimited,
		suspicious,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry:        registry,
		Commands:        commands,
		CommandDuration: commandDuration,
		HTTPRequests:    httpRequests,
		HTTPDuration:    httpDuration,
		AuditFailures:   auditFailures,
		RateLimited:     rateLimited,
		Suspicious:      suspicious,
	}
}

// ObserveCommand counts one command and its latency.
func (c *Collector) ObserveCommand(intent, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(intent, outcome).Inc()
	c.CommandDuration.WithLabelValues(intent).Observe(d.Seconds())
}

// ObserveHTTP counts one HTTP request.
func (c *Collector) ObserveHTTP(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) RateLimitHit() {
	if c != nil {
		c.RateLimited.Inc()
	}
}

func (c *Collector) SuspiciousRequest() {
	if c != nil {
		c.Suspicious.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
