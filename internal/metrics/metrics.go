package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"db_path_migrator/internal/migrate"
)

const namespace = "migrator"

// Collector holds the migrator's Prometheus metrics in a private registry.
// It implements migrate.Observer.
type Collector struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	Steps         *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	PendingSteps  prometheus.Gauge
	AppliedSteps  prometheus.Gauge
	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Migration runs by direction and result",
		}, []string{"direction", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of migration runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Migration steps processed by direction and outcome",
		}, []string{"direction", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of executed migration steps in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		PendingSteps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_steps",
			Help:      "Declared steps not yet recorded in the ledger, as of the last status check",
		}),
		AppliedSteps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "applied_steps",
			Help:      "Rows in the ledger, as of the last status check",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		}, []string{"method", "path", "status_code"}),
		HTTPDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(c.Runs, c.RunDuration, c.Steps, c.StepDuration,
		c.PendingSteps, c.AppliedSteps, c.HTTPRequests, c.HTTPDurations)
	return c
}

func (c *Collector) ObserveStep(dir migrate.Direction, _ string, outcome migrate.Outcome, elapsed time.Duration) {
	c.Steps.WithLabelValues(string(dir), string(outcome)).Inc()
	if outcome != migrate.OutcomeSkipped {
		c.StepDuration.WithLabelValues(string(dir)).Observe(elapsed.Seconds())
	}
}

func (c *Collector) ObserveRun(dir migrate.Direction, err error, elapsed time.Duration) {
	status := "committed"
	if err != nil {
		status = "failed"
	}
	c.Runs.WithLabelValues(string(dir), status).Inc()
	c.RunDuration.WithLabelValues(string(dir)).Observe(elapsed.Seconds())
}

// ObserveStatus updates the ledger gauges from a reconciliation.
func (c *Collector) ObserveStatus(s *migrate.Status) {
	c.PendingSteps.Set(float64(len(s.Unrun)))
	c.AppliedSteps.Set(float64(len(s.Run)))
}

func (c *Collector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.HTTPDurations.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Push replaces the metrics grouped under job on the Pushgateway at url with
// the collector's current values.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	return push.New(url, job).Gatherer(c.registry).PushContext(ctx)
}
