// Package metrics provides Prometheus metrics collection for entitygate.
package metrics

import (
	"strconv"
	"time"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "entitygate"

// Collector holds all Prometheus metrics for entitygate. It implements
// entity.Observer and supplies a storage.CallFunc.
type Collector struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	HookFailures      *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
	AuthFailures     *prometheus.CounterVec

	// Storage metrics
	StorageDuration *prometheus.HistogramVec
	StorageErrors   *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of entity operations by result code",
			},
			[]string{"collection", "op", "code"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Entity operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"collection", "op"},
		),
		HookFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_failures_total",
				Help:      "Total number of failed lifecycle hooks",
			},
			[]string{"collection", "stage"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),

		StorageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage call duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op", "collection"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of failed storage calls",
			},
			[]string{"op", "collection"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ObserveOperation records one entity operation.
func (c *Collector) ObserveOperation(collection, op string, code apierr.Code, elapsed time.Duration) {
	c.OperationsTotal.WithLabelValues(collection, op, string(code)).Inc()
	c.OperationDuration.WithLabelValues(collection, op).Observe(elapsed.Seconds())
}

// ObserveHookFailure records a failed hook.
func (c *Collector) ObserveHookFailure(collection, stage string) {
	c.HookFailures.WithLabelValues(collection, stage).Inc()
}

// ObserveStorage records one storage call. Its signature matches
// storage.CallFunc.
func (c *Collector) ObserveStorage(op, collection string, elapsed time.Duration, err error) {
	c.StorageDuration.WithLabelValues(op, collection).Observe(elapsed.Seconds())
	if err != nil {
		c.StorageErrors.WithLabelValues(op, collection).Inc()
	}
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int) {
	c.RequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
}

// RequestStarted marks a request in flight. The returned func marks it done.
func (c *Collector) RequestStarted() func() {
	c.RequestsInFlight.Inc()
	return c.RequestsInFlight.Dec
}

// ObserveAuthFailure records a rejected credential.
func (c *Collector) ObserveAuthFailure(reason string) {
	c.AuthFailures.WithLabelValues(reason).Inc()
}

// ObserveReload records a config reload attempt.
func (c *Collector) ObserveReload(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return strconv.Itoa(status)
	}
	return strconv.Itoa(status/100) + "xx"
}
