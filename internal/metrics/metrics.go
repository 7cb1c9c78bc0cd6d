// Package metrics exposes Prometheus collectors for the lending core:
// client operations, cascade reactions and change feed deliveries.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "shelfshare"

// Collector owns a private registry and implements the observer interfaces
// of lending.Service, cascade.Reactions and changefeed.Dispatcher.
type Collector struct {
	registry *prometheus.Registry

	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec

	reactions *prometheus.CounterVec

	deliveries      *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
}

// NewCollector creates a collector. An empty namespace uses DefaultNamespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lending",
			Name:      "operations_total",
			Help:      "Client operations by outcome code (ok, NOT_FOUND, INVALID_TRANSITION, ...)",
		},
		[]string{"operation", "code"},
	)
	c.operationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lending",
			Name:      "operation_duration_seconds",
			Help:      "Time taken by client operations, including conflict retries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)
	c.reactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cascade",
			Name:      "reactions_total",
			Help:      "Cascade reaction runs, split by whether they changed anything",
		},
		[]string{"reaction", "applied"},
	)
	c.deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "deliveries_total",
			Help:      "Settled deliveries by result (success, retry, dead)",
		},
		[]string{"subscriber", "result"},
	)
	c.deliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "delivery_duration_seconds",
			Help:      "Handler run time of successful deliveries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"subscriber"},
	)
	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route template, method and status",
		},
		[]string{"route", "method", "status"},
	)

	c.registry.MustRegister(
		c.operations,
		c.operationLatency,
		c.reactions,
		c.deliveries,
		c.deliveryLatency,
		c.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// OperationFinished implements lending.Observer.
func (c *Collector) OperationFinished(op string, err error, elapsed time.Duration) {
	code := "ok"
	if err != nil {
		code = string(domain.CodeOf(err))
		if code == "" {
			code = "error"
		}
	}
	c.operations.WithLabelValues(op, code).Inc()
	c.operationLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ReactionFinished implements cascade.Observer.
func (c *Collector) ReactionFinished(reaction string, applied bool) {
	c.reactions.WithLabelValues(reaction, strconv.FormatBool(applied)).Inc()
}

// DeliverySucceeded implements changefeed.Observer.
func (c *Collector) DeliverySucceeded(subscriber string, elapsed time.Duration) {
	c.deliveries.WithLabelValues(subscriber, "success").Inc()
	c.deliveryLatency.WithLabelValues(subscriber).Observe(elapsed.Seconds())
}

// DeliveryFailed implements changefeed.Observer.
func (c *Collector) DeliveryFailed(subscriber string, _ int, dead bool) {
	result := "retry"
	if dead {
		result = "dead"
	}
	c.deliveries.WithLabelValues(subscriber, result).Inc()
}

// RequestServed implements httpapi.Observer.
func (c *Collector) RequestServed(route, method string, status int) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// WatchOutbox adds a gauge of deliveries per status, read from the store on
// every scrape.
func (c *Collector) WatchOutbox(s *docstore.Store, namespace string) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	c.registry.MustRegister(&outboxCollector{
		store: s,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "changefeed", "deliveries"),
			"Deliveries currently in each status",
			[]string{"status"}, nil,
		),
	})
}

type outboxCollector struct {
	store *docstore.Store
	desc  *prometheus.Desc
}

func (o *outboxCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- o.desc
}

func (o *outboxCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	counts, err := o.store.DeliveryCounts(ctx)
	if err != nil {
		slog.Warn("outbox metrics unavailable", "error", err)
		return
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(o.desc, prometheus.GaugeValue, float64(n), string(status))
	}
}
