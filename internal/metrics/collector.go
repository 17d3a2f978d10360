// Package metrics exports ledger and HTTP activity to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/machinat/sociably-sub013/internal/platform/queue"
)

// Collector records ledger activity. It implements queue.Observer.
type Collector struct {
	reg prometheus.Registerer

	// ledger
	jobsSubmitted   prometheus.Counter
	jobsAcquired    prometheus.Counter
	jobsEvicted     prometheus.Counter
	requestsSettled *prometheus.CounterVec
	settleDuration  prometheus.Histogram

	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	namespace string
}

// Ensure Collector satisfies the ledger observer interface
var _ queue.Observer = (*Collector)(nil)

// NewCollector registers the metrics under namespace on reg.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	c := &Collector{reg: reg, namespace: namespace}

	c.jobsSubmitted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_submitted_total",
		Help:      "Total number of jobs appended to the ledger",
	})

	c.jobsAcquired = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_acquired_total",
		Help:      "Total number of jobs handed to workers",
	})

	c.jobsEvicted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_evicted_total",
		Help:      "Total number of queued jobs dropped after a failure in their request",
	})

	c.requestsSettled = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_settled_total",
			Help:      "Total number of settled requests",
		},
		[]string{"status"},
	)

	c.settleDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_settle_duration_seconds",
		Help:      "Time from submit to settlement in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// TrackLength exports length, typically the ledger's Len, as a gauge read
// on every scrape.
func (c *Collector) TrackLength(length func() int) {
	promauto.With(c.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      "ledger_length",
		Help:      "Number of jobs waiting in the ledger",
	}, func() float64 { return float64(length()) })
}

func (c *Collector) JobsSubmitted(n int) { c.jobsSubmitted.Add(float64(n)) }
func (c *Collector) JobsAcquired(n int)  { c.jobsAcquired.Add(float64(n)) }
func (c *Collector) JobsEvicted(n int)   { c.jobsEvicted.Add(float64(n)) }

func (c *Collector) RequestSettled(success bool, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.requestsSettled.WithLabelValues(status).Inc()
	c.settleDuration.Observe(elapsed.Seconds())
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
