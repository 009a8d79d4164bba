package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bucketreplicator/internal/progress"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes replication metrics
type Collector struct {
	registry        *prometheus.Registry
	keysTotal       *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	inflightWorkers prometheus.Gauge
	queueDepth      prometheus.Gauge
	duration        prometheus.Histogram
	progressTracker *progress.Tracker
}

// New creates a new metrics collector on its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		keysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replicate_keys_total",
				Help: "Total number of keys handled, by outcome",
			},
			[]string{"outcome"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "replicate_bytes_total",
				Help: "Total bytes copied to the target",
			},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "replicate_inflight_copiers",
				Help: "Number of copiers currently processing a key",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "replicate_queue_depth",
				Help: "Keys waiting in the work queue at last sample",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "replicate_key_duration_seconds",
				Help:    "Time taken to probe and copy one key",
				Buckets: prometheus.DefBuckets,
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(c.keysTotal, c.bytesTotal, c.inflightWorkers, c.queueDepth, c.duration)

	return c
}

// IncOutcome increments the key counter for outcome and updates progress
func (c *Collector) IncOutcome(outcome string, bytes int64) {
	c.keysTotal.WithLabelValues(outcome).Inc()
	c.progressTracker.Add(outcome, bytes)
}

// AddBytes adds to total bytes copied
func (c *Collector) AddBytes(bytes int64) {
	c.bytesTotal.Add(float64(bytes))
}

// IncInflight marks one more busy copier
func (c *Collector) IncInflight() {
	c.inflightWorkers.Inc()
}

// DecInflight marks one fewer busy copier
func (c *Collector) DecInflight() {
	c.inflightWorkers.Dec()
}

// SetQueueDepth records the sampled queue length
func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// ObserveDuration observes per-key processing time
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the /metrics HTTP handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves metrics on addr until ctx is cancelled
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}
