// Package metrics exports benchmark activity as Prometheus metrics. The
// collectors are fed from bus events, so any process subscribed to the
// bus (including a Kafka consumer) reports the same numbers.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MochiXu/hybrid-search-ranx/internal/bus"
)

// Metrics holds the benchmark collectors.
type Metrics struct {
	benchmarks      prometheus.Counter
	benchmarkMillis prometheus.Histogram
	optimizations   *prometheus.CounterVec
	candidates      *prometheus.CounterVec
	optimizedScore  *prometheus.GaugeVec
	optimizeGain    *prometheus.GaugeVec
	bestRun         *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// Option customizes Metrics.
type Option func(*config)

type config struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	buckets    []float64
}

// WithRegistry registers the collectors on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(cfg *config) {
		cfg.registerer = reg
		cfg.gatherer = reg
	}
}

// WithDurationBuckets overrides the benchmark duration buckets (in ms).
func WithDurationBuckets(buckets []float64) Option {
	return func(cfg *config) {
		cfg.buckets = buckets
	}
}

// New constructs and registers the collectors.
func New(opts ...Option) *Metrics {
	reg := prometheus.NewRegistry()
	cfg := config{
		registerer: reg,
		gatherer:   reg,
		buckets:    prometheus.ExponentialBuckets(50, 2, 12),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Metrics{
		benchmarks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ranx_benchmarks_total",
			Help: "Completed benchmark comparisons.",
		}),
		benchmarkMillis: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ranx_benchmark_duration_ms",
			Help:    "Wall time of a full benchmark in milliseconds.",
			Buckets: cfg.buckets,
		}),
		optimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ranx_optimizations_total",
			Help: "Parameter searches by method and whether they were served from cache.",
		}, []string{"method", "cached"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ranx_optimize_candidates_total",
			Help: "Parameter candidates evaluated by method.",
		}, []string{"method"}),
		optimizedScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ranx_optimized_score",
			Help: "Target metric of the latest optimized parameters.",
		}, []string{"method", "metric"}),
		optimizeGain: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ranx_optimize_gain",
			Help: "Latest optimized score minus the default-parameter baseline.",
		}, []string{"method", "metric"}),
		bestRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ranx_best_run",
			Help: "1 for the run with the highest mean on a metric in the latest benchmark.",
		}, []string{"metric", "run"}),
		gatherer: cfg.gatherer,
	}

	cfg.registerer.MustRegister(
		m.benchmarks,
		m.benchmarkMillis,
		m.optimizations,
		m.candidates,
		m.optimizedScore,
		m.optimizeGain,
		m.bestRun,
	)
	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Subscribe feeds the collectors from b.
func (m *Metrics) Subscribe(ctx context.Context, b bus.Bus) error {
	if err := b.Subscribe(ctx, bus.TopicOptimized, m.handleOptimized); err != nil {
		return err
	}
	return b.Subscribe(ctx, bus.TopicCompared, m.handleCompared)
}

func (m *Metrics) handleOptimized(_ context.Context, event bus.Event) error {
	var p bus.OptimizedPayload
	if err := decode(event.Payload, &p); err != nil {
		return err
	}
	m.ObserveOptimized(p)
	return nil
}

func (m *Metrics) handleCompared(_ context.Context, event bus.Event) error {
	var p bus.ComparedPayload
	if err := decode(event.Payload, &p); err != nil {
		return err
	}
	m.ObserveCompared(p)
	return nil
}

// ObserveOptimized records one parameter search.
func (m *Metrics) ObserveOptimized(p bus.OptimizedPayload) {
	m.optimizations.WithLabelValues(p.Method, strconv.FormatBool(p.Cached)).Inc()
	if !p.Cached {
		m.candidates.WithLabelValues(p.Method).Add(float64(p.Evaluated))
	}
	m.optimizedScore.WithLabelValues(p.Method, p.Metric).Set(p.Score)
	m.optimizeGain.WithLabelValues(p.Method, p.Metric).Set(p.Score - p.Baseline)
}

// ObserveCompared records one benchmark.
func (m *Metrics) ObserveCompared(p bus.ComparedPayload) {
	m.benchmarks.Inc()
	m.benchmarkMillis.Observe(float64(p.DurationMs))

	// Only the latest winners are reported.
	m.bestRun.Reset()
	for metric, run := range p.Best {
		m.bestRun.WithLabelValues(metric, run).Set(1)
	}
}

// decode converts a payload to its typed form. Events from the in-process
// bus carry the struct itself; events from Kafka arrive as decoded JSON.
func decode(payload any, v any) error {
	switch p := payload.(type) {
	case bus.OptimizedPayload:
		if out, ok := v.(*bus.OptimizedPayload); ok {
			*out = p
			return nil
		}
	case bus.ComparedPayload:
		if out, ok := v.(*bus.ComparedPayload); ok {
			*out = p
			return nil
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding event payload: %w", err)
	}
	return nil
}
