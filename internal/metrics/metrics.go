// Package metrics exposes recorder activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/segment-recorder/internal/segment"
	"github.com/maauso/segment-recorder/internal/writer"
)

// Compile-time check that Metrics implements writer.Observer.
var _ writer.Observer = (*Metrics)(nil)

// Metrics holds Prometheus collectors for the segment recorder.
type Metrics struct {
	registry         *prometheus.Registry
	samplesWritten   prometheus.Counter
	bytesWritten     prometheus.Counter
	samplesDropped   *prometheus.CounterVec
	segmentsOpened   prometheus.Counter
	segmentsClosed   prometheus.Counter
	finalizeErrors   prometheus.Counter
	deliveriesFailed *prometheus.CounterVec
	segmentIndex     prometheus.Gauge
	segmentDuration  prometheus.Histogram
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		samplesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segrec_samples_written_total",
			Help: "Total number of sample buffers accepted by an encoder",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segrec_bytes_written_total",
			Help: "Total number of PCM payload bytes accepted by an encoder",
		}),
		samplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segrec_samples_dropped_total",
			Help: "Total number of sample buffers not written, by reason",
		}, []string{"reason"}),
		segmentsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segrec_segments_opened_total",
			Help: "Total number of segment files opened",
		}),
		segmentsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segrec_segments_closed_total",
			Help: "Total number of segment files finalized, including failures",
		}),
		finalizeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segrec_finalize_errors_total",
			Help: "Total number of segments whose finalization failed",
		}),
		deliveriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segrec_deliveries_failed_total",
			Help: "Total number of failed segment deliveries, by handler",
		}, []string{"handler"}),
		segmentIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "segrec_segment_index",
			Help: "Index of the active segment, 0 when not recording",
		}),
		segmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segrec_segment_duration_seconds",
			Help:    "Media duration of finalized segments",
			Buckets: []float64{1, 5, 10, 15, 20, 30, 60, 120},
		}),
	}

	registry.MustRegister(
		m.samplesWritten,
		m.bytesWritten,
		m.samplesDropped,
		m.segmentsOpened,
		m.segmentsClosed,
		m.finalizeErrors,
		m.deliveriesFailed,
		m.segmentIndex,
		m.segmentDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SampleWritten implements writer.Observer.
func (m *Metrics) SampleWritten(bytes int) {
	m.samplesWritten.Inc()
	m.bytesWritten.Add(float64(bytes))
}

// SampleDropped implements writer.Observer.
func (m *Metrics) SampleDropped(reason writer.DropReason) {
	m.samplesDropped.WithLabelValues(string(reason)).Inc()
}

// SegmentOpened implements writer.Observer.
func (m *Metrics) SegmentOpened(index int) {
	m.segmentsOpened.Inc()
	m.segmentIndex.Set(float64(index))
}

// IndexChanged implements writer.Observer.
func (m *Metrics) IndexChanged(index int) {
	m.segmentIndex.Set(float64(index))
}

// SegmentClosed implements writer.Observer.
func (m *Metrics) SegmentClosed(info segment.Info) {
	m.segmentsClosed.Inc()
	if info.Failed() {
		m.finalizeErrors.Inc()
		return
	}
	m.segmentDuration.Observe(info.Duration().Seconds())
}

// DeliveryFailed implements delivery.FailureCounter.
func (m *Metrics) DeliveryFailed(handler string) {
	m.deliveriesFailed.WithLabelValues(handler).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
