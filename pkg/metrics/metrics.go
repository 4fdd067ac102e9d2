package metrics

import (
	"net/http"
	"strconv"
	"time"

	"brainlink/pkg/protocol"
	"brainlink/pkg/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brainlink"

// StatsSource is satisfied by *protocol.Parser.
type StatsSource interface {
	Stats() protocol.Stats
}

// DropSource is satisfied by *engine.Hub.
type DropSource interface {
	Drops() (published, delivered uint64)
}

// Metrics owns a private registry so tests and multiple daemons in one
// process do not collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	chunkBytes   prometheus.Histogram
	linkState    prometheus.Gauge
	reconnects   prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(stats StatsSource, drops DropSource) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		chunkBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "chunk_bytes",
			Help:      "Size of chunks read from the headset link.",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
		}),
		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connected",
			Help:      "1 while the headset link is connected.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connects_total",
			Help:      "Successful connections to the headset link.",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	m.reg.MustRegister(
		m.chunkBytes, m.linkState, m.reconnects, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
	)
	if stats != nil || drops != nil {
		m.reg.MustRegister(&decoderCollector{stats: stats, drops: drops})
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveChunk(n int) {
	m.chunkBytes.Observe(float64(n))
}

func (m *Metrics) ObserveLink(s transport.ConnectionState) {
	switch s {
	case transport.StateConnected:
		m.linkState.Set(1)
		m.reconnects.Inc()
	default:
		m.linkState.Set(0)
	}
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(d.Seconds())
}

var (
	bytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "bytes_total"),
		"Bytes fed to the decoder.", nil, nil)
	framesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "frames_total"),
		"Frames that passed checksum validation.", nil, nil)
	checksumDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "checksum_errors_total"),
		"Frames rejected by checksum.", nil, nil)
	discardedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "discarded_bytes_total"),
		"Bytes dropped while resynchronizing.", nil, nil)
	unknownDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "unknown_fields_total"),
		"Extended fields that matched no interpretation.", nil, nil)
	rawDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "raw_samples_total"),
		"Raw EEG samples decoded.", nil, nil)
	emitsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "emits_total"),
		"Handler emissions after change gating.", []string{"kind"}, nil)
	dropsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "hub", "drops_total"),
		"Readings dropped by the fan-out hub.", []string{"stage"}, nil)
)

// decoderCollector reads counters at scrape time.
type decoderCollector struct {
	stats StatsSource
	drops DropSource
}

func (c *decoderCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		bytesDesc, framesDesc, checksumDesc, discardedDesc, unknownDesc, rawDesc, emitsDesc, dropsDesc,
	} {
		ch <- d
	}
}

func (c *decoderCollector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		s := c.stats.Stats()
		counter := func(d *prometheus.Desc, v uint64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
		}
		counter(bytesDesc, s.BytesIn)
		counter(framesDesc, s.Frames)
		counter(checksumDesc, s.ChecksumErrors)
		counter(discardedDesc, s.Discarded)
		counter(unknownDesc, s.UnknownFields)
		counter(rawDesc, s.RawSamples)
		counter(emitsDesc, s.CognitiveEmits, "cognitive")
		counter(emitsDesc, s.TelemetryEmits, "telemetry")
	}
	if c.drops != nil {
		published, delivered := c.drops.Drops()
		ch <- prometheus.MustNewConstMetric(dropsDesc, prometheus.CounterValue, float64(published), "publish")
		ch <- prometheus.MustNewConstMetric(dropsDesc, prometheus.CounterValue, float64(delivered), "deliver")
	}
}
