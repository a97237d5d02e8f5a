// Package metrics adapts the runtime's Observer capability interface to
// Prometheus, for processes that want a /metrics endpoint instead of (or
// alongside) the in-process Metrics/MetricsSnapshot counters in the root
// package.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/antmuse/antnet"
)

// PrometheusObserver implements antnet.Observer by recording into a set
// of counters and histograms registered against a prometheus.Registerer;
// it is the same capability interface reactor.Loop reports through for
// the in-process Metrics sink.
type PrometheusObserver struct {
	readOps, writeOps, acceptOps, connectOps   prometheus.Counter
	readErrors, writeErrors                    prometheus.Counter
	acceptErrors, connectErrors                prometheus.Counter
	readBytes, writeBytes                      prometheus.Counter
	retransmits                                prometheus.Counter
	handshakes, handshakeErrors                prometheus.Counter
	queueDepth                                 prometheus.Histogram
	readLatency, writeLatency, handshakeLatency prometheus.Histogram
}

// NewPrometheusObserver creates and registers the antnet_* metric family
// against reg. Passing prometheus.DefaultRegisterer wires it into the
// process-wide /metrics endpoint served by promhttp.Handler().
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		readOps:    newCounter(reg, "antnet_read_ops_total", "Completed read operations."),
		writeOps:   newCounter(reg, "antnet_write_ops_total", "Completed write operations."),
		acceptOps:  newCounter(reg, "antnet_accept_ops_total", "Completed accept operations."),
		connectOps: newCounter(reg, "antnet_connect_ops_total", "Completed connect operations."),

		readErrors:    newCounter(reg, "antnet_read_errors_total", "Read operations that failed."),
		writeErrors:   newCounter(reg, "antnet_write_errors_total", "Write operations that failed."),
		acceptErrors:  newCounter(reg, "antnet_accept_errors_total", "Accept operations that failed."),
		connectErrors: newCounter(reg, "antnet_connect_errors_total", "Connect operations that failed."),

		readBytes:  newCounter(reg, "antnet_read_bytes_total", "Bytes read from the wire."),
		writeBytes: newCounter(reg, "antnet_write_bytes_total", "Bytes written to the wire."),

		retransmits: newCounter(reg, "antnet_kcp_retransmits_total", "KCP segment retransmissions."),

		handshakes:      newCounter(reg, "antnet_tls_handshakes_total", "Completed TLS handshakes."),
		handshakeErrors: newCounter(reg, "antnet_tls_handshake_errors_total", "TLS handshakes that failed."),

		queueDepth: newHistogram(reg, "antnet_queue_depth", "Per-handle pending descriptor depth.",
			[]float64{1, 2, 4, 8, 16, 32, 64, 128, 256}),
		readLatency:      newLatencyHistogram(reg, "antnet_read_latency_seconds", "Read completion latency."),
		writeLatency:     newLatencyHistogram(reg, "antnet_write_latency_seconds", "Write completion latency."),
		handshakeLatency: newLatencyHistogram(reg, "antnet_tls_handshake_latency_seconds", "TLS handshake latency."),
	}
	return o
}

func newCounter(reg prometheus.Registerer, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	reg.MustRegister(c)
	return c
}

func newHistogram(reg prometheus.Registerer, name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	reg.MustRegister(h)
	return h
}

func newLatencyHistogram(reg prometheus.Registerer, name, help string) prometheus.Histogram {
	return newHistogram(reg, name, help, prometheus.ExponentialBuckets(0.000001, 4, 12))
}

func seconds(latencyNs uint64) float64 {
	return time.Duration(latencyNs).Seconds()
}

func (o *PrometheusObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.readOps.Inc()
	o.readLatency.Observe(seconds(latencyNs))
	if success {
		o.readBytes.Add(float64(bytes))
	} else {
		o.readErrors.Inc()
	}
}

func (o *PrometheusObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.writeOps.Inc()
	o.writeLatency.Observe(seconds(latencyNs))
	if success {
		o.writeBytes.Add(float64(bytes))
	} else {
		o.writeErrors.Inc()
	}
}

func (o *PrometheusObserver) ObserveAccept(latencyNs uint64, success bool) {
	o.acceptOps.Inc()
	if !success {
		o.acceptErrors.Inc()
	}
}

func (o *PrometheusObserver) ObserveConnect(latencyNs uint64, success bool) {
	o.connectOps.Inc()
	if !success {
		o.connectErrors.Inc()
	}
}

func (o *PrometheusObserver) ObserveRetransmit() { o.retransmits.Inc() }

func (o *PrometheusObserver) ObserveHandshake(latencyNs uint64, success bool) {
	o.handshakes.Inc()
	o.handshakeLatency.Observe(seconds(latencyNs))
	if !success {
		o.handshakeErrors.Inc()
	}
}

func (o *PrometheusObserver) ObserveQueueDepth(depth uint32) {
	o.queueDepth.Observe(float64(depth))
}

var _ antnet.Observer = (*PrometheusObserver)(nil)
