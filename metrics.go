package antnet

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for one reactor
// loop: socket accept/connect/read/write, KCP retransmits and TLS
// handshakes all funnel through the same counters so an operator sees
// one view of a running antnet process.
type Metrics struct {
	// I/O operation counters
	ReadOps    atomic.Uint64 // Total read completions
	WriteOps   atomic.Uint64 // Total write completions
	AcceptOps  atomic.Uint64 // Total accepted connections
	ConnectOps atomic.Uint64 // Total outbound connects

	// Byte counters
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	// Error counters
	ReadErrors    atomic.Uint64
	WriteErrors   atomic.Uint64
	AcceptErrors  atomic.Uint64
	ConnectErrors atomic.Uint64

	// KCP-specific counters
	RetransmitOps atomic.Uint64 // Segments retransmitted (RTO or fast-ack)
	HandshakeOps  atomic.Uint64 // Completed TLS handshakes

	// Queue statistics — samples of a handle's pending-descriptor depth
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Performance tracking
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts): bucket[i] holds the
	// count of operations with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Loop lifecycle
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records a completed read.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a completed write.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordAccept records a completed accept.
func (m *Metrics) RecordAccept(latencyNs uint64, success bool) {
	m.AcceptOps.Add(1)
	if !success {
		m.AcceptErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordConnect records a completed outbound connect.
func (m *Metrics) RecordConnect(latencyNs uint64, success bool) {
	m.ConnectOps.Add(1)
	if !success {
		m.ConnectErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRetransmit records one KCP segment retransmission.
func (m *Metrics) RecordRetransmit() {
	m.RetransmitOps.Add(1)
}

// RecordHandshake records one completed TLS handshake.
func (m *Metrics) RecordHandshake(latencyNs uint64, success bool) {
	m.HandshakeOps.Add(1)
	m.recordLatency(latencyNs)
	_ = success
}

// RecordQueueDepth records a handle's current pending-descriptor depth.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the loop as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to format or
// export without further synchronization.
type MetricsSnapshot struct {
	ReadOps    uint64
	WriteOps   uint64
	AcceptOps  uint64
	ConnectOps uint64

	ReadBytes  uint64
	WriteBytes uint64

	ReadErrors    uint64
	WriteErrors   uint64
	AcceptErrors  uint64
	ConnectErrors uint64

	RetransmitOps uint64
	HandshakeOps  uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:       m.ReadOps.Load(),
		WriteOps:      m.WriteOps.Load(),
		AcceptOps:     m.AcceptOps.Load(),
		ConnectOps:    m.ConnectOps.Load(),
		ReadBytes:     m.ReadBytes.Load(),
		WriteBytes:    m.WriteBytes.Load(),
		ReadErrors:    m.ReadErrors.Load(),
		WriteErrors:   m.WriteErrors.Load(),
		AcceptErrors:  m.AcceptErrors.Load(),
		ConnectErrors: m.ConnectErrors.Load(),
		RetransmitOps: m.RetransmitOps.Load(),
		HandshakeOps:  m.HandshakeOps.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.AcceptOps + snap.ConnectOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.AcceptErrors + snap.ConnectErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, useful between test cases.
func (m *Metrics) Reset() {
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.AcceptOps.Store(0)
	m.ConnectOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.AcceptErrors.Store(0)
	m.ConnectErrors.Store(0)
	m.RetransmitOps.Store(0)
	m.HandshakeOps.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer is the capability interface pluggable metrics sinks
// implement. reactor.Loop reports its connect/accept/read/write
// completions through it without knowing the concrete sink; the KCP
// engine reports through its own kcp.Observer, and the TLS handle
// reports nothing.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveAccept(latencyNs uint64, success bool)
	ObserveConnect(latencyNs uint64, success bool)
	ObserveRetransmit()
	ObserveHandshake(latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver is a no-op Observer, the default when no metrics sink is
// configured.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveAccept(uint64, bool)        {}
func (NoOpObserver) ObserveConnect(uint64, bool)       {}
func (NoOpObserver) ObserveRetransmit()                {}
func (NoOpObserver) ObserveHandshake(uint64, bool)     {}
func (NoOpObserver) ObserveQueueDepth(uint32)          {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveAccept(latencyNs uint64, success bool) {
	o.metrics.RecordAccept(latencyNs, success)
}

func (o *MetricsObserver) ObserveConnect(latencyNs uint64, success bool) {
	o.metrics.RecordConnect(latencyNs, success)
}

func (o *MetricsObserver) ObserveRetransmit() {
	o.metrics.RecordRetransmit()
}

func (o *MetricsObserver) ObserveHandshake(latencyNs uint64, success bool) {
	o.metrics.RecordHandshake(latencyNs, success)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
