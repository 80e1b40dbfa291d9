package loom

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the completion-latency histogram buckets in
// nanoseconds, from submission to terminal completion. Logarithmic
// spacing from 1us to 10s.
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

// Metrics tracks per-endpoint operation and completion statistics.
type Metrics struct {
	SendOps   atomic.Uint64
	RecvOps   atomic.Uint64
	RMAOps    atomic.Uint64
	AtomicOps atomic.Uint64

	SendBytes atomic.Uint64
	RecvBytes atomic.Uint64
	RMABytes  atomic.Uint64

	SendErrors   atomic.Uint64
	RecvErrors   atomic.Uint64
	RMAErrors    atomic.Uint64
	AtomicErrors atomic.Uint64

	// Reactor backpressure, from the number of completions drained in
	// each poll tick.
	CQDepthTotal atomic.Uint64
	CQDepthCount atomic.Uint64
	MaxCQDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// LatencyHist[i] holds the count of completions with latency
	// <= LatencyBuckets[i] (cumulative, like an HDR-lite histogram).
	LatencyHist [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records a completed send/tagged-send/inject operation.
func (m *Metrics) RecordSend(bytes uint64, latencyNs uint64, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
	} else {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRecv records a completed recv/tagged-recv operation.
func (m *Metrics) RecordRecv(bytes uint64, latencyNs uint64, success bool) {
	m.RecvOps.Add(1)
	if success {
		m.RecvBytes.Add(bytes)
	} else {
		m.RecvErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRMA records a completed RMA read or write.
func (m *Metrics) RecordRMA(bytes uint64, latencyNs uint64, success bool) {
	m.RMAOps.Add(1)
	if success {
		m.RMABytes.Add(bytes)
	} else {
		m.RMAErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordAtomic records a completed atomic (native or staged) operation.
func (m *Metrics) RecordAtomic(latencyNs uint64, success bool) {
	m.AtomicOps.Add(1)
	if !success {
		m.AtomicErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordCQDepth records the number of completions drained in one reactor tick.
func (m *Metrics) RecordCQDepth(depth uint32) {
	m.CQDepthTotal.Add(uint64(depth))
	m.CQDepthCount.Add(1)
	for {
		current := m.MaxCQDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxCQDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHist[i].Add(1)
		}
	}
}

// Stop marks the owning endpoint/reactor as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics safe to read without races.
type MetricsSnapshot struct {
	SendOps, RecvOps, RMAOps, AtomicOps                   uint64
	SendBytes, RecvBytes, RMABytes                        uint64
	SendErrors, RecvErrors, RMAErrors, AtomicErrors        uint64
	AvgCQDepth    float64
	MaxCQDepth    uint32
	AvgLatencyNs  uint64
	UptimeNs      uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	SendIOPS, RecvIOPS           float64
	SendBandwidth, RMABandwidth  float64
	TotalOps, TotalBytes         uint64
	ErrorRate                    float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SendOps:      m.SendOps.Load(),
		RecvOps:      m.RecvOps.Load(),
		RMAOps:       m.RMAOps.Load(),
		AtomicOps:    m.AtomicOps.Load(),
		SendBytes:    m.SendBytes.Load(),
		RecvBytes:    m.RecvBytes.Load(),
		RMABytes:     m.RMABytes.Load(),
		SendErrors:   m.SendErrors.Load(),
		RecvErrors:   m.RecvErrors.Load(),
		RMAErrors:    m.RMAErrors.Load(),
		AtomicErrors: m.AtomicErrors.Load(),
		MaxCQDepth:   m.MaxCQDepth.Load(),
	}

	snap.TotalOps = snap.SendOps + snap.RecvOps + snap.RMAOps + snap.AtomicOps
	snap.TotalBytes = snap.SendBytes + snap.RecvBytes + snap.RMABytes

	cqTotal := m.CQDepthTotal.Load()
	cqCount := m.CQDepthCount.Load()
	if cqCount > 0 {
		snap.AvgCQDepth = float64(cqTotal) / float64(cqCount)
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
		snap.SendIOPS = float64(snap.SendOps) / uptimeSeconds
		snap.RecvIOPS = float64(snap.RecvOps) / uptimeSeconds
		snap.SendBandwidth = float64(snap.SendBytes) / uptimeSeconds
		snap.RMABandwidth = float64(snap.RMABytes) / uptimeSeconds
	}

	totalErrors := snap.SendErrors + snap.RecvErrors + snap.RMAErrors + snap.AtomicErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHist[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// by linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHist[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHist[i-1].Load()
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

// Reset zeroes all counters. Useful between test scenarios.
func (m *Metrics) Reset() {
	m.SendOps.Store(0)
	m.RecvOps.Store(0)
	m.RMAOps.Store(0)
	m.AtomicOps.Store(0)
	m.SendBytes.Store(0)
	m.RecvBytes.Store(0)
	m.RMABytes.Store(0)
	m.SendErrors.Store(0)
	m.RecvErrors.Store(0)
	m.RMAErrors.Store(0)
	m.AtomicErrors.Store(0)
	m.CQDepthTotal.Store(0)
	m.CQDepthCount.Store(0)
	m.MaxCQDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHist[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection for reactor/endpoint events.
type Observer interface {
	ObserveSend(bytes uint64, latencyNs uint64, success bool)
	ObserveRecv(bytes uint64, latencyNs uint64, success bool)
	ObserveRMA(bytes uint64, latencyNs uint64, success bool)
	ObserveAtomic(latencyNs uint64, success bool)
	ObserveCQDepth(depth uint32)
}

// NoOpObserver discards all observations.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveRecv(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveRMA(uint64, uint64, bool)   {}
func (NoOpObserver) ObserveAtomic(uint64, bool)        {}
func (NoOpObserver) ObserveCQDepth(uint32)             {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordSend(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveRecv(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRecv(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveRMA(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRMA(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveAtomic(latencyNs uint64, success bool) {
	o.metrics.RecordAtomic(latencyNs, success)
}

func (o *MetricsObserver) ObserveCQDepth(depth uint32) {
	o.metrics.RecordCQDepth(depth)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
