package nrbd

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

// Metrics tracks performance and operational statistics for a replicated
// device: local backend I/O, wire traffic, and replication-specific
// counters (barriers, resync progress, reconnects).
type Metrics struct {
	// Local backend I/O counters.
	ReadOps    atomic.Uint64
	WriteOps   atomic.Uint64
	DiscardOps atomic.Uint64
	FlushOps   atomic.Uint64

	ReadBytes    atomic.Uint64
	WriteBytes   atomic.Uint64
	DiscardBytes atomic.Uint64

	ReadErrors    atomic.Uint64
	WriteErrors   atomic.Uint64
	DiscardErrors atomic.Uint64
	FlushErrors   atomic.Uint64

	// Transfer log occupancy (in-flight requests awaiting local
	// completion and/or peer ack).
	InFlightTotal atomic.Uint64
	InFlightCount atomic.Uint64
	MaxInFlight   atomic.Uint32

	// Replication / wire traffic.
	PacketsSent     atomic.Uint64
	PacketsReceived atomic.Uint64
	BytesSent       atomic.Uint64
	BytesReceived   atomic.Uint64
	BarriersSent    atomic.Uint64
	AcksReceived    atomic.Uint64
	NegAcksReceived atomic.Uint64
	ReconnectCount  atomic.Uint64

	// Resync progress.
	ResyncBytesTotal     atomic.Uint64
	ResyncBytesRemaining atomic.Uint64
	ResyncActive         atomic.Bool

	// Performance tracking.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts).
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Device lifecycle.
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records a local backend read operation.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a local backend write operation.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordDiscard records a local backend discard operation.
func (m *Metrics) RecordDiscard(bytes uint64, latencyNs uint64, success bool) {
	m.DiscardOps.Add(1)
	if success {
		m.DiscardBytes.Add(bytes)
	} else {
		m.DiscardErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFlush records a flush/barrier-drain operation.
func (m *Metrics) RecordFlush(latencyNs uint64, success bool) {
	m.FlushOps.Add(1)
	if !success {
		m.FlushErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordInFlight records the current transfer log occupancy.
func (m *Metrics) RecordInFlight(depth uint32) {
	m.InFlightTotal.Add(uint64(depth))
	m.InFlightCount.Add(1)

	for {
		current := m.MaxInFlight.Load()
		if depth <= current {
			break
		}
		if m.MaxInFlight.CompareAndSwap(current, depth) {
			break
		}
	}
}

// RecordPacketSent records an outbound wire packet.
func (m *Metrics) RecordPacketSent(bytes uint64) {
	m.PacketsSent.Add(1)
	m.BytesSent.Add(bytes)
}

// RecordPacketReceived records an inbound wire packet.
func (m *Metrics) RecordPacketReceived(bytes uint64) {
	m.PacketsReceived.Add(1)
	m.BytesReceived.Add(bytes)
}

// RecordBarrier records a barrier (epoch boundary) sent to the peer.
func (m *Metrics) RecordBarrier() { m.BarriersSent.Add(1) }

// RecordAck records an ack or neg-ack received from the peer.
func (m *Metrics) RecordAck(negative bool) {
	if negative {
		m.NegAcksReceived.Add(1)
		return
	}
	m.AcksReceived.Add(1)
}

// RecordReconnect records a handshake/reconnect cycle.
func (m *Metrics) RecordReconnect() { m.ReconnectCount.Add(1) }

// SetResyncProgress records the current resync window size.
func (m *Metrics) SetResyncProgress(total, remaining uint64) {
	m.ResyncBytesTotal.Store(total)
	m.ResyncBytesRemaining.Store(remaining)
	m.ResyncActive.Store(remaining > 0)
}

// recordLatency records operation latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the device as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	ReadOps    uint64
	WriteOps   uint64
	DiscardOps uint64
	FlushOps   uint64

	ReadBytes    uint64
	WriteBytes   uint64
	DiscardBytes uint64

	ReadErrors    uint64
	WriteErrors   uint64
	DiscardErrors uint64
	FlushErrors   uint64

	AvgInFlight float64
	MaxInFlight uint32

	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	BarriersSent    uint64
	AcksReceived    uint64
	NegAcksReceived uint64
	ReconnectCount  uint64

	ResyncBytesTotal     uint64
	ResyncBytesRemaining uint64
	ResyncActive         bool

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
		ReadOps:              m.ReadOps.Load(),
		WriteOps:             m.WriteOps.Load(),
		DiscardOps:           m.DiscardOps.Load(),
		FlushOps:             m.FlushOps.Load(),
		ReadBytes:            m.ReadBytes.Load(),
		WriteBytes:           m.WriteBytes.Load(),
		DiscardBytes:         m.DiscardBytes.Load(),
		ReadErrors:           m.ReadErrors.Load(),
		WriteErrors:          m.WriteErrors.Load(),
		DiscardErrors:        m.DiscardErrors.Load(),
		FlushErrors:          m.FlushErrors.Load(),
		MaxInFlight:          m.MaxInFlight.Load(),
		PacketsSent:          m.PacketsSent.Load(),
		PacketsReceived:      m.PacketsReceived.Load(),
		BytesSent:            m.BytesSent.Load(),
		BytesReceived:        m.BytesReceived.Load(),
		BarriersSent:         m.BarriersSent.Load(),
		AcksReceived:         m.AcksReceived.Load(),
		NegAcksReceived:      m.NegAcksReceived.Load(),
		ReconnectCount:       m.ReconnectCount.Load(),
		ResyncBytesTotal:     m.ResyncBytesTotal.Load(),
		ResyncBytesRemaining: m.ResyncBytesRemaining.Load(),
		ResyncActive:         m.ResyncActive.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.DiscardOps + snap.FlushOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes + snap.DiscardBytes

	inFlightTotal := m.InFlightTotal.Load()
	inFlightCount := m.InFlightCount.Load()
	if inFlightCount > 0 {
		snap.AvgInFlight = float64(inFlightTotal) / float64(inFlightCount)
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

	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.DiscardErrors + snap.FlushErrors
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

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
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

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.DiscardOps.Store(0)
	m.FlushOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.DiscardBytes.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.DiscardErrors.Store(0)
	m.FlushErrors.Store(0)
	m.InFlightTotal.Store(0)
	m.InFlightCount.Store(0)
	m.MaxInFlight.Store(0)
	m.PacketsSent.Store(0)
	m.PacketsReceived.Store(0)
	m.BytesSent.Store(0)
	m.BytesReceived.Store(0)
	m.BarriersSent.Store(0)
	m.AcksReceived.Store(0)
	m.NegAcksReceived.Store(0)
	m.ReconnectCount.Store(0)
	m.ResyncBytesTotal.Store(0)
	m.ResyncBytesRemaining.Store(0)
	m.ResyncActive.Store(false)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, implemented by both
// MetricsObserver (in-process counters) and PrometheusObserver (exported
// collectors).
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveDiscard(bytes uint64, latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveInFlight(depth uint32)
	ObservePacketSent(bytes uint64)
	ObservePacketReceived(bytes uint64)
	ObserveBarrier()
	ObserveAck(negative bool)
	ObserveReconnect()
	ObserveResyncProgress(total, remaining uint64)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)        {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool)       {}
func (NoOpObserver) ObserveDiscard(uint64, uint64, bool)     {}
func (NoOpObserver) ObserveFlush(uint64, bool)               {}
func (NoOpObserver) ObserveInFlight(uint32)                  {}
func (NoOpObserver) ObservePacketSent(uint64)                {}
func (NoOpObserver) ObservePacketReceived(uint64)            {}
func (NoOpObserver) ObserveBarrier()                         {}
func (NoOpObserver) ObserveAck(bool)                         {}
func (NoOpObserver) ObserveReconnect()                       {}
func (NoOpObserver) ObserveResyncProgress(uint64, uint64)    {}

// MetricsObserver implements Observer using the built-in Metrics.
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

func (o *MetricsObserver) ObserveDiscard(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordDiscard(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveFlush(latencyNs uint64, success bool) {
	o.metrics.RecordFlush(latencyNs, success)
}

func (o *MetricsObserver) ObserveInFlight(depth uint32) {
	o.metrics.RecordInFlight(depth)
}

func (o *MetricsObserver) ObservePacketSent(bytes uint64) {
	o.metrics.RecordPacketSent(bytes)
}

func (o *MetricsObserver) ObservePacketReceived(bytes uint64) {
	o.metrics.RecordPacketReceived(bytes)
}

func (o *MetricsObserver) ObserveBarrier() { o.metrics.RecordBarrier() }

func (o *MetricsObserver) ObserveAck(negative bool) { o.metrics.RecordAck(negative) }

func (o *MetricsObserver) ObserveReconnect() { o.metrics.RecordReconnect() }

func (o *MetricsObserver) ObserveResyncProgress(total, remaining uint64) {
	o.metrics.SetResyncProgress(total, remaining)
}

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
