package ionic

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the command latency histogram buckets in nanoseconds.
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

// Metrics tracks traffic and control-path statistics for an engine
type Metrics struct {
	// Data path
	TxPackets atomic.Uint64
	TxBytes   atomic.Uint64
	TxErrors  atomic.Uint64
	RxPackets atomic.Uint64
	RxBytes   atomic.Uint64
	RxErrors  atomic.Uint64

	// Control path
	DevCmds       atomic.Uint64 // Device commands issued
	DevCmdRetries atomic.Uint64 // Extra posts caused by EAGAIN
	DevCmdErrors  atomic.Uint64
	AdminCmds     atomic.Uint64
	AdminErrors   atomic.Uint64

	// Events and state changes
	Events        atomic.Uint64 // Notify queue events consumed
	EventsDrained atomic.Uint64 // Events discarded without dispatch
	LinkChanges   atomic.Uint64
	FirmwareDowns atomic.Uint64
	FirmwareUps   atomic.Uint64

	// TX ring occupancy sampled once per poll
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Command latency, device and admin commands together
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of commands with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordTx records a transmit completion
func (m *Metrics) RecordTx(bytes uint64, success bool) {
	m.TxPackets.Add(1)
	if success {
		m.TxBytes.Add(bytes)
	} else {
		m.TxErrors.Add(1)
	}
}

// RecordRx records a received frame
func (m *Metrics) RecordRx(bytes uint64, success bool) {
	m.RxPackets.Add(1)
	if success {
		m.RxBytes.Add(bytes)
	} else {
		m.RxErrors.Add(1)
	}
}

// RecordDevCmd records a device command that took attempts posts.
func (m *Metrics) RecordDevCmd(attempts int, latencyNs uint64, success bool) {
	m.DevCmds.Add(1)
	if attempts > 1 {
		m.DevCmdRetries.Add(uint64(attempts - 1))
	}
	if !success {
		m.DevCmdErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordAdmin records an admin queue command
func (m *Metrics) RecordAdmin(latencyNs uint64, success bool) {
	m.AdminCmds.Add(1)
	if !success {
		m.AdminErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordEvent records a consumed notify queue event
func (m *Metrics) RecordEvent(dispatched bool) {
	m.Events.Add(1)
	if !dispatched {
		m.EventsDrained.Add(1)
	}
}

// RecordLinkChange records a link transition
func (m *Metrics) RecordLinkChange() {
	m.LinkChanges.Add(1)
}

// RecordFirmware records a firmware transition
func (m *Metrics) RecordFirmware(running bool) {
	if running {
		m.FirmwareUps.Add(1)
	} else {
		m.FirmwareDowns.Add(1)
	}
}

// RecordQueueDepth records current queue depth for statistics
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

// recordLatency records command latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the engine as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived rates.
type MetricsSnapshot struct {
	TxPackets uint64
	TxBytes   uint64
	TxErrors  uint64
	RxPackets uint64
	RxBytes   uint64
	RxErrors  uint64

	DevCmds       uint64
	DevCmdRetries uint64
	DevCmdErrors  uint64
	AdminCmds     uint64
	AdminErrors   uint64

	Events        uint64
	EventsDrained uint64
	LinkChanges   uint64
	FirmwareDowns uint64
	FirmwareUps   uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	// Command latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TxPPS         float64 // Packets per second
	RxPPS         float64
	TxBandwidth   float64 // Bytes per second
	RxBandwidth   float64
	TotalCommands uint64
	ErrorRate     float64 // Percentage of failed commands
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TxPackets:     m.TxPackets.Load(),
		TxBytes:       m.TxBytes.Load(),
		TxErrors:      m.TxErrors.Load(),
		RxPackets:     m.RxPackets.Load(),
		RxBytes:       m.RxBytes.Load(),
		RxErrors:      m.RxErrors.Load(),
		DevCmds:       m.DevCmds.Load(),
		DevCmdRetries: m.DevCmdRetries.Load(),
		DevCmdErrors:  m.DevCmdErrors.Load(),
		AdminCmds:     m.AdminCmds.Load(),
		AdminErrors:   m.AdminErrors.Load(),
		Events:        m.Events.Load(),
		EventsDrained: m.EventsDrained.Load(),
		LinkChanges:   m.LinkChanges.Load(),
		FirmwareDowns: m.FirmwareDowns.Load(),
		FirmwareUps:   m.FirmwareUps.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
	}
	snap.TotalCommands = snap.DevCmds + snap.AdminCmds

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
		snap.TxPPS = float64(snap.TxPackets) / uptimeSeconds
		snap.RxPPS = float64(snap.RxPackets) / uptimeSeconds
		snap.TxBandwidth = float64(snap.TxBytes) / uptimeSeconds
		snap.RxBandwidth = float64(snap.RxBytes) / uptimeSeconds
	}

	if snap.TotalCommands > 0 {
		snap.ErrorRate = float64(snap.DevCmdErrors+snap.AdminErrors) / float64(snap.TotalCommands) * 100.0
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

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.TxPackets, &m.TxBytes, &m.TxErrors,
		&m.RxPackets, &m.RxBytes, &m.RxErrors,
		&m.DevCmds, &m.DevCmdRetries, &m.DevCmdErrors,
		&m.AdminCmds, &m.AdminErrors,
		&m.Events, &m.EventsDrained, &m.LinkChanges, &m.FirmwareDowns, &m.FirmwareUps,
		&m.QueueDepthTotal, &m.QueueDepthCount,
		&m.TotalLatencyNs, &m.OpCount,
	} {
		c.Store(0)
	}
	m.MaxQueueDepth.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer interface allows pluggable metrics collection. Methods are called
// on the goroutine driving the engine and must not block.
type Observer interface {
	// ObserveTx is called for each transmit completion
	ObserveTx(bytes uint64, success bool)

	// ObserveRx is called for each received frame
	ObserveRx(bytes uint64, success bool)

	// ObserveDevCmd is called once per device command with the number of posts made
	ObserveDevCmd(opcode Opcode, attempts int, latencyNs uint64, success bool)

	// ObserveAdmin is called for each admin queue command
	ObserveAdmin(opcode Opcode, latencyNs uint64, success bool)

	// ObserveEvent is called for each consumed notify queue event
	ObserveEvent(code EventCode, dispatched bool)

	// ObserveLink is called on every link transition
	ObserveLink(up bool, speedMbps uint32)

	// ObserveFirmware is called when the firmware goes down or comes back
	ObserveFirmware(running bool)

	// ObserveQueueDepth is called once per poll with the transmit ring occupancy
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveTx(uint64, bool)                  {}
func (NoOpObserver) ObserveRx(uint64, bool)                  {}
func (NoOpObserver) ObserveDevCmd(Opcode, int, uint64, bool) {}
func (NoOpObserver) ObserveAdmin(Opcode, uint64, bool)       {}
func (NoOpObserver) ObserveEvent(EventCode, bool)            {}
func (NoOpObserver) ObserveLink(bool, uint32)                {}
func (NoOpObserver) ObserveFirmware(bool)                    {}
func (NoOpObserver) ObserveQueueDepth(uint32)                {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveTx(bytes uint64, success bool) {
	o.metrics.RecordTx(bytes, success)
}

func (o *MetricsObserver) ObserveRx(bytes uint64, success bool) {
	o.metrics.RecordRx(bytes, success)
}

func (o *MetricsObserver) ObserveDevCmd(_ Opcode, attempts int, latencyNs uint64, success bool) {
	o.metrics.RecordDevCmd(attempts, latencyNs, success)
}

func (o *MetricsObserver) ObserveAdmin(_ Opcode, latencyNs uint64, success bool) {
	o.metrics.RecordAdmin(latencyNs, success)
}

func (o *MetricsObserver) ObserveEvent(_ EventCode, dispatched bool) {
	o.metrics.RecordEvent(dispatched)
}

func (o *MetricsObserver) ObserveLink(bool, uint32) {
	o.metrics.RecordLinkChange()
}

func (o *MetricsObserver) ObserveFirmware(running bool) {
	o.metrics.RecordFirmware(running)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

// MultiObserver fans every observation out to each of its members.
type MultiObserver []Observer

func (m MultiObserver) ObserveTx(bytes uint64, success bool) {
	for _, o := range m {
		o.ObserveTx(bytes, success)
	}
}

func (m MultiObserver) ObserveRx(bytes uint64, success bool) {
	for _, o := range m {
		o.ObserveRx(bytes, success)
	}
}

func (m MultiObserver) ObserveDevCmd(opcode Opcode, attempts int, latencyNs uint64, success bool) {
	for _, o := range m {
		o.ObserveDevCmd(opcode, attempts, latencyNs, success)
	}
}

func (m MultiObserver) ObserveAdmin(opcode Opcode, latencyNs uint64, success bool) {
	for _, o := range m {
		o.ObserveAdmin(opcode, latencyNs, success)
	}
}

func (m MultiObserver) ObserveEvent(code EventCode, dispatched bool) {
	for _, o := range m {
		o.ObserveEvent(code, dispatched)
	}
}

func (m MultiObserver) ObserveLink(up bool, speedMbps uint32) {
	for _, o := range m {
		o.ObserveLink(up, speedMbps)
	}
}

func (m MultiObserver) ObserveFirmware(running bool) {
	for _, o := range m {
		o.ObserveFirmware(running)
	}
}

func (m MultiObserver) ObserveQueueDepth(depth uint32) {
	for _, o := range m {
		o.ObserveQueueDepth(depth)
	}
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
var _ Observer = MultiObserver(nil)
