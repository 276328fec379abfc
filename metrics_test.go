package ionic

import (
	"testing"
	"time"

	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TxPackets != 0 || snap.TotalCommands != 0 {
		t.Errorf("Expected empty initial snapshot, got %+v", snap)
	}

	m.RecordTx(1500, true)
	m.RecordTx(60, true)
	m.RecordTx(60, false)
	m.RecordRx(1024, true)
	m.RecordRx(2048, false)

	snap = m.Snapshot()

	if snap.TxPackets != 3 {
		t.Errorf("Expected 3 tx packets, got %d", snap.TxPackets)
	}
	if snap.TxBytes != 1560 {
		t.Errorf("Expected 1560 tx bytes, got %d", snap.TxBytes)
	}
	if snap.TxErrors != 1 {
		t.Errorf("Expected 1 tx error, got %d", snap.TxErrors)
	}
	if snap.RxPackets != 2 || snap.RxBytes != 1024 || snap.RxErrors != 1 {
		t.Errorf("Unexpected rx counters: %d packets, %d bytes, %d errors", snap.RxPackets, snap.RxBytes, snap.RxErrors)
	}
}

func TestMetricsCommands(t *testing.T) {
	m := NewMetrics()

	m.RecordDevCmd(1, 1_000_000, true)
	m.RecordDevCmd(3, 3_000_000, false)
	m.RecordAdmin(2_000_000, true)

	snap := m.Snapshot()

	if snap.DevCmds != 2 {
		t.Errorf("Expected 2 device commands, got %d", snap.DevCmds)
	}
	if snap.DevCmdRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", snap.DevCmdRetries)
	}
	if snap.DevCmdErrors != 1 {
		t.Errorf("Expected 1 device command error, got %d", snap.DevCmdErrors)
	}
	if snap.AdminCmds != 1 || snap.AdminErrors != 0 {
		t.Errorf("Unexpected admin counters: %d cmds, %d errors", snap.AdminCmds, snap.AdminErrors)
	}
	if snap.TotalCommands != 3 {
		t.Errorf("Expected 3 commands, got %d", snap.TotalCommands)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
	if snap.AvgLatencyNs != 2_000_000 {
		t.Errorf("Expected avg latency 2ms, got %d ns", snap.AvgLatencyNs)
	}
}

func TestMetricsEventsAndTransitions(t *testing.T) {
	m := NewMetrics()

	m.RecordEvent(true)
	m.RecordEvent(false)
	m.RecordEvent(false)
	m.RecordLinkChange()
	m.RecordFirmware(false)
	m.RecordFirmware(true)

	snap := m.Snapshot()
	if snap.Events != 3 || snap.EventsDrained != 2 {
		t.Errorf("Expected 3 events with 2 drained, got %d/%d", snap.Events, snap.EventsDrained)
	}
	if snap.LinkChanges != 1 {
		t.Errorf("Expected 1 link change, got %d", snap.LinkChanges)
	}
	if snap.FirmwareDowns != 1 || snap.FirmwareUps != 1 {
		t.Errorf("Expected one firmware down and up, got %d/%d", snap.FirmwareDowns, snap.FirmwareUps)
	}
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(10)
	m.RecordQueueDepth(20)
	m.RecordQueueDepth(15)

	snap := m.Snapshot()

	if snap.MaxQueueDepth != 20 {
		t.Errorf("Expected max queue depth 20, got %d", snap.MaxQueueDepth)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgQueueDepth < expectedAvg-0.1 || snap.AvgQueueDepth > expectedAvg+0.1 {
		t.Errorf("Expected avg queue depth %.1f, got %.1f", expectedAvg, snap.AvgQueueDepth)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1000000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordTx(1024, true)
	m.RecordDevCmd(1, 1000, true)
	m.RecordQueueDepth(10)

	m.Reset()

	snap := m.Snapshot()
	if snap.TxPackets != 0 || snap.TotalCommands != 0 {
		t.Errorf("Expected zero counters after reset, got %+v", snap)
	}
	if snap.MaxQueueDepth != 0 {
		t.Errorf("Expected 0 max queue depth after reset, got %d", snap.MaxQueueDepth)
	}
	for i, c := range snap.LatencyHistogram {
		if c != 0 {
			t.Errorf("Expected empty bucket %d after reset, got %d", i, c)
		}
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordTx(1024, true)
	m.RecordRx(2048, true)

	m.StopTime.Store(startTime.Add(time.Second).UnixNano())

	snap := m.Snapshot()

	if snap.TxPPS < 0.9 || snap.TxPPS > 1.1 {
		t.Errorf("Expected TxPPS ~1.0, got %.2f", snap.TxPPS)
	}
	if snap.RxPPS < 0.9 || snap.RxPPS > 1.1 {
		t.Errorf("Expected RxPPS ~1.0, got %.2f", snap.RxPPS)
	}
	if snap.TxBandwidth < 1000 || snap.TxBandwidth > 1050 {
		t.Errorf("Expected TxBandwidth ~1024, got %.2f", snap.TxBandwidth)
	}
	if snap.RxBandwidth < 2000 || snap.RxBandwidth > 2100 {
		t.Errorf("Expected RxBandwidth ~2048, got %.2f", snap.RxBandwidth)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	// 50 commands at 500us, 49 at 5ms, 1 at 50ms
	for i := 0; i < 50; i++ {
		m.RecordAdmin(500_000, true)
	}
	for i := 0; i < 49; i++ {
		m.RecordDevCmd(1, 5_000_000, true)
	}
	m.RecordDevCmd(1, 50_000_000, true)

	snap := m.Snapshot()

	if snap.TotalCommands != 100 {
		t.Errorf("Expected 100 commands, got %d", snap.TotalCommands)
	}
	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}
	if snap.LatencyHistogram[numLatencyBuckets-1] != 100 {
		t.Errorf("Expected last cumulative bucket to hold every command, got %d", snap.LatencyHistogram[numLatencyBuckets-1])
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveTx(1024, true)
	observer.ObserveRx(1024, true)
	observer.ObserveDevCmd(uapi.OpInit, 1, 1000, true)
	observer.ObserveAdmin(uapi.OpQControl, 1000, true)
	observer.ObserveEvent(uapi.EventLinkChange, true)
	observer.ObserveLink(true, 100000)
	observer.ObserveFirmware(true)
	observer.ObserveQueueDepth(10)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveTx(1024, true)
	metricsObserver.ObserveRx(2048, true)
	metricsObserver.ObserveDevCmd(uapi.OpIdentify, 2, 1000, true)
	metricsObserver.ObserveLink(false, 0)

	snap := m.Snapshot()
	if snap.TxBytes != 1024 {
		t.Errorf("Expected 1024 tx bytes from observer, got %d", snap.TxBytes)
	}
	if snap.RxBytes != 2048 {
		t.Errorf("Expected 2048 rx bytes from observer, got %d", snap.RxBytes)
	}
	if snap.DevCmdRetries != 1 {
		t.Errorf("Expected 1 retry from observer, got %d", snap.DevCmdRetries)
	}
	if snap.LinkChanges != 1 {
		t.Errorf("Expected 1 link change from observer, got %d", snap.LinkChanges)
	}
}

func TestMultiObserver(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	multi := MultiObserver{NewMetricsObserver(a), NoOpObserver{}, NewMetricsObserver(b)}

	multi.ObserveTx(100, true)
	multi.ObserveAdmin(uapi.OpRxModeSet, 10, false)
	multi.ObserveEvent(uapi.EventReset, true)
	multi.ObserveFirmware(false)
	multi.ObserveQueueDepth(7)

	for name, m := range map[string]*Metrics{"a": a, "b": b} {
		snap := m.Snapshot()
		if snap.TxPackets != 1 || snap.AdminErrors != 1 || snap.Events != 1 || snap.FirmwareDowns != 1 || snap.MaxQueueDepth != 7 {
			t.Errorf("observer %s missed observations: %+v", name, snap)
		}
	}
}
