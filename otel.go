package ionic

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelObserver records engine activity as OpenTelemetry instruments.
type OTelObserver struct {
	ctx context.Context

	packets    metric.Int64Counter
	bytes      metric.Int64Counter
	errors     metric.Int64Counter
	commands   metric.Int64Counter
	retries    metric.Int64Counter
	latency    metric.Float64Histogram
	events     metric.Int64Counter
	link       metric.Int64Gauge
	linkSpeed  metric.Int64Gauge
	firmware   metric.Int64Gauge
	queueDepth metric.Int64Histogram
}

var (
	dirTx = attribute.String("direction", "tx")
	dirRx = attribute.String("direction", "rx")

	chanDevCmd = attribute.String("channel", "devcmd")
	chanAdmin  = attribute.String("channel", "adminq")
)

// NewOTelObserver creates the instruments on meter.
func NewOTelObserver(meter metric.Meter) (*OTelObserver, error) {
	o := &OTelObserver{ctx: context.Background()}
	var err error

	if o.packets, err = meter.Int64Counter(
		"ionic.packets",
		metric.WithDescription("Frames completed by the data path"),
		metric.WithUnit("{packet}"),
	); err != nil {
		return nil, err
	}
	if o.bytes, err = meter.Int64Counter(
		"ionic.bytes",
		metric.WithDescription("Bytes moved by successful frames"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if o.errors, err = meter.Int64Counter(
		"ionic.packet_errors",
		metric.WithDescription("Frames completed with an error"),
		metric.WithUnit("{packet}"),
	); err != nil {
		return nil, err
	}
	if o.commands, err = meter.Int64Counter(
		"ionic.commands",
		metric.WithDescription("Device and admin commands issued"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, err
	}
	if o.retries, err = meter.Int64Counter(
		"ionic.command_retries",
		metric.WithDescription("Device command re-posts after EAGAIN"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, err
	}
	if o.latency, err = meter.Float64Histogram(
		"ionic.command_latency",
		metric.WithDescription("Command latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if o.events, err = meter.Int64Counter(
		"ionic.events",
		metric.WithDescription("Notify queue events consumed"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if o.link, err = meter.Int64Gauge(
		"ionic.link_up",
		metric.WithDescription("1 while the link is up"),
	); err != nil {
		return nil, err
	}
	if o.linkSpeed, err = meter.Int64Gauge(
		"ionic.link_speed",
		metric.WithDescription("Link speed"),
		metric.WithUnit("Mbit/s"),
	); err != nil {
		return nil, err
	}
	if o.firmware, err = meter.Int64Gauge(
		"ionic.firmware_running",
		metric.WithDescription("1 while the firmware reports running"),
	); err != nil {
		return nil, err
	}
	if o.queueDepth, err = meter.Int64Histogram(
		"ionic.tx_queue_depth",
		metric.WithDescription("Transmit descriptors in flight, sampled per poll"),
		metric.WithUnit("{descriptor}"),
	); err != nil {
		return nil, err
	}
	return o, nil
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (o *OTelObserver) observeFrame(dir attribute.KeyValue, bytes uint64, success bool) {
	attrs := metric.WithAttributes(dir)
	o.packets.Add(o.ctx, 1, attrs)
	if success {
		o.bytes.Add(o.ctx, int64(bytes), attrs)
	} else {
		o.errors.Add(o.ctx, 1, attrs)
	}
}

func (o *OTelObserver) ObserveTx(bytes uint64, success bool) { o.observeFrame(dirTx, bytes, success) }
func (o *OTelObserver) ObserveRx(bytes uint64, success bool) { o.observeFrame(dirRx, bytes, success) }

func (o *OTelObserver) observeCommand(ch attribute.KeyValue, opcode Opcode, latencyNs uint64, success bool) {
	attrs := metric.WithAttributes(ch, attribute.String("opcode", opcode.String()), attribute.Bool("success", success))
	o.commands.Add(o.ctx, 1, attrs)
	o.latency.Record(o.ctx, float64(latencyNs)/1_000_000.0, attrs)
}

func (o *OTelObserver) ObserveDevCmd(opcode Opcode, attempts int, latencyNs uint64, success bool) {
	o.observeCommand(chanDevCmd, opcode, latencyNs, success)
	if attempts > 1 {
		o.retries.Add(o.ctx, int64(attempts-1), metric.WithAttributes(attribute.String("opcode", opcode.String())))
	}
}

func (o *OTelObserver) ObserveAdmin(opcode Opcode, latencyNs uint64, success bool) {
	o.observeCommand(chanAdmin, opcode, latencyNs, success)
}

func (o *OTelObserver) ObserveEvent(code EventCode, dispatched bool) {
	o.events.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("code", code.String()),
		attribute.Bool("dispatched", dispatched),
	))
}

func (o *OTelObserver) ObserveLink(up bool, speedMbps uint32) {
	o.link.Record(o.ctx, boolValue(up))
	o.linkSpeed.Record(o.ctx, int64(speedMbps))
}

func (o *OTelObserver) ObserveFirmware(running bool) {
	o.firmware.Record(o.ctx, boolValue(running))
}

func (o *OTelObserver) ObserveQueueDepth(depth uint32) {
	o.queueDepth.Record(o.ctx, int64(depth))
}

var _ Observer = (*OTelObserver)(nil)
