package ionic

import (
	"context"

	"go.uber.org/ratelimit"

	"github.com/ehrlich-b/go-ionic/internal/constants"
	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// Poll runs one pass of the engine: it follows firmware status transitions,
// reaps TX and RX completions, refills the RX ring, reads the link state and
// processes notify events. It does nothing until StartDevice or Open succeeded.
func (e *Engine) Poll() {
	if !e.attached {
		return
	}
	running := e.firmwareAlive()
	if running != e.fwRunning {
		if running {
			e.HandleFirmwareUp()
		} else {
			e.HandleFirmwareDown()
		}
	}
	l := e.lif
	if !running || !e.fwRunning || l == nil {
		return
	}

	l.tx.Poll()
	l.rx.Poll()
	if e.queuesRunning {
		l.rx.Fill(e.rxBufferLen())
	}
	e.observer.ObserveQueueDepth(uint32(l.tx.InFlight()))
	e.CheckLink()

	e.pendingLink, e.pendingReset = false, false
	l.notify.Poll()
	switch {
	case e.pendingReset:
		e.HandleFirmwareDown()
	case e.pendingLink:
		e.linkChanged()
	}
}

// Run calls Poll at Params.PollRate until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	rl := ratelimit.New(e.params.PollRate)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rl.Take()
		e.Poll()
	}
}

// Transmit posts buf on the TX queue. Ownership passes to the engine until the
// NetDevice's TxComplete returns it. While the queues are stopped the call
// fails with CodeQueueStopped and the caller keeps the buffer.
func (e *Engine) Transmit(buf *dma.Buffer, opts TxOptions) error {
	if !e.fwRunning || e.lif == nil {
		return errs.New("transmit", errs.CodeFirmwareDown, "firmware not running")
	}
	if !e.queuesRunning {
		return errs.NewQueue("transmit", e.lif.txqcq.Q.Name(), errs.CodeQueueStopped, "data queues stopped")
	}
	if e.params.VLANEnabled && !opts.VLAN {
		opts.VLAN = true
		opts.VLANTCI = e.params.VLANID
	}
	return e.lif.tx.Transmit(buf, opts)
}

func (e *Engine) rxBufferLen() int {
	return constants.EthHeaderLen + int(e.params.MTU) + constants.VLANTagLen
}

// CheckLink reads the link state from the LIF info page and reports changes
// to the NetDevice.
func (e *Engine) CheckLink() {
	l := e.lif
	if l == nil || l.info == nil {
		return
	}
	st := uapi.DecodeLIFStatus(l.info.Buf)
	speed := st.LinkSpeed
	if st.LinkStatus != uapi.PortOperStatusUp {
		speed = 0
	}
	e.setLink(st.LinkStatus, speed)
}

func (e *Engine) setLink(status uint16, speed uint32) {
	if status == e.linkStatus && speed == e.linkSpeed {
		return
	}
	wasUp := e.LinkUp()
	e.linkStatus = status
	e.linkSpeed = speed
	up := e.LinkUp()
	if up == wasUp && !up {
		return
	}
	if up {
		e.logger.Info("link up", "speed_mbps", speed)
	} else {
		e.logger.Info("link down")
	}
	e.observer.ObserveLink(up, speed)
	e.res.NetDevice.LinkChanged(up, speed)
}

// linkChanged starts or stops the data queues to follow the link.
func (e *Engine) linkChanged() {
	e.CheckLink()
	switch {
	case e.LinkUp() && !e.queuesRunning && e.open:
		if err := e.StartQueues(); err != nil {
			e.logger.WithError(err).Error("start queues on link up failed")
		}
	case !e.LinkUp() && e.queuesRunning:
		e.StopQueues()
	}
}

// HandleFirmwareDown reacts to the firmware going away or announcing a
// reset: the link is reported down, the queues stop and the device is torn
// down. The next Poll that sees the firmware running rebuilds it.
func (e *Engine) HandleFirmwareDown() {
	e.logger.Warn("firmware down", "open", e.open, "queues_running", e.queuesRunning)
	e.observer.ObserveFirmware(false)
	if rn, ok := e.res.NetDevice.(ResetNetDevice); ok {
		rn.FirmwareDown()
	}
	e.setLink(uapi.PortOperStatusDown, 0)
	if e.open {
		e.StopQueues()
	}
	if err := e.stopDevice(); err != nil {
		e.logger.WithError(err).Warn("teardown after firmware down")
	}
}

// HandleFirmwareUp rebuilds the device after the firmware came back and
// restarts the queues if the engine is open.
func (e *Engine) HandleFirmwareUp() {
	e.logger.Info("firmware up", "open", e.open)
	if err := e.startDevice(); err != nil {
		e.logger.WithError(err).Error("restart after firmware up failed")
		return
	}
	e.observer.ObserveFirmware(true)
	if e.open {
		if err := e.StartQueues(); err != nil {
			e.logger.WithError(err).Error("restart queues after firmware up failed")
		}
	}
	e.CheckLink()
	if rn, ok := e.res.NetDevice.(ResetNetDevice); ok {
		rn.FirmwareUp()
	}
}

// eventHandler records notify events; Poll acts on them once the notify
// queue has been read.
type eventHandler struct {
	e *Engine
}

func (h eventHandler) LinkChange(uapi.Event) { h.e.pendingLink = true }
func (h eventHandler) Reset(uapi.Event)      { h.e.pendingReset = true }
