package ionic

import (
	"errors"

	"github.com/ehrlich-b/go-ionic/internal/adminq"
	"github.com/ehrlich-b/go-ionic/internal/datapath"
	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/notifyq"
	"github.com/ehrlich-b/go-ionic/internal/ring"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// lif is the engine's logical interface: the info page the device writes
// status into and the four queue pairs.
type lif struct {
	index uint16
	info  *dma.Region

	adminqcq  *ring.QCQ
	notifyqcq *ring.QCQ
	txqcq     *ring.QCQ
	rxqcq     *ring.QCQ

	adminq *adminq.AdminQ
	notify *notifyq.Processor
	tx     *datapath.TxQueue
	rx     *datapath.RxQueue

	macFilterID  uint32
	vlanFilterID uint32

	// stale is set when the data queues were stopped and their rings flushed.
	stale bool
}

func (l *lif) qcqs() []*ring.QCQ {
	return []*ring.QCQ{l.adminqcq, l.notifyqcq, l.txqcq, l.rxqcq}
}

// free releases the rings and the info page.
func (l *lif) free(alloc dma.Allocator) error {
	var errList []error
	for _, qcq := range l.qcqs() {
		if qcq != nil {
			errList = append(errList, qcq.Free())
		}
	}
	if l.info != nil {
		errList = append(errList, alloc.Free(l.info))
		l.info = nil
	}
	return errors.Join(errList...)
}

// allocLIF allocates a zeroed info page and the queue pairs.
func (e *Engine) allocLIF() (*lif, error) {
	p := &e.params
	l := &lif{index: p.LIFIndex}

	info, err := e.res.Memory.Alloc(uapi.LIFInfoSize)
	if err != nil {
		return nil, &errs.Error{Op: "lif_alloc", Code: errs.CodeConfiguration, Msg: "allocate info page", Inner: err}
	}
	clear(info.Buf)
	l.info = info

	specs := []struct {
		dst **ring.QCQ
		cfg ring.Config
	}{
		{&l.adminqcq, ring.Config{Name: "adminq", Type: uapi.QTypeAdminQ, Depth: p.AdminQDepth,
			DescSize: uapi.CmdSize, CompSize: uapi.CompSize, Flags: uapi.QInitFlagEna}},
		{&l.notifyqcq, ring.Config{Name: "notifyq", Type: uapi.QTypeNotifyQ, Depth: p.NotifyQDepth,
			DescSize: uapi.EventSize, CompSize: uapi.EventSize, Flags: uapi.QInitFlagEna}},
		{&l.txqcq, ring.Config{Name: "txq", Type: uapi.QTypeTxQ, Depth: p.TxQDepth,
			DescSize: uapi.TxDescSize, CompSize: uapi.TxCompSize}},
		{&l.rxqcq, ring.Config{Name: "rxq", Type: uapi.QTypeRxQ, Depth: p.RxQDepth,
			DescSize: uapi.RxDescSize, CompSize: uapi.RxCompSize}},
	}
	for _, s := range specs {
		qcq, err := ring.NewQCQ(e.res.Memory, s.cfg)
		if err != nil {
			_ = l.free(e.res.Memory)
			return nil, errs.Wrap("lif_alloc", err)
		}
		*s.dst = qcq
	}
	return l, nil
}

// bind records the hardware identity from a Q_INIT completion.
func (e *Engine) bind(qcq *ring.QCQ, comp uapi.Comp, doorbell bool) {
	qcq.Q.HWIndex = comp.QInitHWIndex()
	qcq.Q.HWType = comp.QInitHWType()
	if doorbell {
		qcq.Q.BindDoorbell(e.res.Doorbells, e.params.PID)
	}
	qcq.Inited = true
	e.logger.Debug("queue initialized", "queue", qcq.Q.Name(), "hw_index", qcq.Q.HWIndex, "hw_type", qcq.Q.HWType)
}

// adminInitQueue announces a queue pair through the admin queue.
func (e *Engine) adminInitQueue(l *lif, qcq *ring.QCQ, doorbell bool) error {
	comp, err := l.adminq.Run(qcq.QInitCmd(l.index, e.params.PID).Encode())
	if err != nil {
		return err
	}
	e.bind(qcq, comp, doorbell)
	return nil
}

// initLIF runs the LIF bring-up sequence. The caller unwinds on error.
func (e *Engine) initLIF(l *lif) error {
	p := &e.params

	if _, err := e.dev.Go(uapi.LIFInitCmd{Index: uint32(l.index), InfoPA: l.info.Phys}.Encode(), p.DevCmdTimeout); err != nil {
		return errs.Wrap("lif_init", err)
	}

	comp, err := e.dev.Go(l.adminqcq.QInitCmd(l.index, p.PID).Encode(), p.DevCmdTimeout)
	if err != nil {
		return errs.Wrap("adminq_init", err)
	}
	e.bind(l.adminqcq, comp, true)
	l.adminq, err = adminq.New(adminq.Config{
		QCQ:             l.adminqcq,
		FirmwareRunning: e.firmwareAlive,
		Timeout:         p.AdminTimeout,
		PollInterval:    p.PollInterval,
		Sleep:           e.sleep,
		Logger:          e.logger,
		Observe:         e.observeAdmin,
	})
	if err != nil {
		return err
	}

	if err := e.adminInitQueue(l, l.notifyqcq, false); err != nil {
		return errs.Wrap("notifyq_init", err)
	}
	l.notify = notifyq.New(l.notifyqcq, eventHandler{e}, e.logger, e.observeEvent)
	l.notify.ResetEID()

	if err := e.initDataQueues(l); err != nil {
		return err
	}

	if err := e.setStationMAC(l); err != nil {
		return err
	}
	e.setHWFeatures(l)

	l.tx = datapath.NewTxQueue(l.txqcq, netSink{e}, e.logger)
	l.rx = datapath.NewRxQueue(l.rxqcq, e.res.Buffers, netSink{e}, e.logger)
	return nil
}

// initDataQueues announces the TX and RX pairs and empties their rings, so
// that driver and device indices start together. Buffers still on the rings
// are handed back first.
func (e *Engine) initDataQueues(l *lif) error {
	if l.tx != nil {
		if n := l.tx.Flush(); n > 0 {
			e.logger.Warn("tx buffers canceled before queue init", "count", n)
		}
	}
	if l.rx != nil {
		l.rx.Flush()
	}
	for _, qcq := range []*ring.QCQ{l.txqcq, l.rxqcq} {
		if err := e.adminInitQueue(l, qcq, true); err != nil {
			return errs.Wrap(qcq.Q.Name()+"_init", err)
		}
		qcq.Sanitize()
	}
	l.stale = false
	return nil
}

// setStationMAC reads the station address and installs a receive filter for it.
func (e *Engine) setStationMAC(l *lif) error {
	comp, err := l.adminq.Run(uapi.LIFGetAttrCmd{Index: l.index, Attr: uapi.LIFAttrMAC}.Encode())
	if err != nil {
		return errs.Wrap("station_mac", err)
	}
	e.mac = comp.AttrMAC()
	if e.mac == [6]byte{} {
		e.logger.Warn("device reported no station address")
		return nil
	}

	id, err := e.addFilter(l, uapi.RxFilterAddCmd{
		LIFIndex: l.index,
		QType:    uapi.QTypeRxQ,
		Match:    uapi.FilterMatchMAC,
		MAC:      e.mac,
	})
	if err != nil {
		return errs.Wrap("station_mac", err)
	}
	l.macFilterID = id
	e.logger.Info("station address set", "mac", e.MAC().String(), "filter_id", id)
	return nil
}

// addFilter installs a receive filter. A filter the device already holds is
// not an error.
func (e *Engine) addFilter(l *lif, cmd uapi.RxFilterAddCmd) (uint32, error) {
	comp, err := l.adminq.Run(cmd.Encode())
	if err != nil {
		if st, ok := errs.StatusOf(err); ok && st == uapi.StatusEExist {
			return 0, nil
		}
		return 0, err
	}
	return comp.FilterID(), nil
}

// setHWFeatures negotiates offloads. Failures leave the features cleared.
func (e *Engine) setHWFeatures(l *lif) {
	want := uapi.HWVLANRxFilter
	if e.params.VLANEnabled {
		want |= uapi.HWVLANTxTag | uapi.HWVLANRxStrip
	}
	comp, err := l.adminq.Run(uapi.LIFSetAttrCmd{Index: l.index, Attr: uapi.LIFAttrFeatures, Features: want}.Encode())
	if err != nil {
		e.hwFeatures = 0
		e.logger.WithError(err).Warn("feature negotiation failed", "requested", want)
		return
	}
	e.hwFeatures = want & comp.AttrFeatures()
	e.logger.Debug("features negotiated", "requested", want, "granted", e.hwFeatures)

	if !e.params.VLANEnabled {
		return
	}
	id, err := e.addFilter(l, uapi.RxFilterAddCmd{
		LIFIndex: l.index,
		QType:    uapi.QTypeRxQ,
		Match:    uapi.FilterMatchVLAN,
		VLAN:     e.params.VLANID,
	})
	if err != nil {
		e.logger.WithError(err).Warn("vlan filter not installed", "vlan", e.params.VLANID)
		return
	}
	l.vlanFilterID = id
}

// StartDevice initializes the device and the LIF and attaches the engine, so
// that Poll follows firmware transitions from then on. It is a no-op while
// the firmware is considered running. On failure everything allocated is
// released and the device is reset.
func (e *Engine) StartDevice() error {
	if err := e.startDevice(); err != nil {
		return err
	}
	e.attached = true
	return nil
}

func (e *Engine) startDevice() error {
	if e.fwRunning {
		return nil
	}
	e.fwRunning = true
	timeout := e.params.DevCmdTimeout

	if _, err := e.dev.Go(uapi.InitCmd{}.Encode(), timeout); err != nil {
		e.fwRunning = false
		e.logger.WithError(err).Error("device init failed")
		return errs.Wrap("start_device", err)
	}

	if err := e.Identify(); err != nil {
		e.logger.WithError(err).Error("identify failed")
		e.resetDevice()
		e.fwRunning = false
		return err
	}

	l, err := e.allocLIF()
	if err != nil {
		e.logger.WithError(err).Error("lif allocation failed")
		e.resetDevice()
		e.fwRunning = false
		return err
	}

	if err := e.initLIF(l); err != nil {
		e.logger.WithError(err).Error("lif init failed")
		e.resetLIF(l)
		if ferr := l.free(e.res.Memory); ferr != nil {
			e.logger.WithError(ferr).Warn("free lif memory")
		}
		e.resetDevice()
		e.fwRunning = false
		return err
	}

	e.lif = l
	e.logger.Info("device started",
		"mac", e.MAC().String(),
		"features", e.hwFeatures,
		"txq_depth", e.params.TxQDepth,
		"rxq_depth", e.params.RxQDepth)
	return nil
}

func (e *Engine) resetLIF(l *lif) error {
	_, err := e.dev.Go(uapi.LIFResetCmd{Index: l.index}.Encode(), e.params.DevCmdTimeout)
	if err != nil {
		e.logger.WithError(err).Warn("lif reset failed")
	}
	return err
}

func (e *Engine) resetDevice() error {
	_, err := e.dev.Go(uapi.ResetCmd{}.Encode(), e.params.DevCmdTimeout)
	if err != nil {
		e.logger.WithError(err).Warn("device reset failed")
	}
	return err
}

// reachable reports whether commands can still be answered.
func (e *Engine) reachable() bool {
	return e.fwRunning && e.firmwareAlive()
}

// StopDevice detaches the engine, tears the LIF down and resets the device.
// Buffers still on the rings are returned before their memory is released.
// While the firmware is gone no commands are sent; only host memory is
// reclaimed.
func (e *Engine) StopDevice() error {
	e.attached = false
	return e.stopDevice()
}

func (e *Engine) stopDevice() error {
	if !e.fwRunning {
		return nil
	}
	alive := e.firmwareAlive()
	var errList []error

	if l := e.lif; l != nil {
		if alive && l.notifyqcq.Inited {
			if err := e.controlQueue(l, l.notifyqcq, uapi.QDisable); err != nil {
				e.logger.WithError(err).Warn("notifyq disable failed")
				errList = append(errList, err)
			}
		}
		if l.tx != nil {
			l.tx.Flush()
		}
		if l.rx != nil {
			l.rx.Flush()
		}
		if alive {
			if err := e.resetLIF(l); err != nil {
				errList = append(errList, err)
			}
		}
		if err := l.free(e.res.Memory); err != nil {
			e.logger.WithError(err).Warn("free lif memory")
			errList = append(errList, err)
		}
		e.lif = nil
	}

	if alive {
		if err := e.resetDevice(); err != nil {
			errList = append(errList, err)
		}
	}

	e.fwRunning = false
	e.queuesRunning = false
	e.logger.Info("device stopped", "firmware_alive", alive)
	return errors.Join(errList...)
}

// controlQueue enables or disables a queue through Q_CONTROL.
func (e *Engine) controlQueue(l *lif, qcq *ring.QCQ, op uapi.QControlOp) error {
	_, err := l.adminq.Run(uapi.QControlCmd{
		LIFIndex: l.index,
		Type:     qcq.Q.Type,
		Index:    qcq.Q.Index,
		Oper:     op,
	}.Encode())
	return err
}

// StartQueues enables the data queues: notify events queued so far are
// dropped, the TX queue is enabled, the RX ring is filled, every receive mode
// is turned on and the RX queue is enabled. It is skipped while the queues
// are running or the firmware is down.
func (e *Engine) StartQueues() error {
	l := e.lif
	if e.queuesRunning || !e.fwRunning || l == nil {
		return nil
	}

	if n := l.notify.Drain(); n > 0 {
		e.logger.Debug("stale events drained", "count", n)
	}

	if l.stale {
		if err := e.initDataQueues(l); err != nil {
			return errs.Wrap("start_queues", err)
		}
	}

	if err := e.controlQueue(l, l.txqcq, uapi.QEnable); err != nil {
		return errs.Wrap("start_queues", err)
	}

	bufLen := e.rxBufferLen()
	if n := l.rx.Fill(bufLen); n == 0 {
		e.logger.Warn("no receive buffers posted", "buffer_len", bufLen)
	}

	if _, err := l.adminq.Run(uapi.RxModeSetCmd{LIFIndex: l.index, RxMode: uapi.RxModeAll}.Encode()); err != nil {
		return errs.Wrap("start_queues", err)
	}

	if err := e.controlQueue(l, l.rxqcq, uapi.QEnable); err != nil {
		return errs.Wrap("start_queues", err)
	}

	l.txqcq.Inited = true
	l.rxqcq.Inited = true
	e.queuesRunning = true
	e.logger.Info("queues started", "rx_posted", l.rx.Posted())
	return nil
}

// StopQueues disables the data queues, quiesces the LIF and flushes both
// rings. Command failures are logged.
func (e *Engine) StopQueues() {
	l := e.lif
	if !e.queuesRunning || l == nil {
		return
	}
	e.queuesRunning = false
	l.txqcq.Inited = false
	l.rxqcq.Inited = false

	if e.reachable() {
		if err := e.controlQueue(l, l.rxqcq, uapi.QDisable); err != nil {
			e.logger.WithError(err).Warn("rxq disable failed")
		}
		if err := e.controlQueue(l, l.txqcq, uapi.QDisable); err != nil {
			e.logger.WithError(err).Warn("txq disable failed")
		}
		_, err := l.adminq.Run(uapi.LIFSetAttrCmd{Index: l.index, Attr: uapi.LIFAttrState, State: uapi.LIFQuiesce}.Encode())
		if err != nil {
			e.logger.WithError(err).Warn("lif quiesce failed")
		}
	}

	tx := l.tx.Flush()
	rx := l.rx.Flush()
	l.stale = true
	e.logger.Info("queues stopped", "tx_canceled", tx, "rx_returned", rx)
}

// Open starts the device and the data queues and reads the link state.
// Firmware down/up recovery restarts the queues only while the engine is open.
func (e *Engine) Open() error {
	if e.open {
		return nil
	}
	if err := e.StartDevice(); err != nil {
		return err
	}
	if err := e.StartQueues(); err != nil {
		e.logger.WithError(err).Error("start queues failed")
		if serr := e.StopDevice(); serr != nil {
			e.logger.WithError(serr).Warn("stop device after failed open")
		}
		return err
	}
	e.open = true
	e.CheckLink()
	return nil
}

// Close stops the queues and the device.
func (e *Engine) Close() error {
	e.open = false
	e.StopQueues()
	err := e.StopDevice()
	e.metrics.Stop()
	return err
}
