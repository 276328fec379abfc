// Package notifyq consumes the device's asynchronous event stream.
package notifyq

import (
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/mmio"
	"github.com/ehrlich-b/go-ionic/internal/ring"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// Handler reacts to dispatched events.
type Handler interface {
	// LinkChange re-evaluates link state and starts or stops the data queues.
	LinkChange(ev uapi.Event)
	// Reset runs firmware-down handling. The notify queue is torn down by it.
	Reset(ev uapi.Event)
}

// ObserveFunc is called for every consumed event.
type ObserveFunc func(code uapi.EventCode, dispatched bool)

// Processor reads events from the notify queue's completion ring. An event is
// new when its id is ahead of the last one seen in 16-bit serial arithmetic.
type Processor struct {
	qcq     *ring.QCQ
	handler Handler
	logger  *logging.Logger
	observe ObserveFunc
	lastEID uint16
}

// New creates a processor over qcq, whose CQ holds uapi.EventSize records.
func New(qcq *ring.QCQ, handler Handler, logger *logging.Logger, observe ObserveFunc) *Processor {
	return &Processor{
		qcq:     qcq,
		handler: handler,
		logger:  logging.OrDefault(logger).WithQueue(qcq.Q.Name()),
		observe: observe,
	}
}

// ResetEID forgets the last seen id; called whenever the queue is (re)initialized.
func (p *Processor) ResetEID() { p.lastEID = 0 }

// LastEID returns the low 16 bits of the last consumed event id.
func (p *Processor) LastEID() uint16 { return p.lastEID }

// IsNew reports whether eid is ahead of last.
func IsNew(eid uint64, last uint16) bool {
	return int16(uint16(eid)-last) > 0
}

// Drain consumes pending events without side effects.
func (p *Processor) Drain() int { return p.Process(false) }

// Poll consumes pending events and dispatches them.
func (p *Processor) Poll() int { return p.Process(true) }

// Process consumes every new event, at most one ring's worth per call, and
// returns how many it consumed. With process false events are discarded. A
// dispatched Reset ends the loop.
func (p *Processor) Process(process bool) int {
	cq := p.qcq.CQ
	n := 0
	for n < p.qcq.Q.Cap() {
		slot := cq.TailDesc()
		eid := uapi.EventID(slot)
		if !IsNew(eid, p.lastEID) {
			break
		}
		p.lastEID = uint16(eid)
		mmio.Rmb()
		ev := uapi.DecodeEvent(slot)
		cq.Consume()
		n++

		if p.observe != nil {
			p.observe(ev.Code, process)
		}
		if !process {
			continue
		}
		if stop := p.dispatch(ev); stop {
			break
		}
	}
	return n
}

func (p *Processor) dispatch(ev uapi.Event) (stop bool) {
	switch ev.Code {
	case uapi.EventLinkChange:
		p.logger.Info("link change event", "eid", ev.EID, "status", ev.LinkStatus, "speed", ev.LinkSpeed)
		p.handler.LinkChange(ev)
	case uapi.EventReset:
		p.logger.Warn("reset event", "eid", ev.EID, "code", ev.ResetCode, "state", ev.ResetState)
		p.handler.Reset(ev)
		return true
	case uapi.EventHeartbeat, uapi.EventLog, uapi.EventXcvr:
		p.logger.Debug("event ignored", "eid", ev.EID, "code", ev.Code.String())
	default:
		p.logger.Warn("unknown event", "eid", ev.EID, "code", ev.Code.String())
	}
	return false
}
