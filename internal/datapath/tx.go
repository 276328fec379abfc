package datapath

import (
	"fmt"

	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/ring"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// TxQueue posts packets and retires them on completion.
type TxQueue struct {
	qcq    *ring.QCQ
	bufs   []*dma.Buffer
	sink   TxSink
	logger *logging.Logger
}

// NewTxQueue wraps qcq, which must use uapi.TxDescSize/TxCompSize slots.
func NewTxQueue(qcq *ring.QCQ, sink TxSink, logger *logging.Logger) *TxQueue {
	return &TxQueue{
		qcq:    qcq,
		bufs:   make([]*dma.Buffer, qcq.Q.Cap()),
		sink:   sink,
		logger: logging.OrDefault(logger).WithQueue(qcq.Q.Name()),
	}
}

// QCQ returns the underlying queue pair.
func (t *TxQueue) QCQ() *ring.QCQ { return t.qcq }

// InFlight returns the number of posted, uncompleted packets.
func (t *TxQueue) InFlight() int { return t.qcq.Q.InFlight() }

// Transmit posts buf. The queue owns buf until it is passed to TxComplete.
func (t *TxQueue) Transmit(buf *dma.Buffer, opts TxOptions) error {
	q := t.qcq.Q
	if !q.HasSpace(1) {
		return errs.NewQueue("transmit", q.Name(), errs.CodeNoSpace, "")
	}
	if buf == nil || buf.Len() == 0 || buf.Len() > 0xffff {
		return errs.NewQueue("transmit", q.Name(), errs.CodeInvalidArgument, "empty or oversized buffer")
	}

	desc := uapi.TxDesc{
		Opcode: opts.Opcode,
		Addr:   buf.Phys(),
		Len:    uint16(buf.Len()),
	}
	if opts.VLAN {
		desc.Flags |= uapi.TxFlagVLAN
		desc.VLANTCI = opts.VLANTCI
	}
	desc.Encode(q.HeadDesc())
	t.bufs[q.Head()] = buf
	q.Advance()
	q.RingDoorbell()
	return nil
}

// Poll consumes TX completions. One completion may retire several descriptors:
// entries are retired from the tail up to and including the completion's index.
// It returns the number of buffers retired.
func (t *TxQueue) Poll() int {
	q, cq := t.qcq.Q, t.qcq.CQ
	n := 0
	for cq.Pending() {
		comp := uapi.DecodeTxComp(cq.TailDesc())
		cq.Consume()

		var err error
		if comp.Status != uapi.StatusSuccess {
			err = &errs.Error{Op: "poll_tx", Queue: q.Name(), Code: errs.CodeIOError, Status: comp.Status,
				Msg: fmt.Sprintf("tx completion %d failed", comp.CompIndex)}
		}

		retired := 0
		for q.InFlight() > 0 {
			i := q.AdvanceTail()
			t.complete(i, err)
			retired++
			if i == uint32(comp.CompIndex) {
				break
			}
		}
		if retired == 0 {
			t.logger.Warn("tx completion with nothing in flight", "comp_index", comp.CompIndex)
		}
		n += retired
	}
	return n
}

func (t *TxQueue) complete(i uint32, err error) {
	buf := t.bufs[i]
	t.bufs[i] = nil
	if buf != nil {
		t.sink.TxComplete(buf, err)
	}
}

// Flush cancels every in-flight packet without waiting for completions. Used
// only at teardown, after the queue has been disabled.
func (t *TxQueue) Flush() int {
	q, cq := t.qcq.Q, t.qcq.CQ
	n := 0
	for q.InFlight() > 0 {
		i := q.AdvanceTail()
		cq.Consume()
		t.complete(i, errs.NewQueue("flush", q.Name(), errs.CodeCanceled, ""))
		n++
	}
	if n > 0 {
		t.logger.Debug("tx flushed", "buffers", n)
	}
	return n
}
