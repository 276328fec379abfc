package datapath

import (
	"fmt"

	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/ring"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// RxQueue keeps the receive ring stocked and delivers completed frames.
type RxQueue struct {
	qcq     *ring.QCQ
	bufs    []*dma.Buffer
	descLen []uint16
	src     BufferSource
	sink    RxSink
	logger  *logging.Logger
}

// NewRxQueue wraps qcq, which must use uapi.RxDescSize/RxCompSize slots.
func NewRxQueue(qcq *ring.QCQ, src BufferSource, sink RxSink, logger *logging.Logger) *RxQueue {
	return &RxQueue{
		qcq:     qcq,
		bufs:    make([]*dma.Buffer, qcq.Q.Cap()),
		descLen: make([]uint16, qcq.Q.Cap()),
		src:     src,
		sink:    sink,
		logger:  logging.OrDefault(logger).WithQueue(qcq.Q.Name()),
	}
}

// QCQ returns the underlying queue pair.
func (r *RxQueue) QCQ() *ring.QCQ { return r.qcq }

// Posted returns the number of buffers owned by the device.
func (r *RxQueue) Posted() int { return r.qcq.Q.InFlight() }

// Fill posts one buffer of up to length bytes per free slot and rings the
// doorbell once. It stops early when the source runs dry and returns the number
// of buffers posted.
func (r *RxQueue) Fill(length int) int {
	q := r.qcq.Q
	n := 0
	for q.HasSpace(1) {
		buf, ok := r.src.Get()
		if !ok {
			break
		}
		l := length
		if l > buf.Cap() {
			l = buf.Cap()
		}
		if l > 0xffff {
			l = 0xffff
		}
		uapi.RxDesc{Opcode: uapi.RxOpSimple, Len: uint16(l), Addr: buf.Phys()}.Encode(q.HeadDesc())
		i := q.Head()
		r.bufs[i] = buf
		r.descLen[i] = uint16(l)
		q.Advance()
		n++
	}
	if n > 0 {
		q.RingDoorbell()
	}
	return n
}

// Poll consumes receive completions and hands each buffer to the sink. A failed
// status or a bad TCP, UDP or IP checksum delivers the buffer with an error.
// It returns the number of buffers delivered.
func (r *RxQueue) Poll() int {
	q, cq := r.qcq.Q, r.qcq.CQ
	n := 0
	for cq.Pending() {
		comp := uapi.DecodeRxComp(cq.TailDesc())
		cq.Consume()
		if q.InFlight() == 0 {
			r.logger.Warn("rx completion with nothing posted", "comp_index", comp.CompIndex)
			continue
		}

		i := q.AdvanceTail()
		buf := r.bufs[i]
		r.bufs[i] = nil
		if buf == nil {
			continue
		}

		var err error
		if comp.Status != uapi.StatusSuccess || comp.ChecksumBad() {
			buf.SetLen(int(r.descLen[i]))
			err = &errs.Error{Op: "poll_rx", Queue: q.Name(), Code: errs.CodeIOError, Status: comp.Status,
				Msg: fmt.Sprintf("rx error: status %s csum_flags %#x", comp.Status, comp.CsumFlags)}
		} else {
			buf.SetLen(int(comp.Len))
		}
		r.sink.Receive(buf, err)
		n++
	}
	return n
}

// Flush returns every posted buffer to the source. Used only at teardown.
func (r *RxQueue) Flush() int {
	q, cq := r.qcq.Q, r.qcq.CQ
	n := 0
	for q.InFlight() > 0 {
		i := q.AdvanceTail()
		cq.Consume()
		if buf := r.bufs[i]; buf != nil {
			r.bufs[i] = nil
			r.src.Put(buf)
		}
		n++
	}
	if n > 0 {
		r.logger.Debug("rx flushed", "buffers", n)
	}
	return n
}
