package sim

import (
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// onDoorbell dispatches a queue doorbell. The register offset within the page
// selects the hardware queue type and the value carries the queue id.
func (d *Device) onDoorbell(off uint32, v uint64, width int) {
	if width != 8 {
		return
	}
	hwType := uapi.QueueType((off % uapi.PageSize) / 8)
	db := uapi.DecodeDoorbell(v)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.stats.Doorbells++

	q := d.queues[qkey{hwType, db.QID}]
	if q == nil {
		d.stats.StrayBells++
		d.logger.Warn("doorbell for unknown queue", "type", hwType.String(), "qid", db.QID)
		return
	}
	q.head = uint32(db.PIndex) & (q.count - 1)

	switch q.typ {
	case uapi.QTypeAdminQ:
		d.processAdmin(q)
	case uapi.QTypeTxQ:
		d.processTx(q)
	}
}

// processTx consumes posted transmit descriptors. One completion covers up to
// TxCoalesce descriptors; a failed descriptor completes at once.
func (d *Device) processTx(q *queue) {
	if !q.enabled {
		return
	}
	coalesce := d.cfg.TxCoalesce
	if coalesce < 2 {
		coalesce = 1
	}

	for q.tail != q.head {
		i := q.tail
		desc := uapi.DecodeTxDesc(q.desc(i))
		frame, err := d.cfg.Memory.Resolve(desc.Addr, int(desc.Len))
		if err != nil {
			q.txErr = uapi.StatusBadAddr
		} else {
			d.stats.TxFrames++
			d.stats.TxBytes += uint64(len(frame))
			pkt := make([]byte, len(frame))
			copy(pkt, frame)
			if d.cfg.Loopback {
				d.deliverLocked(pkt)
			} else {
				d.captured = append(d.captured, pkt)
			}
		}

		q.last = i
		q.tail = q.next(i)
		q.pending++
		if q.pending >= coalesce || q.txErr != uapi.StatusSuccess {
			d.completeTx(q)
		}
	}
}

// completeTx writes one completion for every descriptor consumed since the last one.
func (d *Device) completeTx(q *queue) {
	if q.pending == 0 {
		return
	}
	st := q.txErr
	if st == uapi.StatusSuccess {
		st = d.txStatus
	}
	var comp [uapi.TxCompSize]byte
	uapi.TxComp{Status: st, CompIndex: uint16(q.last), Color: q.color}.Encode(comp[:])
	q.writeComp(comp[:])
	q.pending = 0
	q.txErr = uapi.StatusSuccess
}

// FlushTx completes transmit descriptors still held back by coalescing, as a
// coalescing timer would.
func (d *Device) FlushTx() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, q := range d.queues {
		if q.typ == uapi.QTypeTxQ {
			d.completeTx(q)
		}
	}
}

// deliverLocked places frame into the next posted buffer of receive queue 0.
// Frames are dropped when the queue is not running, nothing is posted, or the
// frame does not fit.
func (d *Device) deliverLocked(frame []byte) {
	q := d.queues[qkey{uapi.QTypeRxQ, 0}]
	if q == nil || !q.enabled || q.tail == q.head {
		d.stats.RxDropped++
		return
	}

	i := q.tail
	desc := uapi.DecodeRxDesc(q.desc(i))
	if len(frame) > int(desc.Len) {
		d.stats.RxDropped++
		return
	}

	comp := uapi.RxComp{CompIndex: uint16(i), Color: q.color}
	buf, err := d.cfg.Memory.Resolve(desc.Addr, int(desc.Len))
	if err != nil {
		comp.Status = uapi.StatusBadAddr
	} else {
		copy(buf, frame)
		comp.Len = uint16(len(frame))
		comp.CsumFlags = checksumFlags(frame)
		if d.corrupt {
			comp.CsumFlags = corruptFlags(comp.CsumFlags)
		}
		d.stats.RxFrames++
		d.stats.RxBytes += uint64(len(frame))
	}

	var raw [uapi.RxCompSize]byte
	comp.Encode(raw[:])
	q.writeComp(raw[:])
	q.tail = q.next(i)
}

// Inject delivers frame to receive queue 0 as if it arrived from the wire.
func (d *Device) Inject(frame []byte) {
	pkt := make([]byte, len(frame))
	copy(pkt, frame)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.deliverLocked(pkt)
}

// corruptFlags turns every verified checksum into a failed one.
func corruptFlags(f uint8) uint8 {
	if f&uapi.RxCsumIPOK != 0 {
		f = f&^uapi.RxCsumIPOK | uapi.RxCsumIPBad
	}
	if f&uapi.RxCsumUDPOK != 0 {
		f = f&^uapi.RxCsumUDPOK | uapi.RxCsumUDPBad
	}
	if f&uapi.RxCsumTCPOK != 0 {
		f = f&^uapi.RxCsumTCPOK | uapi.RxCsumTCPBad
	}
	return f
}
