package sim

import (
	"github.com/ehrlich-b/go-ionic/internal/mmio"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// queue is the device's view of one initialized queue.
type queue struct {
	typ     uapi.QueueType
	index   uint32
	enabled bool

	ring     []byte
	cq       []byte
	count    uint32
	descSize int
	compSize int

	tail    uint32 // next descriptor the device consumes
	head    uint32 // producer index from the last doorbell
	cqHead  uint32
	color   bool
	pending int
	last    uint32
	txErr   uapi.Status
}

func (q *queue) next(i uint32) uint32 { return (i + 1) & (q.count - 1) }

func (q *queue) desc(i uint32) []byte {
	off := int(i) * q.descSize
	return q.ring[off : off+q.descSize]
}

// writeComp writes comp into the next completion slot. The last byte, which
// carries the color, is stored after the rest.
func (q *queue) writeComp(comp []byte) {
	off := int(q.cqHead) * q.compSize
	slot := q.cq[off : off+q.compSize]
	n := len(slot) - 1
	copy(slot[:n], comp[:n])
	mmio.Wmb()
	slot[n] = comp[n]
	q.advanceCQ()
}

func (q *queue) advanceCQ() {
	if q.cqHead == q.count-1 {
		q.color = !q.color
	}
	q.cqHead = q.next(q.cqHead)
}

// descSizes gives the descriptor and completion sizes the device expects per queue type.
func descSizes(t uapi.QueueType) (desc, comp int, ok bool) {
	switch t {
	case uapi.QTypeAdminQ:
		return uapi.CmdSize, uapi.CompSize, true
	case uapi.QTypeNotifyQ:
		return 0, uapi.EventSize, true
	case uapi.QTypeTxQ:
		return uapi.TxDescSize, uapi.TxCompSize, true
	case uapi.QTypeRxQ:
		return uapi.RxDescSize, uapi.RxCompSize, true
	}
	return 0, 0, false
}

// initQueue handles Q_INIT from either the device command channel or the admin queue.
func (d *Device) initQueue(c uapi.QInitCmd, comp *uapi.Comp) uapi.Status {
	descSize, compSize, ok := descSizes(c.Type)
	if !ok {
		return uapi.StatusEQType
	}
	if c.RingSize < 2 || c.RingSize > 16 {
		return uapi.StatusEInval
	}
	count := uint32(1) << c.RingSize

	q := &queue{
		typ:      c.Type,
		index:    c.Index,
		enabled:  c.Flags&uapi.QInitFlagEna != 0,
		count:    count,
		descSize: descSize,
		compSize: compSize,
		color:    true,
	}
	var err error
	if descSize > 0 {
		if q.ring, err = d.cfg.Memory.Resolve(c.RingBase, int(count)*descSize); err != nil {
			return uapi.StatusBadAddr
		}
	}
	if q.cq, err = d.cfg.Memory.Resolve(c.CQRingBase, int(count)*compSize); err != nil {
		return uapi.StatusBadAddr
	}

	d.queues[qkey{c.Type, c.Index}] = q
	comp.SetQInit(c.Index, uint8(c.Type))
	d.logger.Debug("queue initialized", "type", c.Type.String(), "index", c.Index, "depth", count, "enabled", q.enabled)
	return uapi.StatusSuccess
}

// controlQueue handles Q_CONTROL.
func (d *Device) controlQueue(c uapi.QControlCmd) uapi.Status {
	q := d.queues[qkey{c.Type, c.Index}]
	if q == nil {
		return uapi.StatusEQID
	}
	switch c.Oper {
	case uapi.QEnable:
		q.enabled = true
		if q.typ == uapi.QTypeTxQ {
			d.processTx(q)
		}
	case uapi.QDisable:
		q.enabled = false
	default:
		return uapi.StatusEInval
	}
	return uapi.StatusSuccess
}
