package ring

import (
	"fmt"

	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/mmio"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// CQ is a completion ring bound to one Queue. A slot is pending when the color
// bit in its last byte equals doneColor; doneColor flips each time the tail
// passes the last slot, so stale slots from the previous lap never match.
type CQ struct {
	name      string
	descSize  int
	capacity  uint32
	mask      uint32
	mem       []byte
	phys      uint64
	tail      uint32
	doneColor bool
	q         *Queue
}

// NewCQ creates an unbound completion ring.
func NewCQ(name string, descSize int) (*CQ, error) {
	if descSize <= 0 {
		return nil, errs.NewQueue("cq.init", name, errs.CodeInvalidArgument,
			fmt.Sprintf("invalid completion size %d", descSize))
	}
	return &CQ{name: name, descSize: descSize, doneColor: true}, nil
}

// Bind associates the CQ with q and takes q's capacity.
func (cq *CQ) Bind(q *Queue) error {
	if cq.q != nil {
		return errs.NewQueue("cq.bind", cq.name, errs.CodeInvalidArgument, "already bound to "+cq.q.Name())
	}
	if q == nil || q.capacity == 0 {
		return errs.NewQueue("cq.bind", cq.name, errs.CodeInvalidArgument, "queue not initialized")
	}
	cq.q = q
	cq.capacity = q.capacity
	cq.mask = q.mask
	return nil
}

// Attach binds the completion memory and its bus address.
func (cq *CQ) Attach(mem []byte, phys uint64) error {
	if cq.q == nil {
		return errs.NewQueue("cq.attach", cq.name, errs.CodeInvalidArgument, "not bound")
	}
	if len(mem) < cq.RingBytes() {
		return errs.NewQueue("cq.attach", cq.name, errs.CodeInvalidArgument,
			fmt.Sprintf("%d bytes for a %d-byte ring", len(mem), cq.RingBytes()))
	}
	cq.mem = mem[:cq.RingBytes()]
	cq.phys = phys
	return nil
}

func (cq *CQ) Queue() *Queue   { return cq.q }
func (cq *CQ) Tail() uint32    { return cq.tail }
func (cq *CQ) DoneColor() bool { return cq.doneColor }
func (cq *CQ) Phys() uint64    { return cq.phys }
func (cq *CQ) RingBytes() int  { return int(cq.capacity) * cq.descSize }

// IsLast reports whether slot i is the wrap point.
func (cq *CQ) IsLast(i uint32) bool { return i == cq.mask }

// Desc returns the completion bytes of slot i.
func (cq *CQ) Desc(i uint32) []byte {
	off := int(i&cq.mask) * cq.descSize
	return cq.mem[off : off+cq.descSize : off+cq.descSize]
}

// TailDesc returns the slot Pending inspects.
func (cq *CQ) TailDesc() []byte { return cq.Desc(cq.tail) }

// Pending reports whether the tail slot holds a new completion. On true, a read
// barrier has been issued and the rest of the slot may be read.
func (cq *CQ) Pending() bool {
	slot := cq.TailDesc()
	if (slot[cq.descSize-1]&uapi.ColorMask != 0) != cq.doneColor {
		return false
	}
	mmio.Rmb()
	return true
}

// Consume advances the tail past the current slot and returns its index,
// flipping doneColor after the last slot.
func (cq *CQ) Consume() uint32 {
	i := cq.tail
	if cq.IsLast(i) {
		cq.doneColor = !cq.doneColor
	}
	cq.tail = (i + 1) & cq.mask
	return i
}

// Reset returns the tail to 0 and doneColor to its initial value.
func (cq *CQ) Reset() {
	cq.tail = 0
	cq.doneColor = true
}
