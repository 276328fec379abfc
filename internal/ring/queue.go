// Package ring implements the descriptor ring, the completion ring with its
// color-bit protocol, and the paired queue/completion allocation used by every
// queue class of the device.
package ring

import (
	"fmt"
	"math/bits"

	"github.com/ehrlich-b/go-ionic/internal/constants"
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/mmio"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// Queue is a single-producer, single-consumer descriptor ring. The driver
// produces at head and retires at tail; one slot is always left empty so that
// head == tail means empty. Not safe for concurrent use.
type Queue struct {
	name       string
	capacity   uint32
	mask       uint32
	descSize   int
	sgDescSize int

	mem    []byte
	phys   uint64
	sgMem  []byte
	sgPhys uint64

	head uint32
	tail uint32

	// Device identity assigned by Q_INIT
	Type    uapi.QueueType
	Index   uint32
	HWIndex uint32
	HWType  uint8

	db  mmio.Registers
	pid uint16
}

// NewQueue creates an unattached queue.
func NewQueue(name string, capacity, descSize, sgDescSize int) (*Queue, error) {
	q := &Queue{}
	if err := q.Init(name, capacity, descSize, sgDescSize); err != nil {
		return nil, err
	}
	return q, nil
}

// Init validates the geometry and resets the indices. Capacity must be a power
// of two in [4, 65536].
func (q *Queue) Init(name string, capacity, descSize, sgDescSize int) error {
	if capacity < constants.MinRingDepth || capacity > constants.MaxRingDepth || capacity&(capacity-1) != 0 {
		return errs.NewQueue("ring.init", name, errs.CodeInvalidArgument,
			fmt.Sprintf("capacity %d is not a power of two in [%d,%d]", capacity, constants.MinRingDepth, constants.MaxRingDepth))
	}
	if descSize <= 0 || sgDescSize < 0 {
		return errs.NewQueue("ring.init", name, errs.CodeInvalidArgument,
			fmt.Sprintf("invalid descriptor sizes %d/%d", descSize, sgDescSize))
	}
	*q = Queue{
		name:       name,
		capacity:   uint32(capacity),
		mask:       uint32(capacity - 1),
		descSize:   descSize,
		sgDescSize: sgDescSize,
	}
	return nil
}

// Attach binds the descriptor memory and its bus address.
func (q *Queue) Attach(mem []byte, phys uint64) error {
	if len(mem) < q.RingBytes() {
		return errs.NewQueue("ring.attach", q.name, errs.CodeInvalidArgument,
			fmt.Sprintf("%d bytes for a %d-byte ring", len(mem), q.RingBytes()))
	}
	q.mem = mem[:q.RingBytes()]
	q.phys = phys
	return nil
}

// AttachSG binds the scatter-gather descriptor memory.
func (q *Queue) AttachSG(mem []byte, phys uint64) error {
	if len(mem) < q.SGBytes() {
		return errs.NewQueue("ring.attach", q.name, errs.CodeInvalidArgument,
			fmt.Sprintf("%d bytes for a %d-byte SG ring", len(mem), q.SGBytes()))
	}
	q.sgMem = mem[:q.SGBytes()]
	q.sgPhys = phys
	return nil
}

// BindDoorbell sets the doorbell window and process id used by RingDoorbell.
func (q *Queue) BindDoorbell(db mmio.Registers, pid uint16) {
	q.db = db
	q.pid = pid
}

func (q *Queue) Name() string         { return q.name }
func (q *Queue) Cap() int             { return int(q.capacity) }
func (q *Queue) DescSize() int        { return q.descSize }
func (q *Queue) Head() uint32         { return q.head }
func (q *Queue) Tail() uint32         { return q.tail }
func (q *Queue) Phys() uint64         { return q.phys }
func (q *Queue) SGPhys() uint64       { return q.sgPhys }
func (q *Queue) RingBytes() int       { return int(q.capacity) * q.descSize }
func (q *Queue) SGBytes() int         { return int(q.capacity) * q.sgDescSize }
func (q *Queue) Next(i uint32) uint32 { return (i + 1) & q.mask }

// Left returns how many slots remain from i to the physical end of the ring.
func (q *Queue) Left(i uint32) uint32 { return q.capacity - i }

// RingSizeLog2 returns log2 of the capacity, as Q_INIT expects.
func (q *Queue) RingSizeLog2() uint8 { return uint8(bits.TrailingZeros32(q.capacity)) }

// SpaceAvailable returns the number of free slots: capacity - in_flight - 1.
func (q *Queue) SpaceAvailable() int {
	return int((q.tail - q.head - 1) & q.mask)
}

// HasSpace reports whether n descriptors can be posted.
func (q *Queue) HasSpace(n int) bool {
	return q.SpaceAvailable() >= n
}

// InFlight returns the number of posted, unretired descriptors.
func (q *Queue) InFlight() int {
	return int((q.head - q.tail) & q.mask)
}

// Desc returns the descriptor bytes of slot i.
func (q *Queue) Desc(i uint32) []byte {
	off := int(i&q.mask) * q.descSize
	return q.mem[off : off+q.descSize : off+q.descSize]
}

// SGDesc returns the scatter-gather bytes of slot i.
func (q *Queue) SGDesc(i uint32) []byte {
	off := int(i&q.mask) * q.sgDescSize
	return q.sgMem[off : off+q.sgDescSize : off+q.sgDescSize]
}

// HeadDesc returns the slot the next descriptor is written to.
func (q *Queue) HeadDesc() []byte { return q.Desc(q.head) }

// Advance publishes the head slot and returns its index. The caller must have
// checked HasSpace and written HeadDesc first.
func (q *Queue) Advance() uint32 {
	i := q.head
	q.head = q.Next(i)
	return i
}

// AdvanceTail retires the tail slot and returns its index.
func (q *Queue) AdvanceTail() uint32 {
	i := q.tail
	q.tail = q.Next(i)
	return i
}

// Reset empties the ring.
func (q *Queue) Reset() {
	q.head = 0
	q.tail = 0
}

// Doorbell returns the doorbell value announcing the current head.
func (q *Queue) Doorbell() uapi.Doorbell {
	return uapi.Doorbell{PIndex: uint16(q.head), QID: q.HWIndex}
}

// RingDoorbell issues a write barrier and tells the device about the new head.
func (q *Queue) RingDoorbell() {
	if q.db == nil {
		return
	}
	mmio.Wmb()
	q.db.Write64(uapi.DoorbellOffset(q.pid, q.HWType), q.Doorbell().Value())
}
