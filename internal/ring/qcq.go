package ring

import (
	"fmt"

	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// QCQ is a Queue and its CQ sharing one page-aligned DMA region laid out as
// [queue][cq][sg], each part starting on a page boundary.
type QCQ struct {
	Q     *Queue
	CQ    *CQ
	Flags uint16

	alloc  dma.Allocator
	region *dma.Region

	// Inited is set once Q_INIT succeeded and cleared on stop.
	Inited bool
}

// Config describes one queue/completion pair.
type Config struct {
	Name       string
	Type       uapi.QueueType
	Index      uint32
	Depth      int
	DescSize   int
	CompSize   int
	SGDescSize int
	Flags      uint16
}

func pageAlign(n int) int {
	return (n + uapi.PageSize - 1) &^ (uapi.PageSize - 1)
}

// NewQCQ validates s and allocates its memory from alloc.
func NewQCQ(alloc dma.Allocator, s Config) (*QCQ, error) {
	q, err := NewQueue(s.Name, s.Depth, s.DescSize, s.SGDescSize)
	if err != nil {
		return nil, err
	}
	q.Type = s.Type
	q.Index = s.Index

	cq, err := NewCQ(s.Name, s.CompSize)
	if err != nil {
		return nil, err
	}
	if err := cq.Bind(q); err != nil {
		return nil, err
	}

	qBytes := pageAlign(q.RingBytes())
	cqBytes := pageAlign(cq.RingBytes())
	sgBytes := pageAlign(q.SGBytes())

	region, err := alloc.Alloc(qBytes + cqBytes + sgBytes)
	if err != nil {
		return nil, fmt.Errorf("allocate %s rings: %w", s.Name, err)
	}
	buf := region.Buf[:cap(region.Buf)]

	if err := q.Attach(buf[:qBytes], region.Phys); err != nil {
		_ = alloc.Free(region)
		return nil, err
	}
	if err := cq.Attach(buf[qBytes:qBytes+cqBytes], region.Phys+uint64(qBytes)); err != nil {
		_ = alloc.Free(region)
		return nil, err
	}
	if sgBytes > 0 {
		off := qBytes + cqBytes
		if err := q.AttachSG(buf[off:off+sgBytes], region.Phys+uint64(off)); err != nil {
			_ = alloc.Free(region)
			return nil, err
		}
	}

	return &QCQ{Q: q, CQ: cq, Flags: s.Flags, alloc: alloc, region: region}, nil
}

// QInitCmd builds the Q_INIT command announcing this pair to the device.
func (qcq *QCQ) QInitCmd(lifIndex, pid uint16) uapi.QInitCmd {
	return uapi.QInitCmd{
		LIFIndex:   lifIndex,
		Type:       qcq.Q.Type,
		Index:      qcq.Q.Index,
		PID:        pid,
		Flags:      qcq.Flags,
		RingSize:   qcq.Q.RingSizeLog2(),
		RingBase:   qcq.Q.Phys(),
		CQRingBase: qcq.CQ.Phys(),
		SGRingBase: qcq.Q.SGPhys(),
	}
}

// Sanitize empties both rings and clears stale completions so a re-initialized
// device cannot see last lap's colors.
func (qcq *QCQ) Sanitize() {
	qcq.Q.Reset()
	qcq.CQ.Reset()
	clear(qcq.CQ.mem)
}

// Free releases the DMA region. The rings must not be used afterwards.
func (qcq *QCQ) Free() error {
	if qcq.region == nil {
		return nil
	}
	r := qcq.region
	qcq.region = nil
	qcq.Inited = false
	return qcq.alloc.Free(r)
}
