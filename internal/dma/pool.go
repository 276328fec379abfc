package dma

import (
	"fmt"
	"sync"
)

// Buffer is a fixed-size packet buffer carved out of a Pool region.
// Bytes returns the valid portion; Cap is the full DMA-able size.
type Buffer struct {
	phys uint64
	data []byte
	n    int
	idx  int
}

// Phys returns the bus address of the first byte.
func (b *Buffer) Phys() uint64 { return b.phys }

// Bytes returns the valid bytes.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Len returns the number of valid bytes.
func (b *Buffer) Len() int { return b.n }

// Cap returns the buffer size.
func (b *Buffer) Cap() int { return len(b.data) }

// SetLen sets the valid length, clamped to the buffer size.
func (b *Buffer) SetLen(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	b.n = n
}

// Write replaces the contents with p. It fails when p does not fit.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > len(b.data) {
		return 0, fmt.Errorf("dma: %d bytes exceed %d-byte buffer", len(p), len(b.data))
	}
	b.n = copy(b.data, p)
	return b.n, nil
}

// NewBuffer wraps caller memory as a Buffer. Used by device models and tests.
func NewBuffer(phys uint64, data []byte) *Buffer {
	return &Buffer{phys: phys, data: data, idx: -1}
}

// Pool hands out fixed-size buffers from one DMA region.
//
// sync.Pool is not usable here: buffers are pinned DMA memory with stable bus
// addresses, so they live on an explicit free list for the lifetime of the pool.
type Pool struct {
	mu      sync.Mutex
	alloc   Allocator
	region  *Region
	bufs    []Buffer
	free    []int
	inUse   []bool
	bufSize int
}

// NewPool allocates count buffers of size bytes each.
func NewPool(alloc Allocator, count, size int) (*Pool, error) {
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("dma: invalid pool geometry %dx%d", count, size)
	}
	r, err := alloc.Alloc(count * size)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		alloc:   alloc,
		region:  r,
		bufs:    make([]Buffer, count),
		free:    make([]int, 0, count),
		inUse:   make([]bool, count),
		bufSize: size,
	}
	for i := range p.bufs {
		off := i * size
		p.bufs[i] = Buffer{phys: r.Phys + uint64(off), data: r.Buf[off : off+size : off+size], idx: i}
	}
	// Hand out low indexes first.
	for i := count - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p, nil
}

// Get takes a buffer off the free list. ok is false when the pool is exhausted.
func (p *Pool) Get() (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, false
	}
	i := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[i] = true
	b := &p.bufs[i]
	b.n = 0
	return b, true
}

// Put returns a buffer to the pool. Buffers not owned by the pool and double
// puts are ignored.
func (p *Pool) Put(b *Buffer) {
	if b == nil || b.idx < 0 || b.idx >= len(p.bufs) || &p.bufs[b.idx] != b {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inUse[b.idx] {
		return
	}
	p.inUse[b.idx] = false
	p.free = append(p.free, b.idx)
}

// Available returns the number of free buffers.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Size returns the total number of buffers.
func (p *Pool) Size() int { return len(p.bufs) }

// BufferSize returns the size of each buffer.
func (p *Pool) BufferSize() int { return p.bufSize }

// Close releases the backing region. Outstanding buffers become invalid.
func (p *Pool) Close() error {
	p.mu.Lock()
	r := p.region
	p.region = nil
	p.free = nil
	p.mu.Unlock()
	if r == nil {
		return nil
	}
	return p.alloc.Free(r)
}
