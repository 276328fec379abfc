// Package dma provides DMA-capable memory for rings, the LIF info page and packet
// buffers. A Region pairs the CPU mapping with the bus address given to the device.
package dma

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	ErrBadAddress = errors.New("dma: bus address not mapped")
	ErrFreed      = errors.New("dma: region already freed")
)

// Region is a page-aligned, physically contiguous allocation.
type Region struct {
	Buf  []byte
	Phys uint64
}

// Allocator hands out and reclaims DMA regions.
type Allocator interface {
	Alloc(size int) (*Region, error)
	Free(r *Region) error
}

// Resolver translates a bus address range back to the CPU mapping, the way the
// device's DMA engine sees memory.
type Resolver interface {
	Resolve(phys uint64, n int) ([]byte, error)
}

// arenaBase is the first synthetic bus address. It is non-zero so that a zeroed
// descriptor never aliases a live buffer.
const arenaBase = 0x1_0000_0000

// Arena allocates regions from anonymous mmap'd pages and assigns each one a
// synthetic bus address, leaving a guard page between regions.
type Arena struct {
	mu       sync.Mutex
	pageSize int
	lock     bool
	nextPhys uint64
	regions  []*Region // sorted by Phys
}

// NewArena creates an arena. When lock is true every region is mlock'd.
func NewArena(lock bool) *Arena {
	return &Arena{
		pageSize: unix.Getpagesize(),
		lock:     lock,
		nextPhys: arenaBase,
	}
}

func (a *Arena) roundUp(n int) int {
	return (n + a.pageSize - 1) &^ (a.pageSize - 1)
}

// Alloc maps size bytes rounded up to whole pages. The memory is zeroed.
func (a *Arena) Alloc(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("dma: invalid allocation size %d", size)
	}
	length := a.roundUp(size)
	buf, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("dma: mmap %d bytes: %w", length, err)
	}
	if a.lock {
		if err := unix.Mlock(buf); err != nil {
			_ = unix.Munmap(buf)
			return nil, fmt.Errorf("dma: mlock %d bytes: %w", length, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	r := &Region{Buf: buf[:size:length], Phys: a.nextPhys}
	a.nextPhys += uint64(length + a.pageSize)
	a.regions = append(a.regions, r)
	return r, nil
}

// Free unmaps the region.
func (a *Arena) Free(r *Region) error {
	a.mu.Lock()
	i := a.find(r.Phys)
	if i < 0 || a.regions[i] != r {
		a.mu.Unlock()
		return ErrFreed
	}
	a.regions = append(a.regions[:i], a.regions[i+1:]...)
	a.mu.Unlock()

	buf := r.Buf[:cap(r.Buf)]
	r.Buf = nil
	if a.lock {
		_ = unix.Munlock(buf)
	}
	return unix.Munmap(buf)
}

// find returns the index of the region containing phys, or -1.
func (a *Arena) find(phys uint64) int {
	i := sort.Search(len(a.regions), func(i int) bool {
		return a.regions[i].Phys+uint64(cap(a.regions[i].Buf)) > phys
	})
	if i < len(a.regions) && a.regions[i].Phys <= phys {
		return i
	}
	return -1
}

// Resolve returns the n bytes at bus address phys. The range must lie inside one region.
func (a *Arena) Resolve(phys uint64, n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.find(phys)
	if i < 0 {
		return nil, fmt.Errorf("%w: %#x", ErrBadAddress, phys)
	}
	r := a.regions[i]
	off := int(phys - r.Phys)
	full := r.Buf[:cap(r.Buf)]
	if n < 0 || off+n > len(full) {
		return nil, fmt.Errorf("%w: %#x+%d crosses region end", ErrBadAddress, phys, n)
	}
	return full[off : off+n], nil
}

// Regions returns the number of live regions.
func (a *Arena) Regions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.regions)
}

// Close frees every remaining region.
func (a *Arena) Close() error {
	a.mu.Lock()
	regions := append([]*Region(nil), a.regions...)
	a.mu.Unlock()
	var errs []error
	for _, r := range regions {
		if err := a.Free(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Allocator = (*Arena)(nil)
	_ Resolver  = (*Arena)(nil)
)
