// Package mmio provides the register-access capability used by the engine and an
// in-memory register window that stands in for a mapped BAR.
package mmio

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Registers is ordered little-endian access to a device register window.
// Offsets are relative to the start of the window.
type Registers interface {
	Read8(off uint32) uint8
	Read32(off uint32) uint32
	Write32(off uint32, v uint32)
	Write64(off uint32, v uint64)
}

// WriteHook observes driver writes to a Window. It runs after the write is visible
// and without the window lock held, so it may read and poke the window.
type WriteHook func(off uint32, v uint64, width int)

// Window is a byte-backed register window. The driver side uses the Registers
// methods; a device model uses the Poke/Peek methods, which never fire the hook.
type Window struct {
	mu   sync.Mutex
	mem  []byte
	hook WriteHook
}

// NewWindow creates a zeroed window of size bytes.
func NewWindow(size int) *Window {
	return &Window{mem: make([]byte, size)}
}

// SetWriteHook installs the hook called after every driver write.
func (w *Window) SetWriteHook(h WriteHook) {
	w.mu.Lock()
	w.hook = h
	w.mu.Unlock()
}

// Size returns the window length in bytes.
func (w *Window) Size() int { return len(w.mem) }

// check panics on an access outside the window. The window never resizes, so
// writers run it before taking the lock.
func (w *Window) check(off uint32, n int) {
	if int(off)+n > len(w.mem) {
		panic(fmt.Sprintf("mmio: access at %#x+%d outside %d-byte window", off, n, len(w.mem)))
	}
}

func (w *Window) Read8(off uint32) uint8 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.check(off, 1)
	return w.mem[off]
}

func (w *Window) Read32(off uint32) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.check(off, 4)
	return binary.LittleEndian.Uint32(w.mem[off:])
}

func (w *Window) Write32(off uint32, v uint32) {
	w.check(off, 4)
	w.mu.Lock()
	binary.LittleEndian.PutUint32(w.mem[off:], v)
	h := w.hook
	w.mu.Unlock()
	if h != nil {
		h(off, uint64(v), 4)
	}
}

func (w *Window) Write64(off uint32, v uint64) {
	w.check(off, 8)
	w.mu.Lock()
	binary.LittleEndian.PutUint64(w.mem[off:], v)
	h := w.hook
	w.mu.Unlock()
	if h != nil {
		h(off, v, 8)
	}
}

// Peek64 reads a 64-bit value without side effects.
func (w *Window) Peek64(off uint32) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.check(off, 8)
	return binary.LittleEndian.Uint64(w.mem[off:])
}

// Poke8 stores a byte from the device side.
func (w *Window) Poke8(off uint32, v uint8) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.check(off, 1)
	w.mem[off] = v
}

// Poke32 stores a 32-bit value from the device side.
func (w *Window) Poke32(off uint32, v uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.check(off, 4)
	binary.LittleEndian.PutUint32(w.mem[off:], v)
}

// PokeBytes copies b into the window from the device side.
func (w *Window) PokeBytes(off uint32, b []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.check(off, len(b))
	copy(w.mem[off:], b)
}

// PeekBytes copies n bytes out of the window.
func (w *Window) PeekBytes(off uint32, n int) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.check(off, n)
	out := make([]byte, n)
	copy(out, w.mem[off:])
	return out
}

var _ Registers = (*Window)(nil)
