package mmio

import "sync/atomic"

// barrierDummy is the target of the atomic operations that provide fence semantics.
// On x86-64 atomic.AddInt64 compiles to LOCK XADD, a full fence; on arm64 it is a
// load-acquire/store-release pair, which orders the surrounding accesses.
var barrierDummy int64

// Wmb orders descriptor stores before the doorbell write that publishes them.
func Wmb() {
	atomic.AddInt64(&barrierDummy, 0)
}

// Rmb orders the completion color read before reads of the rest of the completion.
func Rmb() {
	atomic.AddInt64(&barrierDummy, 0)
}
