// Package datapath implements the transmit and receive fast path on top of the
// ring primitives. Each queue keeps a side table of buffers indexed by slot.
package datapath

import (
	"github.com/ehrlich-b/go-ionic/internal/dma"
)

// BufferSource supplies receive buffers. dma.Pool implements it.
type BufferSource interface {
	Get() (*dma.Buffer, bool)
	Put(b *dma.Buffer)
}

// TxSink receives ownership of transmitted buffers.
type TxSink interface {
	TxComplete(buf *dma.Buffer, err error)
}

// RxSink receives ownership of received buffers.
type RxSink interface {
	Receive(buf *dma.Buffer, err error)
}

// TxOptions controls per-packet descriptor flags.
type TxOptions struct {
	// Opcode selects checksum handling; zero is uapi.TxOpCsumNone.
	Opcode uint8
	// VLAN inserts VLANTCI when the device does TX tag insertion.
	VLAN    bool
	VLANTCI uint16
}
