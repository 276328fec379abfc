package interfaces

import "github.com/ehrlich-b/go-ionic/internal/dma"

// NetDevice is the network-stack side of the engine. The engine hands buffer
// ownership to the NetDevice with every callback; the NetDevice returns buffers
// to their pool when done.
//
// All callbacks run on the goroutine that drives Poll, so implementations must
// not call back into the engine's blocking operations.
type NetDevice interface {
	// TxComplete reports a transmitted buffer. err is nil on success and carries
	// CodeCanceled for buffers flushed at teardown.
	TxComplete(buf *dma.Buffer, err error)

	// Receive delivers a received frame sized to the reported length. On a
	// status or checksum failure err is non-nil and buf is sized to the posted
	// descriptor length.
	Receive(buf *dma.Buffer, err error)

	// LinkChanged reports a link state transition. speedMbps is 0 when down.
	LinkChanged(up bool, speedMbps uint32)
}

// ResetNetDevice is an optional interface for devices that want to know when
// the firmware goes away and comes back.
type ResetNetDevice interface {
	NetDevice

	// FirmwareDown is called before queues are torn down after a reset event or
	// a firmware status change.
	FirmwareDown()

	// FirmwareUp is called after the device has been rebuilt.
	FirmwareUp()
}
