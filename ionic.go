// Package ionic drives the queues and command channels of an ionic-family
// Ethernet controller from user space.
//
// An Engine owns one logical interface (LIF) with an admin queue, a notify
// queue and one transmit/receive queue pair. It brings the device up through
// the device command channel, tracks firmware and link state, and moves
// frames between the rings and a NetDevice. The engine is cooperative: the
// caller drives Poll (or Run) and Transmit from a single goroutine.
//
// Example:
//
//	arena := dma.NewArena(true)
//	pool, _ := dma.NewPool(arena, ionic.DefaultBufferCount, ionic.DefaultBufferSize)
//	eng, err := ionic.New(ionic.Resources{
//		BAR0:      bar0,
//		Doorbells: doorbells,
//		Memory:    arena,
//		Buffers:   pool,
//		NetDevice: netdev,
//	}, ionic.DefaultParams(), nil)
//	if err != nil {
//		return err
//	}
//	if err := eng.Open(); err != nil {
//		return err
//	}
//	defer eng.Close()
//	return eng.Run(ctx)
package ionic

import (
	"github.com/ehrlich-b/go-ionic/internal/datapath"
	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/interfaces"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/mmio"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// Version is reported to the device in the driver identity.
const Version = "0.3.0"

type (
	// Buffer is a DMA-reachable packet buffer.
	Buffer = dma.Buffer
	// Allocator hands out page-aligned DMA regions.
	Allocator = dma.Allocator
	// BufferSource supplies receive buffers.
	BufferSource = datapath.BufferSource
	// Registers is access to a mapped register window.
	Registers = mmio.Registers

	// NetDevice receives completed transmits, received frames and link changes.
	NetDevice = interfaces.NetDevice
	// ResetNetDevice additionally hears about firmware resets.
	ResetNetDevice = interfaces.ResetNetDevice

	// TxOptions sets per-frame descriptor flags.
	TxOptions = datapath.TxOptions

	// DeviceInfo is the device info region read at construction.
	DeviceInfo = uapi.DevInfo
	// DeviceIdentity is what the device returns from IDENTIFY.
	DeviceIdentity = uapi.DeviceIdentity
	// DriverIdentity is what the engine sends with IDENTIFY.
	DriverIdentity = uapi.DriverIdentity

	// Opcode is a device or admin command opcode.
	Opcode = uapi.Opcode
	// EventCode identifies a notify queue event.
	EventCode = uapi.EventCode

	// Logger is the structured logger used by every engine component.
	Logger = logging.Logger
)
