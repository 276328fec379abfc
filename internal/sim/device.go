// Package sim is a software model of ionic firmware. It answers device
// commands written to a BAR0 window, serves the admin queue from ring memory,
// completes transmits, optionally loops them back into the receive ring, and
// posts notify queue events on request.
//
// All device work happens inside the register write hooks, on the goroutine
// that wrote the register.
package sim

import (
	"sync"

	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/mmio"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// DefaultSupportedFeatures is what the model accepts in LIF_SETATTR(FEATURES).
const DefaultSupportedFeatures = uapi.HWVLANTxTag | uapi.HWVLANRxStrip | uapi.HWVLANRxFilter |
	uapi.HWRxCsum | uapi.HWTxCsum

// Config describes the simulated device.
type Config struct {
	// Memory resolves the bus addresses the driver hands to the device.
	Memory dma.Resolver

	MAC       [6]byte
	FwVersion string
	Serial    string
	Identity  uapi.DeviceIdentity
	Supported uint64

	// Loopback delivers every transmitted frame to receive queue 0.
	Loopback bool
	// TxCoalesce is the number of descriptors covered by one transmit
	// completion; values below 2 complete every descriptor.
	TxCoalesce int
	// DoorbellPages sizes the doorbell window, one page per process id.
	DoorbellPages int

	Logger *logging.Logger
}

// Stats counts what the device has seen.
type Stats struct {
	DevCmds    uint64
	AdminCmds  uint64
	TxFrames   uint64
	TxBytes    uint64
	RxFrames   uint64
	RxBytes    uint64
	RxDropped  uint64
	Events     uint64
	Doorbells  uint64
	StrayBells uint64
}

type qkey struct {
	typ   uapi.QueueType
	index uint32
}

// Device is the simulated firmware.
type Device struct {
	cfg    Config
	bar0   *mmio.Window
	db     *mmio.Window
	logger *logging.Logger

	mu        sync.Mutex
	running   bool
	busy      int
	holdDone  bool
	overrides map[uapi.Opcode]uapi.Status
	txStatus  uapi.Status
	corrupt   bool

	driver    uapi.DriverIdentity
	lifInfo   []byte
	lifInfoPA uint64
	queues    map[qkey]*queue
	filters   map[uint32]uapi.RxFilterAddCmd
	nextID    uint32
	rxMode    uint16
	features  uint64
	state     uapi.LIFState
	mtu       uint32
	mac       [6]byte
	linkUp    bool
	speed     uint32
	linkDowns uint16
	eid       uint64
	captured  [][]byte
	stats     Stats
}

// New creates a device with firmware running and the device info region filled in.
func New(cfg Config) (*Device, error) {
	if cfg.Memory == nil {
		return nil, errs.New("sim.new", errs.CodeConfiguration, "no memory resolver")
	}
	if cfg.Supported == 0 {
		cfg.Supported = DefaultSupportedFeatures
	}
	if cfg.DoorbellPages <= 0 {
		cfg.DoorbellPages = 1
	}
	if cfg.FwVersion == "" {
		cfg.FwVersion = "1.0.0-sim"
	}
	if cfg.Serial == "" {
		cfg.Serial = "SIM0000001"
	}
	if cfg.Identity.Version == 0 {
		cfg.Identity = uapi.DeviceIdentity{
			Version:        uapi.IdentityVer1,
			NPorts:         1,
			NLIFs:          1,
			NIntrs:         4,
			NDbPagesPerLIF: uint32(cfg.DoorbellPages),
			IntrCoalMult:   1,
			IntrCoalDiv:    1,
		}
	}

	d := &Device{
		cfg:    cfg,
		bar0:   mmio.NewWindow(uapi.BAR0Size),
		db:     mmio.NewWindow(cfg.DoorbellPages * uapi.PageSize),
		logger: logging.OrDefault(cfg.Logger).WithQueue("sim"),
		mac:    cfg.MAC,
	}
	d.resetLocked()

	info := make([]byte, uapi.DevInfoLen)
	uapi.DevInfo{
		Signature: uapi.DevInfoSignature,
		Version:   1,
		FwStatus:  uapi.FwStatusRunning,
		FwVersion: cfg.FwVersion,
		SerialNum: cfg.Serial,
	}.Encode(info)
	d.bar0.PokeBytes(uapi.DevInfoOffset, info)
	d.running = true

	d.bar0.SetWriteHook(d.onBAR0Write)
	d.db.SetWriteHook(d.onDoorbell)
	return d, nil
}

// BAR0 returns the device info and device command window.
func (d *Device) BAR0() *mmio.Window { return d.bar0 }

// Doorbells returns the doorbell window.
func (d *Device) Doorbells() *mmio.Window { return d.db }

// SetFirmwareRunning sets or clears the running bit in fw_status. While the
// firmware is down the device ignores commands and doorbells.
func (d *Device) SetFirmwareRunning(up bool) {
	d.mu.Lock()
	d.running = up
	if !up {
		d.resetLocked()
	}
	d.mu.Unlock()
	var st uint8
	if up {
		st = uapi.FwStatusRunning
	}
	d.bar0.Poke8(uapi.DevInfoOffset+uapi.DevInfoFwStatusOff, st)
	d.logger.Info("firmware status changed", "running", up)
}

// SetFirmwareStatus writes a raw fw_status byte, e.g. uapi.FwStatusBadRead.
func (d *Device) SetFirmwareStatus(st uint8) {
	up := uapi.FirmwareRunning(st)
	d.mu.Lock()
	d.running = up
	if !up {
		d.resetLocked()
	}
	d.mu.Unlock()
	d.bar0.Poke8(uapi.DevInfoOffset+uapi.DevInfoFwStatusOff, st)
}

// CorruptSignature overwrites the device info signature.
func (d *Device) CorruptSignature() {
	d.bar0.Poke32(uapi.DevInfoOffset, 0xdeadbeef)
}

// SetBusy makes the next n device commands answer EAGAIN.
func (d *Device) SetBusy(n int) {
	d.mu.Lock()
	d.busy = n
	d.mu.Unlock()
}

// HoldDone stops the device from setting the device command done bit.
func (d *Device) HoldDone(hold bool) {
	d.mu.Lock()
	d.holdDone = hold
	d.mu.Unlock()
}

// FailOpcode answers every later command with op with st. StatusSuccess
// removes the override.
func (d *Device) FailOpcode(op uapi.Opcode, st uapi.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st == uapi.StatusSuccess {
		delete(d.overrides, op)
		return
	}
	if d.overrides == nil {
		d.overrides = make(map[uapi.Opcode]uapi.Status)
	}
	d.overrides[op] = st
}

// SetTxStatus sets the status of later transmit completions.
func (d *Device) SetTxStatus(st uapi.Status) {
	d.mu.Lock()
	d.txStatus = st
	d.mu.Unlock()
}

// CorruptChecksums makes the device flag checksums of looped-back frames as bad.
func (d *Device) CorruptChecksums(on bool) {
	d.mu.Lock()
	d.corrupt = on
	d.mu.Unlock()
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Captured returns and clears the frames transmitted while loopback was off.
func (d *Device) Captured() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.captured
	d.captured = nil
	return out
}

// LIFState returns the last state set through LIF_SETATTR.
func (d *Device) LIFState() uapi.LIFState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// RxMode returns the receive mode bits last set.
func (d *Device) RxMode() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rxMode
}

// Features returns the features accepted by the last LIF_SETATTR(FEATURES).
func (d *Device) Features() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.features
}

// Filters returns a copy of the installed receive filters by id.
func (d *Device) Filters() map[uint32]uapi.RxFilterAddCmd {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uint32]uapi.RxFilterAddCmd, len(d.filters))
	for id, f := range d.filters {
		out[id] = f
	}
	return out
}

// QueueEnabled reports whether the queue has been initialized and enabled.
func (d *Device) QueueEnabled(typ uapi.QueueType, index uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[qkey{typ, index}]
	return q != nil && q.enabled
}

// DriverIdentity returns the identity the driver sent with IDENTIFY.
func (d *Device) DriverIdentity() uapi.DriverIdentity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driver
}

// resetLocked drops all LIF state, as a device reset does.
func (d *Device) resetLocked() {
	d.queues = make(map[qkey]*queue)
	d.filters = make(map[uint32]uapi.RxFilterAddCmd)
	d.nextID = 1
	d.lifInfo = nil
	d.lifInfoPA = 0
	d.rxMode = 0
	d.features = 0
	d.state = uapi.LIFDisable
	d.mtu = 1500
}

// statusFor applies an opcode override.
func (d *Device) statusFor(op uapi.Opcode, st uapi.Status) uapi.Status {
	if o, ok := d.overrides[op]; ok {
		return o
	}
	return st
}
