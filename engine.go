package ionic

import (
	"net"
	"time"

	"github.com/ehrlich-b/go-ionic/internal/constants"
	"github.com/ehrlich-b/go-ionic/internal/devcmd"
	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// Params contains parameters for an engine
type Params struct {
	// LIF and doorbell page
	LIFIndex uint16
	PID      uint16

	// Ring sizes in descriptors; powers of two in [4, 65536]
	AdminQDepth  int
	NotifyQDepth int
	TxQDepth     int
	RxQDepth     int

	// Data path
	MTU         uint32
	VLANID      uint16
	VLANEnabled bool // Tag transmitted frames and filter on VLANID

	// Command budgets
	DevCmdTimeout int           // Device command polls before timing out
	AdminTimeout  int           // Admin completion polls before timing out
	PollInterval  time.Duration // Sleep between polls
	RetryCount    int           // posts per device command while EAGAIN
	RetryDelay    time.Duration

	// PollRate is how many times per second Run calls Poll.
	PollRate int

	// Driver is sent to the device with IDENTIFY.
	Driver DriverIdentity
}

// DefaultParams returns default engine parameters
func DefaultParams() Params {
	return Params{
		LIFIndex:      constants.DefaultLIFIndex,
		PID:           constants.DefaultPID,
		AdminQDepth:   constants.DefaultAdminQDepth,
		NotifyQDepth:  constants.DefaultNotifyQDepth,
		TxQDepth:      constants.DefaultTxQDepth,
		RxQDepth:      constants.DefaultRxQDepth,
		MTU:           constants.DefaultMTU,
		DevCmdTimeout: constants.DevCmdTimeoutSeconds,
		AdminTimeout:  constants.AdminTimeoutIterations,
		PollInterval:  constants.DevCmdPollInterval,
		RetryCount:    constants.DevCmdRetryCount,
		RetryDelay:    constants.DevCmdRetryDelay,
		PollRate:      constants.DefaultPollRate,
		Driver: DriverIdentity{
			OSType:       uapi.OSTypeLinux,
			OSDistStr:    "go",
			DriverVerStr: "go-ionic " + Version,
		},
	}
}

func validDepth(n int) bool {
	return n >= constants.MinRingDepth && n <= constants.MaxRingDepth && n&(n-1) == 0
}

func (p *Params) validate() error {
	depths := []struct {
		name  string
		depth int
	}{
		{"adminq", p.AdminQDepth},
		{"notifyq", p.NotifyQDepth},
		{"txq", p.TxQDepth},
		{"rxq", p.RxQDepth},
	}
	for _, d := range depths {
		if !validDepth(d.depth) {
			return errs.Newf("new", errs.CodeInvalidArgument, "%s depth %d is not a power of two in [%d, %d]",
				d.name, d.depth, constants.MinRingDepth, constants.MaxRingDepth)
		}
	}
	if p.MTU < constants.MinMTU || p.MTU > constants.MaxMTU {
		return errs.Newf("new", errs.CodeInvalidArgument, "mtu %d out of range", p.MTU)
	}
	if p.VLANID >= 4096 {
		return errs.Newf("new", errs.CodeInvalidArgument, "vlan id %d out of range", p.VLANID)
	}
	if p.DevCmdTimeout <= 0 || p.AdminTimeout <= 0 {
		return errs.New("new", errs.CodeInvalidArgument, "command timeouts must be positive")
	}
	if p.PollRate <= 0 {
		return errs.New("new", errs.CodeInvalidArgument, "poll rate must be positive")
	}
	return nil
}

// Resources are the device and host facilities an engine runs on.
type Resources struct {
	// BAR0 holds the device info and device command regions.
	BAR0 Registers
	// Doorbells is the doorbell BAR, one page per process id.
	Doorbells Registers
	// Memory backs the rings and the LIF info page.
	Memory Allocator
	// Buffers supplies receive buffers.
	Buffers BufferSource
	// NetDevice receives frames, transmit completions and link changes.
	NetDevice NetDevice
}

func (r *Resources) validate() error {
	switch {
	case r.BAR0 == nil:
		return errs.New("new", errs.CodeConfiguration, "no BAR0 window")
	case r.Doorbells == nil:
		return errs.New("new", errs.CodeConfiguration, "no doorbell window")
	case r.Memory == nil:
		return errs.New("new", errs.CodeConfiguration, "no DMA allocator")
	case r.Buffers == nil:
		return errs.New("new", errs.CodeConfiguration, "no receive buffer source")
	case r.NetDevice == nil:
		return errs.New("new", errs.CodeConfiguration, "no network device")
	}
	return nil
}

// Options contains additional options for engine creation
type Options struct {
	// Logger for lifecycle and command messages (if nil, uses logging.Default())
	Logger *Logger

	// Observer receives metrics in addition to the built-in Metrics (optional)
	Observer Observer

	// Sleep replaces time.Sleep in command waits, mainly for tests
	Sleep func(time.Duration)
}

// Engine drives one LIF of an ionic device. It is not safe for concurrent
// use: Poll, Run, Transmit and the lifecycle methods must be called from one
// goroutine, and NetDevice callbacks run on that goroutine.
type Engine struct {
	res    Resources
	params Params
	logger *logging.Logger
	sleep  func(time.Duration)

	dev   *devcmd.Channel
	info  DeviceInfo
	ident DeviceIdentity
	lif   *lif

	// fwRunning is the engine's view; the live value is read from fw_status.
	fwRunning     bool
	attached      bool
	open          bool
	queuesRunning bool

	// Set by notify events during a Poll, acted on after the queue is read.
	pendingLink  bool
	pendingReset bool

	linkStatus uint16
	linkSpeed  uint32
	mac        [6]byte
	hwFeatures uint64

	metrics  *Metrics
	observer Observer
}

// New validates res and params, reads the device info region and prepares the
// device command channel. The device is not touched until StartDevice or Open.
func New(res Resources, params Params, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := res.validate(); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if opts.Observer != nil {
		observer = MultiObserver{observer, opts.Observer}
	}

	e := &Engine{
		res:      res,
		params:   params,
		logger:   logging.OrDefault(opts.Logger).WithLIF(params.LIFIndex),
		sleep:    sleep,
		metrics:  metrics,
		observer: observer,
	}

	info, err := e.readDeviceInfo()
	if err != nil {
		return nil, err
	}
	e.info = info

	e.dev, err = devcmd.New(devcmd.Config{
		Regs:         res.BAR0,
		PollInterval: params.PollInterval,
		RetryCount:   params.RetryCount,
		RetryDelay:   params.RetryDelay,
		Sleep:        sleep,
		Logger:       e.logger,
		Observe:      e.observeDevCmd,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("device found",
		"fw_version", info.FwVersion,
		"serial", info.SerialNum,
		"asic_type", info.AsicType,
		"asic_rev", info.AsicRev,
		"fw_running", uapi.FirmwareRunning(info.FwStatus))
	return e, nil
}

// readDeviceInfo reads and validates the device info region.
func (e *Engine) readDeviceInfo() (DeviceInfo, error) {
	words := make([]uint32, (uapi.DevInfoLen+3)/4)
	for i := range words {
		words[i] = e.res.BAR0.Read32(uapi.DevInfoOffset + uint32(i*4))
	}
	info, err := uapi.DecodeDevInfo(uapi.WordsToBytes(words))
	if err != nil {
		return DeviceInfo{}, &errs.Error{Op: "new", Code: errs.CodeConfiguration, Msg: "unreadable device info", Inner: err}
	}
	if err := info.Validate(); err != nil {
		e.logger.Error("device info signature mismatch", "signature", info.Signature)
		return DeviceInfo{}, &errs.Error{Op: "new", Code: errs.CodeConfiguration, Msg: err.Error(), Inner: err}
	}
	return info, nil
}

// firmwareAlive reads fw_status from the device.
func (e *Engine) firmwareAlive() bool {
	return uapi.FirmwareRunning(e.res.BAR0.Read8(uapi.DevInfoOffset + uapi.DevInfoFwStatusOff))
}

func (e *Engine) observeDevCmd(op uapi.Opcode, attempts int, latency time.Duration, err error) {
	e.observer.ObserveDevCmd(op, attempts, uint64(latency.Nanoseconds()), err == nil)
}

func (e *Engine) observeAdmin(op uapi.Opcode, latency time.Duration, err error) {
	e.observer.ObserveAdmin(op, uint64(latency.Nanoseconds()), err == nil)
}

func (e *Engine) observeEvent(code uapi.EventCode, dispatched bool) {
	e.observer.ObserveEvent(code, dispatched)
}

// Identify exchanges identities with the device: the driver identity goes
// into the command data words and the device identity is read back.
func (e *Engine) Identify() error {
	in := e.params.Driver.Words()
	out := make([]uint32, uapi.DeviceIdentityWords)
	comp, err := e.dev.GoData(uapi.IdentifyCmd{Version: uapi.IdentityVer1}.Encode(), in, out, e.params.DevCmdTimeout)
	if err != nil {
		return errs.Wrap("identify", err)
	}
	ident, err := uapi.DecodeDeviceIdentity(out)
	if err != nil {
		return &errs.Error{Op: "identify", Code: errs.CodeIOError, Opcode: uapi.OpIdentify, Inner: err}
	}
	e.ident = ident
	e.logger.Info("device identified",
		"version", comp.IdentifyVersion(),
		"lifs", ident.NLIFs,
		"intrs", ident.NIntrs,
		"db_pages_per_lif", ident.NDbPagesPerLIF)
	return nil
}

// netSink counts data path completions and forwards them to the NetDevice.
type netSink struct {
	e *Engine
}

func (s netSink) TxComplete(buf *dma.Buffer, err error) {
	s.e.observer.ObserveTx(uint64(buf.Len()), err == nil)
	s.e.res.NetDevice.TxComplete(buf, err)
}

func (s netSink) Receive(buf *dma.Buffer, err error) {
	s.e.observer.ObserveRx(uint64(buf.Len()), err == nil)
	s.e.res.NetDevice.Receive(buf, err)
}

// DeviceInfo returns the device info read at construction.
func (e *Engine) DeviceInfo() DeviceInfo { return e.info }

// Identity returns the device identity from the last IDENTIFY.
func (e *Engine) Identity() DeviceIdentity { return e.ident }

// MAC returns the station address read from the device.
func (e *Engine) MAC() net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	copy(mac, e.mac[:])
	return mac
}

// LinkUp reports the last link state seen by CheckLink.
func (e *Engine) LinkUp() bool { return e.linkStatus == uapi.PortOperStatusUp }

// LinkSpeed returns the link speed in Mbit/s, 0 while down.
func (e *Engine) LinkSpeed() uint32 { return e.linkSpeed }

// FirmwareRunning reports whether the engine considers the firmware up.
func (e *Engine) FirmwareRunning() bool { return e.fwRunning }

// QueuesRunning reports whether the data queues are enabled.
func (e *Engine) QueuesRunning() bool { return e.queuesRunning }

// IsOpen reports whether Open succeeded and Close has not been called.
func (e *Engine) IsOpen() bool { return e.open }

// HWFeatures returns the features both requested and granted by the device.
func (e *Engine) HWFeatures() uint64 { return e.hwFeatures }

// Metrics returns the engine's built-in counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Params returns the parameters the engine was created with.
func (e *Engine) Params() Params { return e.params }
