// Package devcmd drives the device command region: one register-based command
// at a time, posted with a doorbell and completed through a polled done bit.
package devcmd

import (
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/go-ionic/internal/constants"
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/mmio"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// ObserveFunc is called once per Go/GoData with the number of posts made, the
// total latency and the final error.
type ObserveFunc func(opcode uapi.Opcode, attempts int, latency time.Duration, err error)

// Config configures a Channel. Zero durations and counts take the package defaults.
type Config struct {
	// Regs is the BAR0 window; Offset locates the command region inside it.
	Regs   mmio.Registers
	Offset uint32

	PollInterval time.Duration
	// RetryCount bounds the posts made while the device answers EAGAIN;
	// negative disables retries.
	RetryCount int
	RetryDelay time.Duration

	// Sleep replaces time.Sleep, mainly for tests.
	Sleep   func(time.Duration)
	Logger  *logging.Logger
	Observe ObserveFunc
}

// Channel is the device command channel. Go and GoData serialize on an internal
// gate; Post and Wait are the raw steps and leave serialization to the caller.
type Channel struct {
	mu     sync.Mutex
	regs   mmio.Registers
	base   uint32
	cfg    Config
	sleep  func(time.Duration)
	logger *logging.Logger
	comp   uapi.Comp
}

// New creates a channel over cfg.Regs.
func New(cfg Config) (*Channel, error) {
	if cfg.Regs == nil {
		return nil, errs.New("devcmd.new", errs.CodeConfiguration, "no register window")
	}
	if cfg.Offset == 0 {
		cfg.Offset = uapi.DevCmdOffset
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DevCmdPollInterval
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 1
	} else if cfg.RetryCount == 0 {
		cfg.RetryCount = constants.DevCmdRetryCount
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = constants.DevCmdRetryDelay
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Channel{
		regs:   cfg.Regs,
		base:   cfg.Offset,
		cfg:    cfg,
		sleep:  sleep,
		logger: logging.OrDefault(cfg.Logger).WithQueue("devcmd"),
	}, nil
}

// Post writes the command words, clears done and rings the command doorbell.
func (c *Channel) Post(cmd uapi.Cmd) {
	for i, w := range cmd.Words() {
		c.regs.Write32(c.base+uapi.DevCmdCmd+uint32(i*4), w)
	}
	c.regs.Write32(c.base+uapi.DevCmdDone, 0)
	mmio.Wmb()
	c.regs.Write32(c.base+uapi.DevCmdDoorbell, 1)
}

// Done reports whether the device has set the done bit.
func (c *Channel) Done() bool {
	return c.regs.Read32(c.base+uapi.DevCmdDone)&uapi.DevCmdDoneBit != 0
}

// Wait polls the done bit up to maxSeconds times, sleeping one poll interval
// after each miss. It returns a CodeTimeout error when the budget runs out.
func (c *Channel) Wait(maxSeconds int) error {
	for i := 0; i < maxSeconds; i++ {
		if c.Done() {
			return nil
		}
		c.sleep(c.cfg.PollInterval)
	}
	if c.Done() {
		return nil
	}
	return errs.Newf("devcmd.wait", errs.CodeTimeout, "done bit not set after %d polls", maxSeconds)
}

// Status reads the one-byte completion status.
func (c *Channel) Status() uapi.Status {
	mmio.Rmb()
	return uapi.Status(c.regs.Read8(c.base + uapi.DevCmdComp))
}

func (c *Channel) readComp() uapi.Comp {
	var w [uapi.CompSize / 4]uint32
	for i := range w {
		w[i] = c.regs.Read32(c.base + uapi.DevCmdComp + uint32(i*4))
	}
	return uapi.CompFromWords(w)
}

// Completion returns the completion of the last command run by Go or GoData.
func (c *Channel) Completion() uapi.Comp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comp
}

// Go posts cmd and waits for it. EAGAIN is retried up to the configured count
// and then reported as CodeIOError; any other failure status is returned at once.
func (c *Channel) Go(cmd uapi.Cmd, maxSeconds int) (uapi.Comp, error) {
	return c.GoData(cmd, nil, nil, maxSeconds)
}

// GoData is Go with side data: in is written to the data words before posting
// and len(out) words are read back after success.
func (c *Channel) GoData(cmd uapi.Cmd, in, out []uint32, maxSeconds int) (uapi.Comp, error) {
	if len(in) > uapi.DevCmdDataWords || len(out) > uapi.DevCmdDataWords {
		return uapi.Comp{}, errs.Newf("devcmd.go", errs.CodeInvalidArgument,
			"data of %d/%d words exceeds %d", len(in), len(out), uapi.DevCmdDataWords)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	op := cmd.Opcode()
	log := c.logger.WithCommand(op)
	start := time.Now()
	attempts := 0
	comp, err := c.run(cmd, in, out, maxSeconds, log, &attempts)
	if c.cfg.Observe != nil {
		c.cfg.Observe(op, attempts, time.Since(start), err)
	}
	return comp, err
}

func (c *Channel) run(cmd uapi.Cmd, in, out []uint32, maxSeconds int, log *logging.Logger, attempts *int) (uapi.Comp, error) {
	op := cmd.Opcode()
	for {
		*attempts++
		for i, w := range in {
			c.regs.Write32(c.base+uapi.DevCmdData+uint32(i*4), w)
		}
		c.Post(cmd)
		if err := c.Wait(maxSeconds); err != nil {
			log.Warn("device command timed out", "max_seconds", maxSeconds)
			e := errs.Wrap("devcmd.go", err)
			e.Opcode = op
			return uapi.Comp{}, e
		}

		status := c.Status()
		c.comp = c.readComp()
		if status == uapi.StatusSuccess {
			for i := range out {
				out[i] = c.regs.Read32(c.base + uapi.DevCmdData + uint32(i*4))
			}
			log.Debug("device command completed", "attempts", *attempts)
			return c.comp, nil
		}

		if status == uapi.StatusEAgain {
			if *attempts < c.cfg.RetryCount {
				log.Debug("device busy, retrying", "attempt", *attempts, "delay", c.cfg.RetryDelay)
				c.sleep(c.cfg.RetryDelay)
				continue
			}
			log.Error("device still busy after retries", "attempts", *attempts)
			return c.comp, &errs.Error{
				Op:     "devcmd.go",
				Code:   errs.CodeIOError,
				Opcode: op,
				Status: status,
				Msg:    fmt.Sprintf("device busy after %d attempts", *attempts),
			}
		}

		log.Debug("device command failed", "status", status.String())
		return c.comp, errs.FromStatus("devcmd.go", op, status)
	}
}
