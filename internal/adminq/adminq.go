// Package adminq implements synchronous command/completion exchange over the
// admin queue and its completion ring.
package adminq

import (
	"time"

	"github.com/ehrlich-b/go-ionic/internal/constants"
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/ring"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// Context is one admin exchange: the command to send and the completion received.
type Context struct {
	Cmd  uapi.Cmd
	Comp uapi.Comp
}

// ObserveFunc is called after every PostWait that reached the device.
type ObserveFunc func(opcode uapi.Opcode, latency time.Duration, err error)

// Config configures an AdminQ.
type Config struct {
	QCQ *ring.QCQ

	// FirmwareRunning is consulted before every post; nil means always running.
	FirmwareRunning func() bool

	// Timeout is the number of completion polls before giving up.
	Timeout      int
	PollInterval time.Duration
	Sleep        func(time.Duration)
	Logger       *logging.Logger
	Observe      ObserveFunc
}

// AdminQ posts commands and waits for their completions. Not safe for
// concurrent use.
type AdminQ struct {
	qcq       *ring.QCQ
	fwRunning func() bool
	timeout   int
	interval  time.Duration
	sleep     func(time.Duration)
	logger    *logging.Logger
	observe   ObserveFunc
}

// New creates the admin queue protocol over cfg.QCQ.
func New(cfg Config) (*AdminQ, error) {
	if cfg.QCQ == nil {
		return nil, errs.New("adminq.new", errs.CodeConfiguration, "no queue")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.AdminTimeoutIterations
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DevCmdPollInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if cfg.FirmwareRunning == nil {
		cfg.FirmwareRunning = func() bool { return true }
	}
	return &AdminQ{
		qcq:       cfg.QCQ,
		fwRunning: cfg.FirmwareRunning,
		timeout:   cfg.Timeout,
		interval:  cfg.PollInterval,
		sleep:     cfg.Sleep,
		logger:    logging.OrDefault(cfg.Logger).WithQueue(cfg.QCQ.Q.Name()),
		observe:   cfg.Observe,
	}, nil
}

// QCQ returns the underlying queue pair.
func (a *AdminQ) QCQ() *ring.QCQ { return a.qcq }

// PostWait sends ctx.Cmd and waits for its completion, which is copied into
// ctx.Comp. A full ring returns CodeNoSpace without touching the ring; a down
// firmware returns CodeFirmwareDown without posting.
func (a *AdminQ) PostWait(ctx *Context) error {
	op := ctx.Cmd.Opcode()
	q := a.qcq.Q

	if !a.fwRunning() {
		return &errs.Error{Op: "post_wait", Queue: q.Name(), Code: errs.CodeFirmwareDown, Opcode: op, Msg: "firmware not running"}
	}
	if !a.qcq.Inited {
		return errs.NewQueue("post_wait", q.Name(), errs.CodeConfiguration, "admin queue not initialized")
	}
	if !q.HasSpace(1) {
		return &errs.Error{Op: "post_wait", Queue: q.Name(), Code: errs.CodeNoSpace, Opcode: op, Msg: "admin queue full"}
	}

	start := time.Now()
	err := a.exchange(ctx)
	if a.observe != nil {
		a.observe(op, time.Since(start), err)
	}
	return err
}

func (a *AdminQ) exchange(ctx *Context) error {
	op := ctx.Cmd.Opcode()
	q, cq := a.qcq.Q, a.qcq.CQ
	log := a.logger.WithCommand(op)

	copy(q.HeadDesc(), ctx.Cmd[:])
	posted := q.Advance()
	q.RingDoorbell()
	log.Debug("admin command posted", "index", posted)

	if !a.awaitCompletion() {
		log.Warn("admin command timed out", "polls", a.timeout)
		return &errs.Error{Op: "post_wait", Queue: q.Name(), Code: errs.CodeTimeout, Opcode: op, Msg: "no completion"}
	}

	copy(ctx.Comp[:], cq.TailDesc())
	cq.Consume()
	retired := q.AdvanceTail()
	if idx := ctx.Comp.CompIndex(); uint32(idx) != retired {
		log.Warn("completion index mismatch", "comp_index", idx, "expected", retired)
	}

	if st := ctx.Comp.Status(); st != uapi.StatusSuccess {
		log.Debug("admin command failed", "status", st.String())
		e := errs.FromStatus("post_wait", op, st)
		e.Queue = q.Name()
		return e
	}
	return nil
}

// awaitCompletion polls the CQ up to the timeout budget.
func (a *AdminQ) awaitCompletion() bool {
	cq := a.qcq.CQ
	for i := 0; i < a.timeout; i++ {
		if cq.Pending() {
			return true
		}
		a.sleep(a.interval)
	}
	return cq.Pending()
}

// Run is PostWait for a single command, returning the completion.
func (a *AdminQ) Run(cmd uapi.Cmd) (uapi.Comp, error) {
	ctx := Context{Cmd: cmd}
	err := a.PostWait(&ctx)
	return ctx.Comp, err
}
