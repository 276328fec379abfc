package devcmd

import (
	"testing"
	"time"

	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/mmio"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pollInterval = time.Second
	retryDelay   = 2 * time.Second
)

// fakeDevice answers device commands after a configurable number of poll ticks.
type fakeDevice struct {
	w         *mmio.Window
	statuses  []uapi.Status // response per post; the last one repeats
	doneAfter int           // poll ticks before done; negative never completes
	posts     int
	pollTicks int
	retries   int
	remaining int
	pending   bool
	lastCmd   uapi.Cmd
	dataOut   []uint32
}

func newFakeDevice(doneAfter int, statuses ...uapi.Status) *fakeDevice {
	if len(statuses) == 0 {
		statuses = []uapi.Status{uapi.StatusSuccess}
	}
	d := &fakeDevice{w: mmio.NewWindow(uapi.BAR0Size), statuses: statuses, doneAfter: doneAfter}
	d.w.SetWriteHook(d.onWrite)
	return d
}

func (d *fakeDevice) onWrite(off uint32, v uint64, width int) {
	if off != uapi.DevCmdOffset+uapi.DevCmdDoorbell || v != 1 {
		return
	}
	d.posts++
	b := d.w.PeekBytes(uapi.DevCmdOffset+uapi.DevCmdCmd, uapi.CmdSize)
	copy(d.lastCmd[:], b)
	d.pending = true
	d.remaining = d.doneAfter
	if d.doneAfter == 0 {
		d.complete()
	}
}

func (d *fakeDevice) complete() {
	i := d.posts - 1
	if i >= len(d.statuses) {
		i = len(d.statuses) - 1
	}
	d.w.Poke8(uapi.DevCmdOffset+uapi.DevCmdComp, uint8(d.statuses[i]))
	for j, v := range d.dataOut {
		d.w.Poke32(uapi.DevCmdOffset+uapi.DevCmdData+uint32(j*4), v)
	}
	d.w.Poke32(uapi.DevCmdOffset+uapi.DevCmdDone, 1)
	d.pending = false
}

func (d *fakeDevice) sleep(dur time.Duration) {
	switch dur {
	case pollInterval:
		d.pollTicks++
		if d.pending && d.doneAfter > 0 {
			d.remaining--
			if d.remaining == 0 {
				d.complete()
			}
		}
	case retryDelay:
		d.retries++
	}
}

func newChannel(t *testing.T, d *fakeDevice, retryCount int) *Channel {
	t.Helper()
	c, err := New(Config{
		Regs:         d.w,
		PollInterval: pollInterval,
		RetryCount:   retryCount,
		RetryDelay:   retryDelay,
		Sleep:        d.sleep,
		Logger:       logging.Nop(),
	})
	require.NoError(t, err)
	return c
}

func TestPostWritesCommandAndDoorbell(t *testing.T) {
	d := newFakeDevice(-1)
	c := newChannel(t, d, 0)
	d.w.Poke32(uapi.DevCmdOffset+uapi.DevCmdDone, 1)

	cmd := uapi.LIFInitCmd{Index: 3, InfoPA: 0xdead000}.Encode()
	c.Post(cmd)

	assert.Equal(t, 1, d.posts)
	assert.Equal(t, cmd, d.lastCmd)
	assert.False(t, c.Done(), "done must be cleared before the doorbell")
}

func TestWaitDoneAfterOneTick(t *testing.T) {
	d := newFakeDevice(1)
	c := newChannel(t, d, 0)

	c.Post(uapi.NopCmd{}.Encode())
	require.NoError(t, c.Wait(2))
	assert.Equal(t, 1, d.pollTicks, "exactly one polling tick consumed")
	assert.Equal(t, uapi.StatusSuccess, c.Status())
}

func TestWaitTimesOutAfterMaxSeconds(t *testing.T) {
	for _, max := range []int{1, 2, 5} {
		d := newFakeDevice(-1)
		c := newChannel(t, d, 0)

		c.Post(uapi.NopCmd{}.Encode())
		err := c.Wait(max)
		require.Error(t, err)
		assert.True(t, errs.IsCode(err, errs.CodeTimeout))
		assert.Equal(t, max, d.pollTicks)
	}
}

func TestGoTimeoutNotRetried(t *testing.T) {
	d := newFakeDevice(-1)
	c := newChannel(t, d, 5)

	_, err := c.Go(uapi.InitCmd{}.Encode(), 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrTimeout)
	assert.Equal(t, 1, d.posts)
	assert.Equal(t, 2, d.pollTicks)
	assert.Contains(t, err.Error(), "IONIC_CMD_INIT")
}

func TestGoRetriesBusyThenSucceeds(t *testing.T) {
	const budget = 5
	for k := 0; k < budget; k++ {
		statuses := make([]uapi.Status, 0, k+1)
		for i := 0; i < k; i++ {
			statuses = append(statuses, uapi.StatusEAgain)
		}
		statuses = append(statuses, uapi.StatusSuccess)

		d := newFakeDevice(0, statuses...)
		c := newChannel(t, d, budget)
		_, err := c.Go(uapi.InitCmd{}.Encode(), 1)
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, k+1, d.posts, "k=%d", k)
		assert.Equal(t, k, d.retries, "k=%d", k)
	}
}

func TestGoBusyExhaustsBudget(t *testing.T) {
	d := newFakeDevice(0, uapi.StatusEAgain)
	c := newChannel(t, d, 3)

	_, err := c.Go(uapi.ResetCmd{}.Encode(), 1)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeIOError))
	st, ok := errs.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, uapi.StatusEAgain, st)
	assert.Equal(t, 3, d.posts, "retry count bounds the total posts")
}

func TestGoRejectedNotRetried(t *testing.T) {
	tests := []struct {
		status uapi.Status
		code   errs.Code
	}{
		{uapi.StatusEInval, errs.CodeDeviceRejected},
		{uapi.StatusEOpcode, errs.CodeDeviceRejected},
		{uapi.StatusBadAddr, errs.CodeBadAddress},
		{uapi.StatusEFault, errs.CodeBadAddress},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			d := newFakeDevice(0, tt.status, uapi.StatusSuccess)
			c := newChannel(t, d, 5)
			_, err := c.Go(uapi.LIFResetCmd{}.Encode(), 1)
			require.Error(t, err)
			assert.True(t, errs.IsCode(err, tt.code))
			assert.Equal(t, 1, d.posts)
			assert.Contains(t, err.Error(), "IONIC_CMD_LIF_RESET")
		})
	}
}

func TestGoDataIdentify(t *testing.T) {
	d := newFakeDevice(0)
	devIdent := uapi.DeviceIdentity{Version: 1, NLIFs: 2, NIntrs: 16}
	d.dataOut = devIdent.Words()
	c := newChannel(t, d, 0)

	drv := uapi.DriverIdentity{OSType: uapi.OSTypeLinux, DriverVerStr: "0.1.0"}
	out := make([]uint32, uapi.DeviceIdentityWords)
	_, err := c.GoData(uapi.IdentifyCmd{Version: uapi.IdentityVer1}.Encode(), drv.Words(), out, 1)
	require.NoError(t, err)

	got, err := uapi.DecodeDeviceIdentity(out)
	require.NoError(t, err)
	assert.Equal(t, devIdent, got)

	// The device side saw the driver identity; the fake overwrote the first
	// words, so check a string that lies beyond them.
	words := make([]uint32, uapi.DriverIdentityWords)
	for i := range words {
		words[i] = d.w.Read32(uapi.DevCmdOffset + uapi.DevCmdData + uint32(i*4))
	}
	back, err := uapi.DecodeDriverIdentity(words)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", back.DriverVerStr)

	_, err = c.GoData(uapi.NopCmd{}.Encode(), make([]uint32, uapi.DevCmdDataWords+1), nil, 1)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidArgument))
}

func TestCompletionAndObserver(t *testing.T) {
	d := newFakeDevice(0)
	var observed []uapi.Opcode
	c, err := New(Config{
		Regs:         d.w,
		PollInterval: pollInterval,
		Sleep:        d.sleep,
		Logger:       logging.Nop(),
		Observe: func(op uapi.Opcode, attempts int, _ time.Duration, err error) {
			observed = append(observed, op)
			assert.Equal(t, 1, attempts)
			assert.NoError(t, err)
		},
	})
	require.NoError(t, err)

	var comp uapi.Comp
	comp.SetQInit(7, 2)
	d.w.PokeBytes(uapi.DevCmdOffset+uapi.DevCmdComp, comp[:])

	got, err := c.Go(uapi.QInitCmd{Type: uapi.QTypeAdminQ}.Encode(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got.QInitHWIndex())
	last := c.Completion()
	assert.Equal(t, uint8(2), last.QInitHWType())
	assert.Equal(t, []uapi.Opcode{uapi.OpQInit}, observed)
}

func TestNewRequiresRegisters(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errs.IsCode(err, errs.CodeConfiguration))
}
