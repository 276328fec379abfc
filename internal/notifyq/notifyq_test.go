package notifyq

import (
	"testing"

	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/ring"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) LinkChange(ev uapi.Event) { m.Called(ev) }
func (m *mockHandler) Reset(ev uapi.Event)      { m.Called(ev) }

// eventWriter plays the device side: it writes events into consecutive CQ slots.
type eventWriter struct {
	qcq  *ring.QCQ
	slot uint32
	eid  uint64
}

func (w *eventWriter) post(code uapi.EventCode, mod func(*uapi.Event)) uapi.Event {
	w.eid++
	ev := uapi.Event{EID: w.eid, Code: code}
	if mod != nil {
		mod(&ev)
	}
	ev.Encode(w.qcq.CQ.Desc(w.slot))
	w.slot = w.qcq.Q.Next(w.slot)
	return ev
}

func newFixture(t *testing.T, depth int) (*ring.QCQ, *eventWriter) {
	t.Helper()
	arena := dma.NewArena(false)
	t.Cleanup(func() { _ = arena.Close() })
	qcq, err := ring.NewQCQ(arena, ring.Config{
		Name: "notifyq", Type: uapi.QTypeNotifyQ, Depth: depth,
		DescSize: uapi.EventSize, CompSize: uapi.EventSize,
	})
	require.NoError(t, err)
	return qcq, &eventWriter{qcq: qcq}
}

func TestIsNewWraparound(t *testing.T) {
	assert.True(t, IsNew(1, 0))
	assert.False(t, IsNew(0, 0))
	assert.False(t, IsNew(5, 6), "older id")
	assert.True(t, IsNew(0, 65535), "65535 -> 0 is new")
	assert.True(t, IsNew(0x1_0000, 65535), "only the low 16 bits count")
	assert.False(t, IsNew(65535, 0), "a full half-range behind is old")
}

func TestProcessWrapsEIDExactlyOnce(t *testing.T) {
	qcq, w := newFixture(t, 4)
	h := &mockHandler{}
	p := New(qcq, h, logging.Nop(), nil)

	p.lastEID = 65534
	w.eid = 65534
	w.post(uapi.EventHeartbeat, nil) // 65535
	w.post(uapi.EventHeartbeat, nil) // 65536 -> low bits 0

	assert.Equal(t, 2, p.Poll())
	assert.Equal(t, uint16(0), p.LastEID())
	assert.Equal(t, 0, p.Poll(), "the wrapped event is not seen twice")
	h.AssertExpectations(t)
}

func TestDrainHasNoSideEffects(t *testing.T) {
	qcq, w := newFixture(t, 8)
	h := &mockHandler{}
	var observed []bool
	p := New(qcq, h, logging.Nop(), func(_ uapi.EventCode, dispatched bool) {
		observed = append(observed, dispatched)
	})

	w.post(uapi.EventLinkChange, func(ev *uapi.Event) { ev.LinkStatus = uapi.PortOperStatusUp })
	w.post(uapi.EventReset, nil)
	w.post(uapi.EventLinkChange, nil)

	assert.Equal(t, 3, p.Drain())
	assert.Equal(t, uint16(3), p.LastEID())
	assert.Equal(t, []bool{false, false, false}, observed)
	h.AssertNotCalled(t, "LinkChange", mock.Anything)
	h.AssertNotCalled(t, "Reset", mock.Anything)
}

func TestPollDispatches(t *testing.T) {
	qcq, w := newFixture(t, 8)
	h := &mockHandler{}
	p := New(qcq, h, logging.Nop(), nil)

	link := w.post(uapi.EventLinkChange, func(ev *uapi.Event) {
		ev.LinkStatus = uapi.PortOperStatusUp
		ev.LinkSpeed = 100000
	})
	w.post(uapi.EventLog, nil)
	h.On("LinkChange", link).Once()

	assert.Equal(t, 2, p.Poll())
	h.AssertExpectations(t)
}

func TestResetStopsLoop(t *testing.T) {
	qcq, w := newFixture(t, 8)
	h := &mockHandler{}
	p := New(qcq, h, logging.Nop(), nil)

	rst := w.post(uapi.EventReset, func(ev *uapi.Event) { ev.ResetCode = 1 })
	w.post(uapi.EventLinkChange, nil)
	h.On("Reset", rst).Once()

	assert.Equal(t, 1, p.Poll())
	h.AssertExpectations(t)
	h.AssertNotCalled(t, "LinkChange", mock.Anything)
}

func TestProcessFlipsColorOnWrap(t *testing.T) {
	qcq, w := newFixture(t, 4)
	p := New(qcq, &mockHandler{}, logging.Nop(), nil)

	for i := 0; i < 4; i++ {
		w.post(uapi.EventHeartbeat, nil)
	}
	assert.Equal(t, 4, p.Drain())
	assert.False(t, qcq.CQ.DoneColor())
	assert.Equal(t, uint32(0), qcq.CQ.Tail())

	// Slot 0 still holds eid 1, which is stale.
	assert.Equal(t, 0, p.Drain())

	w.post(uapi.EventHeartbeat, nil)
	assert.Equal(t, 1, p.Drain())
}

func TestResetEID(t *testing.T) {
	qcq, _ := newFixture(t, 4)
	p := New(qcq, &mockHandler{}, logging.Nop(), nil)
	p.lastEID = 42
	p.ResetEID()
	assert.Equal(t, uint16(0), p.LastEID())
}
