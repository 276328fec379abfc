package sim

import (
	"net"
	"testing"
	"time"

	"github.com/ehrlich-b/go-ionic/internal/adminq"
	"github.com/ehrlich-b/go-ionic/internal/datapath"
	"github.com/ehrlich-b/go-ionic/internal/devcmd"
	"github.com/ehrlich-b/go-ionic/internal/dma"
	"github.com/ehrlich-b/go-ionic/internal/errs"
	"github.com/ehrlich-b/go-ionic/internal/logging"
	"github.com/ehrlich-b/go-ionic/internal/ring"
	"github.com/ehrlich-b/go-ionic/internal/uapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMAC = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

type delivered struct {
	buf *dma.Buffer
	err error
}

type sink struct {
	tx []delivered
	rx []delivered
}

func (s *sink) TxComplete(buf *dma.Buffer, err error) { s.tx = append(s.tx, delivered{buf, err}) }
func (s *sink) Receive(buf *dma.Buffer, err error)    { s.rx = append(s.rx, delivered{buf, err}) }

// rig wires the driver-side packages to a simulated device.
type rig struct {
	arena *dma.Arena
	pool  *dma.Pool
	dev   *Device
	cmd   *devcmd.Channel
	admin *adminq.AdminQ
	sink  *sink
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	arena := dma.NewArena(false)
	t.Cleanup(func() { _ = arena.Close() })

	cfg.Memory = arena
	cfg.MAC = testMAC
	cfg.Logger = logging.Nop()
	dev, err := New(cfg)
	require.NoError(t, err)

	cmd, err := devcmd.New(devcmd.Config{
		Regs:   dev.BAR0(),
		Sleep:  func(time.Duration) {},
		Logger: logging.Nop(),
	})
	require.NoError(t, err)

	pool, err := dma.NewPool(arena, 32, 2048)
	require.NoError(t, err)
	return &rig{arena: arena, pool: pool, dev: dev, cmd: cmd, sink: &sink{}}
}

// startAdmin brings up the admin queue through the device command channel.
func (r *rig) startAdmin(t *testing.T) {
	t.Helper()
	qcq, err := ring.NewQCQ(r.arena, ring.Config{
		Name: "adminq", Type: uapi.QTypeAdminQ, Depth: 16,
		DescSize: uapi.CmdSize, CompSize: uapi.CompSize, Flags: uapi.QInitFlagEna,
	})
	require.NoError(t, err)
	comp, err := r.cmd.Go(qcq.QInitCmd(0, 0).Encode(), 5)
	require.NoError(t, err)
	r.bind(qcq, comp)

	r.admin, err = adminq.New(adminq.Config{QCQ: qcq, Sleep: func(time.Duration) {}, Logger: logging.Nop()})
	require.NoError(t, err)
}

func (r *rig) bind(qcq *ring.QCQ, comp uapi.Comp) {
	qcq.Q.HWIndex = comp.QInitHWIndex()
	qcq.Q.HWType = comp.QInitHWType()
	qcq.Q.BindDoorbell(r.dev.Doorbells(), 0)
	qcq.Inited = true
}

func (r *rig) initQueue(t *testing.T, name string, typ uapi.QueueType, compSize int, flags uint16) *ring.QCQ {
	t.Helper()
	qcq, err := ring.NewQCQ(r.arena, ring.Config{
		Name: name, Type: typ, Depth: 16, DescSize: 16, CompSize: compSize, Flags: flags,
	})
	require.NoError(t, err)
	comp, err := r.admin.Run(qcq.QInitCmd(0, 0).Encode())
	require.NoError(t, err)
	r.bind(qcq, comp)
	return qcq
}

// startData brings up an enabled txq/rxq pair with the receive ring filled.
func (r *rig) startData(t *testing.T) (*datapath.TxQueue, *datapath.RxQueue) {
	t.Helper()
	r.startAdmin(t)
	txq := r.initQueue(t, "txq", uapi.QTypeTxQ, uapi.TxCompSize, 0)
	rxq := r.initQueue(t, "rxq", uapi.QTypeRxQ, uapi.RxCompSize, 0)
	for _, qcq := range []*ring.QCQ{txq, rxq} {
		_, err := r.admin.Run(uapi.QControlCmd{Type: qcq.Q.Type, Index: qcq.Q.Index, Oper: uapi.QEnable}.Encode())
		require.NoError(t, err)
	}

	tx := datapath.NewTxQueue(txq, r.sink, logging.Nop())
	rx := datapath.NewRxQueue(rxq, r.pool, r.sink, logging.Nop())
	require.Equal(t, 15, rx.Fill(2048))
	return tx, rx
}

func (r *rig) send(t *testing.T, tx *datapath.TxQueue, frame []byte) {
	t.Helper()
	b, ok := r.pool.Get()
	require.True(t, ok)
	_, err := b.Write(frame)
	require.NoError(t, err)
	require.NoError(t, tx.Transmit(b, datapath.TxOptions{}))
}

func testFrame(t *testing.T, payload string) []byte {
	t.Helper()
	frame, err := UDPFrame{
		SrcMAC:  net.HardwareAddr(testMAC[:]),
		DstMAC:  net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		SrcIP:   net.IPv4(10, 0, 0, 1),
		DstIP:   net.IPv4(10, 0, 0, 2),
		SrcPort: 4000,
		DstPort: 4001,
		Payload: []byte(payload),
	}.Build()
	require.NoError(t, err)
	return frame
}

func TestNewPublishesDeviceInfo(t *testing.T) {
	r := newRig(t, Config{FwVersion: "9.9.9"})
	info, err := uapi.DecodeDevInfo(r.dev.BAR0().PeekBytes(uapi.DevInfoOffset, uapi.DevInfoLen))
	require.NoError(t, err)
	assert.NoError(t, info.Validate())
	assert.Equal(t, "9.9.9", info.FwVersion)
	assert.True(t, uapi.FirmwareRunning(info.FwStatus))

	r.dev.CorruptSignature()
	info, err = uapi.DecodeDevInfo(r.dev.BAR0().PeekBytes(uapi.DevInfoOffset, uapi.DevInfoLen))
	require.NoError(t, err)
	assert.ErrorIs(t, info.Validate(), uapi.ErrBadSignature)
}

func TestNewRequiresMemory(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errs.IsCode(err, errs.CodeConfiguration))
}

func TestIdentifyExchangesIdentity(t *testing.T) {
	r := newRig(t, Config{})
	in := uapi.DriverIdentity{OSType: uapi.OSTypeLinux, DriverVerStr: "go-ionic test"}.Words()
	out := make([]uint32, uapi.DeviceIdentityWords)

	comp, err := r.cmd.GoData(uapi.IdentifyCmd{Version: uapi.IdentityVer1}.Encode(), in, out, 5)
	require.NoError(t, err)
	assert.Equal(t, uint8(uapi.IdentityVer1), comp.IdentifyVersion())

	id, err := uapi.DecodeDeviceIdentity(out)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id.NLIFs)
	assert.Equal(t, "go-ionic test", r.dev.DriverIdentity().DriverVerStr)
}

func TestDeviceCommandFailureModes(t *testing.T) {
	t.Run("busy then success", func(t *testing.T) {
		r := newRig(t, Config{})
		r.dev.SetBusy(2)
		_, err := r.cmd.Go(uapi.NopCmd{}.Encode(), 5)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), r.dev.Stats().DevCmds)
	})

	t.Run("held done times out", func(t *testing.T) {
		r := newRig(t, Config{})
		r.dev.HoldDone(true)
		_, err := r.cmd.Go(uapi.NopCmd{}.Encode(), 3)
		assert.True(t, errs.IsCode(err, errs.CodeTimeout))
	})

	t.Run("unknown opcode rejected", func(t *testing.T) {
		r := newRig(t, Config{})
		_, err := r.cmd.Go(uapi.Cmd{byte(uapi.OpPortInit)}, 5)
		assert.True(t, errs.IsCode(err, errs.CodeDeviceRejected))
		st, ok := errs.StatusOf(err)
		require.True(t, ok)
		assert.Equal(t, uapi.StatusEOpcode, st)
	})

	t.Run("override", func(t *testing.T) {
		r := newRig(t, Config{})
		r.dev.FailOpcode(uapi.OpInit, uapi.StatusEIO)
		_, err := r.cmd.Go(uapi.InitCmd{}.Encode(), 5)
		assert.True(t, errs.IsCode(err, errs.CodeDeviceRejected))

		r.dev.FailOpcode(uapi.OpInit, uapi.StatusSuccess)
		_, err = r.cmd.Go(uapi.InitCmd{}.Encode(), 5)
		assert.NoError(t, err)
	})

	t.Run("firmware down ignores commands", func(t *testing.T) {
		r := newRig(t, Config{})
		r.dev.SetFirmwareRunning(false)
		assert.Equal(t, uint8(0), r.dev.BAR0().Read8(uapi.DevInfoFwStatusOff))
		_, err := r.cmd.Go(uapi.NopCmd{}.Encode(), 2)
		assert.True(t, errs.IsCode(err, errs.CodeTimeout))

		r.dev.SetFirmwareRunning(true)
		_, err = r.cmd.Go(uapi.NopCmd{}.Encode(), 2)
		assert.NoError(t, err)
	})
}

func TestLIFInitPublishesLinkStatus(t *testing.T) {
	r := newRig(t, Config{})
	info, err := r.arena.Alloc(uapi.LIFInfoSize)
	require.NoError(t, err)

	_, err = r.cmd.Go(uapi.LIFInitCmd{InfoPA: info.Phys}.Encode(), 5)
	require.NoError(t, err)
	assert.Equal(t, uapi.PortOperStatusDown, uapi.DecodeLIFStatus(info.Buf).LinkStatus)

	r.dev.RaiseLinkChange(true, 100000)
	st := uapi.DecodeLIFStatus(info.Buf)
	assert.Equal(t, uapi.PortOperStatusUp, st.LinkStatus)
	assert.Equal(t, uint32(100000), st.LinkSpeed)

	r.dev.RaiseLinkChange(false, 100000)
	st = uapi.DecodeLIFStatus(info.Buf)
	assert.Equal(t, uapi.PortOperStatusDown, st.LinkStatus)
	assert.Equal(t, uint32(0), st.LinkSpeed)
	assert.Equal(t, uint16(1), st.LinkDownCount)
	assert.Equal(t, uint64(2), st.EID)
}

func TestQueueInitValidation(t *testing.T) {
	r := newRig(t, Config{})

	bad := uapi.QInitCmd{Type: uapi.QTypeEQ, RingSize: 4}
	_, err := r.cmd.Go(bad.Encode(), 5)
	st, _ := errs.StatusOf(err)
	assert.Equal(t, uapi.StatusEQType, st)

	bad = uapi.QInitCmd{Type: uapi.QTypeAdminQ, RingSize: 1}
	_, err = r.cmd.Go(bad.Encode(), 5)
	st, _ = errs.StatusOf(err)
	assert.Equal(t, uapi.StatusEInval, st)

	bad = uapi.QInitCmd{Type: uapi.QTypeAdminQ, RingSize: 4, RingBase: 0x10, CQRingBase: 0x20}
	_, err = r.cmd.Go(bad.Encode(), 5)
	assert.True(t, errs.IsCode(err, errs.CodeBadAddress))
}

func TestAdminCommands(t *testing.T) {
	r := newRig(t, Config{})
	r.startAdmin(t)

	comp, err := r.admin.Run(uapi.LIFGetAttrCmd{Attr: uapi.LIFAttrMAC}.Encode())
	require.NoError(t, err)
	assert.Equal(t, testMAC, comp.AttrMAC())

	comp, err = r.admin.Run(uapi.LIFSetAttrCmd{Attr: uapi.LIFAttrFeatures, Features: uapi.HWVLANRxFilter | uapi.HWTSO}.Encode())
	require.NoError(t, err)
	assert.Equal(t, uapi.HWVLANRxFilter, comp.AttrFeatures())
	assert.Equal(t, uapi.HWVLANRxFilter, r.dev.Features())

	_, err = r.admin.Run(uapi.LIFSetAttrCmd{Attr: uapi.LIFAttrMTU, MTU: 20}.Encode())
	assert.True(t, errs.IsCode(err, errs.CodeDeviceRejected))

	_, err = r.admin.Run(uapi.RxModeSetCmd{RxMode: 0xffff}.Encode())
	require.NoError(t, err)
	assert.Equal(t, uapi.RxModeAll, r.dev.RxMode())

	_, err = r.admin.Run(uapi.LIFSetAttrCmd{Attr: uapi.LIFAttrState, State: uapi.LIFQuiesce}.Encode())
	require.NoError(t, err)
	assert.Equal(t, uapi.LIFQuiesce, r.dev.LIFState())
}

func TestRxFilters(t *testing.T) {
	r := newRig(t, Config{})
	r.startAdmin(t)

	add := uapi.RxFilterAddCmd{Match: uapi.FilterMatchMAC, MAC: testMAC}
	comp, err := r.admin.Run(add.Encode())
	require.NoError(t, err)
	id := comp.FilterID()
	assert.Contains(t, r.dev.Filters(), id)

	_, err = r.admin.Run(add.Encode())
	st, ok := errs.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, uapi.StatusEExist, st)

	_, err = r.admin.Run(uapi.RxFilterDelCmd{FilterID: id}.Encode())
	require.NoError(t, err)
	assert.Empty(t, r.dev.Filters())

	_, err = r.admin.Run(uapi.RxFilterDelCmd{FilterID: id}.Encode())
	st, _ = errs.StatusOf(err)
	assert.Equal(t, uapi.StatusENoEnt, st)
}

func TestResetDropsQueues(t *testing.T) {
	r := newRig(t, Config{})
	r.startAdmin(t)
	r.initQueue(t, "txq", uapi.QTypeTxQ, uapi.TxCompSize, uapi.QInitFlagEna)
	assert.True(t, r.dev.QueueEnabled(uapi.QTypeTxQ, 0))

	_, err := r.cmd.Go(uapi.ResetCmd{}.Encode(), 5)
	require.NoError(t, err)
	assert.False(t, r.dev.QueueEnabled(uapi.QTypeTxQ, 0))
	assert.False(t, r.dev.QueueEnabled(uapi.QTypeAdminQ, 0))
}

func TestEventsReachNotifyQueue(t *testing.T) {
	r := newRig(t, Config{})
	r.startAdmin(t)
	nq := r.initQueue(t, "notifyq", uapi.QTypeNotifyQ, uapi.EventSize, uapi.QInitFlagEna)

	r.dev.RaiseLinkChange(true, 25000)
	r.dev.RaiseEvent(uapi.EventHeartbeat)
	r.dev.RaiseReset(1, 2)

	ev := uapi.DecodeEvent(nq.CQ.Desc(0))
	assert.Equal(t, uint64(1), ev.EID)
	assert.Equal(t, uapi.EventLinkChange, ev.Code)
	assert.Equal(t, uapi.PortOperStatusUp, ev.LinkStatus)
	assert.Equal(t, uint32(25000), ev.LinkSpeed)

	assert.Equal(t, uapi.EventHeartbeat, uapi.DecodeEvent(nq.CQ.Desc(1)).Code)

	ev = uapi.DecodeEvent(nq.CQ.Desc(2))
	assert.Equal(t, uint64(3), ev.EID)
	assert.Equal(t, uint8(1), ev.ResetCode)
	assert.Equal(t, uint8(2), ev.ResetState)
	assert.Equal(t, uint64(3), r.dev.Stats().Events)
}

func TestEventsWithoutListenerStillConsumeIDs(t *testing.T) {
	r := newRig(t, Config{})
	r.dev.SetNextEID(65535)
	r.dev.RaiseEvent(uapi.EventLog)
	assert.Equal(t, uint64(65535), r.dev.LastEID())
	assert.Zero(t, r.dev.Stats().Events)
}

func TestLoopbackDeliversFrame(t *testing.T) {
	r := newRig(t, Config{Loopback: true})
	tx, rx := r.startData(t)

	frame := testFrame(t, "hello")
	r.send(t, tx, frame)

	assert.Equal(t, 1, tx.Poll())
	require.Len(t, r.sink.tx, 1)
	assert.NoError(t, r.sink.tx[0].err)

	assert.Equal(t, 1, rx.Poll())
	require.Len(t, r.sink.rx, 1)
	require.NoError(t, r.sink.rx[0].err)
	assert.Equal(t, frame, r.sink.rx[0].buf.Bytes())

	stats := r.dev.Stats()
	assert.Equal(t, uint64(1), stats.TxFrames)
	assert.Equal(t, uint64(1), stats.RxFrames)
	assert.Equal(t, uint64(len(frame)), stats.RxBytes)
}

func TestLoopbackCorruptChecksum(t *testing.T) {
	r := newRig(t, Config{Loopback: true})
	tx, rx := r.startData(t)
	r.dev.CorruptChecksums(true)

	r.send(t, tx, testFrame(t, "bad"))
	tx.Poll()
	assert.Equal(t, 1, rx.Poll())
	require.Len(t, r.sink.rx, 1)
	assert.True(t, errs.IsCode(r.sink.rx[0].err, errs.CodeIOError))
}

func TestLoopbackDropsWhenRxDisabled(t *testing.T) {
	r := newRig(t, Config{Loopback: true})
	tx, rx := r.startData(t)
	_, err := r.admin.Run(uapi.QControlCmd{Type: uapi.QTypeRxQ, Oper: uapi.QDisable}.Encode())
	require.NoError(t, err)

	r.send(t, tx, testFrame(t, "dropped"))
	assert.Equal(t, 1, tx.Poll())
	assert.Equal(t, 0, rx.Poll())
	assert.Equal(t, uint64(1), r.dev.Stats().RxDropped)
}

func TestTxCoalescing(t *testing.T) {
	r := newRig(t, Config{TxCoalesce: 4})
	tx, _ := r.startData(t)

	for i := 0; i < 3; i++ {
		r.send(t, tx, testFrame(t, "c"))
	}
	assert.Equal(t, 0, tx.Poll())
	r.send(t, tx, testFrame(t, "c"))
	assert.Equal(t, 4, tx.Poll())

	r.send(t, tx, testFrame(t, "tail"))
	assert.Equal(t, 0, tx.Poll())
	r.dev.FlushTx()
	assert.Equal(t, 1, tx.Poll())

	assert.Len(t, r.dev.Captured(), 5)
	assert.Empty(t, r.dev.Captured())
}

func TestTxHeldUntilEnabled(t *testing.T) {
	r := newRig(t, Config{})
	r.startAdmin(t)
	txq := r.initQueue(t, "txq", uapi.QTypeTxQ, uapi.TxCompSize, 0)
	tx := datapath.NewTxQueue(txq, r.sink, logging.Nop())

	r.send(t, tx, testFrame(t, "early"))
	assert.Equal(t, 0, tx.Poll())

	_, err := r.admin.Run(uapi.QControlCmd{Type: uapi.QTypeTxQ, Oper: uapi.QEnable}.Encode())
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Poll())
}

func TestTxFailureStatus(t *testing.T) {
	r := newRig(t, Config{})
	tx, _ := r.startData(t)
	r.dev.SetTxStatus(uapi.StatusEIO)

	r.send(t, tx, testFrame(t, "x"))
	assert.Equal(t, 1, tx.Poll())
	require.Len(t, r.sink.tx, 1)
	assert.True(t, errs.IsCode(r.sink.tx[0].err, errs.CodeIOError))
}

func TestChecksumFlags(t *testing.T) {
	good := testFrame(t, "payload")
	const ethIP = 14

	badIP := append([]byte(nil), good...)
	badIP[ethIP+10] ^= 0xff

	badUDP := append([]byte(nil), good...)
	badUDP[ethIP+20+8] ^= 0xff

	// Short frames are padded to the Ethernet minimum; padding is not covered
	// by any checksum.
	require.Len(t, good, 60)
	badPad := append([]byte(nil), good...)
	badPad[len(badPad)-1] ^= 0xff

	noUDPSum := append([]byte(nil), good...)
	noUDPSum[ethIP+20+6] = 0
	noUDPSum[ethIP+20+7] = 0

	arp := make([]byte, 60)
	copy(arp[12:], []byte{0x08, 0x06})

	tests := []struct {
		name  string
		frame []byte
		want  uint8
	}{
		{"good", good, uapi.RxCsumCalc | uapi.RxCsumIPOK | uapi.RxCsumUDPOK},
		{"bad ip header", badIP, uapi.RxCsumCalc | uapi.RxCsumIPBad | uapi.RxCsumUDPOK},
		{"bad udp payload", badUDP, uapi.RxCsumCalc | uapi.RxCsumIPOK | uapi.RxCsumUDPBad},
		{"padding ignored", badPad, uapi.RxCsumCalc | uapi.RxCsumIPOK | uapi.RxCsumUDPOK},
		{"udp checksum absent", noUDPSum, uapi.RxCsumCalc | uapi.RxCsumIPOK | uapi.RxCsumUDPOK},
		{"not ip", arp, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checksumFlags(tt.frame))
		})
	}
}

func TestCorruptFlags(t *testing.T) {
	in := uint8(uapi.RxCsumCalc | uapi.RxCsumIPOK | uapi.RxCsumTCPOK)
	want := uint8(uapi.RxCsumCalc | uapi.RxCsumIPBad | uapi.RxCsumTCPBad)
	assert.Equal(t, want, corruptFlags(in))
	assert.Equal(t, uint8(0), corruptFlags(0))
}
