// Package uapi provides the device interface definitions for ionic-family NICs:
// register layout, command opcodes, status codes and descriptor formats.
package uapi

// BAR0 layout
const (
	BAR0Size         = 0x8000
	DevInfoOffset    = 0x0000
	DevInfoSize      = 0x0800
	DevCmdOffset     = 0x0800
	DevCmdSize       = 0x0800
	IntrStatusOffset = 0x1000
	IntrCtrlOffset   = 0x2000
)

// Device command region, relative to DevCmdOffset
const (
	DevCmdDoorbell  = 0x00
	DevCmdDone      = 0x04
	DevCmdCmd       = 0x08
	DevCmdComp      = 0x48
	DevCmdData      = 0x88
	DevCmdDataWords = 478

	// DevCmdDoneBit is set by the device in the done register on completion.
	DevCmdDoneBit = 0x1
)

// Device info region, relative to DevInfoOffset
const (
	DevInfoSignature = 0x44455649 // 'DEVI'

	devInfoSigOff       = 0
	devInfoVersionOff   = 4
	devInfoAsicTypeOff  = 5
	devInfoAsicRevOff   = 6
	DevInfoFwStatusOff  = 7
	devInfoHeartbeatOff = 8
	devInfoFwVersionOff = 12
	devInfoSerialOff    = 44

	DevInfoFwVersionLen = 32
	DevInfoSerialLen    = 32

	// FwStatusRunning is set in fw_status while firmware is up.
	FwStatusRunning = 0x1
	// FwStatusBadRead is what a failed PCI read returns.
	FwStatusBadRead = 0xff
)

// Wire sizes
const (
	CmdSize      = 64
	CompSize     = 16
	TxDescSize   = 16
	TxCompSize   = 16
	RxDescSize   = 16
	RxCompSize   = 16
	EventSize    = 64
	IdentityVer1 = 1

	// ColorMask selects the color bit in the last byte of a completion.
	ColorMask = 0x80

	// PageSize is the device page size used for doorbell pages and ring alignment.
	PageSize = 4096

	// AddrBits is the DMA address width accepted by the device.
	AddrBits = 52
)

// QueueType identifies a queue class to the device.
type QueueType uint8

const (
	QTypeAdminQ  QueueType = 0
	QTypeNotifyQ QueueType = 1
	QTypeRxQ     QueueType = 2
	QTypeTxQ     QueueType = 3
	QTypeEQ      QueueType = 4
)

// Q_INIT flags
const (
	QInitFlagIRQ   = 0x01
	QInitFlagEna   = 0x02
	QInitFlagSG    = 0x04
	QInitFlagEQ    = 0x08
	QInitFlagCMB   = 0x10
	QInitFlagDebug = 0x80
)

// QControlOp is the Q_CONTROL operation.
type QControlOp uint8

const (
	QDisable   QControlOp = 0
	QEnable    QControlOp = 1
	QHangReset QControlOp = 2
)

// LIFAttr selects the attribute for LIF_GETATTR and LIF_SETATTR.
type LIFAttr uint8

const (
	LIFAttrState     LIFAttr = 0
	LIFAttrName      LIFAttr = 1
	LIFAttrMTU       LIFAttr = 2
	LIFAttrMAC       LIFAttr = 3
	LIFAttrFeatures  LIFAttr = 4
	LIFAttrRSS       LIFAttr = 5
	LIFAttrStatsCtrl LIFAttr = 6
)

// LIFState is the value of LIFAttrState.
type LIFState uint8

const (
	LIFDisable LIFState = 0
	LIFEnable  LIFState = 1
	LIFQuiesce LIFState = 2
)

// Ethernet hardware feature bits exchanged with LIFAttrFeatures.
const (
	HWVLANTxTag    uint64 = 1 << 0
	HWVLANRxStrip  uint64 = 1 << 1
	HWVLANRxFilter uint64 = 1 << 2
	HWRxHash       uint64 = 1 << 3
	HWRxCsum       uint64 = 1 << 4
	HWTxSG         uint64 = 1 << 5
	HWRxSG         uint64 = 1 << 6
	HWTxCsum       uint64 = 1 << 7
	HWTSO          uint64 = 1 << 8
)

// RX_MODE_SET bits
const (
	RxModeUnicast   uint16 = 0x01
	RxModeMulticast uint16 = 0x02
	RxModeBroadcast uint16 = 0x04
	RxModePromisc   uint16 = 0x08
	RxModeAllMulti  uint16 = 0x10

	RxModeAll = RxModeUnicast | RxModeMulticast | RxModeBroadcast | RxModePromisc | RxModeAllMulti
)

// FilterMatch is the RX_FILTER_ADD match type.
type FilterMatch uint16

const (
	FilterMatchVLAN    FilterMatch = 0
	FilterMatchMAC     FilterMatch = 1
	FilterMatchMACVLAN FilterMatch = 2
)

// Port operational status as reported in the LIF status block.
const (
	PortOperStatusUnknown uint16 = 0
	PortOperStatusUp      uint16 = 1
	PortOperStatusDown    uint16 = 2
)

// TX descriptor opcodes and flags
const (
	TxOpCsumNone    = 0
	TxOpCsumPartial = 1
	TxOpCsumHW      = 2
	TxOpTSO         = 3

	TxFlagVLAN   = 0x1
	TxFlagEncap  = 0x2
	TxFlagTSOSOT = 0x4
	TxFlagTSOEOT = 0x8
)

// TX descriptor cmd field encoding
const (
	txOpcodeMask  = 0xf
	txOpcodeShift = 4
	txFlagsMask   = 0xf
	txFlagsShift  = 0
	txNSGEMask    = 0xf
	txNSGEShift   = 8
	txAddrMask    = (uint64(1) << AddrBits) - 1
	txAddrShift   = 12
)

// RX descriptor opcodes
const (
	RxOpSimple = 0
	RxOpSG     = 1
)

// RX completion checksum flags
const (
	RxCsumTCPOK  = 0x01
	RxCsumTCPBad = 0x02
	RxCsumUDPOK  = 0x04
	RxCsumUDPBad = 0x08
	RxCsumIPOK   = 0x10
	RxCsumIPBad  = 0x20
	RxCsumVLAN   = 0x40
	RxCsumCalc   = 0x80

	RxCsumBadMask = RxCsumTCPBad | RxCsumUDPBad | RxCsumIPBad
)

// Doorbell packing
const (
	DoorbellIndexMask = 0xffff
	DoorbellRingMask  = 0x7
	DoorbellRingShift = 16
	DoorbellQIDMask   = 0xffffff
	DoorbellQIDShift  = 24
)

// OS type reported in the driver identity.
const (
	OSTypeLinux = 1
	OSTypeWin   = 2
	OSTypeDPDK  = 3
	OSTypeIPXE  = 5
	OSTypeESXi  = 6
)
