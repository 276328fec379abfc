package uapi

import (
	"encoding/binary"
	"errors"
)

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrBadSignature     = errors.New("device info signature mismatch")
)

// Cmd is a 64-byte command slot, shared by the device command region and the admin queue.
type Cmd [CmdSize]byte

// Opcode returns byte 0 of the command.
func (c *Cmd) Opcode() Opcode { return Opcode(c[0]) }

// Words returns the command as the 16 little-endian words written to the device.
func (c *Cmd) Words() [CmdSize / 4]uint32 {
	var w [CmdSize / 4]uint32
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(c[i*4:])
	}
	return w
}

// CmdFromWords rebuilds a command from its register words.
func CmdFromWords(w [CmdSize / 4]uint32) Cmd {
	var c Cmd
	for i, v := range w {
		binary.LittleEndian.PutUint32(c[i*4:], v)
	}
	return c
}

// Comp is a 16-byte completion slot.
type Comp [CompSize]byte

func (c *Comp) Status() Status     { return Status(c[0]) }
func (c *Comp) CompIndex() uint16  { return binary.LittleEndian.Uint16(c[2:4]) }
func (c *Comp) Color() bool        { return c[CompSize-1]&ColorMask != 0 }
func (c *Comp) SetStatus(s Status) { c[0] = byte(s) }

func (c *Comp) SetCompIndex(i uint16) { binary.LittleEndian.PutUint16(c[2:4], i) }

// SetColor sets or clears the color bit, leaving the low bits of the last byte alone.
func (c *Comp) SetColor(color bool) {
	if color {
		c[CompSize-1] |= ColorMask
	} else {
		c[CompSize-1] &^= ColorMask
	}
}

// Words returns the completion as four little-endian words.
func (c *Comp) Words() [CompSize / 4]uint32 {
	var w [CompSize / 4]uint32
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(c[i*4:])
	}
	return w
}

// CompFromWords rebuilds a completion from its register words.
func CompFromWords(w [CompSize / 4]uint32) Comp {
	var c Comp
	for i, v := range w {
		binary.LittleEndian.PutUint32(c[i*4:], v)
	}
	return c
}

// Q_INIT completion fields
func (c *Comp) QInitHWIndex() uint32 { return binary.LittleEndian.Uint32(c[4:8]) }
func (c *Comp) QInitHWType() uint8   { return c[8] }

func (c *Comp) SetQInit(hwIndex uint32, hwType uint8) {
	binary.LittleEndian.PutUint32(c[4:8], hwIndex)
	c[8] = hwType
}

// LIF_GETATTR / LIF_SETATTR completion union, starting at byte 4
func (c *Comp) AttrState() LIFState { return LIFState(c[4]) }
func (c *Comp) AttrMTU() uint32     { return binary.LittleEndian.Uint32(c[4:8]) }
func (c *Comp) AttrFeatures() uint64 {
	return binary.LittleEndian.Uint64(c[4:12])
}

func (c *Comp) AttrMAC() [6]byte {
	var mac [6]byte
	copy(mac[:], c[4:10])
	return mac
}

func (c *Comp) SetAttrMAC(mac [6]byte)     { copy(c[4:10], mac[:]) }
func (c *Comp) SetAttrFeatures(f uint64)   { binary.LittleEndian.PutUint64(c[4:12], f) }
func (c *Comp) SetAttrState(s LIFState)    { c[4] = byte(s) }
func (c *Comp) SetAttrMTU(mtu uint32)      { binary.LittleEndian.PutUint32(c[4:8], mtu) }
func (c *Comp) FilterID() uint32           { return binary.LittleEndian.Uint32(c[4:8]) }
func (c *Comp) SetFilterID(id uint32)      { binary.LittleEndian.PutUint32(c[4:8], id) }
func (c *Comp) LIFInitHWIndex() uint16     { return binary.LittleEndian.Uint16(c[2:4]) }
func (c *Comp) IdentifyVersion() uint8     { return c[1] }
func (c *Comp) SetIdentifyVersion(v uint8) { c[1] = v }

// IdentifyCmd asks the device for its identity; driver identity goes in the data words.
type IdentifyCmd struct {
	Version uint8
}

// InitCmd initializes the device.
type InitCmd struct {
	Type uint32
}

// ResetCmd resets the device.
type ResetCmd struct{}

// NopCmd does nothing.
type NopCmd struct{}

// LIFInitCmd initializes a LIF with its info page.
type LIFInitCmd struct {
	Index  uint32
	InfoPA uint64
}

// LIFResetCmd resets a LIF.
type LIFResetCmd struct {
	Index uint16
}

// QInitCmd initializes a queue. RingSize is log2 of the descriptor count.
type QInitCmd struct {
	LIFIndex   uint16
	Type       QueueType
	Ver        uint8
	Index      uint32
	PID        uint16
	IntrIndex  uint16
	Flags      uint16
	Cos        uint8
	RingSize   uint8
	RingBase   uint64
	CQRingBase uint64
	SGRingBase uint64
}

// QControlCmd enables or disables a queue.
type QControlCmd struct {
	LIFIndex uint16
	Type     QueueType
	Index    uint32
	Oper     QControlOp
}

// LIFSetAttrCmd sets one LIF attribute; only the field selected by Attr is encoded.
type LIFSetAttrCmd struct {
	Index    uint16
	Attr     LIFAttr
	State    LIFState
	MTU      uint32
	MAC      [6]byte
	Features uint64
}

// LIFGetAttrCmd reads one LIF attribute.
type LIFGetAttrCmd struct {
	Index uint16
	Attr  LIFAttr
}

// RxModeSetCmd sets the receive mode bits.
type RxModeSetCmd struct {
	LIFIndex uint16
	RxMode   uint16
}

// RxFilterAddCmd adds a receive filter.
type RxFilterAddCmd struct {
	LIFIndex uint16
	QType    QueueType
	QID      uint32
	Match    FilterMatch
	VLAN     uint16
	MAC      [6]byte
}

// RxFilterDelCmd removes a receive filter.
type RxFilterDelCmd struct {
	LIFIndex uint16
	FilterID uint32
}

// TxDesc is a transmit descriptor.
type TxDesc struct {
	Opcode  uint8
	Flags   uint8
	NSGE    uint8
	Addr    uint64
	Len     uint16
	VLANTCI uint16
}

// TxComp is a transmit completion.
type TxComp struct {
	Status    Status
	CompIndex uint16
	Color     bool
}

// RxDesc is a receive descriptor.
type RxDesc struct {
	Opcode uint8
	Len    uint16
	Addr   uint64
}

// RxComp is a receive completion.
type RxComp struct {
	Status    Status
	NumSG     uint8
	CompIndex uint16
	RSSHash   uint32
	Csum      uint16
	VLANTCI   uint16
	Len       uint16
	CsumFlags uint8
	PktType   uint8
	Color     bool
}

// ChecksumBad reports whether the device flagged a TCP, UDP or IP checksum failure.
func (c RxComp) ChecksumBad() bool { return c.CsumFlags&RxCsumBadMask != 0 }

// Event is a notify queue record.
type Event struct {
	EID        uint64
	Code       EventCode
	LinkStatus uint16
	LinkSpeed  uint32
	ResetCode  uint8
	ResetState uint8
}

// LIF info page layout
const (
	LIFInfoSize         = PageSize
	LIFInfoStatusOffset = 256
	LIFStatusSize       = 18
)

// LIFStatus is the device-written status block inside the LIF info page.
type LIFStatus struct {
	EID           uint64
	PortNum       uint8
	LinkStatus    uint16
	LinkSpeed     uint32
	LinkDownCount uint16
}

// Doorbell is the value written to a queue's doorbell register.
type Doorbell struct {
	PIndex uint16
	Ring   uint8
	QID    uint32
}

// DevInfo is the read-only device info region.
type DevInfo struct {
	Signature   uint32
	Version     uint8
	AsicType    uint8
	AsicRev     uint8
	FwStatus    uint8
	FwHeartbeat uint32
	FwVersion   string
	SerialNum   string
}

// DevInfoLen is the number of leading bytes of the device info region that carry fields.
const DevInfoLen = devInfoSerialOff + DevInfoSerialLen

// DriverIdentity is written into the device command data words before IDENTIFY.
type DriverIdentity struct {
	OSType       uint32
	OSDist       uint32
	OSDistStr    string
	KernelVer    uint32
	KernelVerStr string
	DriverVerStr string
}

// DriverIdentityWords is the size of the driver identity in 32-bit words.
const DriverIdentityWords = 128

// DeviceIdentity is read back from the data words after IDENTIFY.
type DeviceIdentity struct {
	Version        uint8
	Type           uint8
	NPorts         uint8
	NLIFs          uint32
	NIntrs         uint32
	NDbPagesPerLIF uint32
	IntrCoalMult   uint32
	IntrCoalDiv    uint32
	EQCount        uint32
}

// DeviceIdentityWords is the number of words of the device identity the driver reads.
const DeviceIdentityWords = 8
