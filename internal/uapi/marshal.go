package uapi

import (
	"bytes"
	"encoding/binary"
)

// Encode builds the IDENTIFY command.
func (c IdentifyCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpIdentify)
	b[1] = c.Version
	return b
}

// Encode builds the INIT command.
func (c InitCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpInit)
	binary.LittleEndian.PutUint32(b[4:8], c.Type)
	return b
}

// Encode builds the RESET command.
func (ResetCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpReset)
	return b
}

// Encode builds the NOP command.
func (NopCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpNop)
	return b
}

// Encode builds the LIF_INIT command.
func (c LIFInitCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpLIFInit)
	binary.LittleEndian.PutUint32(b[4:8], c.Index)
	binary.LittleEndian.PutUint64(b[12:20], c.InfoPA)
	return b
}

// DecodeLIFInitCmd parses a LIF_INIT command.
func DecodeLIFInitCmd(b *Cmd) LIFInitCmd {
	return LIFInitCmd{
		Index:  binary.LittleEndian.Uint32(b[4:8]),
		InfoPA: binary.LittleEndian.Uint64(b[12:20]),
	}
}

// Encode builds the LIF_RESET command.
func (c LIFResetCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpLIFReset)
	binary.LittleEndian.PutUint16(b[2:4], c.Index)
	return b
}

// Encode builds the Q_INIT command.
func (c QInitCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpQInit)
	binary.LittleEndian.PutUint16(b[2:4], c.LIFIndex)
	b[4] = byte(c.Type)
	b[5] = c.Ver
	binary.LittleEndian.PutUint32(b[8:12], c.Index)
	binary.LittleEndian.PutUint16(b[12:14], c.PID)
	binary.LittleEndian.PutUint16(b[14:16], c.IntrIndex)
	binary.LittleEndian.PutUint16(b[16:18], c.Flags)
	b[18] = c.Cos
	b[19] = c.RingSize
	binary.LittleEndian.PutUint64(b[20:28], c.RingBase)
	binary.LittleEndian.PutUint64(b[28:36], c.CQRingBase)
	binary.LittleEndian.PutUint64(b[36:44], c.SGRingBase)
	return b
}

// DecodeQInitCmd parses a Q_INIT command.
func DecodeQInitCmd(b *Cmd) QInitCmd {
	return QInitCmd{
		LIFIndex:   binary.LittleEndian.Uint16(b[2:4]),
		Type:       QueueType(b[4]),
		Ver:        b[5],
		Index:      binary.LittleEndian.Uint32(b[8:12]),
		PID:        binary.LittleEndian.Uint16(b[12:14]),
		IntrIndex:  binary.LittleEndian.Uint16(b[14:16]),
		Flags:      binary.LittleEndian.Uint16(b[16:18]),
		Cos:        b[18],
		RingSize:   b[19],
		RingBase:   binary.LittleEndian.Uint64(b[20:28]),
		CQRingBase: binary.LittleEndian.Uint64(b[28:36]),
		SGRingBase: binary.LittleEndian.Uint64(b[36:44]),
	}
}

// Encode builds the Q_CONTROL command.
func (c QControlCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpQControl)
	b[1] = byte(c.Type)
	binary.LittleEndian.PutUint16(b[2:4], c.LIFIndex)
	binary.LittleEndian.PutUint32(b[4:8], c.Index)
	b[8] = byte(c.Oper)
	return b
}

// DecodeQControlCmd parses a Q_CONTROL command.
func DecodeQControlCmd(b *Cmd) QControlCmd {
	return QControlCmd{
		Type:     QueueType(b[1]),
		LIFIndex: binary.LittleEndian.Uint16(b[2:4]),
		Index:    binary.LittleEndian.Uint32(b[4:8]),
		Oper:     QControlOp(b[8]),
	}
}

// Encode builds the LIF_SETATTR command.
func (c LIFSetAttrCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpLIFSetAttr)
	b[1] = byte(c.Attr)
	binary.LittleEndian.PutUint16(b[2:4], c.Index)
	switch c.Attr {
	case LIFAttrState:
		b[4] = byte(c.State)
	case LIFAttrMTU:
		binary.LittleEndian.PutUint32(b[4:8], c.MTU)
	case LIFAttrMAC:
		copy(b[4:10], c.MAC[:])
	case LIFAttrFeatures:
		binary.LittleEndian.PutUint64(b[4:12], c.Features)
	}
	return b
}

// DecodeLIFSetAttrCmd parses a LIF_SETATTR command.
func DecodeLIFSetAttrCmd(b *Cmd) LIFSetAttrCmd {
	c := LIFSetAttrCmd{
		Attr:  LIFAttr(b[1]),
		Index: binary.LittleEndian.Uint16(b[2:4]),
	}
	switch c.Attr {
	case LIFAttrState:
		c.State = LIFState(b[4])
	case LIFAttrMTU:
		c.MTU = binary.LittleEndian.Uint32(b[4:8])
	case LIFAttrMAC:
		copy(c.MAC[:], b[4:10])
	case LIFAttrFeatures:
		c.Features = binary.LittleEndian.Uint64(b[4:12])
	}
	return c
}

// Encode builds the LIF_GETATTR command.
func (c LIFGetAttrCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpLIFGetAttr)
	b[1] = byte(c.Attr)
	binary.LittleEndian.PutUint16(b[2:4], c.Index)
	return b
}

// DecodeLIFGetAttrCmd parses a LIF_GETATTR command.
func DecodeLIFGetAttrCmd(b *Cmd) LIFGetAttrCmd {
	return LIFGetAttrCmd{
		Attr:  LIFAttr(b[1]),
		Index: binary.LittleEndian.Uint16(b[2:4]),
	}
}

// Encode builds the RX_MODE_SET command.
func (c RxModeSetCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpRxModeSet)
	binary.LittleEndian.PutUint16(b[2:4], c.LIFIndex)
	binary.LittleEndian.PutUint16(b[4:6], c.RxMode)
	return b
}

// DecodeRxModeSetCmd parses an RX_MODE_SET command.
func DecodeRxModeSetCmd(b *Cmd) RxModeSetCmd {
	return RxModeSetCmd{
		LIFIndex: binary.LittleEndian.Uint16(b[2:4]),
		RxMode:   binary.LittleEndian.Uint16(b[4:6]),
	}
}

// Encode builds the RX_FILTER_ADD command.
func (c RxFilterAddCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpRxFilterAdd)
	b[1] = byte(c.QType)
	binary.LittleEndian.PutUint16(b[2:4], c.LIFIndex)
	binary.LittleEndian.PutUint32(b[4:8], c.QID)
	binary.LittleEndian.PutUint16(b[8:10], uint16(c.Match))
	switch c.Match {
	case FilterMatchVLAN:
		binary.LittleEndian.PutUint16(b[10:12], c.VLAN)
	case FilterMatchMAC:
		copy(b[10:16], c.MAC[:])
	case FilterMatchMACVLAN:
		binary.LittleEndian.PutUint16(b[10:12], c.VLAN)
		copy(b[12:18], c.MAC[:])
	}
	return b
}

// DecodeRxFilterAddCmd parses an RX_FILTER_ADD command.
func DecodeRxFilterAddCmd(b *Cmd) RxFilterAddCmd {
	c := RxFilterAddCmd{
		QType:    QueueType(b[1]),
		LIFIndex: binary.LittleEndian.Uint16(b[2:4]),
		QID:      binary.LittleEndian.Uint32(b[4:8]),
		Match:    FilterMatch(binary.LittleEndian.Uint16(b[8:10])),
	}
	switch c.Match {
	case FilterMatchVLAN:
		c.VLAN = binary.LittleEndian.Uint16(b[10:12])
	case FilterMatchMAC:
		copy(c.MAC[:], b[10:16])
	case FilterMatchMACVLAN:
		c.VLAN = binary.LittleEndian.Uint16(b[10:12])
		copy(c.MAC[:], b[12:18])
	}
	return c
}

// Encode builds the RX_FILTER_DEL command.
func (c RxFilterDelCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(OpRxFilterDel)
	binary.LittleEndian.PutUint16(b[2:4], c.LIFIndex)
	binary.LittleEndian.PutUint32(b[4:8], c.FilterID)
	return b
}

// DecodeRxFilterDelCmd parses an RX_FILTER_DEL command.
func DecodeRxFilterDelCmd(b *Cmd) RxFilterDelCmd {
	return RxFilterDelCmd{
		LIFIndex: binary.LittleEndian.Uint16(b[2:4]),
		FilterID: binary.LittleEndian.Uint32(b[4:8]),
	}
}

// EncodeTxCmd packs opcode, flags, SG count and address into the descriptor cmd word.
func EncodeTxCmd(opcode, flags, nsge uint8, addr uint64) uint64 {
	return uint64(opcode&txOpcodeMask)<<txOpcodeShift |
		uint64(flags&txFlagsMask)<<txFlagsShift |
		uint64(nsge&txNSGEMask)<<txNSGEShift |
		(addr&txAddrMask)<<txAddrShift
}

// DecodeTxCmd unpacks the descriptor cmd word.
func DecodeTxCmd(cmd uint64) (opcode, flags, nsge uint8, addr uint64) {
	opcode = uint8(cmd>>txOpcodeShift) & txOpcodeMask
	flags = uint8(cmd>>txFlagsShift) & txFlagsMask
	nsge = uint8(cmd>>txNSGEShift) & txNSGEMask
	addr = (cmd >> txAddrShift) & txAddrMask
	return
}

// Encode writes the descriptor into a ring slot.
func (d TxDesc) Encode(dst []byte) {
	_ = dst[TxDescSize-1]
	binary.LittleEndian.PutUint64(dst[0:8], EncodeTxCmd(d.Opcode, d.Flags, d.NSGE, d.Addr))
	binary.LittleEndian.PutUint16(dst[8:10], d.Len)
	binary.LittleEndian.PutUint16(dst[10:12], d.VLANTCI)
	binary.LittleEndian.PutUint16(dst[12:14], 0)
	binary.LittleEndian.PutUint16(dst[14:16], 0)
}

// DecodeTxDesc reads a transmit descriptor from a ring slot.
func DecodeTxDesc(src []byte) TxDesc {
	_ = src[TxDescSize-1]
	var d TxDesc
	d.Opcode, d.Flags, d.NSGE, d.Addr = DecodeTxCmd(binary.LittleEndian.Uint64(src[0:8]))
	d.Len = binary.LittleEndian.Uint16(src[8:10])
	d.VLANTCI = binary.LittleEndian.Uint16(src[10:12])
	return d
}

// Encode writes the completion into a ring slot; the color byte is stored last.
func (c TxComp) Encode(dst []byte) {
	_ = dst[TxCompSize-1]
	dst[0] = byte(c.Status)
	dst[1] = 0
	binary.LittleEndian.PutUint16(dst[2:4], c.CompIndex)
	var color byte
	if c.Color {
		color = ColorMask
	}
	dst[TxCompSize-1] = color
}

// DecodeTxComp reads a transmit completion from a ring slot.
func DecodeTxComp(src []byte) TxComp {
	_ = src[TxCompSize-1]
	return TxComp{
		Status:    Status(src[0]),
		CompIndex: binary.LittleEndian.Uint16(src[2:4]),
		Color:     src[TxCompSize-1]&ColorMask != 0,
	}
}

// Encode writes the descriptor into a ring slot.
func (d RxDesc) Encode(dst []byte) {
	_ = dst[RxDescSize-1]
	dst[0] = d.Opcode
	for i := 1; i < 6; i++ {
		dst[i] = 0
	}
	binary.LittleEndian.PutUint16(dst[6:8], d.Len)
	binary.LittleEndian.PutUint64(dst[8:16], d.Addr)
}

// DecodeRxDesc reads a receive descriptor from a ring slot.
func DecodeRxDesc(src []byte) RxDesc {
	_ = src[RxDescSize-1]
	return RxDesc{
		Opcode: src[0],
		Len:    binary.LittleEndian.Uint16(src[6:8]),
		Addr:   binary.LittleEndian.Uint64(src[8:16]),
	}
}

// Encode writes the completion into a ring slot; the color byte is stored last.
func (c RxComp) Encode(dst []byte) {
	_ = dst[RxCompSize-1]
	dst[0] = byte(c.Status)
	dst[1] = c.NumSG
	binary.LittleEndian.PutUint16(dst[2:4], c.CompIndex)
	binary.LittleEndian.PutUint32(dst[4:8], c.RSSHash)
	binary.LittleEndian.PutUint16(dst[8:10], c.Csum)
	binary.LittleEndian.PutUint16(dst[10:12], c.VLANTCI)
	binary.LittleEndian.PutUint16(dst[12:14], c.Len)
	dst[14] = c.CsumFlags
	last := c.PktType &^ ColorMask
	if c.Color {
		last |= ColorMask
	}
	dst[RxCompSize-1] = last
}

// DecodeRxComp reads a receive completion from a ring slot.
func DecodeRxComp(src []byte) RxComp {
	_ = src[RxCompSize-1]
	return RxComp{
		Status:    Status(src[0]),
		NumSG:     src[1],
		CompIndex: binary.LittleEndian.Uint16(src[2:4]),
		RSSHash:   binary.LittleEndian.Uint32(src[4:8]),
		Csum:      binary.LittleEndian.Uint16(src[8:10]),
		VLANTCI:   binary.LittleEndian.Uint16(src[10:12]),
		Len:       binary.LittleEndian.Uint16(src[12:14]),
		CsumFlags: src[14],
		PktType:   src[RxCompSize-1] &^ ColorMask,
		Color:     src[RxCompSize-1]&ColorMask != 0,
	}
}

// Encode writes the event into a notify ring slot. The id is written last.
func (e Event) Encode(dst []byte) {
	_ = dst[EventSize-1]
	for i := 8; i < EventSize; i++ {
		dst[i] = 0
	}
	binary.LittleEndian.PutUint16(dst[8:10], uint16(e.Code))
	switch e.Code {
	case EventLinkChange:
		binary.LittleEndian.PutUint16(dst[10:12], e.LinkStatus)
		binary.LittleEndian.PutUint32(dst[12:16], e.LinkSpeed)
	case EventReset:
		dst[10] = e.ResetCode
		dst[11] = e.ResetState
	}
	binary.LittleEndian.PutUint64(dst[0:8], e.EID)
}

// DecodeEvent reads a notify queue record.
func DecodeEvent(src []byte) Event {
	_ = src[EventSize-1]
	e := Event{
		EID:  binary.LittleEndian.Uint64(src[0:8]),
		Code: EventCode(binary.LittleEndian.Uint16(src[8:10])),
	}
	switch e.Code {
	case EventLinkChange:
		e.LinkStatus = binary.LittleEndian.Uint16(src[10:12])
		e.LinkSpeed = binary.LittleEndian.Uint32(src[12:16])
	case EventReset:
		e.ResetCode = src[10]
		e.ResetState = src[11]
	}
	return e
}

// EventID reads only the id of a notify queue record.
func EventID(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src[0:8])
}

// Encode writes the status block at its offset within the LIF info page.
func (s LIFStatus) Encode(info []byte) {
	b := info[LIFInfoStatusOffset : LIFInfoStatusOffset+LIFStatusSize]
	binary.LittleEndian.PutUint64(b[0:8], s.EID)
	b[8] = s.PortNum
	b[9] = 0
	binary.LittleEndian.PutUint16(b[10:12], s.LinkStatus)
	binary.LittleEndian.PutUint32(b[12:16], s.LinkSpeed)
	binary.LittleEndian.PutUint16(b[16:18], s.LinkDownCount)
}

// DecodeLIFStatus reads the status block from a LIF info page.
func DecodeLIFStatus(info []byte) LIFStatus {
	b := info[LIFInfoStatusOffset : LIFInfoStatusOffset+LIFStatusSize]
	return LIFStatus{
		EID:           binary.LittleEndian.Uint64(b[0:8]),
		PortNum:       b[8],
		LinkStatus:    binary.LittleEndian.Uint16(b[10:12]),
		LinkSpeed:     binary.LittleEndian.Uint32(b[12:16]),
		LinkDownCount: binary.LittleEndian.Uint16(b[16:18]),
	}
}

// Value packs the doorbell into its 64-bit register value.
func (d Doorbell) Value() uint64 {
	return uint64(d.PIndex)&DoorbellIndexMask |
		(uint64(d.Ring)&DoorbellRingMask)<<DoorbellRingShift |
		(uint64(d.QID)&DoorbellQIDMask)<<DoorbellQIDShift
}

// DecodeDoorbell unpacks a doorbell register value.
func DecodeDoorbell(v uint64) Doorbell {
	return Doorbell{
		PIndex: uint16(v & DoorbellIndexMask),
		Ring:   uint8((v >> DoorbellRingShift) & DoorbellRingMask),
		QID:    uint32((v >> DoorbellQIDShift) & DoorbellQIDMask),
	}
}

// DoorbellOffset returns the doorbell register offset for a process id and hardware queue type.
func DoorbellOffset(pid uint16, hwType uint8) uint32 {
	return uint32(pid)*PageSize + uint32(hwType)*8
}

// DecodeDevInfo parses the leading DevInfoLen bytes of the device info region.
func DecodeDevInfo(b []byte) (DevInfo, error) {
	if len(b) < DevInfoLen {
		return DevInfo{}, ErrInsufficientData
	}
	return DevInfo{
		Signature:   binary.LittleEndian.Uint32(b[devInfoSigOff:]),
		Version:     b[devInfoVersionOff],
		AsicType:    b[devInfoAsicTypeOff],
		AsicRev:     b[devInfoAsicRevOff],
		FwStatus:    b[DevInfoFwStatusOff],
		FwHeartbeat: binary.LittleEndian.Uint32(b[devInfoHeartbeatOff:]),
		FwVersion:   cString(b[devInfoFwVersionOff : devInfoFwVersionOff+DevInfoFwVersionLen]),
		SerialNum:   cString(b[devInfoSerialOff : devInfoSerialOff+DevInfoSerialLen]),
	}, nil
}

// Encode writes the device info fields into dst.
func (d DevInfo) Encode(dst []byte) {
	_ = dst[DevInfoLen-1]
	binary.LittleEndian.PutUint32(dst[devInfoSigOff:], d.Signature)
	dst[devInfoVersionOff] = d.Version
	dst[devInfoAsicTypeOff] = d.AsicType
	dst[devInfoAsicRevOff] = d.AsicRev
	dst[DevInfoFwStatusOff] = d.FwStatus
	binary.LittleEndian.PutUint32(dst[devInfoHeartbeatOff:], d.FwHeartbeat)
	putCString(dst[devInfoFwVersionOff:devInfoFwVersionOff+DevInfoFwVersionLen], d.FwVersion)
	putCString(dst[devInfoSerialOff:devInfoSerialOff+DevInfoSerialLen], d.SerialNum)
}

// Validate checks the signature.
func (d DevInfo) Validate() error {
	if d.Signature != DevInfoSignature {
		return ErrBadSignature
	}
	return nil
}

// FirmwareRunning reports whether a fw_status byte means the firmware is usable.
func FirmwareRunning(fwStatus uint8) bool {
	return fwStatus != FwStatusBadRead && fwStatus&FwStatusRunning != 0
}

// Words encodes the driver identity as data words.
func (d DriverIdentity) Words() []uint32 {
	b := make([]byte, DriverIdentityWords*4)
	binary.LittleEndian.PutUint32(b[0:4], d.OSType)
	binary.LittleEndian.PutUint32(b[4:8], d.OSDist)
	putCString(b[8:136], d.OSDistStr)
	binary.LittleEndian.PutUint32(b[136:140], d.KernelVer)
	putCString(b[140:172], d.KernelVerStr)
	putCString(b[172:204], d.DriverVerStr)
	return BytesToWords(b)
}

// DecodeDriverIdentity parses driver identity data words.
func DecodeDriverIdentity(words []uint32) (DriverIdentity, error) {
	if len(words) < DriverIdentityWords {
		return DriverIdentity{}, ErrInsufficientData
	}
	b := WordsToBytes(words[:DriverIdentityWords])
	return DriverIdentity{
		OSType:       binary.LittleEndian.Uint32(b[0:4]),
		OSDist:       binary.LittleEndian.Uint32(b[4:8]),
		OSDistStr:    cString(b[8:136]),
		KernelVer:    binary.LittleEndian.Uint32(b[136:140]),
		KernelVerStr: cString(b[140:172]),
		DriverVerStr: cString(b[172:204]),
	}, nil
}

// Words encodes the device identity as data words.
func (d DeviceIdentity) Words() []uint32 {
	b := make([]byte, DeviceIdentityWords*4)
	b[0] = d.Version
	b[1] = d.Type
	b[4] = d.NPorts
	binary.LittleEndian.PutUint32(b[8:12], d.NLIFs)
	binary.LittleEndian.PutUint32(b[12:16], d.NIntrs)
	binary.LittleEndian.PutUint32(b[16:20], d.NDbPagesPerLIF)
	binary.LittleEndian.PutUint32(b[20:24], d.IntrCoalMult)
	binary.LittleEndian.PutUint32(b[24:28], d.IntrCoalDiv)
	binary.LittleEndian.PutUint32(b[28:32], d.EQCount)
	return BytesToWords(b)
}

// DecodeDeviceIdentity parses device identity data words.
func DecodeDeviceIdentity(words []uint32) (DeviceIdentity, error) {
	if len(words) < DeviceIdentityWords {
		return DeviceIdentity{}, ErrInsufficientData
	}
	b := WordsToBytes(words[:DeviceIdentityWords])
	return DeviceIdentity{
		Version:        b[0],
		Type:           b[1],
		NPorts:         b[4],
		NLIFs:          binary.LittleEndian.Uint32(b[8:12]),
		NIntrs:         binary.LittleEndian.Uint32(b[12:16]),
		NDbPagesPerLIF: binary.LittleEndian.Uint32(b[16:20]),
		IntrCoalMult:   binary.LittleEndian.Uint32(b[20:24]),
		IntrCoalDiv:    binary.LittleEndian.Uint32(b[24:28]),
		EQCount:        binary.LittleEndian.Uint32(b[28:32]),
	}, nil
}

// BytesToWords converts little-endian bytes to words; a trailing partial word is zero padded.
func BytesToWords(b []byte) []uint32 {
	w := make([]uint32, (len(b)+3)/4)
	for i := range w {
		var tmp [4]byte
		copy(tmp[:], b[i*4:])
		w[i] = binary.LittleEndian.Uint32(tmp[:])
	}
	return w
}

// WordsToBytes converts words to little-endian bytes.
func WordsToBytes(w []uint32) []byte {
	b := make([]byte, len(w)*4)
	for i, v := range w {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// putCString copies s into dst, truncating so a NUL terminator always fits.
func putCString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	if len(dst) == 0 {
		return
	}
	copy(dst[:len(dst)-1], s)
}
