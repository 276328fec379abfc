package uapi

import (
	"encoding/binary"
	"fmt"
)

// MigOpcode is a live-migration or dirty-page-tracking admin opcode.
type MigOpcode uint8

const (
	MigOpStatus        MigOpcode = 16
	MigOpThrottle      MigOpcode = 17
	MigOpSuspend       MigOpcode = 18
	MigOpResume        MigOpcode = 19
	MigOpSave          MigOpcode = 20
	MigOpRestore       MigOpcode = 21
	MigOpDirtyStatus   MigOpcode = 32
	MigOpDirtyEnable   MigOpcode = 33
	MigOpDirtyDisable  MigOpcode = 34
	MigOpDirtyReadSeq  MigOpcode = 35
	MigOpDirtyWriteAck MigOpcode = 36
)

// AllMigOpcodes lists every migration opcode.
var AllMigOpcodes = []MigOpcode{
	MigOpStatus, MigOpThrottle, MigOpSuspend, MigOpResume, MigOpSave, MigOpRestore,
	MigOpDirtyStatus, MigOpDirtyEnable, MigOpDirtyDisable, MigOpDirtyReadSeq, MigOpDirtyWriteAck,
}

var migOpcodeNames = [...]string{
	MigOpStatus:        "MIG_STATUS",
	MigOpThrottle:      "MIG_THROTTLE",
	MigOpSuspend:       "MIG_SUSPEND",
	MigOpResume:        "MIG_RESUME",
	MigOpSave:          "MIG_SAVE",
	MigOpRestore:       "MIG_RESTORE",
	MigOpDirtyStatus:   "MIG_DIRTY_STATUS",
	MigOpDirtyEnable:   "MIG_DIRTY_ENABLE",
	MigOpDirtyDisable:  "MIG_DIRTY_DISABLE",
	MigOpDirtyReadSeq:  "MIG_DIRTY_READ_SEQ",
	MigOpDirtyWriteAck: "MIG_DIRTY_WRITE_ACK",
}

func (o MigOpcode) String() string {
	if int(o) < len(migOpcodeNames) && migOpcodeNames[o] != "" {
		return migOpcodeNames[o]
	}
	return fmt.Sprintf("MIG_UNKNOWN(%d)", uint8(o))
}

// Dirty bitmap types
const (
	DirtyBitmapNone   = 0
	DirtyBitmapSeqAck = 1
)

// SGElemSize and DirtyRegionInfoSize are the on-wire sizes of the migration side tables.
const (
	SGElemSize          = 16
	DirtyRegionInfoSize = 16
)

// MigCmd is a migration command that carries only the VF id: status, throttle, suspend, resume.
type MigCmd struct {
	Opcode MigOpcode
	VFID   uint16
}

func (c MigCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(c.Opcode)
	binary.LittleEndian.PutUint16(b[2:4], c.VFID)
	return b
}

// MigSaveRestoreCmd points the device at a scatter list for saving or restoring VF state.
type MigSaveRestoreCmd struct {
	Opcode  MigOpcode
	VFID    uint16
	SGLAddr uint64
	SGLLen  uint32
}

func (c MigSaveRestoreCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(c.Opcode)
	binary.LittleEndian.PutUint16(b[2:4], c.VFID)
	binary.LittleEndian.PutUint64(b[8:16], c.SGLAddr)
	binary.LittleEndian.PutUint32(b[16:20], c.SGLLen)
	return b
}

// MigStatusSize returns the state size reported by a status or suspend completion.
func (c *Comp) MigStatusSize() uint64 { return binary.LittleEndian.Uint64(c[8:16]) }

// SGElem is a scatter-gather element.
type SGElem struct {
	Addr uint64
	Len  uint16
}

func (e SGElem) Encode(dst []byte) {
	_ = dst[SGElemSize-1]
	binary.LittleEndian.PutUint64(dst[0:8], e.Addr)
	binary.LittleEndian.PutUint16(dst[8:10], e.Len)
	for i := 10; i < SGElemSize; i++ {
		dst[i] = 0
	}
}

func DecodeSGElem(src []byte) SGElem {
	_ = src[SGElemSize-1]
	return SGElem{
		Addr: binary.LittleEndian.Uint64(src[0:8]),
		Len:  binary.LittleEndian.Uint16(src[8:10]),
	}
}

// DirtyRegionInfo describes one tracked guest memory region.
type DirtyRegionInfo struct {
	DMABase      uint64
	PageCount    uint32
	PageSizeLog2 uint8
}

func (r DirtyRegionInfo) Encode(dst []byte) {
	_ = dst[DirtyRegionInfoSize-1]
	binary.LittleEndian.PutUint64(dst[0:8], r.DMABase)
	binary.LittleEndian.PutUint32(dst[8:12], r.PageCount)
	dst[12] = r.PageSizeLog2
	dst[13], dst[14], dst[15] = 0, 0, 0
}

func DecodeDirtyRegionInfo(src []byte) DirtyRegionInfo {
	_ = src[DirtyRegionInfoSize-1]
	return DirtyRegionInfo{
		DMABase:      binary.LittleEndian.Uint64(src[0:8]),
		PageCount:    binary.LittleEndian.Uint32(src[8:12]),
		PageSizeLog2: src[12],
	}
}

// DirtyStatusCmd asks for the current tracking configuration.
type DirtyStatusCmd struct {
	VFID       uint16
	MaxRegions uint8
	RegionsDMA uint64
}

func (c DirtyStatusCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(MigOpDirtyStatus)
	binary.LittleEndian.PutUint16(b[2:4], c.VFID)
	b[4] = c.MaxRegions
	binary.LittleEndian.PutUint64(b[8:16], c.RegionsDMA)
	return b
}

// DirtyStatusComp is the completion of DirtyStatusCmd.
type DirtyStatusComp struct {
	Status        Status
	MaxRegions    uint8
	NumRegions    uint8
	BitmapType    uint8
	BitmapTypeMsk uint32
}

func DecodeDirtyStatusComp(c *Comp) DirtyStatusComp {
	return DirtyStatusComp{
		Status:        Status(c[0]),
		MaxRegions:    c[1],
		NumRegions:    c[2],
		BitmapType:    c[3],
		BitmapTypeMsk: binary.LittleEndian.Uint32(c[4:8]),
	}
}

// DirtyEnableCmd starts dirty tracking over NumRegions region descriptors.
type DirtyEnableCmd struct {
	VFID       uint16
	BitmapType uint8
	NumRegions uint8
	RegionsDMA uint64
}

func (c DirtyEnableCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(MigOpDirtyEnable)
	binary.LittleEndian.PutUint16(b[2:4], c.VFID)
	b[4] = c.BitmapType
	b[5] = c.NumRegions
	binary.LittleEndian.PutUint64(b[8:16], c.RegionsDMA)
	return b
}

// DirtyDisableCmd stops dirty tracking.
type DirtyDisableCmd struct {
	VFID uint16
}

func (c DirtyDisableCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(MigOpDirtyDisable)
	binary.LittleEndian.PutUint16(b[2:4], c.VFID)
	return b
}

// DirtySeqAckCmd reads the sequence bitmap or writes the ack bitmap.
// Opcode must be MigOpDirtyReadSeq or MigOpDirtyWriteAck.
type DirtySeqAckCmd struct {
	Opcode   MigOpcode
	VFID     uint16
	OffBytes uint32
	LenBytes uint32
	NumSGE   uint16
	SGLAddr  uint64
}

func (c DirtySeqAckCmd) Encode() Cmd {
	var b Cmd
	b[0] = byte(c.Opcode)
	binary.LittleEndian.PutUint16(b[2:4], c.VFID)
	binary.LittleEndian.PutUint32(b[4:8], c.OffBytes)
	binary.LittleEndian.PutUint32(b[8:12], c.LenBytes)
	binary.LittleEndian.PutUint16(b[12:14], c.NumSGE)
	binary.LittleEndian.PutUint64(b[16:24], c.SGLAddr)
	return b
}
