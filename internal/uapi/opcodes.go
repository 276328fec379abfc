package uapi

import "fmt"

// Opcode is a device or admin command opcode.
type Opcode uint8

const (
	OpNop             Opcode = 0
	OpIdentify        Opcode = 1
	OpInit            Opcode = 2
	OpReset           Opcode = 3
	OpGetAttr         Opcode = 4
	OpSetAttr         Opcode = 5
	OpPortIdentify    Opcode = 10
	OpPortInit        Opcode = 11
	OpPortReset       Opcode = 12
	OpPortGetAttr     Opcode = 13
	OpPortSetAttr     Opcode = 14
	OpLIFIdentify     Opcode = 20
	OpLIFInit         Opcode = 21
	OpLIFReset        Opcode = 22
	OpLIFGetAttr      Opcode = 23
	OpLIFSetAttr      Opcode = 24
	OpRxModeSet       Opcode = 30
	OpRxFilterAdd     Opcode = 31
	OpRxFilterDel     Opcode = 32
	OpQInit           Opcode = 40
	OpQControl        Opcode = 41
	OpRDMAResetLIF    Opcode = 50
	OpRDMACreateEQ    Opcode = 51
	OpRDMACreateCQ    Opcode = 52
	OpRDMACreateAdmin Opcode = 53
	OpFwDownloadV1    Opcode = 252
	OpFwControlV1     Opcode = 253
	OpFwDownload      Opcode = 254
	OpFwControl       Opcode = 255
)

// AllOpcodes lists every defined opcode.
var AllOpcodes = []Opcode{
	OpNop, OpIdentify, OpInit, OpReset, OpGetAttr, OpSetAttr,
	OpPortIdentify, OpPortInit, OpPortReset, OpPortGetAttr, OpPortSetAttr,
	OpLIFIdentify, OpLIFInit, OpLIFReset, OpLIFGetAttr, OpLIFSetAttr,
	OpRxModeSet, OpRxFilterAdd, OpRxFilterDel,
	OpQInit, OpQControl,
	OpRDMAResetLIF, OpRDMACreateEQ, OpRDMACreateCQ, OpRDMACreateAdmin,
	OpFwDownloadV1, OpFwControlV1, OpFwDownload, OpFwControl,
}

// opcodeNames is indexed by opcode; keyed entries make a duplicate a compile error.
var opcodeNames = [256]string{
	OpNop:             "IONIC_CMD_NOP",
	OpIdentify:        "IONIC_CMD_IDENTIFY",
	OpInit:            "IONIC_CMD_INIT",
	OpReset:           "IONIC_CMD_RESET",
	OpGetAttr:         "IONIC_CMD_GETATTR",
	OpSetAttr:         "IONIC_CMD_SETATTR",
	OpPortIdentify:    "IONIC_CMD_PORT_IDENTIFY",
	OpPortInit:        "IONIC_CMD_PORT_INIT",
	OpPortReset:       "IONIC_CMD_PORT_RESET",
	OpPortGetAttr:     "IONIC_CMD_PORT_GETATTR",
	OpPortSetAttr:     "IONIC_CMD_PORT_SETATTR",
	OpLIFIdentify:     "IONIC_CMD_LIF_IDENTIFY",
	OpLIFInit:         "IONIC_CMD_LIF_INIT",
	OpLIFReset:        "IONIC_CMD_LIF_RESET",
	OpLIFGetAttr:      "IONIC_CMD_LIF_GETATTR",
	OpLIFSetAttr:      "IONIC_CMD_LIF_SETATTR",
	OpRxModeSet:       "IONIC_CMD_RX_MODE_SET",
	OpRxFilterAdd:     "IONIC_CMD_RX_FILTER_ADD",
	OpRxFilterDel:     "IONIC_CMD_RX_FILTER_DEL",
	OpQInit:           "IONIC_CMD_Q_INIT",
	OpQControl:        "IONIC_CMD_Q_CONTROL",
	OpRDMAResetLIF:    "IONIC_CMD_RDMA_RESET_LIF",
	OpRDMACreateEQ:    "IONIC_CMD_RDMA_CREATE_EQ",
	OpRDMACreateCQ:    "IONIC_CMD_RDMA_CREATE_CQ",
	OpRDMACreateAdmin: "IONIC_CMD_RDMA_CREATE_ADMINQ",
	OpFwDownloadV1:    "IONIC_CMD_FW_DOWNLOAD_V1",
	OpFwControlV1:     "IONIC_CMD_FW_CONTROL_V1",
	OpFwDownload:      "IONIC_CMD_FW_DOWNLOAD",
	OpFwControl:       "IONIC_CMD_FW_CONTROL",
}

func (o Opcode) String() string {
	if name := opcodeNames[o]; name != "" {
		return name
	}
	return fmt.Sprintf("IONIC_CMD_UNKNOWN(%d)", uint8(o))
}

// Status is the one-byte completion status.
type Status uint8

const (
	StatusSuccess  Status = 0
	StatusEVersion Status = 1
	StatusEOpcode  Status = 2
	StatusEIO      Status = 3
	StatusEPerm    Status = 4
	StatusEQID     Status = 5
	StatusEQType   Status = 6
	StatusENoEnt   Status = 7
	StatusEIntr    Status = 8
	StatusEAgain   Status = 9
	StatusENoMem   Status = 10
	StatusEFault   Status = 11
	StatusEBusy    Status = 12
	StatusEExist   Status = 13
	StatusEInval   Status = 14
	StatusENoSpc   Status = 15
	StatusERange   Status = 16
	StatusBadAddr  Status = 17
	StatusDevCmd   Status = 18
	StatusENoSupp  Status = 19
	StatusError    Status = 29
	StatusERDMA    Status = 30
	StatusEVFID    Status = 31
	StatusBadFw    Status = 32
)

// AllStatuses lists every defined status code.
var AllStatuses = []Status{
	StatusSuccess, StatusEVersion, StatusEOpcode, StatusEIO, StatusEPerm,
	StatusEQID, StatusEQType, StatusENoEnt, StatusEIntr, StatusEAgain,
	StatusENoMem, StatusEFault, StatusEBusy, StatusEExist, StatusEInval,
	StatusENoSpc, StatusERange, StatusBadAddr, StatusDevCmd, StatusENoSupp,
	StatusError, StatusERDMA, StatusEVFID, StatusBadFw,
}

var statusNames = [...]string{
	StatusSuccess:  "IONIC_RC_SUCCESS",
	StatusEVersion: "IONIC_RC_EVERSION",
	StatusEOpcode:  "IONIC_RC_EOPCODE",
	StatusEIO:      "IONIC_RC_EIO",
	StatusEPerm:    "IONIC_RC_EPERM",
	StatusEQID:     "IONIC_RC_EQID",
	StatusEQType:   "IONIC_RC_EQTYPE",
	StatusENoEnt:   "IONIC_RC_ENOENT",
	StatusEIntr:    "IONIC_RC_EINTR",
	StatusEAgain:   "IONIC_RC_EAGAIN",
	StatusENoMem:   "IONIC_RC_ENOMEM",
	StatusEFault:   "IONIC_RC_EFAULT",
	StatusEBusy:    "IONIC_RC_EBUSY",
	StatusEExist:   "IONIC_RC_EEXIST",
	StatusEInval:   "IONIC_RC_EINVAL",
	StatusENoSpc:   "IONIC_RC_ENOSPC",
	StatusERange:   "IONIC_RC_ERANGE",
	StatusBadAddr:  "IONIC_RC_BAD_ADDR",
	StatusDevCmd:   "IONIC_RC_DEV_CMD",
	StatusENoSupp:  "IONIC_RC_ENOSUPP",
	StatusError:    "IONIC_RC_ERROR",
	StatusERDMA:    "IONIC_RC_ERDMA",
	StatusEVFID:    "IONIC_RC_EVFID",
	StatusBadFw:    "IONIC_RC_BAD_FW",
}

func (s Status) String() string {
	if int(s) < len(statusNames) && statusNames[s] != "" {
		return statusNames[s]
	}
	return fmt.Sprintf("IONIC_RC_UNKNOWN(%d)", uint8(s))
}

// EventCode identifies a notify queue event.
type EventCode uint16

const (
	EventLinkChange EventCode = 1
	EventReset      EventCode = 2
	EventHeartbeat  EventCode = 3
	EventLog        EventCode = 4
	EventXcvr       EventCode = 5
)

// AllEventCodes lists every defined event code.
var AllEventCodes = []EventCode{EventLinkChange, EventReset, EventHeartbeat, EventLog, EventXcvr}

var eventNames = [...]string{
	EventLinkChange: "LINK_CHANGE",
	EventReset:      "RESET",
	EventHeartbeat:  "HEARTBEAT",
	EventLog:        "LOG",
	EventXcvr:       "XCVR",
}

func (e EventCode) String() string {
	if int(e) < len(eventNames) && eventNames[e] != "" {
		return eventNames[e]
	}
	return fmt.Sprintf("EVENT_UNKNOWN(%d)", uint16(e))
}

var queueTypeNames = [...]string{
	QTypeAdminQ:  "adminq",
	QTypeNotifyQ: "notifyq",
	QTypeRxQ:     "rxq",
	QTypeTxQ:     "txq",
	QTypeEQ:      "eq",
}

func (t QueueType) String() string {
	if int(t) < len(queueTypeNames) {
		return queueTypeNames[t]
	}
	return fmt.Sprintf("qtype(%d)", uint8(t))
}
