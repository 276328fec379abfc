package sim

import (
	"bytes"

	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

const (
	minMTU = 68
	maxMTU = 9194
)

// onBAR0Write runs a device command when the driver rings the command doorbell.
func (d *Device) onBAR0Write(off uint32, v uint64, _ int) {
	if off != uapi.DevCmdOffset+uapi.DevCmdDoorbell || v&1 == 0 {
		return
	}

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.stats.DevCmds++

	var cmd uapi.Cmd
	copy(cmd[:], d.bar0.PeekBytes(uapi.DevCmdOffset+uapi.DevCmdCmd, uapi.CmdSize))
	op := cmd.Opcode()

	var comp uapi.Comp
	var st uapi.Status
	if d.busy > 0 {
		d.busy--
		st = uapi.StatusEAgain
	} else {
		st = d.statusFor(op, d.devCmd(&cmd, &comp))
	}
	comp.SetStatus(st)
	hold := d.holdDone
	d.mu.Unlock()

	d.logger.Debug("device command", "opcode", op.String(), "status", st.String())
	d.bar0.PokeBytes(uapi.DevCmdOffset+uapi.DevCmdComp, comp[:])
	if !hold {
		d.bar0.Poke32(uapi.DevCmdOffset+uapi.DevCmdDone, uapi.DevCmdDoneBit)
	}
}

func (d *Device) devCmd(cmd *uapi.Cmd, comp *uapi.Comp) uapi.Status {
	switch cmd.Opcode() {
	case uapi.OpNop, uapi.OpInit:
		return uapi.StatusSuccess

	case uapi.OpIdentify:
		words := uapi.BytesToWords(d.bar0.PeekBytes(uapi.DevCmdOffset+uapi.DevCmdData, uapi.DriverIdentityWords*4))
		id, err := uapi.DecodeDriverIdentity(words)
		if err != nil {
			return uapi.StatusEInval
		}
		d.driver = id
		d.bar0.PokeBytes(uapi.DevCmdOffset+uapi.DevCmdData, uapi.WordsToBytes(d.cfg.Identity.Words()))
		comp.SetIdentifyVersion(uapi.IdentityVer1)
		return uapi.StatusSuccess

	case uapi.OpReset, uapi.OpLIFReset:
		d.resetLocked()
		return uapi.StatusSuccess

	case uapi.OpLIFInit:
		c := uapi.DecodeLIFInitCmd(cmd)
		info, err := d.cfg.Memory.Resolve(c.InfoPA, uapi.LIFInfoSize)
		if err != nil {
			return uapi.StatusBadAddr
		}
		d.lifInfo = info
		d.lifInfoPA = c.InfoPA
		d.writeLIFStatusLocked()
		comp.SetCompIndex(uint16(c.Index))
		return uapi.StatusSuccess

	case uapi.OpQInit:
		return d.initQueue(uapi.DecodeQInitCmd(cmd), comp)
	}
	return uapi.StatusEOpcode
}

// processAdmin answers every admin command between the device tail and the
// last doorbell, in order.
func (d *Device) processAdmin(q *queue) {
	if !q.enabled {
		return
	}
	for q.tail != q.head {
		var cmd uapi.Cmd
		copy(cmd[:], q.desc(q.tail))
		d.stats.AdminCmds++

		var comp uapi.Comp
		st := d.statusFor(cmd.Opcode(), d.adminCmd(&cmd, &comp))
		comp.SetStatus(st)
		comp.SetCompIndex(uint16(q.tail))
		comp.SetColor(q.color)
		q.writeComp(comp[:])
		d.logger.Debug("admin command", "opcode", cmd.Opcode().String(), "status", st.String(), "index", q.tail)

		q.tail = q.next(q.tail)
	}
}

func (d *Device) adminCmd(cmd *uapi.Cmd, comp *uapi.Comp) uapi.Status {
	switch cmd.Opcode() {
	case uapi.OpNop:
		return uapi.StatusSuccess

	case uapi.OpQInit:
		return d.initQueue(uapi.DecodeQInitCmd(cmd), comp)

	case uapi.OpQControl:
		return d.controlQueue(uapi.DecodeQControlCmd(cmd))

	case uapi.OpLIFGetAttr:
		switch c := uapi.DecodeLIFGetAttrCmd(cmd); c.Attr {
		case uapi.LIFAttrMAC:
			comp.SetAttrMAC(d.mac)
		case uapi.LIFAttrMTU:
			comp.SetAttrMTU(d.mtu)
		case uapi.LIFAttrState:
			comp.SetAttrState(d.state)
		case uapi.LIFAttrFeatures:
			comp.SetAttrFeatures(d.features)
		default:
			return uapi.StatusEInval
		}
		return uapi.StatusSuccess

	case uapi.OpLIFSetAttr:
		switch c := uapi.DecodeLIFSetAttrCmd(cmd); c.Attr {
		case uapi.LIFAttrState:
			d.state = c.State
		case uapi.LIFAttrMTU:
			if c.MTU < minMTU || c.MTU > maxMTU {
				return uapi.StatusEInval
			}
			d.mtu = c.MTU
		case uapi.LIFAttrMAC:
			d.mac = c.MAC
		case uapi.LIFAttrFeatures:
			d.features = c.Features & d.cfg.Supported
			comp.SetAttrFeatures(d.features)
		default:
			return uapi.StatusEInval
		}
		return uapi.StatusSuccess

	case uapi.OpRxModeSet:
		d.rxMode = uapi.DecodeRxModeSetCmd(cmd).RxMode & uapi.RxModeAll
		return uapi.StatusSuccess

	case uapi.OpRxFilterAdd:
		c := uapi.DecodeRxFilterAddCmd(cmd)
		for _, f := range d.filters {
			if f.Match == c.Match && f.VLAN == c.VLAN && bytes.Equal(f.MAC[:], c.MAC[:]) {
				return uapi.StatusEExist
			}
		}
		id := d.nextID
		d.nextID++
		d.filters[id] = c
		comp.SetFilterID(id)
		return uapi.StatusSuccess

	case uapi.OpRxFilterDel:
		c := uapi.DecodeRxFilterDelCmd(cmd)
		if _, ok := d.filters[c.FilterID]; !ok {
			return uapi.StatusENoEnt
		}
		delete(d.filters, c.FilterID)
		return uapi.StatusSuccess
	}
	return uapi.StatusEOpcode
}
