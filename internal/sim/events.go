package sim

import (
	"github.com/ehrlich-b/go-ionic/internal/uapi"
)

// RaiseLinkChange updates the link in the LIF status block and posts a
// LINK_CHANGE event. speedMbps is ignored when up is false.
func (d *Device) RaiseLinkChange(up bool, speedMbps uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.linkUp && !up {
		d.linkDowns++
	}
	if !up {
		speedMbps = 0
	}
	d.linkUp = up
	d.speed = speedMbps

	d.postEventLocked(uapi.Event{
		Code:       uapi.EventLinkChange,
		LinkStatus: d.portStatus(),
		LinkSpeed:  speedMbps,
	})
	d.writeLIFStatusLocked()
}

// RaiseReset posts a RESET event.
func (d *Device) RaiseReset(code, state uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.postEventLocked(uapi.Event{Code: uapi.EventReset, ResetCode: code, ResetState: state})
}

// RaiseEvent posts an event with the given code and no payload.
func (d *Device) RaiseEvent(code uapi.EventCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.postEventLocked(uapi.Event{Code: code})
}

// LastEID returns the id of the most recent event.
func (d *Device) LastEID() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eid
}

// SetNextEID makes the next event carry id eid.
func (d *Device) SetNextEID(eid uint64) {
	d.mu.Lock()
	d.eid = eid - 1
	d.mu.Unlock()
}

func (d *Device) portStatus() uint16 {
	if d.linkUp {
		return uapi.PortOperStatusUp
	}
	return uapi.PortOperStatusDown
}

// postEventLocked assigns the next id and writes ev into notify queue 0. The
// id is consumed even when no queue is listening.
func (d *Device) postEventLocked(ev uapi.Event) bool {
	d.eid++
	ev.EID = d.eid
	q := d.queues[qkey{uapi.QTypeNotifyQ, 0}]
	if !d.running || q == nil || !q.enabled {
		return false
	}
	off := int(q.cqHead) * q.compSize
	ev.Encode(q.cq[off : off+uapi.EventSize])
	q.advanceCQ()
	d.stats.Events++
	d.logger.Debug("event posted", "eid", ev.EID, "code", ev.Code.String())
	return true
}

func (d *Device) writeLIFStatusLocked() {
	if d.lifInfo == nil {
		return
	}
	uapi.LIFStatus{
		EID:           d.eid,
		LinkStatus:    d.portStatus(),
		LinkSpeed:     d.speed,
		LinkDownCount: d.linkDowns,
	}.Encode(d.lifInfo)
}
