package ionic

import "sync"

// Frame is a copy of a buffer handed to a RecordingNetDevice.
type Frame struct {
	Data []byte
	Err  error
}

// LinkEvent is one LinkChanged call.
type LinkEvent struct {
	Up        bool
	SpeedMbps uint32
}

// RecordingNetDevice is a NetDevice for tests and tools. It copies every
// frame it is handed, returns the buffer to its pool and keeps a log of
// callbacks for verification. It also implements ResetNetDevice.
type RecordingNetDevice struct {
	pool BufferSource

	mu            sync.RWMutex
	tx            []Frame
	rx            []Frame
	links         []LinkEvent
	firmwareDowns int
	firmwareUps   int
}

// NewRecordingNetDevice creates a device that returns buffers to pool.
func NewRecordingNetDevice(pool BufferSource) *RecordingNetDevice {
	return &RecordingNetDevice{pool: pool}
}

func (r *RecordingNetDevice) record(dst *[]Frame, buf *Buffer, err error) {
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	r.mu.Lock()
	*dst = append(*dst, Frame{Data: data, Err: err})
	r.mu.Unlock()
	if r.pool != nil {
		r.pool.Put(buf)
	}
}

// TxComplete implements NetDevice
func (r *RecordingNetDevice) TxComplete(buf *Buffer, err error) { r.record(&r.tx, buf, err) }

// Receive implements NetDevice
func (r *RecordingNetDevice) Receive(buf *Buffer, err error) { r.record(&r.rx, buf, err) }

// LinkChanged implements NetDevice
func (r *RecordingNetDevice) LinkChanged(up bool, speedMbps uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, LinkEvent{Up: up, SpeedMbps: speedMbps})
}

// FirmwareDown implements ResetNetDevice
func (r *RecordingNetDevice) FirmwareDown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firmwareDowns++
}

// FirmwareUp implements ResetNetDevice
func (r *RecordingNetDevice) FirmwareUp() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firmwareUps++
}

// TxCompleted returns the completed transmits in order.
func (r *RecordingNetDevice) TxCompleted() []Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Frame(nil), r.tx...)
}

// Received returns the received frames in order.
func (r *RecordingNetDevice) Received() []Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Frame(nil), r.rx...)
}

// LinkEvents returns the link changes in order.
func (r *RecordingNetDevice) LinkEvents() []LinkEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LinkEvent(nil), r.links...)
}

// FirmwareCalls returns how often FirmwareDown and FirmwareUp were called.
func (r *RecordingNetDevice) FirmwareCalls() (downs, ups int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.firmwareDowns, r.firmwareUps
}

// Reset clears the recorded calls.
func (r *RecordingNetDevice) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tx = nil
	r.rx = nil
	r.links = nil
	r.firmwareDowns = 0
	r.firmwareUps = 0
}

var _ ResetNetDevice = (*RecordingNetDevice)(nil)
