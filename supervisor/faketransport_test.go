package supervisor

import (
	"encoding/binary"
	"sync"

	canopen "github.com/cerndcs/dcsopc-gateway"
)

// fakeTransport is an in-memory canopen.Transport driving the SDO
// engine against a map of index/subindex -> value, without a real bus
// adapter. Reads of an index marked missing never get a response,
// which the SDO client surfaces as a timeout.
type fakeTransport struct {
	queue *canopen.RxQueue

	mu      sync.Mutex
	values  map[[2]uint16]uint32
	missing map[[2]uint16]bool
	sends   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		queue:   canopen.NewRxQueue(),
		values:  make(map[[2]uint16]uint32),
		missing: make(map[[2]uint16]bool),
	}
}

func (f *fakeTransport) set(index uint16, sub uint8, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[[2]uint16{index, uint16(sub)}] = value
}

func (f *fakeTransport) failIndex(index uint16, sub uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[[2]uint16{index, uint16(sub)}] = true
}

func (f *fakeTransport) Open() error             { return nil }
func (f *fakeTransport) Queue() *canopen.RxQueue { return f.queue }
func (f *fakeTransport) State() canopen.State    { return canopen.StateConnected }
func (f *fakeTransport) Close() error             { return nil }

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func (f *fakeTransport) Send(req canopen.Frame) error {
	f.mu.Lock()
	f.sends++
	f.mu.Unlock()

	nodeId := uint8(req.CobId - 0x600)
	index := binary.LittleEndian.Uint16(req.Data[1:3])
	sub := req.Data[3]
	key := [2]uint16{index, uint16(sub)}
	cs := req.Data[0]

	f.mu.Lock()
	missing := f.missing[key]
	value := f.values[key]
	f.mu.Unlock()

	if cs == 0x40 { // upload (read) initiate
		if missing {
			return nil
		}
		resp := canopen.NewFrame(canopen.SdoResponseCobId(nodeId),
			[]byte{0x4F, req.Data[1], req.Data[2], sub, byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}, 8)
		f.queue.Push(resp)
		return nil
	}

	// download (write) initiate: latch whatever was sent and ack it.
	written := binary.LittleEndian.Uint32(req.Data[4:8])
	f.mu.Lock()
	f.values[key] = written
	f.mu.Unlock()
	resp := canopen.NewFrame(canopen.SdoResponseCobId(nodeId), []byte{0x60, req.Data[1], req.Data[2], sub, 0, 0, 0, 0}, 8)
	f.queue.Push(resp)
	return nil
}
