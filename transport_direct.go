package canopen

import (
	"fmt"
	"sync"

	"github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

// DirectTransport binds the bus to a locally attached PCI/USB adapter
// through SocketCAN. Frames arrive on brutella/can's own background
// goroutine and are pushed straight into the shared RxQueue; Send
// publishes synchronously. State reports Uninitialized until Open,
// Connecting while Open acquires the handle, Connected, Disconnecting
// while Close runs, and Disconnected afterwards; it is not collapsed to
// just Disconnected and Connected.
type DirectTransport struct {
	iface   string
	bitrate int

	mu    sync.Mutex
	bus   *can.Bus
	state State
	queue *RxQueue
}

// NewDirectTransport prepares a transport for interfaceName (e.g.
// "can0") at bitrate. No I/O happens until Open is called.
func NewDirectTransport(interfaceName string, bitrate int) *DirectTransport {
	return &DirectTransport{
		iface:   interfaceName,
		bitrate: bitrate,
		state:   StateUninitialized,
		queue:   NewRxQueue(),
	}
}

// Open validates the bitrate, acquires the SocketCAN handle and starts
// the background receive goroutine.
func (t *DirectTransport) Open() error {
	if !ValidBaudrate(KindDirect, t.bitrate) {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return fmt.Errorf("%w: %d bit/s not supported on direct adapters", ErrTransportOpen, t.bitrate)
	}
	t.mu.Lock()
	t.state = StateConnecting
	t.mu.Unlock()

	bus, err := can.NewBusForInterfaceWithName(t.iface)
	if err != nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTransportOpen, err)
	}

	t.mu.Lock()
	t.bus = bus
	t.state = StateConnected
	t.mu.Unlock()

	bus.Subscribe(t)
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			log.Errorf("[DIRECT][%s] adapter connection ended: %v", t.iface, err)
			t.fail()
		}
	}()
	return nil
}

// fail marks the transport disconnected and publishes a synthetic
// TransportLost sentinel so SDO waiters and the supervisor notice the
// background thread gave up.
func (t *DirectTransport) fail() {
	t.mu.Lock()
	already := t.state == StateDisconnected
	t.state = StateDisconnected
	t.mu.Unlock()
	if already {
		return
	}
	t.queue.Push(Frame{Flags: FlagTransportLost})
}

// Handle implements brutella/can's Handler interface. It is invoked
// from the adapter's own background goroutine and never blocks:
// RxQueue.Push is O(1).
func (t *DirectTransport) Handle(frame can.Frame) {
	f := Frame{
		CobId: uint16(frame.ID),
		DLC:   frame.Length,
		Data:  frame.Data,
	}
	if frame.Flags != 0 {
		f.Flags |= FlagErrorFrame
	}
	log.Debugf("[DIRECT][RX][x%03X] % X", f.CobId, f.Data[:f.DLC])
	t.queue.Push(f)
}

// Send publishes a frame onto the adapter.
func (t *DirectTransport) Send(f Frame) error {
	t.mu.Lock()
	bus := t.bus
	t.mu.Unlock()
	if bus == nil {
		return ErrTransportSend
	}
	log.Debugf("[DIRECT][TX][x%03X] % X", f.CobId, f.Data[:f.DLC])
	out := can.Frame{ID: uint32(f.CobId), Length: f.DLC, Data: f.Data}
	if err := bus.Publish(out); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportSend, err)
	}
	return nil
}

// Queue returns the shared receive queue.
func (t *DirectTransport) Queue() *RxQueue {
	return t.queue
}

// State reports the current connection state.
func (t *DirectTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close disconnects from the adapter. Idempotent.
func (t *DirectTransport) Close() error {
	t.mu.Lock()
	bus := t.bus
	if t.state == StateDisconnected || t.state == StateUninitialized {
		t.mu.Unlock()
		return nil
	}
	t.state = StateDisconnecting
	t.mu.Unlock()

	var err error
	if bus != nil {
		err = bus.Disconnect()
	}

	t.mu.Lock()
	t.state = StateDisconnected
	t.mu.Unlock()
	return err
}
