package canopen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// recvTimeout bounds each read on the TCP link so the receive loop can
// notice a stop request without blocking forever.
const recvTimeout = 200 * time.Millisecond

// sendBufferSize is the depth of the internal send buffer Send enqueues
// into. Networked's Send never blocks on the wire.
const sendBufferSize = 256

// wireFrame is the on-the-wire layout for a Networked-transport frame:
// a 4-byte big-endian length prefix followed by a fixed-size encoding
// of the fields below.
type wireFrame struct {
	CobId uint16
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func serializeWireFrame(f Frame) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, wireFrame{CobId: f.CobId, Flags: f.Flags, DLC: f.DLC, Data: f.Data})
	body := buf.Bytes()
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}

func deserializeWireFrame(body []byte) (Frame, error) {
	var w wireFrame
	if err := binary.Read(bytes.NewReader(body), binary.BigEndian, &w); err != nil {
		return Frame{}, err
	}
	return Frame{CobId: w.CobId, Flags: w.Flags, DLC: w.DLC, Data: w.Data, Timestamp: time.Now()}, nil
}

// NetworkedTransport reaches a CAN-to-Ethernet bridge over TCP,
// speaking a length-prefixed frame encoding. Unlike the Direct family
// it has no kernel driver underneath it, so the receive and send loops
// are owned entirely by this type. Send enqueues into an internal
// buffer and returns; a dedicated goroutine drains it onto the wire.
type NetworkedTransport struct {
	addr    string
	bitrate int

	mu    sync.Mutex
	conn  net.Conn
	state State
	queue *RxQueue

	sendCh   chan Frame
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewNetworkedTransport prepares a transport for addr (host:port) at
// bitrate. No I/O happens until Open is called.
func NewNetworkedTransport(addr string, bitrate int) *NetworkedTransport {
	return &NetworkedTransport{
		addr:    addr,
		bitrate: bitrate,
		state:   StateUninitialized,
		queue:   NewRxQueue(),
	}
}

// Open validates the bitrate, dials the bridge and starts the
// background receive and send goroutines.
func (t *NetworkedTransport) Open() error {
	if !ValidBaudrate(KindNetworked, t.bitrate) {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return fmt.Errorf("%w: %d bit/s not supported on networked adapters", ErrTransportOpen, t.bitrate)
	}
	t.mu.Lock()
	t.state = StateConnecting
	t.mu.Unlock()

	conn, err := net.Dial("tcp", t.addr)
	if err != nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTransportOpen, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	t.mu.Lock()
	t.conn = conn
	t.state = StateConnected
	t.stopChan = make(chan struct{})
	t.sendCh = make(chan Frame, sendBufferSize)
	t.stopOnce = sync.Once{}
	t.mu.Unlock()

	t.wg.Add(2)
	go t.receiveLoop()
	go t.sendLoop()
	return nil
}

func (t *NetworkedTransport) receiveLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}
		f, err := t.recvOne()
		if err == nil {
			log.Debugf("[NETWORKED][RX][x%03X] % X", f.CobId, f.Data[:f.DLC])
			t.queue.Push(f)
			continue
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		}
		log.Errorf("[NETWORKED][%s] receive loop closed: %v", t.addr, err)
		t.fail()
		return
	}
}

func (t *NetworkedTransport) sendLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopChan:
			return
		case f := <-t.sendCh:
			log.Debugf("[NETWORKED][TX][x%03X] % X", f.CobId, f.Data[:f.DLC])
			if _, err := t.conn.Write(serializeWireFrame(f)); err != nil {
				log.Errorf("[NETWORKED][%s] send loop closed: %v", t.addr, err)
				t.fail()
				return
			}
		}
	}
}

func (t *NetworkedTransport) recvOne() (Frame, error) {
	t.conn.SetReadDeadline(time.Now().Add(recvTimeout))
	header := make([]byte, 4)
	if _, err := t.conn.Read(header); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(header)
	body := make([]byte, length)
	t.conn.SetReadDeadline(time.Now().Add(recvTimeout))
	if _, err := t.conn.Read(body); err != nil {
		return Frame{}, err
	}
	return deserializeWireFrame(body)
}

// fail marks the transport disconnected, publishes a synthetic
// TransportLost sentinel and stops the sibling goroutine. Safe to call
// from either background goroutine.
func (t *NetworkedTransport) fail() {
	t.mu.Lock()
	already := t.state == StateDisconnected
	t.state = StateDisconnected
	t.mu.Unlock()
	if already {
		return
	}
	t.queue.Push(Frame{Flags: FlagTransportLost})
	t.stopOnce.Do(func() { close(t.stopChan) })
}

// Send enqueues a frame onto the internal send buffer and returns
// without waiting for the wire write. Returns ErrTransportSend if the
// buffer is full and ErrTransportLost once the link has failed.
func (t *NetworkedTransport) Send(f Frame) error {
	t.mu.Lock()
	state := t.state
	ch := t.sendCh
	t.mu.Unlock()
	if state != StateConnected {
		return ErrTransportLost
	}
	select {
	case ch <- f:
		return nil
	default:
		return ErrTransportSend
	}
}

// Queue returns the shared receive queue.
func (t *NetworkedTransport) Queue() *RxQueue {
	return t.queue
}

// State reports the current connection state.
func (t *NetworkedTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close stops the receive and send loops and closes the TCP
// connection. Idempotent.
func (t *NetworkedTransport) Close() error {
	t.mu.Lock()
	if t.state == StateDisconnected || t.state == StateUninitialized {
		t.mu.Unlock()
		return nil
	}
	t.state = StateDisconnecting
	conn := t.conn
	t.mu.Unlock()

	t.stopOnce.Do(func() { close(t.stopChan) })
	t.wg.Wait()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	t.mu.Lock()
	t.state = StateDisconnected
	t.mu.Unlock()
	return err
}
