package canopen

import "fmt"

// State is the connection lifecycle of a Transport.
type State int

const (
	StateUninitialized State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is the bus I/O abstraction shared by the Direct and
// Networked adapter families. A Transport owns exactly one RxQueue and
// is responsible for pushing every received frame into it from a
// background goroutine; callers never block a send on a receive.
type Transport interface {
	// Open connects to the device. Fails with ErrTransportOpen if the
	// handle cannot be acquired or bitrate is not in the closed set
	// this variant accepts.
	Open() error

	// Send transmits a single frame. Implementations must be safe for
	// concurrent use by multiple callers.
	Send(f Frame) error

	// Queue returns the receive queue this transport feeds. The same
	// queue instance is returned for the transport's lifetime.
	Queue() *RxQueue

	// State reports the current connection lifecycle state.
	State() State

	// Close releases the underlying adapter and stops the receive
	// goroutine. Close is idempotent.
	Close() error
}

// Kind identifies which adapter family a Transport belongs to.
type Kind int

const (
	// KindDirect covers PCI/USB-attached adapters reachable through a
	// local kernel driver (SocketCAN on Linux via brutella/can).
	KindDirect Kind = iota
	// KindNetworked covers adapters reachable only over TCP, addressed
	// by host:port, speaking a vendor-specific length-prefixed framing.
	KindNetworked
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindNetworked:
		return "networked"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// directBaudrates are the bitrates (bit/s) the Direct adapter family
// accepts. 800 kbit/s is excluded: the underlying SocketCAN controllers
// this gateway targets do not support it, an intentional simplification.
var directBaudrates = map[int]bool{
	10000:   true,
	20000:   true,
	50000:   true,
	62500:   true,
	100000:  true,
	125000:  true,
	250000:  true,
	500000:  true,
	1000000: true,
}

// networkedBaudrates are the bitrates the Networked adapter family
// accepts. The vendor link also offers 800 kbit/s, unlike Direct.
var networkedBaudrates = map[int]bool{
	10000:   true,
	20000:   true,
	50000:   true,
	62500:   true,
	100000:  true,
	125000:  true,
	250000:  true,
	500000:  true,
	800000:  true,
	1000000: true,
}

// ValidBaudrate reports whether bitrate is legal for the given
// transport kind.
func ValidBaudrate(kind Kind, bitrate int) bool {
	switch kind {
	case KindDirect:
		return directBaudrates[bitrate]
	case KindNetworked:
		return networkedBaudrates[bitrate]
	default:
		return false
	}
}
