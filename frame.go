// Package canopen implements the message-level engine that bridges a
// serial multi-drop bus of DCS Controller microcontrollers to a
// higher-level supervisory protocol: the object dictionary, the
// expedited-only SDO request/response state machine, the bus I/O
// abstraction over the Direct and Networked transport families, and
// the node scanner.
package canopen

import "time"

// Reserved broadcast COB-IDs.
const (
	CobIdNMT  uint16 = 0x000
	CobIdSync uint16 = 0x080

	// SDO request/response base identifiers. The client-to-server COB-ID
	// for node n is SdoRxBase+n, the server-to-client one is SdoTxBase+n.
	SdoRxBase uint16 = 0x600
	SdoTxBase uint16 = 0x580
)

const (
	MinNodeId = 1
	MaxNodeId = 127
)

// Frame flag bits.
const (
	FlagErrorFrame uint8 = 1 << iota
	FlagRemoteRequest
	FlagExtendedId
	FlagTimestamped
	// FlagTransportLost marks a synthetic sentinel frame a transport
	// pushes onto its RxQueue when its background thread hits a fatal
	// adapter error.
	FlagTransportLost
)

// Frame is a single bus frame: an 11-bit COB-ID, 0-8 bytes of payload,
// the declared length of that payload, a flag bitset and the local
// arrival time. Data is a fixed 8-byte array; only its first DLC bytes
// are payload.
type Frame struct {
	CobId     uint16
	Data      [8]byte
	DLC       uint8
	Flags     uint8
	Timestamp time.Time
}

// NewFrame builds a data frame with DLC-many valid bytes in data
// (data is copied, and truncated/zero-padded to 8 bytes).
func NewFrame(cobId uint16, data []byte, dlc uint8) Frame {
	var f Frame
	f.CobId = cobId
	f.DLC = dlc
	copy(f.Data[:], data)
	return f
}

// IsError reports whether this frame represents an adapter-reported
// error frame. Error frames are never matched as SDO responses.
func (f Frame) IsError() bool {
	return f.Flags&FlagErrorFrame != 0
}

// IsTransportLost reports whether this is the synthetic sentinel a
// transport publishes after its background thread fails fatally.
func (f Frame) IsTransportLost() bool {
	return f.Flags&FlagTransportLost != 0
}

// SdoRequestCobId returns the client-to-server COB-ID used for SDO
// traffic addressed to nodeId.
func SdoRequestCobId(nodeId uint8) uint16 {
	return SdoRxBase + uint16(nodeId)
}

// SdoResponseCobId returns the server-to-client COB-ID a given node
// replies on.
func SdoResponseCobId(nodeId uint8) uint16 {
	return SdoTxBase + uint16(nodeId)
}
