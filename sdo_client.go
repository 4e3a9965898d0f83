package canopen

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Expedited SDO command specifiers.
const (
	ccsDownloadInitiate byte = 0x20
	ccsUploadInitiate   byte = 0x40
	scsDownloadInitiate byte = 0x60
	scsAbort            byte = 0x80
)

// uploadResponseSpecifiers are the only command bytes an upload
// response may legally carry: abort, or expedited-with-size-indicated
// for 4, 3, 2 or 1 valid data bytes.
var uploadResponseSpecifiers = map[byte]bool{
	scsAbort: true,
	0x43:     true,
	0x47:     true,
	0x4B:     true,
	0x4F:     true,
}

// requestSendTimeout bounds how long Send itself is allowed to take
// before a request is abandoned.
const requestSendTimeout = 100 * time.Millisecond

// SdoClient drives expedited-only SDO request/response exchanges over
// a single shared transport, addressing any node by id on each call.
// Only one request per node id may be outstanding at a time; concurrent
// callers targeting different node ids proceed independently.
type SdoClient struct {
	transport Transport

	nodeLocksMu sync.Mutex
	nodeLocks   map[uint8]*sync.Mutex

	ReadTotal            uint64
	ReadRequestTimeout   uint64
	ReadResponseTimeout  uint64
	ReadAbort            uint64
	WriteTotal           uint64
	WriteRequestTimeout  uint64
	WriteResponseTimeout uint64
	WriteAbort           uint64
}

// NewSdoClient returns a client driving requests over transport.
func NewSdoClient(transport Transport) *SdoClient {
	return &SdoClient{transport: transport, nodeLocks: make(map[uint8]*sync.Mutex)}
}

// Transport returns the transport this client drives requests over, so
// a caller that only holds the client (the supervisor poll loop) can
// still reach the shared receive queue, e.g. to drain TransportLost
// sentinels.
func (c *SdoClient) Transport() Transport {
	return c.transport
}

func (c *SdoClient) lockFor(nodeId uint8) *sync.Mutex {
	c.nodeLocksMu.Lock()
	defer c.nodeLocksMu.Unlock()
	m, ok := c.nodeLocks[nodeId]
	if !ok {
		m = &sync.Mutex{}
		c.nodeLocks[nodeId] = m
	}
	return m
}

// Read performs an expedited SDO upload of (index, subIndex) on
// nodeId and returns the decoded little-endian unsigned value.
func (c *SdoClient) Read(nodeId uint8, index uint16, subIndex uint8, timeout time.Duration) (uint32, error) {
	lock := c.lockFor(nodeId)
	lock.Lock()
	defer lock.Unlock()
	atomic.AddUint64(&c.ReadTotal, 1)

	req := NewFrame(SdoRequestCobId(nodeId), nil, 8)
	req.Data[0] = ccsUploadInitiate
	binary.LittleEndian.PutUint16(req.Data[1:3], index)
	req.Data[3] = subIndex

	log.Debugf("[SDO][TX][x%02X] upload x%04X:x%02X", nodeId, index, subIndex)
	if err := c.send(req); err != nil {
		atomic.AddUint64(&c.ReadRequestTimeout, 1)
		return 0, err
	}

	resp, err := c.awaitResponse(nodeId, index, subIndex, timeout, uploadResponseSpecifiers)
	if err != nil {
		if err == ErrResponseTimeout {
			atomic.AddUint64(&c.ReadResponseTimeout, 1)
		}
		return 0, err
	}
	if resp.Data[0] == scsAbort {
		atomic.AddUint64(&c.ReadAbort, 1)
		return 0, translateAbort(binary.LittleEndian.Uint32(resp.Data[4:8]))
	}

	n := 4 - int((resp.Data[0]>>2)&0x03)
	var value uint32
	for i := n - 1; i >= 0; i-- {
		value = value<<8 | uint32(resp.Data[4+i])
	}
	log.Debugf("[SDO][RX][x%02X] upload x%04X:x%02X = x%X", nodeId, index, subIndex, value)
	return value, nil
}

// Write performs an expedited SDO download of value to (index,
// subIndex) on nodeId, using the minimum number of bytes that hold it.
func (c *SdoClient) Write(nodeId uint8, index uint16, subIndex uint8, value uint32, timeout time.Duration) error {
	lock := c.lockFor(nodeId)
	lock.Lock()
	defer lock.Unlock()
	atomic.AddUint64(&c.WriteTotal, 1)

	dataSize := minBytesFor(value)
	req := NewFrame(SdoRequestCobId(nodeId), nil, 8)
	req.Data[0] = ccsDownloadInitiate | 0x02 | 0x01 | byte((4-dataSize)<<2)
	binary.LittleEndian.PutUint16(req.Data[1:3], index)
	req.Data[3] = subIndex
	var valueBytes [4]byte
	binary.LittleEndian.PutUint32(valueBytes[:], value)
	copy(req.Data[4:], valueBytes[:])

	log.Debugf("[SDO][TX][x%02X] download x%04X:x%02X = x%X", nodeId, index, subIndex, value)
	if err := c.send(req); err != nil {
		atomic.AddUint64(&c.WriteRequestTimeout, 1)
		return err
	}

	resp, err := c.awaitResponse(nodeId, index, subIndex, timeout, map[byte]bool{scsAbort: true, scsDownloadInitiate: true})
	if err != nil {
		if err == ErrResponseTimeout {
			atomic.AddUint64(&c.WriteResponseTimeout, 1)
		}
		return err
	}
	if resp.Data[0] == scsAbort {
		atomic.AddUint64(&c.WriteAbort, 1)
		return translateAbort(binary.LittleEndian.Uint32(resp.Data[4:8]))
	}
	return nil
}

// translateAbort turns a raw wire abort code into the sentinel callers
// should check for. A hardware-failure abort means the addressed chip
// itself is not responding behind its sub-master, distinct from every
// other abort reason, so it is surfaced as ErrChipNotConnected rather
// than a bare AbortError.
func translateAbort(code uint32) error {
	if code == AbortHardwareFailure {
		return fmt.Errorf("%w: %v", ErrChipNotConnected, SdoAbort(code))
	}
	return SdoAbort(code)
}

// minBytesFor returns the minimum number of bytes (1..4) needed to
// hold value.
func minBytesFor(value uint32) int {
	switch {
	case value <= 0xFF:
		return 1
	case value <= 0xFFFF:
		return 2
	case value <= 0xFFFFFF:
		return 3
	default:
		return 4
	}
}

// send hands req to the transport, bounded by requestSendTimeout.
// Most transports return immediately; this guards against an adapter
// whose Send blocks on a full internal buffer.
func (c *SdoClient) send(req Frame) error {
	done := make(chan error, 1)
	go func() { done <- c.transport.Send(req) }()
	select {
	case err := <-done:
		return err
	case <-time.After(requestSendTimeout):
		return ErrRequestTimeout
	}
}

// awaitResponse polls the shared receive queue for a frame matching
// cobId/index/subIndex with an allowed command specifier, removing it
// from the queue once matched.
func (c *SdoClient) awaitResponse(nodeId uint8, index uint16, subIndex uint8, timeout time.Duration, allowed map[byte]bool) (Frame, error) {
	if timeout <= 0 {
		return Frame{}, ErrResponseTimeout
	}
	respCobId := SdoResponseCobId(nodeId)
	deadline := time.Now().Add(timeout)
	const pollInterval = 2 * time.Millisecond

	for {
		resp, ok := c.transport.Queue().TakeMatching(func(f Frame) bool {
			if f.CobId != respCobId || f.DLC != 8 {
				return false
			}
			if !allowed[f.Data[0]] {
				return false
			}
			respIndex := binary.LittleEndian.Uint16(f.Data[1:3])
			return respIndex == index && f.Data[3] == subIndex
		})
		if ok {
			return resp, nil
		}
		if time.Now().After(deadline) {
			return Frame{}, ErrResponseTimeout
		}
		time.Sleep(pollInterval)
	}
}
