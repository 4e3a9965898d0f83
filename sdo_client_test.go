package canopen

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeTransport is an in-memory Transport used to drive the SDO
// client engine in tests without a real bus adapter. respond is
// invoked synchronously from Send and may push a reply onto queue.
type fakeTransport struct {
	queue   *RxQueue
	respond func(req Frame, queue *RxQueue)
	sent    []Frame
}

func newFakeTransport(respond func(req Frame, queue *RxQueue)) *fakeTransport {
	return &fakeTransport{queue: NewRxQueue(), respond: respond}
}

func (f *fakeTransport) Send(req Frame) error {
	f.sent = append(f.sent, req)
	if f.respond != nil {
		f.respond(req, f.queue)
	}
	return nil
}

func (f *fakeTransport) Open() error     { return nil }
func (f *fakeTransport) Queue() *RxQueue { return f.queue }
func (f *fakeTransport) State() State    { return StateConnected }
func (f *fakeTransport) Close() error    { return nil }

func TestSdoClientReadExpedited(t *testing.T) {
	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		resp := NewFrame(SdoResponseCobId(5), nil, 8)
		resp.Data[0] = 0x4B // expedited, size indicated, 2 valid bytes
		copy(resp.Data[1:3], req.Data[1:3])
		resp.Data[3] = req.Data[3]
		binary.LittleEndian.PutUint16(resp.Data[4:6], 0x1234)
		q.Push(resp)
	})

	client := NewSdoClient(transport)
	value, err := client.Read(5, 0x2000, 0, 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x1234), value)
	assert.Equal(t, uint64(1), client.ReadTotal)
}

func TestSdoClientReadExpeditedTwoByte(t *testing.T) {
	// request 0x40,0x00,0x10,0x00 -> response 0x4B,0x00,0x10,0x00,0x92,0x01
	// decodes to 0x0192.
	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		assert.Equal(t, byte(0x40), req.Data[0])
		resp := NewFrame(SdoResponseCobId(10), []byte{0x4B, 0x00, 0x10, 0x00, 0x92, 0x01, 0, 0}, 8)
		q.Push(resp)
	})
	client := NewSdoClient(transport)
	value, err := client.Read(10, 0x1000, 0, 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x0192), value)
}

func TestSdoClientReadAbortDecodesCode(t *testing.T) {
	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		resp := NewFrame(SdoResponseCobId(1), []byte{0x80, 0x00, 0x20, 0x00, 0x00, 0x00, 0x02, 0x06}, 8)
		q.Push(resp)
	})
	client := NewSdoClient(transport)
	_, err := client.Read(1, 0x2000, 0, 50*time.Millisecond)
	var abortErr *AbortError
	assert.ErrorAs(t, err, &abortErr)
	assert.Equal(t, uint32(0x06020000), abortErr.Code)
}

func TestSdoClientReadHardwareFailureSurfacesChipNotConnected(t *testing.T) {
	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		resp := NewFrame(SdoResponseCobId(1), []byte{0x80, 0x00, 0x22, 0x01, 0x00, 0x00, 0x06, 0x06}, 8)
		q.Push(resp)
	})
	client := NewSdoClient(transport)
	_, err := client.Read(1, 0x2200, 0x01, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrChipNotConnected)
}

func TestSdoClientWriteHardwareFailureSurfacesChipNotConnected(t *testing.T) {
	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		resp := NewFrame(SdoResponseCobId(1), []byte{0x80, 0x10, 0x22, 0x10, 0x00, 0x00, 0x06, 0x06}, 8)
		q.Push(resp)
	})
	client := NewSdoClient(transport)
	err := client.Write(1, 0x2210, 0x10, 1, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrChipNotConnected)
}

func TestSdoClientWriteExpedited(t *testing.T) {
	var captured Frame
	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		captured = req
		resp := NewFrame(SdoResponseCobId(5), nil, 8)
		resp.Data[0] = scsDownloadInitiate
		copy(resp.Data[1:3], req.Data[1:3])
		resp.Data[3] = req.Data[3]
		q.Push(resp)
	})

	client := NewSdoClient(transport)
	err := client.Write(5, 0x2001, 0, 0x0102, 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, uint16(0x2001), binary.LittleEndian.Uint16(captured.Data[1:3]))
	assert.Equal(t, uint64(1), client.WriteTotal)
}

func TestSdoClientWriteExpeditedOneByte(t *testing.T) {
	// write(42, 0x2200, 0x12, 0x55) produces request
	// data=[0x2F,0x00,0x22,0x12,0x55,0,0,0].
	var captured Frame
	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		captured = req
		resp := NewFrame(SdoResponseCobId(42), []byte{0x60, 0x00, 0x22, 0x12, 0, 0, 0, 0}, 8)
		q.Push(resp)
	})
	client := NewSdoClient(transport)
	err := client.Write(42, 0x2200, 0x12, 0x55, 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, Frame{CobId: SdoRequestCobId(42), DLC: 8, Data: [8]byte{0x2F, 0x00, 0x22, 0x12, 0x55, 0, 0, 0}}.Data, captured.Data)
}

func TestSdoClientAbort(t *testing.T) {
	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		resp := NewFrame(SdoResponseCobId(5), nil, 8)
		resp.Data[0] = scsAbort
		copy(resp.Data[1:3], req.Data[1:3])
		resp.Data[3] = req.Data[3]
		binary.LittleEndian.PutUint32(resp.Data[4:8], AbortObjectDoesNotExist)
		q.Push(resp)
	})

	client := NewSdoClient(transport)
	_, err := client.Read(5, 0x9999, 0, 50*time.Millisecond)
	assert.Error(t, err)
	var abortErr *AbortError
	assert.ErrorAs(t, err, &abortErr)
	assert.Equal(t, AbortObjectDoesNotExist, abortErr.Code)
	assert.Equal(t, uint64(1), client.ReadAbort)
}

func TestSdoClientResponseTimeout(t *testing.T) {
	transport := newFakeTransport(nil)
	client := NewSdoClient(transport)
	_, err := client.Read(5, 0x2000, 0, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrResponseTimeout)
	assert.Equal(t, uint64(1), client.ReadResponseTimeout)
}

func TestSdoClientZeroTimeoutNeverWaits(t *testing.T) {
	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		// Even an immediate response must not be observed when timeout==0.
		resp := NewFrame(SdoResponseCobId(5), []byte{0x4B, 0x00, 0x20, 0x00, 1, 0, 0, 0}, 8)
		q.Push(resp)
	})
	client := NewSdoClient(transport)
	start := time.Now()
	_, err := client.Read(5, 0x2000, 0, 0)
	assert.ErrorIs(t, err, ErrResponseTimeout)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestSdoClientSerializesPerNode(t *testing.T) {
	release := make(chan struct{})
	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		<-release
		resp := NewFrame(SdoResponseCobId(7), []byte{0x4B, req.Data[1], req.Data[2], req.Data[3], 1, 0, 0, 0}, 8)
		q.Push(resp)
	})
	client := NewSdoClient(transport)

	done := make(chan struct{}, 2)
	go func() {
		client.Read(7, 0x2000, 0, time.Second)
		done <- struct{}{}
	}()
	go func() {
		client.Read(7, 0x2001, 0, time.Second)
		done <- struct{}{}
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	<-done
	<-done
}
