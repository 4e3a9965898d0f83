package canopen

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScannerFindsOnlyRespondingNodes(t *testing.T) {
	alive := map[uint8]bool{2: true, 9: true, 40: true}

	transport := newFakeTransport(func(req Frame, q *RxQueue) {
		nodeId := uint8(req.CobId - SdoRxBase)
		if !alive[nodeId] {
			return // simulate no response: client will time out
		}
		resp := NewFrame(SdoResponseCobId(nodeId), nil, 8)
		resp.Data[0] = 0x43
		copy(resp.Data[1:3], req.Data[1:3])
		resp.Data[3] = req.Data[3]
		binary.LittleEndian.PutUint32(resp.Data[4:8], 0)
		q.Push(resp)
	})

	scanner := NewScanner(NewSdoClient(transport), 3*time.Millisecond)
	found, err := scanner.Scan()
	assert.NoError(t, err)
	assert.Equal(t, []uint8{2, 9, 40}, found)
}

func TestScannerEmptyBus(t *testing.T) {
	transport := newFakeTransport(nil)
	scanner := NewScanner(NewSdoClient(transport), 1*time.Millisecond)
	_, err := scanner.Scan()
	assert.ErrorIs(t, err, ErrBusEmpty)
}
