package canopen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFrameTruncatesAndPads(t *testing.T) {
	f := NewFrame(0x123, []byte{1, 2, 3}, 3)
	assert.Equal(t, uint16(0x123), f.CobId)
	assert.Equal(t, uint8(3), f.DLC)
	assert.Equal(t, [8]byte{1, 2, 3, 0, 0, 0, 0, 0}, f.Data)

	long := NewFrame(0x124, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 8)
	assert.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, long.Data)
}

func TestFrameIsError(t *testing.T) {
	f := Frame{Flags: FlagErrorFrame}
	assert.True(t, f.IsError())
	f.Flags = FlagTimestamped
	assert.False(t, f.IsError())
}

func TestFrameIsTransportLost(t *testing.T) {
	f := Frame{Flags: FlagTransportLost}
	assert.True(t, f.IsTransportLost())
	assert.False(t, f.IsError())
}

func TestSdoCobIds(t *testing.T) {
	assert.Equal(t, uint16(0x605), SdoRequestCobId(5))
	assert.Equal(t, uint16(0x585), SdoResponseCobId(5))
}
