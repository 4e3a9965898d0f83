package canopen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestOD() *ObjectDictionary {
	od := NewObjectDictionary()
	entry := NewEntry(0x2000, "status")
	entry.Subs[0] = &SubEntry{Name: "value", DataType: Unsigned16, Access: AccessReadWrite, Data: []byte{0x10, 0x00}}
	od.AddEntry(entry)

	ro := NewEntry(0x2001, "readonly")
	ro.Subs[0] = &SubEntry{Name: "value", DataType: Unsigned8, Access: AccessReadOnly, Data: []byte{0x01}}
	od.AddEntry(ro)

	wo := NewEntry(0x2002, "writeonly")
	wo.Subs[0] = &SubEntry{Name: "value", DataType: Unsigned8, Access: AccessWriteOnly, Data: []byte{0x00}}
	od.AddEntry(wo)

	reserved := NewEntry(0x2003, "reserved")
	reserved.Subs[0] = &SubEntry{Name: "highest_sub_index_supported", DataType: Unsigned8, Access: AccessReadWrite, Reserved: true, Data: []byte{0x00}}
	od.AddEntry(reserved)
	return od
}

func TestObjectDictionaryGetSet(t *testing.T) {
	od := newTestOD()

	data, err := od.Get(0x2000, 0)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x00}, data)

	err = od.Set(0x2000, 0, []byte{0xAB, 0xCD})
	assert.NoError(t, err)
	data, _ = od.Get(0x2000, 0)
	assert.Equal(t, []byte{0xAB, 0xCD}, data)
}

func TestObjectDictionaryUnknownIndex(t *testing.T) {
	od := newTestOD()
	_, err := od.Get(0x9999, 0)
	assert.ErrorIs(t, err, ErrUnknownIndex)
}

func TestObjectDictionaryUnknownSubindex(t *testing.T) {
	od := newTestOD()
	_, err := od.Get(0x2000, 5)
	assert.ErrorIs(t, err, ErrUnknownSubindex)
}

func TestObjectDictionaryAccessDenied(t *testing.T) {
	od := newTestOD()
	err := od.Set(0x2001, 0, []byte{0x02})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestObjectDictionaryGetRejectsWriteOnly(t *testing.T) {
	od := newTestOD()
	_, err := od.Get(0x2002, 0)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestObjectDictionaryReservedRejectsGetAndSet(t *testing.T) {
	od := newTestOD()
	_, err := od.Get(0x2003, 0)
	assert.ErrorIs(t, err, ErrAccessDenied)

	err = od.Set(0x2003, 0, []byte{0x01})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestAccessConstReadableNotWritable(t *testing.T) {
	assert.True(t, AccessConst.Readable())
	assert.False(t, AccessConst.Writable())
}

func TestObjectDictionaryTypeMismatch(t *testing.T) {
	od := newTestOD()
	err := od.Set(0x2000, 0, []byte{0x01})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestObjectDictionaryUint32RoundTrip(t *testing.T) {
	od := NewObjectDictionary()
	entry := NewEntry(0x2010, "counter")
	entry.Subs[0] = &SubEntry{Name: "value", DataType: Unsigned32, Access: AccessReadWrite, Data: make([]byte, 4)}
	od.AddEntry(entry)

	assert.NoError(t, od.SetUint32(0x2010, 0, 0xDEADBEEF))
	v, err := od.GetUint32(0x2010, 0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v)
}
