package canopen

import (
	"encoding/binary"
	"sync"
)

// ObjectDictionary holds every Entry known to a single node, keyed by
// index. Reads and writes go through Get/Set rather than touching
// Entries directly so that concurrent SDO traffic and local bridge
// writes never race.
type ObjectDictionary struct {
	mu      sync.RWMutex
	entries map[uint16]*Entry
}

// NewObjectDictionary returns an empty dictionary.
func NewObjectDictionary() *ObjectDictionary {
	return &ObjectDictionary{entries: make(map[uint16]*Entry)}
}

// AddEntry registers entry, replacing any existing entry at the same
// index.
func (od *ObjectDictionary) AddEntry(entry *Entry) {
	od.mu.Lock()
	defer od.mu.Unlock()
	od.entries[entry.Index] = entry
}

// Find returns the entry at index, or nil if none is registered.
func (od *ObjectDictionary) Find(index uint16) *Entry {
	od.mu.RLock()
	defer od.mu.RUnlock()
	return od.entries[index]
}

// Get returns the raw bytes currently stored at (index, subIndex),
// enforcing read access: a WO sub-entry or a Reserved slot fails with
// ErrAccessDenied rather than returning a value.
func (od *ObjectDictionary) Get(index uint16, subIndex uint8) ([]byte, error) {
	od.mu.RLock()
	defer od.mu.RUnlock()
	entry, ok := od.entries[index]
	if !ok {
		return nil, ErrUnknownIndex
	}
	sub, ok := entry.Subs[subIndex]
	if !ok {
		return nil, ErrUnknownSubindex
	}
	if sub.Reserved || !sub.Access.Readable() {
		return nil, ErrAccessDenied
	}
	out := make([]byte, len(sub.Data))
	copy(out, sub.Data)
	return out, nil
}

// Set overwrites the raw bytes stored at (index, subIndex), enforcing
// write access and a matching length for fixed-size types.
func (od *ObjectDictionary) Set(index uint16, subIndex uint8, data []byte) error {
	od.mu.Lock()
	defer od.mu.Unlock()
	entry, ok := od.entries[index]
	if !ok {
		return ErrUnknownIndex
	}
	sub, ok := entry.Subs[subIndex]
	if !ok {
		return ErrUnknownSubindex
	}
	if sub.Reserved || !sub.Access.Writable() {
		return ErrAccessDenied
	}
	if size := sub.DataType.Size(); size != 0 && len(data) != size {
		return ErrTypeMismatch
	}
	sub.Data = append([]byte(nil), data...)
	return nil
}

// GetUint32 reads a little-endian Unsigned32/Integer32 value.
func (od *ObjectDictionary) GetUint32(index uint16, subIndex uint8) (uint32, error) {
	data, err := od.Get(index, subIndex)
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, ErrTypeMismatch
	}
	return binary.LittleEndian.Uint32(data), nil
}

// SetUint32 writes a little-endian Unsigned32/Integer32 value.
func (od *ObjectDictionary) SetUint32(index uint16, subIndex uint8, value uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, value)
	return od.Set(index, subIndex, b)
}

// GetUint16 reads a little-endian Unsigned16/Integer16 value.
func (od *ObjectDictionary) GetUint16(index uint16, subIndex uint8) (uint16, error) {
	data, err := od.Get(index, subIndex)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, ErrTypeMismatch
	}
	return binary.LittleEndian.Uint16(data), nil
}

// GetUint8 reads a single-byte value.
func (od *ObjectDictionary) GetUint8(index uint16, subIndex uint8) (uint8, error) {
	data, err := od.Get(index, subIndex)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, ErrTypeMismatch
	}
	return data[0], nil
}
