package canopen

// DataType is the CANopen primitive type tag used in EDS DataType keys
// and on the wire for expedited SDO transfers.
type DataType uint8

const (
	Boolean       DataType = 0x01
	Integer8      DataType = 0x02
	Integer16     DataType = 0x03
	Integer32     DataType = 0x04
	Unsigned8     DataType = 0x05
	Unsigned16    DataType = 0x06
	Unsigned32    DataType = 0x07
	Real32        DataType = 0x08
	VisibleString DataType = 0x09
	OctetString   DataType = 0x0A
	Domain        DataType = 0x0F
	Real64        DataType = 0x11
	Integer64     DataType = 0x15
	Unsigned64    DataType = 0x1B
)

// Size returns the number of wire bytes a fixed-size DataType occupies,
// or 0 for variable-length types (strings, domain).
func (d DataType) Size() int {
	switch d {
	case Boolean, Integer8, Unsigned8:
		return 1
	case Integer16, Unsigned16:
		return 2
	case Integer32, Unsigned32, Real32:
		return 4
	case Integer64, Unsigned64, Real64:
		return 8
	default:
		return 0
	}
}

// Access is the SDO accessibility of an object dictionary entry,
// derived from EDS AccessType. AccessConst is distinct from
// AccessReadOnly: both reject writes, but a Const sub-entry's value is
// fixed at load time and never latched by a Server poll either.
type Access uint8

const (
	AccessReadOnly Access = iota
	AccessWriteOnly
	AccessReadWrite
	AccessConst
)

func (a Access) Readable() bool {
	return a == AccessReadOnly || a == AccessReadWrite || a == AccessConst
}
func (a Access) Writable() bool { return a == AccessWriteOnly || a == AccessReadWrite }

// accessFromEDS maps an EDS AccessType string ("ro", "wo", "rw",
// "const") to an Access value.
func accessFromEDS(accessType string) Access {
	switch accessType {
	case "wo":
		return AccessWriteOnly
	case "const":
		return AccessConst
	case "ro":
		return AccessReadOnly
	default:
		return AccessReadWrite
	}
}

// SubEntry is a single (index, subindex) object: its declared type,
// access rights and current raw value, stored little-endian exactly as
// it would appear in an expedited SDO payload. Reserved marks a slot
// that exists in the address layout but is not backed by anything —
// both Get and Set refuse it regardless of Access.
type SubEntry struct {
	Name     string
	DataType DataType
	Access   Access
	Reserved bool
	Data     []byte
}

// Entry is everything registered under one 16-bit index: a bare
// variable (len(Subs)==1, subindex 0 only) or a record/array with one
// SubEntry per subindex. this object dictionary has no nested
// Domain/segmented members, so Entry only needs this flat shape.
type Entry struct {
	Index uint16
	Name  string
	Subs  map[uint8]*SubEntry
}

// NewEntry returns an empty Entry ready to receive subentries.
func NewEntry(index uint16, name string) *Entry {
	return &Entry{Index: index, Name: name, Subs: make(map[uint8]*SubEntry)}
}

// Sub returns the subentry at subIndex, or ErrUnknownSubindex.
func (e *Entry) Sub(subIndex uint8) (*SubEntry, error) {
	s, ok := e.Subs[subIndex]
	if !ok {
		return nil, ErrUnknownSubindex
	}
	return s, nil
}
