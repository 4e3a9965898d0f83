// Package mirror holds the in-memory shadow of every discovered DCS
// Controller's register set: the statically shaped tree of sub-masters
// and chips the poll supervisor keeps in sync with hardware, and the
// writer-tag bookkeeping that lets the external bridge tell its own
// echoes apart from changes it must still forward to the device.
package mirror

// AttributeKind identifies which leaf an AttributePath addresses.
type AttributeKind int

const (
	AttrConnectedBitmap AttributeKind = iota
	AttrMonitoring
	AttrStatus
	AttrRegister
	AttrAdcChannel
	AttrAdcTrim
)

// RegisterName indexes one of a chip's 13 byte-wide registers.
// register_index(name)  is just the ordinal below.
type RegisterName uint8

const (
	Register0 RegisterName = iota
	Register1
	Register2
	Register3
	Register4
	Register5
	Register6
	Register7
	Register8
	Register9
	Register10
	Register11
	Register12
	RegisterCount
)

// AttributePath names a single mirror leaf. Construct one with the
// functions below rather than populating the struct by hand — there is
// no string-keyed lookup here, unlike the reflective attribute access
// the REDESIGN FLAGS call out.
type AttributePath struct {
	Kind       AttributeKind
	SubMaster  uint8
	Chip       uint8
	Register   RegisterName
	AdcChannel uint8
}

func ConnectedBitmapPath(subMaster uint8) AttributePath {
	return AttributePath{Kind: AttrConnectedBitmap, SubMaster: subMaster}
}

func MonitoringPath(subMaster, chip uint8) AttributePath {
	return AttributePath{Kind: AttrMonitoring, SubMaster: subMaster, Chip: chip}
}

func StatusPath(subMaster, chip uint8) AttributePath {
	return AttributePath{Kind: AttrStatus, SubMaster: subMaster, Chip: chip}
}

func RegisterPath(subMaster, chip uint8, name RegisterName) AttributePath {
	return AttributePath{Kind: AttrRegister, SubMaster: subMaster, Chip: chip, Register: name}
}

func AdcChannelPath(subMaster, chip, channel uint8) AttributePath {
	return AttributePath{Kind: AttrAdcChannel, SubMaster: subMaster, Chip: chip, AdcChannel: channel}
}

func AdcTrimPath() AttributePath {
	return AttributePath{Kind: AttrAdcTrim}
}

// chipBase returns the object dictionary index a chip's leaves share.
func chipBase(subMaster, chip uint8) uint16 {
	return 0x2200 | uint16(subMaster)<<4 | uint16(chip)
}

// Address returns the (index, subindex) this attribute maps to on the
// wire.
func (a AttributePath) Address() (index uint16, subindex uint8) {
	switch a.Kind {
	case AttrConnectedBitmap:
		return 0x2000, 1 + a.SubMaster
	case AttrMonitoring:
		return chipBase(a.SubMaster, a.Chip), 0x01
	case AttrStatus:
		return chipBase(a.SubMaster, a.Chip), 0x02
	case AttrRegister:
		return chipBase(a.SubMaster, a.Chip), 0x10 | uint8(a.Register)
	case AttrAdcChannel:
		return chipBase(a.SubMaster, a.Chip), 0x20 | a.AdcChannel
	case AttrAdcTrim:
		return 0x2001, 0
	default:
		return 0, 0
	}
}
