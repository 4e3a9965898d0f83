package supervisor

import (
	canopen "github.com/cerndcs/dcsopc-gateway"
	"github.com/cerndcs/dcsopc-gateway/mirror"
)

// BuildDeviceSchema returns the local object dictionary describing
// every address a controller exposes: the per-sub-master
// connected_bitmap and controller-level adc_trim are read-only/
// read-write respectively, and each chip's monitoring/status/ADC
// channels are read-only while its 13 registers are read-write.
// ExternalBridge consults this before forwarding a write to hardware,
// the same way an Entry/SubEntry's access rules gate a local SDO
// server's download handler.
func BuildDeviceSchema() *canopen.ObjectDictionary {
	od := canopen.NewObjectDictionary()

	bitmaps := canopen.NewEntry(0x2000, "connected_bitmap")
	// Subindex 0 of an array object is the CANopen "highest sub-index
	// supported" slot: it exists in the address layout but backs no
	// mirror leaf, so it is Reserved rather than given a bogus Access.
	bitmaps.Subs[0] = &canopen.SubEntry{Name: "highest_sub_index_supported", DataType: canopen.Unsigned8, Reserved: true}
	for subMaster := uint8(0); subMaster < 4; subMaster++ {
		bitmaps.Subs[1+subMaster] = &canopen.SubEntry{
			Name:     "sub_master_bitmap",
			DataType: canopen.Unsigned16,
			Access:   canopen.AccessReadOnly,
		}
	}
	od.AddEntry(bitmaps)

	adcTrim := canopen.NewEntry(0x2001, "adc_trim")
	adcTrim.Subs[0] = &canopen.SubEntry{Name: "adc_trim", DataType: canopen.Unsigned8, Access: canopen.AccessReadWrite}
	od.AddEntry(adcTrim)

	for subMaster := uint8(0); subMaster < 4; subMaster++ {
		for chip := uint8(0); chip < 16; chip++ {
			index := 0x2200 | uint16(subMaster)<<4 | uint16(chip)
			entry := canopen.NewEntry(index, "chip")
			entry.Subs[0x01] = &canopen.SubEntry{Name: "monitoring", DataType: canopen.Unsigned32, Access: canopen.AccessReadOnly}
			entry.Subs[0x02] = &canopen.SubEntry{Name: "status", DataType: canopen.Boolean, Access: canopen.AccessReadOnly}
			for reg := uint8(0); reg < uint8(mirror.RegisterCount); reg++ {
				entry.Subs[0x10|reg] = &canopen.SubEntry{Name: "register", DataType: canopen.Unsigned8, Access: canopen.AccessReadWrite}
			}
			for ch := uint8(0); ch < 8; ch++ {
				entry.Subs[0x20|ch] = &canopen.SubEntry{Name: "adc_channel", DataType: canopen.Unsigned16, Access: canopen.AccessReadOnly}
			}
			od.AddEntry(entry)
		}
	}
	return od
}
