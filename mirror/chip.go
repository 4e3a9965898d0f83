package mirror

// ChipMirror holds the mirrored state of one downstream analog chip
// (a "PSPP" in the original hardware's own vocabulary). Every accessor
// here is unexported: callers go through SubMasterMirror/
// ControllerMirror, which hold the single per-controller mutex needed
// to keep a leaf's value and writer_tag coherent with each other.
type ChipMirror struct {
	statusValue bool
	statusTag   WriterTag

	registerValues [RegisterCount]uint8
	registerTags   [RegisterCount]WriterTag

	adcValues [8]uint16
	adcTags   [8]WriterTag

	monitoringValue MonitoringTriplet
	monitoringTag   WriterTag
}

func (c *ChipMirror) status() (bool, WriterTag) { return c.statusValue, c.statusTag }

func (c *ChipMirror) setStatus(value bool, tag WriterTag) bool {
	return latchBool(&c.statusValue, &c.statusTag, value, tag)
}

func (c *ChipMirror) register(name RegisterName) (uint8, WriterTag) {
	return c.registerValues[name], c.registerTags[name]
}

func (c *ChipMirror) setRegister(name RegisterName, value uint8, tag WriterTag) bool {
	return latchByte(&c.registerValues[name], &c.registerTags[name], value, tag)
}

func (c *ChipMirror) adcChannel(ch uint8) (uint16, WriterTag) {
	return c.adcValues[ch], c.adcTags[ch]
}

// setAdcChannel masks value to the 10-bit range ADC channels use
// before latching it.
func (c *ChipMirror) setAdcChannel(ch uint8, value uint16, tag WriterTag) bool {
	return latchWord(&c.adcValues[ch], &c.adcTags[ch], value&0x3FF, tag)
}

func (c *ChipMirror) monitoring() (MonitoringTriplet, WriterTag) {
	return c.monitoringValue, c.monitoringTag
}

func (c *ChipMirror) setMonitoring(value MonitoringTriplet, tag WriterTag) bool {
	return latchMonitoring(&c.monitoringValue, &c.monitoringTag, value, tag)
}
