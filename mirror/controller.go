package mirror

import "sync"

// ChangeCallback is invoked after a leaf's externally-visible value
// actually changes — never on a no-op External echo, and never on an
// unchanged Server re-read.
type ChangeCallback func(path AttributePath, tag WriterTag)

// ControllerMirror is the mirrored tree for one discovered DCS
// Controller: 4 sub-masters of up to 16 chips each, plus the
// controller-level ADC trim register. A single mutex guards every
// leaf in the tree, so a leaf's value and its writer_tag are always
// observed together.
type ControllerMirror struct {
	mu sync.Mutex

	NodeId uint8

	SubMasters [4]SubMasterMirror

	adcTrimValue uint8
	adcTrimTag   WriterTag

	onChange ChangeCallback
}

// NewControllerMirror builds an empty mirror tree for nodeId. Mirrors
// are created once a node has been scanned and live until shutdown.
func NewControllerMirror(nodeId uint8) *ControllerMirror {
	return &ControllerMirror{NodeId: nodeId}
}

// OnChange registers the callback fired after every leaf change. Must
// be called before the mirror is shared across goroutines.
func (c *ControllerMirror) OnChange(cb ChangeCallback) {
	c.onChange = cb
}

func (c *ControllerMirror) notify(path AttributePath, changed bool, tag WriterTag) {
	if changed && c.onChange != nil {
		c.onChange(path, tag)
	}
}

func (c *ControllerMirror) AdcTrim() (uint8, WriterTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adcTrimValue, c.adcTrimTag
}

func (c *ControllerMirror) SetAdcTrim(value uint8, tag WriterTag) bool {
	c.mu.Lock()
	changed := latchByte(&c.adcTrimValue, &c.adcTrimTag, value, tag)
	c.mu.Unlock()
	c.notify(AdcTrimPath(), changed, tag)
	return changed
}

func (c *ControllerMirror) ConnectedBitmap(subMaster uint8) (uint16, WriterTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SubMasters[subMaster].connectedBitmap()
}

func (c *ControllerMirror) SetConnectedBitmap(subMaster uint8, value uint16, tag WriterTag) bool {
	c.mu.Lock()
	changed := c.SubMasters[subMaster].setConnectedBitmap(value, tag)
	c.mu.Unlock()
	c.notify(ConnectedBitmapPath(subMaster), changed, tag)
	return changed
}

// PresentChips returns, in ascending order, the chip indices the most
// recently read connected_bitmap reports present on subMaster.
func (c *ControllerMirror) PresentChips(subMaster uint8) []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SubMasters[subMaster].presentChips()
}

func (c *ControllerMirror) Status(subMaster, chip uint8) (bool, WriterTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SubMasters[subMaster].Chips[chip].status()
}

func (c *ControllerMirror) SetStatus(subMaster, chip uint8, value bool, tag WriterTag) bool {
	c.mu.Lock()
	changed := c.SubMasters[subMaster].Chips[chip].setStatus(value, tag)
	c.mu.Unlock()
	c.notify(StatusPath(subMaster, chip), changed, tag)
	return changed
}

func (c *ControllerMirror) Register(subMaster, chip uint8, name RegisterName) (uint8, WriterTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SubMasters[subMaster].Chips[chip].register(name)
}

func (c *ControllerMirror) SetRegister(subMaster, chip uint8, name RegisterName, value uint8, tag WriterTag) bool {
	c.mu.Lock()
	changed := c.SubMasters[subMaster].Chips[chip].setRegister(name, value, tag)
	c.mu.Unlock()
	c.notify(RegisterPath(subMaster, chip, name), changed, tag)
	return changed
}

func (c *ControllerMirror) AdcChannel(subMaster, chip, ch uint8) (uint16, WriterTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SubMasters[subMaster].Chips[chip].adcChannel(ch)
}

func (c *ControllerMirror) SetAdcChannel(subMaster, chip, ch uint8, value uint16, tag WriterTag) bool {
	c.mu.Lock()
	changed := c.SubMasters[subMaster].Chips[chip].setAdcChannel(ch, value, tag)
	c.mu.Unlock()
	c.notify(AdcChannelPath(subMaster, chip, ch), changed, tag)
	return changed
}

func (c *ControllerMirror) Monitoring(subMaster, chip uint8) (MonitoringTriplet, WriterTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SubMasters[subMaster].Chips[chip].monitoring()
}

// SetMonitoringWord unpacks a raw device-dictionary word and latches it
// onto the chip's monitoring triplet. valid reports whether the word's
// validity flag was set; when it is not, the triplet is left untouched
// and changed is always false.
func (c *ControllerMirror) SetMonitoringWord(subMaster, chip uint8, word uint32, tag WriterTag) (changed bool, valid bool) {
	triplet, valid := UnpackMonitoringWord(word)
	if !valid {
		return false, false
	}
	c.mu.Lock()
	changed = c.SubMasters[subMaster].Chips[chip].setMonitoring(triplet, tag)
	c.mu.Unlock()
	c.notify(MonitoringPath(subMaster, chip), changed, tag)
	return changed, true
}
