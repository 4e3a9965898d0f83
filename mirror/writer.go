package mirror

// WriterTag records who most recently wrote a mirror leaf.
type WriterTag int

const (
	WriterServer WriterTag = iota
	WriterExternal
)

func (t WriterTag) String() string {
	switch t {
	case WriterServer:
		return "server"
	case WriterExternal:
		return "external"
	default:
		return "unknown"
	}
}

// latchBool applies the writer-tag rule: an External write that
// repeats the current value is a no-op and reports no change. A
// Server write always latches the tag, but also reports no change when
// the value didn't actually move, so pollers never trigger a duplicate
// outward notification for a value the bridge already holds.
func latchBool(value *bool, tag *WriterTag, newValue bool, newTag WriterTag) bool {
	if newTag == WriterExternal && newValue == *value {
		return false
	}
	changed := newValue != *value
	*value = newValue
	*tag = newTag
	return changed
}

func latchByte(value *uint8, tag *WriterTag, newValue uint8, newTag WriterTag) bool {
	if newTag == WriterExternal && newValue == *value {
		return false
	}
	changed := newValue != *value
	*value = newValue
	*tag = newTag
	return changed
}

func latchWord(value *uint16, tag *WriterTag, newValue uint16, newTag WriterTag) bool {
	if newTag == WriterExternal && newValue == *value {
		return false
	}
	changed := newValue != *value
	*value = newValue
	*tag = newTag
	return changed
}

func latchMonitoring(value *MonitoringTriplet, tag *WriterTag, newValue MonitoringTriplet, newTag WriterTag) bool {
	if newTag == WriterExternal && newValue == *value {
		return false
	}
	changed := newValue != *value
	*value = newValue
	*tag = newTag
	return changed
}
