package canopen

// SDO abort codes transmitted on the wire when a server rejects a
// request. Only the subset this gateway's expedited-only servers ever
// emit is named; unrecognized codes still round-trip through
// AbortError, just without a description.
const (
	AbortInvalidCommandSpecifier uint32 = 0x05040001
	AbortObjectDoesNotExist      uint32 = 0x06020000
	AbortSubindexDoesNotExist    uint32 = 0x06090011
	AbortReadOnly                uint32 = 0x06010002
	AbortWriteOnly               uint32 = 0x06010001
	AbortTypeMismatch            uint32 = 0x06070010
	AbortDataTypeLengthMismatch  uint32 = 0x06070012
	AbortHardwareFailure         uint32 = 0x06060000
	AbortGeneralError            uint32 = 0x08000000
)

var abortCodeDescriptions = map[uint32]string{
	AbortInvalidCommandSpecifier: "client command specifier not valid or unknown",
	AbortObjectDoesNotExist:      "object does not exist in the object dictionary",
	AbortSubindexDoesNotExist:    "subindex does not exist",
	AbortReadOnly:                "attempt to write a read-only object",
	AbortWriteOnly:               "attempt to read a write-only object",
	AbortTypeMismatch:            "data type does not match, length of service parameter does not match",
	AbortDataTypeLengthMismatch:  "data type does not match, length of service parameter too high",
	AbortHardwareFailure:         "access failed due to a hardware error",
	AbortGeneralError:            "general error",
}

// abortForErr maps a dictionary-layer error to the SDO abort code a
// server response should carry for it.
func abortForErr(err error) uint32 {
	switch err {
	case ErrUnknownIndex:
		return AbortObjectDoesNotExist
	case ErrUnknownSubindex:
		return AbortSubindexDoesNotExist
	case ErrAccessDenied:
		return AbortReadOnly
	case ErrTypeMismatch:
		return AbortTypeMismatch
	default:
		return AbortGeneralError
	}
}
