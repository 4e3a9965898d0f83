package canopen

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// CANopen object types, as declared by the ObjectType key of an EDS
// index section.
const (
	objVar    byte = 7
	objArr    byte = 8
	objRecord byte = 9
)

var (
	matchIndexSection    = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
	matchSubIndexSection = regexp.MustCompile(`^([0-9A-Fa-f]{4})sub([0-9A-Fa-f]+)$`)
)

// LoadFromEDS parses an Electronic Data Sheet flat file and returns
// the ObjectDictionary it describes. nodeId is substituted for any
// "$NODEID" token found in a DefaultValue key, matching the CiA 306
// convention used by every DCS Controller EDS.
func LoadFromEDS(filePath string, nodeId uint8) (*ObjectDictionary, error) {
	edsFile, err := ini.Load(filePath)
	if err != nil {
		return nil, fmt.Errorf("eds: failed to load %s: %w", filePath, err)
	}
	od := NewObjectDictionary()

	for _, section := range edsFile.Sections() {
		name := section.Name()

		switch {
		case matchIndexSection.MatchString(name):
			if err := addIndexSection(od, section, nodeId); err != nil {
				return nil, err
			}
		case matchSubIndexSection.MatchString(name):
			if err := addSubIndexSection(od, section, nodeId); err != nil {
				return nil, err
			}
		}
	}
	log.Debugf("[EDS] loaded %s for node %d", filePath, nodeId)
	return od, nil
}

func addIndexSection(od *ObjectDictionary, section *ini.Section, nodeId uint8) error {
	idx, err := strconv.ParseUint(section.Name(), 16, 16)
	if err != nil {
		return fmt.Errorf("eds: bad index section %q: %w", section.Name(), err)
	}
	index := uint16(idx)
	entryName := section.Key("ParameterName").String()

	objType, err := strconv.ParseUint(section.Key("ObjectType").Value(), 0, 8)
	if err != nil {
		objType = uint64(objVar)
	}

	entry := NewEntry(index, entryName)
	switch byte(objType) {
	case objVar:
		sub, err := buildSubEntry(section, index, 0, nodeId)
		if err != nil {
			return err
		}
		entry.Subs[0] = sub
	case objArr, objRecord:
		// Members are populated as the matching subXX sections are
		// encountered; SubNumber only sizes the original C struct and
		// is not needed for a map-backed Entry.
	default:
		return nil
	}
	od.AddEntry(entry)
	return nil
}

func addSubIndexSection(od *ObjectDictionary, section *ini.Section, nodeId uint8) error {
	name := section.Name()
	m := matchSubIndexSection.FindStringSubmatch(name)
	idx, err := strconv.ParseUint(m[1], 16, 16)
	if err != nil {
		return fmt.Errorf("eds: bad subindex section %q: %w", name, err)
	}
	sidx, err := strconv.ParseUint(m[2], 16, 8)
	if err != nil {
		return fmt.Errorf("eds: bad subindex section %q: %w", name, err)
	}
	index := uint16(idx)
	subIndex := uint8(sidx)

	entry := od.Find(index)
	if entry == nil {
		return fmt.Errorf("eds: subindex section %q references unknown index x%04X", name, index)
	}
	sub, err := buildSubEntry(section, index, subIndex, nodeId)
	if err != nil {
		return err
	}
	entry.Subs[subIndex] = sub
	return nil
}

// buildSubEntry reads the common EDS keys (AccessType, DataType,
// DefaultValue) for one section and returns the SubEntry it describes.
func buildSubEntry(section *ini.Section, index uint16, subIndex uint8, nodeId uint8) (*SubEntry, error) {
	accessKey, err := section.GetKey("AccessType")
	if err != nil {
		return nil, fmt.Errorf("eds: missing AccessType for x%04X:x%02X: %w", index, subIndex, err)
	}

	dataTypeVal, err := strconv.ParseUint(section.Key("DataType").Value(), 0, 8)
	if err != nil {
		return nil, fmt.Errorf("eds: bad DataType for x%04X:x%02X: %w", index, subIndex, err)
	}

	sub := &SubEntry{
		Name:     section.Key("ParameterName").String(),
		DataType: DataType(dataTypeVal),
		Access:   accessFromEDS(accessKey.String()),
	}

	if defaultValue, err := section.GetKey("DefaultValue"); err == nil {
		data, err := encodeDefaultValue(defaultValue.Value(), sub.DataType, nodeId)
		if err != nil {
			return nil, fmt.Errorf("eds: bad DefaultValue for x%04X:x%02X: %w", index, subIndex, err)
		}
		sub.Data = data
	} else if size := sub.DataType.Size(); size != 0 {
		sub.Data = make([]byte, size)
	}

	return sub, nil
}

var nodeIdToken = regexp.MustCompile(`\+?\$NODEID\+?`)

// encodeDefaultValue converts an EDS DefaultValue string into the
// little-endian byte encoding for dataType. A literal "$NODEID" token
// is stripped from the string and nodeId is added to the parsed value
// instead, per the EDS convention; values with no such token are left
// untouched (nodeId offset does not apply).
func encodeDefaultValue(raw string, dataType DataType, nodeId uint8) ([]byte, error) {
	offset := uint64(0)
	if strings.Contains(raw, "$NODEID") {
		raw = nodeIdToken.ReplaceAllString(raw, "")
		offset = uint64(nodeId)
	}
	if raw == "" {
		raw = "0x0"
	}

	switch dataType {
	case Boolean, Unsigned8, Integer8:
		v, err := strconv.ParseUint(raw, 0, 8)
		if err != nil {
			return nil, err
		}
		return []byte{byte(v + offset)}, nil
	case Unsigned16, Integer16:
		v, err := strconv.ParseUint(raw, 0, 16)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v+offset))
		return b, nil
	case Unsigned32, Integer32, Real32:
		v, err := strconv.ParseUint(raw, 0, 32)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v+offset))
		return b, nil
	case Unsigned64, Integer64, Real64:
		v, err := strconv.ParseUint(raw, 0, 64)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v+offset)
		return b, nil
	case VisibleString:
		return []byte(raw), nil
	case Domain:
		return []byte{}, nil
	default:
		return nil, ErrTypeMismatch
	}
}
