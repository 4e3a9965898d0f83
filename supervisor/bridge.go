package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	canopen "github.com/cerndcs/dcsopc-gateway"
	"github.com/cerndcs/dcsopc-gateway/mirror"

	log "github.com/sirupsen/logrus"
)

// ErrUnknownController is returned when an operation names a node id
// the supervisor has not scanned.
var ErrUnknownController = errors.New("supervisor: unknown controller")

// Subscriber receives a mirror leaf's new value and the writer_tag of
// whoever produced it.
type Subscriber func(newValue interface{}, tag mirror.WriterTag)

type subscriptionKey struct {
	nodeId uint8
	path   mirror.AttributePath
}

// ExternalBridge is the narrow surface a supervisory-protocol frontend
// drives: list the controllers it can see, subscribe to a leaf's
// changes, and submit a write that must reach hardware before the
// mirror (and any subscriber) observes it.
type ExternalBridge struct {
	sup          *Supervisor
	sdo          *canopen.SdoClient
	writeTimeout time.Duration
	schema       *canopen.ObjectDictionary
	edsPath      string

	mu          sync.Mutex
	subscribers map[subscriptionKey][]Subscriber
	nodeSchemas map[uint8]*canopen.ObjectDictionary

	ExternalWritesAccepted uint64
	ExternalWritesRejected uint64
}

// NewExternalBridge wires itself as sup's mirror-change listener and
// returns a bridge driving writes through sdo with the given timeout.
// Every write is checked against the node's device schema (the
// EDS-loaded dictionary once UseEDS has loaded one, BuildDeviceSchema's
// otherwise) before it ever reaches the bus, the same way a local SDO server
// would refuse a download to a read-only sub-index.
func NewExternalBridge(sup *Supervisor, sdo *canopen.SdoClient, writeTimeout time.Duration) *ExternalBridge {
	b := &ExternalBridge{
		sup:          sup,
		sdo:          sdo,
		writeTimeout: writeTimeout,
		schema:       BuildDeviceSchema(),
		subscribers:  make(map[subscriptionKey][]Subscriber),
		nodeSchemas:  make(map[uint8]*canopen.ObjectDictionary),
	}
	sup.OnMirrorChange(b.dispatch)
	return b
}

// UseEDS directs the bridge to load every scanned node's object
// dictionary straight from the EDS descriptor at edsPath (substituting
// $NODEID per node), and to consult that loaded dictionary ahead of the
// hand-built BuildDeviceSchema() once it is available for a given node.
// Registers a Supervisor.OnScan callback, so it must be called before
// the supervisor's Run starts scanning.
func (b *ExternalBridge) UseEDS(edsPath string) {
	b.edsPath = edsPath
	b.sup.OnScan(b.loadNodeSchemas)
}

// loadNodeSchemas is the Supervisor.OnScan callback UseEDS installs: it
// (re)loads every scanned node's EDS-derived dictionary, replacing
// whatever set an earlier scan produced. A node whose EDS fails to load
// keeps falling back to the hand-built schema rather than losing write
// protection entirely.
func (b *ExternalBridge) loadNodeSchemas(nodeIds []uint8) {
	schemas := make(map[uint8]*canopen.ObjectDictionary, len(nodeIds))
	for _, nodeId := range nodeIds {
		od, err := canopen.LoadFromEDS(b.edsPath, nodeId)
		if err != nil {
			log.Warnf("[BRIDGE] node %d: failed to load %s, falling back to the built-in schema: %v", nodeId, b.edsPath, err)
			continue
		}
		schemas[nodeId] = od
	}
	b.mu.Lock()
	b.nodeSchemas = schemas
	b.mu.Unlock()
}

// deviceSchema returns the EDS-loaded dictionary for nodeId if UseEDS
// has successfully loaded one, otherwise the hand-built fallback shared
// by every node.
func (b *ExternalBridge) deviceSchema(nodeId uint8) *canopen.ObjectDictionary {
	b.mu.Lock()
	od, ok := b.nodeSchemas[nodeId]
	b.mu.Unlock()
	if ok {
		return od
	}
	return b.schema
}

// checkWritable rejects a write at (index, subIndex) that nodeId's
// device schema does not mark writable, without ever touching the bus.
func (b *ExternalBridge) checkWritable(nodeId uint8, index uint16, sub uint8) error {
	entry := b.deviceSchema(nodeId).Find(index)
	if entry == nil {
		return fmt.Errorf("%w: index 0x%04X", canopen.ErrUnknownIndex, index)
	}
	subEntry, err := entry.Sub(sub)
	if err != nil {
		return err
	}
	if !subEntry.Access.Writable() {
		return fmt.Errorf("%w: index 0x%04X sub 0x%02X", canopen.ErrAccessDenied, index, sub)
	}
	return nil
}

// ListControllers returns the node ids of every currently scanned
// controller.
func (b *ExternalBridge) ListControllers() []uint8 {
	return b.sup.ListControllers()
}

// Subscribe registers callback to fire whenever nodeId's leaf at path
// changes, carrying the new value and the writer_tag of whoever wrote
// it. A write that round-trips the bridge's own snap-back after a
// rejected external write also reaches subscribers, with WriterExternal.
func (b *ExternalBridge) Subscribe(nodeId uint8, path mirror.AttributePath, callback Subscriber) {
	key := subscriptionKey{nodeId, path}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[key] = append(b.subscribers[key], callback)
}

// SubmitExternalWrite forwards newValue to hardware first; the mirror
// is only updated once the device accepts it. On a rejected write the
// mirror is left untouched and its current value is republished so the
// caller's own cache snaps back to what the device actually holds.
func (b *ExternalBridge) SubmitExternalWrite(nodeId uint8, path mirror.AttributePath, newValue uint32) error {
	m, ok := b.sup.Controller(nodeId)
	if !ok {
		return fmt.Errorf("%w: node %d", ErrUnknownController, nodeId)
	}
	index, sub := path.Address()
	if err := b.checkWritable(nodeId, index, sub); err != nil {
		atomic.AddUint64(&b.ExternalWritesRejected, 1)
		return err
	}
	if err := b.sdo.Write(nodeId, index, sub, newValue, b.writeTimeout); err != nil {
		atomic.AddUint64(&b.ExternalWritesRejected, 1)
		b.publish(nodeId, path, readValue(m, path), mirror.WriterExternal)
		return err
	}
	atomic.AddUint64(&b.ExternalWritesAccepted, 1)
	applyExternalWrite(m, path, newValue)
	return nil
}

// dispatch is the Supervisor.OnMirrorChange callback: look up the
// controller's current value for path and publish it to subscribers.
func (b *ExternalBridge) dispatch(nodeId uint8, path mirror.AttributePath, tag mirror.WriterTag) {
	m, ok := b.sup.Controller(nodeId)
	if !ok {
		return
	}
	b.publish(nodeId, path, readValue(m, path), tag)
}

func (b *ExternalBridge) publish(nodeId uint8, path mirror.AttributePath, value interface{}, tag mirror.WriterTag) {
	key := subscriptionKey{nodeId, path}
	b.mu.Lock()
	callbacks := append([]Subscriber(nil), b.subscribers[key]...)
	b.mu.Unlock()
	for _, cb := range callbacks {
		cb(value, tag)
	}
}

// readValue reads path's current mirror value, typed according to its
// AttributeKind.
func readValue(m *mirror.ControllerMirror, path mirror.AttributePath) interface{} {
	switch path.Kind {
	case mirror.AttrConnectedBitmap:
		v, _ := m.ConnectedBitmap(path.SubMaster)
		return v
	case mirror.AttrMonitoring:
		v, _ := m.Monitoring(path.SubMaster, path.Chip)
		return v
	case mirror.AttrStatus:
		v, _ := m.Status(path.SubMaster, path.Chip)
		return v
	case mirror.AttrRegister:
		v, _ := m.Register(path.SubMaster, path.Chip, path.Register)
		return v
	case mirror.AttrAdcChannel:
		v, _ := m.AdcChannel(path.SubMaster, path.Chip, path.AdcChannel)
		return v
	case mirror.AttrAdcTrim:
		v, _ := m.AdcTrim()
		return v
	default:
		return nil
	}
}

// applyExternalWrite latches rawValue (the value just confirmed on the
// wire) onto path's mirror leaf with WriterExternal.
func applyExternalWrite(m *mirror.ControllerMirror, path mirror.AttributePath, rawValue uint32) {
	switch path.Kind {
	case mirror.AttrConnectedBitmap:
		m.SetConnectedBitmap(path.SubMaster, uint16(rawValue), mirror.WriterExternal)
	case mirror.AttrMonitoring:
		m.SetMonitoringWord(path.SubMaster, path.Chip, rawValue, mirror.WriterExternal)
	case mirror.AttrStatus:
		m.SetStatus(path.SubMaster, path.Chip, rawValue != 0, mirror.WriterExternal)
	case mirror.AttrRegister:
		m.SetRegister(path.SubMaster, path.Chip, path.Register, uint8(rawValue), mirror.WriterExternal)
	case mirror.AttrAdcChannel:
		m.SetAdcChannel(path.SubMaster, path.Chip, path.AdcChannel, uint16(rawValue), mirror.WriterExternal)
	case mirror.AttrAdcTrim:
		m.SetAdcTrim(uint8(rawValue), mirror.WriterExternal)
	}
}
