// Package supervisor runs the poll loop that keeps every discovered
// controller's mirror tree in sync with hardware, and the external
// write path that lets a supervisory client push a value back down.
package supervisor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	canopen "github.com/cerndcs/dcsopc-gateway"
	"github.com/cerndcs/dcsopc-gateway/mirror"

	log "github.com/sirupsen/logrus"
)

const (
	defaultBitmapReadTimeout    = 3 * time.Second
	defaultAttributeReadTimeout = 1 * time.Second

	maxConsecutiveSweepFailures = 3
	maxScanAttempts             = 3
	busEmptyRetryDelay          = 60 * time.Second
)

// ErrFatalBusEmpty is returned from Run when the initial scan still
// finds no responding node after maxScanAttempts attempts, each
// separated by a busEmptyRetryDelay wait.
var ErrFatalBusEmpty = errors.New("supervisor: bus empty after repeated rescans")

// Clock abstracts the passage of time so tests can exercise the 60s
// empty-bus retry wait without actually waiting.
type Clock interface {
	Sleep(d time.Duration)
}

// realClock sleeps for real; the zero value of Supervisor's clock field
// is never used directly, NewSupervisor always installs this.
type realClock struct{}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// MirrorChangeCallback is invoked whenever any controller's mirror tree
// reports a change, after the supervisor looks up which node the change
// belongs to.
type MirrorChangeCallback func(nodeId uint8, path mirror.AttributePath, tag mirror.WriterTag)

// ScanCallback is invoked with the full set of node ids every time a
// scan (initial or rescan) replaces the live controller set.
type ScanCallback func(nodeIds []uint8)

// Supervisor owns the scanned node set and drives the periodic poll
// that refreshes every controller's mirror tree from hardware.
type Supervisor struct {
	sdo     *canopen.SdoClient
	scanner *canopen.Scanner
	clock   Clock

	sweepInterval        time.Duration
	bitmapReadTimeout    time.Duration
	attributeReadTimeout time.Duration

	mu                  sync.Mutex
	controllers         map[uint8]*mirror.ControllerMirror
	consecutiveFailures map[uint8]int
	onMirrorChange      MirrorChangeCallback
	onScan              ScanCallback

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// NewSupervisor returns a supervisor driving reads through sdo and
// scans through scanner, sweeping the full controller set every
// sweepInterval.
func NewSupervisor(sdo *canopen.SdoClient, scanner *canopen.Scanner, sweepInterval time.Duration) *Supervisor {
	return &Supervisor{
		sdo:                  sdo,
		scanner:              scanner,
		clock:                realClock{},
		sweepInterval:        sweepInterval,
		bitmapReadTimeout:    defaultBitmapReadTimeout,
		attributeReadTimeout: defaultAttributeReadTimeout,
		controllers:          make(map[uint8]*mirror.ControllerMirror),
		consecutiveFailures:  make(map[uint8]int),
		shutdown:             make(chan struct{}),
	}
}

// SetClock overrides the clock used for the empty-bus retry wait.
// Intended for tests.
func (s *Supervisor) SetClock(clock Clock) {
	s.clock = clock
}

// SetReadTimeouts overrides the per-round SDO read timeouts. Intended
// for tests exercising a deliberately unresponsive fake node without
// waiting out the production timeouts.
func (s *Supervisor) SetReadTimeouts(bitmap, attribute time.Duration) {
	s.bitmapReadTimeout = bitmap
	s.attributeReadTimeout = attribute
}

// OnMirrorChange installs the callback fired for every mirror change
// across every controller. Must be set before Run starts.
func (s *Supervisor) OnMirrorChange(cb MirrorChangeCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMirrorChange = cb
}

// OnScan installs the callback fired with the full node id set every
// time a scan replaces the live controller set (the initial scan and
// every rescan that follows it). Must be set before Run starts.
func (s *Supervisor) OnScan(cb ScanCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onScan = cb
}

// ListControllers returns the node ids of every currently scanned
// controller, in ascending order.
func (s *Supervisor) ListControllers() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint8, 0, len(s.controllers))
	for id := range s.controllers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Controller returns the mirror for nodeId, if it is currently scanned.
func (s *Supervisor) Controller(nodeId uint8) (*mirror.ControllerMirror, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.controllers[nodeId]
	return m, ok
}

// Shutdown stops Run at the next opportunity. Idempotent.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

// Run performs an initial scan and then sweeps the controller set every
// sweepInterval until Shutdown is called. Only the initial scan can end
// Run with ErrFatalBusEmpty: when a rescan started from the sweep loop
// (after a transport loss or repeated sweep failures) also exhausts its
// attempts, the failure is logged and sweeping continues with the
// previous controller set.
func (s *Supervisor) Run() error {
	if err := s.rescanUntilAlive(); err != nil {
		return err
	}
	for {
		select {
		case <-s.shutdown:
			return nil
		default:
		}
		s.sweepAll()
		select {
		case <-s.shutdown:
			return nil
		default:
		}
		if s.sweepInterval > 0 {
			s.clock.Sleep(s.sweepInterval)
		}
	}
}

// rescanUntilAlive runs the Scanner until it finds at least one node,
// retrying an empty bus after a wait, escalating to a fatal error after
// maxScanAttempts.
func (s *Supervisor) rescanUntilAlive() error {
	for attempt := 1; attempt <= maxScanAttempts; attempt++ {
		nodeIds, err := s.scanner.Scan()
		if err == nil {
			s.adoptScan(nodeIds)
			return nil
		}
		if !errors.Is(err, canopen.ErrBusEmpty) {
			return err
		}
		log.Warnf("[SUPERVISOR] scan attempt %d/%d found an empty bus", attempt, maxScanAttempts)
		if attempt == maxScanAttempts {
			return fmt.Errorf("%w: %v", ErrFatalBusEmpty, err)
		}
		s.clock.Sleep(busEmptyRetryDelay)
	}
	return ErrFatalBusEmpty
}

// adoptScan replaces the live controller set with freshly built mirrors
// for nodeIds, wiring each one's change notifications back through the
// supervisor-level callback.
func (s *Supervisor) adoptScan(nodeIds []uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controllers = make(map[uint8]*mirror.ControllerMirror, len(nodeIds))
	s.consecutiveFailures = make(map[uint8]int, len(nodeIds))
	for _, id := range nodeIds {
		nodeId := id
		m := mirror.NewControllerMirror(nodeId)
		m.OnChange(func(path mirror.AttributePath, tag mirror.WriterTag) {
			s.mu.Lock()
			cb := s.onMirrorChange
			s.mu.Unlock()
			if cb != nil {
				cb(nodeId, path, tag)
			}
		})
		s.controllers[nodeId] = m
	}
	cb := s.onScan
	ids := append([]uint8(nil), nodeIds...)
	if cb != nil {
		go cb(ids)
	}
}

// sweepAll polls every controller once and escalates to a rescan if any
// single controller has failed maxConsecutiveSweepFailures full sweeps
// in a row, or immediately if the transport itself reports it was lost.
func (s *Supervisor) sweepAll() {
	if s.transportLost() {
		log.Warn("[SUPERVISOR] transport reported lost, rescanning the bus immediately")
		if err := s.rescanUntilAlive(); err != nil {
			log.Errorf("[SUPERVISOR] rescan after transport loss did not recover: %v", err)
		}
		return
	}

	escalate := false
	for _, nodeId := range s.ListControllers() {
		ok := s.sweepController(nodeId)
		s.mu.Lock()
		if ok {
			s.consecutiveFailures[nodeId] = 0
		} else {
			s.consecutiveFailures[nodeId]++
			if s.consecutiveFailures[nodeId] >= maxConsecutiveSweepFailures {
				escalate = true
			}
		}
		s.mu.Unlock()
	}
	if escalate {
		log.Warn("[SUPERVISOR] a controller failed 3 consecutive sweeps, rescanning the bus")
		if err := s.rescanUntilAlive(); err != nil {
			log.Errorf("[SUPERVISOR] rescan after sweep failures did not recover: %v", err)
		}
	}
}

// transportLost drains every queued TransportLost sentinel off the
// shared receive queue and reports whether at least one was found.
// A background receive failure is reported exactly once per loss, so
// draining the whole backlog still yields a single escalation.
func (s *Supervisor) transportLost() bool {
	queue := s.sdo.Transport().Queue()
	found := false
	for queue.TakeTransportLost() {
		found = true
	}
	return found
}

// sweepController re-reads one controller's connected_bitmap per
// sub-master (failure here just skips that sub-master this round) and
// then every present chip's attributes. It reports true unless every
// sub-master's bitmap read failed, which is taken as a total loss of
// communication with the node rather than a handful of dropped frames.
func (s *Supervisor) sweepController(nodeId uint8) bool {
	m, ok := s.Controller(nodeId)
	if !ok {
		return false
	}
	anySuccess := false
	for subMaster := uint8(0); subMaster < 4; subMaster++ {
		index, sub := mirror.ConnectedBitmapPath(subMaster).Address()
		word, err := s.sdo.Read(nodeId, index, sub, s.bitmapReadTimeout)
		if err != nil {
			log.Debugf("[SUPERVISOR] node %d sub-master %d bitmap read failed: %v", nodeId, subMaster, err)
			continue
		}
		anySuccess = true
		m.SetConnectedBitmap(subMaster, uint16(word), mirror.WriterServer)
		for _, chip := range m.PresentChips(subMaster) {
			s.pollChip(nodeId, m, subMaster, chip)
		}
	}
	return anySuccess
}

// pollChip reads one chip's monitoring word, status, ADC channels and
// registers. Each attribute is isolated: a failed read is logged and
// skipped, never retried within the round.
func (s *Supervisor) pollChip(nodeId uint8, m *mirror.ControllerMirror, subMaster, chip uint8) {
	monitoringIndex, monitoringSub := mirror.MonitoringPath(subMaster, chip).Address()
	if word, err := s.sdo.Read(nodeId, monitoringIndex, monitoringSub, s.attributeReadTimeout); err != nil {
		log.Debugf("[SUPERVISOR] node %d sm%d chip%d monitoring read failed: %v", nodeId, subMaster, chip, err)
	} else if _, valid := m.SetMonitoringWord(subMaster, chip, word, mirror.WriterServer); !valid {
		log.Debugf("[SUPERVISOR] node %d sm%d chip%d monitoring word missing validity flag", nodeId, subMaster, chip)
	}

	statusIndex, statusSub := mirror.StatusPath(subMaster, chip).Address()
	if word, err := s.sdo.Read(nodeId, statusIndex, statusSub, s.attributeReadTimeout); err != nil {
		log.Debugf("[SUPERVISOR] node %d sm%d chip%d status read failed: %v", nodeId, subMaster, chip, err)
	} else {
		m.SetStatus(subMaster, chip, word != 0, mirror.WriterServer)
	}

	for ch := uint8(0); ch < 8; ch++ {
		index, sub := mirror.AdcChannelPath(subMaster, chip, ch).Address()
		word, err := s.sdo.Read(nodeId, index, sub, s.attributeReadTimeout)
		if err != nil {
			log.Debugf("[SUPERVISOR] node %d sm%d chip%d adc%d read failed: %v", nodeId, subMaster, chip, ch, err)
			continue
		}
		m.SetAdcChannel(subMaster, chip, ch, uint16(word), mirror.WriterServer)
	}

	for name := mirror.RegisterName(0); name < mirror.RegisterCount; name++ {
		index, sub := mirror.RegisterPath(subMaster, chip, name).Address()
		word, err := s.sdo.Read(nodeId, index, sub, s.attributeReadTimeout)
		if err != nil {
			log.Debugf("[SUPERVISOR] node %d sm%d chip%d register %d read failed: %v", nodeId, subMaster, chip, name, err)
			continue
		}
		m.SetRegister(subMaster, chip, name, uint8(word), mirror.WriterServer)
	}
}
