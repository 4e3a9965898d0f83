package canopen

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// deviceTypeIndex is the object every compliant node must answer on;
// a successful read of it is treated as "a controller is present at
// this node id"; a timeout or an abort counts as absent.
const deviceTypeIndex uint16 = 0x1000

// Scanner discovers which node ids currently answer on the bus by
// reading an object every node is required to support. Scans are
// strictly sequential: the gateway bounds bus load by allowing only one
// outstanding SDO request globally during a scan.
type Scanner struct {
	sdo     *SdoClient
	timeout time.Duration
}

// NewScanner returns a scanner issuing reads through sdo, probing each
// node with the given per-node timeout.
func NewScanner(sdo *SdoClient, timeout time.Duration) *Scanner {
	return &Scanner{sdo: sdo, timeout: timeout}
}

// Scan probes every node id in [MinNodeId, MaxNodeId] sequentially and
// returns the ids that responded, in ascending order. This empties and
// rebuilds the live set each call; it never merges with a previous
// result, matching the full-rescan semantics the supervisor relies on
// after repeated poll failures.
func (s *Scanner) Scan() ([]uint8, error) {
	log.Info("[SCAN] scanning nodes, this will take a few seconds")
	var found []uint8
	for nodeId := uint8(MinNodeId); nodeId <= MaxNodeId; nodeId++ {
		if _, err := s.sdo.Read(nodeId, deviceTypeIndex, 0, s.timeout); err != nil {
			log.Debugf("[SCAN] node %d did not respond: %v", nodeId, err)
			continue
		}
		log.Infof("[SCAN] found node %d", nodeId)
		found = append(found, nodeId)
	}
	if len(found) == 0 {
		return nil, ErrBusEmpty
	}
	log.Infof("[SCAN] done, %d node(s) found", len(found))
	return found, nil
}
