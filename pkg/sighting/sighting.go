// Package sighting tracks recently observed mesh neighbours, ported from
// sim/config.py's SeenNodesTracker (itself a port of the firmware's
// seen-node table in globals.h).
package sighting

const maxSeenNodes = 16

// Node is a single observed-neighbour record.
type Node struct {
	Hash     byte
	LastRSSI int32
	LastSNR  int32
	PktCount int
	LastSeen int64 // ms
	Name     string
}

// Tracker is a fixed-capacity, last-seen-eviction table of Node records.
type Tracker struct {
	nodes []Node
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{nodes: make([]Node, 0, maxSeenNodes)}
}

// Update records a sighting of hash at nowMS with the given RSSI/SNR. If
// name is non-empty it overwrites any previously recorded name. Update
// reports whether this hash was not already tracked (a new node). Once the
// table is full, the least-recently-seen entry is evicted to make room.
func (t *Tracker) Update(hash byte, rssi, snr int32, name string, nowMS int64) bool {
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.Hash == hash {
			n.LastRSSI = rssi
			n.LastSNR = snr
			n.PktCount++
			n.LastSeen = nowMS
			if name != "" {
				n.Name = name
			}
			return false
		}
	}

	node := Node{
		Hash:     hash,
		LastRSSI: rssi,
		LastSNR:  snr,
		PktCount: 1,
		LastSeen: nowMS,
		Name:     name,
	}

	if len(t.nodes) < maxSeenNodes {
		t.nodes = append(t.nodes, node)
		return true
	}

	oldestIdx := 0
	oldestSeen := t.nodes[0].LastSeen
	for i, n := range t.nodes {
		if n.LastSeen < oldestSeen {
			oldestSeen = n.LastSeen
			oldestIdx = i
		}
	}
	t.nodes[oldestIdx] = node
	return true
}

// GetByHash returns the tracked node for hash, or nil if not present. The
// returned pointer aliases internal storage and is invalidated by the next
// Update/Clear call.
func (t *Tracker) GetByHash(hash byte) *Node {
	for i := range t.nodes {
		if t.nodes[i].Hash == hash {
			return &t.nodes[i]
		}
	}
	return nil
}

// Len returns the number of tracked nodes.
func (t *Tracker) Len() int {
	return len(t.nodes)
}

// Snapshot returns a copy of every currently tracked node, in no
// particular order, safe for the caller to range over independently of
// subsequent Update/Clear calls.
func (t *Tracker) Snapshot() []Node {
	out := make([]Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Clear removes all tracked nodes.
func (t *Tracker) Clear() {
	t.nodes = t.nodes[:0]
}
