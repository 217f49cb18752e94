// Package txqueue implements the bounded outbound transmission queue,
// ported from sim/config.py's TxQueue (a port of the firmware's fixed-size
// TX queue).
package txqueue

import "github.com/atomozero/meshcore-go/pkg/wire"

// DefaultSize is the firmware's TX queue capacity.
const DefaultSize = 4

// Queue is a bounded FIFO of packets awaiting transmission.
type Queue struct {
	items   []*wire.Packet
	maxSize int
}

// New returns an empty Queue with the given capacity.
func New(maxSize int) *Queue {
	return &Queue{maxSize: maxSize}
}

// NewDefault returns a Queue sized to DefaultSize.
func NewDefault() *Queue {
	return New(DefaultSize)
}

// Add enqueues a clone of pkt, reporting false (and not enqueuing) if the
// queue is already at capacity.
func (q *Queue) Add(pkt *wire.Packet) bool {
	if len(q.items) >= q.maxSize {
		return false
	}
	q.items = append(q.items, pkt.Clone())
	return true
}

// Pop dequeues and returns the oldest packet, or nil if the queue is empty.
func (q *Queue) Pop() *wire.Packet {
	if len(q.items) == 0 {
		return nil
	}
	pkt := q.items[0]
	q.items = q.items[1:]
	return pkt
}

// Count returns the number of queued packets.
func (q *Queue) Count() int {
	return len(q.items)
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.items = nil
}
