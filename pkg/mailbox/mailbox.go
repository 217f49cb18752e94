// Package mailbox implements the store-and-forward mailbox for offline mesh
// nodes, ported from sim/config.py's Mailbox (a port of the firmware's
// Mailbox.h): two persistent ("eeprom") slots backed by four volatile
// ("ram") slots, with oldest-volatile overwrite once both tiers are full.
package mailbox

import "bytes"

const (
	// PersistentSlots mirrors the firmware's EEPROM-backed slot count.
	PersistentSlots = 2
	// VolatileSlots mirrors the firmware's RAM overflow slot count.
	VolatileSlots = 4
	// TTLSeconds is how long a stored message is kept before ExpireOld
	// discards it.
	TTLSeconds = 86400
)

// Slot holds one stored message awaiting delivery to DestHash.
type Slot struct {
	DestHash  byte
	Timestamp int64 // unix seconds
	Data      []byte
}

// IsEmpty reports whether the slot holds no message.
func (s *Slot) IsEmpty() bool {
	return len(s.Data) == 0
}

func (s *Slot) clear() {
	s.DestHash = 0
	s.Timestamp = 0
	s.Data = nil
}

// Mailbox holds the persistent and volatile slot tiers for one node.
type Mailbox struct {
	persistent [PersistentSlots]Slot
	volatile   [VolatileSlots]Slot
}

// New returns an empty Mailbox.
func New() *Mailbox {
	return &Mailbox{}
}

func (m *Mailbox) allSlots() []*Slot {
	slots := make([]*Slot, 0, PersistentSlots+VolatileSlots)
	for i := range m.persistent {
		slots = append(slots, &m.persistent[i])
	}
	for i := range m.volatile {
		slots = append(slots, &m.volatile[i])
	}
	return slots
}

// IsDuplicate reports whether data is already stored in any slot, compared
// byte-for-byte.
func (m *Mailbox) IsDuplicate(data []byte) bool {
	for _, s := range m.allSlots() {
		if !s.IsEmpty() && bytes.Equal(s.Data, data) {
			return true
		}
	}
	return false
}

// Store saves a serialized packet for later delivery to destHash. It
// rejects empty payloads and exact-byte duplicates of an already-stored
// message. It fills persistent slots first, then volatile slots, and once
// both tiers are full overwrites the oldest (by Timestamp) volatile slot —
// the persistent tier is never evicted once occupied.
func (m *Mailbox) Store(destHash byte, data []byte, unixTime int64) bool {
	if len(data) == 0 {
		return false
	}
	if m.IsDuplicate(data) {
		return false
	}

	for i := range m.persistent {
		if m.persistent[i].IsEmpty() {
			m.persistent[i] = Slot{DestHash: destHash, Timestamp: unixTime, Data: data}
			return true
		}
	}

	for i := range m.volatile {
		if m.volatile[i].IsEmpty() {
			m.volatile[i] = Slot{DestHash: destHash, Timestamp: unixTime, Data: data}
			return true
		}
	}

	oldest := 0
	for i := 1; i < len(m.volatile); i++ {
		if m.volatile[i].Timestamp < m.volatile[oldest].Timestamp {
			oldest = i
		}
	}
	m.volatile[oldest] = Slot{DestHash: destHash, Timestamp: unixTime, Data: data}
	return true
}

// CountFor returns how many stored messages are queued for destHash.
func (m *Mailbox) CountFor(destHash byte) int {
	n := 0
	for _, s := range m.allSlots() {
		if !s.IsEmpty() && s.DestHash == destHash {
			n++
		}
	}
	return n
}

// PopFor retrieves and removes one stored message for destHash, checking
// persistent slots before volatile slots, or returns nil if none queued.
func (m *Mailbox) PopFor(destHash byte) []byte {
	for _, s := range m.allSlots() {
		if !s.IsEmpty() && s.DestHash == destHash {
			data := s.Data
			s.clear()
			return data
		}
	}
	return nil
}

// ExpireOld clears any slot whose message has outlived TTLSeconds as of
// currentUnixTime.
func (m *Mailbox) ExpireOld(currentUnixTime int64) {
	for _, s := range m.allSlots() {
		if !s.IsEmpty() && currentUnixTime-s.Timestamp > TTLSeconds {
			s.clear()
		}
	}
}

// GetCount returns the total number of occupied slots across both tiers.
func (m *Mailbox) GetCount() int {
	n := 0
	for _, s := range m.allSlots() {
		if !s.IsEmpty() {
			n++
		}
	}
	return n
}

// GetTotalSlots returns the mailbox's total capacity across both tiers.
func (m *Mailbox) GetTotalSlots() int {
	return PersistentSlots + VolatileSlots
}

// Clear empties every slot.
func (m *Mailbox) Clear() {
	for _, s := range m.allSlots() {
		s.clear()
	}
}
