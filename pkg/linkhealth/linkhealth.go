// Package linkhealth tracks per-neighbour link quality: a circuit breaker
// driven by the SNR of each neighbour sighting, which stops wasting airtime
// forwarding toward a peer whose link has gone bad, and a stateful
// adaptive-TX-power controller that nudges this node's own transmit power
// from the average SNR across all current neighbours.
//
// Neither sim/node.py nor any other retrieved original_source file models
// link health as its own class, but sim/tests/test_circuit_breaker.py and
// sim/tests/test_adaptive_tx.py exercise exact state machines for both
// (CB_SNR_THRESHOLD/CB_TIMEOUT_MS and ADAPTIVE_TX_*), so this package's
// shape is ported from those tests rather than from node.py directly.
package linkhealth

import "github.com/atomozero/meshcore-go/pkg/clock"

// State is a circuit breaker's current disposition toward a peer.
type State int

const (
	// Closed: forwarding toward this peer proceeds normally.
	Closed State = iota
	// Open: forwarding toward this peer is currently suppressed.
	Open
	// HalfOpen: the breaker is probing for recovery after its timeout.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	// SNRThresholdQuarterDB is CB_SNR_THRESHOLD: a neighbour sample below
	// this (quarter-dB units, so -40 is -10.0dB) counts as bad.
	SNRThresholdQuarterDB int32 = -40
	// OpenTimeoutMS is CB_TIMEOUT_MS: how long a breaker stays Open without
	// a new sample from its peer before Tick moves it to HalfOpen.
	OpenTimeoutMS int64 = 300_000
)

type breakerEntry struct {
	state        State
	badStreak    int
	lastSampleMS int64
}

// Breakers tracks one SNR-driven circuit breaker per peer hash.
type Breakers struct {
	clock        clock.Source
	snrThreshold int32
	timeoutMS    int64
	entries      map[byte]*breakerEntry
}

// NewBreakers returns a Breakers tracker using the given SNR threshold
// (quarter-dB) and open-timeout (ms).
func NewBreakers(src clock.Source, snrThresholdQuarterDB int32, timeoutMS int64) *Breakers {
	return &Breakers{
		clock:        src,
		snrThreshold: snrThresholdQuarterDB,
		timeoutMS:    timeoutMS,
		entries:      make(map[byte]*breakerEntry),
	}
}

// NewDefaultBreakers returns a Breakers tracker using the package defaults.
func NewDefaultBreakers(src clock.Source) *Breakers {
	return NewBreakers(src, SNRThresholdQuarterDB, OpenTimeoutMS)
}

func (b *Breakers) entry(peer byte) *breakerEntry {
	e, ok := b.entries[peer]
	if !ok {
		e = &breakerEntry{state: Closed}
		b.entries[peer] = e
	}
	return e
}

// RecordSample feeds one neighbour SNR sample (quarter-dB) into peer's
// breaker. A brand-new peer's first sample always leaves it Closed, even if
// bad; it takes a second consecutive bad sample to open the breaker. Any
// sample at or above the threshold closes the breaker immediately, from any
// state.
func (b *Breakers) RecordSample(peer byte, snrQuarterDB int32) {
	e := b.entry(peer)
	e.lastSampleMS = b.clock.MillisNow()

	if snrQuarterDB < b.snrThreshold {
		e.badStreak++
		if e.badStreak >= 2 {
			e.state = Open
		}
		return
	}

	e.badStreak = 0
	e.state = Closed
}

// Tick re-evaluates every Open breaker's timeout, moving it to HalfOpen once
// timeoutMS have elapsed since its peer's last SNR sample.
func (b *Breakers) Tick() {
	now := b.clock.MillisNow()
	for _, e := range b.entries {
		if e.state == Open && now-e.lastSampleMS >= b.timeoutMS {
			e.state = HalfOpen
		}
	}
}

// Allow reports whether a forwarding attempt toward peer should proceed. A
// never-seen peer is always allowed.
func (b *Breakers) Allow(peer byte) bool {
	return b.entry(peer).state != Open
}

// StateOf returns the current state for peer (Closed if never seen).
func (b *Breakers) StateOf(peer byte) State {
	return b.entry(peer).state
}

// OpenCount returns how many tracked peers currently have an Open breaker.
func (b *Breakers) OpenCount() int {
	n := 0
	for _, e := range b.entries {
		if e.state == Open {
			n++
		}
	}
	return n
}

// Adaptive TX power: a stateful transmit power in dBm, nudged by the mean
// SNR across all current neighbours. Ported from
// sim/tests/test_adaptive_tx.py's evaluate_adaptive_tx_power/DEFAULT_TX_POWER/
// ADAPTIVE_TX_*.
const (
	// DefaultTXPowerDBm is the power a node starts at.
	DefaultTXPowerDBm = 14
	// MinTXPowerDBm is the floor adaptive TX will not decrease below.
	MinTXPowerDBm = 5
	// MaxTXPowerDBm is the ceiling adaptive TX will not increase above.
	MaxTXPowerDBm = DefaultTXPowerDBm
	// TXPowerStepDBm is how much one evaluation adjusts power by.
	TXPowerStepDBm = 2
	// HighSNRQuarterDB is the average-SNR threshold (quarter-dB) above
	// which power is decreased.
	HighSNRQuarterDB int32 = 40
	// LowSNRQuarterDB is the average-SNR threshold (quarter-dB) below
	// which power is increased.
	LowSNRQuarterDB int32 = -20
	// NoChange is returned by TXPower.Evaluate when the current power did
	// not change (no neighbours, SNR in the middle range, or power already
	// at the floor or ceiling in the direction the SNR calls for).
	NoChange = -1
)

// TXPower tracks one node's adaptively-controlled transmit power.
type TXPower struct {
	current int
}

// NewTXPower returns a TXPower starting at DefaultTXPowerDBm.
func NewTXPower() *TXPower {
	return &TXPower{current: DefaultTXPowerDBm}
}

// Current returns the power this node should transmit at right now.
func (t *TXPower) Current() int {
	return t.current
}

// Evaluate adjusts the current power from the mean of neighbourSNRs
// (quarter-dB), returning the new power, or NoChange if nothing moved. An
// empty neighbourSNRs returns NoChange.
func (t *TXPower) Evaluate(neighbourSNRs []int32) int {
	if len(neighbourSNRs) == 0 {
		return NoChange
	}

	var sum int64
	for _, s := range neighbourSNRs {
		sum += int64(s)
	}
	avg := int32(sum / int64(len(neighbourSNRs)))

	switch {
	case avg > HighSNRQuarterDB:
		if t.current <= MinTXPowerDBm {
			return NoChange
		}
		t.current -= TXPowerStepDBm
		if t.current < MinTXPowerDBm {
			t.current = MinTXPowerDBm
		}
		return t.current
	case avg < LowSNRQuarterDB:
		if t.current >= MaxTXPowerDBm {
			return NoChange
		}
		t.current += TXPowerStepDBm
		if t.current > MaxTXPowerDBm {
			t.current = MaxTXPowerDBm
		}
		return t.current
	default:
		return NoChange
	}
}
