// Package timesync implements the two-source consensus time synchronizer
// driven by received ADVERT timestamps, ported from sim/advert.py's
// TimeSync class (itself a port of the firmware's TimeSync).
package timesync

import "github.com/atomozero/meshcore-go/pkg/clock"

// Result describes the outcome of feeding an advert timestamp into the
// synchronizer.
type Result int

const (
	// NoChange means the timestamp was ignored: outside the sane range,
	// already consistent with current time, or not yet corroborated by a
	// second source.
	NoChange Result = iota
	// FirstSync means this was the first timestamp ever accepted.
	FirstSync
	// Resync means a second, consensus-confirming timestamp caused the
	// clock base to be adjusted.
	Resync
)

const (
	// consensusWindowMS bounds how long a pending out-of-range timestamp
	// is remembered waiting for a corroborating second source.
	consensusWindowMS = 3_600_000 // 1 hour

	// maxTimestampDiffSec is the tolerance, in seconds, below which an
	// incoming timestamp is considered consistent with our current time.
	maxTimestampDiffSec = 300 // 5 minutes

	// minSaneUnixTime / maxSaneUnixTime bound the accepted range of advert
	// timestamps: 2020-01-01 through 2100-01-01 (UTC), rejecting garbage
	// from uninitialized or malicious clocks.
	minSaneUnixTime = 1_577_836_800
	maxSaneUnixTime = 4_102_444_800
)

// TimeSync holds the local clock-base consensus state. Nothing in this
// package reads the wall clock directly; all "now" comes from the injected
// clock.Source.
type TimeSync struct {
	clock clock.Source

	baseTimestamp int64
	baseMillis    int64
	synchronized  bool

	pendingTimestamp int64
	pendingMillis    int64
}

// New returns a TimeSync driven by src.
func New(src clock.Source) *TimeSync {
	return &TimeSync{clock: src}
}

// SyncFromAdvert feeds a received advert's unix timestamp into the
// consensus state machine.
func (t *TimeSync) SyncFromAdvert(unixTime int64) Result {
	if unixTime < minSaneUnixTime || unixTime > maxSaneUnixTime {
		return NoChange
	}

	now := t.clock.MillisNow()

	if !t.synchronized {
		t.baseTimestamp = unixTime
		t.baseMillis = now
		t.synchronized = true
		t.pendingTimestamp = 0
		t.pendingMillis = 0
		return FirstSync
	}

	ourTime := t.baseTimestamp + (now-t.baseMillis)/1000
	diff := unixTime - ourTime

	if abs64(diff) < maxTimestampDiffSec {
		t.pendingTimestamp = 0
		t.pendingMillis = 0
		return NoChange
	}

	if t.pendingTimestamp > 0 && (now-t.pendingMillis) < consensusWindowMS {
		pendingAdjusted := t.pendingTimestamp + (now-t.pendingMillis)/1000
		pendingDiff := unixTime - pendingAdjusted

		if abs64(pendingDiff) < maxTimestampDiffSec {
			avgTime := (unixTime + pendingAdjusted) / 2
			t.baseTimestamp = avgTime
			t.baseMillis = now
			t.pendingTimestamp = 0
			t.pendingMillis = 0
			return Resync
		}
	}

	t.pendingTimestamp = unixTime
	t.pendingMillis = now
	return NoChange
}

// GetTimestamp returns the current unix time estimate in seconds. Before
// synchronization it falls back to the raw clock value in seconds, which is
// only meaningful when the clock itself is seeded with a unix epoch.
func (t *TimeSync) GetTimestamp() int64 {
	if t.synchronized {
		elapsed := (t.clock.MillisNow() - t.baseMillis) / 1000
		return t.baseTimestamp + elapsed
	}
	return t.clock.MillisNow() / 1000
}

// IsSynchronized reports whether at least one advert timestamp has been
// accepted.
func (t *TimeSync) IsSynchronized() bool {
	return t.synchronized
}

// SetTime forcibly sets the clock base, used to seed a node's own
// authoritative time (e.g. the mesh's root/companion node) without waiting
// for an incoming advert.
func (t *TimeSync) SetTime(unixTime int64) {
	t.baseTimestamp = unixTime
	t.baseMillis = t.clock.MillisNow()
	t.synchronized = true
	t.pendingTimestamp = 0
	t.pendingMillis = 0
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
