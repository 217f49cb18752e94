package timesync

import (
	"testing"

	"github.com/atomozero/meshcore-go/pkg/clock"
)

func TestFirstSync(t *testing.T) {
	c := clock.NewVirtual()
	ts := New(c)

	if got := ts.SyncFromAdvert(1_700_000_000); got != FirstSync {
		t.Fatalf("expected FirstSync, got %v", got)
	}
	if !ts.IsSynchronized() {
		t.Error("expected synchronized after first sync")
	}
	if got := ts.GetTimestamp(); got != 1_700_000_000 {
		t.Errorf("GetTimestamp: got %d want %d", got, 1_700_000_000)
	}
}

func TestOutOfRangeTimestampIgnored(t *testing.T) {
	c := clock.NewVirtual()
	ts := New(c)

	if got := ts.SyncFromAdvert(100); got != NoChange {
		t.Errorf("expected NoChange for pre-epoch-bound timestamp, got %v", got)
	}
	if ts.IsSynchronized() {
		t.Error("out-of-range timestamp should not synchronize")
	}
}

func TestConsistentTimestampNoChange(t *testing.T) {
	c := clock.NewVirtual()
	ts := New(c)
	ts.SyncFromAdvert(1_700_000_000)

	c.Advance(10_000) // 10s elapsed
	// Our estimate is now 1_700_000_010; an advert reporting the same is consistent.
	if got := ts.SyncFromAdvert(1_700_000_010); got != NoChange {
		t.Errorf("expected NoChange for consistent timestamp, got %v", got)
	}
}

func TestResyncRequiresConsensus(t *testing.T) {
	c := clock.NewVirtual()
	ts := New(c)
	ts.SyncFromAdvert(1_700_000_000)

	// A wildly divergent timestamp is not applied on the first report.
	divergent := int64(1_700_100_000) // ~100,000s off
	if got := ts.SyncFromAdvert(divergent); got != NoChange {
		t.Fatalf("expected NoChange on first divergent report, got %v", got)
	}
	if ts.GetTimestamp() > 1_700_000_100 {
		t.Fatal("base should not have moved after a single divergent report")
	}

	// A second, corroborating report within the consensus window resyncs.
	c.Advance(60_000)
	if got := ts.SyncFromAdvert(divergent + 60); got != Resync {
		t.Fatalf("expected Resync on corroborating second report, got %v", got)
	}
}

func TestResyncExpiresOutsideConsensusWindow(t *testing.T) {
	c := clock.NewVirtual()
	ts := New(c)
	ts.SyncFromAdvert(1_700_000_000)

	divergent := int64(1_700_100_000)
	ts.SyncFromAdvert(divergent)

	c.Advance(consensusWindowMS + 1000)
	if got := ts.SyncFromAdvert(divergent); got != NoChange {
		t.Errorf("expected NoChange once consensus window has expired, got %v", got)
	}
}

func TestSetTime(t *testing.T) {
	c := clock.NewVirtual()
	ts := New(c)
	ts.SetTime(1_700_000_000)

	if !ts.IsSynchronized() {
		t.Error("expected synchronized after SetTime")
	}
	if got := ts.GetTimestamp(); got != 1_700_000_000 {
		t.Errorf("GetTimestamp: got %d want %d", got, 1_700_000_000)
	}
}
