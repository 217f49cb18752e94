package meshnode

import (
	"strings"
	"testing"

	"github.com/atomozero/meshcore-go/pkg/clock"
	"github.com/atomozero/meshcore-go/pkg/wire"
)

func TestRepeaterForwardsFlood(t *testing.T) {
	c := clock.NewVirtual()
	rep, err := NewRepeater("relay", c)
	if err != nil {
		t.Fatalf("NewRepeater: %v", err)
	}

	pkt := wire.New(wire.RouteFlood, wire.PayloadGroupData, 0)
	pkt.Path = []byte{0x01}
	pkt.Payload = []byte("hello")

	rep.OnRxPacket(pkt, -50, 20)
	if rep.Stats.FwdCount != 1 {
		t.Fatalf("expected FwdCount 1, got %d", rep.Stats.FwdCount)
	}
	packets := rep.Tick()
	if len(packets) != 1 {
		t.Fatalf("expected 1 forwarded packet queued, got %d", len(packets))
	}
	if len(packets[0].Path) != 2 || packets[0].Path[1] != rep.Identity.Hash() {
		t.Errorf("expected self hash appended, got %v", packets[0].Path)
	}
}

func TestRepeaterDoesNotForwardWhenDisabled(t *testing.T) {
	c := clock.NewVirtual()
	rep, _ := NewRepeater("relay", c)
	rep.Config.RepeatEnabled = false

	pkt := wire.New(wire.RouteFlood, wire.PayloadGroupData, 0)
	pkt.Path = []byte{0x01}
	pkt.Payload = []byte("hello")

	rep.OnRxPacket(pkt, -50, 20)
	if rep.Stats.FwdCount != 0 {
		t.Errorf("expected no forwarding when disabled, FwdCount=%d", rep.Stats.FwdCount)
	}
}

func TestRepeaterCLIStatusAndHelp(t *testing.T) {
	c := clock.NewVirtual()
	rep, _ := NewRepeater("relay", c)

	if got := rep.ProcessCommand("help"); !strings.Contains(got, "status") {
		t.Errorf("expected help text to list commands, got %q", got)
	}
	if got := rep.ProcessCommand("bogus"); got != "Unknown: bogus" {
		t.Errorf("expected unknown-command format, got %q", got)
	}
	if got := rep.ProcessCommand("ping 0"); got != TagError+" Invalid hash 0" {
		t.Errorf("expected rejection of hash 0, got %q", got)
	}
	if got := rep.ProcessCommand("nodes"); got != "No nodes seen" {
		t.Errorf("expected empty node table message, got %q", got)
	}
}

func TestRepeaterTickThrottlesHealthReevaluation(t *testing.T) {
	c := clock.NewVirtual()
	rep, _ := NewRepeater("relay", c)
	rep.SetQuietHours(22, 6)

	rep.Tick() // t=0: too soon, no re-evaluation yet
	if rep.Router.OpenCircuitBreakers() != 0 {
		t.Fatalf("expected no breakers open yet")
	}

	c.Advance(repeaterTickIntervalMS + 1)
	rep.Tick()
	// Quiet hours is configured 22-6; hourOfDay(60001ms) is still hour 0,
	// inside the overnight window, so the forward budget should have
	// dropped to the quiet-hours default.
	if !rep.IsQuietHoursEnabled() {
		t.Fatal("expected quiet hours to remain enabled")
	}
}

func TestRepeaterTickEvaluatesAdaptiveTXPower(t *testing.T) {
	c := clock.NewVirtual()
	rep, _ := NewRepeater("relay", c)
	rep.AdaptiveTXEnabled = true
	rep.updateNeighbour(0xAA, -50, 60) // strong SNR -> power should decrease

	c.Advance(repeaterTickIntervalMS + 1)
	rep.Tick()

	if rep.CurrentTXPower() >= 14 {
		t.Errorf("expected adaptive TX power to have decreased, got %d", rep.CurrentTXPower())
	}
}

func TestRepeaterMailboxStoreAndDeliver(t *testing.T) {
	c := clock.NewVirtual()
	rep, _ := NewRepeater("relay", c)
	rep.TimeSync.SetTime(1_700_000_000)

	offlineHash := byte(0x42)
	// Two prior sightings of offlineHash, then silence past healthOfflineMS.
	rep.Seen.Update(offlineHash, -60, 10, "", 0)
	rep.Seen.Update(offlineHash, -60, 10, "", 1000)
	c.Advance(healthOfflineMS + 2000)

	pkt := wire.New(wire.RouteFlood, wire.PayloadRequest, 0)
	pkt.Path = []byte{0x01}
	pkt.Payload = []byte{offlineHash, 0x02, 'x', 'y'}

	rep.OnRxPacket(pkt, -60, 10)
	if rep.Mailbox.GetCount() != 1 {
		t.Fatalf("expected message stored in mailbox, count=%d", rep.Mailbox.GetCount())
	}

	// An advert from offlineHash triggers this delivery in OnRxPacket.
	queued := rep.TxQueue.Count()
	rep.deliverMailbox(offlineHash)
	if rep.Mailbox.GetCount() != 0 {
		t.Errorf("expected mailbox emptied after delivery, count=%d", rep.Mailbox.GetCount())
	}
	if rep.TxQueue.Count() != queued+1 {
		t.Errorf("expected stored packet enqueued for transmission, queue=%d", rep.TxQueue.Count())
	}
}
