package meshnode

import (
	"testing"

	"github.com/atomozero/meshcore-go/pkg/advert"
	"github.com/atomozero/meshcore-go/pkg/clock"
	"github.com/atomozero/meshcore-go/pkg/wire"
)

func TestSendAdvertEnqueuesAndCountsStats(t *testing.T) {
	c := clock.NewVirtual()
	n, err := NewNode("alice", TypeChatNode, c)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	n.TimeSync.SetTime(1_700_000_000)

	n.SendAdvert(true)
	if n.Stats.TxCount != 1 || n.Stats.AdvTxCount != 1 {
		t.Errorf("unexpected stats: %+v", n.Stats)
	}
	packets := n.Tick()
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet from Tick, got %d", len(packets))
	}
	if packets[0].PayloadType() != wire.PayloadAdvert {
		t.Error("expected advert payload type")
	}
}

func TestFormatSNR(t *testing.T) {
	cases := []struct {
		snr  int32
		want string
	}{
		{40, "10.0dB"},
		{0, "0.0dB"},
		{-4, "-1.0dB"},
		{3, "0.75dB"},
	}
	for _, c := range cases {
		if got := formatSNR(c.snr); got != c.want {
			t.Errorf("formatSNR(%d): got %q want %q", c.snr, got, c.want)
		}
	}
}

func TestDirectedPingPongRoundTripLog(t *testing.T) {
	c := clock.NewVirtual()
	alice, _ := NewNode("alice", TypeChatNode, c)
	bob, _ := NewNode("bob", TypeChatNode, c)

	alice.SendDirectedPing(bob.Identity.Hash())
	packets := alice.Tick()
	if len(packets) != 1 {
		t.Fatalf("expected 1 queued ping packet, got %d", len(packets))
	}

	bob.OnRxPacket(packets[0], -60, 20)
	bobOut := bob.Tick()
	if len(bobOut) != 1 {
		t.Fatalf("expected bob to queue a pong, got %d", len(bobOut))
	}
	if bobOut[0].PayloadType() != wire.PayloadPlain {
		t.Error("expected plain payload for pong")
	}

	alice.OnRxPacket(bobOut[0], -55, 30)
	events := alice.DrainEvents()
	found := false
	for _, e := range events {
		if len(e.Message) > 0 && e.Message[:len(TagPing)] == TagPing {
			found = true
		}
	}
	if !found {
		t.Error("expected a ping-tagged log entry after receiving pong")
	}
}

func TestTimeSyncTriggersPendingAdvert(t *testing.T) {
	c := clock.NewVirtual()
	n, _ := NewNode("alice", TypeChatNode, c)

	peer, _ := NewNode("peer", TypeChatNode, c)
	peer.TimeSync.SetTime(1_700_000_000)
	peerAdvertPkt := advert.Build(peer.Identity, peer.TimeSync, wire.RouteFlood)
	peerAdvertPkt.Path = []byte{0x01}

	n.OnRxPacket(peerAdvertPkt, -50, 20)
	if !n.TimeSync.IsSynchronized() {
		t.Fatal("expected time sync from advert")
	}

	c.Advance(advertAfterSyncMS)
	packets := n.Tick()
	found := false
	for _, p := range packets {
		if p.PayloadType() == wire.PayloadAdvert {
			found = true
		}
	}
	if !found {
		t.Error("expected a deferred post-sync advert to be sent")
	}
}
