package advert

import (
	"testing"

	"github.com/atomozero/meshcore-go/pkg/clock"
	"github.com/atomozero/meshcore-go/pkg/identity"
	"github.com/atomozero/meshcore-go/pkg/timesync"
	"github.com/atomozero/meshcore-go/pkg/wire"
)

func TestBuildParseRoundTrip(t *testing.T) {
	id, err := identity.New("chatty")
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	id.Flags = typeChatNode | flagHasName

	c := clock.NewVirtual()
	ts := timesync.New(c)
	ts.SetTime(1_700_000_000)

	pkt := Build(id, ts, wire.RouteFlood)

	info, err := Parse(pkt.Payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.Name != "chatty" {
		t.Errorf("Name: got %q want %q", info.Name, "chatty")
	}
	if info.Timestamp != 1_700_000_000 {
		t.Errorf("Timestamp: got %d want %d", info.Timestamp, 1_700_000_000)
	}
	if !info.IsChatNode {
		t.Error("expected IsChatNode")
	}
	if info.IsRepeater {
		t.Error("did not expect IsRepeater")
	}
}

func TestBuildParseWithLocation(t *testing.T) {
	id, err := identity.New("loc-node")
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	id.Flags = typeRepeater | flagHasName
	id.SetLocation(45_123_456, -9_654_321)

	c := clock.NewVirtual()
	ts := timesync.New(c)
	ts.SetTime(1_700_000_000)

	pkt := Build(id, ts, wire.RouteFlood)
	info, err := Parse(pkt.Payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !info.HasLocation {
		t.Fatal("expected HasLocation")
	}
	if info.Latitude != 45_123_456 || info.Longitude != -9_654_321 {
		t.Errorf("location mismatch: got (%d,%d)", info.Latitude, info.Longitude)
	}
	if !info.IsRepeater {
		t.Error("expected IsRepeater")
	}
}

func TestParseTooShort(t *testing.T) {
	if _, err := Parse(make([]byte, 50)); err != ErrTooShort {
		t.Errorf("expected ErrTooShort, got %v", err)
	}
}

func TestParseToleratesInvalidFlags(t *testing.T) {
	payload := make([]byte, minSize+4)
	payload[flagsOffset] = 0x00 // high bit clear: not a valid flags byte
	copy(payload[minSize:], []byte("abcd"))

	info, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !info.IsChatNode || !info.HasName {
		t.Error("expected fallback to chat-node-with-name defaults")
	}
	if info.Name != "abcd" {
		t.Errorf("Name: got %q want %q", info.Name, "abcd")
	}
}

func TestParseDefaultNameWhenNoNameBytes(t *testing.T) {
	payload := make([]byte, minSize)
	payload[flagsOffset] = 0x00
	info, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := defaultName(info.PubKeyHash)
	if info.Name != want {
		t.Errorf("Name: got %q want %q", info.Name, want)
	}
}
