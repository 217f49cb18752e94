// Package meshnode implements per-node firmware behaviour: the base
// reception/tick/advert/ping-pong-trace state machine shared by every role,
// and the Repeater/Companion role specializations built on top of it. This
// is a direct port of sim/node.py's SimNode/SimRepeater/SimCompanion,
// themselves a port of the firmware's main.cpp dispatch logic.
package meshnode

import (
	"fmt"
	"strings"

	"github.com/atomozero/meshcore-go/pkg/advert"
	"github.com/atomozero/meshcore-go/pkg/clock"
	"github.com/atomozero/meshcore-go/pkg/dedup"
	"github.com/atomozero/meshcore-go/pkg/identity"
	"github.com/atomozero/meshcore-go/pkg/sighting"
	"github.com/atomozero/meshcore-go/pkg/timesync"
	"github.com/atomozero/meshcore-go/pkg/txqueue"
	"github.com/atomozero/meshcore-go/pkg/wire"
)

// Log tag prefixes, matching the firmware's fixed-width bracketed tags.
const (
	TagRX     = "[R]"
	TagFwd    = "[F]"
	TagPing   = "[P]"
	TagAdvert = "[A]"
	TagNode   = "[N]"
	TagOK     = "[OK]"
	TagError  = "[E]"
	TagInfo   = "[I]"
)

// Node types, mirroring the advert flags' low nibble.
const (
	TypeChatNode = 0x01
	TypeRepeater = 0x02
)

const (
	defaultAdvertIntervalMS = 300_000
	advertAfterSyncMS       = 5000
	flagHasName             = 0x80
)

// Stats counts operational events for a node, mirroring sim/config.py's
// Stats dataclass and exported verbatim over Prometheus by pkg/exporter.
type Stats struct {
	RxCount    int64
	TxCount    int64
	FwdCount   int64
	ErrCount   int64
	AdvTxCount int64
	AdvRxCount int64
}

// Event is one tagged log line, timestamped in the node's own clock.
type Event struct {
	MillisMS int64
	Message  string
}

// Node is the shared state and behaviour of every mesh node role: identity,
// time sync, neighbour sighting, dedup cache, outbound queue, stats, and
// the event log. Role-specific forwarding and CLI behaviour live in
// Repeater and Companion, which embed a *Node.
type Node struct {
	Name     string
	NodeType byte
	Clock    clock.Source

	Identity  *identity.Identity
	TimeSync  *timesync.TimeSync
	Seen      *sighting.Tracker
	PacketIDs *dedup.Cache
	TxQueue   *txqueue.Queue
	Stats     Stats

	events      []Event
	pingCounter int

	advertIntervalMS int64
	lastAdvertTimeMS int64
	pendingAdvertMS  int64
}

// NewNode constructs a Node with a freshly generated identity of the given
// name and type.
func NewNode(name string, nodeType byte, src clock.Source) (*Node, error) {
	id, err := identity.New(name)
	if err != nil {
		return nil, err
	}
	id.Flags = nodeType | flagHasName

	return &Node{
		Name:             name,
		NodeType:         nodeType,
		Clock:            src,
		Identity:         id,
		TimeSync:         timesync.New(src),
		Seen:             sighting.New(),
		PacketIDs:        dedup.NewDefault(),
		TxQueue:          txqueue.NewDefault(),
		advertIntervalMS: defaultAdvertIntervalMS,
	}, nil
}

func (n *Node) logf(format string, args ...any) {
	n.log(fmt.Sprintf(format, args...))
}

func (n *Node) log(msg string) {
	n.events = append(n.events, Event{MillisMS: n.Clock.MillisNow(), Message: msg})
}

// DrainEvents returns every event logged so far and clears the buffer; the
// CLI and scenario-runner layer calls this once per tick to surface new log lines
// without re-reading history already seen.
func (n *Node) DrainEvents() []Event {
	out := n.events
	n.events = nil
	return out
}

// OnRxPacket processes a received packet: advert/plain dispatch, then
// sighting-table updates from the packet's path. Role subtypes call this
// first and layer forwarding/store-and-forward behaviour on top.
func (n *Node) OnRxPacket(pkt *wire.Packet, rssi, snr int32) {
	pkt.RSSI = rssi
	pkt.SNR = snr
	pkt.RxTime = n.Clock.MillisNow()
	n.Stats.RxCount++

	switch pkt.PayloadType() {
	case wire.PayloadAdvert:
		n.processAdvert(pkt)
	case wire.PayloadPlain:
		n.processPlain(pkt)
	}

	if pkt.PathLen() > 0 {
		n.Seen.Update(pkt.Path[0], rssi, snr, "", n.Clock.MillisNow())
		if pkt.PathLen() > 1 {
			lastHop := pkt.Path[len(pkt.Path)-1]
			if lastHop != pkt.Path[0] {
				n.Seen.Update(lastHop, rssi, snr, "", n.Clock.MillisNow())
			}
		}
	}
}

func (n *Node) processAdvert(pkt *wire.Packet) {
	n.Stats.AdvRxCount++

	advertTime := advert.ExtractTimestamp(pkt.Payload)
	if advertTime > 0 {
		switch n.TimeSync.SyncFromAdvert(advertTime) {
		case timesync.FirstSync:
			n.logf("%s Time sync %d", TagOK, n.TimeSync.GetTimestamp())
			n.pendingAdvertMS = n.Clock.MillisNow() + advertAfterSyncMS
		case timesync.Resync:
			n.logf("%s Time resync %d", TagOK, n.TimeSync.GetTimestamp())
			n.pendingAdvertMS = n.Clock.MillisNow() + advertAfterSyncMS
		}
	}

	info, err := advert.Parse(pkt.Payload)
	if err != nil {
		return
	}

	roleMark := ""
	if info.IsRepeater {
		roleMark += " R"
	}
	if info.IsChatNode {
		roleMark += " C"
	}
	n.logf("%s %s%s %02X", TagNode, info.Name, roleMark, info.PubKeyHash)

	isNew := n.Seen.Update(info.PubKeyHash, pkt.RSSI, pkt.SNR, info.Name, n.Clock.MillisNow())
	if isNew {
		n.log(TagNode + " New node")
	}
}

func (n *Node) processPlain(pkt *wire.Packet) {
	if pkt.PayloadLen() < 4 {
		return
	}

	destHash := pkt.Payload[0]
	srcHash := pkt.Payload[1]
	marker := string(pkt.Payload[2:4])
	myHash := n.Identity.Hash()

	text := ""
	if pkt.PayloadLen() > 4 {
		text = string(pkt.Payload[4:])
	}

	switch {
	case marker == "DP" && destHash == myHash:
		n.logf("%s from %02X %s", TagPing, srcHash, text)
		n.sendPong(srcHash, pkt)
	case marker == "PO" && destHash == myHash:
		n.logf("%s PONG %02X %s rssi=%d snr=%s p=%d", TagPing, srcHash, text, pkt.RSSI, formatSNR(pkt.SNR), pkt.PathLen())
	case marker == "DT" && destHash == myHash:
		n.logf("%s TRACE from %02X %s", TagPing, srcHash, text)
		n.sendTraceResponse(srcHash, pkt)
	case marker == "TR" && destHash == myHash:
		n.logf("%s TRACE %02X %s rssi=%d snr=%s p=%d", TagPing, srcHash, text, pkt.RSSI, formatSNR(pkt.SNR), pkt.PathLen())
	}
}

// formatSNR renders a quarter-dB SNR value the way the firmware's log
// lines do: whole dB by floor division, then a 0/25/50/75 fractional
// remainder taken from the non-negative modulus (so -1 renders as -1.75dB).
func formatSNR(snr int32) string {
	whole := snr / 4
	frac := snr % 4
	if frac < 0 {
		frac += 4
		whole--
	}
	return fmt.Sprintf("%d.%ddB", whole, frac*25)
}

// SendAdvert builds and enqueues an ADVERT packet. flood selects
// flood-class routing (periodic beacon) versus a direct zero-hop advert.
func (n *Node) SendAdvert(flood bool) {
	route := wire.RouteDirect
	if flood {
		route = wire.RouteFlood
	}
	pkt := advert.Build(n.Identity, n.TimeSync, route)

	n.PacketIDs.AddIfNew(pkt.Fingerprint())
	n.TxQueue.Add(pkt)
	n.Stats.TxCount++
	n.Stats.AdvTxCount++
	n.lastAdvertTimeMS = n.Clock.MillisNow()

	mode := "local"
	if flood {
		mode = "flood"
	}
	n.logf("%s %s %s", TagAdvert, mode, n.Identity.Name)
}

func (n *Node) buildPlainPacket(targetHash byte, marker string, text string) *wire.Packet {
	pkt := wire.New(wire.RouteFlood, wire.PayloadPlain, wire.PayloadVer1)
	pkt.Path = []byte{n.Identity.Hash()}

	payload := make([]byte, 0, 4+len(text))
	payload = append(payload, targetHash, n.Identity.Hash())
	payload = append(payload, marker[0], marker[1])
	payload = append(payload, []byte(text)...)
	pkt.Payload = payload
	return pkt
}

func (n *Node) enqueueOwnTraffic(pkt *wire.Packet) {
	n.PacketIDs.AddIfNew(pkt.Fingerprint())
	n.TxQueue.Add(pkt)
	n.Stats.TxCount++
}

// SendDirectedPing sends a directed "DP" ping toward targetHash.
func (n *Node) SendDirectedPing(targetHash byte) {
	n.pingCounter++
	text := fmt.Sprintf("#%d %s", n.pingCounter, n.Identity.Name)
	pkt := n.buildPlainPacket(targetHash, "DP", text)
	n.logf("%s -> %02X #%d", TagPing, targetHash, n.pingCounter)
	n.enqueueOwnTraffic(pkt)
}

// SendDirectedTrace sends a directed "DT" trace request toward targetHash.
func (n *Node) SendDirectedTrace(targetHash byte) {
	n.pingCounter++
	text := fmt.Sprintf("#%d %s", n.pingCounter, n.Identity.Name)
	pkt := n.buildPlainPacket(targetHash, "DT", text)
	n.logf("%s ~> %02X #%d", TagPing, targetHash, n.pingCounter)
	n.enqueueOwnTraffic(pkt)
}

func (n *Node) sendPong(targetHash byte, rxPkt *wire.Packet) {
	text := fmt.Sprintf("%s %d", n.Identity.Name, rxPkt.RSSI)
	pkt := n.buildPlainPacket(targetHash, "PO", text)
	n.logf("%s PONG -> %02X", TagPing, targetHash)
	n.enqueueOwnTraffic(pkt)
}

func (n *Node) sendTraceResponse(targetHash byte, rxPkt *wire.Packet) {
	text := fmt.Sprintf("%s %d %d", n.Identity.Name, rxPkt.RSSI, rxPkt.PathLen())
	pkt := n.buildPlainPacket(targetHash, "TR", text)
	n.logf("%s TR -> %02X", TagPing, targetHash)
	n.enqueueOwnTraffic(pkt)
}

// Tick advances the node by one scheduling step: sends a deferred
// post-sync advert if due, sends the periodic beacon if due, then drains
// and returns everything queued for transmission.
func (n *Node) Tick() []*wire.Packet {
	now := n.Clock.MillisNow()

	if n.pendingAdvertMS > 0 && now >= n.pendingAdvertMS {
		n.pendingAdvertMS = 0
		n.SendAdvert(true)
	}

	if n.TimeSync.IsSynchronized() && (now-n.lastAdvertTimeMS) >= n.advertIntervalMS {
		n.SendAdvert(true)
	}

	var packets []*wire.Packet
	for n.TxQueue.Count() > 0 {
		if pkt := n.TxQueue.Pop(); pkt != nil {
			packets = append(packets, pkt)
		}
	}
	return packets
}

// SetAdvertIntervalMS overrides the periodic beacon interval (default
// 300000ms / 5 minutes).
func (n *Node) SetAdvertIntervalMS(ms int64) {
	n.advertIntervalMS = ms
}

func parseHexHash(s string) (byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	var v uint64
	if _, err := fmt.Sscanf(s, "%x", &v); err != nil {
		return 0, err
	}
	return byte(v), nil
}
