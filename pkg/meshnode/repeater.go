package meshnode

import (
	"fmt"
	"strings"

	"github.com/atomozero/meshcore-go/pkg/advert"
	"github.com/atomozero/meshcore-go/pkg/clock"
	"github.com/atomozero/meshcore-go/pkg/linkhealth"
	"github.com/atomozero/meshcore-go/pkg/mailbox"
	"github.com/atomozero/meshcore-go/pkg/router"
	"github.com/atomozero/meshcore-go/pkg/wire"
)

// healthOfflineMS is how long a node must be unseen, after at least two
// prior sightings, before a repeater starts mailboxing traffic for it
// instead of forwarding it live.
const healthOfflineMS = 1_800_000

// repeaterTickIntervalMS bounds how often Repeater.Tick re-evaluates
// quiet-hours, circuit-breaker timeouts, and adaptive TX power: at most
// once per 60s, regardless of how often Tick itself is called.
const repeaterTickIntervalMS = 60_000

// hourOfDay derives a 0-23 wall hour from the node's own clock, treating
// ms=0 as midnight. The core never reads an ambient wall clock (see
// pkg/clock's package doc), so quiet-hours evaluation is driven by the same
// injected, virtualizable time source as everything else rather than
// time.Now(). Hour 0 is whatever instant the clock's zero stands for; for
// cmd/meshcore-cli's wall clock that is process start, not local midnight.
func hourOfDay(nowMS int64) int {
	return int((nowMS / 3_600_000) % 24)
}

// Config carries a repeater's tunables, ported from sim/config.py's
// NodeConfig.
type Config struct {
	AdminPassword    string
	GuestPassword    string
	AdvertIntervalMS int64
	DeepSleepEnabled bool
	RxBoostEnabled   bool
	MaxFloodHops     int
	RepeatEnabled    bool
}

// DefaultConfig returns the firmware's documented default tunables.
func DefaultConfig() Config {
	return Config{
		AdminPassword:    "password",
		GuestPassword:    "hello",
		AdvertIntervalMS: defaultAdvertIntervalMS,
		DeepSleepEnabled: true,
		RxBoostEnabled:   false,
		MaxFloodHops:     8,
		RepeatEnabled:    true,
	}
}

// neighbour is a directly-heard repeater peer, sampled from zero-hop
// adverts rather than from forwarded traffic.
type neighbour struct {
	hash     byte
	rssi     int32
	snr      int32
	lastSeen int64
}

// Repeater is a forwarding-capable mesh node: it relays flood and direct
// traffic, mailboxes messages for peers that have gone quiet, and exposes
// the full repeater CLI surface.
type Repeater struct {
	*Node

	Config  Config
	Mailbox *mailbox.Mailbox
	Router  *router.Router

	neighbours []neighbour

	// AdaptiveTXEnabled turns on periodic adaptive TX power evaluation in
	// Tick. Disabled by default, matching the firmware's conservative
	// default tunables.
	AdaptiveTXEnabled bool
	txPower           *linkhealth.TXPower

	lastHealthTickMS int64
}

// NewRepeater constructs a repeater-role node with a fresh identity.
func NewRepeater(name string, src clock.Source) (*Repeater, error) {
	n, err := NewNode(name, TypeRepeater, src)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	n.advertIntervalMS = cfg.AdvertIntervalMS

	r := &Repeater{
		Node:    n,
		Config:  cfg,
		Mailbox: mailbox.New(),
		txPower: linkhealth.NewTXPower(),
	}
	r.Router = router.New(router.Config{
		SelfHash:     n.Identity.Hash(),
		MaxFloodHops: cfg.MaxFloodHops,
	}, src, n.PacketIDs, n.TxQueue)
	return r, nil
}

// OnRxPacket layers neighbour tracking, store-and-forward, and forwarding
// on top of the base node's reception handling, in the same order as the
// firmware's processReceivedPacket + shouldForward pipeline.
func (r *Repeater) OnRxPacket(pkt *wire.Packet, rssi, snr int32) {
	r.Node.OnRxPacket(pkt, rssi, snr)

	if pkt.PayloadType() == wire.PayloadAdvert {
		if pkt.PathLen() == 0 {
			if info, err := advert.Parse(pkt.Payload); err == nil && info.IsRepeater {
				r.updateNeighbour(info.PubKeyHash, rssi, snr)
			}
		}

		if info, err := advert.Parse(pkt.Payload); err == nil {
			r.deliverMailbox(info.PubKeyHash)
		}
	}

	r.maybeStoreForOffline(pkt)

	if !r.Config.RepeatEnabled {
		return
	}

	outcome, fwd, delayMS := r.Router.HandlePacket(pkt)
	switch outcome {
	case router.Forwarded:
		if fwd.IsDirect() {
			r.log(fmt.Sprintf("%s Direct p=%d d=%dms", TagFwd, fwd.PathLen(), delayMS))
		} else {
			r.log(fmt.Sprintf("%s Flood p=%d d=%dms", TagFwd, fwd.PathLen(), delayMS))
		}
		r.Stats.FwdCount++
		r.logf("%s Q p=%d", TagFwd, fwd.PathLen())
	case router.RateLimited:
		r.log(TagFwd + " Rate lim")
	case router.CircuitOpen:
		r.log(TagFwd + " CB open")
	case router.NotForwarded:
		// not admitted; nothing to do
	}
}

func (r *Repeater) deliverMailbox(destHash byte) {
	for r.Mailbox.CountFor(destHash) > 0 {
		data := r.Mailbox.PopFor(destHash)
		if data == nil {
			break
		}
		fwdPkt, err := wire.Deserialize(data)
		if err != nil {
			continue
		}
		r.TxQueue.Add(fwdPkt)
		r.logf("%s Mbox fwd %02X", TagInfo, destHash)
	}
}

func (r *Repeater) maybeStoreForOffline(pkt *wire.Packet) {
	pt := pkt.PayloadType()
	storable := pt == wire.PayloadRequest || pt == wire.PayloadResponse ||
		pt == wire.PayloadPlain || pt == wire.PayloadAnonReq

	if pkt.PayloadLen() < 2 || !storable {
		return
	}

	destHash := pkt.Payload[0]
	if destHash == r.Identity.Hash() || destHash == 0 {
		return
	}

	sn := r.Seen.GetByHash(destHash)
	if sn == nil || sn.PktCount < 2 {
		return
	}
	if (r.Clock.MillisNow() - sn.LastSeen) <= healthOfflineMS {
		return
	}
	if !r.TimeSync.IsSynchronized() {
		return
	}

	serialized := pkt.Serialize()
	if r.Mailbox.Store(destHash, serialized, r.TimeSync.GetTimestamp()) {
		r.logf("%s Mbox store %02X", TagInfo, destHash)
	}
}

func (r *Repeater) updateNeighbour(hash byte, rssi, snr int32) {
	r.Router.RecordNeighbourSample(hash, snr)

	for i := range r.neighbours {
		if r.neighbours[i].hash == hash {
			r.neighbours[i].rssi = rssi
			r.neighbours[i].snr = snr
			r.neighbours[i].lastSeen = r.Clock.MillisNow()
			return
		}
	}
	r.neighbours = append(r.neighbours, neighbour{
		hash: hash, rssi: rssi, snr: snr, lastSeen: r.Clock.MillisNow(),
	})
}

// neighbourSNRs returns the most recent SNR sample (quarter-dB) from every
// currently tracked neighbour, for adaptive TX power evaluation.
func (r *Repeater) neighbourSNRs() []int32 {
	if len(r.neighbours) == 0 {
		return nil
	}
	snrs := make([]int32, len(r.neighbours))
	for i, n := range r.neighbours {
		snrs[i] = n.snr
	}
	return snrs
}

// CircuitBreakerCount returns how many neighbours currently have an open
// circuit breaker.
func (r *Repeater) CircuitBreakerCount() int {
	return r.Router.OpenCircuitBreakers()
}

// CurrentTXPower returns this repeater's current adaptive transmit power,
// in dBm.
func (r *Repeater) CurrentTXPower() int {
	return r.txPower.Current()
}

// SetQuietHours enables the repeater's quiet-hours forward rate limit; see
// router.Router.SetQuietHours.
func (r *Repeater) SetQuietHours(startHour, endHour int, maxFwd ...int) {
	r.Router.SetQuietHours(startHour, endHour, maxFwd...)
}

// DisableQuietHours turns off the quiet-hours window.
func (r *Repeater) DisableQuietHours() {
	r.Router.DisableQuietHours()
}

// IsQuietHoursEnabled reports whether a quiet-hours window is configured.
func (r *Repeater) IsQuietHoursEnabled() bool {
	return r.Router.IsQuietHoursEnabled()
}

// Tick advances the repeater by one scheduling step: the base node's
// pending/periodic advert and TX-queue drain, plus — at most once per
// repeaterTickIntervalMS — a re-evaluation of the quiet-hours window,
// circuit-breaker timeouts, and adaptive TX power.
func (r *Repeater) Tick() []*wire.Packet {
	packets := r.Node.Tick()

	now := r.Clock.MillisNow()
	if now-r.lastHealthTickMS < repeaterTickIntervalMS {
		return packets
	}
	r.lastHealthTickMS = now

	r.Router.EvaluateQuietHours(hourOfDay(now))
	r.Router.TickCircuitBreakers()

	if r.AdaptiveTXEnabled {
		if newPower := r.txPower.Evaluate(r.neighbourSNRs()); newPower != linkhealth.NoChange {
			r.logf("%s TxP: %ddBm", TagInfo, newPower)
		}
	}

	return packets
}

// ProcessCommand runs one line of the repeater CLI, matching
// sim/node.py's SimRepeater.process_command verbatim (including exact
// output strings).
func (r *Repeater) ProcessCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return ""
	}
	parts := strings.Fields(cmd)
	command := strings.ToLower(parts[0])

	switch command {
	case "status":
		return r.cmdStatus()
	case "stats":
		return r.cmdStats()
	case "nodes":
		return r.cmdNodes()
	case "ping":
		if len(parts) > 1 {
			return r.cmdPing(parts[1])
		}
	case "trace":
		if len(parts) > 1 {
			return r.cmdTrace(parts[1])
		}
	case "advert":
		r.SendAdvert(true)
		return TagAdvert + " sent"
	case "help":
		return "status stats nodes ping <hash> trace <hash> advert help"
	}
	return "Unknown: " + cmd
}

func (r *Repeater) cmdStatus() string {
	ts := r.TimeSync.GetTimestamp()
	synced := "no"
	if r.TimeSync.IsSynchronized() {
		synced = "yes"
	}
	return fmt.Sprintf("%s %02X\nTime: %d sync=%s\nRX:%d TX:%d FWD:%d",
		r.Identity.Name, r.Identity.Hash(), ts, synced,
		r.Stats.RxCount, r.Stats.TxCount, r.Stats.FwdCount)
}

func (r *Repeater) cmdStats() string {
	return fmt.Sprintf("RX:%d TX:%d FWD:%d ERR:%d\nADV TX:%d RX:%d\nNodes:%d Nbr:%d CB:%d TxP:%ddBm",
		r.Stats.RxCount, r.Stats.TxCount, r.Stats.FwdCount, r.Stats.ErrCount,
		r.Stats.AdvTxCount, r.Stats.AdvRxCount, r.Seen.Len(), len(r.neighbours),
		r.CircuitBreakerCount(), r.CurrentTXPower())
}

func (r *Repeater) cmdNodes() string {
	if r.Seen.Len() == 0 {
		return "No nodes seen"
	}
	var lines []string
	for _, n := range r.Seen.Snapshot() {
		name := n.Name
		if name == "" {
			name = "?"
		}
		lines = append(lines, fmt.Sprintf("  %02X %-12s rssi=%d pkt=%d", n.Hash, name, n.LastRSSI, n.PktCount))
	}
	return strings.Join(lines, "\n")
}

func (r *Repeater) cmdPing(target string) string {
	h, err := parseHexHash(target)
	if err != nil {
		return TagError + " Invalid hash"
	}
	if h == 0 {
		return TagError + " Invalid hash 0"
	}
	r.SendDirectedPing(h)
	return fmt.Sprintf("%s -> %02X", TagPing, h)
}

func (r *Repeater) cmdTrace(target string) string {
	h, err := parseHexHash(target)
	if err != nil {
		return TagError + " Invalid hash"
	}
	if h == 0 {
		return TagError + " Invalid hash 0"
	}
	r.SendDirectedTrace(h)
	return fmt.Sprintf("%s ~> %02X", TagPing, h)
}
