// Package router implements the mesh forwarding engine: the admission
// predicate that decides whether a received packet should be relayed, the
// rate/circuit-breaker gates applied before it is enqueued, the scheduling
// delay a forwarded packet should carry, and the rewrite/enqueue step that
// turns an admitted packet into an outbound one.
//
// The admission order and path-rewrite semantics are a direct port of
// sim/node.py's SimRepeater._should_forward/on_rx_packet forwarding block,
// generalized with the RSSI gate, delay/jitter computation, and quiet-hours
// rate limit that sim/node.py's later revision (exercised by
// sim/tests/test_quiet_hours.py) adds on top. The package shape — an
// explicit Config, a HandlePacket-style entry point, gates applied in a
// fixed pipeline order, enqueue onto a send queue — is grounded on the real
// Go MeshCore client's device/router package, which structures its Router
// the same way around a packet-handler pipeline.
package router

import (
	"math/rand"

	"github.com/atomozero/meshcore-go/pkg/clock"
	"github.com/atomozero/meshcore-go/pkg/dedup"
	"github.com/atomozero/meshcore-go/pkg/linkhealth"
	"github.com/atomozero/meshcore-go/pkg/ratelimit"
	"github.com/atomozero/meshcore-go/pkg/txqueue"
	"github.com/atomozero/meshcore-go/pkg/wire"
)

// rssiFloorDBm is the minimum received signal strength a packet must carry
// to be considered for forwarding at all: below this the link is assumed
// too weak to trust.
const rssiFloorDBm = -120

// airtimeDefaultMS is the fixed per-packet airtime used for delay/jitter
// scheduling when Config.AirtimeMS is unset. The radio channel model that
// would otherwise compute this from packet size and modulation is outside
// this package's scope (it is a consumed interface, not core logic); this
// mirrors the reference simulator's radio_env.py, which also carries a
// single fixed DEFAULT_AIRTIME_MS rather than deriving one per packet.
const airtimeDefaultMS = 200

// quietHoursDefaultMax is the reduced forward budget applied during a
// configured quiet-hours window, in place of ratelimit.ForwardMax.
const quietHoursDefaultMax = 30

// snrDelayWeights are the per-millisecond-of-airtime delay weights
// (thousandths) indexed 0 (worst SNR) to 10 (best SNR).
var snrDelayWeights = [11]int64{1293, 1105, 936, 783, 645, 521, 410, 310, 220, 139, 65}

// Config configures a Router for one node.
type Config struct {
	// SelfHash is this node's one-byte identity fingerprint.
	SelfHash byte
	// MaxFloodHops is carried as configuration only (New defaults it to
	// wire.MaxPathSize when unset). ShouldForward does not read it: its
	// flood hop limit is fixed, rejecting a packet whose path already has
	// wire.MaxPathSize-1 or more entries.
	MaxFloodHops int
	// AirtimeMS is the modelled transmission duration used as the
	// scheduling base unit for delay/jitter computation. Defaults to
	// airtimeDefaultMS when zero.
	AirtimeMS int64
	// RNGSeed seeds the jitter RNG. Scenarios that need reproducible
	// delays should pass a fixed seed; production use can seed from
	// process entropy.
	RNGSeed int64
}

// isAddressableType reports payload types whose first payload byte names
// a destination hash; if that destination is us, we consume the packet
// rather than forward it.
func isAddressableType(pt wire.PayloadType) bool {
	switch pt {
	case wire.PayloadAnonReq, wire.PayloadRequest, wire.PayloadResponse:
		return true
	default:
		return false
	}
}

// Router makes forwarding decisions and rewrites/enqueues admitted packets.
// It holds no transport of its own: the caller supplies a shared TX queue
// (the same queue the node uses for its own originated traffic) and reads
// outcomes back via HandlePacket's return value for logging/stats.
type Router struct {
	cfg      Config
	clock    clock.Source
	dedup    *dedup.Cache
	limiter  *ratelimit.Limiter
	breakers *linkhealth.Breakers
	queue    *txqueue.Queue
	rng      *rand.Rand

	quietEnabled    bool
	quietStartHour  int
	quietEndHour    int
	quietForwardMax int
	inQuietPeriod   bool
}

// New returns a Router sharing queue with the node's own outbound traffic,
// and using the given dedup cache (typically the node's shared packet
// cache, since dedup state is a property of the node, not the router).
func New(cfg Config, src clock.Source, dedupCache *dedup.Cache, queue *txqueue.Queue) *Router {
	if cfg.MaxFloodHops <= 0 {
		cfg.MaxFloodHops = wire.MaxPathSize
	}
	if cfg.AirtimeMS <= 0 {
		cfg.AirtimeMS = airtimeDefaultMS
	}
	return &Router{
		cfg:      cfg,
		clock:    src,
		dedup:    dedupCache,
		limiter:  ratelimit.New(ratelimit.ForwardMax, ratelimit.ForwardWindowSec),
		breakers: linkhealth.NewDefaultBreakers(src),
		queue:    queue,
		rng:      rand.New(rand.NewSource(cfg.RNGSeed)),
	}
}

// Outcome reports what HandlePacket did with a received packet.
type Outcome int

const (
	// NotForwarded means the packet did not pass the admission predicate
	// (weak RSSI, not flood/direct, not addressed to us as next hop,
	// addressed to us as final recipient, already seen, or a flood
	// loop/hop-limit hit).
	NotForwarded Outcome = iota
	// RateLimited means the packet was admitted but dropped by the
	// forward rate limiter.
	RateLimited
	// CircuitOpen means the packet was admitted but the breaker toward
	// the next hop is open.
	CircuitOpen
	// Forwarded means the packet was rewritten and enqueued.
	Forwarded
)

// ShouldForward applies the admission predicate from the firmware's
// shouldForward(), in its exact order: route-class check, RSSI gate, direct
// next-hop check, self-addressed check, dedup check, then flood
// loop/hop-limit checks. It mutates dedup state (a packet is only ever
// admitted once).
func (r *Router) ShouldForward(pkt *wire.Packet) bool {
	isFlood := pkt.IsFlood()
	isDirect := pkt.IsDirect()

	if !isFlood && !isDirect {
		return false
	}

	if pkt.RSSI < rssiFloorDBm {
		return false
	}

	if isDirect {
		if pkt.PathLen() == 0 {
			return false
		}
		if pkt.Path[0] != r.cfg.SelfHash {
			return false
		}
	}

	pt := pkt.PayloadType()
	if isAddressableType(pt) && pkt.PayloadLen() > 0 && pkt.Payload[0] == r.cfg.SelfHash {
		return false
	}

	if !r.dedup.AddIfNew(pkt.Fingerprint()) {
		return false
	}

	if isFlood {
		for _, hop := range pkt.Path {
			if hop == r.cfg.SelfHash {
				return false
			}
		}
		if pkt.PathLen() >= wire.MaxPathSize-1 {
			return false
		}
	}

	return true
}

// snrDelayIndex maps an SNR sample (quarter-dB) to a 0..10 delay-weight
// index: index = clamp((snr+80)*10/140, 0, 10), i.e. -80 (-20.0dB) -> 0 and
// 60 (+15.0dB) -> 10.
func snrDelayIndex(snrQuarterDB int32) int {
	idx := (int64(snrQuarterDB) + 80) * 10 / 140
	if idx < 0 {
		idx = 0
	}
	if idx > 10 {
		idx = 10
	}
	return int(idx)
}

// snrDelay returns the SNR-weighted portion of a flood-class forward delay.
func snrDelay(snrQuarterDB int32, airtimeMS int64) int64 {
	return snrDelayWeights[snrDelayIndex(snrQuarterDB)] * airtimeMS / 1000
}

// randomJitter samples uniformly from {0,1,...,6} x 2 x airtimeMS.
func (r *Router) randomJitter(airtimeMS int64) int64 {
	return int64(r.rng.Intn(7)) * 2 * airtimeMS
}

// computeDelayMS returns the scheduling delay for an admitted packet:
// direct-class delay is random_jitter(airtime)/2; flood-class delay is
// snr_delay(snr,airtime) + random_jitter(airtime). This is an informational
// scheduling hint, not a blocking sleep: callers may use it to order or
// defer actual transmission.
func (r *Router) computeDelayMS(pkt *wire.Packet, isDirect bool) int64 {
	airtime := r.cfg.AirtimeMS
	jitter := r.randomJitter(airtime)
	if isDirect {
		return jitter / 2
	}
	return snrDelay(pkt.SNR, airtime) + jitter
}

// HandlePacket runs the full forwarding pipeline for a received packet:
// admission, forward-rate gate (quiet-hours aware), per-peer circuit
// breaker gate, path rewrite, and enqueue. It returns the outcome, the
// rewritten packet when Forwarded, and the scheduling delay computed for
// it.
func (r *Router) HandlePacket(pkt *wire.Packet) (Outcome, *wire.Packet, int64) {
	if !r.ShouldForward(pkt) {
		return NotForwarded, nil, 0
	}

	nowSecs := r.clock.MillisNow() / 1000
	if !r.limiter.Allow(nowSecs) {
		return RateLimited, nil, 0
	}

	isDirect := pkt.IsDirect()
	delayMS := r.computeDelayMS(pkt, isDirect)

	fwd := pkt.Clone()
	if isDirect {
		// path[0] is always our own hash here (checked by ShouldForward);
		// peeling it off leaves the next hop, if any, at the new path[0].
		fwd.Path = fwd.Path[1:]
		if len(fwd.Path) > 0 && !r.breakers.Allow(fwd.Path[0]) {
			return CircuitOpen, nil, 0
		}
	} else {
		fwd.Path = append(fwd.Path, r.cfg.SelfHash)
	}

	r.queue.Add(fwd)
	return Forwarded, fwd, delayMS
}

// RecordNeighbourSample feeds one neighbour's SNR sample into that peer's
// circuit breaker. Repeater calls it for each zero-hop advert received from
// a repeater peer.
func (r *Router) RecordNeighbourSample(peer byte, snrQuarterDB int32) {
	r.breakers.RecordSample(peer, snrQuarterDB)
}

// TickCircuitBreakers re-evaluates open breakers' timeouts, moving any that
// have gone quiet for linkhealth.OpenTimeoutMS to half-open.
func (r *Router) TickCircuitBreakers() {
	r.breakers.Tick()
}

// OpenCircuitBreakers returns how many peers currently have an open
// breaker.
func (r *Router) OpenCircuitBreakers() int {
	return r.breakers.OpenCount()
}

// SetQuietHours enables a local-time window, identified by start/end wall
// hour (0-23, wrapping overnight if start > end), during which the forward
// rate limiter's budget is reduced to maxFwd (or quietHoursDefaultMax if
// omitted). It takes effect the next time EvaluateQuietHours runs.
func (r *Router) SetQuietHours(startHour, endHour int, maxFwd ...int) {
	r.quietEnabled = true
	r.quietStartHour = startHour
	r.quietEndHour = endHour
	r.quietForwardMax = quietHoursDefaultMax
	if len(maxFwd) > 0 {
		r.quietForwardMax = maxFwd[0]
	}
}

// DisableQuietHours turns off the quiet-hours window and immediately
// restores the full forward budget.
func (r *Router) DisableQuietHours() {
	r.quietEnabled = false
	r.inQuietPeriod = false
	r.limiter.SetMaxCount(ratelimit.ForwardMax)
}

// IsQuietHoursEnabled reports whether a quiet-hours window is configured.
func (r *Router) IsQuietHoursEnabled() bool {
	return r.quietEnabled
}

// EvaluateQuietHours re-checks whether hour (0-23) falls inside the
// configured quiet-hours window and swaps the forward limiter's budget
// accordingly. It is a no-op if quiet hours are not enabled.
func (r *Router) EvaluateQuietHours(hour int) {
	if !r.quietEnabled {
		return
	}

	active := inWindow(hour, r.quietStartHour, r.quietEndHour)
	if active == r.inQuietPeriod {
		return
	}

	r.inQuietPeriod = active
	if active {
		r.limiter.SetMaxCount(r.quietForwardMax)
	} else {
		r.limiter.SetMaxCount(ratelimit.ForwardMax)
	}
}

// inWindow reports whether hour falls in [start, end), wrapping past
// midnight when start > end (e.g. 22..6 covers 22,23,0,1,..,5).
func inWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
