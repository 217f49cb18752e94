// Package wire implements the MeshCore packet wire format: header packing,
// serialization, deserialization, and the DJB2-style packet fingerprint used
// for mesh-wide deduplication.
//
// Wire format (bit-exact, see spec §6):
//
//	byte 0:    header   = route[2] | type[4]<<2 | version[2]<<6
//	byte 1:    path_len ∈ [0,MaxPathSize]
//	bytes 2..:  path (one byte per hop fingerprint)
//	remaining:  payload, truncated to MaxPayloadSize on decode
package wire

import "errors"

// Size limits from spec §3/§6.
const (
	MaxPathSize    = 64
	MaxPayloadSize = 180
	MaxPacketSize  = 2 + MaxPathSize + MaxPayloadSize
)

// Route types (2 bits).
type RouteType uint8

const (
	RouteTransportFlood RouteType = 0x00
	RouteFlood          RouteType = 0x01
	RouteDirect         RouteType = 0x02
	RouteTransportDirect RouteType = 0x03

	routeMask = 0x03
)

// IsFloodClass reports whether rt is flood or transport-flood.
func (rt RouteType) IsFloodClass() bool {
	return rt == RouteFlood || rt == RouteTransportFlood
}

// IsDirectClass reports whether rt is direct or transport-direct.
func (rt RouteType) IsDirectClass() bool {
	return rt == RouteDirect || rt == RouteTransportDirect
}

// Payload types (4 bits), a closed set per spec §3.
type PayloadType uint8

const (
	PayloadRequest   PayloadType = 0x00
	PayloadResponse  PayloadType = 0x01
	PayloadPlain     PayloadType = 0x02
	PayloadAck       PayloadType = 0x03
	PayloadAdvert    PayloadType = 0x04
	PayloadGroupText PayloadType = 0x05
	PayloadGroupData PayloadType = 0x06
	PayloadAnonReq   PayloadType = 0x07
	PayloadPathReturn PayloadType = 0x08
	PayloadPathTrace  PayloadType = 0x09
	PayloadMultipart  PayloadType = 0x0A
	PayloadControl    PayloadType = 0x0B
	PayloadRaw        PayloadType = 0x0F

	payloadTypeMask  = 0x0F
	payloadTypeShift = 2
)

// Payload version (2 bits).
const (
	PayloadVer1 uint8 = 0x00

	versionMask  = 0x03
	versionShift = 6
)

var (
	// ErrShort is returned when a buffer is too short to even contain a
	// header and path-length byte.
	ErrShort = errors.New("wire: packet too short")
	// ErrOverpath is returned when the declared path length exceeds
	// MaxPathSize or the remaining buffer.
	ErrOverpath = errors.New("wire: path length exceeds limit or buffer")
)

// MakeHeader packs route/payload/version into a single header byte.
func MakeHeader(route RouteType, payload PayloadType, version uint8) byte {
	return byte(route)&routeMask |
		(byte(payload)&payloadTypeMask)<<payloadTypeShift |
		(version&versionMask)<<versionShift
}

func headerRoute(h byte) RouteType {
	return RouteType(h & routeMask)
}

func headerPayload(h byte) PayloadType {
	return PayloadType((h >> payloadTypeShift) & payloadTypeMask)
}

func headerVersion(h byte) uint8 {
	return (h >> versionShift) & versionMask
}

// Packet is a wire frame plus transient reception metadata that is never
// transmitted (RSSI, SNR, reception timestamp).
type Packet struct {
	Header  byte
	Path    []byte
	Payload []byte

	// Reception metadata, not part of the wire encoding.
	RSSI   int32 // dBm
	SNR    int32 // quarter-dB fixed point
	RxTime int64 // ms
}

// New returns an empty packet with the given header fields set.
func New(route RouteType, payload PayloadType, version uint8) *Packet {
	return &Packet{Header: MakeHeader(route, payload, version)}
}

func (p *Packet) RouteType() RouteType     { return headerRoute(p.Header) }
func (p *Packet) PayloadType() PayloadType { return headerPayload(p.Header) }
func (p *Packet) Version() uint8           { return headerVersion(p.Header) }
func (p *Packet) PathLen() int             { return len(p.Path) }
func (p *Packet) PayloadLen() int          { return len(p.Payload) }

func (p *Packet) IsFlood() bool  { return p.RouteType().IsFloodClass() }
func (p *Packet) IsDirect() bool { return p.RouteType().IsDirectClass() }

// TotalSize returns the size the packet would occupy on the wire.
func (p *Packet) TotalSize() int {
	return 2 + len(p.Path) + len(p.Payload)
}

// Clone returns a deep copy safe to mutate independently of p (used by the
// forwarder before rewriting path for re-transmission).
func (p *Packet) Clone() *Packet {
	c := &Packet{
		Header: p.Header,
		RSSI:   p.RSSI,
		SNR:    p.SNR,
		RxTime: p.RxTime,
	}
	if p.Path != nil {
		c.Path = append([]byte(nil), p.Path...)
	}
	if p.Payload != nil {
		c.Payload = append([]byte(nil), p.Payload...)
	}
	return c
}

// Serialize writes the packet in wire format: [header][pathLen][path...][payload...].
func (p *Packet) Serialize() []byte {
	buf := make([]byte, 0, p.TotalSize())
	buf = append(buf, p.Header, byte(len(p.Path)))
	buf = append(buf, p.Path...)
	buf = append(buf, p.Payload...)
	return buf
}

// Deserialize parses a wire frame. It rejects inputs whose declared path
// length exceeds MaxPathSize or the remaining buffer, but truncates
// (does not reject) payload bytes beyond MaxPayloadSize.
func Deserialize(data []byte) (*Packet, error) {
	if len(data) < 2 {
		return nil, ErrShort
	}

	pathLen := int(data[1])
	if pathLen > MaxPathSize {
		return nil, ErrOverpath
	}
	if 2+pathLen > len(data) {
		return nil, ErrOverpath
	}

	p := &Packet{Header: data[0]}
	if pathLen > 0 {
		p.Path = append([]byte(nil), data[2:2+pathLen]...)
	}

	payload := data[2+pathLen:]
	if len(payload) > MaxPayloadSize {
		payload = payload[:MaxPayloadSize]
	}
	if len(payload) > 0 {
		p.Payload = append([]byte(nil), payload...)
	}

	return p, nil
}

// Fingerprint computes the DJB2-style 32-bit packet identifier used for
// mesh-wide deduplication: seed 5381, h = ((h<<5)+h) ^ byte, applied to the
// header, then up to the first 8 path bytes, then up to the first 16
// payload bytes. This must match bit-for-bit across every node on the mesh.
func (p *Packet) Fingerprint() uint32 {
	h := uint32(5381)
	h = djb2Step(h, p.Header)

	n := len(p.Path)
	if n > 8 {
		n = 8
	}
	for i := 0; i < n; i++ {
		h = djb2Step(h, p.Path[i])
	}

	n = len(p.Payload)
	if n > 16 {
		n = 16
	}
	for i := 0; i < n; i++ {
		h = djb2Step(h, p.Payload[i])
	}

	return h
}

func djb2Step(h uint32, b byte) uint32 {
	return ((h << 5) + h) ^ uint32(b)
}
