// Package advert builds and parses MeshCore ADVERT payloads, ported from
// sim/advert.py's build_advert/parse_advert (themselves a port of the
// firmware's AdvertGenerator).
//
// ADVERT payload layout:
//
//	[0:32)    public key
//	[32:36)   unix timestamp, little-endian uint32
//	[36:100)  Ed25519 signature over pubkey‖timestamp‖appdata
//	[100:]    appdata: flags byte, optional 8-byte location, optional name
package advert

import (
	"encoding/binary"
	"errors"

	"github.com/atomozero/meshcore-go/pkg/identity"
	"github.com/atomozero/meshcore-go/pkg/timesync"
	"github.com/atomozero/meshcore-go/pkg/wire"
)

const (
	pubKeyOffset    = 0
	timestampOffset = 32
	signatureOffset = 36
	flagsOffset     = 100
	minSize         = 101

	typeMask       = 0x0F
	typeChatNode   = 0x01
	typeRepeater   = 0x02
	flagHasLocation = 0x10
	flagHasName     = 0x80
)

// ErrTooShort is returned by Parse when payload is shorter than the fixed
// header through the flags byte.
var ErrTooShort = errors.New("advert: payload shorter than minimum advert size")

// Info is the parsed, validated content of a received advert.
type Info struct {
	PubKeyHash byte
	PublicKey  []byte
	Timestamp  int64
	Flags      byte

	HasLocation bool
	Latitude    int32
	Longitude   int32

	HasName bool
	Name    string

	IsRepeater bool
	IsChatNode bool
}

// Build constructs a signed ADVERT packet for identity, stamped with the
// synchronizer's current timestamp estimate.
func Build(id *identity.Identity, ts *timesync.TimeSync, route wire.RouteType) *wire.Packet {
	p := wire.New(route, wire.PayloadAdvert, wire.PayloadVer1)

	timestamp := ts.GetTimestamp()

	appdata := buildAppdata(id)

	signData := make([]byte, 0, len(id.PublicKey)+4+len(appdata))
	signData = append(signData, id.PublicKey...)
	signData = appendUint32LE(signData, uint32(timestamp))
	signData = append(signData, appdata...)
	signature := id.Sign(signData)

	payload := make([]byte, 0, len(id.PublicKey)+4+len(signature)+len(appdata))
	payload = append(payload, id.PublicKey...)
	payload = appendUint32LE(payload, uint32(timestamp))
	payload = append(payload, signature...)
	payload = append(payload, appdata...)

	p.Payload = payload
	return p
}

func buildAppdata(id *identity.Identity) []byte {
	buf := []byte{id.Flags}

	if id.HasLocation() {
		buf = appendInt32LE(buf, id.Latitude)
		buf = appendInt32LE(buf, id.Longitude)
	}

	if id.Flags&flagHasName != 0 {
		name := []byte(id.Name)
		if len(name) > identity.NodeNameMax-1 {
			name = name[:identity.NodeNameMax-1]
		}
		buf = append(buf, name...)
	}

	return buf
}

// ExtractTimestamp returns just the timestamp field without full
// validation, used by callers that need a cheap "is this newer" check.
func ExtractTimestamp(payload []byte) int64 {
	if len(payload) < minSize {
		return 0
	}
	return int64(binary.LittleEndian.Uint32(payload[timestampOffset:]))
}

// Parse validates and decodes an ADVERT payload into Info. It applies the
// firmware's tolerance rule: if the flags byte doesn't look like a valid
// node-type/flags byte (high bit clear, or node type out of range), the
// advert is still accepted as a legacy chat node with a name, rather than
// rejected outright; the name is then read from the bytes after the flags
// byte.
func Parse(payload []byte) (*Info, error) {
	if len(payload) < minSize {
		return nil, ErrTooShort
	}

	info := &Info{
		PublicKey:  append([]byte(nil), payload[pubKeyOffset:pubKeyOffset+identity.PublicKeySize]...),
		PubKeyHash: payload[pubKeyOffset],
		Timestamp:  int64(binary.LittleEndian.Uint32(payload[timestampOffset:])),
		Flags:      payload[flagsOffset],
	}

	pos := flagsOffset
	nodeType := info.Flags & typeMask
	hasValidFlags := info.Flags&0x80 != 0 && nodeType <= 0x04

	if hasValidFlags {
		pos++
		info.IsRepeater = nodeType == typeRepeater
		info.IsChatNode = nodeType == typeChatNode
		info.HasLocation = info.Flags&flagHasLocation != 0
		info.HasName = info.Flags&flagHasName != 0

		if info.HasLocation && len(payload) >= pos+8 {
			info.Latitude = int32(binary.LittleEndian.Uint32(payload[pos:]))
			info.Longitude = int32(binary.LittleEndian.Uint32(payload[pos+4:]))
			pos += 8
		}
	} else {
		pos++
		info.Flags = typeChatNode | flagHasName
		info.IsChatNode = true
		info.HasName = true
	}

	if info.HasName && len(payload) > pos {
		nameLen := len(payload) - pos
		if nameLen > identity.NodeNameMax-1 {
			nameLen = identity.NodeNameMax - 1
		}
		info.Name = string(payload[pos : pos+nameLen])
	} else {
		info.Name = defaultName(info.PubKeyHash)
	}

	return info, nil
}

func defaultName(hash byte) string {
	const hexDigits = "0123456789ABCDEF"
	return "Node-" + string([]byte{hexDigits[hash>>4], hexDigits[hash&0x0F]})
}

func appendUint32LE(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendInt32LE(buf []byte, v int32) []byte {
	return appendUint32LE(buf, uint32(v))
}
