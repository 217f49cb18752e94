// Package identity implements the mesh node's Ed25519 identity: keypair,
// fingerprint, display name, and optional signed location, ported from
// sim/identity.py (itself a port of the firmware's Identity.h).
package identity

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/ed25519"
)

const (
	PublicKeySize  = ed25519.PublicKeySize
	SignatureSize  = ed25519.SignatureSize
	NodeNameMax    = 16

	// FlagHasLocation mirrors the advert appdata flag bit, reused here so
	// an Identity can report whether it carries a location without a
	// dependency on pkg/wire.
	FlagHasLocation = 0x10
)

// Identity is the Ed25519 identity of a mesh node: its signing keypair,
// single-byte fingerprint, display name, and optional location.
type Identity struct {
	PublicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey

	Name string

	Flags     uint8
	Latitude  int32 // microdegrees
	Longitude int32 // microdegrees
}

// New generates a fresh Ed25519 identity. If name is empty, a default
// "CC-XXYYZZ" name is derived from the first three public key bytes, the
// same convention node.py uses.
func New(name string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return fromKeyPair(pub, priv, name), nil
}

// FromSeed deterministically derives an identity from a 32-byte seed, so
// the same seed always yields the same keypair and hash.
func FromSeed(seed []byte, name string) *Identity {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return fromKeyPair(pub, priv, name)
}

func fromKeyPair(pub ed25519.PublicKey, priv ed25519.PrivateKey, name string) *Identity {
	if name == "" {
		name = fmt.Sprintf("CC-%02X%02X%02X", pub[0], pub[1], pub[2])
	}
	return &Identity{
		PublicKey:  pub,
		privateKey: priv,
		Name:       name,
	}
}

// Hash is the one-byte fingerprint used throughout the mesh to identify
// this node in paths, sighting tables, and the dedup cache: the first byte
// of the public key.
func (id *Identity) Hash() byte {
	return id.PublicKey[0]
}

// Sign returns a 64-byte Ed25519 signature over data.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.privateKey, data)
}

// Verify checks an Ed25519 signature over data against publicKey.
func Verify(publicKey, data, signature []byte) bool {
	if len(publicKey) != PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, signature)
}

// SetLocation sets lat/lon in microdegrees and toggles FlagHasLocation
// accordingly; (0, 0) clears the flag, matching the firmware convention
// that the null island coordinate means "no location set".
func (id *Identity) SetLocation(latMicro, lonMicro int32) {
	id.Latitude = latMicro
	id.Longitude = lonMicro
	if latMicro != 0 || lonMicro != 0 {
		id.Flags |= FlagHasLocation
	} else {
		id.Flags &^= FlagHasLocation
	}
}

// HasLocation reports whether FlagHasLocation is set.
func (id *Identity) HasLocation() bool {
	return id.Flags&FlagHasLocation != 0
}
