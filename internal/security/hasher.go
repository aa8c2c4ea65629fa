// Package security provides the fingerprint hash functions used by the
// ledger chain and the simulated cold-storage sweep hook.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"lukechampine.com/blake3"
)

// Hasher computes a fixed-size digest. Name is recorded in every fingerprint
// so a chain written with one algorithm can still be verified after the
// default changes.
type Hasher interface {
	Name() string
	Sum(data []byte) []byte
}

const (
	AlgSHA256  = "sha256"
	AlgBLAKE3  = "blake3"
	AlgBLAKE2b = "blake2b"
)

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return AlgSHA256 }
func (sha256Hasher) Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

type blake3Hasher struct{}

func (blake3Hasher) Name() string { return AlgBLAKE3 }
func (blake3Hasher) Sum(data []byte) []byte {
	h := blake3.Sum256(data)
	return h[:]
}

type blake2bHasher struct{}

func (blake2bHasher) Name() string { return AlgBLAKE2b }
func (blake2bHasher) Sum(data []byte) []byte {
	h := blake2b.Sum256(data)
	return h[:]
}

// NewHasher returns the hasher registered under name. Empty selects sha256.
func NewHasher(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", AlgSHA256:
		return sha256Hasher{}, nil
	case AlgBLAKE3:
		return blake3Hasher{}, nil
	case AlgBLAKE2b:
		return blake2bHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// Fingerprint hashes data and returns "<alg>:<hex>".
func Fingerprint(h Hasher, data []byte) string {
	return h.Name() + ":" + hex.EncodeToString(h.Sum(data))
}

// HasherFor resolves the hasher that produced fingerprint.
func HasherFor(fingerprint string) (Hasher, error) {
	alg, _, ok := strings.Cut(fingerprint, ":")
	if !ok {
		return nil, fmt.Errorf("fingerprint %q has no algorithm prefix", fingerprint)
	}
	return NewHasher(alg)
}
