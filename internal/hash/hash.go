// Package hash computes content digests and the ContentHash identifiers the
// store and ledger use to address bytes.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"disot/internal/errors"
)

// SHA256 is the only algorithm the service computes.
const SHA256 = "sha256"

// ContentHash identifies content by digest. Value is lowercase hex.
type ContentHash struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

func (h ContentHash) String() string {
	return h.Algorithm + ":" + h.Value
}

func (h ContentHash) Equal(other ContentHash) bool {
	return h.Algorithm == other.Algorithm && h.Value == other.Value
}

func (h ContentHash) IsZero() bool {
	return h.Algorithm == "" && h.Value == ""
}

// Canonical maps algorithm aliases to their canonical name and lowercases
// the digest so equal hashes compare and address identically.
func (h ContentHash) Canonical() ContentHash {
	return ContentHash{Algorithm: normalizeAlgorithm(h.Algorithm), Value: strings.ToLower(h.Value)}
}

// Validate checks the algorithm is known and the value is a well-formed digest.
func (h ContentHash) Validate() error {
	if normalizeAlgorithm(h.Algorithm) != SHA256 {
		return errors.ValidationError(fmt.Sprintf("unsupported hash algorithm %q", h.Algorithm), nil)
	}
	if len(h.Value) != sha256.Size*2 {
		return errors.ValidationError("invalid hash length", map[string]int{"length": len(h.Value)})
	}
	if _, err := hex.DecodeString(h.Value); err != nil {
		return errors.ValidationError("hash value is not hex", nil)
	}
	return nil
}

// CID returns the CIDv1 (raw codec) an IPFS node would assign to the same bytes.
func (h ContentHash) CID() (cid.Cid, error) {
	if err := h.Validate(); err != nil {
		return cid.Undef, err
	}
	digest, _ := hex.DecodeString(h.Value)
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("encoding multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, multihash.Multihash(mh)), nil
}

// Parse accepts "<algorithm>:<hex>" or a bare sha256 hex digest.
func Parse(s string) (ContentHash, error) {
	algo, value, found := strings.Cut(s, ":")
	if !found {
		algo, value = SHA256, s
	}
	h := ContentHash{Algorithm: normalizeAlgorithm(algo), Value: strings.ToLower(value)}
	if err := h.Validate(); err != nil {
		return ContentHash{}, err
	}
	return h, nil
}

// normalizeAlgorithm maps Web Crypto style names ("SHA-256") to ours.
func normalizeAlgorithm(algo string) string {
	switch strings.ToLower(algo) {
	case "sha256", "sha-256":
		return SHA256
	}
	return algo
}

type Hasher interface {
	Hash(data []byte) (ContentHash, error)
	Verify(data []byte, h ContentHash) bool
}

type SHA256Hasher struct{}

func NewHasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

func (SHA256Hasher) Hash(data []byte) (ContentHash, error) {
	sum := sha256.Sum256(data)
	return ContentHash{Algorithm: SHA256, Value: hex.EncodeToString(sum[:])}, nil
}

// Verify recomputes the digest of data and compares it with h.
func (s SHA256Hasher) Verify(data []byte, h ContentHash) bool {
	if normalizeAlgorithm(h.Algorithm) != SHA256 {
		return false
	}
	got, err := s.Hash(data)
	if err != nil {
		return false
	}
	return got.Value == strings.ToLower(h.Value)
}
