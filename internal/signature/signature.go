// Package signature generates key pairs and signs/verifies byte buffers.
//
// Two schemes are available. MockSigner reproduces the placeholder scheme of
// the original demo: it detects tampering but is NOT a security boundary,
// since anyone holding the public key can produce a valid signature.
// Secp256k1Signer is a real ECDSA scheme and should be used for anything
// beyond demos.
package signature

import (
	"fmt"

	"disot/internal/errors"
)

const (
	AlgorithmMockSHA256 = "mock-sha256"
	AlgorithmSecp256k1  = "secp256k1"
)

type Signature struct {
	Value     string `json:"value"`
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"publicKey"`
}

// KeyPair holds hex encoded keys. The private key is never persisted by this
// package; callers own its lifetime.
type KeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

type Signer interface {
	Algorithm() string
	GenerateKeyPair() (KeyPair, error)
	Sign(data []byte, privateKey string) (Signature, error)
	// Verify reports whether sig covers data. Malformed input yields false.
	Verify(data []byte, sig Signature) bool
}

// New returns the signer registered for algorithm.
func New(algorithm string) (Signer, error) {
	switch algorithm {
	case AlgorithmMockSHA256, "":
		return NewMockSigner(), nil
	case AlgorithmSecp256k1:
		return NewSecp256k1Signer(), nil
	}
	return nil, errors.ValidationError(fmt.Sprintf("unknown signature algorithm %q", algorithm), nil)
}
