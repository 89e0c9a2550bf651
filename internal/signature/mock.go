package signature

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"disot/internal/errors"
)

const mockKeySize = 32

// MockSigner derives the public key as sha256(privateKey) and signs with
// sha256(publicKey || data).
type MockSigner struct{}

func NewMockSigner() *MockSigner {
	return &MockSigner{}
}

func (MockSigner) Algorithm() string { return AlgorithmMockSHA256 }

func (MockSigner) GenerateKeyPair() (KeyPair, error) {
	priv := make([]byte, mockKeySize)
	if _, err := rand.Read(priv); err != nil {
		return KeyPair{}, fmt.Errorf("reading random key: %w", err)
	}
	return KeyPair{
		PublicKey:  mockPublicKey(priv),
		PrivateKey: hex.EncodeToString(priv),
	}, nil
}

func (MockSigner) Sign(data []byte, privateKey string) (Signature, error) {
	priv, err := hex.DecodeString(privateKey)
	if err != nil || len(priv) != mockKeySize {
		return Signature{}, errors.ValidationError("invalid private key", nil)
	}
	pub := mockPublicKey(priv)
	return Signature{
		Value:     mockDigest(pub, data),
		Algorithm: AlgorithmMockSHA256,
		PublicKey: pub,
	}, nil
}

func (MockSigner) Verify(data []byte, sig Signature) bool {
	if sig.Algorithm != AlgorithmMockSHA256 || sig.PublicKey == "" || sig.Value == "" {
		return false
	}
	want := mockDigest(sig.PublicKey, data)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig.Value)) == 1
}

func mockPublicKey(priv []byte) string {
	sum := sha256.Sum256(priv)
	return hex.EncodeToString(sum[:])
}

func mockDigest(pub string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(pub))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
