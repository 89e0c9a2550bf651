package signature

import (
	"crypto/sha256"
	"encoding/hex"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"disot/internal/errors"
)

// Secp256k1Signer signs sha256(data) with ECDSA over secp256k1. Signatures are
// DER hex; public keys are compressed SEC1 hex.
type Secp256k1Signer struct{}

func NewSecp256k1Signer() *Secp256k1Signer {
	return &Secp256k1Signer{}
}

func (Secp256k1Signer) Algorithm() string { return AlgorithmSecp256k1 }

func (Secp256k1Signer) GenerateKeyPair() (KeyPair, error) {
	priv, err := ec.NewPrivateKey()
	if err != nil {
		return KeyPair{}, errors.Internal("generating secp256k1 key", err)
	}
	return KeyPair{
		PublicKey:  hex.EncodeToString(priv.PubKey().Compressed()),
		PrivateKey: hex.EncodeToString(priv.Serialize()),
	}, nil
}

func (Secp256k1Signer) Sign(data []byte, privateKey string) (Signature, error) {
	raw, err := hex.DecodeString(privateKey)
	if err != nil || len(raw) != 32 {
		return Signature{}, errors.ValidationError("invalid private key", nil)
	}
	priv, pub := ec.PrivateKeyFromBytes(raw)

	digest := sha256.Sum256(data)
	sig, err := priv.Sign(digest[:])
	if err != nil {
		return Signature{}, errors.Internal("signing", err)
	}
	return Signature{
		Value:     hex.EncodeToString(sig.Serialize()),
		Algorithm: AlgorithmSecp256k1,
		PublicKey: hex.EncodeToString(pub.Compressed()),
	}, nil
}

func (Secp256k1Signer) Verify(data []byte, sig Signature) bool {
	if sig.Algorithm != AlgorithmSecp256k1 {
		return false
	}
	pubBytes, err := hex.DecodeString(sig.PublicKey)
	if err != nil {
		return false
	}
	pub, err := ec.PublicKeyFromBytes(pubBytes)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(sig.Value)
	if err != nil {
		return false
	}
	parsed, err := ec.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(data)
	return parsed.Verify(digest[:], pub)
}
