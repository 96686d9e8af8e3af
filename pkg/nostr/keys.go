package nostr

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Keys holds the platform secp256k1 keypair
type Keys struct {
	secretKey *btcec.PrivateKey
}

// ParseKeys parses a 32-byte hex secret key
func ParseKeys(secretHex string) (*Keys, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(raw))
	}

	sk, _ := btcec.PrivKeyFromBytes(raw)
	return &Keys{secretKey: sk}, nil
}

// GenerateKeys creates a fresh keypair. Used by tests and tooling.
func GenerateKeys() (*Keys, error) {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Keys{secretKey: sk}, nil
}

// PublicKeyHex returns the x-only public key in hex
func (k *Keys) PublicKeyHex() string {
	return hex.EncodeToString(k.secretKey.PubKey().SerializeCompressed()[1:33])
}

// SecretKeyHex returns the secret key in hex
func (k *Keys) SecretKeyHex() string {
	return hex.EncodeToString(k.secretKey.Serialize())
}
