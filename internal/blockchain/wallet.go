package blockchain

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// ErrBadKey is returned for credentials that do not decode to an ed25519 keypair
var ErrBadKey = errors.New("invalid private key")

// ParseCredential decodes a user supplied secret into a signing key.
//
// Accepted forms: base58 of a 64 byte keypair (seed followed by public key),
// base58 of a 32 byte seed, or the JSON byte array written by solana-keygen.
// A 64 byte keypair whose public half does not match its seed is rejected.
func ParseCredential(secret string) (solana.PrivateKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadKey)
	}

	var raw []byte
	if strings.HasPrefix(secret, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(secret), &ints); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", ErrBadKey, i)
			}
			raw[i] = byte(v)
		}
	} else {
		decoded, err := base58.Decode(secret)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
		}
		raw = decoded
	}

	switch len(raw) {
	case ed25519.PrivateKeySize:
		derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !bytes.Equal(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
			return nil, fmt.Errorf("%w: public key does not match seed", ErrBadKey)
		}
		return solana.PrivateKey(derived), nil
	case ed25519.SeedSize:
		return solana.PrivateKey(ed25519.NewKeyFromSeed(raw)), nil
	default:
		return nil, fmt.Errorf("%w: length %d (expected 32 or 64)", ErrBadKey, len(raw))
	}
}

// Wallet is a custodial keypair held for one user
type Wallet struct {
	key solana.PrivateKey
}

// NewWallet creates a wallet from any form ParseCredential accepts
func NewWallet(secret string) (*Wallet, error) {
	key, err := ParseCredential(secret)
	if err != nil {
		return nil, err
	}
	return &Wallet{key: key}, nil
}

// GenerateWallet creates a fresh random keypair
func GenerateWallet() (*Wallet, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Wallet{key: key}, nil
}

// Address returns the wallet's public key as Base58 string
func (w *Wallet) Address() string {
	return w.key.PublicKey().String()
}

// PublicKey returns the wallet's public key
func (w *Wallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

// Secret returns the base58 encoded 64 byte keypair for storage
func (w *Wallet) Secret() string {
	return base58.Encode(w.key)
}

// Key returns the signing key
func (w *Wallet) Key() solana.PrivateKey {
	return w.key
}
