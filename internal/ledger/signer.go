package ledger

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
)

// Signer holds the keeper's ed25519 keypair used to sign transactions.
type Signer struct {
	key ed25519.PrivateKey
	pub string
}

// NewSigner wraps an existing private key.
func NewSigner(key ed25519.PrivateKey) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	pub := base58.Encode(key.Public().(ed25519.PublicKey))
	return &Signer{key: key, pub: pub}, nil
}

// GenerateSigner creates a fresh random keypair.
func GenerateSigner() (*Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewSigner(key)
}

// LoadSigner reads a keypair file: a JSON array of 64 byte values, seed
// followed by public key.
func LoadSigner(path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse keypair file: %w", err)
	}
	if len(values) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair file must hold %d bytes, got %d", ed25519.PrivateKeySize, len(values))
	}
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("keypair file byte %d out of range: %d", i, v)
		}
		key[i] = byte(v)
	}
	// The file carries the public half too; make sure it matches the seed.
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("keypair file public key does not match seed")
	}
	return NewSigner(key)
}

// Save writes the keypair to path in the same JSON array format LoadSigner
// reads. The file is created owner-readable only.
func (s *Signer) Save(path string) error {
	values := make([]int, len(s.key))
	for i, b := range s.key {
		values[i] = int(b)
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// PublicKey returns the base58 public key, which is also the fee payer
// address.
func (s *Signer) PublicKey() string {
	return s.pub
}

// Sign signs the message with the keeper key.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.key, msg)
}
