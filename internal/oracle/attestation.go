package oracle

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
)

// attestationDomain separates oracle signatures from any other ed25519 use.
const attestationDomain = "potkeeper/vrf/v1"

// Attestation binds a random value to a specific commitment slot under the
// oracle's signing key. Settlement must never be submitted without verifying
// one of these against the slot the keeper committed on the ledger.
type Attestation struct {
	CommitSlot uint64
	Value      [32]byte
	Signature  []byte
}

// Message returns the domain-separated bytes covered by the signature.
func (a *Attestation) Message() []byte {
	msg := make([]byte, 0, len(attestationDomain)+40)
	msg = append(msg, attestationDomain...)
	var slot [8]byte
	binary.LittleEndian.PutUint64(slot[:], a.CommitSlot)
	msg = append(msg, slot[:]...)
	msg = append(msg, a.Value[:]...)
	return msg
}

// Verify checks the attestation against the pinned oracle public key and the
// commitment slot recorded on the ledger. Any mismatch makes the attestation
// unusable for settlement.
func Verify(a *Attestation, oracleKey ed25519.PublicKey, committedSlot uint64) error {
	if a == nil {
		return fmt.Errorf("%w: missing attestation", ErrInvalidAttestation)
	}
	if len(oracleKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: oracle key must be %d bytes", ErrInvalidAttestation, ed25519.PublicKeySize)
	}
	if a.CommitSlot != committedSlot {
		return fmt.Errorf("%w: attestation slot %d does not match committed slot %d",
			ErrInvalidAttestation, a.CommitSlot, committedSlot)
	}
	if len(a.Signature) != ed25519.SignatureSize || !ed25519.Verify(oracleKey, a.Message(), a.Signature) {
		return fmt.Errorf("%w: signature check failed", ErrInvalidAttestation)
	}
	return nil
}
