package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// Account seeds used by the lottery program. Every account the keeper touches
// lives at an address derived from the program id, a seed and the pot id, so
// no address book has to be kept anywhere.
const (
	seedPot       = "pot"
	seedRequest   = "vrf"
	seedDirectory = "directory"
	seedTicket    = "ticket"
)

// AddressDeriver computes deterministic account addresses for one program.
type AddressDeriver struct {
	programID []byte
}

// NewAddressDeriver validates the program id and returns a deriver for it.
func NewAddressDeriver(programID string) (*AddressDeriver, error) {
	raw, err := base58.Decode(programID)
	if err != nil {
		return nil, fmt.Errorf("decode program id: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("program id must be 32 bytes, got %d", len(raw))
	}
	return &AddressDeriver{programID: raw}, nil
}

// Pot returns the pot state account address for the given pot id.
func (d *AddressDeriver) Pot(potID uint64) string {
	return d.derive(seedPot, potID)
}

// Request returns the randomness request account address for the given pot id.
func (d *AddressDeriver) Request(potID uint64) string {
	return d.derive(seedRequest, potID)
}

// Directory returns the pot directory account address.
func (d *AddressDeriver) Directory() string {
	h := sha256.New()
	h.Write([]byte(seedDirectory))
	h.Write(d.programID)
	return base58.Encode(h.Sum(nil))
}

// Ticket returns the ticket account address for the given pot id and index.
func (d *AddressDeriver) Ticket(potID, index uint64) string {
	h := sha256.New()
	h.Write([]byte(seedTicket))
	h.Write(d.programID)
	h.Write(u64le(potID))
	h.Write(u64le(index))
	return base58.Encode(h.Sum(nil))
}

func (d *AddressDeriver) derive(seed string, potID uint64) string {
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write(d.programID)
	h.Write(u64le(potID))
	return base58.Encode(h.Sum(nil))
}

func u64le(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}
