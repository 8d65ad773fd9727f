package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"github.com/chainpot/keeper/internal/models"
)

// Account discriminators. Every program account starts with an 8-byte tag so
// a read against the wrong address fails loudly instead of decoding garbage.
var (
	potAccountTag       = []byte("potstate")
	requestAccountTag   = []byte("vrfstate")
	ticketAccountTag    = []byte("ticketv1")
	directoryAccountTag = []byte("potindex")
)

// Fixed account sizes in bytes. The program allocates accounts at creation
// time, so optional fields are presence flag plus zeroed slot rather than
// variable-length encoding.
const (
	potAccountSize     = 166
	requestAccountSize = 74
	ticketAccountSize  = 64
	directoryHeadSize  = 12
)

func checkTag(data, tag []byte, size int, name string) error {
	if len(data) < size {
		return fmt.Errorf("%s account too short: %d bytes", name, len(data))
	}
	if !bytes.Equal(data[:8], tag) {
		return fmt.Errorf("not a %s account", name)
	}
	return nil
}

// DecodePotAccount parses a pot state account. The Address field is left
// empty; callers know the address they read from.
func DecodePotAccount(data []byte) (*models.Pot, error) {
	if err := checkTag(data, potAccountTag, potAccountSize, "pot"); err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	phase, err := phaseFromByte(data[82])
	if err != nil {
		return nil, err
	}
	pot := &models.Pot{
		ID:          le.Uint64(data[8:16]),
		Authority:   base58.Encode(data[16:48]),
		TicketPrice: le.Uint64(data[48:56]),
		FeeBps:      le.Uint16(data[56:58]),
		OpensAt:     time.Unix(int64(le.Uint64(data[58:66])), 0).UTC(),
		ClosesAt:    time.Unix(int64(le.Uint64(data[66:74])), 0).UTC(),
		TicketsSold: le.Uint64(data[74:82]),
		Phase:       phase,
	}
	if data[83] == 1 {
		slot := le.Uint64(data[84:92])
		pot.CommitSlot = &slot
	}
	if data[92] == 1 {
		value := hex.EncodeToString(data[93:125])
		pot.Randomness = &value
	}
	if data[125] == 1 {
		winner := base58.Encode(data[126:158])
		ticket := le.Uint64(data[158:166])
		pot.Winner = &winner
		pot.WinningTicket = &ticket
	}
	return pot, nil
}

// EncodePotAccount serializes a pot into account bytes. Used by tests and the
// in-memory ledger; the real program writes the same layout.
func EncodePotAccount(pot *models.Pot) ([]byte, error) {
	data := make([]byte, potAccountSize)
	le := binary.LittleEndian
	copy(data[0:8], potAccountTag)
	le.PutUint64(data[8:16], pot.ID)
	authority, err := decodeKey(pot.Authority, "authority")
	if err != nil {
		return nil, err
	}
	copy(data[16:48], authority)
	le.PutUint64(data[48:56], pot.TicketPrice)
	le.PutUint16(data[56:58], pot.FeeBps)
	le.PutUint64(data[58:66], uint64(pot.OpensAt.Unix()))
	le.PutUint64(data[66:74], uint64(pot.ClosesAt.Unix()))
	le.PutUint64(data[74:82], pot.TicketsSold)
	data[82] = phaseByte(pot.Phase)
	if pot.CommitSlot != nil {
		data[83] = 1
		le.PutUint64(data[84:92], *pot.CommitSlot)
	}
	if pot.Randomness != nil {
		value, err := hex.DecodeString(*pot.Randomness)
		if err != nil || len(value) != 32 {
			return nil, fmt.Errorf("randomness must be 32 hex bytes")
		}
		data[92] = 1
		copy(data[93:125], value)
	}
	if pot.Winner != nil {
		winner, err := decodeKey(*pot.Winner, "winner")
		if err != nil {
			return nil, err
		}
		data[125] = 1
		copy(data[126:158], winner)
		if pot.WinningTicket != nil {
			le.PutUint64(data[158:166], *pot.WinningTicket)
		}
	}
	return data, nil
}

// DecodeRequestAccount parses a randomness request account.
func DecodeRequestAccount(data []byte) (*models.RandomnessRequest, error) {
	if err := checkTag(data, requestAccountTag, requestAccountSize, "randomness request"); err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	req := &models.RandomnessRequest{
		PotID:       le.Uint64(data[8:16]),
		CommitSlot:  le.Uint64(data[16:24]),
		ExpirySlot:  le.Uint64(data[24:32]),
		RequestedAt: time.Unix(int64(le.Uint64(data[32:40])), 0).UTC(),
		Revealed:    data[40] == 1,
		Consumed:    data[73] == 1,
	}
	if req.Revealed {
		value := hex.EncodeToString(data[41:73])
		req.Value = &value
	}
	return req, nil
}

// EncodeRequestAccount serializes a randomness request into account bytes.
func EncodeRequestAccount(req *models.RandomnessRequest) ([]byte, error) {
	data := make([]byte, requestAccountSize)
	le := binary.LittleEndian
	copy(data[0:8], requestAccountTag)
	le.PutUint64(data[8:16], req.PotID)
	le.PutUint64(data[16:24], req.CommitSlot)
	le.PutUint64(data[24:32], req.ExpirySlot)
	le.PutUint64(data[32:40], uint64(req.RequestedAt.Unix()))
	if req.Revealed {
		if req.Value == nil {
			return nil, fmt.Errorf("revealed request has no value")
		}
		value, err := hex.DecodeString(*req.Value)
		if err != nil || len(value) != 32 {
			return nil, fmt.Errorf("randomness must be 32 hex bytes")
		}
		data[40] = 1
		copy(data[41:73], value)
	}
	if req.Consumed {
		data[73] = 1
	}
	return data, nil
}

// DecodeTicketAccount parses a ticket account.
func DecodeTicketAccount(data []byte) (*models.Ticket, error) {
	if err := checkTag(data, ticketAccountTag, ticketAccountSize, "ticket"); err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	return &models.Ticket{
		PotID:       le.Uint64(data[8:16]),
		Index:       le.Uint64(data[16:24]),
		Owner:       base58.Encode(data[24:56]),
		PurchasedAt: time.Unix(int64(le.Uint64(data[56:64])), 0).UTC(),
	}, nil
}

// EncodeTicketAccount serializes a ticket into account bytes.
func EncodeTicketAccount(ticket *models.Ticket) ([]byte, error) {
	data := make([]byte, ticketAccountSize)
	le := binary.LittleEndian
	copy(data[0:8], ticketAccountTag)
	le.PutUint64(data[8:16], ticket.PotID)
	le.PutUint64(data[16:24], ticket.Index)
	owner, err := decodeKey(ticket.Owner, "owner")
	if err != nil {
		return nil, err
	}
	copy(data[24:56], owner)
	le.PutUint64(data[56:64], uint64(ticket.PurchasedAt.Unix()))
	return data, nil
}

// DecodeDirectory parses the pot directory account into the listed pot ids.
func DecodeDirectory(data []byte) ([]uint64, error) {
	if err := checkTag(data, directoryAccountTag, directoryHeadSize, "directory"); err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	count := int(le.Uint32(data[8:12]))
	if len(data) < directoryHeadSize+count*8 {
		return nil, fmt.Errorf("directory account truncated: %d entries, %d bytes", count, len(data))
	}
	ids := make([]uint64, count)
	for i := 0; i < count; i++ {
		ids[i] = le.Uint64(data[directoryHeadSize+i*8 : directoryHeadSize+i*8+8])
	}
	return ids, nil
}

// EncodeDirectory serializes the pot directory account.
func EncodeDirectory(ids []uint64) []byte {
	data := make([]byte, directoryHeadSize+len(ids)*8)
	le := binary.LittleEndian
	copy(data[0:8], directoryAccountTag)
	le.PutUint32(data[8:12], uint32(len(ids)))
	for i, id := range ids {
		le.PutUint64(data[directoryHeadSize+i*8:directoryHeadSize+i*8+8], id)
	}
	return data
}

func phaseFromByte(b byte) (models.PotPhase, error) {
	switch b {
	case 0:
		return models.PotPhaseOpen, nil
	case 1:
		return models.PotPhaseClosed, nil
	case 2:
		return models.PotPhaseRandomnessCommitted, nil
	case 3:
		return models.PotPhaseRandomnessRevealed, nil
	case 4:
		return models.PotPhaseSettled, nil
	case 5:
		return models.PotPhaseClosedOut, nil
	}
	return "", fmt.Errorf("unknown pot phase byte %d", b)
}

func phaseByte(p models.PotPhase) byte {
	switch p {
	case models.PotPhaseOpen:
		return 0
	case models.PotPhaseClosed:
		return 1
	case models.PotPhaseRandomnessCommitted:
		return 2
	case models.PotPhaseRandomnessRevealed:
		return 3
	case models.PotPhaseSettled:
		return 4
	case models.PotPhaseClosedOut:
		return 5
	}
	return 0
}

func decodeKey(s, what string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%s must be 32 bytes, got %d", what, len(raw))
	}
	return raw, nil
}
