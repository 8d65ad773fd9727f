package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/chainpot/keeper/internal/models"
)

// Mock is an in-memory ledger that executes the lottery program's transition
// rules, including its duplicate and out-of-order rejections. Accounts are
// stored in encoded form so reads exercise the same codecs as a real node.
type Mock struct {
	mu       sync.Mutex
	deriver  *AddressDeriver
	now      func() time.Time
	slot     uint64
	window   uint64
	accounts map[string][]byte
	statuses map[string]int // signature -> confirm polls still pending

	failReads     int
	failSubmits   int
	injectedErr   error
	delayConfirms int

	// verifyAttestation, when set, is consulted by reveal/settle the way the
	// program checks the oracle signature on the ledger.
	verifyAttestation func(commitSlot uint64, value [32]byte, attestation []byte) error
}

// NewMock returns an empty mock ledger at slot 1.
func NewMock() *Mock {
	id := sha256.Sum256([]byte("lottery-program"))
	deriver, err := NewAddressDeriver(base58.Encode(id[:]))
	if err != nil {
		panic(err)
	}
	return &Mock{
		deriver:  deriver,
		now:      time.Now,
		slot:     1,
		window:   150,
		accounts: make(map[string][]byte),
		statuses: make(map[string]int),
	}
}

// Deriver returns the address deriver bound to the mock's program id.
func (m *Mock) Deriver() *AddressDeriver {
	return m.deriver
}

// ProgramID returns the mock program's id.
func (m *Mock) ProgramID() string {
	return m.deriver.ProgramID()
}

// SetClock replaces the wall clock used for the close-time check.
func (m *Mock) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetSlot moves the ledger to the given slot height.
func (m *Mock) SetSlot(slot uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot = slot
}

// AdvanceSlot moves the ledger forward by n slots.
func (m *Mock) AdvanceSlot(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot += n
}

// SetRequestWindow sets how many slots a randomness request stays valid.
func (m *Mock) SetRequestWindow(slots uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = slots
}

// SetAttestationCheck installs the program-side attestation verification.
func (m *Mock) SetAttestationCheck(check func(commitSlot uint64, value [32]byte, attestation []byte) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyAttestation = check
}

// FailNextReads makes the next n ReadAccount calls fail with err.
func (m *Mock) FailNextReads(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads = n
	m.injectedErr = err
}

// FailNextSubmits makes the next n SubmitTransaction calls fail with err.
func (m *Mock) FailNextSubmits(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSubmits = n
	m.injectedErr = err
}

// DelayConfirmations makes every subsequent submission report unconfirmed for
// n confirmation polls before turning confirmed.
func (m *Mock) DelayConfirmations(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delayConfirms = n
}

// CreatePot installs a pot account and lists it in the directory.
func (m *Mock) CreatePot(pot *models.Pot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := EncodePotAccount(pot)
	if err != nil {
		return err
	}
	m.accounts[m.deriver.Pot(pot.ID)] = data

	ids := []uint64{}
	if dir, ok := m.accounts[m.deriver.Directory()]; ok {
		ids, err = DecodeDirectory(dir)
		if err != nil {
			return err
		}
	}
	for _, id := range ids {
		if id == pot.ID {
			m.accounts[m.deriver.Directory()] = EncodeDirectory(ids)
			return nil
		}
	}
	ids = append(ids, pot.ID)
	m.accounts[m.deriver.Directory()] = EncodeDirectory(ids)
	return nil
}

// AddTickets appends one ticket per owner to the pot, in purchase order.
func (m *Mock) AddTickets(potID uint64, owners ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pot, err := m.loadPot(potID)
	if err != nil {
		return err
	}
	for _, owner := range owners {
		ticket := &models.Ticket{
			PotID:       potID,
			Index:       pot.TicketsSold,
			Owner:       owner,
			PurchasedAt: m.now(),
		}
		data, err := EncodeTicketAccount(ticket)
		if err != nil {
			return err
		}
		m.accounts[m.deriver.Ticket(potID, ticket.Index)] = data
		pot.TicketsSold++
	}
	return m.storePot(pot)
}

// Pot decodes the current pot account for assertions.
func (m *Mock) Pot(potID uint64) (*models.Pot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadPot(potID)
}

// Request decodes the current randomness request account, or returns
// ErrNotFound when none exists.
func (m *Mock) Request(potID uint64) (*models.RandomnessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.accounts[m.deriver.Request(potID)]
	if !ok {
		return nil, ErrNotFound
	}
	return DecodeRequestAccount(data)
}

// MockKey returns a deterministic 32-byte base58 key for the label. Handy for
// seeding owners and authorities in tests.
func MockKey(label string) string {
	h := sha256.Sum256([]byte(label))
	return base58.Encode(h[:])
}

// CurrentSlot implements Client.
func (m *Mock) CurrentSlot(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot, nil
}

// ReadAccount implements Client.
func (m *Mock) ReadAccount(ctx context.Context, address string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads > 0 {
		m.failReads--
		return nil, m.injectedErr
	}
	data, ok := m.accounts[address]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// SubmitTransaction implements Client. The instruction is executed against
// the stored accounts under the program's transition rules before the
// signature is returned.
func (m *Mock) SubmitTransaction(ctx context.Context, tx *Transaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSubmits > 0 {
		m.failSubmits--
		return "", m.injectedErr
	}

	msg, err := tx.Message()
	if err != nil {
		return "", &RejectionError{Message: err.Error()}
	}
	payer, err := base58.Decode(tx.Payer)
	if err != nil || len(payer) != 32 || !ed25519.Verify(ed25519.PublicKey(payer), msg, tx.Signature) {
		return "", &RejectionError{Message: "signature verification failed"}
	}

	sig := base58.Encode(sigHash(msg))
	if _, seen := m.statuses[sig]; seen {
		// Identical resubmission, deduplicated by signature.
		return sig, nil
	}
	if err := m.execute(tx.Instruction); err != nil {
		return "", err
	}
	m.statuses[sig] = m.delayConfirms
	return sig, nil
}

// ConfirmTransaction implements Client.
func (m *Mock) ConfirmTransaction(ctx context.Context, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending, ok := m.statuses[signature]
	if !ok {
		return ErrUnconfirmed
	}
	if pending > 0 {
		m.statuses[signature] = pending - 1
		return ErrUnconfirmed
	}
	return nil
}

func (m *Mock) execute(ins Instruction) error {
	if len(ins.Data) == 0 {
		return &RejectionError{Message: "empty instruction"}
	}
	switch ins.Data[0] {
	case tagClosePot:
		if len(ins.Data) != 9 {
			return &RejectionError{Message: "malformed close instruction"}
		}
		return m.closePot(binary.LittleEndian.Uint64(ins.Data[1:9]))
	case tagCommitRandomness:
		if len(ins.Data) != 17 {
			return &RejectionError{Message: "malformed commit instruction"}
		}
		return m.commitRandomness(
			binary.LittleEndian.Uint64(ins.Data[1:9]),
			binary.LittleEndian.Uint64(ins.Data[9:17]),
		)
	case tagRevealAndSettle:
		if len(ins.Data) != 113 {
			return &RejectionError{Message: "malformed settle instruction"}
		}
		var value [32]byte
		copy(value[:], ins.Data[17:49])
		attestation := make([]byte, 64)
		copy(attestation, ins.Data[49:113])
		return m.revealAndSettle(
			binary.LittleEndian.Uint64(ins.Data[1:9]),
			binary.LittleEndian.Uint64(ins.Data[9:17]),
			value,
			attestation,
		)
	}
	return &RejectionError{Message: fmt.Sprintf("unknown instruction tag %#x", ins.Data[0])}
}

func (m *Mock) closePot(potID uint64) error {
	pot, err := m.loadPot(potID)
	if err != nil {
		return &RejectionError{Message: "unknown pot"}
	}
	if pot.Phase != models.PotPhaseOpen {
		return &RejectionError{Code: CodePotAlreadyClosed, Message: "pot already closed"}
	}
	if m.now().Before(pot.ClosesAt) {
		return &RejectionError{Code: CodePotStillOpen, Message: "sales window still open"}
	}
	if pot.TicketsSold == 0 {
		// Nothing to draw; the program settles an empty pot on close.
		pot.Phase = models.PotPhaseSettled
	} else {
		pot.Phase = models.PotPhaseClosed
	}
	return m.storePot(pot)
}

func (m *Mock) commitRandomness(potID, commitSlot uint64) error {
	pot, err := m.loadPot(potID)
	if err != nil {
		return &RejectionError{Message: "unknown pot"}
	}
	switch pot.Phase {
	case models.PotPhaseOpen:
		return &RejectionError{Code: CodeWrongPhase, Message: "pot not closed yet"}
	case models.PotPhaseClosed:
	case models.PotPhaseRandomnessCommitted:
		req, err := m.loadRequest(potID)
		if err != nil {
			return &RejectionError{Message: "request account missing"}
		}
		if m.slot <= req.ExpirySlot {
			return &RejectionError{Code: CodeRequestExists, Message: "active request exists"}
		}
		// Expired without settlement; a fresh commitment replaces it.
	default:
		return &RejectionError{Code: CodeAlreadySettled, Message: "pot already settled"}
	}
	if commitSlot <= m.slot {
		return &RejectionError{Code: CodeBadCommitSlot, Message: "commitment slot not in the future"}
	}

	req := &models.RandomnessRequest{
		PotID:       potID,
		CommitSlot:  commitSlot,
		ExpirySlot:  commitSlot + m.window,
		RequestedAt: m.now(),
	}
	data, err := EncodeRequestAccount(req)
	if err != nil {
		return &RejectionError{Message: err.Error()}
	}
	m.accounts[m.deriver.Request(potID)] = data
	pot.Phase = models.PotPhaseRandomnessCommitted
	pot.CommitSlot = &req.CommitSlot
	return m.storePot(pot)
}

func (m *Mock) revealAndSettle(potID, commitSlot uint64, value [32]byte, attestation []byte) error {
	pot, err := m.loadPot(potID)
	if err != nil {
		return &RejectionError{Message: "unknown pot"}
	}
	switch pot.Phase {
	case models.PotPhaseSettled, models.PotPhaseClosedOut:
		return &RejectionError{Code: CodeAlreadySettled, Message: "pot already settled"}
	case models.PotPhaseRandomnessCommitted:
	default:
		return &RejectionError{Code: CodeNoActiveRequest, Message: "no committed randomness"}
	}
	if pot.CommitSlot == nil || *pot.CommitSlot != commitSlot {
		return &RejectionError{Code: CodeBadAttestation, Message: "commitment slot mismatch"}
	}
	if m.verifyAttestation != nil {
		if err := m.verifyAttestation(commitSlot, value, attestation); err != nil {
			return &RejectionError{Code: CodeBadAttestation, Message: err.Error()}
		}
	}
	req, err := m.loadRequest(potID)
	if err != nil {
		return &RejectionError{Message: "request account missing"}
	}

	winner := WinnerIndex(value, pot.TicketsSold)
	ticketData, ok := m.accounts[m.deriver.Ticket(potID, winner)]
	if !ok {
		return &RejectionError{Message: "winning ticket account missing"}
	}
	ticket, err := DecodeTicketAccount(ticketData)
	if err != nil {
		return &RejectionError{Message: err.Error()}
	}

	hexValue := fmt.Sprintf("%x", value)
	req.Revealed = true
	req.Value = &hexValue
	req.Consumed = true
	reqData, err := EncodeRequestAccount(req)
	if err != nil {
		return &RejectionError{Message: err.Error()}
	}
	m.accounts[m.deriver.Request(potID)] = reqData

	pot.Phase = models.PotPhaseSettled
	pot.Randomness = &hexValue
	pot.Winner = &ticket.Owner
	pot.WinningTicket = &winner
	return m.storePot(pot)
}

func (m *Mock) loadPot(potID uint64) (*models.Pot, error) {
	data, ok := m.accounts[m.deriver.Pot(potID)]
	if !ok {
		return nil, ErrNotFound
	}
	pot, err := DecodePotAccount(data)
	if err != nil {
		return nil, err
	}
	pot.Address = m.deriver.Pot(potID)
	return pot, nil
}

func (m *Mock) loadRequest(potID uint64) (*models.RandomnessRequest, error) {
	data, ok := m.accounts[m.deriver.Request(potID)]
	if !ok {
		return nil, ErrNotFound
	}
	return DecodeRequestAccount(data)
}

func (m *Mock) storePot(pot *models.Pot) error {
	data, err := EncodePotAccount(pot)
	if err != nil {
		return err
	}
	m.accounts[m.deriver.Pot(pot.ID)] = data
	return nil
}

func sigHash(msg []byte) []byte {
	h := sha256.Sum256(msg)
	return h[:]
}
