package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// Instruction tags understood by the lottery program.
const (
	tagClosePot         byte = 0x01
	tagCommitRandomness byte = 0x02
	tagRevealAndSettle  byte = 0x03
)

// Instruction is one program invocation: target program, the accounts it may
// read or write, and a tag-prefixed little-endian payload.
type Instruction struct {
	Program  string   `json:"program"`
	Accounts []string `json:"accounts"`
	Data     []byte   `json:"data"`
}

// ProgramID returns the deriver's program id in base58 form.
func (d *AddressDeriver) ProgramID() string {
	return base58.Encode(d.programID)
}

// NewClosePotInstruction builds the instruction that moves a pot from Open to
// Closed once its sales window has elapsed.
func NewClosePotInstruction(d *AddressDeriver, potID uint64) Instruction {
	data := make([]byte, 9)
	data[0] = tagClosePot
	binary.LittleEndian.PutUint64(data[1:9], potID)
	return Instruction{
		Program:  d.ProgramID(),
		Accounts: []string{d.Pot(potID)},
		Data:     data,
	}
}

// NewCommitRandomnessInstruction builds the instruction that records the
// commitment slot on the ledger and opens the pot's randomness request
// account. The slot must still be in the future when the program executes.
func NewCommitRandomnessInstruction(d *AddressDeriver, potID, commitSlot uint64) Instruction {
	data := make([]byte, 17)
	data[0] = tagCommitRandomness
	binary.LittleEndian.PutUint64(data[1:9], potID)
	binary.LittleEndian.PutUint64(data[9:17], commitSlot)
	return Instruction{
		Program:  d.ProgramID(),
		Accounts: []string{d.Pot(potID), d.Request(potID)},
		Data:     data,
	}
}

// NewRevealAndSettleInstruction builds the instruction that submits the
// revealed value with its attestation, marks the request consumed and settles
// the pot. The winning ticket account is passed so the program can pay out in
// the same transaction.
func NewRevealAndSettleInstruction(d *AddressDeriver, potID, commitSlot uint64, value [32]byte, attestation []byte, ticketsSold uint64) Instruction {
	data := make([]byte, 113)
	data[0] = tagRevealAndSettle
	binary.LittleEndian.PutUint64(data[1:9], potID)
	binary.LittleEndian.PutUint64(data[9:17], commitSlot)
	copy(data[17:49], value[:])
	copy(data[49:113], attestation)
	winner := WinnerIndex(value, ticketsSold)
	return Instruction{
		Program:  d.ProgramID(),
		Accounts: []string{d.Pot(potID), d.Request(potID), d.Ticket(potID, winner)},
		Data:     data,
	}
}

// WinnerIndex maps a revealed random value onto a ticket index. The program
// performs the same computation on the ledger; the keeper recomputes it for
// the settlement record and to address the winning ticket account.
func WinnerIndex(value [32]byte, ticketsSold uint64) uint64 {
	if ticketsSold == 0 {
		return 0
	}
	return binary.LittleEndian.Uint64(value[:8]) % ticketsSold
}

// Transaction is a signed instruction envelope ready for submission.
type Transaction struct {
	Payer       string
	Instruction Instruction
	Signature   []byte
}

// NewTransaction wraps an instruction for the given fee payer. Sign must be
// called before submission.
func NewTransaction(payer string, ins Instruction) *Transaction {
	return &Transaction{Payer: payer, Instruction: ins}
}

// Message returns the canonical bytes covered by the signature.
func (t *Transaction) Message() ([]byte, error) {
	payer, err := decodeKey(t.Payer, "payer")
	if err != nil {
		return nil, err
	}
	program, err := decodeKey(t.Instruction.Program, "program")
	if err != nil {
		return nil, err
	}
	if len(t.Instruction.Accounts) > 255 {
		return nil, fmt.Errorf("too many accounts: %d", len(t.Instruction.Accounts))
	}
	msg := make([]byte, 0, 69+32*len(t.Instruction.Accounts)+len(t.Instruction.Data))
	msg = append(msg, payer...)
	msg = append(msg, program...)
	msg = append(msg, byte(len(t.Instruction.Accounts)))
	for _, account := range t.Instruction.Accounts {
		raw, err := decodeKey(account, "account")
		if err != nil {
			return nil, err
		}
		msg = append(msg, raw...)
	}
	var dlen [4]byte
	binary.LittleEndian.PutUint32(dlen[:], uint32(len(t.Instruction.Data)))
	msg = append(msg, dlen[:]...)
	msg = append(msg, t.Instruction.Data...)
	return msg, nil
}

// Sign computes the message signature with the given signer and stamps the
// signer as fee payer.
func (t *Transaction) Sign(s *Signer) error {
	t.Payer = s.PublicKey()
	msg, err := t.Message()
	if err != nil {
		return err
	}
	t.Signature = s.Sign(msg)
	return nil
}

// Encode returns the wire form: signature count, signature, message.
func (t *Transaction) Encode() ([]byte, error) {
	if len(t.Signature) != 64 {
		return nil, fmt.Errorf("transaction not signed")
	}
	msg, err := t.Message()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 65+len(msg))
	out = append(out, 1)
	out = append(out, t.Signature...)
	out = append(out, msg...)
	return out, nil
}
