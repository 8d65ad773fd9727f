package oracle

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
)

// Mock is an in-memory oracle with a real signing key, so attestations it
// produces verify exactly like production ones.
type Mock struct {
	mu         sync.Mutex
	key        ed25519.PrivateKey
	readyAfter int
	requests   map[string]*mockRequest
	tamper     func(*Attestation)

	failRequests int
	failPolls    int
	injectedErr  error
}

type mockRequest struct {
	potID      uint64
	commitSlot uint64
	pollsLeft  int
	expired    bool
}

// NewMock creates a mock oracle with a fresh keypair.
func NewMock() *Mock {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return &Mock{
		key:      key,
		requests: make(map[string]*mockRequest),
	}
}

// PublicKey returns the key attestations are signed with.
func (m *Mock) PublicKey() ed25519.PublicKey {
	return m.key.Public().(ed25519.PublicKey)
}

// SetReadyAfter makes new requests answer ErrPending for n polls before the
// attestation is produced.
func (m *Mock) SetReadyAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyAfter = n
}

// SetTamper corrupts every produced attestation until cleared with nil.
func (m *Mock) SetTamper(f func(*Attestation)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tamper = f
}

// Expire marks the request for the pot and slot pair as unfulfillable.
func (m *Mock) Expire(potID, commitSlot uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req, ok := m.requests[handleFor(potID, commitSlot)]; ok {
		req.expired = true
	}
}

// FailNextRequests makes the next n RequestRandomness calls fail with err.
func (m *Mock) FailNextRequests(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRequests = n
	m.injectedErr = err
}

// FailNextPolls makes the next n PollAttestation calls fail with err.
func (m *Mock) FailNextPolls(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPolls = n
	m.injectedErr = err
}

// Value returns the random value the mock derives for a pot and slot pair.
// Tests use it to compute the expected winner up front.
func (m *Mock) Value(potID, commitSlot uint64) [32]byte {
	h := sha256.New()
	h.Write(m.key.Seed())
	h.Write([]byte("value"))
	h.Write(u64le(potID))
	h.Write(u64le(commitSlot))
	var value [32]byte
	copy(value[:], h.Sum(nil))
	return value
}

// RequestRandomness implements Client. Repeat requests for the same pot and
// slot pair return the same handle.
func (m *Mock) RequestRandomness(ctx context.Context, potID, commitSlot uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRequests > 0 {
		m.failRequests--
		return "", m.injectedErr
	}
	handle := handleFor(potID, commitSlot)
	if _, ok := m.requests[handle]; !ok {
		m.requests[handle] = &mockRequest{
			potID:      potID,
			commitSlot: commitSlot,
			pollsLeft:  m.readyAfter,
		}
	}
	return handle, nil
}

// PollAttestation implements Client.
func (m *Mock) PollAttestation(ctx context.Context, handle string) (*Attestation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPolls > 0 {
		m.failPolls--
		return nil, m.injectedErr
	}
	req, ok := m.requests[handle]
	if !ok {
		return nil, fmt.Errorf("%w: unknown handle", ErrExpired)
	}
	if req.expired {
		return nil, ErrExpired
	}
	if req.pollsLeft > 0 {
		req.pollsLeft--
		return nil, ErrPending
	}

	a := &Attestation{CommitSlot: req.commitSlot, Value: m.Value(req.potID, req.commitSlot)}
	a.Signature = ed25519.Sign(m.key, a.Message())
	if m.tamper != nil {
		m.tamper(a)
	}
	return a, nil
}

func handleFor(potID, commitSlot uint64) string {
	h := sha256.New()
	h.Write([]byte("potkeeper/req/v1"))
	h.Write(u64le(potID))
	h.Write(u64le(commitSlot))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func u64le(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}
