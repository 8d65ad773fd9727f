package services

import (
	"context"
	"errors"

	"github.com/chainpot/keeper/internal/models"
)

// Sentinel errors shared by the service layer so handlers can map them to
// HTTP responses without inspecting message text.
var (
	// ErrInvalidCredentials is returned by Login for a bad email or password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrPotNotWatched is returned when an operation targets a pot the
	// keeper is not currently watching.
	ErrPotNotWatched = errors.New("pot is not watched by this keeper")

	// ErrArchiveDisabled is returned when an archive query is made but the
	// deployment runs without the settlement archive.
	ErrArchiveDisabled = errors.New("settlement archive is disabled")

	// ErrRecordNotFound is returned when an archive lookup matches nothing.
	ErrRecordNotFound = errors.New("no archived record found")
)

// AuthService defines the interface for operator authentication operations
type AuthService interface {
	// Login verifies operator credentials and returns a signed session token
	Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error)

	// CreateOperator registers a new operator account with a hashed password
	CreateOperator(ctx context.Context, email, name, password, role string) (*models.OperatorUser, error)
}

// PotService defines the interface for pot inspection and control operations
type PotService interface {
	// GetPot retrieves the keeper's view of a single pot. Pots outside the
	// watch set are served from the ledger with an empty keeper status.
	GetPot(ctx context.Context, potID uint64) (*models.PotStatus, error)

	// ListPots retrieves the status of every watched pot
	ListPots(ctx context.Context) []*models.PotStatus

	// Watch adds a pot to the keeper's watch set
	Watch(ctx context.Context, potID uint64) bool

	// Unwatch removes a pot from the keeper's watch set
	Unwatch(ctx context.Context, potID uint64) bool

	// Retry clears a faulted pot so the settlement loop picks it up again,
	// and marks its archived fault records as cleared by the operator
	Retry(ctx context.Context, potID uint64, clearedBy string) error

	// GetSettlement retrieves the archived settlement record for a pot
	GetSettlement(ctx context.Context, potID uint64) (*models.SettlementRecord, error)

	// ListSettlements retrieves archived settlement records, newest first
	ListSettlements(ctx context.Context, page, limit int) ([]*models.SettlementRecord, int64, error)

	// ListFaults retrieves archived fault records. A non-nil potID filters
	// to one pot; openOnly restricts to faults not yet cleared.
	ListFaults(ctx context.Context, potID *uint64, openOnly bool, page, limit int) ([]*models.FaultRecord, error)
}

// KeeperService defines the interface for settlement loop control operations
type KeeperService interface {
	// Info retrieves the keeper's identity and loop state
	Info(ctx context.Context) *models.KeeperInfo

	// Start launches the settlement loop
	Start() error

	// Stop halts the settlement loop and waits for the current cycle
	Stop()

	// RefreshDirectory merges newly published pots into the watch set and
	// returns how many were added
	RefreshDirectory(ctx context.Context) (int, error)
}
