package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/exp/slog"

	"github.com/chainpot/keeper/internal/keeper"
	"github.com/chainpot/keeper/internal/ledger"
	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/oracle"
	"github.com/chainpot/keeper/internal/tracker"
)

// fakeSettlementRepo keeps settlement records in memory in insert order.
type fakeSettlementRepo struct {
	records []*models.SettlementRecord
}

func (r *fakeSettlementRepo) Create(ctx context.Context, record *models.SettlementRecord) error {
	r.records = append(r.records, record)
	return nil
}

func (r *fakeSettlementRepo) FindByPotID(ctx context.Context, potID uint64) (*models.SettlementRecord, error) {
	for _, rec := range r.records {
		if rec.PotID == potID {
			return rec, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *fakeSettlementRepo) FindAll(ctx context.Context, page, limit int) ([]*models.SettlementRecord, error) {
	return append([]*models.SettlementRecord(nil), r.records...), nil
}

func (r *fakeSettlementRepo) Count(ctx context.Context) (int64, error) {
	return int64(len(r.records)), nil
}

func (r *fakeSettlementRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	kept := r.records[:0]
	var deleted int64
	for _, rec := range r.records {
		if rec.SettledAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return deleted, nil
}

// fakeFaultRepo keeps fault records in memory in insert order.
type fakeFaultRepo struct {
	records []*models.FaultRecord
}

func (r *fakeFaultRepo) Create(ctx context.Context, record *models.FaultRecord) error {
	r.records = append(r.records, record)
	return nil
}

func (r *fakeFaultRepo) FindByPotID(ctx context.Context, potID uint64) ([]*models.FaultRecord, error) {
	var out []*models.FaultRecord
	for _, rec := range r.records {
		if rec.PotID == potID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeFaultRepo) FindOpen(ctx context.Context) ([]*models.FaultRecord, error) {
	var out []*models.FaultRecord
	for _, rec := range r.records {
		if rec.ClearedAt == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeFaultRepo) MarkCleared(ctx context.Context, potID uint64, clearedBy string, clearedAt time.Time) (int64, error) {
	var cleared int64
	for _, rec := range r.records {
		if rec.PotID == potID && rec.ClearedAt == nil {
			at := clearedAt
			rec.ClearedAt = &at
			rec.ClearedBy = clearedBy
			cleared++
		}
	}
	return cleared, nil
}

func (r *fakeFaultRepo) FindAll(ctx context.Context, page, limit int) ([]*models.FaultRecord, error) {
	return append([]*models.FaultRecord(nil), r.records...), nil
}

func (r *fakeFaultRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	kept := r.records[:0]
	var deleted int64
	for _, rec := range r.records {
		if rec.FaultedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return deleted, nil
}

type potServiceFixture struct {
	chain          *ledger.Mock
	coordinator    *keeper.Coordinator
	settlementRepo *fakeSettlementRepo
	faultRepo      *fakeFaultRepo
	svc            PotService
}

func newPotServiceFixture(t *testing.T) *potServiceFixture {
	t.Helper()
	chain := ledger.NewMock()
	vrf := oracle.NewMock()
	signer, err := ledger.GenerateSigner()
	require.NoError(t, err)
	tr, err := tracker.New(chain, chain.Deriver(), 16, 0)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator := keeper.New(keeper.Config{KeeperID: "keeper-test"}, chain, chain.Deriver(), signer, vrf, vrf.PublicKey(), tr, nil, logger)

	settlementRepo := &fakeSettlementRepo{}
	faultRepo := &fakeFaultRepo{}
	svc := NewPotService(coordinator, tr, settlementRepo, faultRepo, logger)
	return &potServiceFixture{
		chain:          chain,
		coordinator:    coordinator,
		settlementRepo: settlementRepo,
		faultRepo:      faultRepo,
		svc:            svc,
	}
}

func (f *potServiceFixture) createPot(t *testing.T, id uint64) {
	t.Helper()
	now := time.Now()
	require.NoError(t, f.chain.CreatePot(&models.Pot{
		ID:          id,
		Authority:   ledger.MockKey("authority"),
		TicketPrice: 1_000_000,
		FeeBps:      250,
		OpensAt:     now.Add(-time.Hour),
		ClosesAt:    now.Add(time.Hour),
		Phase:       models.PotPhaseOpen,
	}))
}

func TestGetPotServesUnwatchedPotsFromLedger(t *testing.T) {
	f := newPotServiceFixture(t)
	f.createPot(t, 9)

	status, err := f.svc.GetPot(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), status.PotID)
	assert.Equal(t, models.PotPhaseOpen, status.Phase)
	assert.Empty(t, status.Status)
	require.NotNil(t, status.Pot)
	assert.Equal(t, uint64(1_000_000), status.Pot.TicketPrice)
}

func TestGetPotReportsWatchedStatus(t *testing.T) {
	f := newPotServiceFixture(t)
	f.createPot(t, 9)
	require.True(t, f.svc.Watch(context.Background(), 9))

	status, err := f.svc.GetPot(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, status.Status)
}

func TestGetPotPropagatesLedgerNotFound(t *testing.T) {
	f := newPotServiceFixture(t)

	_, err := f.svc.GetPot(context.Background(), 404)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRetryRequiresWatchedPot(t *testing.T) {
	f := newPotServiceFixture(t)

	err := f.svc.Retry(context.Background(), 9, "ops@chainpot.io")
	assert.ErrorIs(t, err, ErrPotNotWatched)
}

func TestRetryMarksArchivedFaultsCleared(t *testing.T) {
	f := newPotServiceFixture(t)
	f.createPot(t, 9)
	require.True(t, f.svc.Watch(context.Background(), 9))
	f.faultRepo.records = append(f.faultRepo.records, &models.FaultRecord{
		PotID:     9,
		Kind:      models.FaultRetryExhausted,
		FaultedAt: time.Now().Add(-time.Minute),
	})

	require.NoError(t, f.svc.Retry(context.Background(), 9, "ops@chainpot.io"))

	open, err := f.faultRepo.FindOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
	require.NotNil(t, f.faultRepo.records[0].ClearedAt)
	assert.Equal(t, "ops@chainpot.io", f.faultRepo.records[0].ClearedBy)
}

func TestGetSettlementMapsMissingRecord(t *testing.T) {
	f := newPotServiceFixture(t)

	_, err := f.svc.GetSettlement(context.Background(), 9)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestArchiveQueriesFailWithoutRepositories(t *testing.T) {
	f := newPotServiceFixture(t)
	svc := NewPotService(f.coordinator, nil, nil, nil, nil)

	_, err := svc.GetSettlement(context.Background(), 9)
	assert.ErrorIs(t, err, ErrArchiveDisabled)

	_, _, err = svc.ListSettlements(context.Background(), 1, 20)
	assert.ErrorIs(t, err, ErrArchiveDisabled)

	_, err = svc.ListFaults(context.Background(), nil, false, 1, 20)
	assert.ErrorIs(t, err, ErrArchiveDisabled)
}

func TestListFaultsFilters(t *testing.T) {
	f := newPotServiceFixture(t)
	cleared := time.Now()
	f.faultRepo.records = []*models.FaultRecord{
		{PotID: 1, Kind: models.FaultRetryExhausted},
		{PotID: 2, Kind: models.FaultLedgerRejected, ClearedAt: &cleared},
		{PotID: 2, Kind: models.FaultFatal},
	}

	all, err := f.svc.ListFaults(context.Background(), nil, false, 1, 20)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	open, err := f.svc.ListFaults(context.Background(), nil, true, 1, 20)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	potID := uint64(2)
	byPot, err := f.svc.ListFaults(context.Background(), &potID, false, 1, 20)
	require.NoError(t, err)
	assert.Len(t, byPot, 2)
}

func TestListSettlementsReturnsTotal(t *testing.T) {
	f := newPotServiceFixture(t)
	f.settlementRepo.records = []*models.SettlementRecord{
		{PotID: 1, Winner: ledger.MockKey("alice")},
		{PotID: 2, Winner: ledger.MockKey("bob")},
	}

	records, total, err := f.svc.ListSettlements(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, int64(2), total)
}

func TestMongoArchiveWritesThroughRepositories(t *testing.T) {
	settlementRepo := &fakeSettlementRepo{}
	faultRepo := &fakeFaultRepo{}
	archive := NewMongoArchive(settlementRepo, faultRepo)

	require.NoError(t, archive.RecordSettlement(context.Background(), &models.SettlementRecord{PotID: 5}))
	require.NoError(t, archive.RecordFault(context.Background(), &models.FaultRecord{PotID: 5, Kind: models.FaultFatal}))

	assert.Len(t, settlementRepo.records, 1)
	assert.Len(t, faultRepo.records, 1)
}
