package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"

	"github.com/chainpot/keeper/internal/config"
	"github.com/chainpot/keeper/internal/handlers"
	"github.com/chainpot/keeper/internal/keeper"
	"github.com/chainpot/keeper/internal/ledger"
	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/oracle"
	"github.com/chainpot/keeper/internal/services"
	"github.com/chainpot/keeper/internal/tracker"
)

type fakeOperatorRepo struct {
	operators map[string]*models.OperatorUser
}

func (r *fakeOperatorRepo) Create(ctx context.Context, operator *models.OperatorUser) error {
	if operator.ID.IsZero() {
		operator.ID = primitive.NewObjectID()
	}
	r.operators[operator.Email] = operator
	return nil
}

func (r *fakeOperatorRepo) FindByEmail(ctx context.Context, email string) (*models.OperatorUser, error) {
	operator, ok := r.operators[email]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return operator, nil
}

func (r *fakeOperatorRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.OperatorUser, error) {
	for _, operator := range r.operators {
		if operator.ID == id {
			return operator, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *fakeOperatorRepo) Update(ctx context.Context, operator *models.OperatorUser) error {
	r.operators[operator.Email] = operator
	return nil
}

func (r *fakeOperatorRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	for email, operator := range r.operators {
		if operator.ID == id {
			delete(r.operators, email)
			return nil
		}
	}
	return mongo.ErrNoDocuments
}

func (r *fakeOperatorRepo) FindAll(ctx context.Context) ([]*models.OperatorUser, error) {
	out := make([]*models.OperatorUser, 0, len(r.operators))
	for _, operator := range r.operators {
		out = append(out, operator)
	}
	return out, nil
}

type fixture struct {
	router *gin.Engine
	chain  *ledger.Mock
	coord  *keeper.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{AllowedHosts: []string{"*"}},
		JWT:    config.JWTConfig{Secret: "routes-test-secret", ExpiresIn: 3600},
	}

	chain := ledger.NewMock()
	vrf := oracle.NewMock()
	signer, err := ledger.GenerateSigner()
	require.NoError(t, err)
	tr, err := tracker.New(chain, chain.Deriver(), 16, 0)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := keeper.New(keeper.Config{KeeperID: "keeper-test"}, chain, chain.Deriver(), signer, vrf, vrf.PublicKey(), tr, nil, logger)

	repo := &fakeOperatorRepo{operators: make(map[string]*models.OperatorUser)}
	for email, role := range map[string]string{
		"admin@chainpot.io":  "admin",
		"viewer@chainpot.io": "viewer",
	} {
		hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
		require.NoError(t, err)
		require.NoError(t, repo.Create(context.Background(), &models.OperatorUser{
			Email:    email,
			Name:     role,
			Password: string(hashed),
			Role:     role,
		}))
	}

	authHandler := handlers.NewAuthHandler(services.NewAuthService(repo, cfg))
	potHandler := handlers.NewPotHandler(services.NewPotService(coord, tr, nil, nil, logger))
	keeperHandler := handlers.NewKeeperHandler(services.NewKeeperService(coord, chain, signer, logger))

	router := SetupRouter(cfg, logger, authHandler, potHandler, keeperHandler)
	return &fixture{router: router, chain: chain, coord: coord}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) login(t *testing.T, email string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{
		Email:    email,
		Password: "s3cret",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func (f *fixture) createPot(t *testing.T, id uint64) {
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

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/pots", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/pots", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{
		Email:    "admin@chainpot.io",
		Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestViewerCannotMutate(t *testing.T) {
	f := newFixture(t)
	f.createPot(t, 1)
	token := f.login(t, "viewer@chainpot.io")

	w := f.do(t, http.MethodPost, "/api/v1/pots/1/watch", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/keeper/start", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Reads are still allowed.
	w = f.do(t, http.MethodGet, "/api/v1/pots", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminWatchesAndReadsPot(t *testing.T) {
	f := newFixture(t)
	f.createPot(t, 7)
	token := f.login(t, "admin@chainpot.io")

	w := f.do(t, http.MethodPost, "/api/v1/pots/7/watch", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/v1/pots/7", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.PotStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, uint64(7), status.PotID)
	assert.Equal(t, models.StatusIdle, status.Status)
	assert.Equal(t, models.PotPhaseOpen, status.Phase)

	w = f.do(t, http.MethodGet, "/api/v1/pots/999", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/pots/not-a-number", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKeeperStartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "admin@chainpot.io")

	w := f.do(t, http.MethodGet, "/api/v1/keeper/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info models.KeeperInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "keeper-test", info.KeeperID)
	assert.False(t, info.Running)

	w = f.do(t, http.MethodPost, "/api/v1/keeper/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/keeper/start", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/keeper/stop", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.coord.Running())
}

func TestArchiveEndpointsReportDisabledArchive(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "viewer@chainpot.io")

	w := f.do(t, http.MethodGet, "/api/v1/settlements", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/faults", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
