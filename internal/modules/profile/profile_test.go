package profile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trusted-delivery/internal/auth"
	"trusted-delivery/internal/database"
	"trusted-delivery/internal/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBadgerRepo(t *testing.T) *BadgerRepository {
	t.Helper()
	db, err := database.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerRepository(db)
}

func TestBadgerRepository_EnsureIsStable(t *testing.T) {
	ctx := context.Background()
	repo := newBadgerRepo(t)

	p, err := repo.Ensure(ctx, "u1", "Asha Rao")
	require.NoError(t, err)
	assert.Equal(t, "asha.rao", p.Username)
	assert.Equal(t, "Asha Rao", p.FullName)
	assert.Zero(t, p.TrustScore)

	again, err := repo.Ensure(ctx, "u1", "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", again.FullName, "existing profile is not overwritten")
	assert.Equal(t, p.CreatedAt, again.CreatedAt)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBadgerRepository_CreditTrustIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newBadgerRepo(t)
	_, err := repo.Ensure(ctx, "u1", "U1")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		credited atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CreditTrust(ctx, "R1", "u1")
			assert.NoError(t, err)
			if ok {
				credited.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), credited.Load())

	ok, err := repo.CreditTrust(ctx, "R2", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.TrustScore)

	_, err = repo.CreditTrust(ctx, "R1", "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBadgerRepository_CreditMarkersSeparateIDsWithSlashes(t *testing.T) {
	ctx := context.Background()
	repo := newBadgerRepo(t)
	_, err := repo.Ensure(ctx, "x/y", "XY")
	require.NoError(t, err)
	_, err = repo.Ensure(ctx, "y", "Y")
	require.NoError(t, err)

	ok, err := repo.CreditTrust(ctx, "R1/x", "y")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CreditTrust(ctx, "R1", "x/y")
	require.NoError(t, err)
	assert.True(t, ok, "a different request and principal is not a duplicate")

	p, err := repo.FindByID(ctx, "x/y")
	require.NoError(t, err)
	assert.Equal(t, 1, p.TrustScore)
}

func TestService_SearchAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newBadgerRepo(t)
	svc := NewService(repo)

	for id, name := range map[string]string{"u1": "Asha Rao", "u2": "Ashwin K", "u3": "Bela"} {
		_, err := svc.Ensure(ctx, id, name)
		require.NoError(t, err)
	}
	me := models.Principal{ID: "u1"}

	got, err := svc.Search(ctx, me, "a")
	require.NoError(t, err)
	assert.Empty(t, got, "too short")

	got, err = svc.Search(ctx, me, "ASH")
	require.NoError(t, err)
	require.Len(t, got, 1, "self excluded")
	assert.Equal(t, "u2", got[0].ID)

	name := "Asha R."
	p, err := svc.UpdateMe(ctx, me, models.UpdateProfileInput{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Asha R.", p.FullName)
	assert.Equal(t, "asha.rao", p.Username)

	bad := "not a url"
	_, err = svc.UpdateMe(ctx, me, models.UpdateProfileInput{AvatarURL: &bad})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Ensure(ctx, " ", "x")
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
}

// flakyRepo fails the first failures credits of each principal.
type flakyRepo struct {
	*BadgerRepository
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func (f *flakyRepo) CreditTrust(ctx context.Context, requestID, principalID string) (bool, error) {
	f.mu.Lock()
	f.calls[principalID]++
	if f.failures[principalID] > 0 {
		f.failures[principalID]--
		f.mu.Unlock()
		return false, errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.BadgerRepository.CreditTrust(ctx, requestID, principalID)
}

func newTrust(repo RepositoryInterface, tries uint) *TrustService {
	s := NewTrustService(repo, tries)
	s.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return s
}

func delivered(id, sender, partner string) *models.DeliveryRequest {
	return &models.DeliveryRequest{ID: id, SenderID: sender, PartnerID: &partner, Status: models.StatusDelivered}
}

func TestTrustService_CreditsBothOnce(t *testing.T) {
	ctx := context.Background()
	repo := newBadgerRepo(t)
	for _, id := range []string{"alice", "carol"} {
		_, err := repo.Ensure(ctx, id, id)
		require.NoError(t, err)
	}
	flaky := &flakyRepo{
		BadgerRepository: repo,
		failures:         map[string]int{"carol": 2},
		calls:            map[string]int{},
	}
	trust := newTrust(flaky, 5)

	req := delivered("R1", "alice", "carol")
	require.NoError(t, trust.CreditDelivery(ctx, req))
	require.NoError(t, trust.CreditDelivery(ctx, req), "repeat is a no-op")

	for _, id := range []string{"alice", "carol"} {
		p, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, p.TrustScore, id)
	}
	assert.Equal(t, 4, flaky.calls["carol"], "two failures, one credit, one repeat")
}

func TestTrustService_PartialFailure(t *testing.T) {
	ctx := context.Background()
	repo := newBadgerRepo(t)
	for _, id := range []string{"alice", "carol"} {
		_, err := repo.Ensure(ctx, id, id)
		require.NoError(t, err)
	}
	flaky := &flakyRepo{
		BadgerRepository: repo,
		failures:         map[string]int{"carol": 10},
		calls:            map[string]int{},
	}

	err := newTrust(flaky, 3).CreditDelivery(ctx, delivered("R1", "alice", "carol"))
	require.Error(t, err)
	assert.Equal(t, 3, flaky.calls["carol"])

	sender, err := repo.FindByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, sender.TrustScore, "sender credit is kept")

	// a later retry completes the partner without crediting the sender twice
	flaky.failures["carol"] = 0
	require.NoError(t, newTrust(flaky, 3).CreditDelivery(ctx, delivered("R1", "alice", "carol")))
	sender, _ = repo.FindByID(ctx, "alice")
	partner, _ := repo.FindByID(ctx, "carol")
	assert.Equal(t, 1, sender.TrustScore)
	assert.Equal(t, 1, partner.TrustScore)
}

func TestTrustService_RejectsUnfinished(t *testing.T) {
	trust := newTrust(newBadgerRepo(t), 1)
	req := delivered("R1", "alice", "carol")
	req.Status = models.StatusDelivering
	assert.ErrorIs(t, trust.CreditDelivery(context.Background(), req), models.ErrInvalidTransition)
}

func TestTrustService_UnknownPrincipalIsNotRetried(t *testing.T) {
	ctx := context.Background()
	repo := newBadgerRepo(t)
	_, err := repo.Ensure(ctx, "alice", "alice")
	require.NoError(t, err)
	flaky := &flakyRepo{BadgerRepository: repo, failures: map[string]int{}, calls: map[string]int{}}

	err = newTrust(flaky, 5).CreditDelivery(ctx, delivered("R1", "alice", "ghost"))
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, flaky.calls["ghost"])
}

func TestHandler_MeAndSearch(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newBadgerRepo(t))
	_, err := svc.Ensure(ctx, "u1", "Asha Rao")
	require.NoError(t, err)
	_, err = svc.Ensure(ctx, "u2", "Ashwin K")
	require.NoError(t, err)

	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth.SetPrincipal(c, models.Principal{ID: "u1"})
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(g)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"asha.rao"`)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profiles/search?q=ash", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"u2"`)
	assert.NotContains(t, rec.Body.String(), `"id":"u1"`)

	req := httptest.NewRequest(http.MethodPatch, "/me", strings.NewReader(`{"username":"a"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profiles/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
