package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edbns/Stefna-sub010/internal/model"
	"github.com/edbns/Stefna-sub010/internal/repository"
)

type mockService struct {
	reserveRes  *model.ReserveResult
	reserveErr  error
	finalizeErr error
	grantErr    error
	allowed     bool
	usage       int64
	balance     int64
	balanceErr  error

	lastReserve  model.ReserveRequest
	lastFinalize model.FinalizeRequest
	lastGrant    model.GrantRequest
}

func (m *mockService) Reserve(ctx context.Context, req model.ReserveRequest) (*model.ReserveResult, error) {
	m.lastReserve = req
	return m.reserveRes, m.reserveErr
}

func (m *mockService) Finalize(ctx context.Context, req model.FinalizeRequest) error {
	m.lastFinalize = req
	return m.finalizeErr
}

func (m *mockService) Grant(ctx context.Context, req model.GrantRequest) error {
	m.lastGrant = req
	return m.grantErr
}

func (m *mockService) AllowedToday(ctx context.Context, userID string, cost int64) (bool, error) {
	return m.allowed, nil
}

func (m *mockService) DailyUsage(ctx context.Context, userID string, day time.Time) (int64, error) {
	return m.usage, nil
}

func (m *mockService) Balance(ctx context.Context, userID string) (int64, error) {
	return m.balance, m.balanceErr
}

func (m *mockService) StaleReservations(ctx context.Context, olderThan time.Duration) ([]model.ReservationRef, error) {
	return nil, nil
}

func newTestServer(svc *mockService) *httptest.Server {
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestReserveSuccess(t *testing.T) {
	svc := &mockService{reserveRes: &model.ReserveResult{Balance: 28, Status: model.ReserveStatusReserved}}
	srv := newTestServer(svc)
	defer srv.Close()

	res := postJSON(t, srv.URL+"/reserve",
		`{"user_id":"u1","request_id":"req-1","action":"image.gen","cost":2}`)

	assert.Equal(t, http.StatusOK, res.StatusCode)

	var body model.ReserveResult
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, int64(28), body.Balance)
	assert.Equal(t, "RESERVED", body.Status)
	assert.Equal(t, "req-1", svc.lastReserve.RequestID)
}

func TestReserveInsufficientCredits(t *testing.T) {
	svc := &mockService{reserveErr: repository.ErrInsufficientCredits}
	srv := newTestServer(svc)
	defer srv.Close()

	res := postJSON(t, srv.URL+"/reserve",
		`{"user_id":"u1","request_id":"req-1","action":"image.gen","cost":2}`)

	assert.Equal(t, http.StatusPaymentRequired, res.StatusCode)
}

func TestReserveValidation(t *testing.T) {
	svc := &mockService{}
	srv := newTestServer(svc)
	defer srv.Close()

	res := postJSON(t, srv.URL+"/reserve",
		`{"user_id":"u1","request_id":"req-1","action":"image.gen","cost":0}`)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Empty(t, svc.lastReserve.UserID, "invalid request must not reach the service")
}

func TestReserveUnprovisioned(t *testing.T) {
	svc := &mockService{reserveErr: repository.ErrAccountNotProvisioned}
	srv := newTestServer(svc)
	defer srv.Close()

	res := postJSON(t, srv.URL+"/reserve",
		`{"user_id":"u1","request_id":"req-1","action":"image.gen","cost":2}`)

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestFinalizeCommit(t *testing.T) {
	svc := &mockService{}
	srv := newTestServer(svc)
	defer srv.Close()

	res := postJSON(t, srv.URL+"/finalize",
		`{"user_id":"u1","request_id":"req-1","outcome":"commit"}`)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, model.OutcomeCommit, svc.lastFinalize.Outcome)
}

func TestFinalizeUnknownOutcome(t *testing.T) {
	svc := &mockService{}
	srv := newTestServer(svc)
	defer srv.Close()

	res := postJSON(t, srv.URL+"/finalize",
		`{"user_id":"u1","request_id":"req-1","outcome":"cancel"}`)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestFinalizeNotFound(t *testing.T) {
	svc := &mockService{finalizeErr: repository.ErrNotFound}
	srv := newTestServer(svc)
	defer srv.Close()

	res := postJSON(t, srv.URL+"/finalize",
		`{"user_id":"u1","request_id":"req-x","outcome":"refund"}`)

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestGrant(t *testing.T) {
	svc := &mockService{}
	srv := newTestServer(svc)
	defer srv.Close()

	res := postJSON(t, srv.URL+"/grant",
		`{"user_id":"u1","amount":25,"reason":"referral_bonus"}`)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(25), svc.lastGrant.Amount)
}

func TestGrantValidation(t *testing.T) {
	svc := &mockService{}
	srv := newTestServer(svc)
	defer srv.Close()

	res := postJSON(t, srv.URL+"/grant", `{"user_id":"u1","amount":-5,"reason":"oops"}`)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestQuota(t *testing.T) {
	svc := &mockService{allowed: true, usage: 4}
	srv := newTestServer(svc)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/quota?user_id=u1&cost=2")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Allowed bool  `json:"allowed"`
		Used    int64 `json:"used"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.True(t, body.Allowed)
	assert.Equal(t, int64(4), body.Used)
}

func TestQuotaInvalidCost(t *testing.T) {
	srv := newTestServer(&mockService{})
	defer srv.Close()

	res, err := http.Get(srv.URL + "/quota?user_id=u1&cost=none")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestBalance(t *testing.T) {
	svc := &mockService{balance: 28}
	srv := newTestServer(svc)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/balance?user_id=u1")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, int64(28), body.Balance)
}

func TestBalanceUnknownUser(t *testing.T) {
	svc := &mockService{balanceErr: repository.ErrAccountNotProvisioned}
	srv := newTestServer(svc)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/balance?user_id=u-ghost")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
