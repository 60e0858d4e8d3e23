package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aside/apps/funding/internal/admin"
	"aside/apps/funding/internal/cycle"
	"aside/apps/funding/internal/metrics"
	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/pool"
	"aside/apps/funding/internal/repository/memstore"
	"aside/apps/funding/internal/requests"
	"aside/apps/funding/internal/schedule"
	"aside/apps/funding/internal/settlement"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var wat = time.FixedZone("WAT", 3600)

type memProofs struct {
	saved map[string][]byte
	fail  bool
}

func (m *memProofs) Save(_ context.Context, name, _ string, body io.Reader, _ int64) (string, error) {
	if m.fail {
		return "", errors.New("store down")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	ref := "mem://" + name
	m.saved[ref] = b
	return ref, nil
}

func (m *memProofs) ScheduleDeletion(context.Context, string, time.Time) error { return nil }

type testServer struct {
	store  *memstore.Store
	clock  *schedule.FixedClock
	proofs *memProofs
	router *mux.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	times, err := schedule.ParseTimes("09:00,15:00,21:00")
	require.NoError(t, err)
	cal := schedule.NewCalendar(wat, times, 5*time.Minute, 10*time.Minute)

	store := memstore.New()
	clock := &schedule.FixedClock{T: time.Date(2026, 3, 2, 12, 0, 0, 0, wat)}
	proofs := &memProofs{saved: map[string][]byte{}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := zap.NewNop()
	currencies := []string{"NAIRA", "USDT"}

	p := pool.New(logger, m)
	reqSvc := requests.NewService(store, cal, clock, requests.Options{
		MinAmount:  decimal.NewFromInt(1000),
		MaxAmount:  decimal.NewFromInt(10000000),
		Currencies: currencies,
	}, logger)
	settleSvc := settlement.NewService(store, proofs, p, clock, settlement.Options{
		ProofDeadline:        4 * time.Hour,
		ConfirmationDeadline: 4 * time.Hour,
		ExtensionDuration:    time.Hour,
		ProofRetention:       7 * 24 * time.Hour,
	}, logger, m)
	orch := cycle.NewOrchestrator(store, cal, p, cycle.Options{
		Currencies:    currencies,
		ProofDeadline: 4 * time.Hour,
		PoolFallback:  false,
		HorizonDays:   7,
	}, logger, m)
	adminSvc := admin.NewService(store, store.Audit(), clock, currencies, logger)

	srv := NewServer(0, Handlers{
		Requests: NewRequestHandler(reqSvc, logger),
		Matches:  NewMatchHandler(settleSvc, logger),
		Admin:    NewAdminHandler(adminSvc, settleSvc, orch, clock, logger),
	}, reg, logger)
	return &testServer{store: store, clock: clock, proofs: proofs, router: srv.Router()}
}

func (ts *testServer) wallet(balance int64) model.Wallet {
	w := model.Wallet{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Currency:       "NAIRA",
		Balance:        decimal.NewFromInt(balance),
		TotalDeposited: decimal.Zero,
		BankDetailsID:  uuid.NullUUID{UUID: uuid.New(), Valid: true},
	}
	ts.store.PutWallet(w)
	return w
}

func (ts *testServer) do(method, path string, user uuid.UUID, role string, body any) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set(headerUserID, user.String())
	}
	if role != "" {
		req.Header.Set(headerUserRole, role)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(user, pairID uuid.UUID, filename string, content []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", filename)
	_, _ = part.Write(content)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/matches/"+pairID.String()+"/proof", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(headerUserID, user.String())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// matchPair creates one request per side through the API and runs an ad-hoc cycle.
func (ts *testServer) matchPair(t *testing.T, funder, withdrawer model.Wallet, amount int64) model.MatchPair {
	t.Helper()
	body := CreateRequestBody{Currency: "NAIRA", Amount: decimal.NewFromInt(amount)}
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/requests/funding", funder.UserID, "", body).Code)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/requests/withdrawal", withdrawer.UserID, "", body).Code)

	ts.clock.Advance(time.Minute)
	rec := ts.do(http.MethodPost, "/api/admin/cycles/trigger", uuid.New(), roleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	pairs := ts.store.Pairs()
	require.Len(t, pairs, 1)
	return pairs[0]
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/health", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestCreateRequest(t *testing.T) {
	ts := newTestServer(t)
	w := ts.wallet(0)

	rec := ts.do(http.MethodPost, "/api/requests/funding", w.UserID, "", CreateRequestBody{Currency: "naira", Amount: decimal.NewFromInt(5000)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created requests.Created
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "NAIRA", created.Request.Currency)
	assert.Equal(t, model.SideFunding, created.Request.Side)

	rec = ts.do(http.MethodPost, "/api/requests/funding", w.UserID, "", CreateRequestBody{Currency: "NAIRA", Amount: decimal.NewFromInt(5000)})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "pending_request_exists", decodeError(t, rec).Error)

	rec = ts.do(http.MethodGet, "/api/requests", w.UserID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []requests.RequestView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 1)
}

func TestCreateRequest_Rejections(t *testing.T) {
	ts := newTestServer(t)
	w := ts.wallet(100)

	rec := ts.do(http.MethodPost, "/api/requests/funding", uuid.Nil, "", CreateRequestBody{Currency: "NAIRA", Amount: decimal.NewFromInt(5000)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/requests/funding", strings.NewReader("{"))
	req.Header.Set(headerUserID, w.UserID.String())
	raw := httptest.NewRecorder()
	ts.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, raw).Error)

	rec = ts.do(http.MethodPost, "/api/requests/withdrawal", w.UserID, "", CreateRequestBody{Currency: "NAIRA", Amount: decimal.NewFromInt(5000)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "insufficient_balance", decodeError(t, rec).Error)

	rec = ts.do(http.MethodPost, "/api/requests/funding", uuid.New(), "", CreateRequestBody{Currency: "NAIRA", Amount: decimal.NewFromInt(5000)})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "wallet_not_found", decodeError(t, rec).Error)
}

func TestCancelRequest(t *testing.T) {
	ts := newTestServer(t)
	w := ts.wallet(0)

	rec := ts.do(http.MethodPost, "/api/requests/funding", w.UserID, "", CreateRequestBody{Currency: "NAIRA", Amount: decimal.NewFromInt(5000)})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created requests.Created
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(http.MethodDelete, "/api/requests/not-a-uuid", w.UserID, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodDelete, "/api/requests/"+created.Request.ID.String(), w.UserID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Cancelled)

	_, ok := ts.store.Request(created.Request.ID)
	assert.False(t, ok)
}

func TestMergeWindow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/merge-window", uuid.Nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info requests.WindowInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, time.Date(2026, 3, 2, 15, 0, 0, 0, wat).Equal(info.Next.MergeAt))
	assert.False(t, info.JoinWindowOpen)
	assert.Equal(t, int64(3*3600), info.SecondsUntilMerge)
}

func TestMergeWindowStatus(t *testing.T) {
	ts := newTestServer(t)
	w := ts.wallet(0)

	rec := ts.do(http.MethodGet, "/api/merge-window/status", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/requests/funding", w.UserID, "",
		CreateRequestBody{Currency: "NAIRA", Amount: decimal.NewFromInt(5000)}).Code)

	rec = ts.do(http.MethodGet, "/api/merge-window/status", w.UserID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status requests.MergeStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.HasPendingRequest)
	assert.False(t, status.JoinWindowOpen)
	assert.False(t, status.CanJoin)
	assert.Len(t, status.PendingRequests, 1)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/admin/dashboard", uuid.New(), "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin_only", decodeError(t, rec).Error)

	rec = ts.do(http.MethodGet, "/api/admin/dashboard", uuid.New(), roleAdmin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSettlementFlow(t *testing.T) {
	ts := newTestServer(t)
	funder := ts.wallet(0)
	withdrawer := ts.wallet(10000)
	pair := ts.matchPair(t, funder, withdrawer, 5000)

	rec := ts.do(http.MethodGet, "/api/matches/active", funder.UserID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active settlement.ActiveMatches
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	require.Len(t, active.AsFunder, 1)
	assert.Equal(t, pair.ID, active.AsFunder[0].Pair.ID)

	rec = ts.upload(withdrawer.UserID, pair.ID, "receipt.png", []byte("png"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.upload(funder.UserID, pair.ID, "receipt.exe", []byte("exe"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_file_type", decodeError(t, rec).Error)

	rec = ts.upload(funder.UserID, pair.ID, "receipt.png", []byte("png"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, ts.proofs.saved, 1)

	rec = ts.do(http.MethodPost, "/api/matches/"+pair.ID.String()+"/confirm", funder.UserID, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/api/matches/"+pair.ID.String()+"/confirm", withdrawer.UserID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var confirmed model.MatchPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirmed))
	assert.True(t, confirmed.ProofConfirmed)

	assert.True(t, decimal.NewFromInt(5000).Equal(ts.store.Wallet(funder.ID).Balance))
	assert.True(t, decimal.NewFromInt(5000).Equal(ts.store.Wallet(withdrawer.ID).Balance))

	rec = ts.do(http.MethodGet, "/metrics", uuid.Nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "match_pairs_confirmed_total 1")
}

func TestUploadProof_StoreUnavailable(t *testing.T) {
	ts := newTestServer(t)
	funder := ts.wallet(0)
	withdrawer := ts.wallet(10000)
	pair := ts.matchPair(t, funder, withdrawer, 5000)
	ts.proofs.fail = true

	rec := ts.upload(funder.UserID, pair.ID, "receipt.pdf", []byte("pdf"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "proof_store_unavailable", decodeError(t, rec).Error)
}

func TestExtension(t *testing.T) {
	ts := newTestServer(t)
	funder := ts.wallet(0)
	withdrawer := ts.wallet(10000)
	pair := ts.matchPair(t, funder, withdrawer, 5000)
	path := "/api/matches/" + pair.ID.String() + "/extension"

	rec := ts.do(http.MethodPost, path, funder.UserID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, path, funder.UserID, "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "extension_already_used", decodeError(t, rec).Error)
}

func TestResolveDispute_Validation(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/admin/disputes/" + uuid.New().String() + "/resolve"

	rec := ts.do(http.MethodPost, path, uuid.New(), roleAdmin, ResolveDisputeBody{Resolution: "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_resolution", decodeError(t, rec).Error)

	rec = ts.do(http.MethodPost, path, uuid.New(), roleAdmin, ResolveDisputeBody{Resolution: model.DisputeResolutionVoid})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "pair_not_found", decodeError(t, rec).Error)

	rec = ts.do(http.MethodGet, "/api/admin/disputes", uuid.New(), roleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAdminUnmatchedAndUnblock(t *testing.T) {
	ts := newTestServer(t)
	w := ts.wallet(0)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/requests/funding", w.UserID, "",
		CreateRequestBody{Currency: "NAIRA", Amount: decimal.NewFromInt(5000)}).Code)

	rec := ts.do(http.MethodGet, "/api/admin/unmatched", uuid.New(), roleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/admin/unmatched?currency=NAIRA", uuid.New(), roleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var unmatched admin.Unmatched
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unmatched))
	assert.Len(t, unmatched.Funding, 1)

	rec = ts.do(http.MethodPost, "/api/admin/users/"+uuid.New().String()+"/unblock", uuid.New(), roleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/api/admin/users/"+w.UserID.String()+"/unblock", uuid.New(), roleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out UnblockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, w.UserID, out.UserID)
}
