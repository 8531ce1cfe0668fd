package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	mW "github.com/ruralpay/walletcore/internal/middleware"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/services/audit"
	"github.com/ruralpay/walletcore/internal/services/idissuer/idissuertest"
	"github.com/ruralpay/walletcore/internal/services/ledger"
	"github.com/ruralpay/walletcore/internal/services/payout"
	"github.com/ruralpay/walletcore/internal/services/points"
	"github.com/ruralpay/walletcore/internal/services/reconcile"
	"github.com/ruralpay/walletcore/internal/services/transfer"
	"github.com/ruralpay/walletcore/internal/services/wallet"
	"github.com/ruralpay/walletcore/internal/services/withdrawal"
	"github.com/ruralpay/walletcore/internal/store/memstore"
)

const (
	fundingUser int64 = 1
	alice       int64 = 2
	bob         int64 = 3
	admin       int64 = 90
	auditor     int64 = 91
)

type server struct {
	t      *testing.T
	store  *memstore.Store
	router chi.Router
}

func newServer(t *testing.T) *server {
	t.Helper()
	st := memstore.New()
	for _, id := range []int64{fundingUser, alice, bob} {
		st.AddUser(id)
	}

	wallets := wallet.NewService(st, nil, 0, zap.NewNop())
	lw := ledger.NewWriter(&idissuertest.Sequence{}, st, 3, zap.NewNop())
	trail := audit.NewTrail(st, zap.NewNop())
	engine := transfer.NewEngine(st, wallets, lw, models.FormatWalletNumber(1), zap.NewNop())

	h := NewHandler(Services{
		Wallets:   wallets,
		Transfers: engine,
		Ledger:    ledger.NewReader(st),
		Withdrawals: withdrawal.NewService(st, wallets, trail, withdrawal.Config{
			MinAmount: decimal.RequireFromString("1.00"),
			MaxAmount: decimal.RequireFromString("10000.00"),
		}, zap.NewNop()),
		Points:    points.NewAdapter(st, engine, lw, trail, nil, zap.NewNop()),
		Payout:    payout.NewExporter(st, payout.Config{}, zap.NewNop()),
		Reconcile: reconcile.NewService(st, wallets, zap.NewNop()),
		Audit:     trail,
	}, zap.NewNop())

	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return &server{t: t, store: st, router: r}
}

// do sends body as JSON. actorID 0 sends no identity headers.
func (s *server) do(method, path string, body any, actorID int64, role string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, "/api/v1"+path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if actorID != 0 {
		r.Header.Set(mW.HeaderActorID, strconv.FormatInt(actorID, 10))
		r.Header.Set(mW.HeaderActorRole, role)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func (s *server) seedWallets() {
	s.t.Helper()
	for _, id := range []int64{fundingUser, alice, bob} {
		w := s.do(http.MethodPost, "/internal/wallets", map[string]any{"user_id": id}, 0, "")
		require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := s.do(http.MethodPost, "/internal/deposits", map[string]any{
		"wallet_number": models.FormatWalletNumber(1),
		"amount":        "1000.00",
		"reference":     "float",
	}, 0, "")
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/internal/deposits", map[string]any{
		"wallet_number": models.FormatWalletNumber(2),
		"amount":        "300.00",
		"reference":     "seed",
	}, 0, "")
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestWalletEndpoints(t *testing.T) {
	s := newServer(t)
	s.seedWallets()

	w := s.do(http.MethodPost, "/internal/wallets", map[string]any{"user_id": alice}, 0, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.KindAlreadyExists, decodeBody[ErrorResponse](t, w).Kind)

	w = s.do(http.MethodPost, "/internal/wallets", map[string]any{"user_id": 404}, 0, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperr.KindUserNotFound, decodeBody[ErrorResponse](t, w).Kind)

	w = s.do(http.MethodPost, "/internal/wallets", map[string]any{"user_id": 0}, 0, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, w).Details, "user_id")

	w = s.do(http.MethodGet, "/wallets/by-user/2", nil, 0, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.FormatWalletNumber(2), decodeBody[map[string]any](t, w)["wallet_number"])

	w = s.do(http.MethodGet, "/wallets/by-user/abc", nil, 0, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/internal/wallets/"+models.FormatWalletNumber(2), nil, 0, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.KindHasTransactions, decodeBody[ErrorResponse](t, w).Kind)
}

func TestTransferEndpoint(t *testing.T) {
	s := newServer(t)
	s.seedWallets()

	w := s.do(http.MethodPost, "/internal/transfers", map[string]any{
		"from":   models.FormatWalletNumber(2),
		"to":     models.FormatWalletNumber(3),
		"amount": "120.25",
	}, 0, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[transfer.Result](t, w)
	assert.Equal(t, "179.75", res.FromBalance.StringFixed(2))
	assert.Equal(t, "120.25", res.ToBalance.StringFixed(2))

	w = s.do(http.MethodPost, "/internal/transfers", map[string]any{
		"from":   models.FormatWalletNumber(3),
		"to":     models.FormatWalletNumber(2),
		"amount": "500.00",
	}, 0, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperr.KindInsufficientFunds, decodeBody[ErrorResponse](t, w).Kind)

	w = s.do(http.MethodPost, "/internal/transfers", map[string]any{"from": "x", "unknown": 1}, 0, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/ledger?wallet="+models.FormatWalletNumber(2)+"&limit=10", nil, 0, "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeBody[ledger.Page](t, w)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, models.DirectionDebit, page.Entries[0].Direction)

	w = s.do(http.MethodGet, "/ledger?direction=XX", nil, 0, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodGet, "/ledger?from=yesterday", nil, 0, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWithdrawalFlow(t *testing.T) {
	s := newServer(t)
	s.seedWallets()

	body := map[string]any{
		"amount": "100.00",
		"bank_details": map[string]any{
			"bank_code":      "058",
			"account_number": "0123456789",
			"account_name":   "Alice Eze",
		},
	}

	w := s.do(http.MethodPost, "/withdrawals", body, 0, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body["idempotency_key"] = "wd-1"
	w = s.do(http.MethodPost, "/withdrawals", body, alice, "user")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody[withdrawal.CreateResult](t, w)
	id := created.Request.ID
	assert.Equal(t, models.WithdrawalHeld, created.Request.Status)

	w = s.do(http.MethodPost, "/withdrawals", body, alice, "user")
	require.Equal(t, http.StatusOK, w.Code)
	replay := decodeBody[withdrawal.CreateResult](t, w)
	assert.True(t, replay.Replayed)
	assert.Equal(t, id, replay.Request.ID)

	w = s.do(http.MethodGet, "/withdrawals/"+id, nil, bob, "user")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodGet, "/withdrawals/"+id, nil, alice, "user")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/admin/withdrawals/"+id+"/approve", nil, alice, "user")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/admin/withdrawals/"+id+"/instruction", nil, admin, "admin")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.KindStateConflict, decodeBody[ErrorResponse](t, w).Kind)

	w = s.do(http.MethodPost, "/admin/withdrawals/"+id+"/approve", map[string]any{"note": "ok"}, admin, "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.WithdrawalApproved, decodeBody[models.WithdrawalRequest](t, w).Status)

	w = s.do(http.MethodGet, "/admin/withdrawals/"+id+"/instruction?format=xml", nil, admin, "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "<?xml"))

	w = s.do(http.MethodPost, "/admin/withdrawals/"+id+"/mark-paid", map[string]any{}, auditor, "admin")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/admin/withdrawals/"+id+"/mark-paid", map[string]any{"bank_reference": "NIP-77"}, auditor, "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.WithdrawalPaid, decodeBody[models.WithdrawalRequest](t, w).Status)

	w = s.do(http.MethodPost, "/withdrawals/"+id+"/cancel", nil, alice, "user")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/admin/withdrawals/"+id+"/audit", nil, admin, "admin")
	require.Equal(t, http.StatusOK, w.Code)
	history := decodeBody[map[string][]models.AuditRecord](t, w)["records"]
	require.Len(t, history, 3)
	assert.Equal(t, []string{models.ActionCreate, models.ActionApprove, models.ActionMarkPaid},
		[]string{history[0].Action, history[1].Action, history[2].Action})
}

func TestRejectRefundsOverHTTP(t *testing.T) {
	s := newServer(t)
	s.seedWallets()

	w := s.do(http.MethodPost, "/withdrawals", map[string]any{
		"amount":          "50.00",
		"idempotency_key": "wd-r",
		"bank_details": map[string]any{
			"bank_code":      "058",
			"account_number": "0123456789",
			"account_name":   "Alice Eze",
		},
	}, alice, "user")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeBody[withdrawal.CreateResult](t, w).Request.ID

	w = s.do(http.MethodPost, "/admin/withdrawals/"+id+"/reject", map[string]any{"reason": "name mismatch"}, admin, "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/internal/wallets/"+models.FormatWalletNumber(2), nil, 0, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "300.00", decodeBody[models.Wallet](t, w).Balance.StringFixed(2))

	w = s.do(http.MethodGet, "/admin/reconcile/wallets/"+models.FormatWalletNumber(2), nil, admin, "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[reconcile.WalletReport](t, w).Balanced)

	w = s.do(http.MethodGet, "/admin/reconcile/journals", nil, admin, "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody[map[string]any](t, w)["balanced"])
}

func TestConvertPointsEndpoint(t *testing.T) {
	s := newServer(t)
	s.seedWallets()
	s.store.AddRule(models.PointConversionRule{PointsRequired: 500, WalletAmountPerBlock: decimal.RequireFromString("100.00"), IsActive: true})
	s.store.SetPoints(bob, 500)

	w := s.do(http.MethodPost, "/points/convert", map[string]any{"points": 0}, bob, "user")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/points/convert", map[string]any{"points": 500}, bob, "user")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[points.Result](t, w)
	assert.Equal(t, "100.00", res.WalletAmount.StringFixed(2))
	assert.Zero(t, res.PointsRemaining)

	w = s.do(http.MethodPost, "/points/convert", map[string]any{"points": 500}, bob, "user")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetWalletStatusEndpoint(t *testing.T) {
	s := newServer(t)
	s.seedWallets()

	w := s.do(http.MethodPut, "/admin/wallets/"+models.FormatWalletNumber(3)+"/status", map[string]any{"status": "INACTIVE"}, admin, "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.WalletStatusInactive, decodeBody[models.Wallet](t, w).Status)

	w = s.do(http.MethodPost, "/internal/transfers", map[string]any{
		"from":   models.FormatWalletNumber(2),
		"to":     models.FormatWalletNumber(3),
		"amount": "1.00",
	}, 0, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperr.KindInactiveWallet, decodeBody[ErrorResponse](t, w).Kind)
}

func TestSendErrorHidesInternalFailures(t *testing.T) {
	h := NewHandler(Services{}, zap.NewNop())
	r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())

	w := httptest.NewRecorder()
	h.sendError(w, r, errors.New("pq: connection reset by peer"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "internal error", resp.Error)
	assert.NotContains(t, w.Body.String(), "pq:")

	w = httptest.NewRecorder()
	h.sendError(w, r, apperr.StateConflict(models.WithdrawalPaid, models.WithdrawalHeld))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.WithdrawalPaid, decodeBody[ErrorResponse](t, w).Meta["current"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(apperr.KindValidation))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(apperr.KindExternalDependency))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(apperr.Kind("SOMETHING_NEW")))
}
