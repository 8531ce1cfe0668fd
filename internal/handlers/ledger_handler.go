package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/services/ledger"
)

// LedgerHistory lists ledger entries newest first
// @Summary Ledger history
// @Tags ledger
// @Produce json
// @Param wallet query string false "Wallet number"
// @Param user_id query int false "Wallet owner"
// @Param direction query string false "DR or CR"
// @Param journal_code query string false "Journal code"
// @Param from query string false "RFC3339 lower bound, inclusive"
// @Param to query string false "RFC3339 upper bound, exclusive"
// @Param cursor query string false "Cursor from the previous page"
// @Param limit query int false "Page size"
// @Success 200 {object} ledger.Page
// @Router /ledger [get]
func (h *Handler) LedgerHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		WalletNumber: q.Get("wallet"),
		Direction:    q.Get("direction"),
		JournalCode:  q.Get("journal_code"),
		Cursor:       q.Get("cursor"),
	}

	var err error
	if f.UserID, err = queryInt64(q.Get("user_id"), "user_id"); err != nil {
		h.sendError(w, r, err)
		return
	}
	limit, err := queryInt64(q.Get("limit"), "limit")
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	f.Limit = int(limit)
	if f.From, err = queryTime(q.Get("from"), "from"); err != nil {
		h.sendError(w, r, err)
		return
	}
	if f.To, err = queryTime(q.Get("to"), "to"); err != nil {
		h.sendError(w, r, err)
		return
	}

	page, err := h.svc.Ledger.History(r.Context(), f)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) ReconcileWallet(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconcile.Wallet(r.Context(), chi.URLParam(r, "walletNumber"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ReconcileJournals(w http.ResponseWriter, r *http.Request) {
	codes, err := h.svc.Reconcile.Journals(r.Context())
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balanced":            len(codes) == 0,
		"unbalanced_journals": codes,
	})
}

func queryInt64(v, field string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.KindValidation, "%s must be a non-negative integer", field).With("field", field)
	}
	return n, nil
}

func queryTime(v, field string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "%s must be an RFC3339 timestamp", field).With("field", field)
	}
	return &t, nil
}
