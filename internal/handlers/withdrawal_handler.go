package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/services/withdrawal"
)

// HeaderIdempotencyKey may carry the idempotency key instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

// CreateWithdrawal places a hold and opens a withdrawal request
// @Summary Create withdrawal request
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param request body withdrawal.CreateInput true "Withdrawal"
// @Success 201 {object} models.WithdrawalRequest "created"
// @Success 200 {object} models.WithdrawalRequest "replayed"
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /withdrawals [post]
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var in withdrawal.CreateInput
	if !decode(w, r, &in) {
		return
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	}
	in.UserID = actor(r).ID

	res, err := h.svc.Withdrawals.Create(r.Context(), in)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// GetWithdrawal returns a request to its owner or to an admin.
func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Withdrawals.Get(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	if a := actor(r); !a.IsAdmin() && a.ID != req.UserID {
		h.sendError(w, r, apperr.New(apperr.KindForbidden, "withdrawal request %s belongs to another user", req.ID))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.respondTransition(w, r)(h.svc.Withdrawals.Cancel(r.Context(), actor(r).ID, chi.URLParam(r, "requestId")))
}

type reviewRequest struct {
	Note          string `json:"note" validate:"max=500"`
	Reason        string `json:"reason" validate:"max=500"`
	BankReference string `json:"bank_reference" validate:"max=64"`
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request) (reviewRequest, bool) {
	var req reviewRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return req, false
	}
	if err := h.validator.Struct(&req); err != nil {
		h.sendError(w, r, err)
		return req, false
	}
	return req, true
}

// NeedsInfo parks a request until the user answers
// @Summary Request more information
// @Tags admin
// @Param request body object{note=string} true "Note to the user"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 409 {object} ErrorResponse
// @Router /admin/withdrawals/{requestId}/needs-info [post]
func (h *Handler) NeedsInfo(w http.ResponseWriter, r *http.Request) {
	req, ok := h.review(w, r)
	if !ok {
		return
	}
	h.respondTransition(w, r)(h.svc.Withdrawals.AdminNeedsInfo(r.Context(), actor(r).ID, chi.URLParam(r, "requestId"), req.Note))
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	req, ok := h.review(w, r)
	if !ok {
		return
	}
	h.respondTransition(w, r)(h.svc.Withdrawals.AdminApprove(r.Context(), actor(r).ID, chi.URLParam(r, "requestId"), req.Note))
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	req, ok := h.review(w, r)
	if !ok {
		return
	}
	h.respondTransition(w, r)(h.svc.Withdrawals.AdminReject(r.Context(), actor(r).ID, chi.URLParam(r, "requestId"), req.Reason))
}

// MarkPaid records the bank reference of an executed payout
// @Summary Mark withdrawal paid
// @Tags admin
// @Param request body object{bank_reference=string,note=string} true "Payout reference"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 403 {object} ErrorResponse "two-man rule"
// @Failure 409 {object} ErrorResponse
// @Router /admin/withdrawals/{requestId}/mark-paid [post]
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	req, ok := h.review(w, r)
	if !ok {
		return
	}
	h.respondTransition(w, r)(h.svc.Withdrawals.AdminMarkPaid(r.Context(), actor(r).ID, chi.URLParam(r, "requestId"), req.BankReference, req.Note))
}

func (h *Handler) Fail(w http.ResponseWriter, r *http.Request) {
	req, ok := h.review(w, r)
	if !ok {
		return
	}
	h.respondTransition(w, r)(h.svc.Withdrawals.AdminFail(r.Context(), actor(r).ID, chi.URLParam(r, "requestId"), req.Reason))
}

func (h *Handler) respondTransition(w http.ResponseWriter, r *http.Request) func(*models.WithdrawalRequest, error) {
	return func(req *models.WithdrawalRequest, err error) {
		if err != nil {
			h.sendError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

// PayoutInstruction exports the pacs.008 instruction of an approved request.
func (h *Handler) PayoutInstruction(w http.ResponseWriter, r *http.Request) {
	ins, err := h.svc.Payout.Instruction(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "xml" {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(ins.XML))
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

func (h *Handler) AuditHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Audit.History(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
