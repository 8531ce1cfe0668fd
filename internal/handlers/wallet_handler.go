package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ruralpay/walletcore/internal/services/transfer"
)

// CreateWallet opens the wallet of a user
// @Summary Create wallet
// @Tags wallets
// @Accept json
// @Produce json
// @Param request body object{user_id=int64} true "Wallet owner"
// @Success 201 {object} models.Wallet
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /internal/wallets [post]
func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"user_id" validate:"required,gt=0"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		h.sendError(w, r, err)
		return
	}

	wal, err := h.svc.Wallets.Create(r.Context(), req.UserID)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wal)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wal, err := h.svc.Wallets.Get(r.Context(), chi.URLParam(r, "walletNumber"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wal)
}

// DeleteWallet removes a wallet that never moved money
// @Summary Delete wallet
// @Tags wallets
// @Success 204
// @Failure 409 {object} ErrorResponse
// @Router /internal/wallets/{walletNumber} [delete]
func (h *Handler) DeleteWallet(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Wallets.Delete(r.Context(), chi.URLParam(r, "walletNumber")); err != nil {
		h.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LookupWallet resolves a user's wallet number
// @Summary Wallet lookup by user
// @Tags wallets
// @Produce json
// @Param userId path int true "User ID"
// @Success 200 {object} object{user_id=int64,wallet_number=string}
// @Failure 404 {object} ErrorResponse
// @Router /wallets/by-user/{userId} [get]
func (h *Handler) LookupWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userId")
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	number, err := h.svc.Wallets.LookupByUser(r.Context(), userID)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       userID,
		"wallet_number": number,
	})
}

func (h *Handler) SetWalletStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		h.sendError(w, r, err)
		return
	}

	wal, err := h.svc.Wallets.SetStatus(r.Context(), chi.URLParam(r, "walletNumber"), req.Status)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wal)
}

// Deposit credits an external top-up
// @Summary Deposit
// @Tags wallets
// @Accept json
// @Produce json
// @Param request body object{wallet_number=string,amount=string,reference=string} true "Deposit"
// @Success 200 {object} models.Wallet
// @Router /internal/deposits [post]
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletNumber string          `json:"wallet_number" validate:"required"`
		Amount       decimal.Decimal `json:"amount"`
		Reference    string          `json:"reference" validate:"max=255"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		h.sendError(w, r, err)
		return
	}

	wal, err := h.svc.Wallets.Deposit(r.Context(), req.WalletNumber, req.Amount, req.Reference)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wal)
}

// Transfer moves money between two wallets
// @Summary Transfer
// @Tags transfers
// @Accept json
// @Produce json
// @Param request body transfer.Request true "Transfer"
// @Success 200 {object} transfer.Result
// @Failure 422 {object} ErrorResponse
// @Router /internal/transfers [post]
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transfer.Request
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Transfers.Transfer(r.Context(), req)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PlatformCredit pays a wallet from the platform funding wallet.
func (h *Handler) PlatformCredit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To     string          `json:"to" validate:"required"`
		Amount decimal.Decimal `json:"amount"`
		Note   string          `json:"note" validate:"max=255"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		h.sendError(w, r, err)
		return
	}

	res, err := h.svc.Transfers.CreditFromPlatform(r.Context(), req.To, req.Amount, req.Note)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
