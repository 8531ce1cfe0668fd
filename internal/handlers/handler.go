// Package handlers is the HTTP boundary of the money core. It is the only
// place where error kinds become status codes.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	mW "github.com/ruralpay/walletcore/internal/middleware"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/services/audit"
	"github.com/ruralpay/walletcore/internal/services/ledger"
	"github.com/ruralpay/walletcore/internal/services/payout"
	"github.com/ruralpay/walletcore/internal/services/points"
	"github.com/ruralpay/walletcore/internal/services/reconcile"
	"github.com/ruralpay/walletcore/internal/services/transfer"
	"github.com/ruralpay/walletcore/internal/services/wallet"
	"github.com/ruralpay/walletcore/internal/services/withdrawal"
	"github.com/ruralpay/walletcore/internal/validation"
)

// Services are the core components exposed over HTTP.
type Services struct {
	Wallets     *wallet.Service
	Transfers   *transfer.Engine
	Ledger      *ledger.Reader
	Withdrawals *withdrawal.Service
	Points      *points.Adapter
	Payout      *payout.Exporter
	Reconcile   *reconcile.Service
	Audit       *audit.Trail
}

type Handler struct {
	svc       Services
	validator *validation.Helper
	logger    *zap.Logger
}

func NewHandler(svc Services, logger *zap.Logger) *Handler {
	return &Handler{
		svc:       svc,
		validator: validation.New(),
		logger:    logger.Named("http"),
	}
}

// Routes registers every endpoint on r, normally mounted at /api/v1.
func (h *Handler) Routes(r chi.Router) {
	// service-to-service endpoints, protected by the network
	r.Get("/ledger", h.LedgerHistory)
	r.Get("/wallets/by-user/{userId}", h.LookupWallet)
	r.Route("/internal", func(r chi.Router) {
		r.Post("/wallets", h.CreateWallet)
		r.Get("/wallets/{walletNumber}", h.GetWallet)
		r.Delete("/wallets/{walletNumber}", h.DeleteWallet)
		r.Post("/deposits", h.Deposit)
		r.Post("/transfers", h.Transfer)
		r.Post("/credits", h.PlatformCredit)
	})

	r.Group(func(r chi.Router) {
		r.Use(mW.RequireActor)

		r.Post("/withdrawals", h.CreateWithdrawal)
		r.Get("/withdrawals/{requestId}", h.GetWithdrawal)
		r.Post("/withdrawals/{requestId}/cancel", h.CancelWithdrawal)
		r.Post("/points/convert", h.ConvertPoints)

		r.Route("/admin", func(r chi.Router) {
			r.Use(mW.RequireAdmin)

			r.Post("/withdrawals/{requestId}/needs-info", h.NeedsInfo)
			r.Post("/withdrawals/{requestId}/approve", h.Approve)
			r.Post("/withdrawals/{requestId}/reject", h.Reject)
			r.Post("/withdrawals/{requestId}/mark-paid", h.MarkPaid)
			r.Post("/withdrawals/{requestId}/fail", h.Fail)
			r.Get("/withdrawals/{requestId}/instruction", h.PayoutInstruction)
			r.Get("/withdrawals/{requestId}/audit", h.AuditHistory)

			r.Put("/wallets/{walletNumber}/status", h.SetWalletStatus)
			r.Get("/reconcile/wallets/{walletNumber}", h.ReconcileWallet)
			r.Get("/reconcile/journals", h.ReconcileJournals)
		})
	})
}

func actor(r *http.Request) models.Actor {
	a, _ := mW.ActorFrom(r.Context())
	return a
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, apperr.New(apperr.KindValidation, "%s must be a positive integer", name).With("field", name)
	}
	return v, nil
}
