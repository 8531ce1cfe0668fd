// Package withdrawal implements the cash-out request lifecycle:
// HELD -> NEEDS_INFO -> APPROVED -> PAID, with REJECTED, CANCELLED and FAILED
// as refunding terminals.
package withdrawal

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/money"
	"github.com/ruralpay/walletcore/internal/services/audit"
	"github.com/ruralpay/walletcore/internal/services/wallet"
	"github.com/ruralpay/walletcore/internal/store"
	"github.com/ruralpay/walletcore/internal/validation"
)

const maxIdempotencyKeyLen = 128

// Two-man rule scopes
const (
	// ScopeApprover forbids the approving admin from marking the request paid.
	ScopeApprover = "approver"
	// ScopeChain also forbids the admin who asked for more information.
	ScopeChain = "chain"
)

// TwoManRule is the optional separation-of-duties policy applied on mark-paid.
type TwoManRule struct {
	Enabled   bool
	Threshold decimal.Decimal
	Scope     string
}

// Config bounds withdrawal requests.
type Config struct {
	MinAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	Currency   string
	TwoManRule TwoManRule
}

// CreateInput is a user's cash-out request.
type CreateInput struct {
	UserID         int64              `json:"-"`
	Amount         decimal.Decimal    `json:"amount"`
	BankDetails    models.BankDetails `json:"bank_details"`
	IdempotencyKey string             `json:"idempotency_key"`
}

// CreateResult is the created request, or the existing one on replay.
type CreateResult struct {
	Request  *models.WithdrawalRequest `json:"request"`
	Replayed bool                      `json:"replayed"`
}

// Service is the withdrawal state machine.
type Service struct {
	store     store.Store
	wallets   *wallet.Service
	trail     *audit.Trail
	validator *validation.Helper
	cfg       Config
	logger    *zap.Logger
}

func NewService(st store.Store, wallets *wallet.Service, trail *audit.Trail, cfg Config, logger *zap.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	if cfg.TwoManRule.Scope == "" {
		cfg.TwoManRule.Scope = ScopeApprover
	}
	return &Service{
		store:     st,
		wallets:   wallets,
		trail:     trail,
		validator: validation.New(),
		cfg:       cfg,
		logger:    logger.Named("withdrawal"),
	}
}

// Get reads a request without locking it.
func (s *Service) Get(ctx context.Context, requestID string) (*models.WithdrawalRequest, error) {
	return s.store.GetWithdrawal(ctx, requestID)
}

// Create holds the amount on the user's wallet and opens a HELD request.
// Repeating a call with the same idempotency key returns the first request unchanged.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := s.validateCreate(in); err != nil {
		return nil, err
	}

	if existing, err := s.store.FindWithdrawalByKey(ctx, in.UserID, in.IdempotencyKey); err == nil {
		return &CreateResult{Request: existing, Replayed: true}, nil
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	var (
		created *models.WithdrawalRequest
		rec     *models.AuditRecord
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.LockWalletByUser(ctx, in.UserID)
		if err != nil {
			return err
		}

		// a concurrent create may have committed while we waited for the wallet
		if existing, err := tx.FindWithdrawalByKey(ctx, in.UserID, in.IdempotencyKey); err == nil {
			created = existing
			return nil
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return err
		}

		if err := s.wallets.AdjustBalance(ctx, tx, w, in.Amount.Neg()); err != nil {
			return err
		}

		req := &models.WithdrawalRequest{
			ID:             uuid.NewString(),
			UserID:         in.UserID,
			WalletID:       w.ID,
			Amount:         in.Amount,
			Currency:       s.cfg.Currency,
			BankDetails:    in.BankDetails,
			Status:         models.WithdrawalHeld,
			IdempotencyKey: in.IdempotencyKey,
		}
		if err := tx.InsertWithdrawal(ctx, req); err != nil {
			return err
		}
		if err := tx.InsertStatementEntry(ctx, &models.StatementEntry{
			WalletID:     w.ID,
			UserID:       in.UserID,
			WithdrawalID: req.ID,
			Type:         models.StatementWithdrawRequestDebit,
			Amount:       in.Amount,
			Direction:    models.DirectionDebit,
			BalanceAfter: w.Balance,
			Note:         "withdrawal hold",
		}); err != nil {
			return err
		}

		rec = &models.AuditRecord{
			RequestID: req.ID,
			ActorType: models.ActorUser,
			ActorID:   in.UserID,
			Action:    models.ActionCreate,
			Metadata: models.Metadata{
				"amount":    in.Amount.StringFixed(money.Scale),
				"currency":  req.Currency,
				"bank_code": in.BankDetails.BankCode,
				"to":        models.WithdrawalHeld,
			},
		}
		if err := s.trail.Record(ctx, tx, rec); err != nil {
			return err
		}
		created = req
		return nil
	})

	if apperr.Is(err, apperr.KindDuplicate) {
		existing, findErr := s.store.FindWithdrawalByKey(ctx, in.UserID, in.IdempotencyKey)
		if findErr != nil {
			return nil, findErr
		}
		return &CreateResult{Request: existing, Replayed: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &CreateResult{Request: created, Replayed: true}, nil
	}

	s.trail.Emit(*rec)
	s.logger.Info("withdrawal requested",
		zap.String("request_id", created.ID),
		zap.Int64("user_id", in.UserID),
		zap.String("amount", in.Amount.StringFixed(money.Scale)))
	return &CreateResult{Request: created}, nil
}

func (s *Service) validateCreate(in CreateInput) error {
	key := strings.TrimSpace(in.IdempotencyKey)
	switch {
	case in.UserID <= 0:
		return apperr.New(apperr.KindValidation, "user id must be positive").With("field", "user_id")
	case key == "":
		return apperr.New(apperr.KindValidation, "idempotency key is required").With("field", "idempotency_key")
	case len(in.IdempotencyKey) > maxIdempotencyKeyLen:
		return apperr.New(apperr.KindValidation, "idempotency key is longer than %d characters", maxIdempotencyKeyLen).
			With("field", "idempotency_key")
	}

	if err := money.ValidatePositive("amount", in.Amount); err != nil {
		return err
	}
	if !s.cfg.MinAmount.IsZero() && in.Amount.LessThan(s.cfg.MinAmount) {
		return apperr.New(apperr.KindValidation, "amount is below the minimum of %s", s.cfg.MinAmount.StringFixed(money.Scale)).
			With("field", "amount")
	}
	if !s.cfg.MaxAmount.IsZero() && in.Amount.GreaterThan(s.cfg.MaxAmount) {
		return apperr.New(apperr.KindValidation, "amount is above the maximum of %s", s.cfg.MaxAmount.StringFixed(money.Scale)).
			With("field", "amount")
	}
	return s.validator.Struct(in.BankDetails)
}
