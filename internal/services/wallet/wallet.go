// Package wallet owns the per-user balance record: creation, row locking,
// balance mutation and lifecycle.
package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/money"
	"github.com/ruralpay/walletcore/internal/store"
)

const defaultCacheTTL = 10 * time.Minute

// Service is the Wallet Store.
type Service struct {
	store    store.Store
	redis    *redis.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewService creates a wallet service. rdb may be nil, in which case lookups are not cached.
func NewService(st store.Store, rdb *redis.Client, cacheTTL time.Duration, logger *zap.Logger) *Service {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Service{
		store:    st,
		redis:    rdb,
		cacheTTL: cacheTTL,
		logger:   logger.Named("wallet"),
	}
}

// ParseNumber resolves a wallet number to its surrogate id, failing VALIDATION.
func ParseNumber(field, number string) (int64, error) {
	id, err := models.ParseWalletNumber(number)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindValidation, err, "%s is not a valid wallet number", field).With("field", field)
	}
	return id, nil
}

// Create opens the single wallet of a user.
func (s *Service) Create(ctx context.Context, userID int64) (*models.Wallet, error) {
	if userID <= 0 {
		return nil, apperr.New(apperr.KindValidation, "user id must be positive").With("field", "user_id")
	}

	var created *models.Wallet
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		exists, err := tx.UserExists(ctx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.New(apperr.KindUserNotFound, "user %d not found", userID)
		}

		created, err = tx.InsertWallet(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet created",
		zap.Int64("user_id", userID),
		zap.String("wallet_number", created.WalletNumber))
	return created, nil
}

// LockForUpdate returns the wallet row locked for the rest of tx.
func (s *Service) LockForUpdate(ctx context.Context, tx store.Tx, walletID int64) (*models.Wallet, error) {
	return tx.LockWallet(ctx, walletID)
}

// AdjustBalance applies delta to a wallet locked in tx and updates w in place.
func (s *Service) AdjustBalance(ctx context.Context, tx store.Tx, w *models.Wallet, delta decimal.Decimal) error {
	if !w.IsActive() {
		return apperr.New(apperr.KindInactiveWallet, "wallet %s is %s", w.WalletNumber, w.Status).
			With("wallet_number", w.WalletNumber)
	}

	next := w.Balance.Add(delta)
	if next.IsNegative() {
		return apperr.New(apperr.KindInsufficientFunds, "wallet %s has insufficient funds", w.WalletNumber).
			With("wallet_number", w.WalletNumber).
			With("balance", w.Balance.StringFixed(money.Scale)).
			With("required", delta.Neg().StringFixed(money.Scale))
	}

	if err := tx.UpdateWalletBalance(ctx, w.ID, next); err != nil {
		return err
	}
	w.Balance = next
	return nil
}

// SetStatus activates or deactivates a wallet.
func (s *Service) SetStatus(ctx context.Context, walletNumber, status string) (*models.Wallet, error) {
	if !models.ValidWalletStatus(status) {
		return nil, apperr.New(apperr.KindValidation, "unknown wallet status %q", status).With("field", "status")
	}
	id, err := ParseNumber("wallet_number", walletNumber)
	if err != nil {
		return nil, err
	}

	var updated *models.Wallet
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.UpdateWalletStatus(ctx, id, status); err != nil {
			return err
		}
		w.Status = status
		updated = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet status changed",
		zap.String("wallet_number", walletNumber),
		zap.String("status", status))
	return updated, nil
}

// Delete removes a wallet nothing references.
func (s *Service) Delete(ctx context.Context, walletNumber string) error {
	id, err := ParseNumber("wallet_number", walletNumber)
	if err != nil {
		return err
	}

	var userID int64
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			return err
		}
		refs, err := tx.CountWalletReferences(ctx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return apperr.New(apperr.KindHasTransactions, "wallet %s has %d ledger entries", walletNumber, refs).
				With("entries", refs)
		}
		userID = w.UserID
		return tx.DeleteWallet(ctx, id)
	})
	if err != nil {
		return err
	}

	s.forget(ctx, userID)
	s.logger.Info("wallet deleted", zap.String("wallet_number", walletNumber))
	return nil
}

// Get reads a wallet without locking it.
func (s *Service) Get(ctx context.Context, walletNumber string) (*models.Wallet, error) {
	id, err := ParseNumber("wallet_number", walletNumber)
	if err != nil {
		return nil, err
	}
	return s.store.GetWallet(ctx, id)
}

// Deposit credits an external top-up and records it on the wallet statement.
func (s *Service) Deposit(ctx context.Context, walletNumber string, amount decimal.Decimal, reference string) (*models.Wallet, error) {
	if err := money.ValidatePositive("amount", amount); err != nil {
		return nil, err
	}
	if reference == "" {
		return nil, apperr.New(apperr.KindValidation, "reference is required").With("field", "reference")
	}
	id, err := ParseNumber("wallet_number", walletNumber)
	if err != nil {
		return nil, err
	}

	var credited *models.Wallet
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			return err
		}
		if err := s.AdjustBalance(ctx, tx, w, amount); err != nil {
			return err
		}
		credited = w
		return tx.InsertStatementEntry(ctx, &models.StatementEntry{
			WalletID:     w.ID,
			UserID:       w.UserID,
			Type:         models.StatementExternalCredit,
			Amount:       amount,
			Direction:    models.DirectionCredit,
			BalanceAfter: w.Balance,
			Note:         reference,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit credited",
		zap.String("wallet_number", walletNumber),
		zap.String("amount", amount.StringFixed(money.Scale)),
		zap.String("reference", reference))
	return credited, nil
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("wallet:user:%d", userID)
}

func (s *Service) forget(ctx context.Context, userID int64) {
	if s.redis == nil || userID == 0 {
		return
	}
	if err := s.redis.Del(ctx, cacheKey(userID)).Err(); err != nil {
		s.logger.Warn("failed to evict wallet lookup", zap.Int64("user_id", userID), zap.Error(err))
	}
}
