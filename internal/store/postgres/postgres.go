// Package postgres implements store.Store over database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/database"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/store"
)

const uniqueViolation = "23505"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres implementation of store.Store.
type Store struct {
	db   *sql.DB
	caps *database.Capabilities
}

var _ store.Store = (*Store)(nil)

// New creates a Postgres store. caps must not be nil.
func New(db *sql.DB, caps *database.Capabilities) *Store {
	return &Store{db: db, caps: caps}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &tx{q: sqlTx, caps: s.caps}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return apperr.Internal(err, "failed to commit transaction")
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, id int64) (*models.Wallet, error) {
	return scanWallet(s.db.QueryRowContext(ctx, selectWallet+` WHERE id = $1`, id), fmt.Sprintf("wallet %d", id))
}

func (s *Store) GetWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error) {
	return scanWallet(s.db.QueryRowContext(ctx, selectWallet+` WHERE user_id = $1`, userID), fmt.Sprintf("wallet for user %d", userID))
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	return scanWithdrawal(s.db.QueryRowContext(ctx, selectWithdrawal+` WHERE id = $1`, id), id)
}

func (s *Store) FindWithdrawalByKey(ctx context.Context, userID int64, key string) (*models.WithdrawalRequest, error) {
	return findWithdrawalByKey(ctx, s.db, userID, key)
}

func (s *Store) GetConversionRule(ctx context.Context) (*models.PointConversionRule, error) {
	var rule models.PointConversionRule
	err := s.db.QueryRowContext(ctx, `
		SELECT id, points_required, wallet_amount_per_block, is_active
		FROM point_conversion_rules
		ORDER BY is_active DESC, id DESC
		LIMIT 1`).Scan(&rule.ID, &rule.PointsRequired, &rule.WalletAmountPerBlock, &rule.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindRuleNotFound, "no point conversion rule configured")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load point conversion rule")
	}
	return &rule, nil
}

func (s *Store) LedgerIDsExist(ctx context.Context, ids []string, journal string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE transaction_id = ANY($1) OR journal_code = $2
		)`, pq.Array(ids), journal).Scan(&exists)
	if err != nil {
		return false, apperr.Internal(err, "failed to check ledger ids")
	}
	return exists, nil
}

func (s *Store) ListAudit(ctx context.Context, requestID string) ([]models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, actor_type, actor_id, action, metadata, created_at
		FROM audit_records
		WHERE request_id = $1
		ORDER BY id`, requestID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list audit records")
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.ActorType, &rec.ActorID, &rec.Action, &rec.Metadata, &rec.CreatedAt); err != nil {
			return nil, apperr.Internal(err, "failed to scan audit record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "failed to list audit records")
	}
	return records, nil
}

func (s *Store) ReconstructBalance(ctx context.Context, walletID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT SUM(amount) FROM ledger_entries WHERE direction = 'CR' AND to_wallet_id = $1), 0)
			- COALESCE((SELECT SUM(amount) FROM ledger_entries WHERE direction = 'DR' AND from_wallet_id = $1), 0)
			+ COALESCE((SELECT SUM(amount) FROM wallet_statements WHERE direction = 'CR' AND wallet_id = $1), 0)
			- COALESCE((SELECT SUM(amount) FROM wallet_statements WHERE direction = 'DR' AND wallet_id = $1), 0)`,
		walletID).Scan(&balance)
	if err != nil {
		return decimal.Zero, apperr.Internal(err, "failed to reconstruct balance of wallet %d", walletID)
	}
	return balance, nil
}

func (s *Store) UnbalancedJournals(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT journal_code
		FROM ledger_entries
		GROUP BY journal_code
		HAVING COUNT(*) <> 2
			OR COUNT(*) FILTER (WHERE direction = 'DR') <> 1
			OR COUNT(*) FILTER (WHERE direction = 'CR') <> 1
			OR MIN(amount) <> MAX(amount)
			OR MIN(from_wallet_id) <> MAX(from_wallet_id)
			OR MIN(to_wallet_id) <> MAX(to_wallet_id)
		ORDER BY journal_code
		LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Internal(err, "failed to check journals")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, apperr.Internal(err, "failed to scan journal code")
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "failed to check journals")
	}
	return codes, nil
}

// constraintViolation returns the violated unique constraint name, if err is one.
func constraintViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
