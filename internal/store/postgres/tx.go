package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/database"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/store"
)

const (
	selectWallet = `
		SELECT id, wallet_number, user_id, balance, status, created_at, updated_at
		FROM wallets`

	selectWithdrawal = `
		SELECT id, user_id, wallet_id, amount, currency, bank_details, status, idempotency_key,
			reviewed_by, reviewed_at, approved_by, approved_at, paid_by, paid_at,
			admin_note, bank_reference, created_at, updated_at
		FROM withdrawal_requests`

	constraintWalletUser        = "wallets_user_id_key"
	constraintWithdrawalIdemKey = "withdrawal_requests_user_idempotency_key"
)

type tx struct {
	q    querier
	caps *database.Capabilities
}

var _ store.Tx = (*tx)(nil)

func (t *tx) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, apperr.Internal(err, "failed to look up user %d", userID)
	}
	return exists, nil
}

func (t *tx) InsertWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	w := &models.Wallet{UserID: userID, Balance: decimal.Zero, Status: models.WalletStatusActive}
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO wallets (user_id, balance, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		userID, w.Balance, w.Status).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if constraint, ok := constraintViolation(err); ok && constraint == constraintWalletUser {
			return nil, apperr.New(apperr.KindAlreadyExists, "user %d already has a wallet", userID)
		}
		return nil, apperr.Internal(err, "failed to create wallet")
	}

	w.WalletNumber = models.FormatWalletNumber(w.ID)
	if _, err := t.q.ExecContext(ctx, `UPDATE wallets SET wallet_number = $1 WHERE id = $2`, w.WalletNumber, w.ID); err != nil {
		return nil, apperr.Internal(err, "failed to assign wallet number")
	}
	return w, nil
}

func (t *tx) LockWallet(ctx context.Context, id int64) (*models.Wallet, error) {
	return scanWallet(t.q.QueryRowContext(ctx, selectWallet+` WHERE id = $1 FOR UPDATE`, id), fmt.Sprintf("wallet %d", id))
}

func (t *tx) LockWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error) {
	return scanWallet(t.q.QueryRowContext(ctx, selectWallet+` WHERE user_id = $1 FOR UPDATE`, userID), fmt.Sprintf("wallet for user %d", userID))
}

func (t *tx) UpdateWalletBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	return t.execOne(ctx, fmt.Sprintf("wallet %d", id), `
		UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3`,
		balance, time.Now(), id)
}

func (t *tx) UpdateWalletStatus(ctx context.Context, id int64, status string) error {
	return t.execOne(ctx, fmt.Sprintf("wallet %d", id), `
		UPDATE wallets SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
}

func (t *tx) CountWalletReferences(ctx context.Context, walletID int64) (int64, error) {
	var count int64
	err := t.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM ledger_entries WHERE from_wallet_id = $1 OR to_wallet_id = $1)
			+ (SELECT COUNT(*) FROM wallet_statements WHERE wallet_id = $1)`,
		walletID).Scan(&count)
	if err != nil {
		return 0, apperr.Internal(err, "failed to count references to wallet %d", walletID)
	}
	return count, nil
}

func (t *tx) DeleteWallet(ctx context.Context, id int64) error {
	return t.execOne(ctx, fmt.Sprintf("wallet %d", id), `DELETE FROM wallets WHERE id = $1`, id)
}

// InsertLedgerEntries stamps every entry with the insert time. History cursors
// sort on it, so rows of a long transaction sort before rows committed ahead of it.
func (t *tx) InsertLedgerEntries(ctx context.Context, entries ...models.LedgerEntry) error {
	now := time.Now()
	for _, e := range entries {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO ledger_entries (transaction_id, journal_code, from_wallet_id, to_wallet_id, amount, direction, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.TransactionID, e.JournalCode, e.FromWalletID, e.ToWalletID, e.Amount, e.Direction, e.Note, now)
		if err != nil {
			if _, ok := constraintViolation(err); ok {
				return apperr.Wrap(apperr.KindIDCollision, err, "ledger id %s or journal %s already used", e.TransactionID, e.JournalCode)
			}
			return apperr.Internal(err, "failed to insert ledger entry")
		}
	}
	return nil
}

func (t *tx) InsertStatementEntry(ctx context.Context, e *models.StatementEntry) error {
	var withdrawalID any
	if e.WithdrawalID != "" {
		withdrawalID = e.WithdrawalID
	}

	var err error
	if t.caps.StatementBalanceAfter {
		err = t.q.QueryRowContext(ctx, `
			INSERT INTO wallet_statements (wallet_id, user_id, withdrawal_id, type, amount, direction, balance_after, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at`,
			e.WalletID, e.UserID, withdrawalID, e.Type, e.Amount, e.Direction, e.BalanceAfter, e.Note).Scan(&e.ID, &e.CreatedAt)
	} else {
		err = t.q.QueryRowContext(ctx, `
			INSERT INTO wallet_statements (wallet_id, user_id, withdrawal_id, type, amount, direction, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at`,
			e.WalletID, e.UserID, withdrawalID, e.Type, e.Amount, e.Direction, e.Note).Scan(&e.ID, &e.CreatedAt)
	}
	if err != nil {
		return apperr.Internal(err, "failed to insert statement entry")
	}
	return nil
}

func (t *tx) FindWithdrawalByKey(ctx context.Context, userID int64, key string) (*models.WithdrawalRequest, error) {
	return findWithdrawalByKey(ctx, t.q, userID, key)
}

func (t *tx) InsertWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO withdrawal_requests (id, user_id, wallet_id, amount, currency, bank_details, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		w.ID, w.UserID, w.WalletID, w.Amount, w.Currency, w.BankDetails, w.Status, w.IdempotencyKey).
		Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if constraint, ok := constraintViolation(err); ok && constraint == constraintWithdrawalIdemKey {
			return apperr.Wrap(apperr.KindDuplicate, err, "withdrawal with idempotency key %q already exists", w.IdempotencyKey)
		}
		return apperr.Internal(err, "failed to insert withdrawal request")
	}
	return nil
}

func (t *tx) LockWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	return scanWithdrawal(t.q.QueryRowContext(ctx, selectWithdrawal+` WHERE id = $1 FOR UPDATE`, id), id)
}

func (t *tx) UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	w.UpdatedAt = time.Now()
	return t.execOne(ctx, "withdrawal request "+w.ID, `
		UPDATE withdrawal_requests
		SET status = $1, reviewed_by = $2, reviewed_at = $3, approved_by = $4, approved_at = $5,
			paid_by = $6, paid_at = $7, admin_note = $8, bank_reference = $9, updated_at = $10
		WHERE id = $11`,
		w.Status, w.ReviewedBy, w.ReviewedAt, w.ApprovedBy, w.ApprovedAt,
		w.PaidBy, w.PaidAt, w.AdminNote, w.BankReference, w.UpdatedAt, w.ID)
}

func (t *tx) InsertAudit(ctx context.Context, rec *models.AuditRecord) error {
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO audit_records (request_id, actor_type, actor_id, action, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		rec.RequestID, rec.ActorType, rec.ActorID, rec.Action, rec.Metadata).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return apperr.Internal(err, "failed to insert audit record")
	}
	return nil
}

func (t *tx) LockPoints(ctx context.Context, userID int64) (*models.PointBalance, error) {
	var p models.PointBalance
	err := t.q.QueryRowContext(ctx, `
		SELECT user_id, points, updated_at FROM user_points WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&p.UserID, &p.Points, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "point balance for user %d not found", userID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to lock point balance")
	}
	return &p, nil
}

func (t *tx) UpdatePoints(ctx context.Context, userID int64, points int64) error {
	return t.execOne(ctx, fmt.Sprintf("point balance for user %d", userID), `
		UPDATE user_points SET points = $1, updated_at = $2 WHERE user_id = $3`,
		points, time.Now(), userID)
}

func (t *tx) InsertNotification(ctx context.Context, n *models.Notification) error {
	if !t.caps.NotificationOutbox {
		return nil
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.UserID, n.Type, n.Payload, n.CreatedAt)
	if err != nil {
		return apperr.Internal(err, "failed to insert notification")
	}
	return nil
}

// execOne runs a statement that must touch exactly one row.
func (t *tx) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Internal(err, "failed to update %s", what)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperr.Internal(err, "failed to update %s", what)
	}
	if rowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "%s not found", what)
	}
	return nil
}

func scanWallet(row *sql.Row, what string) (*models.Wallet, error) {
	var w models.Wallet
	var number sql.NullString
	err := row.Scan(&w.ID, &number, &w.UserID, &w.Balance, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "%s not found", what)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load %s", what)
	}
	w.WalletNumber = number.String
	return &w, nil
}

func scanWithdrawal(row *sql.Row, id string) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(
		&w.ID, &w.UserID, &w.WalletID, &w.Amount, &w.Currency, &w.BankDetails, &w.Status, &w.IdempotencyKey,
		&w.ReviewedBy, &w.ReviewedAt, &w.ApprovedBy, &w.ApprovedAt, &w.PaidBy, &w.PaidAt,
		&w.AdminNote, &w.BankReference, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "withdrawal request %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load withdrawal request %s", id)
	}
	return &w, nil
}

func findWithdrawalByKey(ctx context.Context, q querier, userID int64, key string) (*models.WithdrawalRequest, error) {
	row := q.QueryRowContext(ctx, selectWithdrawal+` WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
	return scanWithdrawal(row, "with key "+key)
}
