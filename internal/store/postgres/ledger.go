package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
)

// ListLedger returns a wallet's side of its ledger rows, newest first.
// A wallet sees DR rows it paid from and CR rows it received.
func (s *Store) ListLedger(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch {
	case filter.WalletID != 0:
		p := arg(filter.WalletID)
		conditions = append(conditions, fmt.Sprintf(
			"((direction = 'DR' AND from_wallet_id = %[1]s) OR (direction = 'CR' AND to_wallet_id = %[1]s))", p))
	case filter.UserID != 0:
		p := arg(filter.UserID)
		conditions = append(conditions, fmt.Sprintf(
			"((direction = 'DR' AND from_wallet_id = (SELECT id FROM wallets WHERE user_id = %[1]s)) OR "+
				"(direction = 'CR' AND to_wallet_id = (SELECT id FROM wallets WHERE user_id = %[1]s)))", p))
	}
	if filter.Direction != "" {
		conditions = append(conditions, "direction = "+arg(filter.Direction))
	}
	if filter.JournalCode != "" {
		conditions = append(conditions, "journal_code = "+arg(filter.JournalCode))
	}
	if filter.From != nil {
		conditions = append(conditions, "created_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, "created_at < "+arg(*filter.To))
	}
	if filter.Cursor != nil {
		conditions = append(conditions, fmt.Sprintf("(created_at, transaction_id) < (%s, %s)",
			arg(filter.Cursor.CreatedAt), arg(filter.Cursor.TransactionID)))
	}

	query := `
		SELECT transaction_id, journal_code, from_wallet_id, to_wallet_id, amount, direction, note, created_at
		FROM ledger_entries`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n\t\tORDER BY created_at DESC, transaction_id DESC\n\t\tLIMIT " + arg(filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list ledger entries")
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.TransactionID, &e.JournalCode, &e.FromWalletID, &e.ToWalletID, &e.Amount, &e.Direction, &e.Note, &e.CreatedAt); err != nil {
			return nil, apperr.Internal(err, "failed to scan ledger entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "failed to list ledger entries")
	}
	return entries, nil
}
