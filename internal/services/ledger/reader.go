package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Filter narrows a history query. Cursor is the opaque value of a previous Page.NextCursor.
type Filter struct {
	WalletNumber string
	UserID       int64
	Direction    string
	JournalCode  string
	From         *time.Time
	To           *time.Time
	Cursor       string
	Limit        int
}

// Page is one slice of history, newest first.
type Page struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Reader serves cursor-paginated ledger history.
type Reader struct {
	store store.Store
}

func NewReader(st store.Store) *Reader {
	return &Reader{store: st}
}

// History returns the entries matching f, newest first, keyed by
// (created_at, transaction_id). created_at is stamped when a row is inserted,
// not when its transaction commits, so a transaction that commits after a
// reader has paged past its insert time will not show up on later pages.
// Callers that need every row should re-read from the top or filter by From.
func (r *Reader) History(ctx context.Context, f Filter) (*Page, error) {
	query := models.LedgerFilter{
		UserID:      f.UserID,
		Direction:   f.Direction,
		JournalCode: f.JournalCode,
		From:        f.From,
		To:          f.To,
		Limit:       f.Limit,
	}

	if f.WalletNumber != "" {
		id, err := models.ParseWalletNumber(f.WalletNumber)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err, "wallet is not a valid wallet number").With("field", "wallet")
		}
		query.WalletID = id
	}
	switch f.Direction {
	case "", models.DirectionDebit, models.DirectionCredit:
	default:
		return nil, apperr.New(apperr.KindValidation, "direction must be DR or CR").With("field", "direction")
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, apperr.New(apperr.KindValidation, "from must be before to").With("field", "from")
	}
	if query.Limit <= 0 {
		query.Limit = DefaultPageSize
	}
	if query.Limit > MaxPageSize {
		query.Limit = MaxPageSize
	}
	if f.Cursor != "" {
		c, err := DecodeCursor(f.Cursor)
		if err != nil {
			return nil, err
		}
		query.Cursor = c
	}

	entries, err := r.store.ListLedger(ctx, query)
	if err != nil {
		return nil, err
	}

	page := &Page{Entries: entries}
	if page.Entries == nil {
		page.Entries = []models.LedgerEntry{}
	}
	if len(entries) == query.Limit {
		last := entries[len(entries)-1]
		page.NextCursor = EncodeCursor(models.LedgerCursor{CreatedAt: last.CreatedAt, TransactionID: last.TransactionID})
	}
	return page, nil
}

// EncodeCursor renders a cursor as URL-safe text.
func EncodeCursor(c models.LedgerCursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(s string) (*models.LedgerCursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "malformed cursor").With("field", "cursor")
	}
	var c models.LedgerCursor
	if err := json.Unmarshal(b, &c); err != nil || c.TransactionID == "" {
		return nil, apperr.New(apperr.KindValidation, "malformed cursor").With("field", "cursor")
	}
	return &c, nil
}
