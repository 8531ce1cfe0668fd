// Package ledger appends the immutable double-entry pairs and serves their history.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/services/idissuer"
	"github.com/ruralpay/walletcore/internal/store"
)

const defaultMaxAttempts = 3

// Writer reserves issuer ids and records transfer pairs.
type Writer struct {
	issuer      idissuer.Issuer
	store       store.Store
	maxAttempts int
	logger      *zap.Logger
}

// NewWriter creates a ledger writer. maxAttempts bounds how often a colliding triple is re-requested.
func NewWriter(issuer idissuer.Issuer, st store.Store, maxAttempts int, logger *zap.Logger) *Writer {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Writer{
		issuer:      issuer,
		store:       st,
		maxAttempts: maxAttempts,
		logger:      logger.Named("ledger"),
	}
}

// Reserve fetches an id triple none of whose parts is already in the ledger.
// It must be called before any row lock is taken.
func (w *Writer) Reserve(ctx context.Context) (models.TransactionIDs, error) {
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		ids, err := w.issuer.Issue(ctx)
		if err != nil {
			return models.TransactionIDs{}, err
		}

		used, err := w.store.LedgerIDsExist(ctx, []string{ids.DebitID, ids.CreditID}, ids.JournalCode)
		if err != nil {
			return models.TransactionIDs{}, err
		}
		if !used {
			return ids, nil
		}

		w.logger.Warn("issuer returned ids already in the ledger",
			zap.Int("attempt", attempt),
			zap.String("debit_id", ids.DebitID),
			zap.String("credit_id", ids.CreditID),
			zap.String("journal_code", ids.JournalCode))
	}
	return models.TransactionIDs{}, apperr.New(apperr.KindIDCollision, "issuer returned colliding ids %d times", w.maxAttempts)
}

// RecordTransfer writes the DR and CR halves of one movement inside tx.
func (w *Writer) RecordTransfer(ctx context.Context, tx store.Tx, ids models.TransactionIDs, fromWalletID, toWalletID int64, amount decimal.Decimal, note string) error {
	debit := models.LedgerEntry{
		TransactionID: ids.DebitID,
		JournalCode:   ids.JournalCode,
		FromWalletID:  fromWalletID,
		ToWalletID:    toWalletID,
		Amount:        amount,
		Direction:     models.DirectionDebit,
		Note:          note,
	}
	credit := debit
	credit.TransactionID = ids.CreditID
	credit.Direction = models.DirectionCredit

	return tx.InsertLedgerEntries(ctx, debit, credit)
}
