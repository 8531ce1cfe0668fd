// Package store defines the single persistence contract of the money core.
// One implementation is chosen at configuration time by cmd/server.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ruralpay/walletcore/internal/models"
)

// Store runs transactions and serves lock-free reads.
type Store interface {
	// WithTx runs fn inside one transaction. A returned error rolls back every write.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetWallet(ctx context.Context, id int64) (*models.Wallet, error)
	GetWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error)
	GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	FindWithdrawalByKey(ctx context.Context, userID int64, key string) (*models.WithdrawalRequest, error)
	GetConversionRule(ctx context.Context) (*models.PointConversionRule, error)

	// LedgerIDsExist reports whether any of ids is already a transaction id or journal is already a journal code.
	LedgerIDsExist(ctx context.Context, ids []string, journal string) (bool, error)
	ListLedger(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, error)
	ListAudit(ctx context.Context, requestID string) ([]models.AuditRecord, error)

	// ReconstructBalance sums every ledger and statement movement referencing the wallet.
	ReconstructBalance(ctx context.Context, walletID int64) (decimal.Decimal, error)
	// UnbalancedJournals returns journal codes that are not exactly one DR and one CR of equal amount and wallet pair.
	UnbalancedJournals(ctx context.Context, limit int) ([]string, error)
}

// Tx is the set of writes and locking reads available inside a transaction.
type Tx interface {
	UserExists(ctx context.Context, userID int64) (bool, error)

	InsertWallet(ctx context.Context, userID int64) (*models.Wallet, error)
	LockWallet(ctx context.Context, id int64) (*models.Wallet, error)
	LockWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error)
	UpdateWalletBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	UpdateWalletStatus(ctx context.Context, id int64, status string) error
	CountWalletReferences(ctx context.Context, walletID int64) (int64, error)
	DeleteWallet(ctx context.Context, id int64) error

	InsertLedgerEntries(ctx context.Context, entries ...models.LedgerEntry) error
	InsertStatementEntry(ctx context.Context, entry *models.StatementEntry) error

	FindWithdrawalByKey(ctx context.Context, userID int64, key string) (*models.WithdrawalRequest, error)
	InsertWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
	LockWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error

	InsertAudit(ctx context.Context, rec *models.AuditRecord) error

	LockPoints(ctx context.Context, userID int64) (*models.PointBalance, error)
	UpdatePoints(ctx context.Context, userID int64, points int64) error
	InsertNotification(ctx context.Context, n *models.Notification) error
}
