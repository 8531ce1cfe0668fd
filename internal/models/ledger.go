package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry directions
const (
	DirectionDebit  = "DR"
	DirectionCredit = "CR"
)

// LedgerEntry is one immutable half of a double-entry pair.
type LedgerEntry struct {
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	JournalCode   string          `json:"journal_code" db:"journal_code"`
	FromWalletID  int64           `json:"from_wallet_id" db:"from_wallet_id"`
	ToWalletID    int64           `json:"to_wallet_id" db:"to_wallet_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Direction     string          `json:"direction" db:"direction"` // DR or CR
	Note          string          `json:"note" db:"note"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// TransactionIDs is the triple handed out by the external id issuer.
type TransactionIDs struct {
	DebitID     string `json:"debit_id"`
	CreditID    string `json:"credit_id"`
	JournalCode string `json:"journal_code"`
}

// Statement entry types for the withdrawal side ledger
const (
	StatementWithdrawRequestDebit = "WITHDRAW_REQUEST_DEBIT"
	StatementWithdrawRefund       = "WITHDRAW_REFUND"
	StatementExternalCredit       = "EXTERNAL_CREDIT"
)

// StatementEntry is a single-sided movement used for per-user statements.
type StatementEntry struct {
	ID           int64           `json:"id" db:"id"`
	WalletID     int64           `json:"wallet_id" db:"wallet_id"`
	UserID       int64           `json:"user_id" db:"user_id"`
	WithdrawalID string          `json:"withdrawal_id,omitempty" db:"withdrawal_id"`
	Type         string          `json:"type" db:"type"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Direction    string          `json:"direction" db:"direction"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	Note         string          `json:"note" db:"note"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// LedgerFilter narrows a ledger history query.
type LedgerFilter struct {
	WalletID    int64
	UserID      int64
	Direction   string
	JournalCode string
	From        *time.Time
	To          *time.Time
	Cursor      *LedgerCursor
	Limit       int
}

// LedgerCursor is the (created_at, transaction_id) position of the last row of a page.
// created_at is insert time, so the cursor orders rows by insert, not commit.
type LedgerCursor struct {
	CreatedAt     time.Time `json:"created_at"`
	TransactionID string    `json:"transaction_id"`
}
