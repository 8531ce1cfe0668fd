package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus values
const (
	WithdrawalHeld      = "HELD"
	WithdrawalNeedsInfo = "NEEDS_INFO"
	WithdrawalApproved  = "APPROVED"
	WithdrawalPaid      = "PAID"
	WithdrawalRejected  = "REJECTED"
	WithdrawalCancelled = "CANCELLED"
	WithdrawalFailed    = "FAILED"
)

// BankDetails is the payout destination captured when the request is created.
type BankDetails struct {
	BankCode      string `json:"bank_code" validate:"required,max=10"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	AccountName   string `json:"account_name" validate:"required,max=140"`
}

// Value implements driver.Valuer for BankDetails
func (b BankDetails) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements sql.Scanner for BankDetails
func (b *BankDetails) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, b)
	case string:
		return json.Unmarshal([]byte(v), b)
	case nil:
		*b = BankDetails{}
		return nil
	}
	return errors.New("type assertion to []byte failed")
}

// WithdrawalRequest is a user's cash-out request and its review trail.
type WithdrawalRequest struct {
	ID             string          `json:"id" db:"id"`
	UserID         int64           `json:"user_id" db:"user_id"`
	WalletID       int64           `json:"wallet_id" db:"wallet_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	BankDetails    BankDetails     `json:"bank_details" db:"bank_details"`
	Status         string          `json:"status" db:"status"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	ReviewedBy     *int64          `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ApprovedBy     *int64          `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
	PaidBy         *int64          `json:"paid_by,omitempty" db:"paid_by"`
	PaidAt         *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	AdminNote      string          `json:"admin_note,omitempty" db:"admin_note"`
	BankReference  string          `json:"bank_reference,omitempty" db:"bank_reference"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether no further transition is possible.
func (w *WithdrawalRequest) IsTerminal() bool {
	switch w.Status {
	case WithdrawalPaid, WithdrawalRejected, WithdrawalCancelled, WithdrawalFailed:
		return true
	}
	return false
}
