package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Wallet statuses
const (
	WalletStatusActive   = "ACTIVE"
	WalletStatusInactive = "INACTIVE"
)

// WalletNumberPrefix precedes the zero padded surrogate id of every wallet number.
const WalletNumberPrefix = "WL"

// Wallet is the per-user unit of funds custody.
type Wallet struct {
	ID           int64           `json:"id" db:"id"`
	WalletNumber string          `json:"wallet_number" db:"wallet_number"`
	UserID       int64           `json:"user_id" db:"user_id"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	Status       string          `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the wallet may be debited or credited.
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// FormatWalletNumber derives the public wallet identifier from the surrogate id.
func FormatWalletNumber(id int64) string {
	return fmt.Sprintf("%s%010d", WalletNumberPrefix, id)
}

// ParseWalletNumber recovers the surrogate id from a wallet number.
func ParseWalletNumber(number string) (int64, error) {
	digits, ok := strings.CutPrefix(number, WalletNumberPrefix)
	if !ok || len(digits) != 10 || strings.IndexFunc(digits, notDigit) != -1 {
		return 0, fmt.Errorf("malformed wallet number %q", number)
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("malformed wallet number %q", number)
	}
	return id, nil
}

func notDigit(r rune) bool {
	return r < '0' || r > '9'
}

// ValidWalletStatus reports whether status is a known wallet status.
func ValidWalletStatus(status string) bool {
	return status == WalletStatusActive || status == WalletStatusInactive
}
