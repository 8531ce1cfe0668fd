package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PointConversionRule is the active points-to-wallet exchange rate.
type PointConversionRule struct {
	ID                   int64           `json:"id" db:"id"`
	PointsRequired       int64           `json:"points_required" db:"points_required"`
	WalletAmountPerBlock decimal.Decimal `json:"wallet_amount_per_block" db:"wallet_amount_per_block"`
	IsActive             bool            `json:"is_active" db:"is_active"`
}

// PointBalance is a user's loyalty point holding.
type PointBalance struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	Points    int64     `json:"points" db:"points"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Notification types
const (
	NotificationPointsConverted = "POINTS_CONVERTED"
)

// Notification is a user-facing payload handed to the delivery system.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Type      string    `json:"type" db:"type"`
	Payload   Metadata  `json:"payload" db:"payload"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
