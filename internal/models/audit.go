package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Actor types
const (
	ActorUser  = "USER"
	ActorAdmin = "ADMIN"
)

// Audit actions
const (
	ActionCreate        = "CREATE"
	ActionCancel        = "CANCEL"
	ActionNeedsInfo     = "NEEDS_INFO"
	ActionApprove       = "APPROVE"
	ActionReject        = "REJECT"
	ActionMarkPaid      = "MARK_PAID"
	ActionFail          = "FAIL"
	ActionConvertPoints = "CONVERT_POINTS"
)

// AuditRecord is an append-only trace of one state-changing actor action.
type AuditRecord struct {
	ID        int64     `json:"id" db:"id"`
	RequestID string    `json:"request_id" db:"request_id"`
	ActorType string    `json:"actor_type" db:"actor_type"`
	ActorID   int64     `json:"actor_id" db:"actor_id"`
	Action    string    `json:"action" db:"action"`
	Metadata  Metadata  `json:"metadata" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Actor is the pre-verified identity handed to the core by the gateway.
type Actor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == "admin"
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
