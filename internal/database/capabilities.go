package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Capabilities describes optional schema features. It is resolved once at startup
// and handed to the store by reference; nothing mutates it afterwards.
type Capabilities struct {
	// StatementBalanceAfter is true when wallet_statements carries a balance_after column.
	StatementBalanceAfter bool
	// NotificationOutbox is true when the notifications table exists.
	NotificationOutbox bool
}

// FullCapabilities is the descriptor of a schema created by Migrate.
func FullCapabilities() *Capabilities {
	return &Capabilities{StatementBalanceAfter: true, NotificationOutbox: true}
}

// ResolveCapabilities probes information_schema for the optional features.
func ResolveCapabilities(ctx context.Context, db *sql.DB) (*Capabilities, error) {
	caps := &Capabilities{}

	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, "wallet_statements", "balance_after").Scan(&caps.StatementBalanceAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to probe wallet_statements.balance_after: %w", err)
	}

	err = db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, "notifications").Scan(&caps.NotificationOutbox)
	if err != nil {
		return nil, fmt.Errorf("failed to probe notifications table: %w", err)
	}

	return caps, nil
}
