package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestResolveCapabilities(t *testing.T) {
	t.Run("full schema", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT EXISTS \\(\\s*SELECT 1 FROM information_schema.columns").
			WithArgs("wallet_statements", "balance_after").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("SELECT EXISTS \\(\\s*SELECT 1 FROM information_schema.tables").
			WithArgs("notifications").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		caps, err := ResolveCapabilities(context.Background(), db)
		assert.NoError(t, err)
		assert.Equal(t, FullCapabilities(), caps)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("legacy schema without outbox", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("information_schema.columns").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery("information_schema.tables").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		caps, err := ResolveCapabilities(context.Background(), db)
		assert.NoError(t, err)
		assert.False(t, caps.StatementBalanceAfter)
		assert.False(t, caps.NotificationOutbox)
	})

	t.Run("probe failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("information_schema.columns").WillReturnError(errors.New("permission denied"))

		_, err = ResolveCapabilities(context.Background(), db)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "balance_after")
	})
}

func TestGetConfigDefaults(t *testing.T) {
	cfg := GetConfig()
	assert.Equal(t, "walletcore", cfg.Name)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Contains(t, cfg.DSN(), "dbname=walletcore")
}

func TestMigrateAppliesSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
