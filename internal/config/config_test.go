package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_Defaults(t *testing.T) {
	reset(t)
	err := Init(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Empty(t, cfg.Store.SeedUsers)
	assert.Equal(t, 3*time.Second, cfg.IDIssuer.Timeout)
	assert.Equal(t, 3, cfg.Ledger.MaxIDAttempts)
	assert.Equal(t, "NGN", cfg.Withdrawal.Currency)
	assert.False(t, cfg.Withdrawal.TwoMan.Enabled)
	assert.Equal(t, "approver", cfg.Withdrawal.TwoMan.Scope)
	assert.Equal(t, "notification_queue", cfg.Points.Queue)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
}

func TestLoad_Environment(t *testing.T) {
	reset(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("STORE_SEED_USERS", "1,2, 9")
	t.Setenv("PLATFORM_FUNDING_WALLET", "WL0000000001")
	t.Setenv("IDISSUER_TIMEOUT", "750ms")
	t.Setenv("WITHDRAWAL_MIN_AMOUNT", "5.00")
	t.Setenv("WITHDRAWAL_TWO_MAN_ENABLED", "true")
	t.Setenv("WITHDRAWAL_TWO_MAN_THRESHOLD", "50000.00")
	t.Setenv("WITHDRAWAL_TWO_MAN_SCOPE", "chain")
	_ = Init(filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, []int64{1, 2, 9}, cfg.Store.SeedUsers)
	assert.Equal(t, "WL0000000001", cfg.Platform.FundingWallet)
	assert.Equal(t, 750*time.Millisecond, cfg.IDIssuer.Timeout)
	assert.Equal(t, "5.00", cfg.Withdrawal.MinAmount.StringFixed(2))
	assert.True(t, cfg.Withdrawal.TwoMan.Enabled)
	assert.Equal(t, "50000.00", cfg.Withdrawal.TwoMan.Threshold.StringFixed(2))
	assert.Equal(t, "chain", cfg.Withdrawal.TwoMan.Scope)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"driver":     {"STORE_DRIVER": "sqlite"},
		"amount":     {"WITHDRAWAL_MIN_AMOUNT": "ten"},
		"bounds":     {"WITHDRAWAL_MIN_AMOUNT": "500", "WITHDRAWAL_MAX_AMOUNT": "100"},
		"scope":      {"WITHDRAWAL_TWO_MAN_SCOPE": "everyone"},
		"seed users": {"STORE_SEED_USERS": "1,x"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			reset(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_ = Init(filepath.Join(t.TempDir(), "missing.env"))

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
