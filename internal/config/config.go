// Package config loads service settings from .env and the environment through viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Log        LogConfig
	IDIssuer   IDIssuerConfig
	Ledger     LedgerConfig
	Withdrawal WithdrawalConfig
	Points     PointsConfig
	Payout     PayoutConfig
	Platform   PlatformConfig
	Cache      CacheConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Driver string
	// SeedUsers are registered in the memory store at startup.
	SeedUsers []int64
}

type LogConfig struct {
	Level string
}

type IDIssuerConfig struct {
	URL     string
	Timeout time.Duration
}

type LedgerConfig struct {
	MaxIDAttempts int
}

type WithdrawalConfig struct {
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	Currency  string
	TwoMan    TwoManConfig
}

type TwoManConfig struct {
	Enabled   bool
	Threshold decimal.Decimal
	Scope     string
}

type PointsConfig struct {
	Queue string
}

type PayoutConfig struct {
	DebtorName string
	DebtorBIC  string
}

type PlatformConfig struct {
	FundingWallet string
}

type CacheConfig struct {
	TTL time.Duration
}

var envBindings = map[string]string{
	"server.port":                  "PORT",
	"store.driver":                 "STORE_DRIVER",
	"store.seed_users":             "STORE_SEED_USERS",
	"log.level":                    "LOG_LEVEL",
	"idissuer.url":                 "IDISSUER_URL",
	"idissuer.timeout":             "IDISSUER_TIMEOUT",
	"ledger.max_id_attempts":       "LEDGER_MAX_ID_ATTEMPTS",
	"withdrawal.min_amount":        "WITHDRAWAL_MIN_AMOUNT",
	"withdrawal.max_amount":        "WITHDRAWAL_MAX_AMOUNT",
	"withdrawal.currency":          "WITHDRAWAL_CURRENCY",
	"withdrawal.two_man.enabled":   "WITHDRAWAL_TWO_MAN_ENABLED",
	"withdrawal.two_man.threshold": "WITHDRAWAL_TWO_MAN_THRESHOLD",
	"withdrawal.two_man.scope":     "WITHDRAWAL_TWO_MAN_SCOPE",
	"points.queue":                 "POINTS_QUEUE",
	"payout.debtor_name":           "PAYOUT_DEBTOR_NAME",
	"payout.debtor_bic":            "PAYOUT_DEBTOR_BIC",
	"platform.funding_wallet":      "PLATFORM_FUNDING_WALLET",
	"cache.ttl":                    "CACHE_TTL",

	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.ssl_mode": "DATABASE_SSL_MODE",
	"database.migrate":  "DATABASE_MIGRATE",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",
}

// Init points viper at the .env file and binds every environment variable.
// A failed read of the file is returned after the bindings are in place, so
// callers may log it and continue on environment and defaults.
func Init(file string) error {
	if file == "" {
		file = ".env"
	}
	viper.SetConfigFile(file)
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("config file not found, using defaults: %w", err)
	}
	return nil
}

// Load reads the typed configuration with defaults applied.
func Load() (*Config, error) {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("store.driver", DriverPostgres)
	viper.SetDefault("store.seed_users", []string{})
	viper.SetDefault("log.level", "info")
	viper.SetDefault("idissuer.url", "http://localhost:8090/v1/ids")
	viper.SetDefault("idissuer.timeout", 3*time.Second)
	viper.SetDefault("ledger.max_id_attempts", 3)
	viper.SetDefault("withdrawal.min_amount", "100.00")
	viper.SetDefault("withdrawal.max_amount", "1000000.00")
	viper.SetDefault("withdrawal.currency", "NGN")
	viper.SetDefault("withdrawal.two_man.enabled", false)
	viper.SetDefault("withdrawal.two_man.threshold", "0")
	viper.SetDefault("withdrawal.two_man.scope", "approver")
	viper.SetDefault("points.queue", "notification_queue")
	viper.SetDefault("payout.debtor_name", "RuralPay")
	viper.SetDefault("payout.debtor_bic", "RURALPAY")
	viper.SetDefault("platform.funding_wallet", "")
	viper.SetDefault("cache.ttl", 10*time.Minute)

	driver := viper.GetString("store.driver")
	if driver != DriverPostgres && driver != DriverMemory {
		return nil, fmt.Errorf("unknown store.driver %q", driver)
	}

	minAmount, err := decimalKey("withdrawal.min_amount")
	if err != nil {
		return nil, err
	}
	maxAmount, err := decimalKey("withdrawal.max_amount")
	if err != nil {
		return nil, err
	}
	if maxAmount.LessThan(minAmount) {
		return nil, fmt.Errorf("withdrawal.max_amount %s is below withdrawal.min_amount %s", maxAmount, minAmount)
	}
	threshold, err := decimalKey("withdrawal.two_man.threshold")
	if err != nil {
		return nil, err
	}

	scope := viper.GetString("withdrawal.two_man.scope")
	if scope != "approver" && scope != "chain" {
		return nil, fmt.Errorf("unknown withdrawal.two_man.scope %q", scope)
	}

	seeds, err := userIDs(viper.GetStringSlice("store.seed_users"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Port:            viper.GetString("server.port"),
			ReadTimeout:     viper.GetDuration("server.read_timeout"),
			WriteTimeout:    viper.GetDuration("server.write_timeout"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
		},
		Store: StoreConfig{
			Driver:    driver,
			SeedUsers: seeds,
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		IDIssuer: IDIssuerConfig{
			URL:     viper.GetString("idissuer.url"),
			Timeout: viper.GetDuration("idissuer.timeout"),
		},
		Ledger: LedgerConfig{
			MaxIDAttempts: viper.GetInt("ledger.max_id_attempts"),
		},
		Withdrawal: WithdrawalConfig{
			MinAmount: minAmount,
			MaxAmount: maxAmount,
			Currency:  viper.GetString("withdrawal.currency"),
			TwoMan: TwoManConfig{
				Enabled:   viper.GetBool("withdrawal.two_man.enabled"),
				Threshold: threshold,
				Scope:     scope,
			},
		},
		Points: PointsConfig{
			Queue: viper.GetString("points.queue"),
		},
		Payout: PayoutConfig{
			DebtorName: viper.GetString("payout.debtor_name"),
			DebtorBIC:  viper.GetString("payout.debtor_bic"),
		},
		Platform: PlatformConfig{
			FundingWallet: viper.GetString("platform.funding_wallet"),
		},
		Cache: CacheConfig{
			TTL: viper.GetDuration("cache.ttl"),
		},
	}, nil
}

func decimalKey(key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(viper.GetString(key))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// userIDs accepts both list values and a comma or space separated env string.
func userIDs(values []string) ([]int64, error) {
	out := make([]int64, 0, len(values))
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("store.seed_users: %q is not a positive user id", part)
			}
			out = append(out, id)
		}
	}
	return out, nil
}
