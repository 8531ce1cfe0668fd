package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/config"
	"github.com/ruralpay/walletcore/internal/database"
	"github.com/ruralpay/walletcore/internal/handlers"
	"github.com/ruralpay/walletcore/internal/logger"
	mW "github.com/ruralpay/walletcore/internal/middleware"
	"github.com/ruralpay/walletcore/internal/services/audit"
	"github.com/ruralpay/walletcore/internal/services/idissuer"
	"github.com/ruralpay/walletcore/internal/services/ledger"
	"github.com/ruralpay/walletcore/internal/services/payout"
	"github.com/ruralpay/walletcore/internal/services/points"
	"github.com/ruralpay/walletcore/internal/services/reconcile"
	"github.com/ruralpay/walletcore/internal/services/transfer"
	"github.com/ruralpay/walletcore/internal/services/wallet"
	"github.com/ruralpay/walletcore/internal/services/withdrawal"
	"github.com/ruralpay/walletcore/internal/store"
	"github.com/ruralpay/walletcore/internal/store/memstore"
	"github.com/ruralpay/walletcore/internal/store/postgres"
)

func main() {
	cfgErr := config.Init(".env")
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level)
	defer log.Sync()
	if cfgErr != nil {
		log.Info("continuing on environment and defaults", zap.Error(cfgErr))
	}

	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer closeStore()

	redisClient := database.InitRedis(ctx, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	issuer := idissuer.NewClient(idissuer.Config{URL: cfg.IDIssuer.URL, Timeout: cfg.IDIssuer.Timeout}, log)
	ledgerWriter := ledger.NewWriter(issuer, st, cfg.Ledger.MaxIDAttempts, log)
	trail := audit.NewTrail(st, log)
	wallets := wallet.NewService(st, redisClient, cfg.Cache.TTL, log)
	engine := transfer.NewEngine(st, wallets, ledgerWriter, cfg.Platform.FundingWallet, log)
	withdrawals := withdrawal.NewService(st, wallets, trail, withdrawal.Config{
		MinAmount: cfg.Withdrawal.MinAmount,
		MaxAmount: cfg.Withdrawal.MaxAmount,
		Currency:  cfg.Withdrawal.Currency,
		TwoManRule: withdrawal.TwoManRule{
			Enabled:   cfg.Withdrawal.TwoMan.Enabled,
			Threshold: cfg.Withdrawal.TwoMan.Threshold,
			Scope:     cfg.Withdrawal.TwoMan.Scope,
		},
	}, log)
	pointsAdapter := points.NewAdapter(st, engine, ledgerWriter, trail, publisher(redisClient, cfg.Points.Queue), log)

	h := handlers.NewHandler(handlers.Services{
		Wallets:     wallets,
		Transfers:   engine,
		Ledger:      ledger.NewReader(st),
		Withdrawals: withdrawals,
		Points:      pointsAdapter,
		Payout:      payout.NewExporter(st, payout.Config{DebtorName: cfg.Payout.DebtorName, DebtorBIC: cfg.Payout.DebtorBIC}, log),
		Reconcile:   reconcile.NewService(st, wallets, log),
		Audit:       trail,
	}, log)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", handlers.HeaderIdempotencyKey,
			mW.HeaderActorID, mW.HeaderActorName, mW.HeaderActorRole},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "store": cfg.Store.Driver})
	})

	r.Route("/api/v1", h.Routes)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}

// openStore builds the configured store implementation.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		mem := memstore.New()
		for _, id := range cfg.Store.SeedUsers {
			mem.AddUser(id)
		}
		log.Warn("using in-memory store; data is lost on restart", zap.Int("seed_users", len(cfg.Store.SeedUsers)))
		return mem, func() {}, nil

	case config.DriverPostgres:
		dbCfg := database.GetConfig()
		db, err := database.InitDB(ctx, dbCfg, log)
		if err != nil {
			return nil, nil, err
		}
		caps, err := prepareSchema(ctx, db, dbCfg.Migrate)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("schema capabilities resolved",
			zap.Bool("statement_balance_after", caps.StatementBalanceAfter),
			zap.Bool("notification_outbox", caps.NotificationOutbox))
		return postgres.New(db, caps), func() { db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func prepareSchema(ctx context.Context, db *sql.DB, migrate bool) (*database.Capabilities, error) {
	if migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return nil, err
		}
		return database.FullCapabilities(), nil
	}
	return database.ResolveCapabilities(ctx, db)
}

// publisher is nil without Redis; conversions still commit their outbox row.
func publisher(rdb *redis.Client, queue string) points.Publisher {
	if rdb == nil {
		return nil
	}
	return points.NewRedisPublisher(rdb, queue)
}
