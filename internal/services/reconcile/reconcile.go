// Package reconcile checks stored balances and journals against the ledger.
package reconcile

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/services/wallet"
	"github.com/ruralpay/walletcore/internal/store"
)

// MaxJournals caps a journal scan.
const MaxJournals = 500

// WalletReport compares a wallet's stored balance with its history.
type WalletReport struct {
	WalletNumber  string          `json:"wallet_number"`
	Stored        decimal.Decimal `json:"stored"`
	Reconstructed decimal.Decimal `json:"reconstructed"`
	Difference    decimal.Decimal `json:"difference"`
	Balanced      bool            `json:"balanced"`
}

type Service struct {
	store   store.Store
	wallets *wallet.Service
	logger  *zap.Logger
}

func NewService(st store.Store, wallets *wallet.Service, logger *zap.Logger) *Service {
	return &Service{store: st, wallets: wallets, logger: logger.Named("reconcile")}
}

// Wallet reconstructs the balance from ledger credits minus debits plus
// statement credits minus debits and compares it with the stored value.
func (s *Service) Wallet(ctx context.Context, walletNumber string) (*WalletReport, error) {
	w, err := s.wallets.Get(ctx, walletNumber)
	if err != nil {
		return nil, err
	}
	rebuilt, err := s.store.ReconstructBalance(ctx, w.ID)
	if err != nil {
		return nil, err
	}

	r := &WalletReport{
		WalletNumber:  w.WalletNumber,
		Stored:        w.Balance,
		Reconstructed: rebuilt,
		Difference:    w.Balance.Sub(rebuilt),
	}
	r.Balanced = r.Difference.IsZero()
	if !r.Balanced {
		s.logger.Error("wallet balance drift",
			zap.String("wallet_number", w.WalletNumber),
			zap.String("stored", w.Balance.StringFixed(2)),
			zap.String("reconstructed", rebuilt.StringFixed(2)))
	}
	return r, nil
}

// Journals lists journal codes that are not exactly one matching DR/CR pair.
func (s *Service) Journals(ctx context.Context) ([]string, error) {
	codes, err := s.store.UnbalancedJournals(ctx, MaxJournals)
	if err != nil {
		return nil, err
	}
	if len(codes) > 0 {
		s.logger.Error("unbalanced journals", zap.Int("count", len(codes)), zap.Strings("journal_codes", codes))
	}
	if codes == nil {
		codes = []string{}
	}
	return codes, nil
}
