// Package transfer moves value between two wallets as one atomic double-entry pair.
package transfer

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/money"
	"github.com/ruralpay/walletcore/internal/services/ledger"
	"github.com/ruralpay/walletcore/internal/services/wallet"
	"github.com/ruralpay/walletcore/internal/store"
)

// Request is one transfer between two wallet numbers.
type Request struct {
	From   string          `json:"from" validate:"required"`
	To     string          `json:"to" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=255"`
}

// Result carries the journal code and both balances after the movement.
type Result struct {
	JournalCode string          `json:"journal_code"`
	FromBalance decimal.Decimal `json:"from_balance"`
	ToBalance   decimal.Decimal `json:"to_balance"`
}

// Engine is stateless; every call is one transaction.
type Engine struct {
	store         store.Store
	wallets       *wallet.Service
	ledger        *ledger.Writer
	fundingWallet string
	logger        *zap.Logger
}

// NewEngine creates a transfer engine. fundingWallet is the wallet number platform credits are paid from.
func NewEngine(st store.Store, wallets *wallet.Service, lw *ledger.Writer, fundingWallet string, logger *zap.Logger) *Engine {
	return &Engine{
		store:         st,
		wallets:       wallets,
		ledger:        lw,
		fundingWallet: fundingWallet,
		logger:        logger.Named("transfer"),
	}
}

// Transfer moves req.Amount from req.From to req.To.
func (e *Engine) Transfer(ctx context.Context, req Request) (*Result, error) {
	fromID, toID, err := validate(req)
	if err != nil {
		return nil, err
	}

	// ids are fetched before any lock is held
	ids, err := e.ledger.Reserve(ctx)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res, err = e.MoveTx(ctx, tx, ids, fromID, toID, req.Amount, req.Note)
		return err
	})
	if err != nil {
		e.logger.Info("transfer aborted",
			zap.String("from", req.From),
			zap.String("to", req.To),
			zap.String("journal_code", ids.JournalCode),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("transfer committed",
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.String("amount", req.Amount.StringFixed(money.Scale)),
		zap.String("journal_code", res.JournalCode))
	return res, nil
}

// CreditFromPlatform pays amount out of the configured funding wallet.
func (e *Engine) CreditFromPlatform(ctx context.Context, to string, amount decimal.Decimal, note string) (*Result, error) {
	if e.fundingWallet == "" {
		return nil, apperr.New(apperr.KindInternal, "platform funding wallet is not configured")
	}
	return e.Transfer(ctx, Request{From: e.fundingWallet, To: to, Amount: amount, Note: note})
}

// FundingWalletID returns the surrogate id of the configured funding wallet.
func (e *Engine) FundingWalletID() (int64, error) {
	id, err := models.ParseWalletNumber(e.fundingWallet)
	if err != nil {
		return 0, apperr.Internal(err, "platform funding wallet is misconfigured")
	}
	return id, nil
}

// MoveTx performs the movement inside tx with ids already reserved. Both wallets
// are locked in ascending id order whatever the direction.
func (e *Engine) MoveTx(ctx context.Context, tx store.Tx, ids models.TransactionIDs, fromID, toID int64, amount decimal.Decimal, note string) (*Result, error) {
	firstID, secondID := fromID, toID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}

	first, err := e.wallets.LockForUpdate(ctx, tx, firstID)
	if err != nil {
		return nil, err
	}
	second, err := e.wallets.LockForUpdate(ctx, tx, secondID)
	if err != nil {
		return nil, err
	}

	from, to := first, second
	if from.ID != fromID {
		from, to = second, first
	}

	for _, w := range []*models.Wallet{from, to} {
		if !w.IsActive() {
			return nil, apperr.New(apperr.KindInactiveWallet, "wallet %s is %s", w.WalletNumber, w.Status).
				With("wallet_number", w.WalletNumber)
		}
	}
	if from.Balance.LessThan(amount) {
		return nil, apperr.New(apperr.KindInsufficientFunds, "wallet %s has insufficient funds", from.WalletNumber).
			With("wallet_number", from.WalletNumber).
			With("balance", from.Balance.StringFixed(money.Scale)).
			With("required", amount.StringFixed(money.Scale))
	}

	if err := e.wallets.AdjustBalance(ctx, tx, from, amount.Neg()); err != nil {
		return nil, err
	}
	if err := e.wallets.AdjustBalance(ctx, tx, to, amount); err != nil {
		return nil, err
	}
	if err := e.ledger.RecordTransfer(ctx, tx, ids, from.ID, to.ID, amount, note); err != nil {
		return nil, err
	}

	return &Result{
		JournalCode: ids.JournalCode,
		FromBalance: from.Balance,
		ToBalance:   to.Balance,
	}, nil
}

func validate(req Request) (fromID, toID int64, err error) {
	if err := money.ValidatePositive("amount", req.Amount); err != nil {
		return 0, 0, err
	}
	if fromID, err = wallet.ParseNumber("from", req.From); err != nil {
		return 0, 0, err
	}
	if toID, err = wallet.ParseNumber("to", req.To); err != nil {
		return 0, 0, err
	}
	if fromID == toID {
		return 0, 0, apperr.New(apperr.KindValidation, "cannot transfer to the same wallet").With("field", "to")
	}
	return fromID, toID, nil
}
