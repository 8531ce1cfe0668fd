// Package points converts loyalty points into a wallet credit paid from the
// platform funding wallet.
package points

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/money"
	"github.com/ruralpay/walletcore/internal/services/audit"
	"github.com/ruralpay/walletcore/internal/services/ledger"
	"github.com/ruralpay/walletcore/internal/services/transfer"
	"github.com/ruralpay/walletcore/internal/store"
)

// Result describes one committed conversion.
type Result struct {
	JournalCode     string          `json:"journal_code"`
	PointsConverted int64           `json:"points_converted"`
	PointsRemaining int64           `json:"points_remaining"`
	WalletAmount    decimal.Decimal `json:"wallet_amount"`
	WalletBalance   decimal.Decimal `json:"wallet_balance"`
}

// Adapter is the points conversion flow.
type Adapter struct {
	store     store.Store
	engine    *transfer.Engine
	ledger    *ledger.Writer
	trail     *audit.Trail
	publisher Publisher
	logger    *zap.Logger
}

// NewAdapter creates the adapter. publisher may be nil when no delivery queue is configured.
func NewAdapter(st store.Store, engine *transfer.Engine, lw *ledger.Writer, trail *audit.Trail, publisher Publisher, logger *zap.Logger) *Adapter {
	return &Adapter{
		store:     st,
		engine:    engine,
		ledger:    lw,
		trail:     trail,
		publisher: publisher,
		logger:    logger.Named("points"),
	}
}

// Convert turns points of userID into wallet money at the active rule's rate.
func (a *Adapter) Convert(ctx context.Context, userID, points int64) (*Result, error) {
	if points <= 0 {
		return nil, apperr.New(apperr.KindValidation, "points must be positive").With("field", "points")
	}

	rule, err := a.store.GetConversionRule(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkRule(rule); err != nil {
		return nil, err
	}
	if points < rule.PointsRequired {
		return nil, apperr.New(apperr.KindValidation, "at least %d points are required", rule.PointsRequired).
			With("field", "points")
	}
	amount := money.Round2(decimal.NewFromInt(points).Mul(rule.WalletAmountPerBlock).Div(decimal.NewFromInt(rule.PointsRequired)))

	fundingID, err := a.engine.FundingWalletID()
	if err != nil {
		return nil, err
	}
	target, err := a.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if target.ID == fundingID {
		return nil, apperr.New(apperr.KindValidation, "the funding wallet cannot convert points")
	}

	// ids are fetched before any lock is held, like every other money path
	ids, err := a.ledger.Reserve(ctx)
	if err != nil {
		return nil, err
	}

	var (
		res          *Result
		rec          *models.AuditRecord
		notification *models.Notification
	)
	err = a.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		balance, err := tx.LockPoints(ctx, userID)
		if apperr.Is(err, apperr.KindNotFound) {
			balance = &models.PointBalance{UserID: userID}
		} else if err != nil {
			return err
		}
		if points > balance.Points {
			return apperr.New(apperr.KindValidation, "only %d points available", balance.Points).
				With("field", "points").
				With("available", balance.Points)
		}

		moved, err := a.engine.MoveTx(ctx, tx, ids, fundingID, target.ID, amount, "points conversion")
		if err != nil {
			return err
		}

		remaining := balance.Points - points
		if err := tx.UpdatePoints(ctx, userID, remaining); err != nil {
			return err
		}

		res = &Result{
			JournalCode:     moved.JournalCode,
			PointsConverted: points,
			PointsRemaining: remaining,
			WalletAmount:    amount,
			WalletBalance:   moved.ToBalance,
		}

		notification = &models.Notification{
			ID:     uuid.NewString(),
			UserID: userID,
			Type:   models.NotificationPointsConverted,
			Payload: models.Metadata{
				"points":           points,
				"wallet_amount":    amount.StringFixed(money.Scale),
				"points_remaining": remaining,
				"journal_code":     moved.JournalCode,
			},
			CreatedAt: time.Now(),
		}
		if err := tx.InsertNotification(ctx, notification); err != nil {
			return err
		}

		rec = &models.AuditRecord{
			RequestID: moved.JournalCode,
			ActorType: models.ActorUser,
			ActorID:   userID,
			Action:    models.ActionConvertPoints,
			Metadata: models.Metadata{
				"points":        points,
				"wallet_amount": amount.StringFixed(money.Scale),
				"rule_id":       rule.ID,
			},
		}
		return a.trail.Record(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}

	a.trail.Emit(*rec)
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, *notification); err != nil {
			a.logger.Warn("failed to publish notification",
				zap.String("notification_id", notification.ID),
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
	}

	a.logger.Info("points converted",
		zap.Int64("user_id", userID),
		zap.Int64("points", points),
		zap.String("wallet_amount", amount.StringFixed(money.Scale)),
		zap.String("journal_code", res.JournalCode))
	return res, nil
}

func checkRule(rule *models.PointConversionRule) error {
	if !rule.IsActive {
		return apperr.New(apperr.KindRuleInactive, "point conversion rule %d is not active", rule.ID)
	}
	if rule.PointsRequired <= 0 {
		return apperr.New(apperr.KindRuleInvalidConfig, "point conversion rule %d requires %d points", rule.ID, rule.PointsRequired)
	}
	if !rule.WalletAmountPerBlock.IsPositive() || !money.HasScale(rule.WalletAmountPerBlock) {
		return apperr.New(apperr.KindRuleInvalidConfig, "point conversion rule %d pays %s per block", rule.ID, rule.WalletAmountPerBlock)
	}
	return nil
}
