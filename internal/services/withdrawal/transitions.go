package withdrawal

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/store"
)

// Allowed predecessors of every target status.
var (
	fromNeedsInfo = []string{models.WithdrawalHeld}
	fromApprove   = []string{models.WithdrawalHeld, models.WithdrawalNeedsInfo}
	fromReject    = []string{models.WithdrawalHeld, models.WithdrawalNeedsInfo}
	fromCancel    = []string{models.WithdrawalHeld, models.WithdrawalNeedsInfo}
	fromMarkPaid  = []string{models.WithdrawalApproved}
	fromFail      = []string{models.WithdrawalHeld, models.WithdrawalNeedsInfo, models.WithdrawalApproved}
)

// transition is one audited status change of a locked request.
type transition struct {
	actorType string
	actorID   int64
	action    string
	from      []string
	to        string
	refund    bool
	meta      models.Metadata

	// authorize runs on the locked row before the status check.
	authorize func(w *models.WithdrawalRequest) error
	// apply sets the actor and note columns of the target status.
	apply func(w *models.WithdrawalRequest, now time.Time) error
}

// Cancel withdraws a user's own HELD or NEEDS_INFO request and refunds the hold.
func (s *Service) Cancel(ctx context.Context, userID int64, requestID string) (*models.WithdrawalRequest, error) {
	return s.run(ctx, requestID, transition{
		actorType: models.ActorUser,
		actorID:   userID,
		action:    models.ActionCancel,
		from:      fromCancel,
		to:        models.WithdrawalCancelled,
		refund:    true,
		authorize: func(w *models.WithdrawalRequest) error {
			if w.UserID != userID {
				return apperr.New(apperr.KindForbidden, "withdrawal request %s belongs to another user", requestID)
			}
			return nil
		},
	})
}

// AdminNeedsInfo parks a HELD request until the user supplies more information.
func (s *Service) AdminNeedsInfo(ctx context.Context, adminID int64, requestID, note string) (*models.WithdrawalRequest, error) {
	if strings.TrimSpace(note) == "" {
		return nil, apperr.New(apperr.KindValidation, "note is required").With("field", "note")
	}
	return s.run(ctx, requestID, transition{
		actorType: models.ActorAdmin,
		actorID:   adminID,
		action:    models.ActionNeedsInfo,
		from:      fromNeedsInfo,
		to:        models.WithdrawalNeedsInfo,
		meta:      models.Metadata{"note": note},
		apply: func(w *models.WithdrawalRequest, now time.Time) error {
			w.ReviewedBy, w.ReviewedAt = &adminID, &now
			w.AdminNote = note
			return nil
		},
	})
}

// AdminApprove commits the held funds to a payout. The balance does not change.
func (s *Service) AdminApprove(ctx context.Context, adminID int64, requestID, note string) (*models.WithdrawalRequest, error) {
	return s.run(ctx, requestID, transition{
		actorType: models.ActorAdmin,
		actorID:   adminID,
		action:    models.ActionApprove,
		from:      fromApprove,
		to:        models.WithdrawalApproved,
		meta:      models.Metadata{"note": note},
		apply: func(w *models.WithdrawalRequest, now time.Time) error {
			w.ApprovedBy, w.ApprovedAt = &adminID, &now
			if note != "" {
				w.AdminNote = note
			}
			return nil
		},
	})
}

// AdminReject declines a request under review and refunds the hold.
func (s *Service) AdminReject(ctx context.Context, adminID int64, requestID, reason string) (*models.WithdrawalRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.New(apperr.KindValidation, "reason is required").With("field", "reason")
	}
	return s.run(ctx, requestID, transition{
		actorType: models.ActorAdmin,
		actorID:   adminID,
		action:    models.ActionReject,
		from:      fromReject,
		to:        models.WithdrawalRejected,
		refund:    true,
		meta:      models.Metadata{"reason": reason},
		apply: func(w *models.WithdrawalRequest, now time.Time) error {
			w.ReviewedBy, w.ReviewedAt = &adminID, &now
			w.AdminNote = reason
			return nil
		},
	})
}

// AdminMarkPaid records that the approved payout left the bank.
func (s *Service) AdminMarkPaid(ctx context.Context, adminID int64, requestID, bankReference, note string) (*models.WithdrawalRequest, error) {
	bankReference = strings.TrimSpace(bankReference)
	if bankReference == "" {
		return nil, apperr.New(apperr.KindValidation, "bank reference is required").With("field", "bank_reference")
	}
	return s.run(ctx, requestID, transition{
		actorType: models.ActorAdmin,
		actorID:   adminID,
		action:    models.ActionMarkPaid,
		from:      fromMarkPaid,
		to:        models.WithdrawalPaid,
		meta:      models.Metadata{"bank_reference": bankReference, "note": note},
		apply: func(w *models.WithdrawalRequest, now time.Time) error {
			if err := s.checkTwoManRule(w, adminID); err != nil {
				return err
			}
			w.PaidBy, w.PaidAt = &adminID, &now
			w.BankReference = bankReference
			if note != "" {
				w.AdminNote = note
			}
			return nil
		},
	})
}

// AdminFail closes a request whose payout cannot go through and refunds the hold.
func (s *Service) AdminFail(ctx context.Context, adminID int64, requestID, reason string) (*models.WithdrawalRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.New(apperr.KindValidation, "reason is required").With("field", "reason")
	}
	return s.run(ctx, requestID, transition{
		actorType: models.ActorAdmin,
		actorID:   adminID,
		action:    models.ActionFail,
		from:      fromFail,
		to:        models.WithdrawalFailed,
		refund:    true,
		meta:      models.Metadata{"reason": reason},
		apply: func(w *models.WithdrawalRequest, now time.Time) error {
			w.ReviewedBy, w.ReviewedAt = &adminID, &now
			w.AdminNote = reason
			return nil
		},
	})
}

func (s *Service) checkTwoManRule(w *models.WithdrawalRequest, adminID int64) error {
	rule := s.cfg.TwoManRule
	if !rule.Enabled || w.Amount.LessThan(rule.Threshold) {
		return nil
	}
	if w.ApprovedBy != nil && *w.ApprovedBy == adminID {
		return apperr.New(apperr.KindForbidden, "the approving admin may not mark this request paid").
			With("rule", "two_man").
			With("scope", rule.Scope)
	}
	if rule.Scope == ScopeChain && w.ReviewedBy != nil && *w.ReviewedBy == adminID {
		return apperr.New(apperr.KindForbidden, "an admin who reviewed this request may not mark it paid").
			With("rule", "two_man").
			With("scope", rule.Scope)
	}
	return nil
}

// run locks the request row, validates and applies t, refunds if needed and
// writes the audit record, all in one transaction.
func (s *Service) run(ctx context.Context, requestID string, t transition) (*models.WithdrawalRequest, error) {
	if requestID == "" {
		return nil, apperr.New(apperr.KindValidation, "request id is required").With("field", "request_id")
	}

	var (
		updated *models.WithdrawalRequest
		rec     *models.AuditRecord
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// request row first, wallet second
		w, err := tx.LockWithdrawal(ctx, requestID)
		if err != nil {
			return err
		}
		if t.authorize != nil {
			if err := t.authorize(w); err != nil {
				return err
			}
		}
		if !slices.Contains(t.from, w.Status) {
			return apperr.StateConflict(w.Status, t.from...)
		}

		previous := w.Status
		now := time.Now()
		if t.apply != nil {
			if err := t.apply(w, now); err != nil {
				return err
			}
		}
		w.Status = t.to

		if t.refund {
			if err := s.refund(ctx, tx, w); err != nil {
				return err
			}
		}
		if err := tx.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}

		meta := models.Metadata{"from": previous, "to": t.to}
		for k, v := range t.meta {
			if v != "" {
				meta[k] = v
			}
		}
		rec = &models.AuditRecord{
			RequestID: w.ID,
			ActorType: t.actorType,
			ActorID:   t.actorID,
			Action:    t.action,
			Metadata:  meta,
		}
		if err := s.trail.Record(ctx, tx, rec); err != nil {
			return err
		}
		updated = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.trail.Emit(*rec)
	s.logger.Info("withdrawal transitioned",
		zap.String("request_id", updated.ID),
		zap.String("action", t.action),
		zap.String("status", updated.Status),
		zap.Int64("actor_id", t.actorID))
	return updated, nil
}

func (s *Service) refund(ctx context.Context, tx store.Tx, w *models.WithdrawalRequest) error {
	wal, err := s.wallets.LockForUpdate(ctx, tx, w.WalletID)
	if err != nil {
		return err
	}
	if err := s.wallets.AdjustBalance(ctx, tx, wal, w.Amount); err != nil {
		return err
	}
	return tx.InsertStatementEntry(ctx, &models.StatementEntry{
		WalletID:     wal.ID,
		UserID:       w.UserID,
		WithdrawalID: w.ID,
		Type:         models.StatementWithdrawRefund,
		Amount:       w.Amount,
		Direction:    models.DirectionCredit,
		BalanceAfter: wal.Balance,
		Note:         "refund on " + strings.ToLower(w.Status),
	})
}
