// Package audit keeps the append-only trace of every state-changing actor action.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/store"
)

// Trail writes audit records inside the caller's transaction and mirrors them to the audit log.
type Trail struct {
	store  store.Store
	logger *zap.Logger
}

func NewTrail(st store.Store, logger *zap.Logger) *Trail {
	return &Trail{store: st, logger: logger.Named("audit")}
}

// Record appends rec inside tx. rec.ID and rec.CreatedAt are filled in.
func (t *Trail) Record(ctx context.Context, tx store.Tx, rec *models.AuditRecord) error {
	switch {
	case rec.RequestID == "":
		return apperr.New(apperr.KindInternal, "audit record without request id")
	case rec.ActorType != models.ActorUser && rec.ActorType != models.ActorAdmin:
		return apperr.New(apperr.KindInternal, "audit record with unknown actor type %q", rec.ActorType)
	case rec.Action == "":
		return apperr.New(apperr.KindInternal, "audit record without action")
	}
	return tx.InsertAudit(ctx, rec)
}

// Emit writes committed records to the audit log.
func (t *Trail) Emit(records ...models.AuditRecord) {
	for _, rec := range records {
		t.logger.Info("audit event",
			zap.Int64("audit_id", rec.ID),
			zap.String("request_id", rec.RequestID),
			zap.String("actor_type", rec.ActorType),
			zap.Int64("actor_id", rec.ActorID),
			zap.String("action", rec.Action),
			zap.Any("metadata", map[string]any(rec.Metadata)),
			zap.Time("timestamp", rec.CreatedAt))
	}
}

// History returns every record of a request, oldest first.
func (t *Trail) History(ctx context.Context, requestID string) ([]models.AuditRecord, error) {
	if requestID == "" {
		return nil, apperr.New(apperr.KindValidation, "request id is required").With("field", "request_id")
	}
	records, err := t.store.ListAudit(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.AuditRecord{}
	}
	return records, nil
}
