// Package idissuer fetches ledger transaction ids and journal codes from the
// external id issuer service.
package idissuer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
)

const maxResponseBytes = 64 << 10

// Issuer hands out a (DR id, CR id, journal code) triple.
type Issuer interface {
	Issue(ctx context.Context) (models.TransactionIDs, error)
}

// Config holds the issuer endpoint settings.
type Config struct {
	URL     string
	Timeout time.Duration
}

type issueResponse struct {
	TransactionIDs []string `json:"transaction_ids"`
	JournalCode    string   `json:"journal_code"`
}

// Client is the HTTP implementation of Issuer.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

var _ Issuer = (*Client)(nil)

// NewClient creates an issuer client. Every call is bounded by cfg.Timeout.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		url:    cfg.URL,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("idissuer"),
	}
}

// Issue requests a fresh id triple. Every failure is EXTERNAL_DEPENDENCY_FAILURE.
func (c *Client) Issue(ctx context.Context) (models.TransactionIDs, error) {
	requestID := uuid.NewString()
	body, _ := json.Marshal(map[string]int{"count": 2})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return models.TransactionIDs{}, apperr.Wrap(apperr.KindExternalDependency, err, "failed to build id issuer request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("id issuer call failed", zap.String("request_id", requestID), zap.Error(err))
		return models.TransactionIDs{}, apperr.Wrap(apperr.KindExternalDependency, err, "id issuer unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("id issuer rejected request",
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode))
		return models.TransactionIDs{}, apperr.New(apperr.KindExternalDependency, "id issuer returned status %d", resp.StatusCode)
	}

	var payload issueResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return models.TransactionIDs{}, apperr.Wrap(apperr.KindExternalDependency, err, "malformed id issuer response")
	}

	ids, err := payload.validate()
	if err != nil {
		return models.TransactionIDs{}, apperr.Wrap(apperr.KindExternalDependency, err, "malformed id issuer response")
	}

	c.logger.Debug("issued transaction ids",
		zap.String("request_id", requestID),
		zap.String("journal_code", ids.JournalCode),
		zap.Duration("elapsed", time.Since(start)))
	return ids, nil
}

func (r issueResponse) validate() (models.TransactionIDs, error) {
	if len(r.TransactionIDs) < 2 {
		return models.TransactionIDs{}, fmt.Errorf("expected 2 transaction ids, got %d", len(r.TransactionIDs))
	}
	debit := strings.TrimSpace(r.TransactionIDs[0])
	credit := strings.TrimSpace(r.TransactionIDs[1])
	journal := strings.TrimSpace(r.JournalCode)

	switch {
	case debit == "" || credit == "":
		return models.TransactionIDs{}, fmt.Errorf("empty transaction id")
	case debit == credit:
		return models.TransactionIDs{}, fmt.Errorf("duplicate transaction id %q", debit)
	case journal == "":
		return models.TransactionIDs{}, fmt.Errorf("empty journal code")
	}
	return models.TransactionIDs{DebitID: debit, CreditID: credit, JournalCode: journal}, nil
}
