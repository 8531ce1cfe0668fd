// Package idissuertest provides an in-process Issuer for tests.
package idissuertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
)

// Sequence issues TX-DR-n / TX-CR-n / JRN-n triples with n counting from 1.
// Err, when set, is returned instead of a triple.
type Sequence struct {
	mu    sync.Mutex
	n     int
	calls int
	Err   error
}

func (s *Sequence) Issue(_ context.Context) (models.TransactionIDs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Err != nil {
		return models.TransactionIDs{}, s.Err
	}
	s.n++
	return models.TransactionIDs{
		DebitID:     fmt.Sprintf("TX-DR-%d", s.n),
		CreditID:    fmt.Sprintf("TX-CR-%d", s.n),
		JournalCode: fmt.Sprintf("JRN-%d", s.n),
	}, nil
}

// Calls returns how many times Issue ran.
func (s *Sequence) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Unavailable returns a Sequence that always fails like an unreachable issuer.
func Unavailable() *Sequence {
	return &Sequence{Err: apperr.New(apperr.KindExternalDependency, "id issuer unavailable")}
}
