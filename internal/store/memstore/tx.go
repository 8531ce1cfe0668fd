package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/store"
)

type tx struct {
	s    *Store
	held map[string]chan struct{}
	undo []func()
}

var _ store.Tx = (*tx)(nil)

// lock blocks until the row lock is held by this transaction or ctx is done.
func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}

	t.s.mu.Lock()
	ch, ok := t.s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		t.s.locks[key] = ch
	}
	t.s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-ctx.Done():
		return apperr.Internal(ctx.Err(), "waiting for lock on %s", key)
	}
}

func (t *tx) release() {
	for key, ch := range t.held {
		<-ch
		delete(t.held, key)
	}
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// onRollback must be called with s.mu held.
func (t *tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) UserExists(_ context.Context, userID int64) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	_, ok := t.s.users[userID]
	return ok, nil
}

func (t *tx) InsertWallet(_ context.Context, userID int64) (*models.Wallet, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.walletByUser[userID]; ok {
		return nil, apperr.New(apperr.KindAlreadyExists, "user %d already has a wallet", userID)
	}

	s.nextWalletID++
	now := time.Now()
	w := models.Wallet{
		ID:        s.nextWalletID,
		UserID:    userID,
		Balance:   decimal.Zero,
		Status:    models.WalletStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.WalletNumber = models.FormatWalletNumber(w.ID)
	s.wallets[w.ID] = w
	s.walletByUser[userID] = w.ID
	t.onRollback(func() {
		delete(s.wallets, w.ID)
		delete(s.walletByUser, userID)
	})
	return &w, nil
}

func (t *tx) LockWallet(ctx context.Context, id int64) (*models.Wallet, error) {
	if _, err := t.s.GetWallet(ctx, id); err != nil {
		return nil, err
	}
	if err := t.lock(ctx, walletLock(id)); err != nil {
		return nil, err
	}
	// re-read, the row may have changed or vanished while waiting
	return t.s.GetWallet(ctx, id)
}

func (t *tx) LockWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error) {
	w, err := t.s.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return t.LockWallet(ctx, w.ID)
}

func (t *tx) UpdateWalletBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return apperr.New(apperr.KindInternal, "balance of wallet %d would be negative", id)
	}
	return t.updateWallet(id, func(w *models.Wallet) { w.Balance = balance })
}

func (t *tx) UpdateWalletStatus(_ context.Context, id int64, status string) error {
	return t.updateWallet(id, func(w *models.Wallet) { w.Status = status })
}

func (t *tx) updateWallet(id int64, mutate func(w *models.Wallet)) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.wallets[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "wallet %d not found", id)
	}
	next := prev
	mutate(&next)
	next.UpdatedAt = time.Now()
	s.wallets[id] = next
	t.onRollback(func() { s.wallets[id] = prev })
	return nil
}

func (t *tx) CountWalletReferences(_ context.Context, walletID int64) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var count int64
	for _, e := range t.s.ledger {
		if e.FromWalletID == walletID || e.ToWalletID == walletID {
			count++
		}
	}
	for _, e := range t.s.statements {
		if e.WalletID == walletID {
			count++
		}
	}
	return count, nil
}

func (t *tx) DeleteWallet(_ context.Context, id int64) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "wallet %d not found", id)
	}
	delete(s.wallets, id)
	delete(s.walletByUser, w.UserID)
	t.onRollback(func() {
		s.wallets[id] = w
		s.walletByUser[w.UserID] = id
	})
	return nil
}

func (t *tx) InsertLedgerEntries(_ context.Context, entries ...models.LedgerEntry) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, e := range entries {
		half := e.JournalCode + "/" + e.Direction
		if _, ok := s.ledger[e.TransactionID]; ok {
			return apperr.New(apperr.KindIDCollision, "ledger id %s already used", e.TransactionID)
		}
		if _, ok := s.journalHalves[half]; ok {
			return apperr.New(apperr.KindIDCollision, "journal %s already has a %s entry", e.JournalCode, e.Direction)
		}

		e.CreatedAt = now
		s.ledger[e.TransactionID] = e
		s.journalHalves[half] = struct{}{}
		id := e.TransactionID
		t.onRollback(func() {
			delete(s.ledger, id)
			delete(s.journalHalves, half)
		})
	}
	return nil
}

func (t *tx) InsertStatementEntry(_ context.Context, e *models.StatementEntry) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextStatementID++
	e.ID = s.nextStatementID
	e.CreatedAt = time.Now()
	s.statements[e.ID] = *e
	id := e.ID
	t.onRollback(func() { delete(s.statements, id) })
	return nil
}

func (t *tx) FindWithdrawalByKey(_ context.Context, userID int64, key string) (*models.WithdrawalRequest, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.findWithdrawalByKey(userID, key)
}

func (t *tx) InsertWithdrawal(_ context.Context, w *models.WithdrawalRequest) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := withdrawalKey(w.UserID, w.IdempotencyKey)
	if _, ok := s.withdrawalKeys[key]; ok {
		return apperr.New(apperr.KindDuplicate, "withdrawal with idempotency key %q already exists", w.IdempotencyKey)
	}
	if _, ok := s.withdrawals[w.ID]; ok {
		return apperr.New(apperr.KindInternal, "withdrawal request %s already exists", w.ID)
	}

	now := time.Now()
	w.CreatedAt, w.UpdatedAt = now, now
	s.withdrawals[w.ID] = *w
	s.withdrawalKeys[key] = w.ID
	id := w.ID
	t.onRollback(func() {
		delete(s.withdrawals, id)
		delete(s.withdrawalKeys, key)
	})
	return nil
}

func (t *tx) LockWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	if _, err := t.s.GetWithdrawal(ctx, id); err != nil {
		return nil, err
	}
	if err := t.lock(ctx, "withdrawal:"+id); err != nil {
		return nil, err
	}
	return t.s.GetWithdrawal(ctx, id)
}

func (t *tx) UpdateWithdrawal(_ context.Context, w *models.WithdrawalRequest) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.withdrawals[w.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "withdrawal request %s not found", w.ID)
	}
	w.UpdatedAt = time.Now()
	s.withdrawals[w.ID] = *w
	t.onRollback(func() { s.withdrawals[prev.ID] = prev })
	return nil
}

func (t *tx) InsertAudit(_ context.Context, rec *models.AuditRecord) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	rec.ID = s.nextAuditID
	rec.CreatedAt = time.Now()
	s.audit[rec.ID] = *rec
	id := rec.ID
	t.onRollback(func() { delete(s.audit, id) })
	return nil
}

func (t *tx) LockPoints(ctx context.Context, userID int64) (*models.PointBalance, error) {
	if err := t.lock(ctx, fmt.Sprintf("points:%d", userID)); err != nil {
		return nil, err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.points[userID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "point balance for user %d not found", userID)
	}
	return &p, nil
}

func (t *tx) UpdatePoints(_ context.Context, userID int64, points int64) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.points[userID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "point balance for user %d not found", userID)
	}
	s.points[userID] = models.PointBalance{UserID: userID, Points: points, UpdatedAt: time.Now()}
	t.onRollback(func() { s.points[userID] = prev })
	return nil
}

func (t *tx) InsertNotification(_ context.Context, n *models.Notification) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications[n.ID] = *n
	id := n.ID
	t.onRollback(func() { delete(s.notifications, id) })
	return nil
}

func walletLock(id int64) string {
	return fmt.Sprintf("wallet:%d", id)
}
