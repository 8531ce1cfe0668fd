// Package memstore is an in-process store.Store with row locks that block like
// SELECT ... FOR UPDATE and writes that are undone on rollback. It backs the
// memory driver and the service tests.
//
// Reads outside a transaction see writes of transactions that have not committed yet.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/store"
)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu    sync.Mutex
	locks map[string]chan struct{}

	nextWalletID    int64
	nextStatementID int64
	nextAuditID     int64

	users          map[int64]struct{}
	wallets        map[int64]models.Wallet
	walletByUser   map[int64]int64
	ledger         map[string]models.LedgerEntry
	journalHalves  map[string]struct{}
	statements     map[int64]models.StatementEntry
	withdrawals    map[string]models.WithdrawalRequest
	withdrawalKeys map[string]string
	audit          map[int64]models.AuditRecord
	rules          []models.PointConversionRule
	points         map[int64]models.PointBalance
	notifications  map[string]models.Notification
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		locks:          make(map[string]chan struct{}),
		users:          make(map[int64]struct{}),
		wallets:        make(map[int64]models.Wallet),
		walletByUser:   make(map[int64]int64),
		ledger:         make(map[string]models.LedgerEntry),
		journalHalves:  make(map[string]struct{}),
		statements:     make(map[int64]models.StatementEntry),
		withdrawals:    make(map[string]models.WithdrawalRequest),
		withdrawalKeys: make(map[string]string),
		audit:          make(map[int64]models.AuditRecord),
		points:         make(map[int64]models.PointBalance),
		notifications:  make(map[string]models.Notification),
	}
}

// AddUser registers a user id so wallets can be created for it.
func (s *Store) AddUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = struct{}{}
}

// AddRule appends a point conversion rule.
func (s *Store) AddRule(rule models.PointConversionRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == 0 {
		rule.ID = int64(len(s.rules) + 1)
	}
	s.rules = append(s.rules, rule)
}

// SetPoints sets a user's point balance.
func (s *Store) SetPoints(userID, points int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[userID] = models.PointBalance{UserID: userID, Points: points, UpdatedAt: time.Now()}
}

// Points returns a user's point balance, zero if none.
func (s *Store) Points(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points[userID].Points
}

// Notifications returns the outbox rows of a user.
func (s *Store) Notifications(userID int64) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Statements returns the side ledger rows of a wallet in insertion order.
func (s *Store) Statements(walletID int64) []models.StatementEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatementEntry
	for _, e := range s.statements {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CountLedger returns the number of ledger rows.
func (s *Store) CountLedger() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}

// CountWithdrawals returns the number of withdrawal requests.
func (s *Store) CountWithdrawals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.withdrawals)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	t := &tx{s: s, held: make(map[string]chan struct{})}
	committed := false
	defer func() {
		if !committed {
			t.rollback()
		}
		t.release()
	}()

	if err := fn(ctx, t); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) GetWallet(_ context.Context, id int64) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "wallet %d not found", id)
	}
	return &w, nil
}

func (s *Store) GetWalletByUser(_ context.Context, userID int64) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[s.walletByUser[userID]]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "wallet for user %d not found", userID)
	}
	return &w, nil
}

func (s *Store) GetWithdrawal(_ context.Context, id string) (*models.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "withdrawal request %s not found", id)
	}
	return &w, nil
}

func (s *Store) FindWithdrawalByKey(_ context.Context, userID int64, key string) (*models.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findWithdrawalByKey(userID, key)
}

func (s *Store) findWithdrawalByKey(userID int64, key string) (*models.WithdrawalRequest, error) {
	w, ok := s.withdrawals[s.withdrawalKeys[withdrawalKey(userID, key)]]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "withdrawal request with key %s not found", key)
	}
	return &w, nil
}

func (s *Store) GetConversionRule(_ context.Context) (*models.PointConversionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rules) == 0 {
		return nil, apperr.New(apperr.KindRuleNotFound, "no point conversion rule configured")
	}

	best := s.rules[0]
	for _, r := range s.rules[1:] {
		if r.IsActive != best.IsActive {
			if r.IsActive {
				best = r
			}
			continue
		}
		if r.ID > best.ID {
			best = r
		}
	}
	return &best, nil
}

func (s *Store) LedgerIDsExist(_ context.Context, ids []string, journal string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.ledger[id]; ok {
			return true, nil
		}
	}
	for _, e := range s.ledger {
		if e.JournalCode == journal {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListLedger(_ context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	walletID := filter.WalletID
	if walletID == 0 && filter.UserID != 0 {
		var ok bool
		if walletID, ok = s.walletByUser[filter.UserID]; !ok {
			return nil, nil
		}
	}

	var out []models.LedgerEntry
	for _, e := range s.ledger {
		if walletID != 0 && !sideOf(e, walletID) {
			continue
		}
		if filter.Direction != "" && e.Direction != filter.Direction {
			continue
		}
		if filter.JournalCode != "" && e.JournalCode != filter.JournalCode {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !e.CreatedAt.Before(*filter.To) {
			continue
		}
		if c := filter.Cursor; c != nil && !olderThan(e, c.CreatedAt, c.TransactionID) {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return olderThan(out[j], out[i].CreatedAt, out[i].TransactionID) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListAudit(_ context.Context, requestID string) ([]models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditRecord
	for _, rec := range s.audit {
		if rec.RequestID == requestID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReconstructBalance(_ context.Context, walletID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := decimal.Zero
	for _, e := range s.ledger {
		switch {
		case e.Direction == models.DirectionCredit && e.ToWalletID == walletID:
			balance = balance.Add(e.Amount)
		case e.Direction == models.DirectionDebit && e.FromWalletID == walletID:
			balance = balance.Sub(e.Amount)
		}
	}
	for _, e := range s.statements {
		if e.WalletID != walletID {
			continue
		}
		if e.Direction == models.DirectionCredit {
			balance = balance.Add(e.Amount)
		} else {
			balance = balance.Sub(e.Amount)
		}
	}
	return balance, nil
}

func (s *Store) UnbalancedJournals(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string][]models.LedgerEntry)
	for _, e := range s.ledger {
		groups[e.JournalCode] = append(groups[e.JournalCode], e)
	}

	var codes []string
	for code, entries := range groups {
		if !balancedPair(entries) {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	if limit > 0 && len(codes) > limit {
		codes = codes[:limit]
	}
	return codes, nil
}

func balancedPair(entries []models.LedgerEntry) bool {
	if len(entries) != 2 {
		return false
	}
	a, b := entries[0], entries[1]
	return a.Direction != b.Direction &&
		a.Amount.Equal(b.Amount) &&
		a.FromWalletID == b.FromWalletID &&
		a.ToWalletID == b.ToWalletID
}

// sideOf reports whether e belongs to walletID's view: debits it paid, credits it received.
func sideOf(e models.LedgerEntry, walletID int64) bool {
	if e.Direction == models.DirectionDebit {
		return e.FromWalletID == walletID
	}
	return e.ToWalletID == walletID
}

// olderThan reports whether e sorts strictly after (createdAt, txID) in newest-first order.
func olderThan(e models.LedgerEntry, createdAt time.Time, txID string) bool {
	if !e.CreatedAt.Equal(createdAt) {
		return e.CreatedAt.Before(createdAt)
	}
	return e.TransactionID < txID
}

func withdrawalKey(userID int64, key string) string {
	return fmt.Sprintf("%d/%s", userID, key)
}
