package withdrawal

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
	"github.com/ruralpay/walletcore/internal/models"
	"github.com/ruralpay/walletcore/internal/services/audit"
	"github.com/ruralpay/walletcore/internal/services/wallet"
	"github.com/ruralpay/walletcore/internal/store/memstore"
)

const (
	userID  int64 = 7
	adminA  int64 = 70
	adminB  int64 = 71
	balance       = "200.00"
)

var bank = models.BankDetails{BankCode: "058", AccountNumber: "0123456789", AccountName: "Ada Obi"}

type fixture struct {
	store   *memstore.Store
	wallets *wallet.Service
	trail   *audit.Trail
	svc     *Service
	wallet  *models.Wallet
	keys    int
}

func newFixture(t *testing.T, rule TwoManRule) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	wallets := wallet.NewService(st, nil, 0, zap.NewNop())
	trail := audit.NewTrail(st, zap.NewNop())
	svc := NewService(st, wallets, trail, Config{
		MinAmount:  decimal.RequireFromString("1.00"),
		MaxAmount:  decimal.RequireFromString("10000.00"),
		TwoManRule: rule,
	}, zap.NewNop())

	st.AddUser(userID)
	w, err := wallets.Create(ctx, userID)
	require.NoError(t, err)
	w, err = wallets.Deposit(ctx, w.WalletNumber, decimal.RequireFromString(balance), "seed")
	require.NoError(t, err)

	return &fixture{store: st, wallets: wallets, trail: trail, svc: svc, wallet: w}
}

func (f *fixture) balance(t *testing.T) string {
	t.Helper()
	w, err := f.wallets.Get(context.Background(), f.wallet.WalletNumber)
	require.NoError(t, err)
	return w.Balance.StringFixed(2)
}

func (f *fixture) create(t *testing.T, amount string) *models.WithdrawalRequest {
	t.Helper()
	f.keys++
	res, err := f.svc.Create(context.Background(), CreateInput{
		UserID:         userID,
		Amount:         decimal.RequireFromString(amount),
		BankDetails:    bank,
		IdempotencyKey: fmt.Sprintf("key-%d", f.keys),
	})
	require.NoError(t, err)
	require.False(t, res.Replayed)
	return res.Request
}

func (f *fixture) assertReconciles(t *testing.T) {
	t.Helper()
	w, err := f.wallets.Get(context.Background(), f.wallet.WalletNumber)
	require.NoError(t, err)
	rebuilt, err := f.store.ReconstructBalance(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(rebuilt), "stored %s rebuilt %s", w.Balance, rebuilt)
}

// inState drives a fresh request to status.
func (f *fixture) inState(t *testing.T, status string) *models.WithdrawalRequest {
	t.Helper()
	ctx := context.Background()
	req := f.create(t, "10.00")

	var err error
	switch status {
	case models.WithdrawalHeld:
		return req
	case models.WithdrawalNeedsInfo:
		_, err = f.svc.AdminNeedsInfo(ctx, adminA, req.ID, "send id")
	case models.WithdrawalApproved:
		_, err = f.svc.AdminApprove(ctx, adminA, req.ID, "")
	case models.WithdrawalPaid:
		_, err = f.svc.AdminApprove(ctx, adminA, req.ID, "")
		require.NoError(t, err)
		_, err = f.svc.AdminMarkPaid(ctx, adminB, req.ID, "BANK-1", "")
	case models.WithdrawalRejected:
		_, err = f.svc.AdminReject(ctx, adminA, req.ID, "bad bank")
	case models.WithdrawalCancelled:
		_, err = f.svc.Cancel(ctx, userID, req.ID)
	case models.WithdrawalFailed:
		_, err = f.svc.AdminFail(ctx, adminA, req.ID, "bank down")
	}
	require.NoError(t, err)
	return req
}

func TestService_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, TwoManRule{})
	in := CreateInput{UserID: userID, Amount: decimal.RequireFromString("50.00"), BankDetails: bank, IdempotencyKey: "k1"}

	first, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, models.WithdrawalHeld, first.Request.Status)
	assert.Equal(t, "NGN", first.Request.Currency)

	second, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Request.ID, second.Request.ID)

	assert.Equal(t, 1, f.store.CountWithdrawals())
	assert.Equal(t, "150.00", f.balance(t))

	statements := f.store.Statements(f.wallet.ID)
	require.Len(t, statements, 2)
	assert.Equal(t, models.StatementWithdrawRequestDebit, statements[1].Type)
	assert.Equal(t, "150.00", statements[1].BalanceAfter.StringFixed(2))

	records, err := f.trail.History(ctx, first.Request.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.ActionCreate, records[0].Action)
	f.assertReconciles(t)
}

func TestService_CreateConcurrentReplays(t *testing.T) {
	f := newFixture(t, TwoManRule{})
	in := CreateInput{UserID: userID, Amount: decimal.RequireFromString("50.00"), BankDetails: bank, IdempotencyKey: "same"}

	const n = 10
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Create(context.Background(), in)
			if assert.NoError(t, err) {
				ids <- res.Request.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, f.store.CountWithdrawals())
	assert.Equal(t, "150.00", f.balance(t))
}

func TestService_ConcurrentTerminalTransitions(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, TwoManRule{})
		req := f.create(t, "50.00")
		require.Equal(t, "150.00", f.balance(t))

		actions := []func(ctx context.Context) (*models.WithdrawalRequest, error){
			func(ctx context.Context) (*models.WithdrawalRequest, error) {
				return f.svc.Cancel(ctx, userID, req.ID)
			},
			func(ctx context.Context) (*models.WithdrawalRequest, error) {
				return f.svc.AdminReject(ctx, adminA, req.ID, "bad bank")
			},
			func(ctx context.Context) (*models.WithdrawalRequest, error) {
				return f.svc.AdminFail(ctx, adminB, req.ID, "bank down")
			},
		}

		errs := make([]error, len(actions))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for n, action := range actions {
			wg.Add(1)
			go func(n int, action func(ctx context.Context) (*models.WithdrawalRequest, error)) {
				defer wg.Done()
				<-start
				_, errs[n] = action(context.Background())
			}(n, action)
		}
		close(start)
		wg.Wait()

		won := 0
		for _, err := range errs {
			if err == nil {
				won++
				continue
			}
			assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err), err.Error())
		}
		require.Equal(t, 1, won, "%v", errs)

		got, err := f.svc.Get(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Contains(t, []string{models.WithdrawalCancelled, models.WithdrawalRejected, models.WithdrawalFailed}, got.Status)

		refunds := 0
		for _, st := range f.store.Statements(f.wallet.ID) {
			if st.Type == models.StatementWithdrawRefund {
				refunds++
			}
		}
		assert.Equal(t, 1, refunds)
		assert.Equal(t, balance, f.balance(t))
		f.assertReconciles(t)
	}
}

func TestService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, TwoManRule{})
	valid := CreateInput{UserID: userID, Amount: decimal.RequireFromString("50.00"), BankDetails: bank, IdempotencyKey: "k"}

	cases := map[string]func(in *CreateInput){
		"empty key":      func(in *CreateInput) { in.IdempotencyKey = "  " },
		"below minimum":  func(in *CreateInput) { in.Amount = decimal.RequireFromString("0.50") },
		"above maximum":  func(in *CreateInput) { in.Amount = decimal.RequireFromString("10000.01") },
		"three decimals": func(in *CreateInput) { in.Amount = decimal.RequireFromString("5.001") },
		"negative":       func(in *CreateInput) { in.Amount = decimal.RequireFromString("-5.00") },
		"bad account":    func(in *CreateInput) { in.BankDetails.AccountNumber = "12-34" },
		"missing bank":   func(in *CreateInput) { in.BankDetails = models.BankDetails{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := f.svc.Create(ctx, in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}

	assert.Zero(t, f.store.CountWithdrawals())
	assert.Equal(t, balance, f.balance(t))
}

func TestService_CreateInsufficientFunds(t *testing.T) {
	f := newFixture(t, TwoManRule{})

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID: userID, Amount: decimal.RequireFromString("200.01"), BankDetails: bank, IdempotencyKey: "big",
	})
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))
	assert.Zero(t, f.store.CountWithdrawals())
	assert.Equal(t, balance, f.balance(t))
}

func TestService_RejectRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, TwoManRule{})
	req := f.create(t, "50.00")
	assert.Equal(t, "150.00", f.balance(t))

	rejected, err := f.svc.AdminReject(ctx, adminA, req.ID, "bad bank")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "bad bank", rejected.AdminNote)
	require.NotNil(t, rejected.ReviewedBy)
	assert.Equal(t, adminA, *rejected.ReviewedBy)
	assert.Equal(t, balance, f.balance(t))

	records, err := f.trail.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.ActionReject, records[1].Action)
	assert.Equal(t, models.ActorAdmin, records[1].ActorType)
	assert.Equal(t, "bad bank", records[1].Metadata["reason"])
	assert.Equal(t, models.WithdrawalHeld, records[1].Metadata["from"])

	statements := f.store.Statements(f.wallet.ID)
	assert.Equal(t, models.StatementWithdrawRefund, statements[len(statements)-1].Type)
	f.assertReconciles(t)
}

func TestService_TransitionGrid(t *testing.T) {
	ctx := context.Background()

	ops := map[string]func(s *Service, id string) (*models.WithdrawalRequest, error){
		"cancel":     func(s *Service, id string) (*models.WithdrawalRequest, error) { return s.Cancel(ctx, userID, id) },
		"needs_info": func(s *Service, id string) (*models.WithdrawalRequest, error) { return s.AdminNeedsInfo(ctx, adminA, id, "more") },
		"approve":    func(s *Service, id string) (*models.WithdrawalRequest, error) { return s.AdminApprove(ctx, adminA, id, "") },
		"reject":     func(s *Service, id string) (*models.WithdrawalRequest, error) { return s.AdminReject(ctx, adminA, id, "no") },
		"mark_paid":  func(s *Service, id string) (*models.WithdrawalRequest, error) { return s.AdminMarkPaid(ctx, adminB, id, "REF", "") },
		"fail":       func(s *Service, id string) (*models.WithdrawalRequest, error) { return s.AdminFail(ctx, adminA, id, "down") },
	}
	allowed := map[string][]string{
		models.WithdrawalHeld:      {"cancel", "needs_info", "approve", "reject", "fail"},
		models.WithdrawalNeedsInfo: {"cancel", "approve", "reject", "fail"},
		models.WithdrawalApproved:  {"mark_paid", "fail"},
		models.WithdrawalPaid:      {},
		models.WithdrawalRejected:  {},
		models.WithdrawalCancelled: {},
		models.WithdrawalFailed:    {},
	}

	for status, legal := range allowed {
		for op, call := range ops {
			t.Run(status+"/"+op, func(t *testing.T) {
				f := newFixture(t, TwoManRule{})
				req := f.inState(t, status)
				before := f.balance(t)

				_, err := call(f.svc, req.ID)
				isLegal := false
				for _, l := range legal {
					isLegal = isLegal || l == op
				}
				if isLegal {
					assert.NoError(t, err)
					f.assertReconciles(t)
					return
				}

				assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
				var appErr *apperr.Error
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, status, appErr.Meta["current"])

				got, err := f.svc.Get(ctx, req.ID)
				require.NoError(t, err)
				assert.Equal(t, status, got.Status)
				assert.Equal(t, before, f.balance(t))
			})
		}
	}
}

func TestService_RefundingTerminals(t *testing.T) {
	for _, status := range []string{models.WithdrawalRejected, models.WithdrawalCancelled, models.WithdrawalFailed} {
		t.Run(status, func(t *testing.T) {
			f := newFixture(t, TwoManRule{})
			f.inState(t, status)
			assert.Equal(t, balance, f.balance(t))
			f.assertReconciles(t)
		})
	}

	t.Run(models.WithdrawalPaid+" keeps the hold", func(t *testing.T) {
		f := newFixture(t, TwoManRule{})
		req := f.inState(t, models.WithdrawalPaid)
		assert.Equal(t, "190.00", f.balance(t))

		got, err := f.svc.Get(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, "BANK-1", got.BankReference)
		require.NotNil(t, got.PaidBy)
		assert.Equal(t, adminB, *got.PaidBy)
		f.assertReconciles(t)
	})
}

func TestService_CancelChecksOwner(t *testing.T) {
	f := newFixture(t, TwoManRule{})
	req := f.create(t, "10.00")

	_, err := f.svc.Cancel(context.Background(), 8, req.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, "190.00", f.balance(t))

	_, err = f.svc.Cancel(context.Background(), userID, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestService_AdminInputValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, TwoManRule{})
	req := f.inState(t, models.WithdrawalApproved)

	_, err := f.svc.AdminMarkPaid(ctx, adminB, req.ID, " ", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.svc.AdminFail(ctx, adminA, req.ID, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.svc.AdminReject(ctx, adminA, req.ID, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.svc.AdminNeedsInfo(ctx, adminA, req.ID, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalApproved, got.Status)
}

func TestService_RefundToInactiveWalletRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, TwoManRule{})
	req := f.create(t, "10.00")
	_, err := f.wallets.SetStatus(ctx, f.wallet.WalletNumber, models.WalletStatusInactive)
	require.NoError(t, err)

	_, err = f.svc.AdminReject(ctx, adminA, req.ID, "closed account")
	assert.Equal(t, apperr.KindInactiveWallet, apperr.KindOf(err))

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalHeld, got.Status)
	records, err := f.trail.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestService_TwoManRule(t *testing.T) {
	ctx := context.Background()
	threshold := decimal.RequireFromString("100.00")

	approveThenPay := func(t *testing.T, f *fixture, amount string, approver, payer int64) error {
		req := f.create(t, amount)
		_, err := f.svc.AdminApprove(ctx, approver, req.ID, "")
		require.NoError(t, err)
		_, err = f.svc.AdminMarkPaid(ctx, payer, req.ID, "REF-1", "")
		return err
	}

	t.Run("disabled by default", func(t *testing.T) {
		f := newFixture(t, TwoManRule{})
		assert.NoError(t, approveThenPay(t, f, "150.00", adminA, adminA))
	})

	t.Run("same admin above threshold", func(t *testing.T) {
		f := newFixture(t, TwoManRule{Enabled: true, Threshold: threshold})
		err := approveThenPay(t, f, "100.00", adminA, adminA)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	})

	t.Run("same admin below threshold", func(t *testing.T) {
		f := newFixture(t, TwoManRule{Enabled: true, Threshold: threshold})
		assert.NoError(t, approveThenPay(t, f, "99.99", adminA, adminA))
	})

	t.Run("different admins", func(t *testing.T) {
		f := newFixture(t, TwoManRule{Enabled: true, Threshold: threshold})
		assert.NoError(t, approveThenPay(t, f, "150.00", adminA, adminB))
	})

	reviewApprovePay := func(t *testing.T, f *fixture) error {
		req := f.create(t, "150.00")
		_, err := f.svc.AdminNeedsInfo(ctx, adminA, req.ID, "proof of address")
		require.NoError(t, err)
		_, err = f.svc.AdminApprove(ctx, adminB, req.ID, "")
		require.NoError(t, err)
		_, err = f.svc.AdminMarkPaid(ctx, adminA, req.ID, "REF-2", "")
		return err
	}

	t.Run("approver scope lets the reviewer pay", func(t *testing.T) {
		f := newFixture(t, TwoManRule{Enabled: true, Threshold: threshold, Scope: ScopeApprover})
		assert.NoError(t, reviewApprovePay(t, f))
	})

	t.Run("chain scope blocks the reviewer", func(t *testing.T) {
		f := newFixture(t, TwoManRule{Enabled: true, Threshold: threshold, Scope: ScopeChain})
		err := reviewApprovePay(t, f)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	})
}
