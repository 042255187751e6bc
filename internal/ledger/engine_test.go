package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/p2ptransfers/internal/accountnumber"
	"github.com/dvloznov/p2ptransfers/internal/accounts"
	"github.com/dvloznov/p2ptransfers/internal/domain"
	"github.com/dvloznov/p2ptransfers/internal/store"
	"github.com/dvloznov/p2ptransfers/internal/store/inmemory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine   *Engine
	registry *accounts.Registry
	store    *inmemory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := inmemory.NewStore()
	log := zerolog.New(io.Discard)
	registry := accounts.NewRegistry(st, st, accountnumber.NewGenerator(), log)
	return &fixture{
		engine:   NewEngine(st, registry, log),
		registry: registry,
		store:    st,
	}
}

// open creates an account for owner seeded with deposit.
func (f *fixture) open(t *testing.T, owner string, deposit int64) *domain.Account {
	t.Helper()
	a, _, err := f.engine.OpenAccount(context.Background(), owner, "acc", deposit)
	require.NoError(t, err)
	return a
}

func (f *fixture) balance(t *testing.T, a *domain.Account) int64 {
	t.Helper()
	b, err := f.engine.GetBalance(context.Background(), a.ID)
	require.NoError(t, err)
	return b
}

func TestTransferScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 10000)
	y := f.open(t, "bob", 0)
	assert.Equal(t, int64(10000), f.balance(t, x))

	tx, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 3000)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, tx.Status)
	assert.Equal(t, domain.TransactionTypeTransfer, tx.Type)

	// pending transfers do not move funds
	assert.Equal(t, int64(10000), f.balance(t, x))
	assert.Equal(t, int64(0), f.balance(t, y))

	confirmed, err := f.engine.ConfirmTransfer(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, confirmed.Status)

	assert.Equal(t, int64(7000), f.balance(t, x))
	assert.Equal(t, int64(3000), f.balance(t, y))
}

func TestCreateTransfer_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)

	tests := []struct {
		name      string
		source    string
		recipient string
		amount    int64
		want      error
	}{
		{"same account", x.AccountNumber, x.AccountNumber, 10, domain.ErrInvalidTransfer},
		{"zero amount", x.AccountNumber, y.AccountNumber, 0, domain.ErrInvalidTransfer},
		{"negative amount", x.AccountNumber, y.AccountNumber, -5, domain.ErrInvalidTransfer},
		{"unknown source", "40817810000000000000", y.AccountNumber, 10, domain.ErrAccountNotFound},
		{"unknown recipient", x.AccountNumber, "40817810000000000000", 10, domain.ErrAccountNotFound},
		{"insufficient", x.AccountNumber, y.AccountNumber, 1001, domain.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := f.engine.CreateTransfer(ctx, tt.source, tt.recipient, tt.amount)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, tx)
		})
	}

	list, err := f.engine.ListByStatus(ctx, domain.TransactionStatusPending, domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list, "rejected transfers must not be persisted")
}

func TestCreateTransfer_InactiveAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)

	_, err := f.registry.Close(ctx, "alice", x.AccountNumber)
	require.NoError(t, err)

	_, err = f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 10)
	assert.ErrorIs(t, err, domain.ErrAccountInactive)

	z := f.open(t, "carol", 1000)
	_, err = f.registry.Close(ctx, "bob", y.AccountNumber)
	require.NoError(t, err)

	_, err = f.engine.CreateTransfer(ctx, z.AccountNumber, y.AccountNumber, 10)
	assert.ErrorIs(t, err, domain.ErrAccountInactive)
}

func TestCreateTransferForOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)

	_, err := f.engine.CreateTransferForOwner(ctx, "bob", x.AccountNumber, y.AccountNumber, 10)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	tx, err := f.engine.CreateTransferForOwner(ctx, "alice", x.AccountNumber, y.AccountNumber, 10)
	require.NoError(t, err)
	assert.Equal(t, x.ID, tx.Source())
}

func TestConfirmTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)

	tx, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 100)
	require.NoError(t, err)

	_, err = f.engine.ConfirmTransfer(ctx, tx.ID)
	require.NoError(t, err)

	_, err = f.engine.ConfirmTransfer(ctx, tx.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, int64(900), f.balance(t, x))
}

func TestConfirm_UnknownTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ConfirmTransfer(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestConfirm_InsufficientFundsFailsTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)

	first, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 800)
	require.NoError(t, err)
	second, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 800)
	require.NoError(t, err, "creation check is advisory")

	_, err = f.engine.ConfirmTransfer(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.engine.ConfirmTransfer(ctx, second.ID)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	stored, err := f.engine.GetTransaction(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, stored.Status)

	assert.Equal(t, int64(200), f.balance(t, x))
	assert.Equal(t, int64(800), f.balance(t, y))
}

func TestConcurrentConfirmations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)

	var ids []string
	for i := 0; i < 2; i++ {
		tx, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 800)
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.engine.ConfirmTransfer(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var completed, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			completed++
		case errors.Is(err, domain.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(200), f.balance(t, x))
	assert.Equal(t, int64(800), f.balance(t, y))
}

func TestConfirmCancelRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)

	for i := 0; i < 20; i++ {
		tx, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 1)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var confirmErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, confirmErr = f.engine.ConfirmTransfer(ctx, tx.ID)
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.engine.CancelTransfer(ctx, tx.ID, "alice")
		}()
		wg.Wait()

		if confirmErr == nil {
			assert.ErrorIs(t, cancelErr, domain.ErrInvalidState)
		} else {
			assert.ErrorIs(t, confirmErr, domain.ErrInvalidState)
			assert.NoError(t, cancelErr)
		}

		stored, err := f.engine.GetTransaction(ctx, tx.ID)
		require.NoError(t, err)
		assert.True(t, stored.Status.IsTerminal())
	}
}

func TestCancelTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)

	tx, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 100)
	require.NoError(t, err)

	_, err = f.engine.CancelTransfer(ctx, tx.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound, "only the source owner may cancel")

	cancelled, err := f.engine.CancelTransfer(ctx, tx.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, cancelled.Status)

	_, err = f.engine.CancelTransfer(ctx, tx.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.engine.ConfirmTransfer(ctx, tx.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, int64(1000), f.balance(t, x))
}

func TestCancelCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)

	tx, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 100)
	require.NoError(t, err)
	_, err = f.engine.ConfirmTransfer(ctx, tx.ID)
	require.NoError(t, err)

	_, err = f.engine.CancelTransfer(ctx, tx.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCreateInitialDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 0)

	tx, err := f.engine.CreateInitialDeposit(ctx, x.ID, 500)
	require.NoError(t, err)
	assert.Nil(t, tx.SourceAccountID)
	assert.Equal(t, domain.TransactionTypeInitialDeposit, tx.Type)
	assert.Equal(t, domain.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, int64(500), f.balance(t, x))

	_, err = f.engine.CreateInitialDeposit(ctx, x.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)

	_, err = f.engine.CreateInitialDeposit(ctx, "missing", 10)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = f.engine.ConfirmTransfer(ctx, tx.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "deposits are already terminal")
}

func TestOpenAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, deposit, err := f.engine.OpenAccount(ctx, "alice", "main", 2500)
	require.NoError(t, err)
	require.NotNil(t, deposit)
	assert.Equal(t, a.ID, deposit.RecipientAccountID)
	assert.Equal(t, int64(2500), f.balance(t, a))

	b, deposit, err := f.engine.OpenAccount(ctx, "alice", "empty", 0)
	require.NoError(t, err)
	assert.Nil(t, deposit)
	assert.Equal(t, int64(0), f.balance(t, b))

	_, _, err = f.engine.OpenAccount(ctx, "alice", "bad", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)

	list, err := f.registry.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 2, "rejected open must not create an account")
}

func TestOpenAccount_DepositFailureKeepsAccount(t *testing.T) {
	st := inmemory.NewStore()
	log := zerolog.New(io.Discard)
	registry := accounts.NewRegistry(st, st, accountnumber.NewGenerator(), log)
	failing := &MockLedgerStore{
		LedgerStore: st,
		InsertTransactionFunc: func(ctx context.Context, tx *domain.Transaction) error {
			return errors.New("connection reset")
		},
	}
	engine := NewEngine(failing, registry, log)

	a, deposit, err := engine.OpenAccount(context.Background(), "alice", "main", 100)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Nil(t, deposit)
	require.NotNil(t, a)

	found, err := registry.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusActive, found.Status)
}

func TestAccountsWithBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 300)
	y := f.open(t, "alice", 0)
	_, err := f.registry.Close(ctx, "alice", y.AccountNumber)
	require.NoError(t, err)

	all, err := f.engine.AccountsWithBalance(ctx, "alice", false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	active, err := f.engine.AccountsWithBalance(ctx, "alice", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, x.ID, active[0].ID)
	assert.Equal(t, int64(300), active[0].Balance)
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.GetBalance(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	x := f.open(t, "alice", 10)
	_, err = f.engine.GetBalanceForOwner(context.Background(), x.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	b, err := f.engine.GetBalanceForOwner(context.Background(), x.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b)
}

func TestFailStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)

	start := time.Now().UTC()
	f.engine.now = func() time.Time { return start }
	stale, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 100)
	require.NoError(t, err)

	f.engine.now = func() time.Time { return start.Add(10 * time.Minute) }
	fresh, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 100)
	require.NoError(t, err)

	before := f.balance(t, x)
	ids, err := f.engine.FailStale(ctx, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)

	got, err := f.engine.GetTransaction(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, got.Status)

	got, err = f.engine.GetTransaction(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, got.Status)

	assert.Equal(t, before, f.balance(t, x), "failed transactions are never summed")

	ids, err = f.engine.FailStale(ctx, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = f.engine.ConfirmTransfer(ctx, stale.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.open(t, "alice", 1000)
	y := f.open(t, "bob", 0)
	z := f.open(t, "carol", 50)

	_, err := f.engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 1)
	require.NoError(t, err)
	_, err = f.engine.CreateTransfer(ctx, z.AccountNumber, y.AccountNumber, 1)
	require.NoError(t, err)

	hx, err := f.engine.History(ctx, x.ID, domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, hx, 2, "deposit plus outgoing transfer")

	hy, err := f.engine.History(ctx, y.ID, domain.TransactionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, hy, 1)
}

func TestStoreErrorsAreNormalized(t *testing.T) {
	st := inmemory.NewStore()
	log := zerolog.New(io.Discard)
	registry := accounts.NewRegistry(st, st, accountnumber.NewGenerator(), log)

	x, _, err := NewEngine(st, registry, log).OpenAccount(context.Background(), "alice", "x", 100)
	require.NoError(t, err)
	y, _, err := NewEngine(st, registry, log).OpenAccount(context.Background(), "bob", "y", 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		err  error
		want domain.Kind
	}{
		{"driver failure", errors.New("dial tcp: connection refused"), domain.KindStoreUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), domain.KindStoreTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(&MockLedgerStore{
				LedgerStore: st,
				SumCompletedFunc: func(ctx context.Context, accountID string) (store.Totals, error) {
					return store.Totals{}, tt.err
				},
			}, registry, log)

			_, err := engine.CreateTransfer(context.Background(), x.AccountNumber, y.AccountNumber, 10)
			require.Error(t, err)
			assert.Equal(t, tt.want, domain.KindOf(err))

			_, err = engine.GetBalance(context.Background(), x.ID)
			assert.Equal(t, tt.want, domain.KindOf(err))
		})
	}
}

// TestBalanceEqualsSignedSum drives random operations and checks the
// derived balance against an independent sum over all rows.
func TestBalanceEqualsSignedSum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var accs []*domain.Account
	for i := 0; i < 4; i++ {
		accs = append(accs, f.open(t, fmt.Sprintf("owner-%d", i), int64(rng.Intn(1000))))
	}

	for i := 0; i < 200; i++ {
		src := accs[rng.Intn(len(accs))]
		dst := accs[rng.Intn(len(accs))]
		tx, err := f.engine.CreateTransfer(ctx, src.AccountNumber, dst.AccountNumber, int64(rng.Intn(300)+1))
		if err != nil {
			continue
		}
		switch rng.Intn(3) {
		case 0:
			_, _ = f.engine.ConfirmTransfer(ctx, tx.ID)
		case 1:
			_, _ = f.engine.CancelTransfer(ctx, tx.ID, src.OwnerID)
		}
	}

	all, err := f.store.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)

	for _, a := range accs {
		var want int64
		for _, tx := range all {
			want += tx.SignedAmount(a.ID)
		}
		got := f.balance(t, a)
		assert.Equal(t, want, got, "account %s", a.AccountNumber)
		assert.GreaterOrEqual(t, got, int64(0))
	}
}

// MockLedgerStore overrides selected methods of an embedded store.
type MockLedgerStore struct {
	store.LedgerStore
	InsertTransactionFunc func(ctx context.Context, tx *domain.Transaction) error
	SumCompletedFunc      func(ctx context.Context, accountID string) (store.Totals, error)
}

func (m *MockLedgerStore) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if m.InsertTransactionFunc != nil {
		return m.InsertTransactionFunc(ctx, tx)
	}
	return m.LedgerStore.InsertTransaction(ctx, tx)
}

func (m *MockLedgerStore) SumCompleted(ctx context.Context, accountID string) (store.Totals, error) {
	if m.SumCompletedFunc != nil {
		return m.SumCompletedFunc(ctx, accountID)
	}
	return m.LedgerStore.SumCompleted(ctx, accountID)
}
