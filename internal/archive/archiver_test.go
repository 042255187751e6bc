package archive

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/p2ptransfers/internal/accountnumber"
	"github.com/dvloznov/p2ptransfers/internal/accounts"
	bq "github.com/dvloznov/p2ptransfers/internal/bigquery"
	"github.com/dvloznov/p2ptransfers/internal/domain"
	"github.com/dvloznov/p2ptransfers/internal/ledger"
	"github.com/dvloznov/p2ptransfers/internal/store/inmemory"
)

// MockArchiveRepository collects inserted rows.
type MockArchiveRepository struct {
	mu       sync.Mutex
	rows     []*bq.ArchiveRow
	batches  int
	last     time.Time
	InsertFn func(rows []*bq.ArchiveRow) error
}

func (m *MockArchiveRepository) InsertArchiveRows(ctx context.Context, rows []*bq.ArchiveRow) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(rows); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
	m.batches++
	return nil
}

func (m *MockArchiveRepository) LastArchivedCreatedAt(ctx context.Context) (time.Time, error) {
	return m.last, nil
}

func (m *MockArchiveRepository) Close() error { return nil }

func newLedger(t *testing.T) *ledger.Engine {
	t.Helper()
	st := inmemory.NewStore()
	log := zerolog.New(io.Discard)
	registry := accounts.NewRegistry(st, st, accountnumber.NewGenerator(), log)
	return ledger.NewEngine(st, registry, log)
}

func TestArchive_OnlyTerminal(t *testing.T) {
	engine := newLedger(t)
	ctx := context.Background()

	x, _, err := engine.OpenAccount(ctx, "alice", "x", 10000)
	require.NoError(t, err)
	y, _, err := engine.OpenAccount(ctx, "bob", "y", 0)
	require.NoError(t, err)

	done, err := engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 100)
	require.NoError(t, err)
	_, err = engine.ConfirmTransfer(ctx, done.ID)
	require.NoError(t, err)

	cancelled, err := engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 200)
	require.NoError(t, err)
	_, err = engine.CancelTransfer(ctx, cancelled.ID, "alice")
	require.NoError(t, err)

	pending, err := engine.CreateTransfer(ctx, x.AccountNumber, y.AccountNumber, 300)
	require.NoError(t, err)

	repo := &MockArchiveRepository{}
	a := NewArchiver(engine, repo, zerolog.New(io.Discard))

	n, err := a.Archive(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n, "deposit, completed and cancelled transfers")

	ids := map[string]bool{}
	for _, r := range repo.rows {
		ids[r.TransactionID] = true
	}
	assert.True(t, ids[done.ID])
	assert.True(t, ids[cancelled.ID])
	assert.False(t, ids[pending.ID])
}

func TestArchive_Pages(t *testing.T) {
	engine := newLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := engine.OpenAccount(ctx, "alice", "acc", 10)
		require.NoError(t, err)
	}

	repo := &MockArchiveRepository{}
	a := NewArchiver(engine, repo, zerolog.New(io.Discard))
	a.pageSize = 2

	n, err := a.Archive(ctx, time.Now().Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, repo.batches)
}

func TestArchive_ResumesFromLastArchived(t *testing.T) {
	engine := newLedger(t)
	ctx := context.Background()

	_, _, err := engine.OpenAccount(ctx, "alice", "acc", 10)
	require.NoError(t, err)

	repo := &MockArchiveRepository{last: time.Now().Add(time.Minute)}
	a := NewArchiver(engine, repo, zerolog.New(io.Discard))
	a.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := a.Archive(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchive_InvalidWindow(t *testing.T) {
	a := NewArchiver(newLedger(t), &MockArchiveRepository{}, zerolog.New(io.Discard))
	now := time.Now()

	_, err := a.Archive(context.Background(), now, now.Add(-time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
}

func TestArchive_InsertError(t *testing.T) {
	engine := newLedger(t)
	ctx := context.Background()
	_, _, err := engine.OpenAccount(ctx, "alice", "acc", 10)
	require.NoError(t, err)

	boom := errors.New("quota exceeded")
	repo := &MockArchiveRepository{InsertFn: func([]*bq.ArchiveRow) error { return boom }}

	_, err = NewArchiver(engine, repo, zerolog.New(io.Discard)).Archive(ctx, time.Now().Add(-time.Hour), time.Time{})
	assert.ErrorIs(t, err, boom)
}
