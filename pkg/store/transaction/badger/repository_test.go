package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newRecord(id string) *transaction.Record {
	return &transaction.Record{
		TransactionID:  id,
		Type:           transaction.TypeWithdrawal,
		ProcessingCode: "010000",
		MaskedPAN:      "411111******1111",
		PANHash:        "deadbeef",
		EncryptedPAN:   "b64ciphertext",
		Amount:         10000,
		Currency:       "901",
		TerminalID:     "ATM00001",
		Stan:           "000001",
		Rrn:            "000000000001",
		Channel:        "ATM-CH-01",
		Status:         transaction.StatusPending,
		RequestedAt:    time.Now(),
	}
}

func TestSaveAndFind(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newRecord("TXN-1")))

	got, err := repo.FindByTransactionID(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, got.Status)
	assert.NotEmpty(t, got.TransactionDate)

	_, err = repo.FindByTransactionID(ctx, "TXN-MISSING")
	assert.ErrorIs(t, err, transaction.ErrNotFound)

	assert.ErrorIs(t, repo.Save(ctx, newRecord("TXN-1")), transaction.ErrDuplicateID)
}

func TestRrnStanIndex(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first := newRecord("TXN-1")
	require.NoError(t, repo.Save(ctx, first))
	time.Sleep(2 * time.Millisecond)

	second := newRecord("TXN-2")
	second.TerminalID = "ATM00002"
	require.NoError(t, repo.Save(ctx, second))

	got, err := repo.FindByRrnAndStan(ctx, "000000000001", "000001")
	require.NoError(t, err)
	assert.Equal(t, "TXN-2", got.TransactionID, "newest record wins")

	got, err = repo.FindByRrnStanTerminal(ctx, "000000000001", "000001", "ATM00001")
	require.NoError(t, err)
	assert.Equal(t, "TXN-1", got.TransactionID)

	dup, err := repo.IsDuplicate(ctx, "000000000001", "000001", "ATM00001", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = repo.IsDuplicate(ctx, "000000000001", "000001", "ATM00009", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestStatusMachinePersisted(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newRecord("TXN-1")))
	require.NoError(t, repo.UpdateStatus(ctx, "TXN-1", transaction.StatusProcessing))
	require.NoError(t, repo.UpdateStatus(ctx, "TXN-1", transaction.StatusApproved))

	err := repo.UpdateStatus(ctx, "TXN-1", transaction.StatusProcessing)
	var ite *transaction.IllegalTransitionError
	assert.ErrorAs(t, err, &ite)

	got, err := repo.FindByTransactionID(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusApproved, got.Status)
}

func TestReversalFlow(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newRecord("TXN-A")))
	require.NoError(t, repo.UpdateStatus(ctx, "TXN-A", transaction.StatusProcessing))
	require.NoError(t, repo.UpdateStatus(ctx, "TXN-A", transaction.StatusApproved))

	_, err := repo.FindOriginalForReversal(ctx, "TXN-A")
	require.NoError(t, err)

	require.NoError(t, repo.MarkAsReversed(ctx, "TXN-A"))

	got, err := repo.FindByTransactionID(ctx, "TXN-A")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusReversed, got.Status)

	assert.ErrorIs(t, repo.MarkAsReversed(ctx, "TXN-A"), transaction.ErrNotReversible)
}

func TestScanQueries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"TXN-1", "TXN-2", "TXN-3"} {
		rec := newRecord(id)
		rec.Stan = "00000" + string(rune('1'+i))
		rec.TransactionAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.Save(ctx, rec))
	}

	recs, err := repo.FindByMaskedPanAndDateRange(ctx, "411111******1111", base, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = repo.FindByStatus(ctx, transaction.StatusPending)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	n, err := repo.CountByStatusAndDate(ctx, transaction.StatusPending, "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
