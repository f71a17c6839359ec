package gorm

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
	repo, err := NewRepository(Config{
		Type:       DatabaseTypeSQLite,
		SQLitePath: ":memory:",
	})
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

func TestSaveAndFindSQLite(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newRecord("TXN-1")))

	got, err := repo.FindByTransactionID(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.TypeWithdrawal, got.Type)
	assert.Equal(t, transaction.StatusPending, got.Status)
	assert.NotEmpty(t, got.TransactionDate)

	exists, err := repo.ExistsByTransactionID(ctx, "TXN-1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.FindByTransactionID(ctx, "TXN-MISSING")
	assert.ErrorIs(t, err, transaction.ErrNotFound)

	assert.ErrorIs(t, repo.Save(ctx, newRecord("TXN-1")), transaction.ErrDuplicateID)
}

func TestStatusMachineEnforced(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newRecord("TXN-1")))
	require.NoError(t, repo.UpdateStatus(ctx, "TXN-1", transaction.StatusProcessing))
	require.NoError(t, repo.UpdateStatus(ctx, "TXN-1", transaction.StatusApproved))

	err := repo.UpdateStatus(ctx, "TXN-1", transaction.StatusPending)
	var ite *transaction.IllegalTransitionError
	assert.ErrorAs(t, err, &ite)
}

func TestDuplicateDetectionSQLite(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newRecord("TXN-1")))

	dup, err := repo.IsDuplicate(ctx, "000000000001", "000001", "ATM00001", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = repo.IsDuplicate(ctx, "000000000001", "000001", "ATM00002", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestReversalFlowSQLite(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newRecord("TXN-A")))
	require.NoError(t, repo.UpdateStatus(ctx, "TXN-A", transaction.StatusProcessing))
	require.NoError(t, repo.UpdateStatus(ctx, "TXN-A", transaction.StatusApproved))

	orig, err := repo.FindOriginalForReversal(ctx, "TXN-A")
	require.NoError(t, err)
	assert.Equal(t, "TXN-A", orig.TransactionID)

	require.NoError(t, repo.MarkAsReversed(ctx, "TXN-A"))

	got, err := repo.FindByTransactionID(ctx, "TXN-A")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusReversed, got.Status)

	_, err = repo.FindOriginalForReversal(ctx, "TXN-A")
	assert.ErrorIs(t, err, transaction.ErrNotReversible)
}

func TestRangeQueriesSQLite(t *testing.T) {
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

	recs, err = repo.FindByTerminalIDAndDateRange(ctx, "ATM00001", base, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	n, err := repo.CountByStatusAndDate(ctx, transaction.StatusPending, "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	respondedAt := base.Add(time.Second)
	require.NoError(t, repo.UpdateResponse(ctx, "TXN-1", "00", "A12345", respondedAt))
	got, err := repo.FindByTransactionID(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, "00", got.ResponseCode)
	assert.Equal(t, "A12345", got.AuthCode)
}
