// Package memory provides an in-process Repository used by tests and by
// deployments that do not need durable audit storage.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// Repository is a map-backed transaction.Repository. Safe for concurrent use.
type Repository struct {
	mu      sync.RWMutex
	records map[string]*transaction.Record

	// byRrnStan indexes record ids by "rrn|stan", newest last.
	byRrnStan map[string][]string
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		records:   make(map[string]*transaction.Record),
		byRrnStan: make(map[string][]string),
	}
}

func rrnStanKey(rrn, stan string) string {
	return rrn + "|" + stan
}

func (r *Repository) Save(_ context.Context, record *transaction.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.TransactionID]; exists {
		return transaction.ErrDuplicateID
	}

	stored := record.Clone()
	stored.Touch(time.Now())
	r.records[stored.TransactionID] = stored

	key := rrnStanKey(stored.Rrn, stored.Stan)
	r.byRrnStan[key] = append(r.byRrnStan[key], stored.TransactionID)

	// Reflect repository-owned stamps back to the caller's record.
	record.CreatedAt = stored.CreatedAt
	record.UpdatedAt = stored.UpdatedAt
	record.TransactionAt = stored.TransactionAt
	record.TransactionDate = stored.TransactionDate
	return nil
}

func (r *Repository) FindByTransactionID(_ context.Context, id string) (*transaction.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, transaction.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *Repository) FindByRrnAndStan(_ context.Context, rrn, stan string) (*transaction.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byRrnStan[rrnStanKey(rrn, stan)]
	if len(ids) == 0 {
		return nil, transaction.ErrNotFound
	}
	return r.records[ids[len(ids)-1]].Clone(), nil
}

func (r *Repository) FindByRrnStanTerminal(_ context.Context, rrn, stan, terminalID string) (*transaction.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byRrnStan[rrnStanKey(rrn, stan)]
	for i := len(ids) - 1; i >= 0; i-- {
		if rec := r.records[ids[i]]; rec.TerminalID == terminalID {
			return rec.Clone(), nil
		}
	}
	return nil, transaction.ErrNotFound
}

func (r *Repository) FindByMaskedPanAndDateRange(_ context.Context, maskedPAN string, from, to time.Time) ([]*transaction.Record, error) {
	return r.scan(func(rec *transaction.Record) bool {
		return rec.MaskedPAN == maskedPAN && inRange(rec.TransactionAt, from, to)
	}), nil
}

func (r *Repository) FindByTerminalIDAndDateRange(_ context.Context, terminalID string, from, to time.Time) ([]*transaction.Record, error) {
	return r.scan(func(rec *transaction.Record) bool {
		return rec.TerminalID == terminalID && inRange(rec.TransactionAt, from, to)
	}), nil
}

func (r *Repository) FindByStatus(_ context.Context, status transaction.Status) ([]*transaction.Record, error) {
	return r.scan(func(rec *transaction.Record) bool {
		return rec.Status == status
	}), nil
}

func (r *Repository) UpdateStatus(_ context.Context, id string, status transaction.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return transaction.ErrNotFound
	}
	return rec.TransitionTo(status)
}

func (r *Repository) UpdateResponse(_ context.Context, id, responseCode, authCode string, respondedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return transaction.ErrNotFound
	}
	rec.ResponseCode = responseCode
	rec.AuthCode = authCode
	rec.RespondedAt = respondedAt
	if !rec.RequestedAt.IsZero() {
		rec.ProcessingTimeMs = respondedAt.Sub(rec.RequestedAt).Milliseconds()
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (r *Repository) ExistsByTransactionID(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok, nil
}

func (r *Repository) IsDuplicate(_ context.Context, rrn, stan, terminalID string, window time.Duration) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	for _, id := range r.byRrnStan[rrnStanKey(rrn, stan)] {
		rec := r.records[id]
		if rec.TerminalID == terminalID && rec.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) CountByStatusAndDate(_ context.Context, status transaction.Status, date string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, rec := range r.records {
		if rec.Status == status && rec.TransactionDate == date {
			n++
		}
	}
	return n, nil
}

func (r *Repository) FindOriginalForReversal(_ context.Context, id string) (*transaction.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, transaction.ErrNotFound
	}
	if !rec.Status.IsReversible() {
		return nil, transaction.ErrNotReversible
	}
	return rec.Clone(), nil
}

func (r *Repository) MarkAsReversed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return transaction.ErrNotFound
	}
	if !rec.Status.IsReversible() {
		return transaction.ErrNotReversible
	}
	if err := rec.TransitionTo(transaction.StatusReversalPending); err != nil {
		return err
	}
	return rec.TransitionTo(transaction.StatusReversed)
}

func (r *Repository) Close() error { return nil }

// scan returns clones of all records matching the predicate, ordered by
// creation time.
func (r *Repository) scan(match func(*transaction.Record) bool) []*transaction.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*transaction.Record
	for _, rec := range r.records {
		if match(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
