// Package badger provides an embedded, durable transaction Repository on
// BadgerDB for single-node deployments that need crash-safe audit storage
// without an external database.
//
// Key namespaces:
//
//	Data Type         Prefix  Key Format                      Value
//	=================================================================
//	Transaction       "t:"    t:<transactionId>               Record (JSON)
//	RRN+STAN index    "rs:"   rs:<rrn>|<stan>:<createdNano>:<id>  transactionId
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

const (
	prefixTxn     = "t:"
	prefixRrnStan = "rs:"
)

func keyTxn(id string) []byte {
	return []byte(prefixTxn + id)
}

func keyRrnStan(rrn, stan string, createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s|%s:%020d:%s", prefixRrnStan, rrn, stan, createdAt.UnixNano(), id))
}

func scanRrnStan(rrn, stan string) []byte {
	return []byte(prefixRrnStan + rrn + "|" + stan + ":")
}

// Config holds the BadgerDB repository settings.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string `mapstructure:"dir"`

	// InMemory runs without persistence; used by tests.
	InMemory bool `mapstructure:"in_memory"`
}

// Repository is the BadgerDB-backed transaction.Repository.
type Repository struct {
	db *badger.DB
}

// NewRepository opens (or creates) the database.
func NewRepository(cfg Config) (*Repository, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Repository{db: db}, nil
}

func encodeRecord(rec *transaction.Record) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeRecord(val []byte) (*transaction.Record, error) {
	var rec transaction.Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode transaction record: %w", err)
	}
	return &rec, nil
}

func (r *Repository) Save(ctx context.Context, record *transaction.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record.Touch(time.Now())

	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyTxn(record.TransactionID)); err == nil {
			return transaction.ErrDuplicateID
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		data, err := encodeRecord(record)
		if err != nil {
			return err
		}
		if err := txn.Set(keyTxn(record.TransactionID), data); err != nil {
			return err
		}
		return txn.Set(keyRrnStan(record.Rrn, record.Stan, record.CreatedAt, record.TransactionID), []byte(record.TransactionID))
	})
}

func (r *Repository) FindByTransactionID(ctx context.Context, id string) (*transaction.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *transaction.Record
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyTxn(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return transaction.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// findByIndex walks the rrn+stan index newest-first and returns the first
// record matching the filter.
func (r *Repository) findByIndex(rrn, stan string, match func(*transaction.Record) bool) (*transaction.Record, error) {
	var found *transaction.Record
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := scanRrnStan(rrn, stan)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts just past the prefix range.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			item, err := txn.Get(keyTxn(id))
			if err != nil {
				return err
			}
			var rec *transaction.Record
			if err := item.Value(func(val []byte) error {
				rec, err = decodeRecord(val)
				return err
			}); err != nil {
				return err
			}
			if match(rec) {
				found = rec
				return nil
			}
		}
		return transaction.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (r *Repository) FindByRrnAndStan(ctx context.Context, rrn, stan string) (*transaction.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.findByIndex(rrn, stan, func(*transaction.Record) bool { return true })
}

func (r *Repository) FindByRrnStanTerminal(ctx context.Context, rrn, stan, terminalID string) (*transaction.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.findByIndex(rrn, stan, func(rec *transaction.Record) bool {
		return rec.TerminalID == terminalID
	})
}

// scan walks every transaction record and collects matches ordered by
// creation time. Badger range scans are cheap; the record set of a front-end
// processor is bounded by retention.
func (r *Repository) scan(match func(*transaction.Record) bool) ([]*transaction.Record, error) {
	var out []*transaction.Record
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTxn)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefixTxn)); it.ValidForPrefix([]byte(prefixTxn)); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				if match(rec) {
					out = append(out, rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repository) FindByMaskedPanAndDateRange(ctx context.Context, maskedPAN string, from, to time.Time) ([]*transaction.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.scan(func(rec *transaction.Record) bool {
		return rec.MaskedPAN == maskedPAN && !rec.TransactionAt.Before(from) && rec.TransactionAt.Before(to)
	})
}

func (r *Repository) FindByTerminalIDAndDateRange(ctx context.Context, terminalID string, from, to time.Time) ([]*transaction.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.scan(func(rec *transaction.Record) bool {
		return rec.TerminalID == terminalID && !rec.TransactionAt.Before(from) && rec.TransactionAt.Before(to)
	})
}

func (r *Repository) FindByStatus(ctx context.Context, status transaction.Status) ([]*transaction.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.scan(func(rec *transaction.Record) bool {
		return rec.Status == status
	})
}

// update loads, mutates, and rewrites one record inside a single Badger
// transaction.
func (r *Repository) update(id string, mutate func(*transaction.Record) error) error {
	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyTxn(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return transaction.ErrNotFound
		}
		if err != nil {
			return err
		}

		var rec *transaction.Record
		if err := item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		}); err != nil {
			return err
		}

		if err := mutate(rec); err != nil {
			return err
		}

		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return txn.Set(keyTxn(id), data)
	})
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status transaction.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.update(id, func(rec *transaction.Record) error {
		return rec.TransitionTo(status)
	})
}

func (r *Repository) UpdateResponse(ctx context.Context, id, responseCode, authCode string, respondedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.update(id, func(rec *transaction.Record) error {
		rec.ResponseCode = responseCode
		rec.AuthCode = authCode
		rec.RespondedAt = respondedAt
		if !rec.RequestedAt.IsZero() {
			rec.ProcessingTimeMs = respondedAt.Sub(rec.RequestedAt).Milliseconds()
		}
		rec.UpdatedAt = time.Now()
		return nil
	})
}

func (r *Repository) ExistsByTransactionID(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(keyTxn(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) IsDuplicate(ctx context.Context, rrn, stan, terminalID string, window time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	cutoff := time.Now().Add(-window)
	rec, err := r.findByIndex(rrn, stan, func(rec *transaction.Record) bool {
		return rec.TerminalID == terminalID && rec.CreatedAt.After(cutoff)
	})
	if errors.Is(err, transaction.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

func (r *Repository) CountByStatusAndDate(ctx context.Context, status transaction.Status, date string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	recs, err := r.scan(func(rec *transaction.Record) bool {
		return rec.Status == status && rec.TransactionDate == date
	})
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

func (r *Repository) FindOriginalForReversal(ctx context.Context, id string) (*transaction.Record, error) {
	rec, err := r.FindByTransactionID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.IsReversible() {
		return nil, transaction.ErrNotReversible
	}
	return rec, nil
}

func (r *Repository) MarkAsReversed(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.update(id, func(rec *transaction.Record) error {
		if !rec.Status.IsReversible() {
			return transaction.ErrNotReversible
		}
		if err := rec.TransitionTo(transaction.StatusReversalPending); err != nil {
			return err
		}
		return rec.TransitionTo(transaction.StatusReversed)
	})
}

func (r *Repository) Close() error {
	return r.db.Close()
}

var _ transaction.Repository = (*Repository)(nil)
