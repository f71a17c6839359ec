// Package gorm provides the RDBMS-backed transaction Repository. SQLite
// serves single-node deployments; PostgreSQL serves HA setups.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// DatabaseType selects the SQL backend.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config contains the repository database configuration.
type Config struct {
	Type       DatabaseType   `mapstructure:"type"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 25
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 5
		}
	}
}

// Validate checks that the selected backend has what it needs to connect.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite, "":
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite database requires sqlite_path")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("postgres database requires host and database")
		}
	default:
		return fmt.Errorf("unknown database type: %q", c.Type)
	}
	return nil
}

// row is the persisted form of transaction.Record.
type row struct {
	TransactionID  string `gorm:"column:transaction_id;primaryKey"`
	Type           string `gorm:"column:type"`
	ProcessingCode string `gorm:"column:processing_code"`

	MaskedPAN    string `gorm:"column:masked_pan;index:idx_txn_masked_pan"`
	PANHash      string `gorm:"column:pan_hash;index:idx_txn_pan_hash"`
	EncryptedPAN string `gorm:"column:encrypted_pan"`

	Amount   int64  `gorm:"column:amount"`
	Currency string `gorm:"column:currency"`

	SourceAccount      string `gorm:"column:source_account"`
	DestinationAccount string `gorm:"column:destination_account"`

	TerminalID        string `gorm:"column:terminal_id;index:idx_txn_terminal"`
	MerchantID        string `gorm:"column:merchant_id"`
	AcquiringBankCode string `gorm:"column:acquiring_bank_code"`

	Stan    string `gorm:"column:stan;index:idx_txn_rrn_stan"`
	Rrn     string `gorm:"column:rrn;index:idx_txn_rrn_stan"`
	Channel string `gorm:"column:channel"`

	Status       string `gorm:"column:status;index:idx_txn_status"`
	ResponseCode string `gorm:"column:response_code"`
	AuthCode     string `gorm:"column:auth_code"`

	OriginalTransactionID string `gorm:"column:original_transaction_id"`

	RequestedAt      time.Time `gorm:"column:requested_at"`
	TransactionAt    time.Time `gorm:"column:transaction_at"`
	RespondedAt      time.Time `gorm:"column:responded_at"`
	ProcessingTimeMs int64     `gorm:"column:processing_time_ms"`

	ErrorDetails string `gorm:"column:error_details"`

	TransactionDate string `gorm:"column:transaction_date;index:idx_txn_date"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (row) TableName() string { return "transactions" }

func toRow(r *transaction.Record) *row {
	return &row{
		TransactionID:         r.TransactionID,
		Type:                  string(r.Type),
		ProcessingCode:        r.ProcessingCode,
		MaskedPAN:             r.MaskedPAN,
		PANHash:               r.PANHash,
		EncryptedPAN:          r.EncryptedPAN,
		Amount:                r.Amount,
		Currency:              r.Currency,
		SourceAccount:         r.SourceAccount,
		DestinationAccount:    r.DestinationAccount,
		TerminalID:            r.TerminalID,
		MerchantID:            r.MerchantID,
		AcquiringBankCode:     r.AcquiringBankCode,
		Stan:                  r.Stan,
		Rrn:                   r.Rrn,
		Channel:               r.Channel,
		Status:                string(r.Status),
		ResponseCode:          r.ResponseCode,
		AuthCode:              r.AuthCode,
		OriginalTransactionID: r.OriginalTransactionID,
		RequestedAt:           r.RequestedAt,
		TransactionAt:         r.TransactionAt,
		RespondedAt:           r.RespondedAt,
		ProcessingTimeMs:      r.ProcessingTimeMs,
		ErrorDetails:          r.ErrorDetails,
		TransactionDate:       r.TransactionDate,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func (w *row) toRecord() *transaction.Record {
	return &transaction.Record{
		TransactionID:         w.TransactionID,
		Type:                  transaction.Type(w.Type),
		ProcessingCode:        w.ProcessingCode,
		MaskedPAN:             w.MaskedPAN,
		PANHash:               w.PANHash,
		EncryptedPAN:          w.EncryptedPAN,
		Amount:                w.Amount,
		Currency:              w.Currency,
		SourceAccount:         w.SourceAccount,
		DestinationAccount:    w.DestinationAccount,
		TerminalID:            w.TerminalID,
		MerchantID:            w.MerchantID,
		AcquiringBankCode:     w.AcquiringBankCode,
		Stan:                  w.Stan,
		Rrn:                   w.Rrn,
		Channel:               w.Channel,
		Status:                transaction.Status(w.Status),
		ResponseCode:          w.ResponseCode,
		AuthCode:              w.AuthCode,
		OriginalTransactionID: w.OriginalTransactionID,
		RequestedAt:           w.RequestedAt,
		TransactionAt:         w.TransactionAt,
		RespondedAt:           w.RespondedAt,
		ProcessingTimeMs:      w.ProcessingTimeMs,
		ErrorDetails:          w.ErrorDetails,
		TransactionDate:       w.TransactionDate,
		CreatedAt:             w.CreatedAt,
		UpdatedAt:             w.UpdatedAt,
	}
}

// Repository is the SQL-backed transaction.Repository.
type Repository struct {
	db *gorm.DB
}

// NewRepository opens the configured database and migrates the schema.
func NewRepository(cfg Config) (*Repository, error) {
	cfg.ApplyDefaults()

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypeSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	case DatabaseTypePostgres:
		dialector = postgres.Open(cfg.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("access connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Save(ctx context.Context, record *transaction.Record) error {
	record.Touch(time.Now())
	err := r.db.WithContext(ctx).Create(toRow(record)).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return transaction.ErrDuplicateID
	}
	return err
}

func (r *Repository) FindByTransactionID(ctx context.Context, id string) (*transaction.Record, error) {
	var w row
	err := r.db.WithContext(ctx).Where("transaction_id = ?", id).First(&w).Error
	if err != nil {
		return nil, convertNotFound(err)
	}
	return w.toRecord(), nil
}

func (r *Repository) FindByRrnAndStan(ctx context.Context, rrn, stan string) (*transaction.Record, error) {
	var w row
	err := r.db.WithContext(ctx).
		Where("rrn = ? AND stan = ?", rrn, stan).
		Order("created_at DESC").
		First(&w).Error
	if err != nil {
		return nil, convertNotFound(err)
	}
	return w.toRecord(), nil
}

func (r *Repository) FindByRrnStanTerminal(ctx context.Context, rrn, stan, terminalID string) (*transaction.Record, error) {
	var w row
	err := r.db.WithContext(ctx).
		Where("rrn = ? AND stan = ? AND terminal_id = ?", rrn, stan, terminalID).
		Order("created_at DESC").
		First(&w).Error
	if err != nil {
		return nil, convertNotFound(err)
	}
	return w.toRecord(), nil
}

func (r *Repository) FindByMaskedPanAndDateRange(ctx context.Context, maskedPAN string, from, to time.Time) ([]*transaction.Record, error) {
	return r.list(ctx, r.db.
		Where("masked_pan = ? AND transaction_at >= ? AND transaction_at < ?", maskedPAN, from, to))
}

func (r *Repository) FindByTerminalIDAndDateRange(ctx context.Context, terminalID string, from, to time.Time) ([]*transaction.Record, error) {
	return r.list(ctx, r.db.
		Where("terminal_id = ? AND transaction_at >= ? AND transaction_at < ?", terminalID, from, to))
}

func (r *Repository) FindByStatus(ctx context.Context, status transaction.Status) ([]*transaction.Record, error) {
	return r.list(ctx, r.db.Where("status = ?", string(status)))
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status transaction.Status) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w row
		if err := tx.Where("transaction_id = ?", id).First(&w).Error; err != nil {
			return convertNotFound(err)
		}
		current := transaction.Status(w.Status)
		if !current.CanTransitionTo(status) {
			return &transaction.IllegalTransitionError{TransactionID: id, From: current, To: status}
		}
		return tx.Model(&row{}).
			Where("transaction_id = ?", id).
			Updates(map[string]any{"status": string(status), "updated_at": time.Now()}).Error
	})
}

func (r *Repository) UpdateResponse(ctx context.Context, id, responseCode, authCode string, respondedAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w row
		if err := tx.Where("transaction_id = ?", id).First(&w).Error; err != nil {
			return convertNotFound(err)
		}
		updates := map[string]any{
			"response_code": responseCode,
			"auth_code":     authCode,
			"responded_at":  respondedAt,
			"updated_at":    time.Now(),
		}
		if !w.RequestedAt.IsZero() {
			updates["processing_time_ms"] = respondedAt.Sub(w.RequestedAt).Milliseconds()
		}
		return tx.Model(&row{}).Where("transaction_id = ?", id).Updates(updates).Error
	})
}

func (r *Repository) ExistsByTransactionID(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&row{}).
		Where("transaction_id = ?", id).
		Count(&n).Error
	return n > 0, err
}

func (r *Repository) IsDuplicate(ctx context.Context, rrn, stan, terminalID string, window time.Duration) (bool, error) {
	var n int64
	cutoff := time.Now().Add(-window)
	err := r.db.WithContext(ctx).Model(&row{}).
		Where("rrn = ? AND stan = ? AND terminal_id = ? AND created_at > ?", rrn, stan, terminalID, cutoff).
		Count(&n).Error
	return n > 0, err
}

func (r *Repository) CountByStatusAndDate(ctx context.Context, status transaction.Status, date string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&row{}).
		Where("status = ? AND transaction_date = ?", string(status), date).
		Count(&n).Error
	return n, err
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
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w row
		if err := tx.Where("transaction_id = ?", id).First(&w).Error; err != nil {
			return convertNotFound(err)
		}
		if !transaction.Status(w.Status).IsReversible() {
			return transaction.ErrNotReversible
		}
		return tx.Model(&row{}).
			Where("transaction_id = ?", id).
			Updates(map[string]any{"status": string(transaction.StatusReversed), "updated_at": time.Now()}).Error
	})
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repository) list(ctx context.Context, q *gorm.DB) ([]*transaction.Record, error) {
	var rows []row
	if err := q.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*transaction.Record, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

func convertNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return transaction.ErrNotFound
	}
	return err
}
