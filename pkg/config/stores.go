package config

import (
	"fmt"

	"github.com/nexuspay/fepgate/pkg/store/transaction"
	badgerstore "github.com/nexuspay/fepgate/pkg/store/transaction/badger"
	gormstore "github.com/nexuspay/fepgate/pkg/store/transaction/gorm"
	"github.com/nexuspay/fepgate/pkg/store/transaction/memory"
)

// StoreConfig selects and configures the transaction audit repository.
type StoreConfig struct {
	// Type selects the backend.
	// Valid values: memory, database, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory database badger" yaml:"type"`

	// Database configures the SQL backend (SQLite or PostgreSQL); only used
	// when Type is "database".
	Database gormstore.Config `mapstructure:"database" yaml:"database,omitempty"`

	// Badger configures the embedded key-value backend; only used when Type
	// is "badger".
	Badger badgerstore.Config `mapstructure:"badger" yaml:"badger,omitempty"`
}

// CreateRepository builds the configured transaction repository.
func CreateRepository(cfg StoreConfig) (transaction.Repository, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.NewRepository(), nil
	case "database":
		repo, err := gormstore.NewRepository(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open transaction database: %w", err)
		}
		return repo, nil
	case "badger":
		repo, err := badgerstore.NewRepository(cfg.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger transaction store: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}
