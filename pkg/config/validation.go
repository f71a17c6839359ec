package config

import (
	"encoding/hex"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural and semantic errors.
//
// Structural checks (struct tags) run first via the validator library; the
// semantic checks that tags cannot express follow: channel port consistency,
// PAN key shape, and store backend requirements.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid value for %s: failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if err := validateSecurity(&cfg.Security); err != nil {
		return err
	}
	if err := validateStore(&cfg.Store); err != nil {
		return err
	}
	return validateChannels(cfg)
}

func validateSecurity(cfg *SecurityConfig) error {
	if cfg.PANKey == "" {
		return nil
	}
	key, err := hex.DecodeString(cfg.PANKey)
	if err != nil {
		return fmt.Errorf("security.pan_key is not valid hex: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return nil
	}
	return fmt.Errorf("security.pan_key must decode to 16, 24, or 32 bytes, got %d", len(key))
}

func validateStore(cfg *StoreConfig) error {
	switch cfg.Type {
	case "database":
		return cfg.Database.Validate()
	case "badger":
		if cfg.Badger.Dir == "" && !cfg.Badger.InMemory {
			return fmt.Errorf("store.badger requires dir unless in_memory is set")
		}
	}
	return nil
}

func validateChannels(cfg *Config) error {
	for id, spec := range cfg.Channels {
		if spec.ChannelID != id {
			return fmt.Errorf("channel %q: channel_id %q does not match its map key", id, spec.ChannelID)
		}
		if !spec.Active {
			continue
		}
		if err := spec.Config.Validate(); err != nil {
			return err
		}
	}
	return nil
}
