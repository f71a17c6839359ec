package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuspay/fepgate/internal/connmgr"
	"github.com/nexuspay/fepgate/internal/endpoint"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Channels = map[string]connmgr.ChannelSpec{
		"fisc-primary": serverSpec("fisc-primary", 8583),
	}
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
	assert.Error(t, Validate(nil))
}

func TestValidateRejectsBadShutdownTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.ShutdownTimeout = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ShutdownTimeout")
}

func TestValidateRejectsUnknownStoreType(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Type = "cassandra"
	assert.Error(t, Validate(cfg))
}

func TestValidatePANKey(t *testing.T) {
	cfg := validConfig()

	cfg.Security.PANKey = "not-hex"
	assert.Error(t, Validate(cfg))

	cfg.Security.PANKey = "abcd" // 2 bytes
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "16, 24, or 32 bytes")

	cfg.Security.PANKey = "000102030405060708090a0b0c0d0e0f"
	assert.NoError(t, Validate(cfg))
}

func TestValidateChannelKeyMismatch(t *testing.T) {
	cfg := validConfig()
	cfg.Channels["fisc-standby"] = serverSpec("wrong-id", 8590)
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match its map key")
}

func TestValidateDualChannelPorts(t *testing.T) {
	cfg := validConfig()
	cfg.Channels["fisc-dual"] = connmgr.ChannelSpec{
		Active: true,
		Config: endpoint.Config{
			ChannelID:   "fisc-dual",
			ServerMode:  true,
			DualChannel: true,
			SendPort:    8583,
			ReceivePort: 8583,
		},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestValidateSkipsInactiveChannels(t *testing.T) {
	cfg := validConfig()
	// Inactive spec with no ports at all: only the key match is enforced.
	cfg.Channels["parked"] = connmgr.ChannelSpec{
		Config: endpoint.Config{ChannelID: "parked"},
	}
	assert.NoError(t, Validate(cfg))
}

func TestValidateBadgerStoreNeedsDir(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Type = "badger"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires dir")

	cfg.Store.Badger.InMemory = true
	assert.NoError(t, Validate(cfg))
}
