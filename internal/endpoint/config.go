package endpoint

import (
	"fmt"
	"time"

	"github.com/nexuspay/fepgate/internal/iso8583"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultResponseTimeout   = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSignOffTimeout    = 10 * time.Second
	DefaultRetryDelay        = 5 * time.Second
	DefaultMaxRetries        = 3
)

// Config is the resolved connection profile of one channel.
type Config struct {
	ChannelID     string `mapstructure:"channel_id" validate:"required" yaml:"channel_id"`
	InstitutionID string `mapstructure:"institution_id" yaml:"institution_id,omitempty"`

	Host string `mapstructure:"host" yaml:"host,omitempty"`

	// Dual-channel port pair. SendPort carries peer requests inbound;
	// ReceivePort carries gateway responses outbound.
	SendPort    int `mapstructure:"send_port" yaml:"send_port,omitempty"`
	ReceivePort int `mapstructure:"receive_port" yaml:"receive_port,omitempty"`

	// UnifiedPort carries both directions on one socket.
	UnifiedPort int `mapstructure:"unified_port" yaml:"unified_port,omitempty"`

	// ServerMode listens for the peer instead of dialing it.
	ServerMode  bool `mapstructure:"server_mode" yaml:"server_mode"`
	DualChannel bool `mapstructure:"dual_channel" yaml:"dual_channel"`

	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout,omitempty"`
	ResponseTimeout   time.Duration `mapstructure:"response_timeout" yaml:"response_timeout,omitempty"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval,omitempty"`
	SignOffTimeout    time.Duration `mapstructure:"sign_off_timeout" yaml:"sign_off_timeout,omitempty"`

	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay,omitempty"`
	AutoReconnect bool          `mapstructure:"auto_reconnect" yaml:"auto_reconnect"`

	// SignOn makes client endpoints issue 0800/001 after connecting and
	// report SIGNED_ON only on acknowledgement.
	SignOn bool `mapstructure:"sign_on" yaml:"sign_on"`

	Framing iso8583.FrameConfig `mapstructure:"framing" yaml:"framing,omitempty"`
}

// ApplyDefaults fills unset durations and retry settings.
func (c *Config) ApplyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.SignOffTimeout == 0 {
		c.SignOffTimeout = DefaultSignOffTimeout
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Framing.HeaderSize == 0 {
		c.Framing = iso8583.DefaultFrameConfig()
	}
}

// Validate checks port consistency for the selected mode.
func (c *Config) Validate() error {
	if c.ChannelID == "" {
		return fmt.Errorf("channel_id is required")
	}
	if c.DualChannel {
		if c.SendPort == 0 || c.ReceivePort == 0 {
			return fmt.Errorf("channel %s: dual_channel requires send_port and receive_port", c.ChannelID)
		}
		if c.SendPort == c.ReceivePort {
			return fmt.Errorf("channel %s: send_port and receive_port must differ", c.ChannelID)
		}
	} else if c.UnifiedPort == 0 {
		return fmt.Errorf("channel %s: unified_port is required outside dual_channel mode", c.ChannelID)
	}
	if !c.ServerMode && c.Host == "" {
		return fmt.Errorf("channel %s: client endpoints need a host", c.ChannelID)
	}
	return nil
}

// EffectiveReceivePort returns the port responses travel on.
func (c *Config) EffectiveReceivePort() int {
	if c.DualChannel {
		return c.ReceivePort
	}
	return c.UnifiedPort
}
