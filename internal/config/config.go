// Package config handles configuration management for ralphctl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Session    SessionConfig    `mapstructure:"session"`
	Command    CommandConfig    `mapstructure:"command"`
	Feedback   FeedbackConfig   `mapstructure:"feedback"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP/WebSocket server configuration. Port serves the
// control REST API; WSPort serves the duplex feedback channel.
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	WSPort int    `mapstructure:"ws_port"`
}

// SessionConfig holds per-session coordination resource paths and liveness
// thresholds. StateDir is the shared directory the agent and its supervisors
// coordinate through (heartbeat file, lock file, command/response artifacts).
type SessionConfig struct {
	StateDir            string `mapstructure:"state_dir"`
	HeartbeatFile       string `mapstructure:"heartbeat_file"`
	LockFile            string `mapstructure:"lock_file"`
	StuckAfterSeconds   int    `mapstructure:"stuck_after_seconds"`
	HeartbeatIntervalMS int    `mapstructure:"heartbeat_interval_ms"`
}

// CommandConfig holds command channel configuration.
type CommandConfig struct {
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds"`
	ResponseWaitSeconds   int `mapstructure:"response_wait_seconds"`
	PollIntervalMS        int `mapstructure:"poll_interval_ms"`
}

// FeedbackConfig holds feedback channel configuration.
type FeedbackConfig struct {
	DefaultTimeoutSeconds   int `mapstructure:"default_timeout_seconds"`
	ReconnectBackoffSeconds int `mapstructure:"reconnect_backoff_seconds"`
	KeepAliveSeconds        int `mapstructure:"keepalive_seconds"`
}

// EscalationConfig holds escalation engine thresholds. Operators tune these
// rather than editing code.
type EscalationConfig struct {
	StuckMockSeconds     int    `mapstructure:"stuck_mock_seconds"`
	CriticalStuckSeconds int    `mapstructure:"critical_stuck_seconds"`
	MaxUnblockAttempts   int    `mapstructure:"max_unblock_attempts"`
	RulesFile            string `mapstructure:"rules_file"`
}

// AuditConfig holds audit log store configuration.
type AuditConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default search paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ralphctl")
		v.AddConfigPath("/etc/ralphctl")
	}

	// Environment variable prefix
	v.SetEnvPrefix("RALPHCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file (optional - not an error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyPathDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8790)
	v.SetDefault("server.ws_port", 8791)

	// Session coordination
	v.SetDefault("session.state_dir", ".ralph")
	v.SetDefault("session.stuck_after_seconds", 300)
	v.SetDefault("session.heartbeat_interval_ms", 5000)

	// Command channel
	v.SetDefault("command.default_timeout_seconds", 30)
	v.SetDefault("command.response_wait_seconds", 30)
	v.SetDefault("command.poll_interval_ms", 1000)

	// Feedback channel
	v.SetDefault("feedback.default_timeout_seconds", 300)
	v.SetDefault("feedback.reconnect_backoff_seconds", 3)
	v.SetDefault("feedback.keepalive_seconds", 30)

	// Escalation thresholds
	v.SetDefault("escalation.stuck_mock_seconds", 1800)
	v.SetDefault("escalation.critical_stuck_seconds", 3600)
	v.SetDefault("escalation.max_unblock_attempts", 3)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// applyPathDefaults derives file paths from the state dir when not set
// explicitly.
func applyPathDefaults(cfg *Config) {
	if cfg.Session.StateDir == "" {
		cfg.Session.StateDir = ".ralph"
	}
	if cfg.Session.HeartbeatFile == "" {
		cfg.Session.HeartbeatFile = filepath.Join(cfg.Session.StateDir, "heartbeat.json")
	}
	if cfg.Session.LockFile == "" {
		cfg.Session.LockFile = filepath.Join(cfg.Session.StateDir, "helper.lock")
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = filepath.Join(cfg.Session.StateDir, "audit.db")
	}
}

// EnsureStateDir creates the session state directory if it does not exist.
func EnsureStateDir(cfg *Config) error {
	if err := os.MkdirAll(cfg.Session.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir %s: %w", cfg.Session.StateDir, err)
	}
	return nil
}
