package config

import (
	"fmt"
)

// Validate checks the configuration for invalid or inconsistent values.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.WSPort < 0 || cfg.Server.WSPort > 65535 {
		return fmt.Errorf("server.ws_port must be between 0 and 65535, got %d", cfg.Server.WSPort)
	}

	if cfg.Session.StuckAfterSeconds <= 0 {
		return fmt.Errorf("session.stuck_after_seconds must be positive, got %d", cfg.Session.StuckAfterSeconds)
	}
	if cfg.Session.HeartbeatIntervalMS <= 0 {
		return fmt.Errorf("session.heartbeat_interval_ms must be positive, got %d", cfg.Session.HeartbeatIntervalMS)
	}

	if cfg.Command.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("command.default_timeout_seconds must be positive, got %d", cfg.Command.DefaultTimeoutSeconds)
	}
	if cfg.Command.ResponseWaitSeconds <= 0 {
		return fmt.Errorf("command.response_wait_seconds must be positive, got %d", cfg.Command.ResponseWaitSeconds)
	}
	if cfg.Command.PollIntervalMS <= 0 {
		return fmt.Errorf("command.poll_interval_ms must be positive, got %d", cfg.Command.PollIntervalMS)
	}

	if cfg.Feedback.ReconnectBackoffSeconds <= 0 {
		return fmt.Errorf("feedback.reconnect_backoff_seconds must be positive, got %d", cfg.Feedback.ReconnectBackoffSeconds)
	}
	if cfg.Feedback.KeepAliveSeconds <= 0 {
		return fmt.Errorf("feedback.keepalive_seconds must be positive, got %d", cfg.Feedback.KeepAliveSeconds)
	}

	if cfg.Escalation.CriticalStuckSeconds <= cfg.Escalation.StuckMockSeconds {
		return fmt.Errorf("escalation.critical_stuck_seconds (%d) must exceed escalation.stuck_mock_seconds (%d)",
			cfg.Escalation.CriticalStuckSeconds, cfg.Escalation.StuckMockSeconds)
	}
	if cfg.Escalation.MaxUnblockAttempts <= 0 {
		return fmt.Errorf("escalation.max_unblock_attempts must be positive, got %d", cfg.Escalation.MaxUnblockAttempts)
	}

	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}

	return nil
}
