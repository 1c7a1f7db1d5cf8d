package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind: %w", err)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.ThrottleMS < 0 {
		return errors.New("storage.throttle_ms must be zero or positive")
	}
	if c.Storage.IdleTimeoutMS < 0 {
		return errors.New("storage.idle_timeout_ms must be zero or positive")
	}
	if c.Storage.LargePayloadWarnBytes < 0 {
		return errors.New("storage.large_payload_warn_bytes must be zero or positive")
	}
	if c.Storage.QuotaBytes < 0 {
		return errors.New("storage.quota_bytes must be zero (unlimited) or positive")
	}
	return nil
}

func (c *Config) validateHistory() error {
	if c.History.MaxEntries < 1 {
		return errors.New("history.max_entries must be at least 1")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (want console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
