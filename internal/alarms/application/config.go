package application

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds engine tuning defaults. Values come from the optional YAML
// file pointed at by ALARM_ENGINE_CONFIG, with env-style defaults otherwise.
type Config struct {
	CacheTTLSeconds     int    `yaml:"cache_ttl_seconds"`
	QueryTimeoutSeconds int    `yaml:"query_timeout_seconds"`
	SweepIntervalSecs   int    `yaml:"sweep_interval_seconds"`
	WebhookURL          string `yaml:"webhook_url"`
	NotifyTemplate      string `yaml:"notify_template"`
	NotifyCooldown      string `yaml:"notify_cooldown"`
	NotifyDedupeWindow  string `yaml:"notify_dedupe_window"`
}

// LoadConfig loads engine configuration from yaml or defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		CacheTTLSeconds:     300,
		QueryTimeoutSeconds: 3,
		SweepIntervalSecs:   60,
		WebhookURL:          os.Getenv("ALARM_WEBHOOK_URL"),
		NotifyTemplate:      os.Getenv("ALARM_NOTIFY_TEMPLATE"),
	}

	if path := os.Getenv("ALARM_ENGINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// CacheTTL returns the rule cache TTL.
func (c Config) CacheTTL() time.Duration {
	if c.CacheTTLSeconds > 0 {
		return time.Duration(c.CacheTTLSeconds) * time.Second
	}
	return 5 * time.Minute
}

// QueryTimeout returns the statistics query timeout.
func (c Config) QueryTimeout() time.Duration {
	if c.QueryTimeoutSeconds > 0 {
		return time.Duration(c.QueryTimeoutSeconds) * time.Second
	}
	return 3 * time.Second
}

// SweepInterval returns the escalation sweep interval.
func (c Config) SweepInterval() time.Duration {
	if c.SweepIntervalSecs > 0 {
		return time.Duration(c.SweepIntervalSecs) * time.Second
	}
	return time.Minute
}

// Cooldown parses the notification cooldown, zero when unset.
func (c Config) Cooldown() time.Duration {
	return parseOptionalDuration(c.NotifyCooldown)
}

// DedupeWindow parses the notification dedupe window, zero when unset.
func (c Config) DedupeWindow() time.Duration {
	return parseOptionalDuration(c.NotifyDedupeWindow)
}

func parseOptionalDuration(value string) time.Duration {
	if value == "" {
		return 0
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
