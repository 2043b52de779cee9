package config

import (
	"fmt"
	"strings"

	"automoney/internal/scheduler"
	"automoney/internal/types"
)

// validate checks the merged configuration after defaults.
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Analysts.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Decision.Validate(); err != nil {
		return fmt.Errorf("decision: %w", err)
	}
	if strings.TrimSpace(c.Templates.Path) == "" {
		return fmt.Errorf("templates.path cannot be empty")
	}
	return nil
}

func (a AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level %q is not one of debug/info/warn/error", a.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(a.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format %q must be text or json", a.LogFormat)
	}
	return nil
}

func (s StoreConfig) validate() error {
	if strings.TrimSpace(s.DBPath) == "" {
		return fmt.Errorf("store.db_path cannot be empty")
	}
	if strings.TrimSpace(s.DecisionLogPath) == "" {
		return fmt.Errorf("store.decision_log_path cannot be empty")
	}
	return nil
}

func (s SchedulerConfig) validate() error {
	if _, err := scheduler.ParseCadence(s.ValuationInterval); err != nil {
		return fmt.Errorf("scheduler.valuation_interval: %w", err)
	}
	if _, err := scheduler.ParseCadence(s.SnapshotInterval); err != nil {
		return fmt.Errorf("scheduler.snapshot_interval: %w", err)
	}
	if s.BreakerThreshold <= 0 {
		return fmt.Errorf("scheduler.breaker_threshold must be > 0")
	}
	if s.BreakerCooldownSeconds < 0 {
		return fmt.Errorf("scheduler.breaker_cooldown_seconds must be >= 0")
	}
	return nil
}

func (a AnalystsConfig) validate() error {
	if a.TimeoutSeconds <= 0 {
		return fmt.Errorf("analysts.timeout_seconds must be > 0")
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("analysts.max_retries must be >= 0")
	}
	if a.RatePerMinute < 0 {
		return fmt.Errorf("analysts.rate_per_minute must be >= 0")
	}
	seen := make(map[string]bool, len(a.HTTP))
	for i, h := range a.HTTP {
		if h.ID == "" {
			return fmt.Errorf("analysts.http[%d] missing id", i)
		}
		if seen[h.ID] {
			return fmt.Errorf("analysts.http contains duplicate id %s", h.ID)
		}
		seen[h.ID] = true
		if _, ok := types.ParseAnalystKind(h.Kind); !ok {
			return fmt.Errorf("analysts.http.%s has unknown kind %q", h.ID, h.Kind)
		}
		if !strings.HasPrefix(h.URL, "http://") && !strings.HasPrefix(h.URL, "https://") {
			return fmt.Errorf("analysts.http.%s url must be http(s)", h.ID)
		}
	}
	return nil
}

func (m MarketConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(m.Source)) {
	case "binance", "binance-futures":
	default:
		return fmt.Errorf("market.source %q is not supported", m.Source)
	}
	if _, ok := scheduler.ParseIntervalDuration(m.Interval); !ok {
		return fmt.Errorf("market.interval %q is not a candle interval", m.Interval)
	}
	if m.Lookback <= 0 {
		return fmt.Errorf("market.lookback must be > 0")
	}
	if m.FallbackSentiment < 0 || m.FallbackSentiment > 100 {
		return fmt.Errorf("market.fallback_sentiment must be within [0,100]")
	}
	return nil
}
