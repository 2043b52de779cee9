package config

import "strings"

const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppLogFormat       = "text"
	defaultStoreDBPath        = "data/automoney.db"
	defaultDecisionLogPath    = "data/decisions.db"
	defaultValuationInterval  = "5m"
	defaultSnapshotInterval   = "1h"
	defaultBreakerThreshold   = 3
	defaultBreakerCooldown    = 600
	defaultAnalystTimeout     = 300
	defaultAnalystRetries     = 3
	defaultAnalystBackoffMS   = 1000
	defaultAnalystMaxBackoff  = 30
	defaultAnalystBurst       = 1
	defaultMarketSource       = "binance"
	defaultMarketInterval     = "1h"
	defaultMarketLookback     = 120
	defaultMarketOIPeriod     = "1h"
	defaultMarketConcurrency  = 4
	defaultFallbackSentiment  = 50
	defaultBinanceHTTPTimeout = 15
	defaultTemplatesPath      = "configs/templates.yaml"
)

// applyDefaults fills every field the files left unset. Keys present in a
// file are respected even when their value is zero.
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Analysts.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	applyFieldDefaults(keys,
		stringFieldDefault("templates.path", &c.Templates.Path, defaultTemplatesPath),
	)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.db_path", &s.DBPath, defaultStoreDBPath),
		stringFieldDefault("store.decision_log_path", &s.DecisionLogPath, defaultDecisionLogPath),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("scheduler.valuation_interval", &s.ValuationInterval, defaultValuationInterval),
		stringFieldDefault("scheduler.snapshot_interval", &s.SnapshotInterval, defaultSnapshotInterval),
		intFieldDefault("scheduler.breaker_threshold", &s.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("scheduler.breaker_cooldown_seconds", &s.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
}

func (a *AnalystsConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("analysts.timeout_seconds", &a.TimeoutSeconds, defaultAnalystTimeout),
		// max_retries: 0 is a valid explicit choice.
		fieldDefault{
			key:   "analysts.max_retries",
			need:  func() bool { return a.MaxRetries == 0 },
			apply: func() { a.MaxRetries = defaultAnalystRetries },
		},
		intFieldDefault("analysts.base_backoff_ms", &a.BaseBackoffMillis, defaultAnalystBackoffMS),
		intFieldDefault("analysts.max_backoff_seconds", &a.MaxBackoffSeconds, defaultAnalystMaxBackoff),
		intFieldDefault("analysts.burst", &a.Burst, defaultAnalystBurst),
	)
	for i := range a.HTTP {
		h := &a.HTTP[i]
		h.ID = strings.TrimSpace(h.ID)
		h.Kind = strings.ToLower(strings.TrimSpace(h.Kind))
		h.URL = strings.TrimSpace(h.URL)
	}
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		stringFieldDefault("market.interval", &m.Interval, defaultMarketInterval),
		intFieldDefault("market.lookback", &m.Lookback, defaultMarketLookback),
		stringFieldDefault("market.oi_period", &m.OIPeriod, defaultMarketOIPeriod),
		intFieldDefault("market.max_concurrent", &m.MaxConcurrent, defaultMarketConcurrency),
		fieldDefault{
			key:   "market.fallback_sentiment",
			need:  func() bool { return m.FallbackSentiment <= 0 },
			apply: func() { m.FallbackSentiment = defaultFallbackSentiment },
		},
		intFieldDefault("market.binance.http_timeout_seconds", &m.Binance.HTTPTimeoutSeconds, defaultBinanceHTTPTimeout),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
