package config

import (
	"strings"
	"time"

	"automoney/internal/strategy"
)

// Config is the process configuration. Strategy templates live in their own
// file (Templates.Path) so they can be reloaded without a restart.
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Analysts  AnalystsConfig  `toml:"analysts"`
	Market    MarketConfig    `toml:"market"`
	// Decision holds the global defaults of every decision option; templates
	// and instance overrides layer on top.
	Decision  strategy.Params `toml:"decision"`
	Templates TemplatesConfig `toml:"templates"`
}

type AppConfig struct {
	Env         string `toml:"env"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
	LogPath     string `toml:"log_path"`
	MetricsAddr string `toml:"metrics_addr"`
}

type StoreConfig struct {
	DBPath          string `toml:"db_path"`
	DecisionLogPath string `toml:"decision_log_path"`
}

type SchedulerConfig struct {
	ValuationInterval      string `toml:"valuation_interval"`
	SnapshotInterval       string `toml:"snapshot_interval"`
	BreakerThreshold       int    `toml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
}

func (s SchedulerConfig) BreakerCooldown() time.Duration {
	return time.Duration(s.BreakerCooldownSeconds) * time.Second
}

type AnalystsConfig struct {
	TimeoutSeconds    int                 `toml:"timeout_seconds"`
	MaxRetries        int                 `toml:"max_retries"`
	BaseBackoffMillis int                 `toml:"base_backoff_ms"`
	MaxBackoffSeconds int                 `toml:"max_backoff_seconds"`
	RatePerMinute     float64             `toml:"rate_per_minute"`
	Burst             int                 `toml:"burst"`
	HTTP              []HTTPAnalystConfig `toml:"http"`
}

func (a AnalystsConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (a AnalystsConfig) BaseBackoff() time.Duration {
	return time.Duration(a.BaseBackoffMillis) * time.Millisecond
}

func (a AnalystsConfig) MaxBackoff() time.Duration {
	return time.Duration(a.MaxBackoffSeconds) * time.Second
}

// FindHTTP returns the remote analyst with the given id.
func (a AnalystsConfig) FindHTTP(id string) (HTTPAnalystConfig, bool) {
	id = strings.TrimSpace(id)
	for _, h := range a.HTTP {
		if h.ID == id {
			return h, true
		}
	}
	return HTTPAnalystConfig{}, false
}

// HTTPAnalystConfig is a remote analyst endpoint that templates refer to by id.
type HTTPAnalystConfig struct {
	ID      string            `toml:"id"`
	Kind    string            `toml:"kind"`
	URL     string            `toml:"url"`
	Headers map[string]string `toml:"headers"`
	Assets  []string          `toml:"assets"`
}

type MarketConfig struct {
	Source                 string        `toml:"source"`
	Binance                BinanceConfig `toml:"binance"`
	FearGreedEndpoint      string        `toml:"fear_greed_endpoint"`
	Interval               string        `toml:"interval"`
	Lookback               int           `toml:"lookback"`
	OIPeriod               string        `toml:"oi_period"`
	MaxConcurrent          int           `toml:"max_concurrent"`
	AllowSentimentFallback bool          `toml:"allow_sentiment_fallback"`
	FallbackSentiment      float64       `toml:"fallback_sentiment"`
}

type BinanceConfig struct {
	RESTBaseURL        string `toml:"rest_base_url"`
	SpotBaseURL        string `toml:"spot_base_url"`
	QuoteAsset         string `toml:"quote_asset"`
	DollarProxySymbol  string `toml:"dollar_proxy_symbol"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	ProxyEnabled       bool   `toml:"proxy_enabled"`
	RESTProxyURL       string `toml:"rest_proxy_url"`
}

type TemplatesConfig struct {
	Path string `toml:"path"`
}

// keySet tracks which dotted keys the config files set explicitly, so an
// explicit zero is not replaced by a default.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
