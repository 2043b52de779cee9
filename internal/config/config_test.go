package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "text", cfg.App.LogFormat)
	assert.Equal(t, "data/automoney.db", cfg.Store.DBPath)
	assert.Equal(t, 3, cfg.Analysts.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Analysts.Timeout())
	assert.Equal(t, time.Second, cfg.Analysts.BaseBackoff())
	assert.Equal(t, "5m", cfg.Scheduler.ValuationInterval)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.BreakerCooldown())
	assert.Equal(t, 50.0, cfg.Market.FallbackSentiment)
	assert.Equal(t, "binance", cfg.Market.Source)
	assert.Equal(t, filepath.Join(dir, "configs/templates.yaml"), cfg.Templates.Path)
	assert.Equal(t, 30, cfg.Decision.ConsecutiveSignalThreshold)
	assert.Equal(t, 50.0, cfg.Decision.BuyThreshold)
}

func TestLoadRespectsExplicitZero(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "analysts:\n  max_retries: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Analysts.MaxRetries)
}

func TestLoadMergesIncludesAndDecisionOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
store:
  db_path: /tmp/base.db
decision:
  buy_threshold: 60
  consecutive_signal_threshold: 10
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
store:
  db_path: /tmp/main.db
templates:
  path: /etc/automoney/templates.yaml
analysts:
  http:
    - id: macro-llm
      kind: Macro
      url: https://analyst.local/macro
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/main.db", cfg.Store.DBPath)
	assert.Equal(t, 60.0, cfg.Decision.BuyThreshold)
	assert.Equal(t, 10, cfg.Decision.ConsecutiveSignalThreshold)
	assert.Equal(t, 45.0, cfg.Decision.FullSellThreshold)
	assert.Equal(t, "/etc/automoney/templates.yaml", cfg.Templates.Path)
	h, ok := cfg.Analysts.FindHTTP("macro-llm")
	require.True(t, ok)
	assert.Equal(t, "macro", h.Kind)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"log level":      "app:\n  log_level: loud\n",
		"cadence":        "scheduler:\n  valuation_interval: soon\n",
		"negative retry": "analysts:\n  max_retries: -1\n",
		"http kind":      "analysts:\n  http:\n    - id: x\n      kind: astrology\n      url: https://x\n",
		"http url":       "analysts:\n  http:\n    - id: x\n      kind: macro\n      url: ftp://x\n",
		"duplicate http": "analysts:\n  http:\n    - {id: x, kind: macro, url: 'https://a'}\n    - {id: x, kind: macro, url: 'https://b'}\n",
		"decision":       "decision:\n  min_position_pct: 0.5\n  max_position_pct: 0.1\n",
		"sentiment":      "market:\n  fallback_sentiment: 140\n",
		"market source":  "market:\n  source: kraken\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}
