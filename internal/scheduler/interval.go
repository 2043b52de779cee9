package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration parses candle-style intervals "30s", "15m", "1h",
// "4h", "1d", "1w". Returns (0, false) on invalid input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if len(interval) < 2 {
		return 0, false
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(strings.TrimSpace(interval[:len(interval)-1]))
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// ParseCadence accepts a candle-style interval or any Go duration string
// such as "1h30m". Cadences under one second are rejected.
func ParseCadence(raw string) (time.Duration, error) {
	if d, ok := ParseIntervalDuration(raw); ok {
		return d, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid cadence %q", raw)
	}
	if d < time.Second {
		return 0, fmt.Errorf("cadence %q below 1s", raw)
	}
	return d, nil
}
