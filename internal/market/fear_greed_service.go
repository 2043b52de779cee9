package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"automoney/internal/logger"
)

const (
	DefaultFearGreedEndpoint = "https://api.alternative.me/fng/?limit=1"

	fearGreedRetryAfter = 2 * time.Minute
	fearGreedRefresh    = 12 * time.Hour
	fearGreedMaxAge     = 48 * time.Hour
)

// FearGreedReading is one published index value.
type FearGreedReading struct {
	Value          float64
	Classification string
	PublishedAt    time.Time
	FetchedAt      time.Time
}

// FearGreedService caches the alternative.me style fear & greed index until
// the publisher's next update. Concurrent callers share one fetch.
type FearGreedService struct {
	endpoint string
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	reading  FearGreedReading
	hasValue bool
	refetch  time.Time
	lastErr  error
	log      *logger.Entry
}

// NewFearGreedService polls endpoint, or the alternative.me index when empty.
func NewFearGreedService(endpoint string, client *http.Client) *FearGreedService {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultFearGreedEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &FearGreedService{
		endpoint: endpoint,
		client:   client,
		now:      time.Now,
		log:      logger.Named("fear_greed"),
	}
}

var _ SentimentSource = (*FearGreedService)(nil)

// SetClock is for tests.
func (s *FearGreedService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Sentiment returns the cached index, fetching when the cache is due. A
// value older than two days or a missing first value is an error, never a
// guess.
func (s *FearGreedService) Sentiment(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.hasValue || !now.Before(s.refetch) {
		if err := s.fetchLocked(ctx, now); err != nil {
			s.lastErr = err
			s.refetch = now.Add(fearGreedRetryAfter)
			s.log.Warnf("refresh failed: %v", err)
		}
	}
	if !s.hasValue {
		return 0, fmt.Errorf("fear & greed index unavailable: %w", s.lastErr)
	}
	if !s.reading.PublishedAt.IsZero() && now.Sub(s.reading.PublishedAt) > fearGreedMaxAge {
		return 0, fmt.Errorf("fear & greed index stale since %s", s.reading.PublishedAt.Format(time.RFC3339))
	}
	return s.reading.Value, nil
}

// Latest returns the cached reading without fetching.
func (s *FearGreedService) Latest() (FearGreedReading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading, s.hasValue
}

func (s *FearGreedService) fetchLocked(ctx context.Context, now time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	reading, until, err := parseFearGreed(body)
	if err != nil {
		return err
	}
	reading.FetchedAt = now
	s.reading = reading
	s.hasValue = true
	s.lastErr = nil
	if until <= 0 {
		until = fearGreedRefresh
	}
	s.refetch = now.Add(until)
	return nil
}

// parseFearGreed reads the newest entry of an alternative.me payload, where
// numbers arrive as strings.
func parseFearGreed(body []byte) (FearGreedReading, time.Duration, error) {
	if !gjson.ValidBytes(body) {
		return FearGreedReading{}, 0, fmt.Errorf("fear & greed payload is not json")
	}
	doc := gjson.ParseBytes(body)
	if e := doc.Get("metadata.error"); e.Exists() && e.Type != gjson.Null {
		return FearGreedReading{}, 0, fmt.Errorf("api error: %s", e.String())
	}
	first := doc.Get("data.0")
	if !first.Exists() {
		return FearGreedReading{}, 0, fmt.Errorf("api data empty")
	}
	raw := first.Get("value")
	value := raw.Float()
	if !raw.Exists() || (value == 0 && strings.TrimSpace(raw.String()) != "0") || value < 0 || value > 100 {
		return FearGreedReading{}, 0, fmt.Errorf("api value %q invalid", raw.String())
	}
	reading := FearGreedReading{
		Value:          value,
		Classification: strings.TrimSpace(first.Get("value_classification").String()),
	}
	if ts := first.Get("timestamp").Int(); ts > 0 {
		reading.PublishedAt = time.Unix(ts, 0).UTC()
	}
	until := time.Duration(first.Get("time_until_update").Int()) * time.Second
	return reading, until, nil
}
