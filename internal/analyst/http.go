package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"automoney/internal/types"
)

const maxResponseBytes = 1 << 20

// HTTPConfig describes a remote analyst endpoint.
type HTTPConfig struct {
	ID      string
	Kind    types.AnalystKind
	URL     string
	Headers map[string]string
	Assets  []string
}

// HTTPCollaborator posts the market snapshot as JSON and parses the reply.
type HTTPCollaborator struct {
	cfg    HTTPConfig
	client *http.Client
}

var _ Collaborator = (*HTTPCollaborator)(nil)

// NewHTTPCollaborator validates cfg. A nil client gets a plain http.Client;
// the invoker's context deadline bounds each call.
func NewHTTPCollaborator(cfg HTTPConfig, client *http.Client) (*HTTPCollaborator, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("http analyst id is required")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("http analyst %s: url %q must be http(s)", cfg.ID, cfg.URL)
	}
	if _, ok := types.ParseAnalystKind(string(cfg.Kind)); !ok {
		return nil, fmt.Errorf("http analyst %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPCollaborator{cfg: cfg, client: client}, nil
}

func (h *HTTPCollaborator) ID() string              { return h.cfg.ID }
func (h *HTTPCollaborator) Kind() types.AnalystKind { return h.cfg.Kind }

type invokeRequest struct {
	AnalystID string               `json:"analyst_id"`
	Kind      types.AnalystKind    `json:"kind"`
	Assets    []string             `json:"assets,omitempty"`
	Snapshot  types.MarketSnapshot `json:"snapshot"`
	SentAt    time.Time            `json:"sent_at"`
}

func (h *HTTPCollaborator) Invoke(ctx context.Context, snap types.MarketSnapshot) (types.AnalystOutput, error) {
	body, err := json.Marshal(invokeRequest{
		AnalystID: h.cfg.ID,
		Kind:      h.cfg.Kind,
		Assets:    h.cfg.Assets,
		Snapshot:  snap,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return types.AnalystOutput{}, fmt.Errorf("encode analyst request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return types.AnalystOutput{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return types.AnalystOutput{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return types.AnalystOutput{}, fmt.Errorf("read analyst %s response: %w", h.cfg.ID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.AnalystOutput{}, fmt.Errorf("analyst %s: unexpected status %s", h.cfg.ID, resp.Status)
	}
	return ParseResponse(h.cfg.ID, h.cfg.Kind, raw)
}
