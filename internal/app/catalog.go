package app

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"automoney/internal/agent"
	"automoney/internal/analyst"
	"automoney/internal/config"
	"automoney/internal/config/loader"
	"automoney/internal/decision"
	"automoney/internal/strategy"
	"automoney/internal/types"
)

// templateCatalog serves the analyst set and watchlist of each loaded
// template. It is swapped as a whole on template reloads.
type templateCatalog struct {
	mu         sync.RWMutex
	analysts   map[string][]analyst.Collaborator
	watchlists map[string][]string
}

func newTemplateCatalog() *templateCatalog {
	return &templateCatalog{
		analysts:   make(map[string][]analyst.Collaborator),
		watchlists: make(map[string][]string),
	}
}

func (c *templateCatalog) AnalystsFor(templateID string) ([]analyst.Collaborator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list, ok := c.analysts[templateID]
	if !ok {
		return nil, &strategy.ConfigurationError{Field: "template", Reason: fmt.Sprintf("no analysts configured for template %q", templateID)}
	}
	return append([]analyst.Collaborator(nil), list...), nil
}

func (c *templateCatalog) Watchlist(templateID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.watchlists[templateID]...)
}

func (c *templateCatalog) replace(analysts map[string][]analyst.Collaborator, watchlists map[string][]string) {
	c.mu.Lock()
	c.analysts = analysts
	c.watchlists = watchlists
	c.mu.Unlock()
}

// templatePlan is a fully resolved template set, ready to commit.
type templatePlan struct {
	specs      []decision.TemplateSpec
	analysts   map[string][]analyst.Collaborator
	watchlists map[string][]string
	schedules  []agent.TemplateSchedule
}

// planTemplates resolves every enabled template against the global decision
// defaults and the configured remote analysts. Nothing is committed here.
func planTemplates(snap loader.Snapshot, cfg *config.Config, client *http.Client) (templatePlan, error) {
	enabled := snap.Enabled()
	plan := templatePlan{
		analysts:   make(map[string][]analyst.Collaborator, len(enabled)),
		watchlists: make(map[string][]string, len(enabled)),
	}
	for _, def := range enabled {
		params, err := cfg.Decision.WithOverrides(def.Params)
		if err != nil {
			return templatePlan{}, fmt.Errorf("template %s params: %w", def.ID, err)
		}
		collabs, err := buildCollaborators(def, cfg.Analysts, client)
		if err != nil {
			return templatePlan{}, err
		}
		plan.specs = append(plan.specs, decision.TemplateSpec{
			ID:     def.ID,
			Policy: decision.PolicyKind(def.Policy),
			Params: params,
		})
		plan.analysts[def.ID] = collabs
		plan.watchlists[def.ID] = def.Watchlist
		plan.schedules = append(plan.schedules, agent.TemplateSchedule{
			ID:      def.ID,
			Cadence: def.CadenceDuration,
			Offset:  def.OffsetDuration,
		})
	}
	sort.Slice(plan.schedules, func(i, j int) bool { return plan.schedules[i].ID < plan.schedules[j].ID })
	return plan, nil
}

func buildCollaborators(def loader.TemplateDefinition, cfg config.AnalystsConfig, client *http.Client) ([]analyst.Collaborator, error) {
	out := make([]analyst.Collaborator, 0, len(def.Analysts))
	for _, ref := range def.Analysts {
		switch ref.Type {
		case loader.AnalystTechnical:
			if ref.Asset == "" {
				return nil, fmt.Errorf("template %s analyst %s: technical analyst needs an asset", def.ID, ref.ID)
			}
			out = append(out, analyst.TechnicalAnalyst{AnalystID: ref.ID, Asset: ref.Asset})
		case loader.AnalystMacro:
			out = append(out, analyst.MacroAnalyst{AnalystID: ref.ID})
		case loader.AnalystRegime:
			out = append(out, analyst.RegimeAnalyst{AnalystID: ref.ID})
		case loader.AnalystMomentum:
			out = append(out, analyst.MomentumAnalyst{AnalystID: ref.ID})
		case loader.AnalystHTTP:
			h, ok := cfg.FindHTTP(ref.Ref)
			if !ok {
				return nil, fmt.Errorf("template %s analyst %s: no analysts.http entry %q", def.ID, ref.ID, ref.Ref)
			}
			kind, _ := types.ParseAnalystKind(h.Kind)
			c, err := analyst.NewHTTPCollaborator(analyst.HTTPConfig{
				ID:      ref.ID,
				Kind:    kind,
				URL:     h.URL,
				Headers: h.Headers,
				Assets:  h.Assets,
			}, client)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		default:
			return nil, fmt.Errorf("template %s analyst %s: unknown type %q", def.ID, ref.ID, ref.Type)
		}
	}
	return out, nil
}
