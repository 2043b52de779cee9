package decision

import (
	"fmt"
	"sort"
	"sync"

	"automoney/internal/strategy"
)

// Binding is the resolved policy and template-level params of one template.
type Binding struct {
	TemplateID string
	Policy     Policy
	Params     strategy.Params
}

// ParamsFor layers instance overrides on top of the template params and
// validates the result for the bound policy.
func (b Binding) ParamsFor(overrides map[string]any) (strategy.Params, error) {
	p, err := b.Params.WithOverrides(overrides)
	if err != nil {
		return strategy.Params{}, err
	}
	if err := validateFor(b.Policy, p); err != nil {
		return strategy.Params{}, err
	}
	return p, nil
}

// Registry maps template ids to policies. Bindings are resolved when
// templates load; per-cycle lookups never construct policies.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Bind validates params and registers the policy for templateID.
func (r *Registry) Bind(templateID string, kind PolicyKind, params strategy.Params) error {
	b, err := newBinding(templateID, kind, params)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.bindings[templateID] = b
	r.mu.Unlock()
	return nil
}

// TemplateSpec is the registry's view of one template definition.
type TemplateSpec struct {
	ID     string
	Policy PolicyKind
	Params strategy.Params
}

// Replace swaps every binding at once. On error nothing changes.
func (r *Registry) Replace(specs []TemplateSpec) error {
	next := make(map[string]Binding, len(specs))
	for _, s := range specs {
		b, err := newBinding(s.ID, s.Policy, s.Params)
		if err != nil {
			return err
		}
		next[s.ID] = b
	}
	r.mu.Lock()
	r.bindings = next
	r.mu.Unlock()
	return nil
}

// Resolve returns the binding for templateID.
func (r *Registry) Resolve(templateID string) (Binding, error) {
	r.mu.RLock()
	b, ok := r.bindings[templateID]
	r.mu.RUnlock()
	if !ok {
		return Binding{}, &strategy.ConfigurationError{Field: "template", Reason: fmt.Sprintf("no policy bound for template %q", templateID)}
	}
	b.Params = b.Params.Clone()
	return b, nil
}

// Templates lists bound template ids in order.
func (r *Registry) Templates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.bindings))
	for id := range r.bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func newBinding(templateID string, kind PolicyKind, params strategy.Params) (Binding, error) {
	if templateID == "" {
		return Binding{}, &strategy.ConfigurationError{Field: "template", Reason: "id is empty"}
	}
	policy, err := NewPolicy(kind)
	if err != nil {
		return Binding{}, err
	}
	if err := validateFor(policy, params); err != nil {
		return Binding{}, fmt.Errorf("template %s: %w", templateID, err)
	}
	return Binding{TemplateID: templateID, Policy: policy, Params: params.Clone()}, nil
}

func validateFor(policy Policy, p strategy.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, ok := policy.(ConvictionPolicy); ok {
		return p.ValidateWeights()
	}
	return nil
}
