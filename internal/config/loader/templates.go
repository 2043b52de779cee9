// Package loader reads the strategy template file and watches it for edits.
package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"automoney/internal/logger"
	"automoney/internal/scheduler"
)

// Analyst types a template can reference.
const (
	AnalystTechnical = "technical"
	AnalystMacro     = "macro"
	AnalystRegime    = "regime"
	AnalystMomentum  = "momentum"
	AnalystHTTP      = "http"
)

// AnalystRef binds one analyst into a template. HTTP analysts point at an
// entry of analysts.http in the main config via Ref (defaults to ID).
type AnalystRef struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type"`
	Asset string `yaml:"asset"`
	Ref   string `yaml:"ref"`
}

// TemplateDefinition is one strategy template as written in the file.
type TemplateDefinition struct {
	ID        string         `yaml:"-"`
	Policy    string         `yaml:"policy"`
	Cadence   string         `yaml:"cadence"`
	Offset    string         `yaml:"offset"`
	Analysts  []AnalystRef   `yaml:"analysts"`
	Params    map[string]any `yaml:"params"`
	Watchlist []string       `yaml:"watchlist"`
	Disabled  bool           `yaml:"disabled"`

	CadenceDuration time.Duration `yaml:"-"`
	OffsetDuration  time.Duration `yaml:"-"`
}

// FileConfig is the layout of the template file.
type FileConfig struct {
	Templates map[string]TemplateDefinition `yaml:"templates"`
}

// Snapshot is an immutable view of the loaded templates.
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	Templates map[string]TemplateDefinition
}

// Enabled returns the templates that are not disabled, sorted by id.
func (s Snapshot) Enabled() []TemplateDefinition {
	out := make([]TemplateDefinition, 0, len(s.Templates))
	for _, def := range s.Templates {
		if !def.Disabled {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChangeListener runs after a successful reload.
type ChangeListener func(Snapshot)

// TemplateLoader holds the current template snapshot. A reload that fails
// to parse keeps the previous snapshot.
type TemplateLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
	log       *logger.Entry
}

// NewTemplateLoader reads path once. Call Watch to follow later edits.
func NewTemplateLoader(path string) (*TemplateLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("template loader requires path")
	}
	l := &TemplateLoader{path: path, log: logger.Named("templates")}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Watch starts following the file through fsnotify.
func (l *TemplateLoader) Watch() error {
	v := viper.New()
	v.SetConfigFile(l.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read template file failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.Reload(); err != nil {
			l.log.Errorf("template reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	l.v = v
	return nil
}

// Snapshot returns a copy of the current templates.
func (l *TemplateLoader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers fn for future reloads.
func (l *TemplateLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Reload re-reads the file. Listeners are not called; Watch does that.
func (l *TemplateLoader) Reload() error {
	cfg, err := ReadFile(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = Snapshot{
		Version:   l.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Templates: cfg.Templates,
	}
	l.mu.Unlock()
	l.log.Infof("loaded %d templates from %s", len(cfg.Templates), filepath.Base(l.path))
	return nil
}

func (l *TemplateLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.log.Errorf("template listener panic: %v", r)
				}
			}()
			fn(snap)
		}()
	}
}

// ReadFile strictly decodes and normalizes a template file.
func ReadFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read template file failed: %w", err)
	}
	return Parse(raw)
}

// Parse decodes template YAML. Unknown fields are errors.
func Parse(raw []byte) (FileConfig, error) {
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse template file failed: %w", err)
	}
	normalized := make(map[string]TemplateDefinition, len(cfg.Templates))
	for name, def := range cfg.Templates {
		norm, err := normalizeTemplate(name, def)
		if err != nil {
			return FileConfig{}, err
		}
		normalized[norm.ID] = norm
	}
	cfg.Templates = normalized
	return cfg, nil
}

func normalizeTemplate(name string, def TemplateDefinition) (TemplateDefinition, error) {
	def.ID = strings.TrimSpace(name)
	if def.ID == "" {
		return def, fmt.Errorf("template with empty id")
	}
	def.Policy = strings.ToLower(strings.TrimSpace(def.Policy))
	cadence, err := scheduler.ParseCadence(def.Cadence)
	if err != nil {
		return def, fmt.Errorf("template %s cadence: %w", def.ID, err)
	}
	def.CadenceDuration = cadence
	if strings.TrimSpace(def.Offset) != "" {
		off, err := time.ParseDuration(strings.TrimSpace(def.Offset))
		if err != nil || off < 0 || off >= cadence {
			return def, fmt.Errorf("template %s offset %q must be a duration in [0, cadence)", def.ID, def.Offset)
		}
		def.OffsetDuration = off
	}
	if len(def.Analysts) == 0 {
		return def, fmt.Errorf("template %s has no analysts", def.ID)
	}
	seen := make(map[string]bool, len(def.Analysts))
	for i := range def.Analysts {
		a := &def.Analysts[i]
		a.ID = strings.TrimSpace(a.ID)
		a.Type = strings.ToLower(strings.TrimSpace(a.Type))
		a.Asset = strings.ToUpper(strings.TrimSpace(a.Asset))
		a.Ref = strings.TrimSpace(a.Ref)
		if a.ID == "" {
			return def, fmt.Errorf("template %s analyst #%d missing id", def.ID, i)
		}
		if seen[a.ID] {
			return def, fmt.Errorf("template %s has duplicate analyst %s", def.ID, a.ID)
		}
		seen[a.ID] = true
		switch a.Type {
		case AnalystTechnical, AnalystMacro, AnalystRegime, AnalystMomentum:
		case AnalystHTTP:
			if a.Ref == "" {
				a.Ref = a.ID
			}
		default:
			return def, fmt.Errorf("template %s analyst %s has unknown type %q", def.ID, a.ID, a.Type)
		}
	}
	watch := make([]string, 0, len(def.Watchlist))
	for _, asset := range def.Watchlist {
		if asset = strings.ToUpper(strings.TrimSpace(asset)); asset != "" {
			watch = append(watch, asset)
		}
	}
	def.Watchlist = watch
	return def, nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:   src.Version,
		LoadedAt:  src.LoadedAt,
		Templates: make(map[string]TemplateDefinition, len(src.Templates)),
	}
	for id, def := range src.Templates {
		def.Analysts = append([]AnalystRef(nil), def.Analysts...)
		def.Watchlist = append([]string(nil), def.Watchlist...)
		if def.Params != nil {
			params := make(map[string]any, len(def.Params))
			for k, v := range def.Params {
				params[k] = v
			}
			def.Params = params
		}
		dst.Templates[id] = def
	}
	return dst
}
