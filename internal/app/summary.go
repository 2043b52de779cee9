package app

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"automoney/internal/config"
	"automoney/internal/config/loader"
	"automoney/internal/scheduler"
)

type StartupSummary struct {
	Store     StoreSummary
	Analysts  AnalystSummary
	Templates []TemplateSummary
	Jobs      []JobSummary
}

type StoreSummary struct {
	DBPath          string
	DecisionLogPath string
	MetricsAddr     string
}

type AnalystSummary struct {
	Timeout    time.Duration
	MaxRetries int
	Remote     []string
}

type TemplateSummary struct {
	ID        string
	Policy    string
	Cadence   time.Duration
	Offset    time.Duration
	Analysts  []string
	Watchlist []string
	Disabled  bool
}

type JobSummary struct {
	Name     string
	Interval time.Duration
	NextRun  time.Time
}

func newStartupSummary(cfg *config.Config, snap loader.Snapshot, jobs []scheduler.JobInfo) *StartupSummary {
	s := &StartupSummary{
		Store: StoreSummary{
			DBPath:          cfg.Store.DBPath,
			DecisionLogPath: cfg.Store.DecisionLogPath,
			MetricsAddr:     cfg.App.MetricsAddr,
		},
		Analysts: AnalystSummary{
			Timeout:    cfg.Analysts.Timeout(),
			MaxRetries: cfg.Analysts.MaxRetries,
		},
	}
	for _, h := range cfg.Analysts.HTTP {
		s.Analysts.Remote = append(s.Analysts.Remote, fmt.Sprintf("%s(%s)", h.ID, h.Kind))
	}
	ids := make([]string, 0, len(snap.Templates))
	for id := range snap.Templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		def := snap.Templates[id]
		policy := def.Policy
		if policy == "" {
			policy = "conviction"
		}
		ts := TemplateSummary{
			ID:        def.ID,
			Policy:    policy,
			Cadence:   def.CadenceDuration,
			Offset:    def.OffsetDuration,
			Watchlist: def.Watchlist,
			Disabled:  def.Disabled,
		}
		for _, a := range def.Analysts {
			ts.Analysts = append(ts.Analysts, a.ID+":"+a.Type)
		}
		s.Templates = append(s.Templates, ts)
	}
	for _, j := range jobs {
		s.Jobs = append(s.Jobs, JobSummary{Name: j.Name, Interval: j.Interval, NextRun: j.NextRun})
	}
	return s
}

func (s *StartupSummary) Print() {
	_, _ = s.WriteTo(os.Stdout)
}

// WriteTo renders the summary as plain text.
func (s *StartupSummary) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 80) + "\n")
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	b.WriteString("[存储 (STORAGE)]\n")
	fmt.Fprintf(&b, "  组合数据库: %s\n", s.Store.DBPath)
	fmt.Fprintf(&b, "  决策日志: %s\n", s.Store.DecisionLogPath)
	fmt.Fprintf(&b, "  指标端点: %s\n", orDash(s.Store.MetricsAddr))
	b.WriteString("\n")

	b.WriteString("[分析师 (ANALYSTS)]\n")
	fmt.Fprintf(&b, "  超时: %s  重试: %d\n", s.Analysts.Timeout, s.Analysts.MaxRetries)
	fmt.Fprintf(&b, "  远程分析师: %s\n", formatList(s.Analysts.Remote))
	b.WriteString("\n")

	b.WriteString("[策略模板 (TEMPLATES)]\n")
	if len(s.Templates) == 0 {
		b.WriteString("  (无配置)\n")
	}
	for _, t := range s.Templates {
		state := ""
		if t.Disabled {
			state = " [disabled]"
		}
		fmt.Fprintf(&b, "  > %s (%s)%s\n", t.ID, t.Policy, state)
		fmt.Fprintf(&b, "    周期: %s  偏移: %s\n", t.Cadence, t.Offset)
		fmt.Fprintf(&b, "    分析师: %s\n", formatList(t.Analysts))
		if len(t.Watchlist) > 0 {
			fmt.Fprintf(&b, "    观察列表: %s\n", formatList(t.Watchlist))
		}
	}
	b.WriteString("\n")

	b.WriteString("[定时任务 (JOBS)]\n")
	if len(s.Jobs) == 0 {
		b.WriteString("  (无)\n")
	}
	for _, j := range s.Jobs {
		next := "-"
		if !j.NextRun.IsZero() {
			next = j.NextRun.Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "  - %-32s every %-8s next %s\n", j.Name, j.Interval, next)
	}
	b.WriteString(strings.Repeat("=", 80) + "\n")

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
