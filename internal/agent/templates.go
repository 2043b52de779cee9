package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"automoney/internal/logger"
	"automoney/internal/scheduler"
)

const batchJobPrefix = "batch:"

// TemplateSchedule is the cadence of one strategy template.
type TemplateSchedule struct {
	ID      string
	Cadence time.Duration
	Offset  time.Duration
}

// BatchJobName is the scheduler job name for a template's batch.
func BatchJobName(templateID string) string {
	return batchJobPrefix + templateID
}

// batchRunner is the part of BatchRunner the sync needs.
type batchRunner interface {
	Run(ctx context.Context, templateID string) (BatchResult, error)
}

// TemplateSync keeps one scheduler job per template in line with the loaded
// template set.
type TemplateSync struct {
	sched  *scheduler.Scheduler
	runner batchRunner
	log    *logger.Entry
}

func NewTemplateSync(sched *scheduler.Scheduler, runner batchRunner) *TemplateSync {
	return &TemplateSync{sched: sched, runner: runner, log: logger.Named("templates")}
}

// Apply adds jobs for new templates, reschedules templates whose cadence or
// offset changed and removes jobs of templates no longer present. A run in flight
// is never interrupted.
func (t *TemplateSync) Apply(schedules []TemplateSchedule) error {
	want := make(map[string]TemplateSchedule, len(schedules))
	for _, s := range schedules {
		if strings.TrimSpace(s.ID) == "" {
			continue
		}
		want[BatchJobName(s.ID)] = s
	}
	var errs []error
	for _, info := range t.sched.Jobs() {
		if !strings.HasPrefix(info.Name, batchJobPrefix) {
			continue
		}
		s, ok := want[info.Name]
		if !ok {
			if err := t.sched.Remove(info.Name); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		delete(want, info.Name)
		if info.Interval != s.Cadence || info.Offset != s.Offset {
			if err := t.sched.RescheduleWithOffset(info.Name, s.Cadence, s.Offset); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for name, s := range want {
		err := t.sched.Add(scheduler.JobSpec{
			Name:     name,
			Interval: s.Cadence,
			Offset:   s.Offset,
			Aligned:  true,
		}, t.batchTask(s.ID))
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *TemplateSync) batchTask(templateID string) scheduler.Task {
	return func(ctx context.Context) {
		if _, err := t.runner.Run(ctx, templateID); err != nil {
			t.log.Warnf("batch %s: %v", templateID, err)
		}
	}
}
