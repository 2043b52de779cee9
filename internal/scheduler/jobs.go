package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"automoney/internal/logger"
)

// Task is one unit of scheduled work. The context is cancelled when the
// scheduler stops; a task already running is allowed to finish.
type Task func(ctx context.Context)

// JobSpec describes when a job fires.
//
// Aligned jobs fire on wall-clock multiples of Interval plus Offset
// (e.g. a 1h job with 5s offset fires at hh:00:05). Unaligned jobs fire
// Interval after registration and every Interval after that.
type JobSpec struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	Aligned        bool
	RunImmediately bool
}

// JobInfo is a read-only view of a registered job.
type JobInfo struct {
	Name     string
	Interval time.Duration
	Offset   time.Duration
	Aligned  bool
	NextRun  time.Time
	LastRun  time.Time
	Runs     int64
	Skipped  int64
	Running  bool
}

var (
	ErrJobExists   = errors.New("scheduler: job already registered")
	ErrJobNotFound = errors.New("scheduler: job not found")
)

type job struct {
	spec   JobSpec
	task   Task
	lock   *runLock
	cancel context.CancelFunc
	done   chan struct{}
}

// runLock is shared by every registration of the same name, so a job
// that gets rescheduled while running never overlaps with itself.
type runLock struct {
	mu      sync.Mutex
	stats   sync.Mutex
	running bool
	lastRun time.Time
	nextRun time.Time
	runs    int64
	skipped int64
}

func (l *runLock) tryAcquire() bool {
	if !l.mu.TryLock() {
		l.stats.Lock()
		l.skipped++
		l.stats.Unlock()
		return false
	}
	l.stats.Lock()
	l.running = true
	l.stats.Unlock()
	return true
}

func (l *runLock) release(at time.Time) {
	l.stats.Lock()
	l.running = false
	l.lastRun = at
	l.runs++
	l.stats.Unlock()
	l.mu.Unlock()
}

func (l *runLock) setNext(t time.Time) {
	l.stats.Lock()
	l.nextRun = t
	l.stats.Unlock()
}

// Scheduler runs named recurring jobs. Jobs can be added, rescheduled and
// removed while the scheduler is running.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	locks   map[string]*runLock
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	loops   sync.WaitGroup

	now func() time.Time
	log *logger.Entry
}

func New() *Scheduler {
	return &Scheduler{
		jobs:  make(map[string]*job),
		locks: make(map[string]*runLock),
		now:   time.Now,
		log:   logger.Named("scheduler"),
	}
}

// Every registers an aligned job firing once per interval.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	return s.Add(JobSpec{Name: name, Interval: interval, Aligned: true}, task)
}

// Add registers a job. When the scheduler is already running the job starts
// immediately.
func (s *Scheduler) Add(spec JobSpec, task Task) error {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return errors.New("scheduler: job name required")
	}
	if spec.Interval <= 0 {
		return fmt.Errorf("scheduler: job %s interval must be > 0", spec.Name)
	}
	if task == nil {
		return fmt.Errorf("scheduler: job %s task is nil", spec.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, spec.Name)
	}
	lock, ok := s.locks[spec.Name]
	if !ok {
		lock = &runLock{}
		s.locks[spec.Name] = lock
	}
	j := &job{spec: spec, task: task, lock: lock}
	s.jobs[spec.Name] = j
	if s.started {
		s.launchLocked(j)
	}
	s.log.Infof("job %s registered interval=%s aligned=%v", spec.Name, spec.Interval, spec.Aligned)
	return nil
}

// Reschedule changes a job's interval. A run in flight completes under the
// old registration; the new cadence takes effect for the next tick.
func (s *Scheduler) Reschedule(name string, interval time.Duration) error {
	return s.reschedule(name, interval, nil)
}

// RescheduleWithOffset changes both the interval and the offset of a job.
func (s *Scheduler) RescheduleWithOffset(name string, interval, offset time.Duration) error {
	return s.reschedule(name, interval, &offset)
}

func (s *Scheduler) reschedule(name string, interval time.Duration, offset *time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %s interval must be > 0", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	spec := j.spec
	spec.Interval = interval
	if offset != nil {
		spec.Offset = *offset
	}
	if spec.Interval == j.spec.Interval && spec.Offset == j.spec.Offset {
		return nil
	}
	s.stopLocked(j)
	spec.RunImmediately = false
	nj := &job{spec: spec, task: j.task, lock: j.lock}
	s.jobs[name] = nj
	if s.started {
		s.launchLocked(nj)
	}
	s.log.Infof("job %s rescheduled interval %s -> %s offset %s -> %s",
		name, j.spec.Interval, spec.Interval, j.spec.Offset, spec.Offset)
	return nil
}

// Remove unregisters a job. A run in flight is not interrupted.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.stopLocked(j)
	delete(s.jobs, name)
	s.log.Infof("job %s removed", name)
	return nil
}

func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Jobs returns registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.lock.stats.Lock()
		out = append(out, JobInfo{
			Name:     j.spec.Name,
			Interval: j.spec.Interval,
			Offset:   j.spec.Offset,
			Aligned:  j.spec.Aligned,
			NextRun:  j.lock.nextRun,
			LastRun:  j.lock.lastRun,
			Runs:     j.lock.runs,
			Skipped:  j.lock.skipped,
			Running:  j.lock.running,
		})
		j.lock.stats.Unlock()
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches every registered job. It returns immediately; use Stop or
// cancel ctx to shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	for _, j := range s.jobs {
		s.launchLocked(j)
	}
	s.log.Infof("scheduler started with %d jobs", len(s.jobs))
	return nil
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	for _, j := range s.jobs {
		s.stopLocked(j)
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()
	s.loops.Wait()
	s.log.Infof("scheduler stopped")
}

func (s *Scheduler) launchLocked(j *job) {
	loopCtx, cancel := context.WithCancel(s.ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		defer close(j.done)
		s.loop(loopCtx, s.ctx, j)
	}()
}

func (s *Scheduler) stopLocked(j *job) {
	if j.cancel != nil {
		j.cancel()
	}
}

// loop waits for ticks on loopCtx; tasks run with runCtx so a reschedule
// does not cancel a run in flight.
func (s *Scheduler) loop(loopCtx, runCtx context.Context, j *job) {
	anchor := s.now()
	if j.spec.RunImmediately {
		s.fire(runCtx, j)
	}
	for {
		now := s.now()
		var next time.Time
		if j.spec.Aligned {
			next = nextAlignedAfter(now, j.spec.Interval, j.spec.Offset)
		} else {
			next = nextFixedTimeAfter(anchor, now, j.spec.Interval)
		}
		j.lock.setNext(next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-loopCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(runCtx, j)
	}
}

func (s *Scheduler) fire(ctx context.Context, j *job) {
	if ctx.Err() != nil {
		return
	}
	if !j.lock.tryAcquire() {
		s.log.Warnf("job %s still running, tick skipped", j.spec.Name)
		return
	}
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("job %s panic: %v", j.spec.Name, r)
		}
		j.lock.release(start)
	}()
	j.task(ctx)
	s.log.Debugf("job %s finished in %s", j.spec.Name, s.now().Sub(start))
}

func nextAlignedAfter(now time.Time, interval, offset time.Duration) time.Time {
	offset %= interval
	if offset < 0 {
		offset += interval
	}
	next := now.Truncate(interval).Add(offset)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

func nextFixedTimeAfter(anchor, now time.Time, interval time.Duration) time.Time {
	if now.Before(anchor) {
		return anchor.Add(interval)
	}
	elapsed := now.Sub(anchor)
	steps := elapsed/interval + 1
	return anchor.Add(steps * interval)
}
