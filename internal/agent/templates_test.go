package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"automoney/internal/scheduler"
)

type MockBatchRunner struct {
	mock.Mock
}

func (m *MockBatchRunner) Run(ctx context.Context, templateID string) (BatchResult, error) {
	args := m.Called(ctx, templateID)
	return args.Get(0).(BatchResult), args.Error(1)
}

func jobIntervals(s *scheduler.Scheduler) map[string]time.Duration {
	out := map[string]time.Duration{}
	for _, info := range s.Jobs() {
		out[info.Name] = info.Interval
	}
	return out
}

func TestTemplateSyncAddsReschedulesAndRemoves(t *testing.T) {
	s := scheduler.New()
	require.NoError(t, s.Every(JobValuationRefresh, time.Minute, func(context.Context) {}))
	sync := NewTemplateSync(s, &MockBatchRunner{})

	require.NoError(t, sync.Apply([]TemplateSchedule{
		{ID: "conv", Cadence: time.Hour},
		{ID: "mom", Cadence: 4 * time.Hour},
	}))
	assert.Equal(t, map[string]time.Duration{
		"batch:conv":        time.Hour,
		"batch:mom":         4 * time.Hour,
		JobValuationRefresh: time.Minute,
	}, jobIntervals(s))

	require.NoError(t, sync.Apply([]TemplateSchedule{
		{ID: "conv", Cadence: 30 * time.Minute},
		{ID: "new", Cadence: time.Hour},
		{ID: " ", Cadence: time.Hour},
	}))
	assert.Equal(t, map[string]time.Duration{
		"batch:conv":        30 * time.Minute,
		"batch:new":         time.Hour,
		JobValuationRefresh: time.Minute,
	}, jobIntervals(s))
}

func TestTemplateSyncAppliesOffsetOnlyChange(t *testing.T) {
	s := scheduler.New()
	sync := NewTemplateSync(s, &MockBatchRunner{})

	require.NoError(t, sync.Apply([]TemplateSchedule{{ID: "conv", Cadence: time.Hour, Offset: 5 * time.Second}}))
	require.NoError(t, sync.Apply([]TemplateSchedule{{ID: "conv", Cadence: time.Hour, Offset: 2 * time.Minute}}))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, BatchJobName("conv"), jobs[0].Name)
	assert.Equal(t, time.Hour, jobs[0].Interval)
	assert.Equal(t, 2*time.Minute, jobs[0].Offset)
	assert.True(t, jobs[0].Aligned)
}

func TestTemplateSyncReportsInvalidCadence(t *testing.T) {
	s := scheduler.New()
	sync := NewTemplateSync(s, &MockBatchRunner{})
	err := sync.Apply([]TemplateSchedule{{ID: "conv", Cadence: 0}, {ID: "ok", Cadence: time.Hour}})
	require.Error(t, err)
	assert.True(t, s.Has("batch:ok"))
	assert.False(t, s.Has("batch:conv"))
}

func TestTemplateSyncTaskRunsBatch(t *testing.T) {
	runner := &MockBatchRunner{}
	done := make(chan struct{})
	runner.On("Run", mock.Anything, "conv").Return(BatchResult{}, nil).Run(func(mock.Arguments) {
		close(done)
	}).Once()
	s := scheduler.New()
	sync := NewTemplateSync(s, runner)

	require.NoError(t, s.Add(scheduler.JobSpec{Name: BatchJobName("conv"), Interval: time.Hour, RunImmediately: true}, sync.batchTask("conv")))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch task did not run")
	}
	runner.AssertExpectations(t)
}
