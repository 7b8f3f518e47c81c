package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jordanlanch/outreach/pkg/automation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (f *fakeTicker) Tick(_ context.Context, asOf time.Time) (*automation.TickReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, asOf)
	if f.err != nil {
		return nil, f.err
	}
	return &automation.TickReport{AsOf: asOf}, nil
}

func (f *fakeTicker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestSetupJobs(t *testing.T) {
	t.Run("Success - descriptor schedule", func(t *testing.T) {
		s := NewScheduler(&fakeTicker{}, "@every 15m", nil)
		require.NoError(t, s.SetupJobs())
		assert.Len(t, s.cron.Entries(), 1)
	})

	t.Run("Success - five field schedule", func(t *testing.T) {
		s := NewScheduler(&fakeTicker{}, "0 * * * *", nil)
		assert.NoError(t, s.SetupJobs())
	})

	t.Run("Error - invalid schedule", func(t *testing.T) {
		s := NewScheduler(&fakeTicker{}, "every now and then", nil)
		err := s.SetupJobs()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "every now and then")
	})
}

func TestRunOnce_UsesClock(t *testing.T) {
	ticker := &fakeTicker{}
	s := NewScheduler(ticker, "@every 1h", nil)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	s.now = func() time.Time { return fixed }

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, fixed.Equal(report.AsOf))
	assert.Equal(t, time.UTC, report.AsOf.Location())
}

func TestRunTick_SwallowsErrors(t *testing.T) {
	ticker := &fakeTicker{err: errors.New("db down")}
	s := NewScheduler(ticker, "@every 1h", nil)

	assert.NotPanics(t, s.runTick)
	assert.Equal(t, 1, ticker.count())
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(&fakeTicker{}, "@every 1h", nil)
	require.NoError(t, s.SetupJobs())

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
