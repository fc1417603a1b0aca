package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room-booking/backend/internal/logging"
)

func TestSweepInterval(t *testing.T) {
	tests := []struct {
		name     string
		lifetime time.Duration
		margin   time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "defaults", lifetime: DefaultLifetime, margin: DefaultSafetyMargin, want: 150 * time.Second},
		{name: "scaled", lifetime: time.Hour, margin: 5 * time.Minute, want: 55 * time.Minute},
		{name: "margin equals lifetime", lifetime: time.Minute, margin: time.Minute, wantErr: true},
		{name: "margin exceeds lifetime", lifetime: time.Minute, margin: 2 * time.Minute, wantErr: true},
		{name: "zero margin", lifetime: time.Minute, margin: 0, wantErr: true},
		{name: "zero lifetime", lifetime: 0, margin: time.Second, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SweepInterval(tt.lifetime, tt.margin)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Less(t, got, tt.lifetime)
		})
	}
}

func TestScheduler_StartStop(t *testing.T) {
	m, _ := newTestManager(t, &fakeProvider{})
	s := NewScheduler(m, time.Hour, logging.Discard())

	assert.Nil(t, s.NextRun())
	assert.Equal(t, time.Hour, s.Interval())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	next := s.NextRun()
	require.NotNil(t, next)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *next, time.Minute)

	s.Stop()
	s.Stop()
	assert.Nil(t, s.NextRun())
}

func TestScheduler_RunsSweepAndJobs(t *testing.T) {
	provider := &fakeProvider{}
	m, _ := newTestManager(t, provider)
	require.NoError(t, m.Store().Add("sub-1", "users/u1/calendars/C1/events", testNow, "u1"))

	s := NewScheduler(m, time.Second, logging.Discard())
	jobRan := make(chan struct{}, 1)
	require.NoError(t, s.Every(context.Background(), time.Second, "history-prune", func(context.Context) {
		select {
		case jobRan <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-jobRan:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job did not run")
	}

	assert.Eventually(t, func() bool {
		return !m.Store().HasCalendar("C1")
	}, 5*time.Second, 50*time.Millisecond)
}
