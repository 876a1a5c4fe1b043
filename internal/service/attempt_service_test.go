package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/olpm-engine/internal/clock"
	"github.com/stemsi/olpm-engine/internal/engine"
	"github.com/stemsi/olpm-engine/internal/model"
)

type stubRepo struct {
	token string
}

func (r *stubRepo) FetchTest(_ context.Context, link string) (*model.TestDefinition, error) {
	if link != "physics" {
		return nil, engine.ErrNotFound
	}
	return &model.TestDefinition{
		ID:              "t-phys",
		Title:           "Physics",
		DurationSeconds: 60,
		Questions: []model.Question{{
			ID:      "q1",
			Text:    "g?",
			Options: map[model.OptionLabel]string{"A": "1", "B": "2", "C": "9.8", "D": "0"},
		}},
	}, nil
}

func (r *stubRepo) SubmitTest(context.Context, string, model.SubmissionPayload) (*model.SubmissionResult, error) {
	if r.token == "tok-offline" {
		return nil, engine.ErrNetwork
	}
	return &model.SubmissionResult{Score: 1, Percentage: 100}, nil
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *sinkRecorder) Enqueue(ev model.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *sinkRecorder) phases() []model.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Phase, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Snapshot.Phase)
	}
	return out
}

func newService(t *testing.T, sink EventSink) (*AttemptService, *clock.Fake, *[]string) {
	t.Helper()
	fake := clock.NewFake(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	var tokens []string
	factory := func(token string) engine.Repository {
		tokens = append(tokens, token)
		return &stubRepo{token: token}
	}
	svc := NewAttemptService(factory, sink, AttemptConfig{TTL: time.Hour, Scheduler: fake}, zerolog.Nop())
	t.Cleanup(svc.Close)
	return svc, fake, &tokens
}

func TestCreateAttempt(t *testing.T) {
	svc, _, tokens := newService(t, nil)

	a, def, err := svc.Create(context.Background(), "physics", "tok-1", "student-7")
	require.NoError(t, err)
	assert.Equal(t, "t-phys", def.ID)
	assert.Equal(t, "student-7", a.Subject)
	assert.Equal(t, []string{"tok-1"}, *tokens)

	snap := a.Engine.Snapshot()
	assert.Equal(t, a.ID.String(), snap.AttemptID)
	assert.Equal(t, model.PhaseNotStarted, snap.Phase)

	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), a.CreatedAt)

	got, err := svc.Get(a.ID, "tok-1")
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestAttemptBelongsToCreatingToken(t *testing.T) {
	svc, _, tokens := newService(t, nil)
	a, _, err := svc.Create(context.Background(), "physics", "tok-1", "student-7")
	require.NoError(t, err)

	for _, token := range []string{"tok-2", "", "tok-1 "} {
		_, err := svc.Get(a.ID, token)
		assert.ErrorIs(t, err, ErrAttemptNotFound, "token %q", token)
	}

	_, err = svc.Reload(context.Background(), a.ID, "tok-2", "physics")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
	assert.Equal(t, []string{"tok-1"}, *tokens)

	assert.ErrorIs(t, svc.Remove(a.ID, "tok-2"), ErrAttemptNotFound)
	assert.Equal(t, 1, svc.Count())
	assert.Equal(t, model.PhaseNotStarted, a.Engine.Snapshot().Phase)

	require.NoError(t, svc.Remove(a.ID, "tok-1"))
	assert.Equal(t, 0, svc.Count())
}

func TestCreateAttemptLoadFailureKeepsNothing(t *testing.T) {
	svc, _, _ := newService(t, nil)

	_, _, err := svc.Create(context.Background(), "unknown", "", "")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Equal(t, 0, svc.Count())
}

func TestGetUnknownAttempt(t *testing.T) {
	svc, _, _ := newService(t, nil)

	_, err := svc.Get(uuid.New(), "")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
	assert.ErrorIs(t, svc.Remove(uuid.New(), ""), ErrAttemptNotFound)
}

func TestReloadAttempt(t *testing.T) {
	svc, _, _ := newService(t, nil)
	a, _, err := svc.Create(context.Background(), "physics", "", "")
	require.NoError(t, err)

	require.NoError(t, a.Engine.Start())
	_, err = svc.Reload(context.Background(), a.ID, "", "physics")
	assert.ErrorIs(t, err, engine.ErrInvalidState)

	a.Engine.Exit()
	_, err = svc.Reload(context.Background(), a.ID, "", "physics")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseNotStarted, a.Engine.Snapshot().Phase)
}

func TestRemoveAttemptExitsEngine(t *testing.T) {
	svc, fake, _ := newService(t, nil)
	a, _, err := svc.Create(context.Background(), "physics", "", "")
	require.NoError(t, err)
	require.NoError(t, a.Engine.Start())
	require.Equal(t, 1, fake.Active())

	require.NoError(t, svc.Remove(a.ID, ""))
	assert.Equal(t, model.PhaseExited, a.Engine.Snapshot().Phase)
	assert.Equal(t, 0, fake.Active())
	assert.Equal(t, 0, svc.Count())
}

func TestReapKeepsRunningCountdowns(t *testing.T) {
	svc, fake, _ := newService(t, nil)

	running, _, err := svc.Create(context.Background(), "physics", "", "")
	require.NoError(t, err)
	require.NoError(t, running.Engine.Start())

	submitted, _, err := svc.Create(context.Background(), "physics", "", "")
	require.NoError(t, err)
	require.NoError(t, submitted.Engine.Start())
	_, err = submitted.Engine.Submit(context.Background(), model.SubmitUserInitiated)
	require.NoError(t, err)

	exited, _, err := svc.Create(context.Background(), "physics", "", "")
	require.NoError(t, err)
	exited.Engine.Exit()

	assert.Equal(t, 0, svc.Reap())

	fake.Delay(2 * time.Hour)
	assert.Equal(t, 2, svc.Reap())
	assert.Equal(t, 1, svc.Count())

	_, err = svc.Get(running.ID, "")
	assert.NoError(t, err)
	_, err = svc.Get(submitted.ID, "")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestReapDropsIdleUnfinishedAttempts(t *testing.T) {
	tests := []struct {
		name  string
		token string
		setup func(t *testing.T, a *Attempt)
		phase model.Phase
	}{
		{
			name:  "never started",
			setup: func(*testing.T, *Attempt) {},
			phase: model.PhaseNotStarted,
		},
		{
			name: "paused",
			setup: func(t *testing.T, a *Attempt) {
				require.NoError(t, a.Engine.Start())
				require.NoError(t, a.Engine.Pause())
			},
			phase: model.PhasePaused,
		},
		{
			name:  "submit failed",
			token: "tok-offline",
			setup: func(t *testing.T, a *Attempt) {
				require.NoError(t, a.Engine.Start())
				_, err := a.Engine.Submit(context.Background(), model.SubmitUserInitiated)
				require.ErrorIs(t, err, engine.ErrNetwork)
			},
			phase: model.PhaseErrored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, fake, _ := newService(t, nil)
			a, _, err := svc.Create(context.Background(), "physics", tt.token, "")
			require.NoError(t, err)
			tt.setup(t, a)
			require.Equal(t, tt.phase, a.Engine.Snapshot().Phase)

			fake.Delay(59 * time.Minute)
			assert.Equal(t, 0, svc.Reap())

			fake.Delay(30 * 24 * time.Hour)
			assert.Equal(t, 1, svc.Reap())
			assert.Equal(t, 0, svc.Count())
			assert.Equal(t, model.PhaseExited, a.Engine.Snapshot().Phase)
		})
	}
}

func TestReapSparesRecentlyViewedAttempts(t *testing.T) {
	svc, fake, _ := newService(t, nil)
	a, _, err := svc.Create(context.Background(), "physics", "", "")
	require.NoError(t, err)
	a.Engine.Exit()

	fake.Delay(59 * time.Minute)
	_, err = svc.Get(a.ID, "")
	require.NoError(t, err)
	fake.Delay(30 * time.Minute)

	assert.Equal(t, 0, svc.Reap())
}

func TestAttemptsForTest(t *testing.T) {
	svc, _, _ := newService(t, nil)
	for i := 0; i < 3; i++ {
		_, _, err := svc.Create(context.Background(), "physics", "", "student-1")
		require.NoError(t, err)
	}

	got := svc.AttemptsForTest("t-phys")
	require.Len(t, got, 3)
	assert.Equal(t, "student-1", got[0].Subject)
	assert.Equal(t, "t-phys", got[0].Snapshot.TestID)
	assert.Empty(t, svc.AttemptsForTest("t-chem"))
}

func TestEventsAreForwardedToSink(t *testing.T) {
	sink := &sinkRecorder{}
	svc, fake, _ := newService(t, sink)

	a, _, err := svc.Create(context.Background(), "physics", "", "")
	require.NoError(t, err)
	require.NoError(t, a.Engine.Start())
	fake.Tick(1)

	require.Eventually(t, func() bool { return len(sink.phases()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []model.Phase{model.PhaseNotStarted, model.PhaseInProgress, model.PhaseInProgress}, sink.phases())
}
