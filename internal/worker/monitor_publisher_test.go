package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/olpm-engine/internal/model"
)

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.msgs = append(f.msgs, published{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (f *fakePublisher) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func event(testID string, phase model.Phase) model.Event {
	return model.Event{
		Type: model.EventPhase,
		Snapshot: model.Snapshot{
			AttemptID:        "a-1",
			TestID:           testID,
			Phase:            phase,
			RemainingSeconds: 30,
			AnsweredCount:    2,
			TotalQuestions:   5,
		},
	}
}

func TestMonitorPublisherPublishesToBothChannels(t *testing.T) {
	rdb := &fakePublisher{}
	p := NewMonitorPublisher(rdb, zerolog.Nop())
	p.now = func() time.Time { return time.Unix(1700000000, 0) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	require.True(t, p.Enqueue(event("t-1", model.PhaseInProgress)))
	require.Eventually(t, func() bool { return len(rdb.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	msgs := rdb.snapshot()
	assert.Equal(t, "test:t-1:monitor", msgs[0].channel)
	assert.Equal(t, "attempt:a-1:monitor", msgs[1].channel)

	var got MonitorEvent
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, model.PhaseInProgress, got.Phase)
	assert.Equal(t, 2, got.AnsweredCount)
	assert.Equal(t, int64(1700000000), got.Timestamp)
	assert.Nil(t, got.Score)
}

func TestMonitorPublisherDropsWhenFull(t *testing.T) {
	p := NewMonitorPublisher(&fakePublisher{}, zerolog.Nop())

	for i := 0; i < MonitorQueueSize; i++ {
		require.True(t, p.Enqueue(event("t-1", model.PhaseInProgress)))
	}
	assert.False(t, p.Enqueue(event("t-1", model.PhaseInProgress)))
}

func TestMonitorPublisherIgnoresEventsWithoutTest(t *testing.T) {
	p := NewMonitorPublisher(&fakePublisher{}, zerolog.Nop())
	assert.False(t, p.Enqueue(event("", model.PhaseExited)))
}

func TestMonitorPublisherDrainsOnShutdown(t *testing.T) {
	rdb := &fakePublisher{}
	p := NewMonitorPublisher(rdb, zerolog.Nop())

	for i := 0; i < 3; i++ {
		require.True(t, p.Enqueue(event("t-1", model.PhaseSubmitted)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Start(ctx)

	// Start may publish some events before noticing cancellation; either way
	// every queued event ends up published.
	assert.Len(t, rdb.snapshot(), 6)
}

func TestMonitorPublisherSurvivesRedisErrors(t *testing.T) {
	rdb := &fakePublisher{err: errors.New("connection refused")}
	p := NewMonitorPublisher(rdb, zerolog.Nop())
	require.True(t, p.Enqueue(event("t-1", model.PhaseSubmitted)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() { p.Start(ctx) })
	assert.Empty(t, rdb.snapshot())
}

func TestNewMonitorEventCarriesResult(t *testing.T) {
	ev := event("t-1", model.PhaseSubmitted)
	ev.Snapshot.Result = &model.SubmissionResult{Score: 4, Percentage: 80}

	got := NewMonitorEvent(ev, time.Unix(10, 0))
	require.NotNil(t, got.Score)
	assert.Equal(t, 4.0, *got.Score)
	assert.Equal(t, 80.0, *got.Percentage)
}
