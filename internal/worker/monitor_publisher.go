package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/olpm-engine/internal/config"
	"github.com/stemsi/olpm-engine/internal/logger"
	"github.com/stemsi/olpm-engine/internal/model"
)

const (
	MonitorQueueSize      = 256
	MonitorPublishTimeout = 2 * time.Second
	MonitorDrainTimeout   = 5 * time.Second
)

// Publisher is the subset of *redis.Client the monitor needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// MonitorEvent is the compact form of an engine event broadcast to proctors.
type MonitorEvent struct {
	Type             model.EventType `json:"type"`
	AttemptID        string          `json:"attempt_id"`
	TestID           string          `json:"test_id"`
	Phase            model.Phase     `json:"phase"`
	RemainingSeconds int             `json:"remaining_seconds"`
	AnsweredCount    int             `json:"answered_count"`
	TotalQuestions   int             `json:"total_questions"`
	Score            *float64        `json:"score,omitempty"`
	Percentage       *float64        `json:"percentage,omitempty"`
	Timestamp        int64           `json:"timestamp"`
}

// NewMonitorEvent flattens ev for publishing.
func NewMonitorEvent(ev model.Event, at time.Time) MonitorEvent {
	snap := ev.Snapshot
	out := MonitorEvent{
		Type:             ev.Type,
		AttemptID:        snap.AttemptID,
		TestID:           snap.TestID,
		Phase:            snap.Phase,
		RemainingSeconds: snap.RemainingSeconds,
		AnsweredCount:    snap.AnsweredCount,
		TotalQuestions:   snap.TotalQuestions,
		Timestamp:        at.Unix(),
	}
	if snap.Result != nil {
		score, pct := snap.Result.Score, snap.Result.Percentage
		out.Score, out.Percentage = &score, &pct
	}
	return out
}

// MonitorPublisher relays engine events to Redis pub/sub. Enqueueing never
// blocks; events are dropped when the queue is full.
type MonitorPublisher struct {
	rdb   Publisher
	queue chan model.Event
	log   zerolog.Logger
	now   func() time.Time
}

func NewMonitorPublisher(rdb Publisher, log zerolog.Logger) *MonitorPublisher {
	return &MonitorPublisher{
		rdb:   rdb,
		queue: make(chan model.Event, MonitorQueueSize),
		log:   logger.Component(log, "monitor_publisher"),
		now:   time.Now,
	}
}

// Enqueue hands ev to the worker. It reports false if the event was dropped.
func (p *MonitorPublisher) Enqueue(ev model.Event) bool {
	if ev.Snapshot.TestID == "" {
		return false
	}
	select {
	case p.queue <- ev:
		return true
	default:
		p.log.Debug().Str("attempt_id", ev.Snapshot.AttemptID).Msg("Monitor queue full, dropping event")
		return false
	}
}

// Start publishes queued events until ctx is cancelled, then drains what is
// left.
func (p *MonitorPublisher) Start(ctx context.Context) {
	p.log.Info().Msg("MonitorPublisher started")

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		case ev := <-p.queue:
			p.publish(ctx, ev)
		}
	}
}

func (p *MonitorPublisher) publish(ctx context.Context, ev model.Event) {
	data, err := json.Marshal(NewMonitorEvent(ev, p.now()))
	if err != nil {
		p.log.Error().Err(err).Msg("Discarding unencodable monitor event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, MonitorPublishTimeout)
	defer cancel()

	channels := []string{
		config.CacheKey.TestMonitorChannel(ev.Snapshot.TestID),
		config.CacheKey.AttemptMonitorChannel(ev.Snapshot.AttemptID),
	}
	for _, ch := range channels {
		if err := p.rdb.Publish(pubCtx, ch, data).Err(); err != nil {
			p.log.Warn().Err(err).Str("channel", ch).Msg("Monitor publish failed")
			return
		}
	}
}

func (p *MonitorPublisher) shutdown() {
	p.log.Info().Int("pending", len(p.queue)).Msg("MonitorPublisher stopping, draining queue...")

	drainCtx, cancel := context.WithTimeout(context.Background(), MonitorDrainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-p.queue:
			if drainCtx.Err() != nil {
				return
			}
			p.publish(drainCtx, ev)
		default:
			return
		}
	}
}
