package handler

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/olpm-engine/internal/config"
	"github.com/stemsi/olpm-engine/internal/logger"
	"github.com/stemsi/olpm-engine/internal/model"
	"github.com/stemsi/olpm-engine/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
)

// MonitorStats summarises the attempts at one test.
type MonitorStats struct {
	TotalAttempts   int `json:"total_attempts"`
	TotalNotStarted int `json:"total_not_started"`
	TotalInProgress int `json:"total_in_progress"`
	TotalPaused     int `json:"total_paused"`
	TotalSubmitted  int `json:"total_submitted"`
	TotalErrored    int `json:"total_errored"`
}

// MonitorAttempt is the proctor's view of one attempt. Answers are never
// included.
type MonitorAttempt struct {
	AttemptID        string      `json:"attempt_id"`
	Subject          string      `json:"subject,omitempty"`
	Phase            model.Phase `json:"phase"`
	RemainingSeconds int         `json:"remaining_seconds"`
	AnsweredCount    int         `json:"answered_count"`
	TotalQuestions   int         `json:"total_questions"`
	Score            *float64    `json:"score,omitempty"`
}

func newMonitorAttempt(a service.TestAttempt) MonitorAttempt {
	snap := a.Snapshot
	out := MonitorAttempt{
		AttemptID:        a.ID.String(),
		Subject:          a.Subject,
		Phase:            snap.Phase,
		RemainingSeconds: snap.RemainingSeconds,
		AnsweredCount:    snap.AnsweredCount,
		TotalQuestions:   snap.TotalQuestions,
	}
	if snap.Result != nil {
		score := snap.Result.Score
		out.Score = &score
	}
	return out
}

func summarize(attempts []MonitorAttempt) MonitorStats {
	stats := MonitorStats{TotalAttempts: len(attempts)}
	for _, s := range attempts {
		switch s.Phase {
		case model.PhaseNotStarted:
			stats.TotalNotStarted++
		case model.PhaseInProgress:
			stats.TotalInProgress++
		case model.PhasePaused:
			stats.TotalPaused++
		case model.PhaseSubmitting, model.PhaseSubmitted:
			stats.TotalSubmitted++
		case model.PhaseErrored:
			stats.TotalErrored++
		}
	}
	return stats
}

// MonitorHandler serves the proctor view of a test. With Redis configured it
// relays events from every instance; otherwise it refreshes from local state.
// The route is guarded by the proctor token, not candidate tokens.
type MonitorHandler struct {
	rdb      *redis.Client
	attempts *service.AttemptService
	log      zerolog.Logger
}

// NewMonitorHandler creates a MonitorHandler. rdb may be nil.
func NewMonitorHandler(rdb *redis.Client, attempts *service.AttemptService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:      rdb,
		attempts: attempts,
		log:      logger.Component(log, "monitor_handler"),
	}
}

// MonitorTestSSE godoc
// GET /api/v1/monitor/tests/:test_id
func (h *MonitorHandler) MonitorTestSSE(c *gin.Context) {
	testID := c.Param("test_id")
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, testID, "snapshot")

	var relay <-chan *redis.Message
	if h.rdb != nil {
		pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.TestMonitorChannel(testID))
		defer pubsub.Close()
		relay = pubsub.Channel()
	}

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("test_id", testID).Bool("relay", relay != nil).Msg("Proctor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("test_id", testID).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-relay:
			if !ok {
				relay = nil
				continue
			}
			// Already JSON; forward as is.
			writeSSEData(c, []byte(msg.Payload))

		case <-refreshTicker.C:
			h.sendSnapshot(c, testID, "refresh")

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, testID, kind string) {
	live := h.attempts.AttemptsForTest(testID)
	attempts := make([]MonitorAttempt, 0, len(live))
	for _, a := range live {
		attempts = append(attempts, newMonitorAttempt(a))
	}
	c.SSEvent("message", map[string]interface{}{
		"type": kind,
		"data": map[string]interface{}{
			"test_id":  testID,
			"stats":    summarize(attempts),
			"attempts": attempts,
		},
	})
	c.Writer.Flush()
}

func writeSSEData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
