package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/olpm-engine/internal/response"
	"github.com/stemsi/olpm-engine/internal/service"
)

const pingTimeout = 2 * time.Second

type healthReport struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	GoVersion    string `json:"go_version"`
	Goroutines   int    `json:"goroutines"`
	HeapAlloc    uint64 `json:"heap_alloc_bytes"`
	LiveAttempts int    `json:"live_attempts"`
	Redis        string `json:"redis"`
}

// HealthHandler reports process and dependency status.
type HealthHandler struct {
	rdb       *redis.Client
	attempts  *service.AttemptService
	startTime time.Time
}

// NewHealthHandler creates a HealthHandler. rdb may be nil.
func NewHealthHandler(rdb *redis.Client, attempts *service.AttemptService) *HealthHandler {
	return &HealthHandler{rdb: rdb, attempts: attempts, startTime: time.Now()}
}

// Health godoc
// GET /health
// Answers 503 only when a configured Redis cannot be reached.
func (h *HealthHandler) Health(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	report := healthReport{
		Status:       "ok",
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    ms.HeapAlloc,
		LiveAttempts: h.attempts.Count(),
		Redis:        "disabled",
	}

	status := http.StatusOK
	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			report.Status, report.Redis = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			report.Redis = "ok"
		}
	}

	response.Success(c, status, report)
}
