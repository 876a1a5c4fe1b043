package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/olpm-engine/internal/engine"
	"github.com/stemsi/olpm-engine/internal/logger"
	"github.com/stemsi/olpm-engine/internal/middleware"
	"github.com/stemsi/olpm-engine/internal/model"
	"github.com/stemsi/olpm-engine/internal/response"
	"github.com/stemsi/olpm-engine/internal/service"
	ws "github.com/stemsi/olpm-engine/internal/websocket"
)

const submitTimeout = 30 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams engine events to a client and accepts commands back.
type WSHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      logger.Component(log, "ws_handler"),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:id/stream
// Sends the current snapshot, then every tick, answer and phase change. Only
// the token that created the attempt may open its stream.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	id, ok := parseAttemptID(c)
	if !ok {
		return
	}
	a, err := h.attempts.Get(id, middleware.GetToken(c))
	if err != nil {
		failEngine(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("attempt_id", id.String()).Logger()
	wsLog.Info().Msg("Client connected")

	events, unsubscribe := a.Engine.Subscribe(64)
	defer unsubscribe()

	// gorilla allows a single concurrent writer; every frame goes through
	// the writer goroutine.
	out := make(chan interface{}, 16)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	if err := ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventSnapshot, Snapshot: a.Engine.Snapshot()}); err != nil {
		wsLog.Debug().Err(err).Msg("Initial snapshot failed")
		return
	}
	// An open stream keeps the attempt from being reaped.
	touch := func() { h.attempts.Touch(a) }
	go h.writeLoop(conn, wsLog, events, out, done, writerDone, touch)

	ws.KeepAlive(conn)
	for {
		var req ws.Request
		if err := ws.ReadJSON(conn, &req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		touch()
		reply := h.handleAction(a, wsLog, req)
		select {
		case out <- reply:
		case <-writerDone:
		}
	}

	close(done)
	<-writerDone
}

func (h *WSHandler) writeLoop(
	conn *websocket.Conn,
	wsLog zerolog.Logger,
	events <-chan model.Event,
	out <-chan interface{},
	done <-chan struct{},
	writerDone chan<- struct{},
	touch func(),
) {
	defer close(writerDone)

	ping := time.NewTicker(ws.PingPeriod)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "attempt closed"),
					time.Now().Add(ws.WriteWait))
				return
			}
			err = ws.WriteTyped(conn, ws.FromEngineEvent(ev))
		case msg := <-out:
			err = ws.WriteTyped(conn, msg)
		case <-ping.C:
			touch()
			err = ws.WritePing(conn)
		}
		if err != nil {
			wsLog.Debug().Err(err).Msg("Write failed, closing stream")
			conn.Close()
			return
		}
	}
}

// handleAction runs one client command and returns the frame to send back.
func (h *WSHandler) handleAction(a *service.Attempt, wsLog zerolog.Logger, req ws.Request) interface{} {
	var err error
	switch req.Action {
	case ws.ActionPing:
		return ws.PongResponse{Event: ws.EventPong}
	case ws.ActionSelect:
		err = a.Engine.SelectAnswer(req.QuestionID, req.Option)
	case ws.ActionStart:
		err = a.Engine.Start()
	case ws.ActionPause:
		err = a.Engine.Pause()
	case ws.ActionResume:
		err = a.Engine.Resume()
	case ws.ActionSubmit:
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		res, err := a.Engine.Submit(ctx, model.SubmitUserInitiated)
		already := errors.Is(err, engine.ErrAlreadySubmitted)
		if err != nil && !already {
			wsLog.Warn().Err(err).Msg("Submit failed")
			return wsError(err)
		}
		return ws.ResultResponse{Event: ws.EventResult, AlreadySubmitted: already, Result: res}
	default:
		wsLog.Warn().Str("action", string(req.Action)).Msg("Unknown action")
		return ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "unknown action: " + string(req.Action)}
	}

	if err != nil {
		return wsError(err)
	}
	return ws.StateResponse{Event: ws.EventSnapshot, Snapshot: a.Engine.Snapshot()}
}

func wsError(err error) ws.ErrorResponse {
	_, code := classify(err)
	return ws.ErrorResponse{Event: ws.EventError, Code: string(code), Error: err.Error()}
}
