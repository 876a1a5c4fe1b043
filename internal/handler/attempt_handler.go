package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/olpm-engine/internal/engine"
	"github.com/stemsi/olpm-engine/internal/middleware"
	"github.com/stemsi/olpm-engine/internal/model"
	"github.com/stemsi/olpm-engine/internal/response"
	"github.com/stemsi/olpm-engine/internal/service"
	"github.com/stemsi/olpm-engine/internal/validator"
)

// AttemptHandler exposes the engine commands over HTTP.
type AttemptHandler struct {
	attempts *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attempts: attempts}
}

// CreateAttempt godoc
// POST /api/v1/attempts
// Loads the test behind a link into a new attempt. The timer is not started.
func (h *AttemptHandler) CreateAttempt(c *gin.Context) {
	var req model.CreateAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, def, err := h.attempts.Create(c.Request.Context(), req.Link, middleware.GetToken(c), middleware.GetSubject(c))
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Logger(c).Info().
		Str("attempt_id", a.ID.String()).
		Str("test_id", def.ID).
		Msg("Attempt opened")

	response.Success(c, http.StatusCreated, model.AttemptView{
		AttemptID: a.ID.String(),
		CreatedAt: a.CreatedAt,
		Test:      def,
		Snapshot:  a.Engine.Snapshot(),
	})
}

// GetAttempt godoc
// GET /api/v1/attempts/:id
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, a.Engine.Snapshot())
}

// GetTest godoc
// GET /api/v1/attempts/:id/test
// Returns the loaded test so a reconnecting client can render it again.
func (h *AttemptHandler) GetTest(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}
	def := a.Engine.Definition()
	if def == nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, def)
}

// LoadTest godoc
// POST /api/v1/attempts/:id/load
// Replaces the attempt's session with a fresh one for link.
func (h *AttemptHandler) LoadTest(c *gin.Context) {
	id, ok := parseAttemptID(c)
	if !ok {
		return
	}

	var req model.LoadTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token := middleware.GetToken(c)
	def, err := h.attempts.Reload(c.Request.Context(), id, token, req.Link)
	if err != nil {
		failEngine(c, err)
		return
	}

	a, err := h.attempts.Get(id, token)
	if err != nil {
		failEngine(c, err)
		return
	}
	response.Success(c, http.StatusOK, model.AttemptView{
		AttemptID: id.String(),
		CreatedAt: a.CreatedAt,
		Test:      def,
		Snapshot:  a.Engine.Snapshot(),
	})
}

// StartAttempt godoc
// POST /api/v1/attempts/:id/start
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	h.command(c, (*engine.Engine).Start)
}

// PauseAttempt godoc
// POST /api/v1/attempts/:id/pause
func (h *AttemptHandler) PauseAttempt(c *gin.Context) {
	h.command(c, (*engine.Engine).Pause)
}

// ResumeAttempt godoc
// POST /api/v1/attempts/:id/resume
func (h *AttemptHandler) ResumeAttempt(c *gin.Context) {
	h.command(c, (*engine.Engine).Resume)
}

// SelectAnswer godoc
// PUT /api/v1/attempts/:id/answers
func (h *AttemptHandler) SelectAnswer(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}

	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := a.Engine.SelectAnswer(req.QuestionID, req.Option); err != nil {
		failEngine(c, err)
		return
	}
	response.Success(c, http.StatusOK, a.Engine.Snapshot())
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:id/submit
// Submits once. Repeated calls return the stored result with
// already_submitted set. A repository failure answers 502 and keeps the
// answers for a retry.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}

	res, err := a.Engine.Submit(c.Request.Context(), model.SubmitUserInitiated)
	already := errors.Is(err, engine.ErrAlreadySubmitted)
	if err != nil && !already {
		response.Logger(c).Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Submit failed")
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.SubmitView{
		AlreadySubmitted: already,
		Result:           res,
		Snapshot:         a.Engine.Snapshot(),
	})
}

// ExitAttempt godoc
// POST /api/v1/attempts/:id/exit
// Abandons the attempt without submitting.
func (h *AttemptHandler) ExitAttempt(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}
	a.Engine.Exit()
	c.Status(http.StatusNoContent)
}

// DeleteAttempt godoc
// DELETE /api/v1/attempts/:id
// Exits and forgets the attempt.
func (h *AttemptHandler) DeleteAttempt(c *gin.Context) {
	id, ok := parseAttemptID(c)
	if !ok {
		return
	}
	if err := h.attempts.Remove(id, middleware.GetToken(c)); err != nil {
		failEngine(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AttemptHandler) command(c *gin.Context, cmd func(*engine.Engine) error) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := cmd(a.Engine); err != nil {
		failEngine(c, err)
		return
	}
	response.Success(c, http.StatusOK, a.Engine.Snapshot())
}

// lookup resolves the attempt in the path for the calling token. Attempts of
// other tokens are reported as not found.
func (h *AttemptHandler) lookup(c *gin.Context) (*service.Attempt, bool) {
	id, ok := parseAttemptID(c)
	if !ok {
		return nil, false
	}
	a, err := h.attempts.Get(id, middleware.GetToken(c))
	if err != nil {
		failEngine(c, err)
		return nil, false
	}
	return a, true
}

func parseAttemptID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// failEngine maps engine and service errors to the API error envelope.
func failEngine(c *gin.Context, err error) {
	status, code := classify(err)
	switch code {
	case response.ErrInvalidState, response.ErrValidation, response.ErrUnknownQuestion, response.ErrRepositoryUnavailable:
		response.FailWithDetail(c, status, code, err.Error())
	default:
		if code == response.ErrInternal {
			response.Logger(c).Error().Err(err).Msg("Unhandled attempt error")
		}
		response.Fail(c, status, code)
	}
}

func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, response.ErrTestNotFound
	case errors.Is(err, engine.ErrNetwork):
		return http.StatusBadGateway, response.ErrRepositoryUnavailable
	case errors.Is(err, engine.ErrInvalidTest):
		return http.StatusBadGateway, response.ErrInvalidTest
	case errors.Is(err, engine.ErrInvalidState):
		return http.StatusConflict, response.ErrInvalidState
	case errors.Is(err, engine.ErrUnknownQuestion):
		return http.StatusUnprocessableEntity, response.ErrUnknownQuestion
	case errors.Is(err, engine.ErrInvalidLink), errors.Is(err, engine.ErrInvalidOption):
		return http.StatusBadRequest, response.ErrValidation
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
