package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/stemsi/olpm-engine/internal/engine"
	"github.com/stemsi/olpm-engine/internal/model"
	"github.com/stemsi/olpm-engine/internal/response"
	"github.com/stemsi/olpm-engine/internal/service"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrAttemptNotFound, http.StatusNotFound, response.ErrAttemptNotFound},
		{fmt.Errorf("%w: /tests/x", engine.ErrNotFound), http.StatusNotFound, response.ErrTestNotFound},
		{fmt.Errorf("%w: status 503", engine.ErrNetwork), http.StatusBadGateway, response.ErrRepositoryUnavailable},
		{engine.ErrInvalidTest, http.StatusBadGateway, response.ErrInvalidTest},
		{engine.ErrNoSession, http.StatusConflict, response.ErrInvalidState},
		{engine.ErrUnknownQuestion, http.StatusUnprocessableEntity, response.ErrUnknownQuestion},
		{engine.ErrInvalidOption, http.StatusBadRequest, response.ErrValidation},
		{engine.ErrInvalidLink, http.StatusBadRequest, response.ErrValidation},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestSummarize(t *testing.T) {
	stats := summarize([]MonitorAttempt{
		{Phase: model.PhaseInProgress},
		{Phase: model.PhaseInProgress},
		{Phase: model.PhasePaused},
		{Phase: model.PhaseSubmitted},
		{Phase: model.PhaseErrored},
	})
	assert.Equal(t, MonitorStats{
		TotalAttempts:   5,
		TotalInProgress: 2,
		TotalPaused:     1,
		TotalSubmitted:  1,
		TotalErrored:    1,
	}, stats)
}

func TestMonitorAttemptOmitsAnswers(t *testing.T) {
	id := uuid.New()
	got := newMonitorAttempt(service.TestAttempt{
		ID:      id,
		Subject: "student-3",
		Snapshot: model.Snapshot{
			AttemptID:        id.String(),
			Phase:            model.PhaseSubmitted,
			Answers:          model.AnswerMap{"q1": model.OptionB},
			AnsweredCount:    1,
			TotalQuestions:   2,
			RemainingSeconds: 40,
			Result:           &model.SubmissionResult{Score: 1, Percentage: 50},
		},
	})

	body, err := json.Marshal(got)
	assert.NoError(t, err)
	assert.NotContains(t, string(body), `"answers"`)
	assert.NotContains(t, string(body), `"q1"`)
	assert.Equal(t, "student-3", got.Subject)
	assert.Equal(t, 1, got.AnsweredCount)
	assert.Equal(t, 1.0, *got.Score)
}
