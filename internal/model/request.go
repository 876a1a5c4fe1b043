package model

import "time"

// CreateAttemptRequest is the body of POST /api/v1/attempts.
type CreateAttemptRequest struct {
	Link string `json:"link" binding:"required,max=512"`
}

// LoadTestRequest is the body of POST /api/v1/attempts/:id/load.
type LoadTestRequest struct {
	Link string `json:"link" binding:"required,max=512"`
}

// SelectAnswerRequest is the body of PUT /api/v1/attempts/:id/answers.
type SelectAnswerRequest struct {
	QuestionID string      `json:"question_id" binding:"required"`
	Option     OptionLabel `json:"option" binding:"required,oneof=A B C D"`
}

// AttemptView is returned when an attempt is created or reloaded.
type AttemptView struct {
	AttemptID string          `json:"attempt_id"`
	CreatedAt time.Time       `json:"created_at"`
	Test      *TestDefinition `json:"test"`
	Snapshot  Snapshot        `json:"snapshot"`
}

// SubmitView is returned by a submit command.
type SubmitView struct {
	AlreadySubmitted bool              `json:"already_submitted"`
	Result           *SubmissionResult `json:"result"`
	Snapshot         Snapshot          `json:"snapshot"`
}
