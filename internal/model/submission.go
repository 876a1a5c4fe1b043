package model

// SubmitReason records which trigger asked for the submission.
type SubmitReason string

const (
	SubmitUserInitiated SubmitReason = "USER_INITIATED"
	SubmitTimeExpired   SubmitReason = "TIME_EXPIRED"
)

// SubmissionPayload is the body of POST /tests/{id}/submit.
type SubmissionPayload struct {
	Answers          map[string]*OptionLabel `json:"answers"`
	TimeTakenSeconds int                     `json:"time_taken_seconds"`
}

// SubmissionResult is the scored outcome returned by the repository.
type SubmissionResult struct {
	Score      float64          `json:"score"`
	Percentage float64          `json:"percentage"`
	Answers    []QuestionReview `json:"answers"`
}

// QuestionReview is the per-question correctness detail used for review.
type QuestionReview struct {
	QuestionID     string       `json:"question_id"`
	SelectedOption *OptionLabel `json:"selected_option"`
	CorrectOption  OptionLabel  `json:"correct_option,omitempty"`
	IsCorrect      bool         `json:"is_correct"`
}
