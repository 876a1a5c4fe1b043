package model

import "time"

// Phase enumerates the states of a test-taking session.
type Phase string

const (
	PhaseNotStarted Phase = "NOT_STARTED"
	PhaseInProgress Phase = "IN_PROGRESS"
	PhasePaused     Phase = "PAUSED"
	PhaseSubmitting Phase = "SUBMITTING"
	PhaseSubmitted  Phase = "SUBMITTED"
	PhaseExited     Phase = "EXITED"
	PhaseErrored    Phase = "ERRORED"
)

// Terminal reports whether no further command can change the session.
func (p Phase) Terminal() bool {
	return p == PhaseSubmitted || p == PhaseExited
}

// Snapshot is a read-only copy of the engine state handed to observers.
type Snapshot struct {
	AttemptID        string            `json:"attempt_id,omitempty"`
	TestID           string            `json:"test_id,omitempty"`
	Title            string            `json:"title,omitempty"`
	Phase            Phase             `json:"phase"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	DurationSeconds  int               `json:"duration_seconds"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Answers          AnswerMap         `json:"answers"`
	AnsweredCount    int               `json:"answered_count"`
	TotalQuestions   int               `json:"total_questions"`
	Result           *SubmissionResult `json:"result,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// EventType distinguishes countdown ticks, phase transitions and answer
// changes.
type EventType string

const (
	EventTick   EventType = "tick"
	EventPhase  EventType = "phase"
	EventAnswer EventType = "answer"
)

// Event is a notification carrying the state right after the change.
type Event struct {
	Type     EventType `json:"type"`
	Snapshot Snapshot  `json:"snapshot"`
}
