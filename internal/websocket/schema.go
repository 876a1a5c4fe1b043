package websocket

import "github.com/stemsi/olpm-engine/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect Action = "select"
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// Request is a command sent by the client. Only select uses the answer fields.
type Request struct {
	Action     Action            `json:"action"`
	QuestionID string            `json:"question_id,omitempty"`
	Option     model.OptionLabel `json:"option,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot Event = "snapshot"
	EventTick     Event = "tick"
	EventPhase    Event = "phase"
	EventAnswer   Event = "answer"
	EventResult   Event = "result"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// StateResponse carries the session state after a change.
type StateResponse struct {
	Event    Event          `json:"event"`
	Snapshot model.Snapshot `json:"snapshot"`
}

// ResultResponse answers a submit action.
type ResultResponse struct {
	Event            Event                   `json:"event"`
	AlreadySubmitted bool                    `json:"already_submitted"`
	Result           *model.SubmissionResult `json:"result"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// FromEngineEvent maps an engine notification onto its wire event.
func FromEngineEvent(ev model.Event) StateResponse {
	out := StateResponse{Event: EventPhase, Snapshot: ev.Snapshot}
	switch ev.Type {
	case model.EventTick:
		out.Event = EventTick
	case model.EventAnswer:
		out.Event = EventAnswer
	}
	return out
}
