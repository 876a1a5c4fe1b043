// Package engine implements the timed test-taking session: countdown,
// answer tracking, pause/resume and the one-shot submission latch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/olpm-engine/internal/clock"
	"github.com/stemsi/olpm-engine/internal/logger"
	"github.com/stemsi/olpm-engine/internal/model"
	"github.com/stemsi/olpm-engine/internal/validator"
)

// DefaultTickInterval is the countdown cadence.
const DefaultTickInterval = time.Second

// Repository is the Assessment Repository as seen by the engine.
type Repository interface {
	FetchTest(ctx context.Context, link string) (*model.TestDefinition, error)
	SubmitTest(ctx context.Context, testID string, payload model.SubmissionPayload) (*model.SubmissionResult, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheduler replaces the wall-clock tick source.
func WithScheduler(s clock.Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// WithTickInterval changes the countdown cadence. Each tick still counts as
// one second of test time.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = logger.Component(log, "engine") }
}

// WithAttemptID tags snapshots and log lines with the owning attempt.
func WithAttemptID(id string) Option {
	return func(e *Engine) { e.attemptID = id }
}

// Engine owns one SessionState. All methods are safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	repo      Repository
	sched     clock.Scheduler
	interval  time.Duration
	log       zerolog.Logger
	attemptID string

	sess    *session
	loadSeq uint64

	subs    map[int]chan model.Event
	nextSub int
	closed  bool
}

type session struct {
	def       *model.TestDefinition
	phase     model.Phase
	startedAt time.Time
	remaining int
	answers   model.AnswerMap
	result    *model.SubmissionResult
	lastErr   error

	stopTicks clock.CancelFunc
	tickSeq   uint64
	lastTick  time.Time

	// pending is captured when the latch is first acquired and resent
	// unchanged on every retry.
	pending  *model.SubmissionPayload
	inflight *submission
}

type submission struct {
	done   chan struct{}
	reason model.SubmitReason
	result *model.SubmissionResult
	err    error
}

// New creates an engine with no test loaded.
func New(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		sched:    clock.NewReal(),
		interval: DefaultTickInterval,
		log:      zerolog.Nop(),
		subs:     make(map[int]chan model.Event),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadTest fetches the test behind link and installs a fresh session in
// phase NOT_STARTED. The timer is not started.
func (e *Engine) LoadTest(ctx context.Context, link string) (*model.TestDefinition, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, ErrInvalidLink
	}

	e.mu.Lock()
	if !e.canLoadLocked() {
		err := invalidState("load", e.sess.phase)
		e.mu.Unlock()
		return nil, err
	}
	e.loadSeq++
	seq := e.loadSeq
	e.mu.Unlock()

	def, err := e.repo.FetchTest(ctx, link)
	if err != nil {
		e.log.Warn().Err(err).Str("link", link).Msg("Load test failed")
		return nil, err
	}
	if err := checkDefinition(def); err != nil {
		e.log.Warn().Err(err).Str("link", link).Msg("Rejected test definition")
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if seq != e.loadSeq || !e.canLoadLocked() {
		return nil, fmt.Errorf("%w: load superseded", ErrInvalidState)
	}
	if e.sess != nil {
		e.stopTickerLocked(e.sess)
	}
	e.sess = &session{
		def:       def,
		phase:     model.PhaseNotStarted,
		remaining: def.DurationSeconds,
		answers:   model.AnswerMap{},
	}

	e.log.Info().
		Str("attempt_id", e.attemptID).
		Str("test_id", def.ID).
		Int("duration_seconds", def.DurationSeconds).
		Int("questions", len(def.Questions)).
		Msg("Test loaded")
	e.emitLocked(model.EventPhase)
	return def, nil
}

// Start moves NOT_STARTED to IN_PROGRESS and begins the countdown.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sess
	if s == nil {
		return ErrNoSession
	}
	if s.phase != model.PhaseNotStarted {
		return invalidState("start", s.phase)
	}

	s.startedAt = e.sched.Now()
	e.transitionLocked(s, model.PhaseInProgress)
	e.startTickerLocked(s)
	return nil
}

// SelectAnswer records option for questionID. The last selection wins.
func (e *Engine) SelectAnswer(questionID string, option model.OptionLabel) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sess
	if s == nil {
		return ErrNoSession
	}
	if s.phase != model.PhaseInProgress {
		return invalidState("select answer", s.phase)
	}
	if !option.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidOption, option)
	}
	if s.def.QuestionIndex(questionID) < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownQuestion, questionID)
	}

	if prev, ok := s.answers[questionID]; ok && prev == option {
		return nil
	}
	s.answers[questionID] = option
	e.emitLocked(model.EventAnswer)
	return nil
}

// Pause freezes the countdown.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sess
	if s == nil {
		return ErrNoSession
	}
	if s.phase != model.PhaseInProgress {
		return invalidState("pause", s.phase)
	}

	e.stopTickerLocked(s)
	e.transitionLocked(s, model.PhasePaused)
	return nil
}

// Resume restarts the countdown from where Pause froze it.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sess
	if s == nil {
		return ErrNoSession
	}
	if s.phase != model.PhasePaused {
		return invalidState("resume", s.phase)
	}

	e.transitionLocked(s, model.PhaseInProgress)
	e.startTickerLocked(s)
	return nil
}

// Submit sends the answers exactly once per latch acquisition.
//
// The first caller from IN_PROGRESS, PAUSED or ERRORED acquires the latch and
// performs the request. Callers arriving while it is in flight wait for it
// and receive its outcome; on success that outcome is the result together
// with ErrAlreadySubmitted. After SUBMITTED every call returns the stored
// result with ErrAlreadySubmitted. Once started, the request is not cancelled
// by ctx; ctx only bounds how long a waiting caller blocks.
func (e *Engine) Submit(ctx context.Context, reason model.SubmitReason) (*model.SubmissionResult, error) {
	if reason == "" {
		reason = model.SubmitUserInitiated
	}

	e.mu.Lock()
	s := e.sess
	if s == nil {
		e.mu.Unlock()
		return nil, ErrNoSession
	}

	switch s.phase {
	case model.PhaseSubmitted:
		res := s.result
		e.mu.Unlock()
		return res, ErrAlreadySubmitted

	case model.PhaseSubmitting:
		sub := s.inflight
		e.mu.Unlock()
		return awaitSubmission(ctx, sub)

	case model.PhaseInProgress, model.PhasePaused, model.PhaseErrored:
		sub, payload := e.acquireLatchLocked(s, reason)
		e.mu.Unlock()
		return e.performSubmit(context.WithoutCancel(ctx), s, sub, payload)

	default:
		err := invalidState("submit", s.phase)
		e.mu.Unlock()
		return nil, err
	}
}

// Exit discards the session without submitting. An in-flight submission is
// left to finish; its outcome is dropped. Calling Exit in a terminal phase
// does nothing.
func (e *Engine) Exit() {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Any load still waiting on the network must not resurrect the session.
	e.loadSeq++

	s := e.sess
	if s == nil || s.phase.Terminal() {
		return
	}

	e.stopTickerLocked(s)
	testID := s.def.ID
	e.sess = &session{phase: model.PhaseExited, answers: model.AnswerMap{}}

	e.log.Info().
		Str("attempt_id", e.attemptID).
		Str("test_id", testID).
		Str("from", string(s.phase)).
		Msg("Session exited")
	e.emitLocked(model.EventPhase)
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Definition returns the loaded test, or nil.
func (e *Engine) Definition() *model.TestDefinition {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	return e.sess.def
}

// Subscribe registers an observer. Events are dropped for a subscriber whose
// buffer is full. The returned func unsubscribes and closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan model.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.Event, buffer)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

// Close exits the session and closes every subscription.
func (e *Engine) Close() {
	e.Exit()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (e *Engine) canLoadLocked() bool {
	if e.sess == nil {
		return true
	}
	switch e.sess.phase {
	case model.PhaseNotStarted, model.PhaseSubmitted, model.PhaseExited:
		return true
	}
	return false
}

func (e *Engine) startTickerLocked(s *session) {
	s.tickSeq++
	seq := s.tickSeq
	s.lastTick = e.sched.Now()
	s.stopTicks = e.sched.Every(e.interval, func() { e.tick(s, seq) })
}

func (e *Engine) stopTickerLocked(s *session) {
	// Bumping the sequence orphans any tick already queued by the old ticker.
	s.tickSeq++
	if s.stopTicks != nil {
		s.stopTicks()
		s.stopTicks = nil
	}
}

func (e *Engine) tick(s *session, seq uint64) {
	e.mu.Lock()
	if e.sess != s || s.tickSeq != seq || s.phase != model.PhaseInProgress {
		e.mu.Unlock()
		return
	}

	now := e.sched.Now()
	steps := int((now.Sub(s.lastTick) + e.interval/2) / e.interval)
	if steps < 1 {
		steps = 1
	}
	s.lastTick = s.lastTick.Add(time.Duration(steps) * e.interval)
	s.remaining -= steps

	e.log.Trace().Int("remaining", s.remaining).Msg("Tick")
	e.emitLocked(model.EventTick)
	if s.remaining > 0 {
		e.mu.Unlock()
		return
	}

	// Expired: take the latch inside this critical section so no later tick
	// can be counted.
	e.log.Info().
		Str("attempt_id", e.attemptID).
		Str("test_id", s.def.ID).
		Int("overrun_seconds", -s.remaining).
		Msg("Time expired, auto-submitting")
	sub, payload := e.acquireLatchLocked(s, model.SubmitTimeExpired)
	e.mu.Unlock()

	_, _ = e.performSubmit(context.Background(), s, sub, payload)
}

func (e *Engine) acquireLatchLocked(s *session, reason model.SubmitReason) (*submission, model.SubmissionPayload) {
	e.stopTickerLocked(s)

	if s.pending == nil {
		taken := ClampTimeTaken(s.def.DurationSeconds, s.remaining)
		s.pending = &model.SubmissionPayload{
			Answers:          s.answers.ForSubmission(s.def),
			TimeTakenSeconds: taken,
		}
		s.remaining = s.def.DurationSeconds - taken
	}

	sub := &submission{done: make(chan struct{}), reason: reason}
	s.inflight = sub
	s.lastErr = nil
	e.log.Info().
		Str("attempt_id", e.attemptID).
		Str("reason", string(reason)).
		Int("time_taken_seconds", s.pending.TimeTakenSeconds).
		Msg("Submission latch acquired")
	e.transitionLocked(s, model.PhaseSubmitting)
	return sub, *s.pending
}

func (e *Engine) performSubmit(ctx context.Context, s *session, sub *submission, payload model.SubmissionPayload) (*model.SubmissionResult, error) {
	res, err := e.repo.SubmitTest(ctx, s.def.ID, payload)
	if err == nil && res == nil {
		err = errors.New("empty submission result")
	}
	if err != nil {
		res = nil
		err = asNetworkError(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sub.result, sub.err = res, err
	close(sub.done)

	if e.sess != s || s.inflight != sub {
		e.log.Info().
			Str("attempt_id", e.attemptID).
			Bool("success", err == nil).
			Msg("Submission finished after session was discarded")
		return res, err
	}

	s.inflight = nil
	if err != nil {
		s.lastErr = err
		e.log.Warn().Err(err).
			Str("attempt_id", e.attemptID).
			Str("test_id", s.def.ID).
			Msg("Submission failed, answers kept for retry")
		e.transitionLocked(s, model.PhaseErrored)
		return nil, err
	}

	s.result = res
	e.log.Info().
		Str("attempt_id", e.attemptID).
		Str("test_id", s.def.ID).
		Float64("score", res.Score).
		Float64("percentage", res.Percentage).
		Msg("Test submitted")
	e.transitionLocked(s, model.PhaseSubmitted)
	return res, nil
}

func awaitSubmission(ctx context.Context, sub *submission) (*model.SubmissionResult, error) {
	select {
	case <-sub.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if sub.err != nil {
		return nil, sub.err
	}
	return sub.result, ErrAlreadySubmitted
}

func (e *Engine) transitionLocked(s *session, to model.Phase) {
	from := s.phase
	s.phase = to
	e.log.Debug().
		Str("attempt_id", e.attemptID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Phase changed")
	e.emitLocked(model.EventPhase)
}

func (e *Engine) emitLocked(typ model.EventType) {
	if len(e.subs) == 0 {
		return
	}
	ev := model.Event{Type: typ, Snapshot: e.snapshotLocked()}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *Engine) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{AttemptID: e.attemptID, Phase: model.PhaseNotStarted, Answers: model.AnswerMap{}}
	s := e.sess
	if s == nil {
		return snap
	}

	snap.Phase = s.phase
	snap.Answers = s.answers.Clone()
	snap.AnsweredCount = len(s.answers)
	snap.Result = s.result
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	if s.def != nil {
		snap.TestID = s.def.ID
		snap.Title = s.def.Title
		snap.DurationSeconds = s.def.DurationSeconds
		snap.TotalQuestions = len(s.def.Questions)
		snap.RemainingSeconds = max(s.remaining, 0)
	}
	if !s.startedAt.IsZero() {
		started := s.startedAt
		snap.StartedAt = &started
	}
	return snap
}

// ClampTimeTaken converts a remaining-time reading into seconds spent,
// bounded to [0, duration].
func ClampTimeTaken(duration, remaining int) int {
	taken := duration - remaining
	if taken < 0 {
		return 0
	}
	if taken > duration {
		return duration
	}
	return taken
}

func checkDefinition(def *model.TestDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: empty response", ErrInvalidTest)
	}
	if err := validator.Struct(def); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTest, err)
	}
	seen := make(map[string]struct{}, len(def.Questions))
	for _, q := range def.Questions {
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidTest, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}
