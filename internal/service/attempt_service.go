package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/olpm-engine/internal/clock"
	"github.com/stemsi/olpm-engine/internal/engine"
	"github.com/stemsi/olpm-engine/internal/logger"
	"github.com/stemsi/olpm-engine/internal/model"
)

// ErrAttemptNotFound is returned for unknown attempts and for attempts owned
// by another token; the two are indistinguishable to the caller.
var ErrAttemptNotFound = errors.New("attempt not found")

// RepositoryFactory returns an Assessment Repository that authenticates with
// token. An empty token means the server default.
type RepositoryFactory func(token string) engine.Repository

// EventSink receives every event of every attempt, e.g. the monitor publisher.
type EventSink interface {
	Enqueue(ev model.Event) bool
}

// Attempt is one candidate's run through one test. It belongs to the bearer
// token that created it.
type Attempt struct {
	ID uuid.UUID
	// Subject is the sub claim of the creating token, for display only.
	Subject   string
	CreatedAt time.Time
	Engine    *engine.Engine

	owner      [sha256.Size]byte
	mu         sync.Mutex
	lastActive time.Time
}

// OwnedBy reports whether token is the one the attempt was created with.
func (a *Attempt) OwnedBy(token string) bool {
	sum := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(sum[:], a.owner[:]) == 1
}

func (a *Attempt) touch(now time.Time) {
	a.mu.Lock()
	a.lastActive = now
	a.mu.Unlock()
}

// LastActive is the time of the most recent lookup of the attempt.
func (a *Attempt) LastActive() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActive
}

// AttemptConfig tunes the engines created by AttemptService.
type AttemptConfig struct {
	TickInterval time.Duration
	TTL          time.Duration
	// Scheduler overrides the wall clock for every engine. Tests only.
	Scheduler clock.Scheduler
}

// AttemptService keeps the live attempts of this process in memory.
type AttemptService struct {
	mu       sync.RWMutex
	attempts map[uuid.UUID]*Attempt

	repos RepositoryFactory
	sink  EventSink
	cfg   AttemptConfig
	log   zerolog.Logger
	now   func() time.Time
}

// NewAttemptService creates an AttemptService. sink may be nil.
func NewAttemptService(repos RepositoryFactory, sink EventSink, cfg AttemptConfig, log zerolog.Logger) *AttemptService {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = engine.DefaultTickInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	now := time.Now
	if cfg.Scheduler != nil {
		now = cfg.Scheduler.Now
	}
	return &AttemptService{
		attempts: make(map[uuid.UUID]*Attempt),
		repos:    repos,
		sink:     sink,
		cfg:      cfg,
		log:      logger.Component(log, "attempt_service"),
		now:      now,
	}
}

// Create loads the test behind link into a new attempt. Nothing is kept when
// the load fails.
func (s *AttemptService) Create(ctx context.Context, link, token, subject string) (*Attempt, *model.TestDefinition, error) {
	id := uuid.New()

	opts := []engine.Option{
		engine.WithAttemptID(id.String()),
		engine.WithTickInterval(s.cfg.TickInterval),
		engine.WithLogger(s.log.With().Str("attempt_id", id.String()).Logger()),
	}
	if s.cfg.Scheduler != nil {
		opts = append(opts, engine.WithScheduler(s.cfg.Scheduler))
	}
	eng := engine.New(s.repos(token), opts...)

	if s.sink != nil {
		s.forward(eng)
	}

	def, err := eng.LoadTest(ctx, link)
	if err != nil {
		eng.Close()
		return nil, nil, err
	}

	now := s.now()
	a := &Attempt{
		ID:         id,
		Subject:    subject,
		CreatedAt:  now,
		Engine:     eng,
		owner:      sha256.Sum256([]byte(token)),
		lastActive: now,
	}

	s.mu.Lock()
	s.attempts[id] = a
	s.mu.Unlock()

	s.log.Info().
		Str("attempt_id", id.String()).
		Str("test_id", def.ID).
		Str("subject", subject).
		Msg("Attempt created")
	return a, def, nil
}

// Get returns the attempt with id if token owns it.
func (s *AttemptService) Get(id uuid.UUID, token string) (*Attempt, error) {
	s.mu.RLock()
	a, ok := s.attempts[id]
	s.mu.RUnlock()
	if !ok || !a.OwnedBy(token) {
		return nil, ErrAttemptNotFound
	}
	a.touch(s.now())
	return a, nil
}

// Touch marks a as in use, postponing its reaping.
func (s *AttemptService) Touch(a *Attempt) {
	a.touch(s.now())
}

// Reload installs a fresh session for link in an existing attempt. The
// attempt keeps the repository of its owner, which token must be.
func (s *AttemptService) Reload(ctx context.Context, id uuid.UUID, token, link string) (*model.TestDefinition, error) {
	a, err := s.Get(id, token)
	if err != nil {
		return nil, err
	}
	return a.Engine.LoadTest(ctx, link)
}

// Remove exits and forgets the attempt if token owns it.
func (s *AttemptService) Remove(id uuid.UUID, token string) error {
	s.mu.Lock()
	a, ok := s.attempts[id]
	if !ok || !a.OwnedBy(token) {
		s.mu.Unlock()
		return ErrAttemptNotFound
	}
	delete(s.attempts, id)
	s.mu.Unlock()

	a.Engine.Close()
	return nil
}

// Count returns the number of live attempts.
func (s *AttemptService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attempts)
}

// TestAttempt is one live attempt as seen by the monitor.
type TestAttempt struct {
	ID       uuid.UUID
	Subject  string
	Snapshot model.Snapshot
}

// AttemptsForTest returns the state of every live attempt at testID.
func (s *AttemptService) AttemptsForTest(testID string) []TestAttempt {
	s.mu.RLock()
	attempts := make([]*Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		attempts = append(attempts, a)
	}
	s.mu.RUnlock()

	out := make([]TestAttempt, 0)
	for _, a := range attempts {
		if snap := a.Engine.Snapshot(); snap.TestID == testID {
			out = append(out, TestAttempt{ID: a.ID, Subject: a.Subject, Snapshot: snap})
		}
	}
	return out
}

// Reap drops attempts that have been idle for longer than the TTL and
// returns how many were removed. An attempt whose countdown is running is
// kept: expiry will submit it.
func (s *AttemptService) Reap() int {
	cutoff := s.now().Add(-s.cfg.TTL)

	s.mu.Lock()
	var stale []*Attempt
	for id, a := range s.attempts {
		switch a.Engine.Snapshot().Phase {
		case model.PhaseInProgress, model.PhaseSubmitting:
			continue
		}
		if a.LastActive().Before(cutoff) {
			stale = append(stale, a)
			delete(s.attempts, id)
		}
	}
	s.mu.Unlock()

	for _, a := range stale {
		snap := a.Engine.Snapshot()
		s.log.Debug().
			Str("attempt_id", a.ID.String()).
			Str("subject", a.Subject).
			Str("phase", string(snap.Phase)).
			Dur("age", s.now().Sub(a.CreatedAt)).
			Msg("Reaping idle attempt")
		a.Engine.Close()
	}
	if len(stale) > 0 {
		s.log.Info().Int("count", len(stale)).Msg("Reaped idle attempts")
	}
	return len(stale)
}

// StartReaper runs Reap every interval until ctx is cancelled.
func (s *AttemptService) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap()
		}
	}
}

// Close exits every attempt.
func (s *AttemptService) Close() {
	s.mu.Lock()
	attempts := s.attempts
	s.attempts = make(map[uuid.UUID]*Attempt)
	s.mu.Unlock()

	for _, a := range attempts {
		a.Engine.Close()
	}
}

func (s *AttemptService) forward(eng *engine.Engine) {
	events, _ := eng.Subscribe(64)
	go func() {
		for ev := range events {
			s.sink.Enqueue(ev)
		}
	}()
}
