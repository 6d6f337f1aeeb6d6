package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/sirim-scanner/internal/record"
	"github.com/zombor/sirim-scanner/internal/scan"
)

// ErrTooManySessions is returned when the open session limit is reached
var ErrTooManySessions = errors.New("too many open scan sessions")

const (
	// DefaultMaxSessions bounds the number of open scan sessions
	DefaultMaxSessions = 64

	// DefaultIdleTimeout is how long a session may go untouched before it is closed
	DefaultIdleTimeout = 15 * time.Minute
)

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now().UTC()
}

type sessionEntry struct {
	session    *scan.Session
	lastActive time.Time
}

// Sessions keeps the open scan sessions by ID. Sessions left idle past the
// idle timeout are closed, and finished sessions make room for new ones
// when the limit is reached.
type Sessions struct {
	config      scan.Config
	max         int
	idleTimeout time.Duration
	timeSource  record.TimeSource

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewSessions creates a registry whose sessions share config
func NewSessions(config scan.Config, max int) *Sessions {
	return NewSessionsWithDeps(config, max, DefaultIdleTimeout, wallClock{})
}

// NewSessionsWithDeps creates a registry with a custom idle timeout and clock
func NewSessionsWithDeps(config scan.Config, max int, idleTimeout time.Duration, timeSource record.TimeSource) *Sessions {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Sessions{
		config:      config,
		max:         max,
		idleTimeout: idleTimeout,
		timeSource:  timeSource,
		sessions:    make(map[string]*sessionEntry),
	}
}

// Create opens a new session
func (s *Sessions) Create() (*scan.Session, error) {
	s.mu.Lock()
	now := s.timeSource.Now()
	evicted := s.evictLocked(now, false)
	if len(s.sessions) >= s.max {
		evicted = append(evicted, s.evictLocked(now, true)...)
	}
	if len(s.sessions) >= s.max {
		s.mu.Unlock()
		closeAll(evicted)
		return nil, ErrTooManySessions
	}

	session := scan.NewSession(uuid.NewString(), s.config)
	s.sessions[session.ID()] = &sessionEntry{session: session, lastActive: now}
	open := len(s.sessions)
	s.mu.Unlock()

	closeAll(evicted)
	slog.Debug("Scan session opened", "session", session.ID(), "open", open)
	return session, nil
}

// evictLocked forgets sessions idle past the timeout, and finished ones too
// when finished is set. The caller closes the returned sessions.
func (s *Sessions) evictLocked(now time.Time, finished bool) []*scan.Session {
	var evicted []*scan.Session
	for id, entry := range s.sessions {
		idle := now.Sub(entry.lastActive) >= s.idleTimeout
		if !idle && !(finished && entry.session.Status().Phase.Finished()) {
			continue
		}
		delete(s.sessions, id)
		evicted = append(evicted, entry.session)
		slog.Debug("Scan session evicted", "session", id, "idle", idle)
	}
	return evicted
}

// Sweep closes the sessions idle past the timeout and returns how many
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	evicted := s.evictLocked(s.timeSource.Now(), false)
	s.mu.Unlock()

	closeAll(evicted)
	return len(evicted)
}

func closeAll(sessions []*scan.Session) {
	for _, session := range sessions {
		session.Close()
	}
}

// Get returns an open session and marks it active
func (s *Sessions) Get(id string) (*scan.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	entry.lastActive = s.timeSource.Now()
	return entry.session, true
}

// Close closes and forgets a session. It reports whether the session existed.
func (s *Sessions) Close(id string) bool {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		entry.session.Close()
	}
	return ok
}

// CloseAll closes every open session
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()

	for _, entry := range sessions {
		entry.session.Close()
	}
}

// Len returns the number of open sessions
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
