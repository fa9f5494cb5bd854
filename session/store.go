package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhubert/memory-mcp/logger"
)

const (
	// DefaultMaxSessions is the session count above which Create sweeps.
	DefaultMaxSessions = 100
	// DefaultMaxAge is the age past which a session is swept.
	DefaultMaxAge = time.Hour
)

// ErrNotFound is returned for an unknown or already removed session id.
var ErrNotFound = errors.New("session: not found")

// Info is a point-in-time view of one session.
type Info struct {
	ID        string
	Query     string
	Total     int
	Cursor    int
	CreatedAt time.Time
}

// Remaining is the number of items not yet delivered.
func (i Info) Remaining() int {
	return i.Total - i.Cursor
}

type entry struct {
	query     string
	results   []any
	cursor    int
	createdAt time.Time
}

func (e *entry) info(id string) Info {
	return Info{
		ID:        id,
		Query:     e.query,
		Total:     len(e.results),
		Cursor:    e.cursor,
		CreatedAt: e.createdAt,
	}
}

// Store is a mutex-guarded map of paginated result sets.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry

	maxSessions int
	maxAge      time.Duration
	now         func() time.Time
	newID       func() string
	log         *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now. Tests use it to age sessions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator replaces the UUID v4 generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// WithLimits overrides the eviction cap and age.
func WithLimits(maxSessions int, maxAge time.Duration) Option {
	return func(s *Store) {
		s.maxSessions = maxSessions
		s.maxAge = maxAge
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*entry),
		maxSessions: DefaultMaxSessions,
		maxAge:      DefaultMaxAge,
		now:         time.Now,
		newID:       uuid.NewString,
		log:         logger.WithComponent("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores results under a fresh id with the cursor at 0.
func (s *Store) Create(query string, results []any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	s.sessions[id] = &entry{
		query:     query,
		results:   results,
		createdAt: s.now(),
	}

	if len(s.sessions) > s.maxSessions {
		if n := s.evictExpiredLocked(); n > 0 {
			s.log.Info("evicted expired sessions", "count", n, "remaining", len(s.sessions))
		}
	}

	s.log.Debug("session created", "id", id, "total", len(results))
	return id
}

// evictExpiredLocked deletes every session older than maxAge. Caller must hold mu.
func (s *Store) evictExpiredLocked() int {
	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for id, e := range s.sessions {
		if e.createdAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Next returns up to limit items from the cursor and advances it by the
// number returned. A drained session yields an empty slice.
func (s *Store) Next(id string, limit int) ([]any, error) {
	page, _, err := s.Advance(id, limit)
	return page, err
}

// Advance is Next plus a snapshot of the session taken under the same lock,
// so the returned Info reflects exactly this advance.
func (s *Store) Advance(id string, limit int) ([]any, Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if limit < 0 {
		limit = 0
	}

	end := min(e.cursor+limit, len(e.results))
	page := make([]any, end-e.cursor)
	copy(page, e.results[e.cursor:end])
	e.cursor = end
	return page, e.info(id), nil
}

// CollectAll returns every remaining item and moves the cursor to the end.
func (s *Store) CollectAll(id string) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rest := make([]any, len(e.results)-e.cursor)
	copy(rest, e.results[e.cursor:])
	e.cursor = len(e.results)
	return rest, nil
}

// HasMore reports whether the cursor is short of the end.
func (s *Store) HasMore(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.cursor < len(e.results), nil
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.info(id), nil
}

// Remove deletes the session and reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
