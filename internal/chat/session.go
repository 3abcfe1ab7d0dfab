package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbchat/dbchat/internal/intent"
	"github.com/dbchat/dbchat/internal/observability"
)

// Session holds the conversation context for one chat participant. The mutex
// serializes requests on the same session so a follow-up always observes the
// context its predecessor left behind.
type Session struct {
	ID          string
	LastTable   string
	LastFilters []intent.Filter
	LastSeen    time.Time

	mu sync.Mutex
}

// Context returns the parser context accumulated so far.
func (s *Session) Context() intent.Context {
	return intent.Context{LastTable: s.LastTable, LastFilters: s.LastFilters}
}

// Remember records the table and filters of a successfully answered request.
// Requests without a table, such as listing tables, leave the context alone.
func (s *Session) Remember(table string, filters []intent.Filter) {
	if table == "" {
		return
	}
	s.LastTable = table
	s.LastFilters = filters
}

// SessionStore keeps sessions by ID and evicts the ones that go quiet.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		clock:    time.Now,
	}
}

// Get returns the session for id, creating it when unknown. A blank id gets
// a freshly generated one, returned to the caller via Session.ID.
func (s *SessionStore) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	session, ok := s.sessions[id]
	if !ok {
		session = &Session{ID: id}
		s.sessions[id] = session
		observability.SetActiveSessions(len(s.sessions))
	}
	session.LastSeen = s.clock()
	return session
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// EvictIdle drops sessions that have been idle for longer than maxIdle and
// reports how many were removed.
func (s *SessionStore) EvictIdle(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-maxIdle)
	evicted := 0
	for id, session := range s.sessions {
		if session.LastSeen.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		observability.AddEvictedSessions(evicted)
		observability.SetActiveSessions(len(s.sessions))
	}
	return evicted
}
