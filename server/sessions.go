package server

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/runa-lang/runa/compiler"
	"github.com/runa-lang/runa/pkg/bytecode"
)

// Session is a persistent evaluation context: a compiler session whose
// declarations survive across Eval calls, plus the buffer collecting its
// program output.
type Session struct {
	ID      string
	Name    string
	Created time.Time

	repl     *compiler.Session
	out      *bytes.Buffer
	lastUsed time.Time
}

// SessionStore manages evaluation sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	nextID   atomic.Uint64
	vmOpts   []bytecode.Option
}

// NewSessionStore creates a new session store. vmOpts configure the VM of
// every session; output redirection is always added.
func NewSessionStore(vmOpts ...bytecode.Option) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		vmOpts:   vmOpts,
	}
}

// newSession builds an unregistered session.
func (s *SessionStore) newSession(id, name string) *Session {
	out := &bytes.Buffer{}
	opts := append(append([]bytecode.Option{}, s.vmOpts...), bytecode.WithOutput(out))
	now := time.Now()
	return &Session{
		ID:       id,
		Name:     name,
		Created:  now,
		repl:     compiler.NewSession(opts...),
		out:      out,
		lastUsed: now,
	}
}

// Ephemeral returns a session that is not stored, for one-shot requests.
func (s *SessionStore) Ephemeral() *Session {
	return s.newSession("", "")
}

// Create creates a new session with an optional name.
func (s *SessionStore) Create(name string) *Session {
	id := fmt.Sprintf("s-%d", s.nextID.Add(1))
	session := s.newSession(id, name)

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	return session
}

// Get retrieves a session by ID and marks it used.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if ok {
		session.lastUsed = time.Now()
	}
	return session, ok
}

// IDs returns the live session IDs, sorted.
func (s *SessionStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Destroy removes a session. It reports whether the session existed.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Sweep removes sessions that haven't been used within the TTL.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, session := range s.sessions {
		if session.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Infof("swept %d idle sessions", removed)
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *SessionStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
