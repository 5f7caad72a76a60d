// Package session provides the in-memory conversation store.
//
// Sessions hold the recent exchange history used to build provider prompts.
// History is bounded: each session keeps at most 2×maxHistory messages
// (an exchange is one user message plus one model message), evicting the
// oldest exchanges first. Sessions live for the process lifetime only.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// Store manages conversation sessions.
//
// Store is safe for concurrent use. Distinct sessions progress
// independently; operations on the same session serialize on its entry
// lock (see Lock).
type Store struct {
	mu          sync.RWMutex
	sessions    map[uuid.UUID]*entry
	maxMessages int
	logger      *slog.Logger
}

type entry struct {
	// turnMu serializes whole query turns; mu guards the history itself.
	// Separate locks let AppendExchange run while the turn lock is held.
	turnMu   sync.Mutex
	mu       sync.Mutex
	messages []*ai.Message
}

// NewStore creates a Store keeping at most maxHistory exchanges per session.
// maxHistory 0 disables history: prompts carry only the current query.
func NewStore(maxHistory int, logger *slog.Logger) (*Store, error) {
	if maxHistory < 0 {
		return nil, fmt.Errorf("maxHistory must not be negative, got %d", maxHistory)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:    make(map[uuid.UUID]*entry),
		maxMessages: 2 * maxHistory,
		logger:      logger,
	}, nil
}

// NewID allocates a fresh session identifier.
func (s *Store) NewID() uuid.UUID {
	return uuid.New()
}

// get returns the entry for id, creating it if needed.
func (s *Store) get(id uuid.UUID) *entry {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		return e
	}
	e = &entry{}
	s.sessions[id] = e
	return e
}

// Lock serializes whole query turns on one session. The returned function
// releases the lock; callers must invoke it exactly once.
func (s *Store) Lock(id uuid.UUID) func() {
	e := s.get(id)
	e.turnMu.Lock()
	return e.turnMu.Unlock
}

// Messages returns a deep copy of the session's history, oldest first.
// An unknown session yields nil.
func (s *Store) Messages(id uuid.UUID) []*ai.Message {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return copyMessages(e.messages)
}

// AppendExchange records one completed exchange and evicts the oldest
// exchanges beyond the history bound. It is the only mutation of session
// state and runs after a turn fully succeeds.
func (s *Store) AppendExchange(id uuid.UUID, userText, answerText string) {
	e := s.get(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.messages = append(e.messages,
		ai.NewUserMessage(ai.NewTextPart(userText)),
		ai.NewModelMessage(ai.NewTextPart(answerText)))

	if over := len(e.messages) - s.maxMessages; over > 0 {
		evicted := e.messages[:over]
		e.messages = append([]*ai.Message(nil), e.messages[over:]...)
		s.logger.Debug("session history truncated",
			"session_id", id,
			"evicted_messages", len(evicted),
			"kept_messages", len(e.messages))
	}
}

// Len reports the number of stored messages for a session.
func (s *Store) Len(id uuid.UUID) int {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

// Clear removes a session entirely.
func (s *Store) Clear(id uuid.UUID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Count reports the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// copyMessages deep-copies messages so callers can never mutate stored
// history. Genkit modifies message content in-place during rendering, so
// sharing slices across concurrent turns would race.
func copyMessages(msgs []*ai.Message) []*ai.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]*ai.Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		cp.Content = make([]*ai.Part, len(m.Content))
		copy(cp.Content, m.Content)
		out[i] = &cp
	}
	return out
}
