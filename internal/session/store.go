package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"coronabot-fulfillment/internal/domain"
)

// Store is the conversation context store. Write replaces the named context
// wholesale; a RemainingTurns of zero deletes it.
type Store interface {
	Read(ctx context.Context, sessionID, name string) (domain.ConversationContext, bool, error)
	Write(ctx context.Context, sessionID string, c domain.ConversationContext) error
}

// PlatformStore serves the contexts the dialogue platform delivered with one
// turn. Writes are kept in memory; the platform persists them once they are
// returned as output contexts.
type PlatformStore struct {
	contexts map[string]domain.ConversationContext
}

// NewPlatformStore builds a turn-scoped store from inbound contexts.
func NewPlatformStore(inbound []domain.ConversationContext) *PlatformStore {
	s := &PlatformStore{contexts: make(map[string]domain.ConversationContext, len(inbound))}
	for _, c := range inbound {
		if c.Name == "" {
			continue
		}
		s.contexts[c.Name] = c.Clone()
	}
	return s
}

func (s *PlatformStore) Read(_ context.Context, _ string, name string) (domain.ConversationContext, bool, error) {
	c, ok := s.contexts[name]
	if !ok || c.RemainingTurns <= 0 {
		return domain.ConversationContext{}, false, nil
	}
	return c.Clone(), true, nil
}

func (s *PlatformStore) Write(_ context.Context, _ string, c domain.ConversationContext) error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("session: context name is required")
	}
	if c.RemainingTurns <= 0 {
		delete(s.contexts, c.Name)
		return nil
	}
	s.contexts[c.Name] = c.Clone()
	return nil
}

// MemoryStore keeps contexts in process memory, keyed by session and name.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]domain.ConversationContext
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[string]domain.ConversationContext)}
}

func memoryKey(sessionID, name string) string {
	return sessionID + "|" + name
}

func (m *MemoryStore) Read(_ context.Context, sessionID, name string) (domain.ConversationContext, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[memoryKey(sessionID, name)]
	if !ok {
		return domain.ConversationContext{}, false, nil
	}
	return c.Clone(), true, nil
}

func (m *MemoryStore) Write(_ context.Context, sessionID string, c domain.ConversationContext) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session: session id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("session: context name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(sessionID, c.Name)
	if c.RemainingTurns <= 0 {
		delete(m.contexts, key)
		return nil
	}
	m.contexts[key] = c.Clone()
	return nil
}
