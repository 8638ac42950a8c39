package session

import (
	"context"
	"errors"
	"fmt"

	"coronabot-fulfillment/internal/domain"
)

// Turn is the view of one context during a single turn. It reads the store
// once when opened and writes at most once on Commit; several Put calls are
// merged into that one write.
type Turn struct {
	store     Store
	sessionID string
	name      string
	decay     bool

	loaded    domain.ConversationContext
	found     bool
	pending   *domain.ConversationContext
	committed bool
}

// Open reads the named context for the session. With decay set, a turn that
// does not write the context persists it with one turn less of lifespan;
// stores owned by the dialogue platform decay on their own and leave it off.
func Open(ctx context.Context, store Store, sessionID, name string, decay bool) (*Turn, error) {
	if store == nil {
		return nil, errors.New("session: store must not be nil")
	}
	c, found, err := store.Read(ctx, sessionID, name)
	if err != nil {
		return nil, fmt.Errorf("session: read %q: %w", name, err)
	}
	return &Turn{
		store:     store,
		sessionID: sessionID,
		name:      name,
		decay:     decay,
		loaded:    c,
		found:     found,
	}, nil
}

// Value returns the parameter stored under key, including values Put during
// this turn. Missing and empty values read as domain.Unknown.
func (t *Turn) Value(key string) string {
	params := t.current()
	v, ok := params[key]
	if !ok || v == "" {
		return domain.Unknown
	}
	return v
}

// Profile returns the current slot snapshot.
func (t *Turn) Profile() domain.Profile {
	return domain.Profile{
		Age:     t.Value(domain.StorageKeyFor(domain.SlotAge)),
		Gender:  t.Value(domain.StorageKeyFor(domain.SlotGender)),
		Country: t.Value(domain.StorageKeyFor(domain.SlotCountry)),
	}
}

func (t *Turn) current() map[string]string {
	if t.pending != nil {
		return t.pending.Parameters
	}
	if t.found {
		return t.loaded.Parameters
	}
	return nil
}

// Put merges values over the current parameters and schedules a write with
// the given lifespan. Keys it does not mention are carried over.
func (t *Turn) Put(values map[string]string, lifespan int) {
	merged := make(map[string]string, len(values)+len(t.current()))
	for k, v := range t.current() {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	t.pending = &domain.ConversationContext{
		Name:           t.name,
		RemainingTurns: lifespan,
		Parameters:     merged,
	}
}

// Expire schedules deletion of the context.
func (t *Turn) Expire() {
	t.pending = &domain.ConversationContext{Name: t.name, RemainingTurns: 0}
}

// Commit performs the single write of the turn and returns the context that
// was explicitly written, or nil when the handler did not write.
func (t *Turn) Commit(ctx context.Context) (*domain.ConversationContext, error) {
	if t.committed {
		return nil, errors.New("session: turn already committed")
	}
	t.committed = true
	if t.pending != nil {
		if err := t.store.Write(ctx, t.sessionID, *t.pending); err != nil {
			return nil, fmt.Errorf("session: write %q: %w", t.name, err)
		}
		written := t.pending.Clone()
		return &written, nil
	}
	if t.decay && t.found {
		decayed := t.loaded.Clone()
		decayed.RemainingTurns--
		if err := t.store.Write(ctx, t.sessionID, decayed); err != nil {
			return nil, fmt.Errorf("session: decay %q: %w", t.name, err)
		}
	}
	return nil, nil
}
