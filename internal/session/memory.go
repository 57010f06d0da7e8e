package session

import (
	"sync"

	"github.com/stippi/code-assistant/internal/event"
)

// sessionMemory is one session's working-memory scratchpad: a small
// key/value store tools can use to carry notes across turns without
// spending context-window tokens re-deriving them, mirroring the
// teacher's session/todo.go "small side-channel keyed by session ID"
// shape but kept in-process rather than persisted to storage, since
// working memory is meant to be cheap scratch space, not a durable record.
type sessionMemory struct {
	mu        sync.RWMutex
	sessionID string
	values    map[string]string
}

func newSessionMemory(sessionID string) *sessionMemory {
	return &sessionMemory{sessionID: sessionID, values: make(map[string]string)}
}

func (m *sessionMemory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *sessionMemory) Set(key, value string) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()

	event.Publish(event.Event{
		Type: event.UpdateMemory,
		Data: event.MemoryUpdateData{
			SessionID: m.sessionID,
			Key:       key,
			Value:     value,
		},
	})
}

func (m *sessionMemory) All() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// clearMemory drops sessionID's working-memory scratchpad, called when a
// session is deleted so a later reused session ID starts from empty memory.
func (p *Processor) clearMemory(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.memories, sessionID)
}

// memoryForSession returns the sessionMemory for sessionID, creating it
// on first use. Processor.memories is lazily initialized the same way
// Processor.sessions is (see Process), since working memory is only ever
// touched from within the turn loop goroutine path that already holds
// p.mu when reading/writing sibling maps.
func (p *Processor) memoryForSession(sessionID string) *sessionMemory {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.memories == nil {
		p.memories = make(map[string]*sessionMemory)
	}
	mem, ok := p.memories[sessionID]
	if !ok {
		mem = newSessionMemory(sessionID)
		p.memories[sessionID] = mem
	}
	return mem
}
