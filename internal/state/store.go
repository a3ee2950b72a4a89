package state

import (
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/internal/core/port"
)

// MemoryStore is a goroutine-safe in-process implementation of the host
// state store contract. Subscription callbacks run inline on the writing
// goroutine.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]port.StateValue
	subs   map[string][]func(id string, value port.StateValue)
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]port.StateValue),
		subs:   make(map[string][]func(string, port.StateValue)),
		now:    time.Now,
	}
}

// WithClock overrides the store clock. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Read(id string) (port.StateValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	return v, ok
}

func (s *MemoryStore) Write(id string, value any, ack bool) {
	s.mu.Lock()
	now := s.now()
	prev, existed := s.values[id]
	next := port.StateValue{Val: value, TS: now, LastChange: now, Ack: ack}
	if existed && prev.Val == value {
		next.LastChange = prev.LastChange
	}
	s.values[id] = next
	subs := append([]func(string, port.StateValue){}, s.subs[id]...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(id, next)
	}
}

func (s *MemoryStore) Subscribe(id string, fn func(id string, value port.StateValue)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = append(s.subs[id], fn)
}

// ensure interface compliance
var _ port.StateStore = (*MemoryStore)(nil)
