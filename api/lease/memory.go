package lease

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type entry struct {
	holder  string
	expires time.Time
}

// Memory is a process-local Locker. A zero ttl never expires.
type Memory struct {
	mu     sync.Mutex
	ttl    time.Duration
	leases map[string]entry
	now    func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, leases: map[string]entry{}, now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.live(key); ok && e.holder != holder {
		return fmt.Errorf("%w: %s is held by %s", ErrHeld, key, e.holder)
	}
	e := entry{holder: holder}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.leases[key] = e
	return nil
}

func (m *Memory) Release(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.leases[key]; ok && e.holder == holder {
		delete(m.leases, key)
	}
	return nil
}

func (m *Memory) Holder(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.live(key)
	return e.holder, nil
}

func (m *Memory) live(key string) (entry, bool) {
	e, ok := m.leases[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.leases, key)
		return entry{}, false
	}
	return e, true
}
