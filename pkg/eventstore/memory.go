package eventstore

import (
	"context"
	"sync"
)

// Memory is an in-process event store for tests and the dev intake
// path.
type Memory struct {
	mu        sync.RWMutex
	events    map[string]*Event
	byContent map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:    map[string]*Event{},
		byContent: map[string]string{},
	}
}

func (m *Memory) Put(ctx context.Context, ev *Event) error {
	if ev.Hash == "" {
		return ErrMissingHash
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.Hash]; ok {
		return nil
	}
	cp := *ev
	m.events[ev.Hash] = &cp
	if _, ok := m.byContent[ev.ContentHash]; !ok && ev.ContentHash != "" {
		m.byContent[ev.ContentHash] = ev.Hash
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, hash string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *Memory) GetByContentHash(ctx context.Context, contentHash string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hash, ok := m.byContent[contentHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.events[hash]
	return &cp, nil
}

func (m *Memory) MarkProcessed(ctx context.Context, hash string, projected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[hash]
	if !ok {
		return ErrNotFound
	}
	ev.Processed = true
	ev.Projected = projected
	ev.Failure = ""
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, hash, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[hash]
	if !ok {
		return ErrNotFound
	}
	ev.Failure = reason
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
