package obalance

import (
	"context"
	"sync"

	"github.com/felborne/voucher-gateway/internal/voucher"
)

type clientEntry struct {
	mu  sync.Mutex
	bal Balance
}

// MemTracker is an in-process Tracker. Each client gets its own mutex-
// guarded record (§5's "no shared mutable state process-wide" model); a
// single RWMutex serializes only map insertion, not balance mutation.
type MemTracker struct {
	mapMu   sync.RWMutex
	clients map[voucher.ClientID]*clientEntry
}

func NewMemTracker() *MemTracker {
	return &MemTracker{clients: make(map[voucher.ClientID]*clientEntry)}
}

func (m *MemTracker) entryFor(client voucher.ClientID) *clientEntry {
	m.mapMu.RLock()
	e, ok := m.clients[client]
	m.mapMu.RUnlock()
	if ok {
		return e
	}

	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	if e, ok = m.clients[client]; ok {
		return e
	}
	e = &clientEntry{}
	m.clients[client] = e
	return e
}

func (m *MemTracker) WithClient(_ context.Context, client voucher.ClientID, fn func(*Balance) error) error {
	e := m.entryFor(client)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.bal)
}
