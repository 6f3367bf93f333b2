// Package tracker implements the per-client UnspentVouchers RMW primitive
// consumed by internal/vauth (§4.5) and internal/engine (§4.8), plus the
// per-client settlement-job slot used by internal/cron (§4.9); the prefix
// retirement itself is voucher.UnspentVouchers.RetirePrefix.
package tracker

import (
	"context"
	"sync"

	"github.com/felborne/voucher-gateway/internal/settlejob"
	"github.com/felborne/voucher-gateway/internal/voucher"
)

type clientEntry struct {
	mu  sync.Mutex
	rec voucher.UnspentVouchers
	job settlejob.SettleJob
}

// MemTracker is an in-process tracker: one mutex-guarded UnspentVouchers
// per client. Satisfies vauth.Tracker.
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

// WithClient runs fn against client's UnspentVouchers under that client's
// lock.
func (m *MemTracker) WithClient(_ context.Context, client voucher.ClientID, fn func(*voucher.UnspentVouchers) error) error {
	e := m.entryFor(client)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.rec)
}

// WithClientAndJob runs fn against both client's UnspentVouchers and its
// settlement-job slot under the same per-client lock (§4.9, §5's
// settlement-job uniqueness guarantee I8): a job can only be read,
// launched, or cleared while holding this same tracker lock.
func (m *MemTracker) WithClientAndJob(_ context.Context, client voucher.ClientID, fn func(*voucher.UnspentVouchers, *settlejob.SettleJob) error) error {
	e := m.entryFor(client)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.rec, &e.job)
}

// Clients returns every client whose record has been touched through
// WithClient or WithClientAndJob, whether or not it still holds unspent
// vouchers, for the CronEngine's per-vendor sweep (§4.9). ctx is accepted and error returned
// only to keep this method's shape interchangeable with
// RedisTracker.Clients, which does a real Redis SCAN.
func (m *MemTracker) Clients(_ context.Context) ([]voucher.ClientID, error) {
	m.mapMu.RLock()
	defer m.mapMu.RUnlock()
	out := make([]voucher.ClientID, 0, len(m.clients))
	for c := range m.clients {
		out = append(out, c)
	}
	return out, nil
}
