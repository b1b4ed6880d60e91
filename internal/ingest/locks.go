package ingest

import (
	"sync"

	"github.com/google/uuid"
)

// tenantLocks serializes pipeline work per tenant. Entries are tiny and
// bounded by the tenant population, so they are never evicted.
type tenantLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*sync.Mutex
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{m: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *tenantLocks) get(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.m[id]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.m[id] = m
	return m
}
