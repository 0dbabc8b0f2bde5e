// Package provider defines the capability surface a calendar backend
// has to implement, plus the shared plumbing every adapter needs:
// registry, session cache, retry policy, and the provider error
// taxonomy.
package provider

import (
	"context"
	"sync"
	"time"

	"schedsync/internal/domain"
)

// Capabilities advertises optional provider features. Callers branch on
// these instead of the provider name.
type Capabilities uint8

const (
	// CapSyncCollection means ListEvents accepts a sync token and
	// returns incremental changes.
	CapSyncCollection Capabilities = 1 << iota
	// CapETags means writes honor etag concurrency headers.
	CapETags
	// CapRecurrence means the provider expands recurrence rules
	// server-side.
	CapRecurrence
)

func (c Capabilities) Has(f Capabilities) bool { return c&f == f }

// ListOptions selects between an incremental pull (SyncToken set) and a
// bounded full-range pull (From/To).
type ListOptions struct {
	SyncToken string
	From      time.Time
	To        time.Time
}

// ListResult carries one pull's outcome. FullSet marks the events as a
// complete snapshot of the queried range; otherwise Events are changes
// since the token and Deleted lists removed uids.
type ListResult struct {
	Events    []domain.CanonicalEvent
	Deleted   []string
	NextToken string
	FullSet   bool
}

// Adapter is the capability interface of a calendar backend.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Authenticate(ctx context.Context) error
	DiscoverCalendars(ctx context.Context) ([]domain.Calendar, error)
	ListEvents(ctx context.Context, calendarID string, opts ListOptions) (ListResult, error)
	CreateEvent(ctx context.Context, calendarID string, ev domain.CanonicalEvent) (domain.CanonicalEvent, error)
	UpdateEvent(ctx context.Context, calendarID string, ev domain.CanonicalEvent) (domain.CanonicalEvent, error)
	DeleteEvent(ctx context.Context, calendarID string, ev domain.CanonicalEvent) error
}

// Registry holds the configured adapters by name. Safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
