package provider

import (
	"context"
	"sync"
	"time"
)

// Session is a cached provider credential with its expiry.
type Session struct {
	Token  string
	Expiry time.Time
}

func (s Session) valid(now time.Time) bool {
	return s.Token != "" && now.Before(s.Expiry)
}

// RefreshFunc obtains a fresh session for one cache key.
type RefreshFunc func(ctx context.Context) (Session, error)

type sessionEntry struct {
	mu      sync.Mutex // serializes refresh per key
	session Session
}

// SessionCache caches sessions keyed by provider+identity. Reads are
// concurrent; a refresh takes a per-entry lock so only one writer per
// key hits the provider while other callers for the same key wait for
// its result.
type SessionCache struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
	now     func() time.Time
}

func NewSessionCache() *SessionCache {
	return &SessionCache{
		entries: make(map[string]*sessionEntry),
		now:     time.Now,
	}
}

// WithNow overrides the clock. Test hook.
func (c *SessionCache) WithNow(now func() time.Time) *SessionCache {
	c.now = now
	return c
}

func (c *SessionCache) Get(ctx context.Context, key string, refresh RefreshFunc) (Session, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	if ok && entry.session.valid(c.now()) {
		s := entry.session
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		entry, ok = c.entries[key]
		if !ok {
			entry = &sessionEntry{}
			c.entries[key] = entry
		}
		c.mu.Unlock()
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// A concurrent caller may have refreshed while we waited.
	if entry.session.valid(c.now()) {
		return entry.session, nil
	}

	s, err := refresh(ctx)
	if err != nil {
		return Session{}, err
	}
	entry.session = s
	return s, nil
}

// Invalidate drops a cached session, forcing the next Get to refresh.
func (c *SessionCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Evict removes all expired entries.
func (c *SessionCache) Evict() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if !entry.session.valid(now) {
			delete(c.entries, key)
		}
	}
}
