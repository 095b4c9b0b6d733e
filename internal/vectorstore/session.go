package vectorstore

import (
	"container/list"
	"context"
	"sync"

	"github.com/HariharanV1992/crawlweave/internal/domain"
)

// SessionCache maps chat-session identifiers to named vector stores, bounded
// by a hand-rolled LRU so long-running processes don't grow the mapping
// without limit (C10). Eviction only drops the process-local mapping entry;
// the backing store is never deleted.
type SessionCache struct {
	manager  *Manager
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element // sessionID -> list element
	order   *list.List               // front = most recently used
}

type sessionEntry struct {
	sessionID string
	storeName string
}

// NewSessionCache builds a session cache fronting manager, bounded to capacity entries.
func NewSessionCache(manager *Manager, capacity int) *SessionCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &SessionCache{
		manager:  manager,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// StoreForSession resolves sessionID to its vector store name, creating the
// store on first use. Looks up and/or creates via the backend on a cache miss
// so the mapping can always be rebuilt — it is never the source of truth.
func (c *SessionCache) StoreForSession(ctx context.Context, sessionID string) (string, error) {
	c.mu.Lock()
	if el, ok := c.entries[sessionID]; ok {
		c.order.MoveToFront(el)
		storeName := el.Value.(*sessionEntry).storeName
		c.mu.Unlock()
		return storeName, nil
	}
	c.mu.Unlock()

	storeName := domain.SessionVectorStoreName(sessionID)
	resolved, err := c.manager.GetOrCreateStore(ctx, storeName)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[sessionID]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*sessionEntry).storeName, nil
	}
	el := c.order.PushFront(&sessionEntry{sessionID: sessionID, storeName: resolved})
	c.entries[sessionID] = el
	c.evictIfNeeded()

	return resolved, nil
}

// evictIfNeeded drops the least-recently-used mapping once capacity is
// exceeded. Caller must hold c.mu.
func (c *SessionCache) evictIfNeeded() {
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		entry := oldest.Value.(*sessionEntry)
		delete(c.entries, entry.sessionID)
		c.order.Remove(oldest)
	}
}
