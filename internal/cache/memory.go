package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
)

// Memory is a bounded LRU cache with per-entry expiry, for single-instance deployments.
type Memory struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	order      *list.List
	entries    map[string]*list.Element
}

type memoryEntry struct {
	key       string
	resp      models.RAGResponse
	expiresAt time.Time
}

// NewMemory returns a cache holding at most maxEntries answers for ttl each.
// maxEntries <= 0 means unbounded.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	return &Memory{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *Memory) Get(_ context.Context, query string) (*models.RAGResponse, bool, error) {
	key := NormalizeQuery(query)
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if !c.now().Before(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	resp := entry.resp
	resp.Sources = append([]models.Source(nil), entry.resp.Sources...)
	return &resp, true, nil
}

func (c *Memory) Set(_ context.Context, query string, resp *models.RAGResponse) error {
	key := NormalizeQuery(query)
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *resp
	stored.Sources = append([]models.Source(nil), resp.Sources...)
	expiresAt := c.now().Add(c.ttl)

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.resp = stored
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.order.PushFront(&memoryEntry{key: key, resp: stored, expiresAt: expiresAt})
	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
