package store

import (
	"container/list"
	"sync"
)

// Cache provides in-memory caching for resolved refs.
type Cache interface {
	Get(name string) (Ref, bool)
	Add(ref Ref)
	Remove(name string)
	Clear()
	Len() int
}

type lruEntry struct {
	ref Ref
}

// LRUCache evicts the least recently used ref once maxSize is reached. A
// maxSize of zero or less disables caching.
type LRUCache struct {
	maxSize int
	order   *list.List
	items   map[string]*list.Element
	mu      sync.Mutex
}

func NewLRUCache(maxSize int) *LRUCache {
	return &LRUCache{
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

func (c *LRUCache) Get(name string) (Ref, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[name]
	if !ok {
		return Ref{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).ref, true
}

func (c *LRUCache) Add(ref Ref) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[ref.Name]; ok {
		el.Value.(*lruEntry).ref = ref
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).ref.Name)
	}
	c.items[ref.Name] = c.order.PushFront(&lruEntry{ref: ref})
}

func (c *LRUCache) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[name]; ok {
		c.order.Remove(el)
		delete(c.items, name)
	}
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
