package replication

import (
	"context"
	"sync"
)

// ViewCache хранит последнее представление каждой сущности для чтения извне
// (REST, другие регионы). Запись идёт после каждого тика.
type ViewCache interface {
	Put(ctx context.Context, views []View) error
	Get(ctx context.Context, entityID uint64) (View, bool, error)
	Delete(ctx context.Context, entityID uint64) error
	Close() error
}

// MemoryViewCache реализует ViewCache в памяти
type MemoryViewCache struct {
	mu    sync.RWMutex
	views map[uint64]View
}

// NewMemoryViewCache создаёт пустой кеш
func NewMemoryViewCache() *MemoryViewCache {
	return &MemoryViewCache{views: make(map[uint64]View)}
}

// Put сохраняет представления; более старый тик не перетирает более новый
func (c *MemoryViewCache) Put(ctx context.Context, views []View) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range views {
		if old, ok := c.views[v.EntityID]; ok && old.SourceRegion == v.SourceRegion && old.Tick > v.Tick {
			continue
		}
		v.Record = v.Record.Clone()
		c.views[v.EntityID] = v
	}
	return nil
}

// Get возвращает представление сущности
func (c *MemoryViewCache) Get(ctx context.Context, entityID uint64) (View, bool, error) {
	if err := ctx.Err(); err != nil {
		return View{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[entityID]
	if ok {
		v.Record = v.Record.Clone()
	}
	return v, ok, nil
}

// Delete удаляет представление
func (c *MemoryViewCache) Delete(ctx context.Context, entityID uint64) error {
	c.mu.Lock()
	delete(c.views, entityID)
	c.mu.Unlock()
	return nil
}

// Len количество представлений
func (c *MemoryViewCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.views)
}

// Close ничего не делает
func (c *MemoryViewCache) Close() error { return nil }
