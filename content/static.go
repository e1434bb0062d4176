package content

import (
	"context"
	"slices"
	"sync"
)

// StaticCatalog is an in-memory Catalog.
type StaticCatalog struct {
	mu    sync.RWMutex
	items map[string][]Item
}

// NewStaticCatalog returns a catalog holding items, grouped by AppID.
func NewStaticCatalog(items ...Item) *StaticCatalog {
	c := &StaticCatalog{items: make(map[string][]Item)}
	c.Add(items...)
	return c
}

// Add appends items, replacing any item with the same app and id.
func (c *StaticCatalog) Add(items ...Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, it := range items {
		list := c.items[it.AppID]
		i := slices.IndexFunc(list, func(x Item) bool { return x.ID == it.ID })
		if i >= 0 {
			list[i] = it
		} else {
			list = append(list, it)
		}
		c.items[it.AppID] = list
	}
}

// Remove deletes an item.
func (c *StaticCatalog) Remove(appID, itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[appID] = slices.DeleteFunc(c.items[appID], func(x Item) bool { return x.ID == itemID })
}

// ListContent implements Catalog.
func (c *StaticCatalog) ListContent(_ context.Context, appID string, workflowStates []string) ([]Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Item, 0, len(c.items[appID]))
	for _, it := range c.items[appID] {
		if it.InStates(workflowStates) {
			it.Parents = slices.Clone(it.Parents)
			out = append(out, it)
		}
	}
	return out, nil
}
