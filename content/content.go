// Package content describes the content catalog the engine reads from and
// the collection-inclusion rule: a collection whose tag matches covers all
// of its descendants, whatever their own tags.
package content

import (
	"context"
	"slices"
	"strings"
)

// Default workflow states visible to license holders.
var DefaultVisibleStates = []string{"published", "beta"}

// Item is a content item as seen by the entitlement engine.
type Item struct {
	ID            string   `json:"id"`
	AppID         string   `json:"app_id"`
	Tag           string   `json:"tag"`
	WorkflowState string   `json:"workflow_state"`
	Parents       []string `json:"parents,omitempty"`
	IsCollection  bool     `json:"is_collection"`
	FreeAccess    bool     `json:"free_access"`
}

// Catalog lists the content of a tenant. Implementations must be safe for
// concurrent use.
type Catalog interface {
	ListContent(ctx context.Context, appID string, workflowStates []string) ([]Item, error)
}

// Index answers coverage questions over one catalog listing.
type Index struct {
	items    map[string]Item
	children map[string][]string
	order    []string
}

// NewIndex builds an index over items. Parent references to ids that are
// not in items are ignored.
func NewIndex(items []Item) *Index {
	idx := &Index{
		items:    make(map[string]Item, len(items)),
		children: make(map[string][]string),
	}
	for _, it := range items {
		if _, dup := idx.items[it.ID]; !dup {
			idx.order = append(idx.order, it.ID)
		}
		idx.items[it.ID] = it
	}
	for _, it := range items {
		for _, p := range it.Parents {
			if _, ok := idx.items[p]; ok {
				idx.children[p] = append(idx.children[p], it.ID)
			}
		}
	}
	slices.Sort(idx.order)
	return idx
}

// Len returns the number of indexed items.
func (idx *Index) Len() int { return len(idx.order) }

// Get returns the item with the given id.
func (idx *Index) Get(itemID string) (Item, bool) {
	it, ok := idx.items[itemID]
	return it, ok
}

// Items returns every item sorted by id.
func (idx *Index) Items() []Item {
	out := make([]Item, 0, len(idx.order))
	for _, itemID := range idx.order {
		out = append(out, idx.items[itemID])
	}
	return out
}

// Closure returns the items that match, together with every descendant of
// a matching collection, sorted by id.
func (idx *Index) Closure(match func(Item) bool) []Item {
	covered := make(map[string]bool)
	var queue []string
	for _, itemID := range idx.order {
		it := idx.items[itemID]
		if match(it) {
			covered[itemID] = true
			if it.IsCollection {
				queue = append(queue, itemID)
			}
		}
	}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range idx.children[parent] {
			if covered[child] {
				continue
			}
			covered[child] = true
			queue = append(queue, child)
		}
	}

	out := make([]Item, 0, len(covered))
	for _, itemID := range idx.order {
		if covered[itemID] {
			out = append(out, idx.items[itemID])
		}
	}
	return out
}

// Covers reports whether item matches or sits, at any depth, inside a
// matching collection. Ancestors that are not collections are walked
// through, as in Closure. The item itself need not be indexed; its parents
// are looked up in the index.
func (idx *Index) Covers(item Item, match func(Item) bool) bool {
	if match(item) {
		return true
	}
	seen := map[string]bool{item.ID: true}
	queue := slices.Clone(item.Parents)
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if seen[pid] {
			continue
		}
		seen[pid] = true
		parent, ok := idx.items[pid]
		if !ok {
			continue
		}
		if parent.IsCollection && match(parent) {
			return true
		}
		queue = append(queue, parent.Parents...)
	}
	return false
}

// InStates reports whether the item's workflow state is one of states.
// An empty states list admits every item.
func (it Item) InStates(states []string) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if strings.EqualFold(s, it.WorkflowState) {
			return true
		}
	}
	return false
}
