package querycache

import (
	"sort"
	"time"
)

// Identifiable is an item that can be patched into a cached collection.
type Identifiable interface {
	Identity() string
	Created() time.Time
}

// Patch adds item to the collection stored under key unless an element with
// the same identity is already there. The collection is kept newest first
// and cut to limit. Existing elements are never replaced.
func Patch[K Key, T Identifiable](c *Cache[K, []T], key K, item T, limit int) bool {
	return c.Update(key, func(items []T) []T {
		return Insert(items, item, limit)
	})
}

// Insert returns items with item added, newest first, at most limit long.
// The input slice is not modified.
func Insert[T Identifiable](items []T, item T, limit int) []T {
	for _, existing := range items {
		if existing.Identity() == item.Identity() {
			return items
		}
	}
	out := make([]T, 0, len(items)+1)
	out = append(out, items...)
	out = append(out, item)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created().After(out[j].Created())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
