// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

import (
	"container/list"
	"sort"
)

// DefaultCacheCapacity is the number of recipes a Cache holds before it
// starts evicting, used when Options.CacheCapacity is zero.
const DefaultCacheCapacity = 4096

type cacheKey struct {
	binaryID      uint64
	functionStart uint32
}

type cacheNode struct {
	key    cacheKey
	start  uint32
	end    uint32
	recipe Recipe
}

// Cache maps (binary, function start address) to a decoded Recipe so
// repeated samples landing anywhere inside the same function skip
// re-decoding entirely. It also remembers the PC range each recipe
// covers so the Driver can test "is this PC already cached" (§4.F
// step 2) without a fresh BinaryLookup or exidx search — only a cache
// miss pays for those.
//
// It is not safe for concurrent use: each unwind context (goroutine,
// thread) owns its own Cache, as §5 requires.
type Cache struct {
	capacity int
	entries  map[cacheKey]*list.Element
	order    *list.List // front = most recently used
	byStart  []*cacheNode
}

// NewCache returns an empty Cache holding up to capacity recipes.
// A capacity of zero uses DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[cacheKey]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached recipe for (binaryID, functionStart), if any,
// and marks it most recently used.
func (c *Cache) Get(binaryID uint64, functionStart uint32) (Recipe, bool) {
	key := cacheKey{binaryID, functionStart}
	elem, ok := c.entries[key]
	if !ok {
		return Recipe{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheNode).recipe, true
}

// GetByPC scans the cached ranges for one that covers pc and returns
// its recipe, function start address and owning binary ID. This is
// what lets the Driver shortcut the whole pipeline (index search,
// decode, BinaryLookup) on a hit.
func (c *Cache) GetByPC(pc uint32) (recipe Recipe, binaryID uint64, functionStart uint32, ok bool) {
	idx := sort.Search(len(c.byStart), func(i int) bool {
		return c.byStart[i].start > pc
	})
	if idx == 0 {
		return Recipe{}, 0, 0, false
	}
	node := c.byStart[idx-1]
	if pc < node.start || pc >= node.end {
		return Recipe{}, 0, 0, false
	}
	if elem, found := c.entries[node.key]; found {
		c.order.MoveToFront(elem)
	}
	return node.recipe, node.key.binaryID, node.key.functionStart, true
}

// Put inserts or updates the recipe covering [start, end) for
// (binaryID, functionStart), evicting the least-recently-used entry if
// the cache is full.
func (c *Cache) Put(binaryID uint64, functionStart, start, end uint32, recipe Recipe) {
	key := cacheKey{binaryID, functionStart}
	if elem, ok := c.entries[key]; ok {
		node := elem.Value.(*cacheNode)
		node.recipe = recipe
		node.start, node.end = start, end
		c.order.MoveToFront(elem)
		c.reindex()
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheNode).key)
		}
	}

	node := &cacheNode{key: key, start: start, end: end, recipe: recipe}
	elem := c.order.PushFront(node)
	c.entries[key] = elem
	c.reindex()
}

func (c *Cache) reindex() {
	c.byStart = c.byStart[:0]
	for _, elem := range c.entries {
		c.byStart = append(c.byStart, elem.Value.(*cacheNode))
	}
	sort.Slice(c.byStart, func(i, j int) bool { return c.byStart[i].start < c.byStart[j].start })
}

// Clear invalidates every cached recipe. Called whenever the set of
// loaded binaries changes, so stale function-start addresses from an
// unloaded binary can never alias a freshly loaded one.
func (c *Cache) Clear() {
	c.entries = make(map[cacheKey]*list.Element)
	c.order.Init()
	c.byStart = nil
}

// Len reports the number of recipes currently cached.
func (c *Cache) Len() int {
	return c.order.Len()
}
