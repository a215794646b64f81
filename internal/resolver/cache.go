package resolver

import (
	"sync"

	"trading-formulas/internal/model"
)

// Cache stores, per block invocation, the outputs resolved at each index
// and the virtual rules needed to resume after the last one. An invocation
// is identified by the block id and its context, so top-level blocks
// resolved through one Resolver never share entries. Entries are immutable
// once written.
type Cache struct {
	mu        sync.Mutex
	outputs   map[string]map[int]model.Values
	last      map[string]int
	virtual   map[string][]model.Rule
	retention int
}

// NewCache returns an empty cache. retention bounds the stored indices per
// context; 0 keeps everything.
func NewCache(retention int) *Cache {
	return &Cache{
		outputs:   make(map[string]map[int]model.Values),
		last:      make(map[string]int),
		virtual:   make(map[string][]model.Rule),
		retention: retention,
	}
}

// key identifies block resolved in context.
func key(block string, context model.Path) string {
	return model.Path{block}.Concat(context...).Key()
}

// At returns the outputs recorded for block in context at index.
func (c *Cache) At(block string, context model.Path, index int) (model.Values, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.outputs[key(block, context)][index]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// ResumePoint returns the outputs, index and virtual rules of the last
// resolved index for block in context, but only when required lies beyond
// it. Otherwise resolution must restart from index 0.
func (c *Cache) ResumePoint(block string, context model.Path, required int) (model.Values, int, []model.Rule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(block, context)
	last, ok := c.last[k]
	if !ok || required <= last || len(c.virtual[k]) == 0 {
		return nil, 0, nil, false
	}
	out, ok := c.outputs[k][last]
	if !ok {
		return nil, 0, nil, false
	}
	return out.Clone(), last, append([]model.Rule(nil), c.virtual[k]...), true
}

// Record stores the outputs for block in context at index. When virtual
// rules exist they become the resume point.
func (c *Cache) Record(block string, context model.Path, index int, outputs model.Values, virtual []model.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(block, context)
	byIndex, ok := c.outputs[k]
	if !ok {
		byIndex = make(map[int]model.Values)
		c.outputs[k] = byIndex
	}
	if _, exists := byIndex[index]; !exists {
		byIndex[index] = outputs.Clone()
	}
	if c.retention > 0 {
		delete(byIndex, index-c.retention)
	}
	if len(virtual) > 0 {
		c.last[k] = index
		c.virtual[k] = append([]model.Rule(nil), virtual...)
	}
}

// Len returns the number of stored (invocation, index) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, byIndex := range c.outputs {
		n += len(byIndex)
	}
	return n
}

// Reset drops everything.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = make(map[string]map[int]model.Values)
	c.last = make(map[string]int)
	c.virtual = make(map[string][]model.Rule)
}
