package model

import "sort"

// Block is a named, ordered list of rules. Rule order matters for output
// only; dependency order is computed by RuleIndex.
type Block struct {
	ID    string
	Rules []Rule
}

// Graph maps block ids to blocks. A Graph is read-only once built.
type Graph struct {
	blocks map[string]*Block
}

// Block returns the block named id.
func (g *Graph) Block(id string) (*Block, bool) {
	if g == nil {
		return nil, false
	}
	b, ok := g.blocks[id]
	return b, ok
}

// Has reports whether id names a block.
func (g *Graph) Has(id string) bool {
	_, ok := g.Block(id)
	return ok
}

// Len returns the number of blocks.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.blocks)
}

// IDs returns the block ids in sorted order.
func (g *Graph) IDs() []string {
	if g == nil {
		return nil
	}
	ids := make([]string, 0, len(g.blocks))
	for id := range g.blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BlockHandle refers to a block opened on a GraphBuilder. It is only valid
// for the builder that returned it.
type BlockHandle int

// GraphBuilder owns a graph under construction. Graph hands the result out
// and ends the builder's lifetime.
type GraphBuilder struct {
	order  []*Block
	byID   map[string]BlockHandle
	closed bool
}

// NewGraphBuilder returns an empty builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{byID: make(map[string]BlockHandle)}
}

// Open returns the handle for block id, creating it when needed. Reopening
// an existing id appends to the same block.
func (b *GraphBuilder) Open(id string) BlockHandle {
	if h, ok := b.byID[id]; ok {
		return h
	}
	h := BlockHandle(len(b.order))
	b.order = append(b.order, &Block{ID: id})
	b.byID[id] = h
	return h
}

// AddRule appends r to the block behind h.
func (b *GraphBuilder) AddRule(h BlockHandle, r Rule) {
	if b.closed {
		panic("model: GraphBuilder used after Graph")
	}
	blk := b.order[h]
	blk.Rules = append(blk.Rules, r)
}

// Graph finalizes and returns the graph.
func (b *GraphBuilder) Graph() *Graph {
	b.closed = true
	g := &Graph{blocks: make(map[string]*Block, len(b.order))}
	for _, blk := range b.order {
		g.blocks[blk.ID] = blk
	}
	return g
}
