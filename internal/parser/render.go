package parser

import (
	"strings"

	"trading-formulas/internal/model"
)

const renderDivider = "--------"

// Render writes g back to source form. Blocks are sorted by id and
// separated by a blank line; within a block, literal value feeds come first
// and the remaining rules keep their order. Parse(Render(g)) reproduces g.
func Render(g *model.Graph) string {
	var parts []string
	for _, id := range g.IDs() {
		blk, _ := g.Block(id)
		parts = append(parts, RenderBlock(blk))
	}
	return strings.Join(parts, "\n")
}

// RenderBlock writes one block with its header and divider.
func RenderBlock(blk *model.Block) string {
	var sb strings.Builder
	sb.WriteString(blk.ID)
	sb.WriteByte('\n')
	sb.WriteString(renderDivider)
	sb.WriteByte('\n')
	for _, r := range blk.Rules {
		if r.IsValueFeed() {
			sb.WriteString(r.String())
			sb.WriteByte('\n')
		}
	}
	for _, r := range blk.Rules {
		if !r.IsValueFeed() {
			sb.WriteString(r.String())
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
