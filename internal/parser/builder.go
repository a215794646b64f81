// Package parser turns formula source into a model.Graph.
//
// Source is a sequence of blocks. Each block is a header line followed by an
// underline of three or more identical symbols, then one rule per line:
//
//	Increment
//	---------
//	In + 1 → Out
//	Out < 100
//
// Parsing never aborts on bad input: problems are returned as Diagnostics
// and the offending tokens are skipped.
package parser

import (
	"io"
	"strings"

	"trading-formulas/internal/lexer"
	"trading-formulas/internal/model"
)

// Option configures parsing.
type Option func(*options)

type options struct {
	foldCase    bool
	replayDepth int
	rules       []GroupRule
}

// WithFoldCase lower-cases identifiers, keeping the reserved Index segment
// canonical. Off by default.
func WithFoldCase(on bool) Option {
	return func(o *options) { o.foldCase = on }
}

// WithReplayDepth sets the lexer's replay depth.
func WithReplayDepth(n int) Option {
	return func(o *options) { o.replayDepth = n }
}

// Parse builds a graph from src.
func Parse(src string, opts ...Option) (*model.Graph, Diagnostics) {
	g, diags, _ := ParseReader(strings.NewReader(src), opts...)
	return g, diags
}

// ParseReader builds a graph from r. The error is non-nil only when r
// could not be read; the graph then holds what was parsed up to that point.
func ParseReader(r io.Reader, opts ...Option) (*model.Graph, Diagnostics, error) {
	o := options{replayDepth: lexer.DefaultReplayDepth, rules: DefaultRules()}
	for _, fn := range opts {
		fn(&o)
	}
	lx := lexer.New(r, lexer.WithReplayDepth(o.replayDepth))
	b := &builder{
		gb:       model.NewGraphBuilder(),
		foldCase: o.foldCase,
	}
	gr := NewGrouper(lx, o.rules)
	for {
		grp, ok := gr.Next()
		if !ok {
			break
		}
		b.consume(grp)
	}
	b.closeRule(-1)
	if err := lx.Err(); err != nil {
		b.report(SeverityError, -1, 0, "", "unreadable input: "+err.Error())
		return b.gb.Graph(), b.diags, err
	}
	return b.gb.Graph(), b.diags, nil
}

// builder is the grammar state machine. path is the path in progress, lhs
// the pending left-hand side and operand the pending second operand.
type builder struct {
	gb       *model.GraphBuilder
	block    model.BlockHandle
	hasBlock bool
	foldCase bool

	path    model.Path
	lhs     model.Path
	operand model.Path
	op      model.Operator
	opAt    int
	hasOp   bool
	sign    string // sign waiting for a numeric operand
	signAt  int

	diags Diagnostics
}

func (b *builder) consume(g Group) {
	switch g.Kind {
	case KindIdentifier:
		b.identifier(g)
	case KindOperator:
		b.operator(g)
	case KindFeed:
		b.feed()
	case KindDivider:
		b.divider(g)
	default:
		text := g.Text()
		if text == "\n" {
			b.closeRule(g.Offset())
			return
		}
		if strings.TrimSpace(text) != "" {
			b.report(SeverityWarning, g.Offset(), g.Len(), text, "skipping unmatched text")
		}
	}
}

func (b *builder) identifier(g Group) {
	text := strings.TrimSpace(g.Text())
	if text == "" {
		return
	}
	fresh := len(b.path) == 0
	b.appendText(text)

	if b.sign != "" {
		if fresh && len(b.path) == 1 && model.IsNumber(b.path[0]) {
			b.path[0] = b.sign + b.path[0]
		} else {
			b.report(SeverityWarning, b.signAt, len(b.sign), b.sign, "sign is not followed by a number")
		}
		b.sign = ""
		return
	}
	if b.hasOp && b.op.IsSign() && b.lhs == nil && fresh && len(b.path) == 1 && model.IsNumber(b.path[0]) {
		b.path[0] = b.op.Symbol() + b.path[0]
		b.hasOp = false
	}
}

// appendText splits text on the path separator. Text that does not start
// with a separator continues the last segment of the path in progress.
func (b *builder) appendText(text string) {
	if model.IsNumber(text) && len(b.path) == 0 {
		b.path = model.Path{text}
		return
	}
	segs := model.ParsePath(text)
	if b.foldCase {
		for i, s := range segs {
			segs[i] = foldSegment(s)
		}
	}
	if len(segs) == 0 {
		return
	}
	if len(b.path) == 0 || strings.HasPrefix(text, model.Separator) {
		b.path = append(b.path, segs...)
		return
	}
	last := len(b.path) - 1
	if b.path[last] == model.ExclusionMarker {
		b.path[last] += segs[0]
	} else {
		b.path[last] += " " + segs[0]
	}
	b.path = append(b.path, segs[1:]...)
}

func (b *builder) operator(g Group) {
	text := g.Text()
	if op, ok := model.ParseOperator(text); ok {
		if op.IsSign() && b.hasOp && b.lhs != nil && len(b.path) == 0 {
			b.sign, b.signAt = op.Symbol(), g.Offset()
			return
		}
		b.op, b.hasOp, b.opAt = op, true, g.Offset()
		if len(b.path) > 0 {
			b.lhs = b.path
			b.path = nil
		}
		return
	}
	if text == model.ExclusionMarker {
		b.path = append(b.path, model.ExclusionMarker)
		return
	}
	b.report(SeverityWarning, g.Offset(), g.Len(), text, "unknown operator")
}

func (b *builder) feed() {
	if b.lhs != nil && len(b.path) > 0 {
		b.operand = b.path
		b.path = nil
	}
	if b.operand == nil {
		if b.hasOp && b.op != model.Feed && !b.op.IsSign() && b.lhs == nil {
			sym := b.op.Symbol()
			b.report(SeverityWarning, b.opAt, len(sym), sym, "operator without a left operand")
		}
		b.op, b.hasOp = model.Feed, true
		if len(b.path) > 0 {
			b.lhs = b.path
		}
		b.path = nil
	}
}

func (b *builder) divider(g Group) {
	if len(b.path) == 0 {
		b.report(SeverityError, g.Offset(), g.Len(), strings.TrimSpace(g.Text()), "divider without a block label")
		b.reset()
		return
	}
	b.block = b.gb.Open(b.path.String())
	b.hasBlock = true
	b.reset()
}

// closeRule emits the pending rule, if any, at a newline or end of input.
func (b *builder) closeRule(offset int) {
	defer b.reset()
	if b.sign != "" {
		b.report(SeverityWarning, b.signAt, len(b.sign), b.sign, "sign is not followed by a number")
	}
	if len(b.path) == 0 && b.lhs == nil {
		return
	}
	var r model.Rule
	if b.hasOp && b.op != model.Feed && b.lhs != nil && len(b.path) > 0 && b.operand == nil {
		r = model.Rule{From: b.lhs, Operand: model.OperandOf(b.path), Op: b.op}
	} else {
		from := b.lhs
		if from == nil {
			from = b.path
		}
		op := model.Feed
		if b.hasOp {
			op = b.op
		}
		r = model.Rule{From: from, Target: b.path, Operand: model.OperandOf(b.operand), Op: op}
	}
	if !b.hasBlock {
		b.report(SeverityWarning, offset, 0, r.String(), "rule outside of any block")
		return
	}
	b.gb.AddRule(b.block, r)
}

func (b *builder) reset() {
	b.path, b.lhs, b.operand = nil, nil, nil
	b.hasOp = false
	b.op = model.Feed
	b.sign = ""
}

func (b *builder) report(sev Severity, offset, length int, text, msg string) {
	b.diags = append(b.diags, Diagnostic{Severity: sev, Offset: offset, Length: length, Text: text, Message: msg})
}

func foldSegment(s string) string {
	s = strings.ToLower(s)
	if s == strings.ToLower(model.IndexSegment) {
		return model.IndexSegment
	}
	return s
}
