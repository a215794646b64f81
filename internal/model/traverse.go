package model

// RuleIndex answers dependency queries over a block's rules. Rules are
// addressed by their position (handle) in the slice given to NewRuleIndex.
// Producers and consumers are matched on the first path segment, so a rule
// writing Increment.In is a producer for a reader of Increment.Out.
type RuleIndex struct {
	rules     []Rule
	producers map[string][]int
	consumers map[string][]int
}

// NewRuleIndex indexes rules. The slice must not be modified afterwards.
func NewRuleIndex(rules []Rule) *RuleIndex {
	ix := &RuleIndex{
		rules:     rules,
		producers: make(map[string][]int),
		consumers: make(map[string][]int),
	}
	for h, r := range rules {
		if len(r.Target) > 0 {
			seg := r.Target.First()
			ix.producers[seg] = append(ix.producers[seg], h)
		}
		ix.addConsumer(r.From, h)
		if op, ok := r.Operand.Path(); ok {
			ix.addConsumer(op, h)
		}
	}
	// Self-referential producers come first so that a recurrence is found
	// before the seed that initializes it.
	for seg, hs := range ix.producers {
		ix.producers[seg] = ix.selfFirst(hs)
	}
	return ix
}

func (ix *RuleIndex) addConsumer(p Path, h int) {
	if !isReference(p) {
		return
	}
	seg := p.First()
	if hs := ix.consumers[seg]; len(hs) > 0 && hs[len(hs)-1] == h {
		return
	}
	ix.consumers[seg] = append(ix.consumers[seg], h)
}

// Len returns the number of indexed rules.
func (ix *RuleIndex) Len() int { return len(ix.rules) }

// Rule returns the rule behind handle h.
func (ix *RuleIndex) Rule(h int) Rule { return ix.rules[h] }

// Upstream returns every rule that contributes to p, nearest first.
func (ix *RuleIndex) Upstream(p Path) []int {
	type item struct {
		path Path
		rule int
	}
	var out []int
	seen := make(map[int]bool)
	stack := []item{{path: p, rule: -1}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.rule < 0 {
			if !isReference(it.path) {
				continue
			}
			hs := ix.producers[it.path.First()]
			for i := len(hs) - 1; i >= 0; i-- {
				stack = append(stack, item{rule: hs[i]})
			}
			continue
		}
		if seen[it.rule] {
			continue
		}
		seen[it.rule] = true
		out = append(out, it.rule)
		r := ix.rules[it.rule]
		if op, ok := r.Operand.Path(); ok {
			stack = append(stack, item{path: op, rule: -1})
		}
		stack = append(stack, item{path: r.From, rule: -1})
	}
	return out
}

// Downstream returns every rule that transitively consumes p.
func (ix *RuleIndex) Downstream(p Path) []int {
	var out []int
	seen := make(map[int]bool)
	visited := make(map[string]bool)
	queue := []Path{p}
	for len(queue) > 0 {
		q := queue[0]
		queue = queue[1:]
		seg := q.First()
		if seg == "" || visited[seg] {
			continue
		}
		visited[seg] = true
		for _, h := range ix.consumers[seg] {
			if seen[h] {
				continue
			}
			seen[h] = true
			out = append(out, h)
			if t := ix.rules[h].Target; len(t) > 0 {
				queue = append(queue, t)
			}
		}
	}
	return out
}

// Leaves returns the targets that no other rule reads, in rule order.
func (ix *RuleIndex) Leaves() []Path {
	read := make(map[string]bool)
	for _, r := range ix.rules {
		if !r.From.Equal(r.Target) {
			read[r.From.Key()] = true
		}
		if op, ok := r.Operand.Path(); ok && !op.Equal(r.Target) {
			read[op.Key()] = true
		}
	}
	var out []Path
	seen := make(map[string]bool)
	for _, r := range ix.rules {
		if len(r.Target) == 0 {
			continue
		}
		k := r.Target.Key()
		if read[k] || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r.Target)
	}
	return out
}

// BuildOrder returns every handle exactly once, with each rule placed after
// the rules producing its inputs. Self-referential rules lead their batch.
func (ix *RuleIndex) BuildOrder() []int {
	seen := make(map[int]bool, len(ix.rules))
	order := make([]int, 0, len(ix.rules))
	for _, leaf := range ix.Leaves() {
		order = append(order, ix.selfFirst(ix.producersFirst(leaf, seen))...)
	}
	for h := range ix.rules {
		if !seen[h] {
			order = append(order, h)
		}
	}
	return order
}

// producersFirst walks the producers of p depth first and emits each rule
// after its own producers. Rules already in seen are skipped.
func (ix *RuleIndex) producersFirst(p Path, seen map[int]bool) []int {
	type frame struct {
		rule     int
		expanded bool
	}
	var out []int
	var stack []frame
	push := func(p Path) {
		if !isReference(p) {
			return
		}
		hs := ix.producers[p.First()]
		for i := len(hs) - 1; i >= 0; i-- {
			if !seen[hs[i]] {
				stack = append(stack, frame{rule: hs[i]})
			}
		}
	}
	push(p)
	for len(stack) > 0 {
		top := len(stack) - 1
		f := stack[top]
		if f.expanded {
			stack = stack[:top]
			out = append(out, f.rule)
			continue
		}
		if seen[f.rule] {
			stack = stack[:top]
			continue
		}
		seen[f.rule] = true
		stack[top].expanded = true
		r := ix.rules[f.rule]
		if op, ok := r.Operand.Path(); ok {
			push(op)
		}
		push(r.From)
	}
	return out
}

// Roots returns the inputs fed from outside the block's own arithmetic:
// paths read but never the target of a computing rule, plus targets of
// plain literal feeds. A root inside an external namespace is reported as
// that namespace's Index path.
func (ix *RuleIndex) Roots(isExternal func(seg string) bool) []Path {
	var candidates []Path
	computed := make(map[string]bool)
	for _, r := range ix.rules {
		if isReference(r.From) {
			candidates = append(candidates, r.From)
		}
		if op, ok := r.Operand.Path(); ok && isReference(op) {
			candidates = append(candidates, op)
		}
		if r.IsValueFeed() {
			candidates = append(candidates, r.Target)
			continue
		}
		if len(r.Target) > 0 && !r.IsSelfReferential() {
			computed[r.Target.Key()] = true
		}
	}
	var out []Path
	seen := make(map[string]bool)
	for _, p := range candidates {
		if computed[p.Key()] {
			continue
		}
		if isExternal != nil {
			for i, seg := range p {
				if isExternal(seg) {
					p = p[:i+1].Concat(IndexSegment)
					break
				}
			}
		}
		if seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		out = append(out, p)
	}
	return out
}

func (ix *RuleIndex) selfFirst(hs []int) []int {
	out := make([]int, 0, len(hs))
	for _, h := range hs {
		if ix.rules[h].IsSelfReferential() {
			out = append(out, h)
		}
	}
	for _, h := range hs {
		if !ix.rules[h].IsSelfReferential() {
			out = append(out, h)
		}
	}
	return out
}

// isReference reports whether p names something to look up.
func isReference(p Path) bool {
	if len(p) == 0 {
		return false
	}
	_, lit := p.Literal()
	return !lit
}
