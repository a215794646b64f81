package resolver

import (
	"fmt"
	"math"

	"trading-formulas/internal/model"
)

var indexPath = model.Path{model.IndexSegment}

// invocation resolves one block in one context. Rules are addressed by
// handle: the block's rules come first, virtual rules are appended.
type invocation struct {
	rs    *resolution
	block string
	sc    *scope
	depth int

	rules   []model.Rule
	nblock  int
	virtual []int
	built   map[int]bool
	ix      *model.RuleIndex

	// links maps the linked key of each self-referential rule's target to
	// the rule. A linked block or source is stepped by that rule, never by
	// a virtual one.
	links map[string]int
}

func newInvocation(rs *resolution, blk *model.Block, sc *scope, depth int) *invocation {
	inv := &invocation{
		rs:     rs,
		block:  blk.ID,
		sc:     sc,
		depth:  depth,
		rules:  append([]model.Rule(nil), blk.Rules...),
		nblock: len(blk.Rules),
		built:  make(map[int]bool),
		ix:     model.NewRuleIndex(blk.Rules),
		links:  make(map[string]int),
	}
	for h, r := range blk.Rules {
		if !r.IsSelfReferential() {
			continue
		}
		lk := linkedKey(r.Target, rs.isBlock)
		if lk == nil {
			lk = linkedKey(r.Target, rs.isSource)
		}
		if lk != nil {
			inv.links[lk.Key()] = h
		}
	}
	return inv
}

func (inv *invocation) run() (model.Values, error) {
	cache := inv.rs.r.cache
	sc := inv.sc

	required := 0
	idx, specified := sc.get(indexPath)
	if specified {
		required = int(math.Floor(idx))
	}
	if required < 0 {
		return nil, fmt.Errorf("%w: %s index %d", ErrUnresolved, inv.block, required)
	}
	current := 0
	if specified {
		if out, last, virtual, ok := cache.ResumePoint(inv.block, sc.context, required); ok {
			out.Delete(indexPath)
			sc.ingest(out, nil)
			current = last + 1
			for _, r := range virtual {
				inv.appendVirtual(r)
			}
			inv.rs.cacheHit(inv.block)
		}
	}

	roots := inv.ix.Roots(inv.rs.isSource)
	order := inv.ix.BuildOrder()
	skipSelf := true
	snapshot := inv.rootValues(roots)
	retries := 0

	for current <= required {
		if err := inv.rs.ctx.Err(); err != nil {
			return nil, err
		}
		failed, err := inv.buildList(inv.virtual, false)
		if err != nil {
			return nil, err
		}
		if len(failed) > 0 {
			return nil, fmt.Errorf("%w: %s index %d: virtual rule failed on %s", ErrUnresolved, inv.block, current, failed[0])
		}
		failed, err = inv.buildList(order, skipSelf)
		if err != nil {
			return nil, err
		}
		if len(failed) == 0 {
			inv.built = make(map[int]bool)
			skipSelf = true
			out := sc.local()
			out.Set(indexPath, float64(current))
			cache.Record(inv.block, sc.context, current, out, inv.virtualRules())
			current++
			snapshot = inv.rootValues(roots)
			continue
		}

		// Virtual rules rerun only when downstream of an invalidated rule.
		for _, h := range inv.virtual {
			inv.built[h] = true
		}
		before := len(inv.built)
		related := false
		for _, f := range failed {
			if h, ok := inv.firstCycleUpstream(f); ok {
				inv.invalidate(h)
				related = true
			}
		}
		if !related {
			return nil, fmt.Errorf("%w: %s index %d: %s", ErrUnresolved, inv.block, current, failedString(failed))
		}
		if !snapshot.Equal(inv.rootValues(roots)) {
			for h := 0; h < inv.nblock; h++ {
				if inv.rules[h].IsSelfReferential() {
					inv.invalidate(h)
				}
			}
		}
		if len(inv.built) == before && !skipSelf {
			return nil, fmt.Errorf("%w: %s index %d: no progress on %s", ErrUnresolved, inv.block, current, failedString(failed))
		}
		retries++
		if limit := inv.rs.r.maxRetries; limit > 0 && retries > limit {
			return nil, fmt.Errorf("%w: %s index %d after %d passes", ErrRetryLimit, inv.block, current, retries)
		}
		inv.rs.retry(inv.block)
		inv.rs.r.log.Debug("retrying pass",
			"block", inv.block,
			"context", sc.context.String(),
			"index", current,
			"failed", failedString(failed))
		skipSelf = false
	}
	return sc.local(), nil
}

// buildList builds every rule of list that is not built yet. It stops at
// the first failure and returns the paths that failed.
func (inv *invocation) buildList(list []int, skipSelf bool) ([]model.Path, error) {
	skipped := func(h int) bool {
		return inv.built[h] || (skipSelf && inv.rules[h].IsSelfReferential())
	}
	for i, h := range list {
		if skipped(h) {
			continue
		}
		next := -1
		for _, n := range list[i+1:] {
			if !skipped(n) {
				next = n
				break
			}
		}
		failed, err := inv.buildRule(h, next)
		if err != nil {
			return nil, err
		}
		if len(failed) > 0 {
			return failed, nil
		}
		inv.built[h] = true
	}
	return nil, nil
}

// buildRule evaluates rule h and writes its target. The target is read back
// unless the next rule writes under the same first segment.
func (inv *invocation) buildRule(h, next int) ([]model.Path, error) {
	r := inv.rules[h]
	in, ok, err := inv.activeValue(r.From, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.Path{r.From}, nil
	}
	val := in
	if opPath, has := r.Operand.Path(); has {
		operand, ok, err := inv.activeValue(opPath, false)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []model.Path{opPath}, nil
		}
		combined, ok := combine(in, operand, opPath, r.Op)
		if !ok {
			return []model.Path{r.From, opPath}, nil
		}
		val = combined
	}
	if r.IsGuard() || r.IsNoOpFeed() {
		return nil, nil
	}

	exclusion := r.Target.IsExclusion()
	target := r.Target.StripExclusion()
	inv.copyValue(val, target)
	if next >= 0 && inv.rules[next].Target.First() == r.Target.First() {
		return nil, nil
	}
	_, ok, err = inv.activeValue(target, exclusion)
	if err != nil {
		return nil, err
	}
	switch {
	case !ok && exclusion:
		return nil, nil
	case !ok:
		return []model.Path{r.Target}, nil
	case exclusion:
		inv.sc.erase(target)
		return []model.Path{r.Target}, nil
	}
	return nil, nil
}

// activeValue resolves p: a literal, a nested block, a data source row, or
// a value already held in scope.
func (inv *invocation) activeValue(p model.Path, exclusion bool) (value, bool, error) {
	if x, ok := p.Literal(); ok {
		return single(x), true, nil
	}
	for i, seg := range p {
		head := p[:i+1]
		if inv.rs.r.graph.Has(seg) {
			ok, err := inv.resolveNested(seg, head, exclusion)
			if err != nil {
				return value{}, false, err
			}
			if !ok {
				return value{}, false, nil
			}
			break
		}
		if src, ok := inv.rs.r.sources[seg]; ok {
			return inv.readSource(src, head, p, exclusion)
		}
	}

	vals := inv.sc.under(p)
	if len(vals) == 0 {
		return value{}, false, nil
	}
	if x, ok := vals[""]; ok && len(vals) == 1 {
		return single(x), true, nil
	}
	return multi(vals), true, nil
}

// resolveNested resolves block name in the context at head and stores its
// outputs there. A soft failure reports false with a nil error.
func (inv *invocation) resolveNested(name string, head model.Path, exclusion bool) (bool, error) {
	sub := inv.sc.child(head)
	idxPath := head.Concat(model.IndexSegment)
	idx, has := inv.sc.get(idxPath)
	implied := !has && len(sub.local()) == 0

	if has || implied {
		if out, ok := inv.rs.r.cache.At(name, sub.context, int(math.Floor(idx))); ok {
			inv.sc.ingest(out, head)
			inv.rs.cacheHit(name)
			return true, nil
		}
	}
	if inv.depth+1 > inv.rs.r.maxDepth {
		inv.rs.r.log.Warn("nesting too deep", "block", name, "context", sub.context.String())
		return false, nil
	}
	out, err := inv.rs.resolveBlock(name, sub, inv.depth+1)
	if err != nil {
		if IsHardStop(err) {
			return false, err
		}
		return false, nil
	}
	if implied && !exclusion && !inv.linked(head) {
		inv.addVirtual(idxPath)
	}
	inv.sc.ingest(out, head)
	return true, nil
}

// readSource reads p from the data source at head, at the row held in
// head.Index. Without one, row 0 is read and a virtual rule steps it.
func (inv *invocation) readSource(src model.DataSource, head, p model.Path, exclusion bool) (value, bool, error) {
	idxPath := head.Concat(model.IndexSegment)
	if p.Equal(idxPath) {
		x, ok := inv.sc.get(idxPath)
		return single(x), ok, nil
	}
	idx, has := inv.sc.get(idxPath)
	if !has && !exclusion && !inv.linked(head) {
		inv.addVirtual(idxPath)
	}
	row := int(math.Floor(idx))
	if row < 0 {
		return value{}, false, nil
	}
	if n := src.Len(); row >= n {
		return value{}, false, fmt.Errorf("%w: %s row %d of %d", ErrDataExhausted, head.Last(), row, n)
	}
	data := src.Row(row)
	sub := p[len(head):]
	if len(sub) > 0 {
		x, ok := data.Get(sub)
		if !ok {
			return value{}, false, nil
		}
		inv.sc.set(p, x)
		return single(x), true, nil
	}
	inv.sc.ingest(data, p)
	return multi(data), true, nil
}

// copyValue writes val to target. A group lands beneath target. Targets
// inside a data source are also written to the source's current row.
func (inv *invocation) copyValue(val value, target model.Path) {
	if head := linkedKey(target, inv.rs.isSource); head != nil && target.Last() != model.IndexSegment {
		inv.writeSource(head, target, val)
	}
	if val.isMulti() {
		for k, x := range val.group {
			inv.sc.set(target.Concat(model.PathFromKey(k)...), x)
		}
		return
	}
	inv.sc.set(target, val.scalar)
}

func (inv *invocation) writeSource(head, target model.Path, val value) {
	name := head.Last()
	src := inv.rs.r.sources[name]
	row := 0
	if x, ok := inv.sc.get(head.Concat(model.IndexSegment)); ok {
		row = int(math.Floor(x))
	}
	if row < 0 || row >= src.Len() {
		return
	}
	sub := target[len(head):]
	data := src.Row(row)
	if val.isMulti() {
		for k, x := range val.group {
			if p := sub.Concat(model.PathFromKey(k)...); len(p) > 0 {
				data.Set(p, x)
			}
		}
	} else {
		if len(sub) == 0 {
			return
		}
		data.Set(sub, val.scalar)
	}
	src.WriteRow(row, data)
	inv.rs.written[name] = true
}

// addVirtual creates the index-stepping rule for idxPath, seeded at 0 and
// marked built so it first runs on the next pass.
func (inv *invocation) addVirtual(idxPath model.Path) {
	r := model.Rule{
		From:    idxPath.Clone(),
		Target:  idxPath.Clone(),
		Operand: model.OperandOf(model.Path{"1"}),
		Op:      model.Add,
	}
	for _, h := range inv.virtual {
		if inv.rules[h].Equal(r) {
			return
		}
	}
	h := inv.appendVirtual(r)
	inv.built[h] = true
	inv.sc.set(idxPath, 0)
}

func (inv *invocation) appendVirtual(r model.Rule) int {
	h := len(inv.rules)
	inv.rules = append(inv.rules, r)
	inv.virtual = append(inv.virtual, h)
	return h
}

func (inv *invocation) virtualRules() []model.Rule {
	out := make([]model.Rule, 0, len(inv.virtual))
	for _, h := range inv.virtual {
		out = append(out, inv.rules[h])
	}
	return out
}

func (inv *invocation) linked(head model.Path) bool {
	_, ok := inv.links[head.Key()]
	return ok
}

// firstCycleUpstream finds the rule to invalidate for failed path f: the
// nearest upstream rule that is self-referential or reads a virtually
// stepped block or source.
func (inv *invocation) firstCycleUpstream(f model.Path) (int, bool) {
	for _, h := range inv.ix.Upstream(f) {
		r := inv.rules[h]
		if v, ok := inv.virtualFor(r.From); ok {
			return v, true
		}
		if r.IsSelfReferential() {
			return h, true
		}
		if op, has := r.Operand.Path(); has {
			if v, ok := inv.virtualFor(op); ok {
				return v, true
			}
		}
	}
	return inv.virtualFor(f)
}

// virtualFor returns the virtual rule stepping the block or source p lies in.
func (inv *invocation) virtualFor(p model.Path) (int, bool) {
	for _, has := range []func(string) bool{inv.rs.isBlock, inv.rs.isSource} {
		lk := linkedKey(p, has)
		if lk == nil {
			continue
		}
		want := lk.Concat(model.IndexSegment)
		for _, h := range inv.virtual {
			if inv.rules[h].Target.Equal(want) {
				return h, true
			}
		}
	}
	return 0, false
}

// invalidate unbuilds rule h and every block rule downstream of its target.
func (inv *invocation) invalidate(h int) {
	delete(inv.built, h)
	for _, d := range inv.ix.Downstream(inv.rules[h].Target) {
		delete(inv.built, d)
	}
}

func (inv *invocation) rootValues(roots []model.Path) model.Values {
	out := make(model.Values, len(roots))
	for _, p := range roots {
		if x, ok := inv.sc.get(p); ok {
			out.Set(p, x)
		}
	}
	return out
}

func failedString(ps []model.Path) string {
	s := ""
	for i, p := range ps {
		if i > 0 {
			s += ", "
		}
		s += p.String()
	}
	return s
}
