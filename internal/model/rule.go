package model

import "strings"

// Operand is the optional second input of a rule.
type Operand struct {
	path Path
}

// NoOperand returns the absent operand.
func NoOperand() Operand { return Operand{} }

// OperandOf wraps p. An empty path yields NoOperand.
func OperandOf(p Path) Operand {
	if len(p) == 0 {
		return Operand{}
	}
	return Operand{path: p.Clone()}
}

// Path returns the operand path and whether one is set.
func (o Operand) Path() (Path, bool) {
	return o.path, o.path != nil
}

// IsSet reports whether an operand is present.
func (o Operand) IsSet() bool { return o.path != nil }

// Equal compares two operands structurally.
func (o Operand) Equal(x Operand) bool {
	return o.IsSet() == x.IsSet() && o.path.Equal(x.path)
}

// Rule relates From (and optionally Operand) to Target inside a block.
// An empty Target makes the rule a guard condition.
type Rule struct {
	From    Path
	Target  Path
	Operand Operand
	Op      Operator
}

// IsGuard reports whether the rule only checks a condition.
func (r Rule) IsGuard() bool { return len(r.Target) == 0 }

// IsSelfReferential reports whether the target feeds back into the rule.
func (r Rule) IsSelfReferential() bool {
	if r.Op == Feed || len(r.Target) == 0 {
		return false
	}
	if r.From.Equal(r.Target) {
		return true
	}
	op, ok := r.Operand.Path()
	return ok && op.Equal(r.Target)
}

// IsNoOpFeed reports a plain feed of a path onto itself.
func (r Rule) IsNoOpFeed() bool {
	return r.Op == Feed && !r.Operand.IsSet() && r.From.Equal(r.Target)
}

// IsValueFeed reports a literal assigned to a target.
func (r Rule) IsValueFeed() bool {
	_, lit := r.From.Literal()
	return lit && r.Op == Feed && !r.Operand.IsSet() && len(r.Target) > 0
}

// Equal compares two rules structurally.
func (r Rule) Equal(o Rule) bool {
	return r.Op == o.Op && r.From.Equal(o.From) && r.Target.Equal(o.Target) && r.Operand.Equal(o.Operand)
}

// String renders the rule as a single source line.
func (r Rule) String() string {
	var sb strings.Builder
	sb.WriteString(r.From.String())
	op, hasOperand := r.Operand.Path()
	switch {
	case r.Op == Feed && !hasOperand:
		sb.WriteString(" " + Feed.Symbol() + " " + r.Target.String())
	case r.IsGuard() && hasOperand:
		sb.WriteString(" " + r.Op.Symbol() + " " + op.String())
	case hasOperand:
		sb.WriteString(" " + r.Op.Symbol() + " " + op.String() + " " + Feed.Symbol() + " " + r.Target.String())
	default:
		sb.WriteString(" " + r.Op.Symbol() + " " + r.Target.String())
	}
	return sb.String()
}
