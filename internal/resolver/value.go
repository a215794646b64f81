package resolver

import "trading-formulas/internal/model"

// value is what a path resolves to: a scalar, or a group of values keyed
// relative to the path that was read.
type value struct {
	scalar float64
	group  model.Values
}

func single(x float64) value { return value{scalar: x} }

func multi(g model.Values) value { return value{group: g} }

func (v value) isMulti() bool { return v.group != nil }

// combine applies op to in and operand. A scalar against a group applies op
// to every member and fails if any member fails. A group on the left keeps
// its members and adds the operand, under operandPath when it is a scalar.
func combine(in, operand value, operandPath model.Path, op model.Operator) (value, bool) {
	switch {
	case !in.isMulti() && !operand.isMulti():
		x, ok := op.Apply(in.scalar, operand.scalar)
		if !ok {
			return value{}, false
		}
		return single(x), true
	case !in.isMulti():
		out := make(model.Values, len(operand.group))
		for k, y := range operand.group {
			x, ok := op.Apply(in.scalar, y)
			if !ok {
				return value{}, false
			}
			out[k] = x
		}
		return multi(out), true
	case !operand.isMulti():
		out := in.group.Clone()
		out.Set(operandPath, operand.scalar)
		return multi(out), true
	default:
		out := in.group.Clone()
		out.Merge(operand.group, nil)
		return multi(out), true
	}
}
