package resolver

import "trading-formulas/internal/model"

// scope is a view of the shared working values rooted at an invocation
// context. Paths passed to its methods are relative to that context.
type scope struct {
	values  model.Values
	context model.Path
}

func (s *scope) abs(p model.Path) model.Path {
	return s.context.Concat(p...)
}

func (s *scope) get(p model.Path) (float64, bool) {
	return s.values.Get(s.abs(p))
}

func (s *scope) set(p model.Path, x float64) {
	s.values.Set(s.abs(p), x)
}

// local returns every value of this context, keyed relative to it.
func (s *scope) local() model.Values {
	return s.values.Under(s.context)
}

func (s *scope) under(p model.Path) model.Values {
	return s.values.Under(s.abs(p))
}

// ingest stores vals beneath prefix.
func (s *scope) ingest(vals model.Values, prefix model.Path) {
	s.values.Merge(vals, s.abs(prefix))
}

// erase drops p and everything nested beneath it.
func (s *scope) erase(p model.Path) {
	s.values.DeleteUnder(s.abs(p))
}

// child returns the scope of a nested invocation at p.
func (s *scope) child(p model.Path) *scope {
	return &scope{values: s.values, context: s.abs(p)}
}
