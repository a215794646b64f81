package model

import "math"

// Operator combines a rule's input with its operand.
type Operator int

const (
	Feed Operator = iota
	Add
	Subtract
	Multiply
	IntMultiply
	Divide
	IntDivide
	AbsDiff
	Equal
	NotEqual
	Greater
	Less
	LessOrEqual
)

var operatorSymbols = [...]string{
	Feed:        "→",
	Add:         "+",
	Subtract:    "-",
	Multiply:    "*",
	IntMultiply: "**",
	Divide:      "/",
	IntDivide:   "//",
	AbsDiff:     "--",
	Equal:       "=",
	NotEqual:    "!=",
	Greater:     ">",
	Less:        "<",
	LessOrEqual: "<=",
}

var operatorNames = [...]string{
	Feed:        "feed",
	Add:         "add",
	Subtract:    "subtract",
	Multiply:    "multiply",
	IntMultiply: "int-multiply",
	Divide:      "divide",
	IntDivide:   "int-divide",
	AbsDiff:     "abs-diff",
	Equal:       "equal",
	NotEqual:    "not-equal",
	Greater:     "greater",
	Less:        "less",
	LessOrEqual: "less-or-equal",
}

// ParseOperator resolves an exact symbol. "->" is accepted for feed.
func ParseOperator(s string) (Operator, bool) {
	if s == "->" {
		return Feed, true
	}
	for op, sym := range operatorSymbols {
		if sym == s {
			return Operator(op), true
		}
	}
	return 0, false
}

// Symbol returns the canonical source symbol.
func (o Operator) Symbol() string {
	if o < 0 || int(o) >= len(operatorSymbols) {
		return "?"
	}
	return operatorSymbols[o]
}

func (o Operator) String() string {
	if o < 0 || int(o) >= len(operatorNames) {
		return "unknown"
	}
	return operatorNames[o]
}

// IsSign reports whether the operator can prefix a numeric literal.
func (o Operator) IsSign() bool { return o == Add || o == Subtract }

// IsComparison reports whether the operator is a guard-style comparison.
func (o Operator) IsComparison() bool {
	switch o {
	case Equal, NotEqual, Greater, Less, LessOrEqual:
		return true
	}
	return false
}

// Apply evaluates in <op> operand. Comparisons yield the operand when they
// hold and false otherwise.
func (o Operator) Apply(in, operand float64) (float64, bool) {
	switch o {
	case Feed:
		return in, true
	case Add:
		return in + operand, true
	case Subtract:
		return in - operand, true
	case Multiply:
		return in * operand, true
	case IntMultiply:
		return math.Floor(in * operand), true
	case Divide:
		return in / operand, true
	case IntDivide:
		return math.Floor(in / operand), true
	case AbsDiff:
		return math.Abs(in - operand), true
	case Equal:
		return operand, in == operand
	case NotEqual:
		return operand, in != operand
	case Greater:
		return operand, in > operand
	case Less:
		return operand, in < operand
	case LessOrEqual:
		return operand, in <= operand
	}
	return 0, false
}
