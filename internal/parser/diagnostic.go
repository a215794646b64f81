package parser

import "fmt"

// Severity ranks a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic reports a recoverable problem found while building a graph.
// The offending tokens are dropped and building continues.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Offset   int      `json:"offset"` // byte offset into the source
	Length   int      `json:"length"`
	Text     string   `json:"text"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s at %d: %s (%q)", d.Severity, d.Offset, d.Message, d.Text)
}

// Diagnostics is the list returned next to a graph.
type Diagnostics []Diagnostic

// HasErrors reports whether any entry has error severity.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Line returns the 1-based line and column of a diagnostic in src.
func (d Diagnostic) Line(src string) (line, col int) {
	line, col = 1, 1
	for i, r := range src {
		if i >= d.Offset {
			break
		}
		if r == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
