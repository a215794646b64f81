package model

import (
	"strconv"
	"strings"
)

const (
	// Separator splits path segments in source text.
	Separator = "."

	// IndexSegment is the reserved segment holding a block or data source row index.
	IndexSegment = "Index"

	// ExclusionMarker prefixes a target segment that must not resolve.
	ExclusionMarker = "!"

	keySep = "\x1f"
)

// Path is an ordered list of identifiers, e.g. Candle.Close price.
type Path []string

// ParsePath splits dotted text into a trimmed Path. Empty segments are dropped.
func ParsePath(s string) Path {
	parts := strings.Split(s, Separator)
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			p = append(p, part)
		}
	}
	return p
}

// String renders the path in its dotted source form.
func (p Path) String() string {
	return strings.Join(p, Separator)
}

// Key encodes the path as a map key. Segments may contain dots (numeric
// literals), so a control character is used as the separator.
func (p Path) Key() string {
	return strings.Join(p, keySep)
}

// PathFromKey decodes a key produced by Path.Key.
func PathFromKey(k string) Path {
	if k == "" {
		return nil
	}
	return Path(strings.Split(k, keySep))
}

// Equal reports structural equality.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix matches the leading segments of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// First returns the first segment or "".
func (p Path) First() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Last returns the last segment or "".
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Concat returns a new path p + o.
func (p Path) Concat(o ...string) Path {
	out := make(Path, 0, len(p)+len(o))
	out = append(out, p...)
	return append(out, o...)
}

// Clone returns a copy that does not alias p.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	return append(Path(nil), p...)
}

// Literal returns the numeric value of a single-segment numeric path.
func (p Path) Literal() (float64, bool) {
	if len(p) != 1 || !IsNumber(p[0]) {
		return 0, false
	}
	v, _ := strconv.ParseFloat(p[0], 64)
	return v, true
}

// IsExclusion reports whether any segment carries the exclusion marker.
func (p Path) IsExclusion() bool {
	for _, s := range p {
		if strings.HasPrefix(s, ExclusionMarker) {
			return true
		}
	}
	return false
}

// StripExclusion removes the exclusion marker from every segment.
func (p Path) StripExclusion() Path {
	out := make(Path, len(p))
	for i, s := range p {
		out[i] = strings.TrimPrefix(s, ExclusionMarker)
	}
	return out
}

// IsNumber reports whether s is a plain numeric literal. Words such as
// "Inf" or "NaN" parse as floats but stay identifiers.
func IsNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789.+-eE", c) {
			return false
		}
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// FormatNumber renders v the shortest way that round-trips.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
