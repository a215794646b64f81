package model

import (
	"encoding/json"
	"sort"
	"strings"
)

// Values maps paths (encoded with Path.Key) to scalar values. It is both the
// resolver's working memory and its result.
type Values map[string]float64

// Get returns the value stored at p.
func (v Values) Get(p Path) (float64, bool) {
	x, ok := v[p.Key()]
	return x, ok
}

// Set stores x at p.
func (v Values) Set(p Path, x float64) {
	v[p.Key()] = x
}

// Delete removes the exact path p.
func (v Values) Delete(p Path) {
	delete(v, p.Key())
}

// DeleteUnder removes p and every path nested beneath it.
func (v Values) DeleteUnder(p Path) {
	for k := range v {
		if PathFromKey(k).HasPrefix(p) {
			delete(v, k)
		}
	}
}

// Under returns the values at or beneath prefix, keyed relative to it.
// A value stored exactly at prefix is returned under the empty key.
func (v Values) Under(prefix Path) Values {
	out := Values{}
	if len(prefix) == 0 {
		for k, x := range v {
			out[k] = x
		}
		return out
	}
	for k, x := range v {
		p := PathFromKey(k)
		if p.HasPrefix(prefix) {
			out[p[len(prefix):].Key()] = x
		}
	}
	return out
}

// Merge copies src into v, nesting every key beneath prefix.
func (v Values) Merge(src Values, prefix Path) {
	for k, x := range src {
		v[prefix.Concat(PathFromKey(k)...).Key()] = x
	}
}

// Clone returns a shallow copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Equal reports whether both mappings hold the same keys and values.
func (v Values) Equal(o Values) bool {
	if len(v) != len(o) {
		return false
	}
	for k, x := range v {
		y, ok := o[k]
		if !ok || x != y {
			return false
		}
	}
	return true
}

// Paths returns every stored path sorted by dotted form.
func (v Values) Paths() []Path {
	out := make([]Path, 0, len(v))
	for k := range v {
		out = append(out, PathFromKey(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Dotted returns a copy keyed by dotted path text.
func (v Values) Dotted() map[string]float64 {
	out := make(map[string]float64, len(v))
	for k, x := range v {
		out[PathFromKey(k).String()] = x
	}
	return out
}

// MarshalJSON emits dotted keys. encoding/json sorts map keys.
func (v Values) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Dotted())
}

// UnmarshalJSON reads dotted keys.
func (v *Values) UnmarshalJSON(b []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Values, len(raw))
	for k, x := range raw {
		out.Set(ParsePath(k), x)
	}
	*v = out
	return nil
}

// String renders one "path = value" line per entry.
func (v Values) String() string {
	var sb strings.Builder
	for _, p := range v.Paths() {
		x, _ := v.Get(p)
		sb.WriteString(p.String())
		sb.WriteString(" = ")
		sb.WriteString(FormatNumber(x))
		sb.WriteByte('\n')
	}
	return sb.String()
}
