package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolved means the block could not be resolved with the data
	// currently available. Callers may retry later.
	ErrUnresolved = errors.New("block could not be resolved")

	// ErrDataExhausted means a data source was addressed past its last row.
	// It aborts every enclosing invocation.
	ErrDataExhausted = errors.New("data source exhausted")

	// ErrUnknownBlock means the requested block is not in the graph.
	ErrUnknownBlock = errors.New("unknown block")

	// ErrRetryLimit is returned when a block keeps failing its pass without
	// settling. It is a kind of ErrUnresolved.
	ErrRetryLimit = fmt.Errorf("%w: retry limit reached", ErrUnresolved)
)

// IsHardStop reports whether err must abort all enclosing resolution, as
// opposed to a soft ErrUnresolved.
func IsHardStop(err error) bool {
	return err != nil && !errors.Is(err, ErrUnresolved)
}
