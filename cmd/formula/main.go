// Command formula checks, formats and evaluates formula files.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes of resolve and backtest.
const (
	exitSoft  = 2 // the block has no result at the requested index
	exitFatal = 3 // a data source ran out of rows
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "formula",
		Short:         "Check, format and resolve formula files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("fold-case", false, "lower-case identifiers while parsing")
	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	root.AddCommand(newCheckCmd(), newFmtCmd(), newResolveCmd(), newBacktestCmd())
	return root
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.SetOutput(os.Stderr)

	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "formula:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(1)
}
