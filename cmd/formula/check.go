package main

import (
	"fmt"
	"io"
	"os"

	"trading-formulas/internal/model"
	"trading-formulas/internal/parser"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE",
		Short: "Parse a formula file and report diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := loadGraph(cmd, args[0], cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d blocks\n", args[0], g.Len())
			return nil
		},
	}
}

func newFmtCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "fmt FILE",
		Short: "Print a formula file in canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := loadGraph(cmd, args[0], cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			out := parser.Render(g)
			if !write {
				_, err := io.WriteString(cmd.OutOrStdout(), out)
				return err
			}
			return os.WriteFile(args[0], []byte(out), 0o644)
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the result back to the file")
	return cmd
}

// loadGraph parses path and prints its diagnostics to w. Error diagnostics
// fail the load.
func loadGraph(cmd *cobra.Command, path string, w io.Writer) (*model.Graph, parser.Diagnostics, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	fold, _ := cmd.Flags().GetBool("fold-case")
	g, diags := parser.Parse(string(src), parser.WithFoldCase(fold))
	for _, d := range diags {
		line, col := d.Line(string(src))
		fmt.Fprintf(w, "%s:%d:%d: %s: %s (%q)\n", path, line, col, d.Severity, d.Message, d.Text)
	}
	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("%s: %d diagnostics", path, len(diags))
	}
	return g, diags, nil
}
