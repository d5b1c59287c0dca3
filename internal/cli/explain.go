package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ExplainResult is the compiled form of a query, as reported in JSON
// output.
type ExplainResult struct {
	Source string `json:"source"`
	Plan   string `json:"plan"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <expression>",
		Short: "Compile a query and print its expression tree",
		Long: `Compile a query without running it and print the expression tree,
one clause per line.

Example:
  xcore explain 'for $b in //book where $b/author return $b/title'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runExplain(opts *RootOptions, src string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	e, err := openEnv(opts, f, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	cq, err := e.queries.Compile(src)
	if err != nil {
		return f.Fail(ExitCommandError, ErrorCode(err), err)
	}

	if f.Format == "json" {
		return f.Success(ExplainResult{Source: cq.Source(), Plan: cq.String()})
	}
	fmt.Fprintln(f.Writer, cq.String())
	return nil
}
