package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/roach88/xcore/internal/trigger"
	"github.com/roach88/xcore/internal/update"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	Kind   string
	Select string
	Value  string
	As     string

	// IDGenerator allows overriding the transaction id generator (for
	// testing). If nil, defaults to trigger.UUIDv7.
	IDGenerator trigger.IDGenerator
}

// UpdateResult summarizes a processed modification, as reported in JSON
// output.
type UpdateResult struct {
	Instruction string `json:"instruction"`
	Nodes       int    `json:"nodes"`
	Relocated   int    `json:"relocated"`
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply a structural edit to the selected nodes",
		Long: `Select nodes with a query and apply one edit to each of them under
the document lock protocol.

Kinds:
  update   replace the value of each node with --value
  rename   rename each element or attribute to --value
  remove   remove each node and its subtree
  append   append a new child element named --value

Example:
  xcore update --db ./xcore.db --kind rename --select '//book' --value volume`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "edit kind (update|rename|remove|append)")
	cmd.Flags().StringVar(&opts.Select, "select", "", "selection query")
	cmd.Flags().StringVar(&opts.Value, "value", "", "new value, name or child element name")
	cmd.Flags().StringVar(&opts.As, "as", "", "subject the edit runs as (default admin)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("select")

	return cmd
}

func runUpdate(opts *UpdateOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	kind, err := update.ParseKind(opts.Kind)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidFlag, err)
	}

	e, err := openEnv(opts.RootOptions, f, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	m := e.updates.NewModification(kind, opts.Select, opts.Value)
	if opts.As != "" {
		if err := m.SetAccessContext(opts.As); err != nil {
			return f.Fail(ExitCommandError, ErrorCode(err), err)
		}
	}
	f.VerboseLog("%s", m.String())

	txn := trigger.NewTxn()
	if opts.IDGenerator != nil {
		txn = trigger.NewTxnWithGenerator(opts.IDGenerator)
	}
	n, err := m.Process(cmd.Context(), txn)
	if err != nil {
		return f.Fail(ExitFailure, ErrorCode(err), err)
	}

	result := UpdateResult{Instruction: m.String(), Nodes: n, Relocated: m.Relocated()}
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: result, Txn: txn.ID})
	}
	fmt.Fprintf(f.Writer, "%s: %s modified", kind, english.Plural(n, "node", ""))
	if result.Relocated > 0 {
		fmt.Fprintf(f.Writer, ", %s relocated", humanize.Comma(int64(result.Relocated)))
	}
	fmt.Fprintln(f.Writer)
	return nil
}
