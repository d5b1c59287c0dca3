package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/xcore/internal/dom"
	"github.com/roach88/xcore/internal/xdm"
	"github.com/roach88/xcore/internal/xquery"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Vars map[string]string
}

// ResultItem is one query result, as reported in JSON output.
type ResultItem struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Doc   string `json:"doc,omitempty"`
	Node  string `json:"node,omitempty"`
	Name  string `json:"name,omitempty"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <expression>",
		Short: "Evaluate a query and print the result",
		Long: `Evaluate a query against every stored document and print one result
item per line. Nodes are printed as document#node-id followed by the
node; atomic values are printed as their string value.

External variables are bound with --var and are strings.

Example:
  xcore query --db ./xcore.db 'for $b in //book where $b/@lang = $l return $b/title' --var l=en`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringToStringVar(&opts.Vars, "var", nil, "external variable binding name=value (repeatable)")

	return cmd
}

func runQuery(opts *QueryOptions, src string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	e, err := openEnv(opts.RootOptions, f, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctxOpts := make([]xquery.ContextOption, 0, len(opts.Vars))
	for name, value := range opts.Vars {
		ctxOpts = append(ctxOpts, xquery.WithVariable(name, xdm.Single(xdm.String(value))))
	}

	seq, err := e.queries.Query(cmd.Context(), src, ctxOpts...)
	if err != nil {
		return f.Fail(ExitCommandError, ErrorCode(err), err)
	}

	items := make([]ResultItem, 0, seq.Len())
	for _, item := range xdm.Items(seq) {
		items = append(items, resultItem(item))
	}
	f.VerboseLog("%d item(s)", len(items))

	if f.Format == "json" {
		return f.Success(items)
	}
	for _, it := range items {
		fmt.Fprintln(f.Writer, it.text())
	}
	return nil
}

func resultItem(item xdm.Item) ResultItem {
	out := ResultItem{Type: item.ItemType().String(), Value: item.StringValue()}
	if n, ok := item.(*dom.NodeRef); ok {
		out.Doc = n.Doc.URI()
		out.Node = string(n.ID)
		out.Name = n.Name
	}
	return out
}

func (it ResultItem) text() string {
	if it.Node == "" {
		return it.Value
	}
	prefix := it.Doc + "#" + it.Node + " "
	switch it.Type {
	case xdm.TypeAttribute.String():
		return prefix + "@" + it.Name + "=" + strconv.Quote(it.Value)
	case xdm.TypeText.String():
		return prefix + strconv.Quote(it.Value)
	default:
		return prefix + "<" + it.Name + ">"
	}
}
