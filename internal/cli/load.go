package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/xcore/internal/dom"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Collection string
	Owner      string
}

// LoadedDocument is one imported file, as reported in JSON output.
type LoadedDocument struct {
	URI   string `json:"uri"`
	ID    int64  `json:"id"`
	Nodes int    `json:"nodes"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <file.xml>...",
		Short: "Import XML files into a collection",
		Long: `Import XML files into the store. Each file becomes one document named
after the file, in the given collection.

Example:
  xcore load --db ./xcore.db --collection /db/library books.xml authors.xml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Collection, "collection", "/db", "target collection")
	cmd.Flags().StringVar(&opts.Owner, "owner", dom.AdminSubject, "owner of the new documents")

	return cmd
}

func runLoad(opts *LoadOptions, files []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	e, err := openEnv(opts.RootOptions, f, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	loaded := make([]LoadedDocument, 0, len(files))
	for _, path := range files {
		file, err := os.Open(path)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeNotFound, err)
		}
		doc, err := e.store.Import(ctx, opts.Collection, filepath.Base(path), opts.Owner, file)
		file.Close()
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeLoadFailed, err)
		}
		tree, err := e.store.Tree(ctx, doc)
		if err != nil {
			return f.Fail(ExitFailure, ErrorCode(err), err)
		}
		loaded = append(loaded, LoadedDocument{URI: doc.URI(), ID: doc.ID, Nodes: tree.Len()})
		f.VerboseLog("imported %s as document %d", path, doc.ID)
	}

	if f.Format == "json" {
		return f.Success(loaded)
	}
	for _, d := range loaded {
		fmt.Fprintf(f.Writer, "loaded %s (id %d, %s nodes)\n", d.URI, d.ID, humanize.Comma(int64(d.Nodes)))
	}
	return nil
}
