package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/projection"
)

// ProjectOptions holds flags for the project command.
type ProjectOptions struct {
	*RootOptions
	Draft string
}

// NewProjectCommand creates the project command.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "project <event.json>",
		Short: "Fold an event document into its state",
		Long: `Read an event document and print the state its action history produces.

With --draft, the draft's action is folded on top as a preview. Neither
the store nor the server is used.

Examples:
  evsync project event.json
  evsync project event.json --draft draft.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProject(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Draft, "draft", "", "draft document to preview on top")

	return cmd
}

func runProject(opts *ProjectOptions, path string, cmd *cobra.Command) error {
	var doc event.Document
	if err := readJSON(path, &doc); err != nil {
		return err
	}
	f := opts.formatter(cmd)

	if opts.Draft != "" {
		var d event.Draft
		if err := readJSON(opts.Draft, &d); err != nil {
			return err
		}
		p, err := projection.FoldWithDraft(doc, d)
		if err != nil {
			return f.Fail("projection failed", err)
		}
		return f.Render(p, func(w io.Writer) {
			fmt.Fprintf(w, "%s %s with draft %s\n", doc.Type, doc.ID, p.DraftID)
			fmt.Fprintf(w, "  status: %s%s\n", p.Status, flagSuffix(p.Flags))
			for _, k := range p.Declaration.SortedKeys() {
				fmt.Fprintf(w, "  %s = %v\n", k, p.Declaration[k])
			}
		})
	}

	st, err := projection.Fold(doc)
	if err != nil {
		return f.Fail("projection failed", err)
	}
	return f.Render(st, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s\n", st.Type, st.EventID)
		fmt.Fprintf(w, "  status: %s%s\n", st.Status, flagSuffix(st.Flags))
		for _, k := range st.Declaration.SortedKeys() {
			fmt.Fprintf(w, "  %s = %v\n", k, st.Declaration[k])
		}
	})
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read "+path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse "+path, err)
	}
	return nil
}
