package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/evsync/internal/event"
)

// NewDraftsCommand creates the drafts command and its subcommands.
func NewDraftsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "List and manage drafts",
		Long: `List the drafts known to this device: the remote drafts cached by the last
sync, then the active draft being edited here.

Examples:
  evsync drafts
  evsync drafts save 0190c3a1 declare --declaration '{"child.firstname":"Ada"}'
  evsync drafts submit
  evsync drafts adopt 0190c3a1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			f := rootOpts.formatter(cmd)
			drafts, err := a.engine.Drafts(cmd.Context())
			if err != nil {
				return f.Fail("failed to read drafts", err)
			}
			if drafts == nil {
				drafts = []event.Draft{}
			}
			return f.Render(drafts, func(w io.Writer) {
				if len(drafts) == 0 {
					fmt.Fprintln(w, "No drafts")
					return
				}
				for _, d := range drafts {
					printDraft(w, d)
				}
			})
		},
	}

	cmd.AddCommand(newDraftSaveCommand(rootOpts))
	cmd.AddCommand(newDraftSubmitCommand(rootOpts))
	cmd.AddCommand(newDraftAdoptCommand(rootOpts))

	return cmd
}

type draftSaveOptions struct {
	*RootOptions
	Declaration string
	Annotation  string
}

func newDraftSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &draftSaveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "save <event-id> <action>",
		Short:         "Save the active draft",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseAction(args[1])
			if err != nil {
				return err
			}
			decl, err := parseObject("declaration", opts.Declaration)
			if err != nil {
				return err
			}
			ann, err := parseObject("annotation", opts.Annotation)
			if err != nil {
				return err
			}

			a, err := openApp(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			f := opts.formatter(cmd)
			saved, err := a.engine.SaveDraft(cmd.Context(), event.Draft{
				EventID: args[0],
				Action: event.DraftAction{
					Type:        t,
					Declaration: decl,
					Annotation:  ann,
				},
			})
			if err != nil {
				return f.Fail("save failed", err)
			}
			return f.Render(saved, func(w io.Writer) {
				fmt.Fprint(w, "Saved ")
				printDraft(w, saved)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Declaration, "declaration", "", "declaration as a JSON object")
	cmd.Flags().StringVar(&opts.Annotation, "annotation", "", "annotation as a JSON object")

	return cmd
}

func newDraftSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "submit",
		Short:         "Queue the active draft as an action",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			f := rootOpts.formatter(cmd)
			entry, err := a.engine.SubmitDraft(cmd.Context())
			if err != nil {
				return f.Fail("submit failed", err)
			}
			return f.Render(entry, func(w io.Writer) {
				fmt.Fprintf(w, "Queued %s on %s (transaction %s, #%d)\n", entry.Action, entry.EventID, entry.TransactionID, entry.Seq)
			})
		},
	}
}

func newDraftAdoptCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "adopt <event-id>",
		Short:         "Continue a draft saved on another device",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			f := rootOpts.formatter(cmd)
			d, err := a.engine.AdoptRemoteDraft(cmd.Context(), args[0])
			if err != nil {
				return f.Fail("adopt failed", err)
			}
			return f.Render(d, func(w io.Writer) {
				fmt.Fprint(w, "Adopted ")
				printDraft(w, d)
			})
		},
	}
}

func printDraft(w io.Writer, d event.Draft) {
	fmt.Fprintf(w, "%s %s on %s (transaction %s)\n", d.ID, d.Action.Type, d.EventID, d.TransactionID)
	for _, k := range d.Action.Declaration.SortedKeys() {
		fmt.Fprintf(w, "  %s = %v\n", k, d.Action.Declaration[k])
	}
}
