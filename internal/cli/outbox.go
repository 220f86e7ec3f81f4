package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/evsync/internal/outbox"
)

// OutboxOptions holds flags for the outbox command.
type OutboxOptions struct {
	*RootOptions
	Failed  bool
	Dismiss string
}

// NewOutboxCommand creates the outbox command.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OutboxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "List queued or failed mutations",
		Long: `List the mutations waiting for delivery, in the order they will be sent.

With --failed, list mutations the server rejected permanently instead.
A failed mutation stays until it is dismissed.

Examples:
  evsync outbox
  evsync outbox --failed
  evsync outbox --dismiss 0190c3ff`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutbox(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "list permanently failed mutations")
	cmd.Flags().StringVar(&opts.Dismiss, "dismiss", "", "drop the failed mutation with this transaction id")

	return cmd
}

func runOutbox(opts *OutboxOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	f := opts.formatter(cmd)

	if opts.Dismiss != "" {
		if err := a.engine.DismissFailed(ctx, opts.Dismiss); err != nil {
			return f.Fail("dismiss failed", err)
		}
		return f.Render(map[string]string{"dismissed": opts.Dismiss}, func(w io.Writer) {
			fmt.Fprintf(w, "Dismissed %s\n", opts.Dismiss)
		})
	}

	var entries []outbox.Entry
	if opts.Failed {
		entries, err = a.engine.FailedMutations(ctx)
	} else {
		entries, err = a.engine.Outbox(ctx)
	}
	if err != nil {
		return f.Fail("failed to read outbox", err)
	}
	if entries == nil {
		entries = []outbox.Entry{}
	}

	return f.Render(entries, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "Outbox is empty")
			return
		}
		for _, e := range entries {
			line := fmt.Sprintf("#%d %-10s %s (transaction %s, attempts %d)", e.Seq, e.Action, e.EventID, e.TransactionID, e.Attempts)
			if e.LastError != "" {
				line += ": " + e.LastError
			}
			fmt.Fprintln(w, line)
		}
	})
}
