package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/evsync/internal/engine"
	"github.com/roach88/evsync/internal/val"
)

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <event-type>",
		Short: "Create an event locally",
		Long: `Create an event under a temporary id and queue its CREATE.

The event is usable immediately; the id is replaced by the server's once
the CREATE is delivered.

Example:
  evsync create birth`,
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
			doc, err := a.engine.CreateEvent(cmd.Context(), args[0])
			if err != nil {
				return f.Fail("create failed", err)
			}
			return f.Render(doc, func(w io.Writer) {
				fmt.Fprintf(w, "Created %s %s (transaction %s)\n", doc.Type, doc.ID, doc.TransactionID)
			})
		},
	}
}

// ActOptions holds flags for the act command.
type ActOptions struct {
	*RootOptions
	Declaration      string
	Annotation       string
	TransactionID    string
	OriginalActionID string
}

// NewActCommand creates the act command.
func NewActCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "act <event-id> <action>",
		Short: "Queue an action against an event",
		Long: `Check an action against the event's current state and the session's
scopes, then queue it for delivery.

Examples:
  evsync act tmp-0190c3 declare --declaration '{"child.firstname":"Ada"}'
  evsync act 0190c3a1 validate --transaction-id 0190c3ff`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAct(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Declaration, "declaration", "", "declaration patch as a JSON object")
	cmd.Flags().StringVar(&opts.Annotation, "annotation", "", "annotation patch as a JSON object")
	cmd.Flags().StringVar(&opts.TransactionID, "transaction-id", "", "idempotency key (minted when empty)")
	cmd.Flags().StringVar(&opts.OriginalActionID, "original-action", "", "action a correction or rejection refers to")

	return cmd
}

func runAct(opts *ActOptions, eventID, action string, cmd *cobra.Command) error {
	t, err := parseAction(action)
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
	entry, err := a.engine.Actions(t).Mutate(cmd.Context(), engine.MutationInput{
		EventID:          eventID,
		TransactionID:    opts.TransactionID,
		Declaration:      decl,
		Annotation:       ann,
		OriginalActionID: opts.OriginalActionID,
	})
	if err != nil {
		return f.Fail("action refused", err)
	}
	return f.Render(entry, func(w io.Writer) {
		fmt.Fprintf(w, "Queued %s on %s (transaction %s, #%d)\n", entry.Action, entry.EventID, entry.TransactionID, entry.Seq)
	})
}

// parseObject decodes a JSON object flag. An empty flag is no patch.
func parseObject(name, s string) (val.Object, error) {
	if s == "" {
		return nil, nil
	}
	v, err := val.Decode([]byte(s))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --"+name, err)
	}
	obj, ok := v.(val.Object)
	if !ok {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("--%s must be a JSON object", name))
	}
	return obj, nil
}
