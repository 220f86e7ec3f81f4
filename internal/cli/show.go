package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/outbox"
	"github.com/roach88/evsync/internal/projection"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Fetch   bool
	Preview bool
}

// ShowResult is what show prints.
type ShowResult struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	State      projection.State    `json:"state"`
	Optimistic projection.State    `json:"optimistic"`
	InOutbox   bool                `json:"inOutbox"`
	Pending    []outbox.Entry      `json:"pending"`
	Failed     []outbox.Entry      `json:"failed"`
	Allowed    []event.ActionType  `json:"allowed"`
	Preview    *projection.Preview `json:"preview,omitempty"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show an event's state and queued actions",
		Long: `Show an event as the device sees it: the state confirmed by the server,
the optimistic state including queued actions, and the actions the session
may take next.

Examples:
  evsync show tmp-0190c3
  evsync show 0190c3a1 --fetch
  evsync show 0190c3a1 --preview --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Fetch, "fetch", false, "download the event from the server first")
	cmd.Flags().BoolVar(&opts.Preview, "preview", false, "fold the event's draft on top")

	return cmd
}

func runShow(opts *ShowOptions, id string, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	f := opts.formatter(cmd)

	if opts.Fetch {
		if _, err := a.engine.FetchEvent(ctx, id); err != nil {
			return f.Fail("fetch failed", err)
		}
	}
	v, err := a.engine.View(ctx, id)
	if err != nil {
		return f.Fail("show failed", err)
	}
	allowed, err := a.engine.AllowedActions(ctx, id)
	if err != nil {
		return f.Fail("show failed", err)
	}

	res := ShowResult{
		ID:         v.Document.ID,
		Type:       v.Document.Type,
		State:      v.State,
		Optimistic: v.Optimistic,
		InOutbox:   v.InOutbox,
		Pending:    v.Pending,
		Failed:     v.Failed,
		Allowed:    allowed,
	}
	if opts.Preview {
		p, err := a.engine.Preview(ctx, id)
		if err != nil {
			return f.Fail("preview failed", err)
		}
		res.Preview = &p
	}

	return f.Render(res, func(w io.Writer) { printShow(w, res) })
}

func printShow(w io.Writer, r ShowResult) {
	fmt.Fprintf(w, "%s %s\n", r.Type, r.ID)
	fmt.Fprintf(w, "  status:     %s%s\n", r.State.Status, flagSuffix(r.State.Flags))
	if r.InOutbox {
		fmt.Fprintf(w, "  optimistic: %s%s\n", r.Optimistic.Status, flagSuffix(r.Optimistic.Flags))
	}
	for _, e := range r.Pending {
		fmt.Fprintf(w, "  queued:     %s (transaction %s, attempts %d)\n", e.Action, e.TransactionID, e.Attempts)
	}
	for _, e := range r.Failed {
		fmt.Fprintf(w, "  failed:     %s (transaction %s): %s\n", e.Action, e.TransactionID, e.LastError)
	}
	names := make([]string, len(r.Allowed))
	for i, t := range r.Allowed {
		names[i] = string(t)
	}
	fmt.Fprintf(w, "  allowed:    %s\n", strings.Join(names, " "))
	for _, k := range r.Optimistic.Declaration.SortedKeys() {
		fmt.Fprintf(w, "  %s = %v\n", k, r.Optimistic.Declaration[k])
	}
	if r.Preview != nil {
		fmt.Fprintf(w, "  draft:      %s -> %s%s\n", r.Preview.DraftID, r.Preview.Status, flagSuffix(r.Preview.Flags))
	}
}

func flagSuffix(flags []event.Flag) string {
	if len(flags) == 0 {
		return ""
	}
	names := make([]string, len(flags))
	for i, fl := range flags {
		names[i] = string(fl)
	}
	return " [" + strings.Join(names, ",") + "]"
}
