package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/evsync/internal/authz"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/form"
	"github.com/roach88/evsync/internal/guard"
	"github.com/roach88/evsync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	IssueToken bool
	Subject    string
	Role       string
	Location   string
	Scopes     []string
	TTL        time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory reference server",
		Long: `Run an in-memory registration server that devices can sync against.

The server keeps events, transaction ids and drafts in memory. When
server.secret is set every request must carry a bearer token signed with it;
--issue-token prints one and exits.

Examples:
  evsync serve --addr :8080
  evsync serve -c evsync.yaml --issue-token --subject reg-1 --role REGISTRAR`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&opts.IssueToken, "issue-token", false, "print a session token signed with server.secret and exit")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "token subject (actor id)")
	cmd.Flags().StringVar(&opts.Role, "role", "", "token role")
	cmd.Flags().StringVar(&opts.Location, "location", "", "token office")
	cmd.Flags().StringSliceVar(&opts.Scopes, "scope", defaultScopeList(), "token scopes")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, logger, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	var secret []byte
	if cfg.Server.Secret != "" {
		secret = []byte(cfg.Server.Secret)
	}

	if opts.IssueToken {
		return issueToken(opts, secret, cmd)
	}

	var forms *form.Config
	if cfg.Forms.Dir != "" {
		forms, err = form.LoadDir(cfg.Forms.Dir)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load forms", err)
		}
	}

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	ledger := server.NewLedger(server.WithForms(forms))

	addr := cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(ledger, secret),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	logger.Info("server starting", "addr", addr, "auth", secret != nil)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", addr)

	if err := serveUntil(ctx, srv); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	slog.Info("server stopped gracefully", "events", ledger.Len())
	return nil
}

func issueToken(opts *ServeOptions, secret []byte, cmd *cobra.Command) error {
	if secret == nil {
		return NewExitError(ExitCommandError, "--issue-token requires server.secret")
	}
	if opts.Subject == "" {
		return NewExitError(ExitCommandError, "--issue-token requires --subject")
	}
	actor := event.Actor{ID: opts.Subject, Role: opts.Role, Location: opts.Location}
	token, err := authz.IssueToken(actor, opts.Scopes, secret, time.Now(), opts.TTL)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to sign token", err)
	}
	return opts.formatter(cmd).Render(map[string]string{"token": token}, func(w io.Writer) {
		fmt.Fprintln(w, token)
	})
}

// defaultScopeList returns every scope the default guard requires.
func defaultScopeList() []string {
	return slices.Compact(slices.Sorted(maps.Values(guard.DefaultScopes)))
}
