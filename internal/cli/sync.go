package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/evsync/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Once bool
}

// SyncResult is what sync --once prints.
type SyncResult struct {
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Drafts    int `json:"drafts"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued mutations to the server",
		Long: `Deliver the outbox to the registration server.

Without --once, sync keeps running: it delivers whenever a mutation is
queued and retries at the configured interval until interrupted. When
metrics.addr is set, Prometheus metrics are served there.

With --once, sync flushes the outbox, pushes and refreshes drafts, prints
what happened and exits.

Examples:
  evsync sync --once
  evsync sync -c evsync.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "flush once and exit")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.Once {
		return syncOnce(opts, a, cmd)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.engine.Run(gctx)
	})
	if a.cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           metricsHandler(a.registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			return serveUntil(gctx, srv)
		})
		slog.Info("serving metrics", "addr", a.cfg.Metrics.Addr)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Sync started. Delivering queued mutations...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "sync error", err)
	}
	slog.Info("sync stopped gracefully")
	return nil
}

func syncOnce(opts *SyncOptions, a *app, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	flushed, err := a.engine.Flush(ctx)
	if err != nil {
		return f.Fail("flush failed", err)
	}
	res := syncResult(flushed)

	// Drafts need the server; an unreachable one is not a failed flush.
	n, err := a.engine.SyncDrafts(ctx)
	if err != nil {
		slog.Warn("draft sync skipped", "error", err)
	}
	res.Drafts = n

	return f.Render(res, func(w io.Writer) {
		fmt.Fprintf(w, "Delivered %d, retrying %d, failed %d, blocked %d\n",
			res.Delivered, res.Retried, res.Failed, res.Blocked)
		fmt.Fprintf(w, "Cached %d remote drafts\n", res.Drafts)
	})
}

func syncResult(r engine.FlushResult) SyncResult {
	return SyncResult{
		Delivered: r.Delivered,
		Retried:   r.Retried,
		Failed:    r.Failed,
		Blocked:   r.Blocked,
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// signalContext returns the command's context, cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// serveUntil runs srv until ctx is done, then shuts it down.
func serveUntil(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
		}
		return nil
	}
}
