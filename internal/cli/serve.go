package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/shelfshare/internal/cascade"
	"github.com/roach88/shelfshare/internal/changefeed"
	"github.com/roach88/shelfshare/internal/httpapi"
	"github.com/roach88/shelfshare/internal/lending"
	"github.com/roach88/shelfshare/internal/metrics"
	"github.com/roach88/shelfshare/internal/reconcile"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take once
// shutdown starts.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string // overrides http.addr from config when set
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, dispatcher and reconcile sweep",
		Long: `Run the lending backend.

serve opens the configured store, registers the request lifecycle
reactions on the change feed, and runs the dispatcher, the HTTP API
(with /metrics) and the scheduled reconcile sweep until interrupted.

Example:
  shelfshare serve --config shelfshare.yaml
  SHELFSHARE_STORE_PATH=/tmp/dev.db shelfshare serve --addr 127.0.0.1:8080 -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config, :8080)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	st, cfg, err := openStore(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStore(st)
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	collector := metrics.NewCollector("")
	collector.WatchOutbox(st, "")

	feed := changefeed.NewFeed()
	reactions := cascade.New(st,
		cascade.WithMailer(cfg.Mailer()),
		cascade.WithOptions(cfg.CascadeOptions()),
		cascade.WithObserver(collector),
	)
	if err := reactions.Register(feed); err != nil {
		return WrapExitError(ExitCommandError, "failed to register reactions", err)
	}
	disp := changefeed.NewDispatcher(st, feed, append(cfg.DispatcherOptions(), changefeed.WithObserver(collector))...)

	svc := lending.New(st,
		lending.WithOptions(cfg.LendingOptions()),
		lending.WithObserver(collector),
	)
	api := httpapi.New(svc,
		httpapi.WithObserver(collector),
		httpapi.WithMetricsHandler(collector.Handler()),
		httpapi.WithAdmins(cfg.HTTP.Admins...),
	)

	var sched *reconcile.Scheduler
	if cfg.Reconcile.Enabled {
		sched, err = reconcile.NewScheduler(reconcile.NewSweeper(st), cfg.Reconcile.Schedule, nil)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid reconcile schedule", err)
		}
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	server := &http.Server{Handler: api.Router(), ReadHeaderTimeout: 10 * time.Second}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCancel(disp.Run(gctx))
	})
	if sched != nil {
		g.Go(func() error {
			return ignoreCancel(sched.Run(gctx))
		})
	}
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return server.Shutdown(shutdownCtx)
	})

	slog.Info("shelfshare serving",
		"addr", ln.Addr().String(),
		"store", cfg.Store.Driver,
		"reconcile", cfg.Reconcile.Enabled,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	slog.Info("shelfshare stopped gracefully")
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
