package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/graphwriter/internal/api"
)

// shutdownTimeout bounds how long in-flight HTTP requests may run after a
// shutdown signal.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command. Non-empty values
// override the config file.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string
	ModelRef string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the operation processor",
		Long: `Open the graph store, start the processor loop, and serve the
operations API until interrupted.

Example:
  graphwriter serve --db ./graph.db --addr :8765
  graphwriter serve -c graphwriter.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite graph (overrides graph.path)")
	cmd.Flags().StringVar(&opts.ModelRef, "model", "", "model the processor applies batches to (overrides graph.model_ref)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Database != "" {
		cfg.Graph.Path = opts.Database
	}
	if opts.ModelRef != "" {
		cfg.Graph.ModelRef = opts.ModelRef
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("error closing graph store", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.snapshots.RefreshSnapshot(ctx, a.modelRef()); err != nil {
		logger.Warn("initial snapshot refresh failed", "model_ref", a.modelRef(), "error", err)
	}
	a.queue.Start(ctx, a.hooks())

	srv := api.New(cfg.Server, a.modelRef(), api.Deps{
		Service:   a.service,
		Queue:     a.queue,
		Snapshots: a.snapshots,
		Health:    a.store,
		Gatherer:  a.gatherer,
		Logger:    logger,
	})

	logger.Info("graphwriter starting", "addr", cfg.Server.Addr, "db", cfg.Graph.Path, "model_ref", cfg.Graph.ModelRef)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("graphwriter stopped")
	return nil
}
