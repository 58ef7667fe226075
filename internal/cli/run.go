package cli

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/digestpipe/internal/server"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Serve bool
	Addr  string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the transform and sink stages (and optionally the HTTP producer)",
		Long: `Run the transform and sink consumers in one process until interrupted.

With --serve the HTTP producer is started as well, so the whole pipeline
runs in a single process against one log and one store.

Example:
  digestpipe run --config pipeline.yaml
  digestpipe run --serve --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Serve, "serve", false, "also serve the HTTP producer")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (defaults to server.addr from config)")

	return cmd
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.logger.WithError(closeErr).Error("error closing resources")
		}
	}()

	transform, err := a.newTransformConsumer()
	if err != nil {
		return err
	}
	sink, err := a.newSinkConsumer()
	if err != nil {
		return err
	}

	var srv *server.Server
	if opts.Serve {
		producer, err := a.newProducer()
		if err != nil {
			return err
		}
		srv = server.New(producer,
			server.WithLogger(a.logger),
			server.WithMetrics(a.metrics.Handler()),
			server.WithRequestTimeout(a.cfg.Server.RequestTimeout.Std()),
		)
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	a.logger.WithField("log", a.cfg.Log.Path).Info("pipeline starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return transform.Run(gctx) })
	g.Go(func() error { return sink.Run(gctx) })
	if srv != nil {
		addr := opts.Addr
		if addr == "" {
			addr = a.cfg.Server.Addr
		}
		g.Go(func() error { return srv.ListenAndServe(gctx, addr, nil) })
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "pipeline error", err)
	}

	a.logger.Info("pipeline stopped gracefully")
	return nil
}
