package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/digestpipe/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the producer over HTTP",
		Long: `Serve GET|POST /produce, /healthz and /metrics.

/produce accepts document_length, target_iterations and batch_size as
query or form parameters and responds with the produce result as JSON.

Example:
  digestpipe serve --addr 127.0.0.1:8080
  curl 'localhost:8080/produce?batch_size=10'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (defaults to server.addr from config)")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	producer, err := a.newProducer()
	if err != nil {
		return err
	}

	srv := server.New(producer,
		server.WithLogger(a.logger),
		server.WithMetrics(a.metrics.Handler()),
		server.WithRequestTimeout(a.cfg.Server.RequestTimeout.Std()),
	)

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	if err := srv.ListenAndServe(ctx, addr, nil); err != nil {
		return WrapExitError(ExitCommandError, "http server failed", err)
	}
	return nil
}
