package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roach88/digestpipe/internal/config"
	"github.com/roach88/digestpipe/internal/datum"
	"github.com/roach88/digestpipe/internal/digest"
	"github.com/roach88/digestpipe/internal/eventlog"
	"github.com/roach88/digestpipe/internal/logging"
	"github.com/roach88/digestpipe/internal/metrics"
	"github.com/roach88/digestpipe/internal/pipeline"
	"github.com/roach88/digestpipe/internal/store"
)

// app holds the resources a command opened. Close releases them.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	codec   datum.Codec
	metrics *metrics.Metrics

	log   *eventlog.Log
	store *store.Store
}

// newApp loads configuration and builds the logger. Log and store are
// opened on demand by openLog and openStore.
func newApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	codec, err := datum.CodecByName(cfg.Codec)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid codec", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		codec:   codec,
		metrics: metrics.New(),
	}, nil
}

func (a *app) openLog() (*eventlog.Log, error) {
	if a.log != nil {
		return a.log, nil
	}
	compression, err := eventlog.ParseCompression(a.cfg.Log.Compression)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log compression", err)
	}

	a.logger.WithField("path", a.cfg.Log.Path).Debug("opening log")
	l, err := eventlog.Open(a.cfg.Log.Path,
		eventlog.WithCompression(compression),
		eventlog.WithMaxPayloadBytes(a.cfg.Log.MaxPayloadBytes),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open log", err)
	}
	a.log = l
	return l, nil
}

func (a *app) openStore() (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	a.logger.WithFields(logrus.Fields{
		"path":  a.cfg.Store.Path,
		"table": a.cfg.Store.Table,
	}).Debug("opening store")
	s, err := store.Open(store.Options{
		Path:     a.cfg.Store.Path,
		InMemory: a.cfg.Store.InMemory,
		Table:    a.cfg.Store.Table,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	a.store = s
	return s, nil
}

func (a *app) stageOptions() []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithObserver(a.metrics),
	}
}

func (a *app) newProducer() (*pipeline.Producer, error) {
	l, err := a.openLog()
	if err != nil {
		return nil, err
	}
	return pipeline.NewProducer(l, pipeline.ProducerConfig{
		Topic:         a.cfg.Topics.Ingest,
		Codec:         a.codec,
		AppendTimeout: a.cfg.Producer.AppendTimeout.Std(),
	}, a.stageOptions()...), nil
}

func (a *app) newTransformConsumer() (*pipeline.Consumer, error) {
	l, err := a.openLog()
	if err != nil {
		return nil, err
	}
	alg, err := digest.ParseAlgorithm(a.cfg.Transform.Algorithm)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid algorithm", err)
	}
	engine, err := digest.NewEngine(alg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid algorithm", err)
	}

	tc := a.cfg.Transform
	handler := pipeline.NewTransform(l, engine, pipeline.TransformConfig{
		Topic:         a.cfg.Topics.Result,
		Codec:         a.codec,
		AppendTimeout: tc.AppendTimeout.Std(),
	}, append(a.stageOptions(), pipeline.WithWorkers(tc.Workers))...)

	return &pipeline.Consumer{
		Log:          l,
		Topic:        a.cfg.Topics.Ingest,
		Group:        tc.Group,
		BatchSize:    tc.BatchSize,
		PollInterval: tc.PollInterval.Std(),
		Handler:      handler,
		Logger:       a.logger.WithField("stage", pipeline.StageTransform),
	}, nil
}

func (a *app) newSinkConsumer() (*pipeline.Consumer, error) {
	l, err := a.openLog()
	if err != nil {
		return nil, err
	}
	s, err := a.openStore()
	if err != nil {
		return nil, err
	}

	sc := a.cfg.Sink
	handler := pipeline.NewSink(s, pipeline.SinkConfig{
		Codec:         a.codec,
		WriteTimeout:  a.cfg.Store.WriteTimeout.Std(),
		MaxRetries:    a.cfg.Store.MaxRetries,
		RetryInterval: a.cfg.Store.RetryInterval.Std(),
	}, append(a.stageOptions(), pipeline.WithWorkers(sc.Workers))...)

	return &pipeline.Consumer{
		Log:          l,
		Topic:        a.cfg.Topics.Result,
		Group:        sc.Group,
		BatchSize:    sc.BatchSize,
		PollInterval: sc.PollInterval.Std(),
		Handler:      handler,
		Logger:       a.logger.WithField("stage", pipeline.StageSink),
	}, nil
}

// Close releases whatever was opened.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	return errors.Join(errs...)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command, logger logrus.FieldLogger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.WithField("signal", sig.String()).Info("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// drain polls c until no entries remain and returns the number delivered.
// Each batch is reported through out's verbose log.
func drain(ctx context.Context, c *pipeline.Consumer, out *OutputFormatter) (int, error) {
	total := 0
	for {
		n, err := c.Poll(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			out.VerboseLog("%s/%s: drained after %d entries", c.Topic, c.Group, total)
			return total, nil
		}
		out.VerboseLog("%s/%s: delivered batch of %d", c.Topic, c.Group, n)
	}
}
