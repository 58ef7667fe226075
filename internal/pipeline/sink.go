package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/digestpipe/internal/datum"
	"github.com/roach88/digestpipe/internal/eventlog"
	"github.com/roach88/digestpipe/internal/store"
)

// ErrMissingDigest marks a datum that reached the sink without a digest.
var ErrMissingDigest = errors.New("missing digest")

// SinkConfig configures a Sink.
type SinkConfig struct {
	Codec datum.Codec

	// WriteTimeout bounds each individual write attempt.
	WriteTimeout time.Duration

	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int

	// RetryInterval is the initial backoff between attempts.
	// Zero uses the backoff library default.
	RetryInterval time.Duration
}

// Sink persists hashed datums into the store.
type Sink struct {
	store Writer
	cfg   SinkConfig
	opts  stageOptions
}

// NewSink creates a Sink writing to w.
func NewSink(w Writer, cfg SinkConfig, opts ...Option) *Sink {
	if cfg.Codec == nil {
		cfg.Codec = datum.JSONCodec{}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Sink{store: w, cfg: cfg, opts: newStageOptions(opts)}
}

// Process handles one delivered batch of result entries.
//
// Malformed entries and datums without a digest are dropped. The rest are
// upserted concurrently; a record whose retries run out is marked failed
// without affecting the others. When every attempted write fails the batch
// returns a transient error so it is redelivered.
func (s *Sink) Process(ctx context.Context, entries []eventlog.Entry) (Report, error) {
	start := time.Now()
	report := Report{Stage: StageSink, Outcomes: make([]RecordOutcome, len(entries))}

	err := s.process(ctx, entries, &report)
	s.opts.observer.ObserveReport(report, err, time.Since(start).Seconds())
	return report, err
}

func (s *Sink) process(ctx context.Context, entries []eventlog.Entry, report *Report) error {
	logger := s.opts.logger.WithField("stage", StageSink)

	datums, ok := decodeEntries(StageSink, s.cfg.Codec, entries, report, logger)

	var attempted, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.workers)

	for i := range datums {
		if !ok[i] {
			continue
		}
		d := datums[i]
		if !d.IsTerminal() {
			report.Outcomes[i].Status = StatusDropped
			report.Outcomes[i].Err = NewMalformedError(StageSink, "datum is not terminal", ErrMissingDigest)
			logger.WithFields(logrus.Fields{
				"seq": entries[i].Seq,
				"id":  d.ID,
			}).Warn("dropping record: missing digest")
			continue
		}

		attempted.Add(1)
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := s.write(gctx, d, logger); err != nil {
				failed.Add(1)
				report.Outcomes[i].Status = StatusFailed
				report.Outcomes[i].Err = NewTransientError(StageSink, "store write failed", err)
				logger.WithField("id", d.ID).WithError(err).Error("write failed")
				return nil
			}
			report.Outcomes[i].Status = StatusSucceeded
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return NewTransientError(StageSink, "writes interrupted", err)
	}

	logger.Info(report.Summary())

	if n := attempted.Load(); n > 0 && failed.Load() == n {
		return NewTransientError(StageSink, "every store write failed", nil)
	}
	return nil
}

// write upserts d, retrying transient failures with exponential backoff.
func (s *Sink) write(ctx context.Context, d datum.Datum, logger logrus.FieldLogger) error {
	var opts []backoff.ExponentialBackOffOpts
	if s.cfg.RetryInterval > 0 {
		opts = append(opts, backoff.WithInitialInterval(s.cfg.RetryInterval))
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(opts...), uint64(s.cfg.MaxRetries)),
		ctx,
	)

	op := func() error {
		writeCtx, cancel := withOptionalTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()

		err := s.store.Put(writeCtx, d)
		if errors.Is(err, store.ErrNotTerminal) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.WithFields(logrus.Fields{
			"id":   d.ID,
			"wait": wait,
		}).WithError(err).Debug("retrying write")
	}

	return backoff.RetryNotify(op, policy, notify)
}
