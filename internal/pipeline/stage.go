package pipeline

import (
	"context"
	"io"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/roach88/digestpipe/internal/datum"
	"github.com/roach88/digestpipe/internal/eventlog"
)

// Appender is the log operation the producer and transform need.
// *eventlog.Log implements it.
type Appender interface {
	Append(ctx context.Context, topic string, records []eventlog.Record) ([]eventlog.AppendResult, error)
}

// Writer is the store operation the sink needs. *store.Store implements it.
type Writer interface {
	Put(ctx context.Context, d datum.Datum) error
}

// Hasher computes an iterated digest. digest.Engine implements it.
type Hasher interface {
	Compute(document string, iterations uint16) (string, error)
}

// Option configures a stage.
type Option func(*stageOptions)

type stageOptions struct {
	logger   logrus.FieldLogger
	observer Observer
	ids      datum.IDGenerator
	workers  int
}

func newStageOptions(opts []Option) stageOptions {
	o := stageOptions{
		ids:     datum.UUIDGenerator{},
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.logger = l
	}
	o.observer = observerOrNop(o.observer)
	return o
}

// WithLogger sets the stage logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *stageOptions) {
		o.logger = l
	}
}

// WithObserver registers an observer notified after every invocation.
func WithObserver(obs Observer) Option {
	return func(o *stageOptions) {
		o.observer = obs
	}
}

// WithIDGenerator sets the producer's id source. Ignored by other stages.
func WithIDGenerator(gen datum.IDGenerator) Option {
	return func(o *stageOptions) {
		o.ids = gen
	}
}

// WithWorkers bounds the number of records processed concurrently.
// Values <= 0 keep the default of GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *stageOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// decodeEntries decodes every entry, recording a dropped outcome for each
// payload that cannot be decoded. ok[i] reports whether datums[i] is usable.
func decodeEntries(stage string, codec datum.Codec, entries []eventlog.Entry, report *Report, logger logrus.FieldLogger) (datums []datum.Datum, ok []bool) {
	datums = make([]datum.Datum, len(entries))
	ok = make([]bool, len(entries))

	for i, e := range entries {
		report.Outcomes[i] = RecordOutcome{Seq: e.Seq, Key: e.Key}

		d, err := codec.Decode(e.Payload)
		if err != nil {
			perr := NewMalformedError(stage, "cannot decode record", err)
			report.Outcomes[i].Status = StatusDropped
			report.Outcomes[i].Err = perr
			logger.WithFields(logrus.Fields{
				"seq": e.Seq,
				"key": e.Key,
			}).WithError(err).Warn("dropping malformed record")
			continue
		}

		report.Outcomes[i].ID = d.ID
		datums[i] = d
		ok[i] = true
	}
	return datums, ok
}
