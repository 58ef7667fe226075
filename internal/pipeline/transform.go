package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/digestpipe/internal/datum"
	"github.com/roach88/digestpipe/internal/eventlog"
)

// TransformConfig configures a Transform.
type TransformConfig struct {
	// Topic is the result topic.
	Topic string

	Codec datum.Codec

	// AppendTimeout bounds the single append call.
	AppendTimeout time.Duration
}

// Transform digests ingested datums and forwards them to the result topic.
type Transform struct {
	log    Appender
	hasher Hasher
	cfg    TransformConfig
	opts   stageOptions
}

// NewTransform creates a Transform hashing with hasher and appending to log.
func NewTransform(log Appender, hasher Hasher, cfg TransformConfig, opts ...Option) *Transform {
	if cfg.Codec == nil {
		cfg.Codec = datum.JSONCodec{}
	}
	return &Transform{log: log, hasher: hasher, cfg: cfg, opts: newStageOptions(opts)}
}

// Process handles one delivered batch of ingest entries.
//
// Malformed entries are dropped. Datums without a digest are hashed, datums
// that already carry one are forwarded unchanged. Every processed datum is
// appended to the result topic in one call. A failed append returns a
// transient error so the batch is redelivered.
func (t *Transform) Process(ctx context.Context, entries []eventlog.Entry) (Report, error) {
	start := time.Now()
	report := Report{Stage: StageTransform, Outcomes: make([]RecordOutcome, len(entries))}

	err := t.process(ctx, entries, &report)
	t.opts.observer.ObserveReport(report, err, time.Since(start).Seconds())
	return report, err
}

func (t *Transform) process(ctx context.Context, entries []eventlog.Entry, report *Report) error {
	logger := t.opts.logger.WithFields(logrus.Fields{
		"stage": StageTransform,
		"topic": t.cfg.Topic,
	})

	datums, ok := decodeEntries(StageTransform, t.cfg.Codec, entries, report, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.workers)
	for i := range datums {
		if !ok[i] || datums[i].IsTerminal() {
			continue
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d := datums[i]
			digest, err := t.hasher.Compute(d.Document, d.TargetIterations)
			if err == nil {
				datums[i], err = d.WithDigest(digest)
			}
			if err != nil {
				ok[i] = false
				report.Outcomes[i].Status = StatusFailed
				report.Outcomes[i].Err = NewLogicFault(StageTransform, "cannot compute digest", err)
				logger.WithField("id", d.ID).WithError(err).Error("digest failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return NewTransientError(StageTransform, "hashing interrupted", err)
	}

	records := make([]eventlog.Record, 0, len(entries))
	index := make([]int, 0, len(entries))
	for i, d := range datums {
		if !ok[i] {
			continue
		}
		payload, err := t.cfg.Codec.Encode(d)
		if err != nil {
			report.Outcomes[i].Status = StatusFailed
			report.Outcomes[i].Err = NewLogicFault(StageTransform, "cannot encode datum", err)
			continue
		}
		records = append(records, eventlog.Record{Key: d.ID, Payload: payload})
		index = append(index, i)
	}

	if len(records) == 0 {
		logger.Info(report.Summary())
		return nil
	}

	appendCtx, cancel := withOptionalTimeout(ctx, t.cfg.AppendTimeout)
	defer cancel()

	results, err := t.log.Append(appendCtx, t.cfg.Topic, records)
	if err != nil {
		perr := NewTransientError(StageTransform, "append to result topic failed", err)
		for _, i := range index {
			report.Outcomes[i].Status = StatusFailed
			report.Outcomes[i].Err = perr
		}
		logger.WithError(err).Error("append failed")
		return perr
	}

	for j, r := range results {
		i := index[j]
		if r.OK() {
			report.Outcomes[i].Status = StatusSucceeded
			continue
		}
		report.Outcomes[i].Status = StatusFailed
		report.Outcomes[i].Err = NewTransientError(StageTransform, "entry rejected by log", r.Err)
		logger.WithField("id", datums[i].ID).WithError(r.Err).Warn("entry rejected")
	}

	logger.Info(report.Summary())
	return nil
}
