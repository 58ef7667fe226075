package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/digestpipe/internal/datum"
	"github.com/roach88/digestpipe/internal/eventlog"
)

// Request parameter defaults and bounds.
const (
	DefaultDocumentLength   = 1024
	DefaultTargetIterations = 100
	DefaultBatchSize        = 64

	MaxDocumentLength   = 1 << 20
	MaxTargetIterations = datum.MaxIterations

	// MaxBatchSize is the largest batch a single append may carry.
	MaxBatchSize = 500
)

// Params controls one Produce invocation.
type Params struct {
	DocumentLength   int `json:"document_length"`
	TargetIterations int `json:"target_iterations"`
	BatchSize        int `json:"batch_size"`
}

// DefaultParams returns the parameters used when a request specifies none.
func DefaultParams() Params {
	return Params{
		DocumentLength:   DefaultDocumentLength,
		TargetIterations: DefaultTargetIterations,
		BatchSize:        DefaultBatchSize,
	}
}

// ParseParams reads document_length, target_iterations and batch_size from q.
// Missing, unparsable and out-of-range values silently fall back to the
// default for that parameter.
func ParseParams(q url.Values) Params {
	return Params{
		DocumentLength:   intParam(q, "document_length", DefaultDocumentLength, 1, MaxDocumentLength),
		TargetIterations: intParam(q, "target_iterations", DefaultTargetIterations, 1, MaxTargetIterations),
		BatchSize:        intParam(q, "batch_size", DefaultBatchSize, 1, MaxBatchSize),
	}
}

func intParam(q url.Values, name string, def, lo, hi int) int {
	raw := q.Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return def
	}
	return n
}

// Validate checks p against the parameter bounds.
func (p Params) Validate() error {
	switch {
	case p.DocumentLength < 1 || p.DocumentLength > MaxDocumentLength:
		return fmt.Errorf("document_length %d out of range [1, %d]", p.DocumentLength, MaxDocumentLength)
	case p.TargetIterations < 1 || p.TargetIterations > MaxTargetIterations:
		return fmt.Errorf("target_iterations %d out of range [1, %d]", p.TargetIterations, MaxTargetIterations)
	case p.BatchSize < 1 || p.BatchSize > MaxBatchSize:
		return fmt.Errorf("batch_size %d out of range [1, %d]", p.BatchSize, MaxBatchSize)
	}
	return nil
}

// ProduceResult summarizes one Produce invocation.
type ProduceResult struct {
	Requested int      `json:"requested"`
	Accepted  int      `json:"accepted"`
	Rejected  int      `json:"rejected"`
	IDs       []string `json:"ids"`
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	// Topic is the ingest topic.
	Topic string

	Codec datum.Codec

	// AppendTimeout bounds the single append call. Zero means no bound
	// beyond the caller's context.
	AppendTimeout time.Duration
}

// Producer generates batches of random datums onto the ingest topic.
type Producer struct {
	log  Appender
	cfg  ProducerConfig
	opts stageOptions
}

// NewProducer creates a Producer appending to log.
func NewProducer(log Appender, cfg ProducerConfig, opts ...Option) *Producer {
	if cfg.Codec == nil {
		cfg.Codec = datum.JSONCodec{}
	}
	return &Producer{log: log, cfg: cfg, opts: newStageOptions(opts)}
}

// Produce generates params.BatchSize datums and appends them to the ingest
// topic in a single call keyed by datum id.
//
// Entries the log rejects are counted in Rejected and left out of IDs.
// A failed append call returns a transient error and nothing is accepted.
func (p *Producer) Produce(ctx context.Context, params Params) (ProduceResult, error) {
	start := time.Now()
	report := Report{Stage: StageProducer}
	result := ProduceResult{Requested: params.BatchSize, IDs: []string{}}

	err := p.produce(ctx, params, &report, &result)
	p.opts.observer.ObserveReport(report, err, time.Since(start).Seconds())
	return result, err
}

func (p *Producer) produce(ctx context.Context, params Params, report *Report, result *ProduceResult) error {
	logger := p.opts.logger.WithFields(logrus.Fields{
		"stage": StageProducer,
		"topic": p.cfg.Topic,
	})

	if err := params.Validate(); err != nil {
		return NewMalformedError(StageProducer, "invalid parameters", err)
	}

	iterations := uint16(params.TargetIterations)
	datums := make([]datum.Datum, params.BatchSize)
	records := make([]eventlog.Record, 0, params.BatchSize)
	index := make([]int, 0, params.BatchSize)
	report.Outcomes = make([]RecordOutcome, params.BatchSize)

	for i := range datums {
		d := datum.Random(p.opts.ids, params.DocumentLength, iterations)
		datums[i] = d
		report.Outcomes[i] = RecordOutcome{Key: d.ID, ID: d.ID}

		payload, err := p.cfg.Codec.Encode(d)
		if err != nil {
			report.Outcomes[i].Status = StatusFailed
			report.Outcomes[i].Err = NewLogicFault(StageProducer, "cannot encode datum", err)
			continue
		}
		records = append(records, eventlog.Record{Key: d.ID, Payload: payload})
		index = append(index, i)
	}

	if len(records) == 0 {
		result.Rejected = params.BatchSize
		perr := NewLogicFault(StageProducer, "no datum could be encoded", report.Outcomes[0].Err)
		logger.WithError(perr).Error("nothing to append")
		return perr
	}

	appendCtx, cancel := withOptionalTimeout(ctx, p.cfg.AppendTimeout)
	defer cancel()

	results, err := p.log.Append(appendCtx, p.cfg.Topic, records)
	if err != nil {
		perr := NewTransientError(StageProducer, "append to ingest topic failed", err)
		for _, i := range index {
			report.Outcomes[i].Status = StatusFailed
			report.Outcomes[i].Err = perr
		}
		result.Rejected = params.BatchSize
		logger.WithError(err).Error("append failed")
		return perr
	}

	for j, r := range results {
		i := index[j]
		if r.OK() {
			report.Outcomes[i].Seq = r.Seq
			report.Outcomes[i].Status = StatusSucceeded
			result.IDs = append(result.IDs, datums[i].ID)
			continue
		}
		report.Outcomes[i].Status = StatusFailed
		report.Outcomes[i].Err = NewTransientError(StageProducer, "entry rejected by log", r.Err)
		logger.WithField("id", datums[i].ID).WithError(r.Err).Warn("entry rejected")
	}

	result.Accepted = len(result.IDs)
	result.Rejected = result.Requested - result.Accepted

	logger.WithFields(logrus.Fields{
		"requested": result.Requested,
		"accepted":  result.Accepted,
		"rejected":  result.Rejected,
	}).Info("produced batch")
	return nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
