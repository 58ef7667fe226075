package pipeline

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/digestpipe/internal/datum"
	"github.com/roach88/digestpipe/internal/testutil"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Params
	}{
		{"defaults", "", DefaultParams()},
		{"all set", "document_length=10&target_iterations=3&batch_size=7", Params{10, 3, 7}},
		{"unparsable falls back", "document_length=abc&batch_size=2", Params{DefaultDocumentLength, DefaultTargetIterations, 2}},
		{"zero falls back", "target_iterations=0", DefaultParams()},
		{"iterations above range", "target_iterations=65536", DefaultParams()},
		{"iterations at max", "target_iterations=65535", Params{DefaultDocumentLength, 65535, DefaultBatchSize}},
		{"batch above max", "batch_size=501", DefaultParams()},
		{"negative length", "document_length=-5", DefaultParams()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ParseParams(q))
		})
	}
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, Params{DocumentLength: 1024, TargetIterations: 100, BatchSize: 64}, p)
	assert.NoError(t, p.Validate())
	assert.Error(t, Params{DocumentLength: 0, TargetIterations: 1, BatchSize: 1}.Validate())
}

func TestProduce_AppendsBatchInOneCall(t *testing.T) {
	ctx := context.Background()
	l := testutil.OpenLog(t)
	appender := &testutil.FaultyAppender{Next: l}
	ids := testutil.NewSequentialIDs("")
	obs := &recordingObserver{}

	p := NewProducer(appender, ProducerConfig{Topic: "ingest"}, WithIDGenerator(ids), WithObserver(obs))
	res, err := p.Produce(ctx, Params{DocumentLength: 16, TargetIterations: 5, BatchSize: 3})
	require.NoError(t, err)

	assert.Equal(t, ProduceResult{Requested: 3, Accepted: 3, Rejected: 0, IDs: []string{"id-0001", "id-0002", "id-0003"}}, res)
	assert.Equal(t, 1, appender.Calls())

	got := testutil.ReadDatums(t, l, "ingest", datum.JSONCodec{})
	require.Len(t, got, 3)
	for i, d := range got {
		assert.Equal(t, res.IDs[i], d.ID)
		assert.Len(t, d.Document, 16)
		assert.Equal(t, uint16(5), d.TargetIterations)
		assert.False(t, d.IsTerminal())
	}

	entries, err := l.Read(ctx, "ingest", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "id-0001", entries[0].Key, "entries are keyed by datum id")

	require.Len(t, obs.reports, 1)
	assert.Equal(t, 3, obs.reports[0].Succeeded())
}

func TestProduce_PartialRejection(t *testing.T) {
	l := testutil.OpenLog(t)
	appender := &testutil.FaultyAppender{Next: l, RejectKeys: map[string]bool{"id-0002": true}}

	p := NewProducer(appender, ProducerConfig{Topic: "ingest"}, WithIDGenerator(testutil.NewSequentialIDs("")))
	res, err := p.Produce(context.Background(), Params{DocumentLength: 4, TargetIterations: 1, BatchSize: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Requested)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, []string{"id-0001", "id-0003"}, res.IDs)
}

func TestProduce_AppendFailureIsTransient(t *testing.T) {
	l := testutil.OpenLog(t)
	appender := &testutil.FaultyAppender{Next: l, FailCalls: 1}
	obs := &recordingObserver{}

	p := NewProducer(appender, ProducerConfig{Topic: "ingest"}, WithObserver(obs))
	res, err := p.Produce(context.Background(), Params{DocumentLength: 4, TargetIterations: 1, BatchSize: 2})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Zero(t, res.Accepted)
	assert.Equal(t, 2, res.Rejected)
	assert.Empty(t, res.IDs)

	require.Len(t, obs.errs, 1)
	assert.Error(t, obs.errs[0])
	assert.Equal(t, 2, obs.reports[0].Failed())
}

// blankIDs produces datums that fail validation.
type blankIDs struct{}

func (blankIDs) Generate() string { return "" }

func TestProduce_EncodeFailureIsLogicFault(t *testing.T) {
	appender := &testutil.FaultyAppender{Next: testutil.OpenLog(t)}
	obs := &recordingObserver{}

	p := NewProducer(appender, ProducerConfig{Topic: "ingest"}, WithIDGenerator(blankIDs{}), WithObserver(obs))
	res, err := p.Produce(context.Background(), Params{DocumentLength: 4, TargetIterations: 1, BatchSize: 3})
	require.Error(t, err)
	assert.True(t, IsLogicFault(err))
	assert.ErrorIs(t, err, datum.ErrEmptyID)
	assert.Equal(t, 3, res.Rejected)
	assert.Zero(t, appender.Calls())

	require.Len(t, obs.reports, 1)
	assert.Equal(t, 3, obs.reports[0].Failed())
	for _, o := range obs.reports[0].Outcomes {
		assert.True(t, IsLogicFault(o.Err))
	}
}

func TestProduce_InvalidParams(t *testing.T) {
	p := NewProducer(testutil.OpenLog(t), ProducerConfig{Topic: "ingest"})

	_, err := p.Produce(context.Background(), Params{DocumentLength: 1, TargetIterations: 1, BatchSize: 0})
	assert.True(t, IsMalformed(err))
}

func TestProduce_CBORCodec(t *testing.T) {
	l := testutil.OpenLog(t)
	p := NewProducer(l, ProducerConfig{Topic: "ingest", Codec: datum.CBORCodec{}})

	_, err := p.Produce(context.Background(), Params{DocumentLength: 8, TargetIterations: 2, BatchSize: 2})
	require.NoError(t, err)

	got := testutil.ReadDatums(t, l, "ingest", datum.CBORCodec{})
	assert.Len(t, got, 2)
}

// recordingObserver captures every observed invocation.
type recordingObserver struct {
	reports []Report
	errs    []error
}

func (o *recordingObserver) ObserveReport(r Report, err error, _ float64) {
	o.reports = append(o.reports, r)
	o.errs = append(o.errs, err)
}
