package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/digestpipe/internal/datum"
	"github.com/roach88/digestpipe/internal/digest"
	"github.com/roach88/digestpipe/internal/eventlog"
	"github.com/roach88/digestpipe/internal/testutil"
)

// SHA3-512 applied twice to "abc", upper-hex between rounds.
const abcTwice = "29F3DC43BDC529F69DF0A0219E4BB15BC4ACA1B3C84ECD2ADC0342C412E78366099CDF0C953AEB3B617A164A80BBBD0EB0B115294BB28D5D056CE3B4011C9FE6"

func newTestTransform(t *testing.T, log Appender, opts ...Option) *Transform {
	t.Helper()
	return NewTransform(log, digest.Engine{}, TransformConfig{Topic: "result"}, opts...)
}

func TestTransform_ComputesDigest(t *testing.T) {
	ctx := context.Background()
	l := testutil.OpenLog(t)
	tr := newTestTransform(t, l)

	entries := testutil.Entries(t, datum.JSONCodec{}, datum.New("u-1", "abc", 2))
	report, err := tr.Process(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())

	out := testutil.ReadDatums(t, l, "result", datum.JSONCodec{})
	require.Len(t, out, 1)
	assert.Equal(t, "u-1", out[0].ID)
	assert.Equal(t, "abc", out[0].Document)
	assert.Equal(t, uint16(2), out[0].TargetIterations)
	assert.Equal(t, abcTwice, out[0].DigestValue())

	keyed, err := l.ReadByKey(ctx, "result", "u-1")
	require.NoError(t, err)
	assert.Len(t, keyed, 1)
}

func TestTransform_ReemitsHashedRecordUnchanged(t *testing.T) {
	l := testutil.OpenLog(t)
	hasher := &countingHasher{next: digest.Engine{}}
	tr := NewTransform(l, hasher, TransformConfig{Topic: "result"})

	already := testutil.Hashed(t, "u-1", "abc", 2, "PRECOMPUTED")
	report, err := tr.Process(context.Background(), testutil.Entries(t, datum.JSONCodec{}, already))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())
	assert.Zero(t, hasher.calls.Load(), "hashed datums are never recomputed")

	out := testutil.ReadDatums(t, l, "result", datum.JSONCodec{})
	require.Len(t, out, 1)
	assert.Equal(t, already, out[0])
}

func TestTransform_DropsMalformedWithoutAbortingBatch(t *testing.T) {
	l := testutil.OpenLog(t)
	tr := newTestTransform(t, l)

	good := testutil.Entries(t, datum.JSONCodec{}, datum.New("a", "x", 1), datum.New("c", "z", 1))
	entries := []eventlog.Entry{
		good[0],
		{Seq: 9, Key: "b", Payload: []byte(`{"doc":"no id"}`)},
		good[1],
	}

	report, err := tr.Process(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted())
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 1, report.Dropped())

	dropped := report.Outcomes[1]
	assert.Equal(t, StatusDropped, dropped.Status)
	assert.Equal(t, int64(9), dropped.Seq)
	assert.True(t, IsMalformed(dropped.Err))
	assert.ErrorIs(t, dropped.Err, datum.ErrMalformed)

	out := testutil.ReadDatums(t, l, "result", datum.JSONCodec{})
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
}

func TestTransform_DropsInvalidUTF8Document(t *testing.T) {
	l := testutil.OpenLog(t)
	tr := newTestTransform(t, l)

	entries := []eventlog.Entry{
		{Seq: 1, Key: "bad", Payload: []byte("{\"uuid\":\"bad\",\"doc\":\"ab\xffc\",\"hashes\":2}")},
	}
	entries = append(entries, testutil.Entries(t, datum.JSONCodec{}, datum.New("ok", "abc", 2))...)

	report, err := tr.Process(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dropped())
	assert.Equal(t, 1, report.Succeeded())
	assert.ErrorIs(t, report.Outcomes[0].Err, datum.ErrMalformed)

	out := testutil.ReadDatums(t, l, "result", datum.JSONCodec{})
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].ID)
	assert.Equal(t, abcTwice, out[0].DigestValue())
}

func TestTransform_HashFailureIsLogicFault(t *testing.T) {
	l := testutil.OpenLog(t)
	hasher := &countingHasher{next: digest.Engine{}, failFor: "bad"}
	tr := NewTransform(l, hasher, TransformConfig{Topic: "result"})

	report, err := tr.Process(context.Background(),
		testutil.Entries(t, datum.JSONCodec{}, datum.New("ok", "abc", 1), datum.New("x", "bad", 1)))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())
	assert.Equal(t, 1, report.Failed())
	assert.True(t, IsLogicFault(report.Outcomes[1].Err))

	assert.Len(t, testutil.ReadDatums(t, l, "result", datum.JSONCodec{}), 1)
}

func TestTransform_AppendFailureIsTransient(t *testing.T) {
	l := testutil.OpenLog(t)
	appender := &testutil.FaultyAppender{Next: l, FailCalls: 1}
	tr := newTestTransform(t, appender)

	entries := testutil.Entries(t, datum.JSONCodec{}, datum.New("a", "abc", 1))
	report, err := tr.Process(context.Background(), entries)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 1, report.Failed())

	// Redelivery of the same batch succeeds.
	_, err = tr.Process(context.Background(), entries)
	require.NoError(t, err)
	assert.Len(t, testutil.ReadDatums(t, l, "result", datum.JSONCodec{}), 1)
}

func TestTransform_SingleAppendPerBatch(t *testing.T) {
	l := testutil.OpenLog(t)
	appender := &testutil.FaultyAppender{Next: l}
	tr := newTestTransform(t, appender, WithWorkers(4))

	datums := make([]datum.Datum, 20)
	for i := range datums {
		datums[i] = datum.New(fmt.Sprintf("id-%02d", i), fmt.Sprintf("doc %d", i), 3)
	}
	report, err := tr.Process(context.Background(), testutil.Entries(t, datum.JSONCodec{}, datums...))
	require.NoError(t, err)
	assert.Equal(t, 20, report.Succeeded())
	assert.Equal(t, 1, appender.Calls())

	out := testutil.ReadDatums(t, l, "result", datum.JSONCodec{})
	require.Len(t, out, 20)
	for i, d := range out {
		assert.Equal(t, datums[i].ID, d.ID, "input order is preserved")
		want, err := digest.Compute(digest.SHA3_512, datums[i].Document, 3)
		require.NoError(t, err)
		assert.Equal(t, want, d.DigestValue())
	}
}

func TestTransform_RejectedEntryFails(t *testing.T) {
	l := testutil.OpenLog(t)
	appender := &testutil.FaultyAppender{Next: l, RejectKeys: map[string]bool{"b": true}}
	tr := newTestTransform(t, appender)

	report, err := tr.Process(context.Background(),
		testutil.Entries(t, datum.JSONCodec{}, datum.New("a", "x", 1), datum.New("b", "y", 1)))
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, report.Outcomes[0].Status)
	assert.Equal(t, StatusFailed, report.Outcomes[1].Status)
	assert.True(t, IsTransient(report.Outcomes[1].Err))
}

func TestTransform_AllDroppedSkipsAppend(t *testing.T) {
	appender := &testutil.FaultyAppender{Next: testutil.OpenLog(t)}
	tr := newTestTransform(t, appender)

	report, err := tr.Process(context.Background(), []eventlog.Entry{{Seq: 1, Key: "k", Payload: []byte("not json")}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dropped())
	assert.Zero(t, appender.Calls())
}

func TestTransform_IsIdempotentUnderRedelivery(t *testing.T) {
	l := testutil.OpenLog(t)
	tr := newTestTransform(t, l)
	entries := testutil.Entries(t, datum.JSONCodec{}, datum.New("a", "abc", 2))

	for i := 0; i < 3; i++ {
		_, err := tr.Process(context.Background(), entries)
		require.NoError(t, err)
	}

	out := testutil.ReadDatums(t, l, "result", datum.JSONCodec{})
	require.Len(t, out, 3)
	for _, d := range out {
		assert.Equal(t, out[0], d)
	}
}

// countingHasher counts Compute calls and fails for one document.
type countingHasher struct {
	next    Hasher
	failFor string
	calls   atomic.Int64
}

func (h *countingHasher) Compute(doc string, n uint16) (string, error) {
	h.calls.Add(1)
	if h.failFor != "" && doc == h.failFor {
		return "", errors.New("hasher exploded")
	}
	return h.next.Compute(doc, n)
}
