package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/digestpipe/internal/datum"
	"github.com/roach88/digestpipe/internal/eventlog"
	"github.com/roach88/digestpipe/internal/store"
)

// OpenLog opens a log in a temp directory, closed on test cleanup.
func OpenLog(t testing.TB, opts ...eventlog.Option) *eventlog.Log {
	t.Helper()
	l, err := eventlog.Open(filepath.Join(t.TempDir(), "log.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// OpenStore opens an in-memory store for table, closed on test cleanup.
func OpenStore(t testing.TB, table string) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{InMemory: true, Table: table})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Hashed returns a terminal datum.
func Hashed(t testing.TB, id, doc string, iterations uint16, digest string) datum.Datum {
	t.Helper()
	d, err := datum.New(id, doc, iterations).WithDigest(digest)
	require.NoError(t, err)
	return d
}

// Entries encodes datums with codec into entries with seq 1..n.
func Entries(t testing.TB, codec datum.Codec, datums ...datum.Datum) []eventlog.Entry {
	t.Helper()
	entries := make([]eventlog.Entry, len(datums))
	for i, d := range datums {
		payload, err := codec.Encode(d)
		require.NoError(t, err)
		entries[i] = eventlog.Entry{Seq: int64(i + 1), Key: d.ID, Payload: payload}
	}
	return entries
}

// AppendDatums encodes datums with codec and appends them to topic.
func AppendDatums(t testing.TB, l *eventlog.Log, topic string, codec datum.Codec, datums ...datum.Datum) {
	t.Helper()
	records := make([]eventlog.Record, len(datums))
	for i, d := range datums {
		payload, err := codec.Encode(d)
		require.NoError(t, err)
		records[i] = eventlog.Record{Key: d.ID, Payload: payload}
	}
	results, err := l.Append(t.Context(), topic, records)
	require.NoError(t, err)
	require.Equal(t, len(datums), eventlog.Accepted(results))
}

// ReadDatums decodes every entry of topic.
func ReadDatums(t testing.TB, l *eventlog.Log, topic string, codec datum.Codec) []datum.Datum {
	t.Helper()
	entries, err := l.Read(t.Context(), topic, 0, 1<<20)
	require.NoError(t, err)
	datums := make([]datum.Datum, len(entries))
	for i, e := range entries {
		d, err := codec.Decode(e.Payload)
		require.NoError(t, err)
		datums[i] = d
	}
	return datums
}
