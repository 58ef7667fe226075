package eventlog

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_AssignsConsecutiveSeq(t *testing.T) {
	ctx := context.Background()
	l := createTestLog(t)

	results, err := l.Append(ctx, "ingest", []Record{
		{Key: "a", Payload: []byte("1")},
		{Key: "b", Payload: []byte("2")},
		{Key: "c", Payload: []byte("3")},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.True(t, r.OK())
		assert.Equal(t, int64(i+1), r.Seq)
	}

	results, err = l.Append(ctx, "ingest", []Record{{Key: "d", Payload: []byte("4")}})
	require.NoError(t, err)
	assert.Equal(t, int64(4), results[0].Seq)
}

func TestAppend_TopicsAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := createTestLog(t)

	_, err := l.Append(ctx, "ingest", []Record{{Key: "a", Payload: []byte("1")}, {Key: "b", Payload: []byte("2")}})
	require.NoError(t, err)

	results, err := l.Append(ctx, "result", []Record{{Key: "a", Payload: []byte("x")}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), results[0].Seq)
}

func TestAppend_EmptyTopic(t *testing.T) {
	l := createTestLog(t)

	_, err := l.Append(context.Background(), "", []Record{{Key: "a", Payload: []byte("1")}})
	assert.ErrorIs(t, err, ErrEmptyTopic)
}

func TestAppend_PartialRejection(t *testing.T) {
	ctx := context.Background()
	l := createTestLog(t, WithMaxPayloadBytes(8))

	results, err := l.Append(ctx, "ingest", []Record{
		{Key: "a", Payload: []byte("ok")},
		{Key: "", Payload: []byte("no key")},
		{Key: "c", Payload: bytes.Repeat([]byte("x"), 9)},
		{Key: "d", Payload: []byte("fine")},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].OK())
	assert.ErrorIs(t, results[1].Err, ErrEmptyKey)
	assert.ErrorIs(t, results[2].Err, ErrPayloadTooLarge)
	assert.True(t, results[3].OK())
	assert.Equal(t, 2, Accepted(results))

	// Accepted entries keep input order and stay dense.
	assert.Equal(t, int64(1), results[0].Seq)
	assert.Equal(t, int64(2), results[3].Seq)

	entries, err := l.Read(ctx, "ingest", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, "d", entries[1].Key)
}

func TestAppend_EmptyBatch(t *testing.T) {
	l := createTestLog(t)

	results, err := l.Append(context.Background(), "ingest", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAppend_CancelledContext(t *testing.T) {
	l := createTestLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Append(ctx, "ingest", []Record{{Key: "a", Payload: []byte("1")}})
	require.Error(t, err)

	high, err := l.HighWater(context.Background(), "ingest")
	require.NoError(t, err)
	assert.Zero(t, high)
}

func TestAppend_ConcurrentWritersKeepSeqDense(t *testing.T) {
	ctx := context.Background()
	l := createTestLog(t)

	const writers, perWriter = 8, 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := l.Append(ctx, "ingest", []Record{{Key: fmt.Sprintf("w%d-%d", w, i), Payload: []byte("p")}})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	entries, err := l.Read(ctx, "ingest", 0, writers*perWriter+1)
	require.NoError(t, err)
	require.Len(t, entries, writers*perWriter)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestAppend_ZstdRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := createTestLog(t, WithCompression(CompressionZstd))

	compressible := bytes.Repeat([]byte("abcdefgh"), 512)
	tiny := []byte("z")

	_, err := l.Append(ctx, "ingest", []Record{
		{Key: "big", Payload: compressible},
		{Key: "tiny", Payload: tiny},
	})
	require.NoError(t, err)

	var tags []int
	rows, err := l.db.Query(`SELECT compression FROM entries ORDER BY seq`)
	require.NoError(t, err)
	for rows.Next() {
		var c int
		require.NoError(t, rows.Scan(&c))
		tags = append(tags, c)
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, []int{int(CompressionZstd), int(CompressionNone)}, tags)

	entries, err := l.Read(ctx, "ingest", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, compressible, entries[0].Payload)
	assert.Equal(t, tiny, entries[1].Payload)
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"zstd", CompressionZstd, false},
		{"gzip", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCompression(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "zstd", CompressionZstd.String())
	assert.Equal(t, "unknown(9)", Compression(9).String())
}
