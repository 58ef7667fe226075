package eventlog

import (
	"context"
	"fmt"
	"time"
)

// Record is one entry to append. Key should be the datum id so that all
// entries for one id share a partition.
type Record struct {
	Key     string
	Payload []byte
}

// AppendResult is the per-entry outcome of Append.
// Err is nil and Seq > 0 for accepted entries.
type AppendResult struct {
	Seq int64
	Err error
}

// OK reports whether the entry was accepted.
func (r AppendResult) OK() bool {
	return r.Err == nil
}

// Accepted counts accepted entries in results.
func Accepted(results []AppendResult) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}

// Append writes records to topic as one batch.
//
// Entries that fail validation (empty key, oversized payload) are rejected
// individually and reported in the result slice, which always has one
// element per record in input order. Accepted entries receive consecutive
// seq values and are committed atomically.
//
// A returned error means nothing was appended: the database was unavailable,
// the context expired, or topic is empty.
func (l *Log) Append(ctx context.Context, topic string, records []Record) ([]AppendResult, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	results := make([]AppendResult, len(records))
	type row struct {
		idx         int
		payload     []byte
		compression Compression
	}
	rows := make([]row, 0, len(records))

	for i, rec := range records {
		switch {
		case rec.Key == "":
			results[i].Err = ErrEmptyKey
			continue
		case len(rec.Payload) > l.maxPayloadBytes:
			results[i].Err = fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(rec.Payload), l.maxPayloadBytes)
			continue
		}

		stored, tag, err := compressPayload(rec.Payload, l.compression)
		if err != nil {
			results[i].Err = err
			continue
		}
		rows = append(rows, row{idx: i, payload: stored, compression: tag})
	}

	if len(rows) == 0 {
		return results, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append %s: begin tx: %w", topic, err)
	}
	defer tx.Rollback() // No-op if committed

	var high int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM entries WHERE topic = ?`, topic,
	).Scan(&high); err != nil {
		return nil, fmt.Errorf("append %s: read high water: %w", topic, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (topic, seq, key, payload, compression, appended_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("append %s: prepare: %w", topic, err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, r := range rows {
		high++
		if _, err := stmt.ExecContext(ctx,
			topic, high, records[r.idx].Key, r.payload, int(r.compression), now,
		); err != nil {
			return nil, fmt.Errorf("append %s: insert: %w", topic, err)
		}
		results[r.idx].Seq = high
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append %s: commit: %w", topic, err)
	}

	l.notify()
	return results, nil
}
