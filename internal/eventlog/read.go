package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Entry is a stored log entry with its payload already decompressed.
type Entry struct {
	Topic      string
	Seq        int64
	Key        string
	Payload    []byte
	AppendedAt time.Time
}

// Read returns up to limit entries of topic with seq > afterSeq, ordered by seq ASC.
// Returns an empty slice (not nil) when nothing is pending.
func (l *Log) Read(ctx context.Context, topic string, afterSeq int64, limit int) ([]Entry, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if limit <= 0 {
		return []Entry{}, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, key, payload, compression, appended_at
		FROM entries
		WHERE topic = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, topic, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", topic, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e           Entry
			payload     []byte
			compression int
			appendedAt  int64
		)
		if err := rows.Scan(&e.Seq, &e.Key, &payload, &compression, &appendedAt); err != nil {
			return nil, fmt.Errorf("read %s: scan: %w", topic, err)
		}
		e.Topic = topic
		e.AppendedAt = time.Unix(0, appendedAt)
		e.Payload, err = decompressPayload(payload, Compression(compression))
		if err != nil {
			return nil, fmt.Errorf("read %s seq %d: %w", topic, e.Seq, err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: iterate: %w", topic, err)
	}
	return entries, nil
}

// ReadByKey returns every entry of topic appended under key, ordered by seq.
// Used by inspection tooling; stages never look entries up by key.
func (l *Log) ReadByKey(ctx context.Context, topic, key string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, payload, compression, appended_at
		FROM entries
		WHERE topic = ? AND key = ?
		ORDER BY seq ASC
	`, topic, key)
	if err != nil {
		return nil, fmt.Errorf("read %s by key: %w", topic, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			payload     []byte
			compression int
			appendedAt  int64
		)
		e := Entry{Topic: topic, Key: key}
		if err := rows.Scan(&e.Seq, &payload, &compression, &appendedAt); err != nil {
			return nil, fmt.Errorf("read %s by key: scan: %w", topic, err)
		}
		e.AppendedAt = time.Unix(0, appendedAt)
		if e.Payload, err = decompressPayload(payload, Compression(compression)); err != nil {
			return nil, fmt.Errorf("read %s seq %d: %w", topic, e.Seq, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s by key: iterate: %w", topic, err)
	}
	return entries, nil
}

// HighWater returns the largest seq in topic, or 0 for an empty topic.
func (l *Log) HighWater(ctx context.Context, topic string) (int64, error) {
	var high int64
	if err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM entries WHERE topic = ?`, topic,
	).Scan(&high); err != nil {
		return 0, fmt.Errorf("high water %s: %w", topic, err)
	}
	return high, nil
}

// TopicStats summarizes one topic.
type TopicStats struct {
	Topic     string `json:"topic"`
	Entries   int64  `json:"entries"`
	HighWater int64  `json:"high_water"`
}

// Topics returns stats for every topic, ordered by name.
func (l *Log) Topics(ctx context.Context) ([]TopicStats, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT topic, COUNT(*), MAX(seq)
		FROM entries
		GROUP BY topic
		ORDER BY topic ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	stats := []TopicStats{}
	for rows.Next() {
		var s TopicStats
		if err := rows.Scan(&s.Topic, &s.Entries, &s.HighWater); err != nil {
			return nil, fmt.Errorf("list topics: scan: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list topics: iterate: %w", err)
	}
	return stats, nil
}

// CommittedOffset returns the last seq group committed for topic, or 0.
func (l *Log) CommittedOffset(ctx context.Context, topic, group string) (int64, error) {
	var seq int64
	err := l.db.QueryRowContext(ctx, `
		SELECT seq FROM consumer_offsets
		WHERE topic = ? AND consumer_group = ?
	`, topic, group).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read offset %s/%s: %w", topic, group, err)
	}
	return seq, nil
}

// Commit records that group processed topic through seq.
// Offsets never move backwards through Commit; a stale commit is a no-op.
func (l *Log) Commit(ctx context.Context, topic, group string, seq int64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO consumer_offsets (topic, consumer_group, seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(topic, consumer_group) DO UPDATE SET
			seq = max(consumer_offsets.seq, excluded.seq),
			updated_at = excluded.updated_at
	`, topic, group, seq, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("commit offset %s/%s: %w", topic, group, err)
	}
	return nil
}

// ResetOffset sets group's offset for topic to seq unconditionally.
// Resetting to 0 replays the whole topic.
func (l *Log) ResetOffset(ctx context.Context, topic, group string, seq int64) error {
	if seq < 0 {
		return fmt.Errorf("reset offset %s/%s: negative seq %d", topic, group, seq)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO consumer_offsets (topic, consumer_group, seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(topic, consumer_group) DO UPDATE SET
			seq = excluded.seq,
			updated_at = excluded.updated_at
	`, topic, group, seq, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("reset offset %s/%s: %w", topic, group, err)
	}
	return nil
}

// OffsetInfo describes one consumer group's position.
type OffsetInfo struct {
	Topic string `json:"topic"`
	Group string `json:"group"`
	Seq   int64  `json:"seq"`
}

// Offsets lists every committed offset ordered by topic, group.
func (l *Log) Offsets(ctx context.Context) ([]OffsetInfo, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT topic, consumer_group, seq
		FROM consumer_offsets
		ORDER BY topic ASC, consumer_group ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list offsets: %w", err)
	}
	defer rows.Close()

	offsets := []OffsetInfo{}
	for rows.Next() {
		var o OffsetInfo
		if err := rows.Scan(&o.Topic, &o.Group, &o.Seq); err != nil {
			return nil, fmt.Errorf("list offsets: scan: %w", err)
		}
		offsets = append(offsets, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list offsets: iterate: %w", err)
	}
	return offsets, nil
}
