package eventlog

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stamped into PRAGMA user_version. Future schema changes
// bump it and migrate databases that report an older version.
const schemaVersion = 1

// DefaultMaxPayloadBytes bounds a single entry's payload (1 MiB, matching
// the record limit of the managed log service the pipeline was built for).
const DefaultMaxPayloadBytes = 1 << 20

var (
	// ErrEmptyTopic fails a whole Append or Read call.
	ErrEmptyTopic = errors.New("eventlog: empty topic")

	// ErrEmptyKey rejects a single entry.
	ErrEmptyKey = errors.New("eventlog: empty partition key")

	// ErrPayloadTooLarge rejects a single entry.
	ErrPayloadTooLarge = errors.New("eventlog: payload too large")
)

// Log is a SQLite-backed multi-topic append-only log.
// Safe for concurrent use by multiple goroutines.
type Log struct {
	db              *sql.DB
	compression     Compression
	maxPayloadBytes int

	mu       sync.Mutex
	watchers map[chan struct{}]struct{}
}

// Option configures a Log.
type Option func(*Log)

// WithCompression sets the compression applied to newly appended payloads.
func WithCompression(c Compression) Option {
	return func(l *Log) {
		l.compression = c
	}
}

// WithMaxPayloadBytes sets the per-entry payload limit. Values <= 0 keep the default.
func WithMaxPayloadBytes(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxPayloadBytes = n
		}
	}
}

// Open creates or opens the log database at path.
// Applies pragmas and the schema; safe to call repeatedly on the same file.
func Open(path string, opts ...Option) (*Log, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open log database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to log database: %w", err)
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY inside the process
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	l := &Log{
		db:              db,
		compression:     CompressionNone,
		maxPayloadBytes: DefaultMaxPayloadBytes,
		watchers:        make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close closes the database connection.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Watch returns a channel signalled after every successful Append made
// through this Log value, and a function that stops the subscription.
//
// The channel has a buffer of one, so bursts of appends coalesce into a
// single wake-up. Appends from other processes are not observed; consumers
// combine Watch with a poll interval.
func (l *Log) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	l.watchers[ch] = struct{}{}
	l.mu.Unlock()

	return ch, func() {
		l.mu.Lock()
		delete(l.watchers, ch)
		l.mu.Unlock()
	}
}

// notify wakes every watcher without blocking.
func (l *Log) notify() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ch := range l.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables and indexes if they don't exist and stamps
// the schema version.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("log schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (l *Log) verifyPragma(name, expected string) error {
	var value string
	if err := l.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
