package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/roach88/digestpipe/internal/datum"
)

var (
	// ErrNotFound is returned by Get when no record exists for the id.
	ErrNotFound = errors.New("store: record not found")

	// ErrNotTerminal is returned by Put for a datum without a digest.
	ErrNotTerminal = errors.New("store: datum has no digest")

	// ErrEmptyTable is returned by Open when no table name is configured.
	ErrEmptyTable = errors.New("store: empty table name")
)

// Options configures Open.
type Options struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory. Used by tests and dry runs.
	InMemory bool

	// Table namespaces every key.
	Table string

	// Logger receives badger's internal logs. Nil silences them.
	Logger logrus.FieldLogger
}

// Record is the persisted form of a finished datum.
type Record struct {
	ID               string `json:"id"`
	Document         string `json:"document"`
	TargetIterations int    `json:"target_iterations"`
	Digest           string `json:"digest"`
}

// Store is a table view over a badger database.
// Safe for concurrent use.
type Store struct {
	db     *badger.DB
	table  string
	prefix []byte
}

// Open opens (or creates) the badger database described by opts.
func Open(opts Options) (*Store, error) {
	if opts.Table == "" {
		return nil, ErrEmptyTable
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("store: path is required unless in-memory")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}

	if opts.Logger != nil {
		bopts.Logger = badgerLogger{opts.Logger.WithField("component", "badger")}
	} else {
		bopts.Logger = nil
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &Store{
		db:     db,
		table:  opts.Table,
		prefix: []byte(opts.Table + "/"),
	}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Table returns the configured table name.
func (s *Store) Table() string {
	return s.table
}

func (s *Store) key(id string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(id))
	k = append(k, s.prefix...)
	return append(k, id...)
}

// Put writes d as a full record keyed by its id, replacing any existing record.
func (s *Store) Put(ctx context.Context, d datum.Datum) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.IsTerminal() {
		return fmt.Errorf("put %s: %w", d.ID, ErrNotTerminal)
	}
	if d.ID == "" {
		return fmt.Errorf("put: %w", datum.ErrEmptyID)
	}

	value, err := json.Marshal(Record{
		ID:               d.ID,
		Document:         d.Document,
		TargetIterations: int(d.TargetIterations),
		Digest:           d.DigestValue(),
	})
	if err != nil {
		return fmt.Errorf("put %s: marshal: %w", d.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(d.ID), value)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", d.ID, err)
	}
	return nil
}

// Get returns the record stored for id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return Record{}, fmt.Errorf("get %s: unmarshal: %w", id, err)
	}
	return rec, nil
}

// Count returns the number of records in the table.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}

// badgerLogger adapts a logrus logger to badger.Logger, demoting badger's
// chatty info output to debug.
type badgerLogger struct {
	log logrus.FieldLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log.Debugf(f, v...) }
