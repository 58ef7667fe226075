package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/digestpipe/internal/datum"
	"github.com/roach88/digestpipe/internal/eventlog"
)

// ErrInjected is the error returned by fakes when a fault is injected.
var ErrInjected = errors.New("testutil: injected fault")

// Appender is the log append surface faked by FaultyAppender.
type Appender interface {
	Append(ctx context.Context, topic string, records []eventlog.Record) ([]eventlog.AppendResult, error)
}

// FaultyAppender wraps an Appender and injects whole-call or per-entry failures.
type FaultyAppender struct {
	Next Appender

	mu sync.Mutex
	// FailCalls makes the next n Append calls fail entirely.
	FailCalls int
	// RejectKeys rejects entries with these keys individually.
	RejectKeys map[string]bool
	calls      int
}

// Append implements the log append surface.
func (f *FaultyAppender) Append(ctx context.Context, topic string, records []eventlog.Record) ([]eventlog.AppendResult, error) {
	f.mu.Lock()
	f.calls++
	if f.FailCalls > 0 {
		f.FailCalls--
		f.mu.Unlock()
		return nil, ErrInjected
	}
	reject := f.RejectKeys
	f.mu.Unlock()

	var (
		pass  []eventlog.Record
		index []int
	)
	results := make([]eventlog.AppendResult, len(records))
	for i, r := range records {
		if reject[r.Key] {
			results[i].Err = ErrInjected
			continue
		}
		pass = append(pass, r)
		index = append(index, i)
	}

	inner, err := f.Next.Append(ctx, topic, pass)
	if err != nil {
		return nil, err
	}
	for j, r := range inner {
		results[index[j]] = r
	}
	return results, nil
}

// Calls returns how many times Append was called.
func (f *FaultyAppender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MemoryWriter is an in-memory store with per-id failure injection.
type MemoryWriter struct {
	mu sync.Mutex
	// FailFor makes writes for an id fail this many times before succeeding.
	// A negative count fails forever.
	FailFor  map[string]int
	records  map[string]datum.Datum
	attempts map[string]int
}

// NewMemoryWriter creates an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{
		FailFor:  make(map[string]int),
		records:  make(map[string]datum.Datum),
		attempts: make(map[string]int),
	}
}

// Put stores d unless a failure is pending for its id.
func (w *MemoryWriter) Put(ctx context.Context, d datum.Datum) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.attempts[d.ID]++
	if n, ok := w.FailFor[d.ID]; ok && n != 0 {
		if n > 0 {
			w.FailFor[d.ID] = n - 1
		}
		return ErrInjected
	}
	w.records[d.ID] = d
	return nil
}

// Get returns the stored datum for id.
func (w *MemoryWriter) Get(id string) (datum.Datum, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.records[id]
	return d, ok
}

// Len returns the number of stored datums.
func (w *MemoryWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

// Attempts returns how many writes were attempted for id.
func (w *MemoryWriter) Attempts(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts[id]
}
