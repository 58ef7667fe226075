package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/digestpipe/internal/eventlog"
)

// Default consumer settings.
const (
	DefaultConsumerBatchSize = 100
	DefaultPollInterval      = time.Second
)

// Handler processes one delivered batch. Transform and Sink implement it.
type Handler interface {
	Process(ctx context.Context, entries []eventlog.Entry) (Report, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, entries []eventlog.Entry) (Report, error)

// Process calls f.
func (f HandlerFunc) Process(ctx context.Context, entries []eventlog.Entry) (Report, error) {
	return f(ctx, entries)
}

// Source is the log surface a Consumer reads from. *eventlog.Log implements it.
type Source interface {
	Read(ctx context.Context, topic string, afterSeq int64, limit int) ([]eventlog.Entry, error)
	CommittedOffset(ctx context.Context, topic, group string) (int64, error)
	Commit(ctx context.Context, topic, group string, seq int64) error
}

// watcher is implemented by sources that can signal new appends.
type watcher interface {
	Watch() (<-chan struct{}, func())
}

// Consumer delivers batches from one topic to a Handler on behalf of a
// consumer group, committing the group's offset only after the handler
// succeeds.
type Consumer struct {
	Log          Source
	Topic        string
	Group        string
	BatchSize    int
	PollInterval time.Duration
	Handler      Handler
	Logger       logrus.FieldLogger
}

func (c *Consumer) batchSize() int {
	if c.BatchSize <= 0 {
		return DefaultConsumerBatchSize
	}
	return c.BatchSize
}

func (c *Consumer) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return c.PollInterval
}

func (c *Consumer) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return newStageOptions(nil).logger
	}
	return c.Logger
}

// Poll delivers at most one batch and returns the number of entries delivered.
//
// The group's offset advances to the last delivered seq only when the
// handler returns nil. On error the offset is left unchanged, so the next
// Poll redelivers the same entries.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	if c.Handler == nil {
		return 0, errors.New("consumer: nil handler")
	}

	offset, err := c.Log.CommittedOffset(ctx, c.Topic, c.Group)
	if err != nil {
		return 0, fmt.Errorf("poll %s/%s: %w", c.Topic, c.Group, err)
	}

	entries, err := c.Log.Read(ctx, c.Topic, offset, c.batchSize())
	if err != nil {
		return 0, fmt.Errorf("poll %s/%s: %w", c.Topic, c.Group, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if _, err := c.Handler.Process(ctx, entries); err != nil {
		return len(entries), err
	}

	last := entries[len(entries)-1].Seq
	if err := c.Log.Commit(ctx, c.Topic, c.Group, last); err != nil {
		return len(entries), fmt.Errorf("poll %s/%s: %w", c.Topic, c.Group, err)
	}
	return len(entries), nil
}

// Run polls until ctx is cancelled.
//
// After a full batch it polls again immediately. Otherwise it waits for an
// append notification from the log (when the source supports it) or the
// poll interval, whichever comes first. Handler errors are logged and the
// batch is retried after the poll interval.
//
// Returns nil when ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.logger().WithFields(logrus.Fields{
		"topic": c.Topic,
		"group": c.Group,
	})

	var wake <-chan struct{}
	if w, ok := c.Log.(watcher); ok {
		ch, stop := w.Watch()
		defer stop()
		wake = ch
	}

	ticker := time.NewTicker(c.pollInterval())
	defer ticker.Stop()

	logger.Info("consumer started")
	for {
		n, err := c.Poll(ctx)
		if ctx.Err() != nil {
			logger.Info("consumer stopped")
			return nil
		}

		switch {
		case err != nil:
			logger.WithError(err).WithField("retryable", IsTransient(err)).Warn("batch failed, will redeliver")
			// Only the ticker may wake a failed batch; never spin on append signals.
			select {
			case <-ctx.Done():
				logger.Info("consumer stopped")
				return nil
			case <-ticker.C:
			}
			continue
		case n >= c.batchSize():
			continue
		}

		select {
		case <-ctx.Done():
			logger.Info("consumer stopped")
			return nil
		case <-wake:
		case <-ticker.C:
		}
	}
}
