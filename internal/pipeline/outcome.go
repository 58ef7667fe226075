package pipeline

import (
	"fmt"
)

// Stage names used in reports, errors, logs and metrics.
const (
	StageProducer  = "producer"
	StageTransform = "transform"
	StageSink      = "sink"
)

// Status is the final state of one record within an invocation.
type Status int

const (
	// StatusSucceeded means the record's side effect happened.
	StatusSucceeded Status = iota + 1

	// StatusDropped means the record was skipped: malformed or not applicable.
	StatusDropped

	// StatusFailed means processing the record failed.
	StatusFailed
)

// String returns the lower-case status name used in logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusDropped:
		return "dropped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// RecordOutcome is the result for one input record.
type RecordOutcome struct {
	// Seq is the log sequence of the input entry (0 for produced records).
	Seq int64

	// Key is the partition key of the input entry.
	Key string

	// ID is the datum id, empty when the record could not be decoded.
	ID string

	Status Status

	// Err explains a dropped or failed record.
	Err error
}

// Report collects the outcomes of one stage invocation.
type Report struct {
	Stage    string
	Outcomes []RecordOutcome
}

func (r Report) count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Attempted returns the number of input records.
func (r Report) Attempted() int { return len(r.Outcomes) }

// Succeeded returns the number of records whose side effect happened.
func (r Report) Succeeded() int { return r.count(StatusSucceeded) }

// Dropped returns the number of skipped records.
func (r Report) Dropped() int { return r.count(StatusDropped) }

// Failed returns the number of failed records.
func (r Report) Failed() int { return r.count(StatusFailed) }

// Summary formats the counters on one line.
func (r Report) Summary() string {
	return fmt.Sprintf("%s: attempted=%d succeeded=%d dropped=%d failed=%d",
		r.Stage, r.Attempted(), r.Succeeded(), r.Dropped(), r.Failed())
}

// Observer receives every finished invocation. err is the error returned by
// the invocation, if any.
type Observer interface {
	ObserveReport(report Report, err error, elapsedSeconds float64)
}

type nopObserver struct{}

func (nopObserver) ObserveReport(Report, error, float64) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
