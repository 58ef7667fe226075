package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/digestpipe/internal/datum"
	"github.com/roach88/digestpipe/internal/eventlog"
	"github.com/roach88/digestpipe/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
}

// inspectEntry is one log entry for the inspected id.
type inspectEntry struct {
	Topic  string `json:"topic"`
	Seq    int64  `json:"seq"`
	Digest string `json:"digest,omitempty"`
	Error  string `json:"error,omitempty"`
}

// inspectOutput traces one id through the pipeline.
type inspectOutput struct {
	ID      string         `json:"id"`
	Entries []inspectEntry `json:"entries"`
	Stored  *store.Record  `json:"stored,omitempty"`
}

func (o inspectOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", o.ID)
	for _, e := range o.Entries {
		switch {
		case e.Error != "":
			fmt.Fprintf(&b, "  %s #%d: undecodable (%s)\n", e.Topic, e.Seq, e.Error)
		case e.Digest != "":
			fmt.Fprintf(&b, "  %s #%d: digest %s\n", e.Topic, e.Seq, e.Digest)
		default:
			fmt.Fprintf(&b, "  %s #%d: pending\n", e.Topic, e.Seq)
		}
	}
	if o.Stored != nil {
		fmt.Fprintf(&b, "stored: %d iterations, digest %s", o.Stored.TargetIterations, o.Stored.Digest)
	} else {
		b.WriteString("stored: no")
	}
	return b.String()
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <id>",
		Short: "Show every log entry and the stored record for a document id",
		Long: `Trace a document id through the pipeline: its entries on the ingest
and result topics, and the record in the store if the sink wrote one.

Exit codes:
  0 - id found in the log or the store
  1 - id not found anywhere
  2 - command error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd, args[0])
		},
	}
	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command, id string) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.openLog()
	if err != nil {
		return err
	}
	s, err := a.openStore()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := inspectOutput{ID: id, Entries: []inspectEntry{}}

	for _, topic := range []string{a.cfg.Topics.Ingest, a.cfg.Topics.Result} {
		entries, err := l.ReadByKey(ctx, topic, id)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read log", err)
		}
		for _, e := range entries {
			out.Entries = append(out.Entries, describeEntry(a.codec, e))
		}
	}

	rec, err := s.Get(ctx, id)
	switch {
	case err == nil:
		out.Stored = &rec
	case !errors.Is(err, store.ErrNotFound):
		return WrapExitError(ExitCommandError, "failed to read store", err)
	}

	if len(out.Entries) == 0 && out.Stored == nil {
		return NewExitError(ExitFailure, fmt.Sprintf("id %q not found", id))
	}
	return opts.formatter(cmd).Success(out)
}

func describeEntry(codec datum.Codec, e eventlog.Entry) inspectEntry {
	ie := inspectEntry{Topic: e.Topic, Seq: e.Seq}
	d, err := codec.Decode(e.Payload)
	if err != nil {
		ie.Error = err.Error()
		return ie
	}
	ie.Digest = d.DigestValue()
	return ie
}
