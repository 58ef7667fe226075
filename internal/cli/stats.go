package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/digestpipe/internal/eventlog"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
}

// groupLag is one consumer group's position relative to its topic.
type groupLag struct {
	eventlog.OffsetInfo
	Lag int64 `json:"lag"`
}

// statsOutput summarizes log and store state.
type statsOutput struct {
	Topics  []eventlog.TopicStats `json:"topics"`
	Groups  []groupLag            `json:"groups"`
	Table   string                `json:"table"`
	Records int                   `json:"records"`
}

func (s statsOutput) String() string {
	var b strings.Builder
	b.WriteString("topics:\n")
	for _, t := range s.Topics {
		fmt.Fprintf(&b, "  %-12s entries=%d high_water=%d\n", t.Topic, t.Entries, t.HighWater)
	}
	b.WriteString("groups:\n")
	for _, g := range s.Groups {
		fmt.Fprintf(&b, "  %s/%s seq=%d lag=%d\n", g.Topic, g.Group, g.Seq, g.Lag)
	}
	fmt.Fprintf(&b, "store: table=%s records=%d", s.Table, s.Records)
	return b.String()
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "stats",
		Short: "Show topic sizes, consumer lag and store size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
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
	topics, err := l.Topics(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read topics", err)
	}
	offsets, err := l.Offsets(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read offsets", err)
	}

	high := make(map[string]int64, len(topics))
	for _, t := range topics {
		high[t.Topic] = t.HighWater
	}
	groups := make([]groupLag, len(offsets))
	for i, o := range offsets {
		groups[i] = groupLag{OffsetInfo: o, Lag: max(high[o.Topic]-o.Seq, 0)}
	}

	records, err := s.Count(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count records", err)
	}

	return opts.formatter(cmd).Success(statsOutput{
		Topics:  topics,
		Groups:  groups,
		Table:   s.Table(),
		Records: records,
	})
}
