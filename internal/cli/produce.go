package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/digestpipe/internal/pipeline"
)

// ProduceOptions holds flags for the produce command.
type ProduceOptions struct {
	*RootOptions
	DocumentLength   int
	TargetIterations int
	BatchSize        int
	Follow           bool
	Interval         time.Duration
}

// produceOutput is the text/JSON result of one produced batch.
type produceOutput struct {
	pipeline.ProduceResult
}

func (o produceOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "requested=%d accepted=%d rejected=%d", o.Requested, o.Accepted, o.Rejected)
	for _, id := range o.IDs {
		fmt.Fprintf(&b, "\n  %s", id)
	}
	return b.String()
}

// NewProduceCommand creates the produce command.
func NewProduceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProduceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Append a batch of random documents to the ingest topic",
		Long: `Generate random alphanumeric documents and append them to the ingest
topic in a single batch keyed by document id.

Parameters outside their valid range fall back to their defaults, exactly
as on the HTTP /produce endpoint.

Examples:
  digestpipe produce --batch-size 10 --target-iterations 500
  digestpipe produce --follow --interval 2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProduce(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.DocumentLength, "document-length", pipeline.DefaultDocumentLength, "characters per document")
	cmd.Flags().IntVar(&opts.TargetIterations, "target-iterations", pipeline.DefaultTargetIterations, "hash rounds per document")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", pipeline.DefaultBatchSize, "documents per batch")
	cmd.Flags().BoolVar(&opts.Follow, "follow", false, "keep producing a batch every --interval until interrupted")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "delay between batches with --follow")

	return cmd
}

// params routes the flag values through the same parsing as HTTP requests.
func (o *ProduceOptions) params() pipeline.Params {
	q := url.Values{}
	q.Set("document_length", strconv.Itoa(o.DocumentLength))
	q.Set("target_iterations", strconv.Itoa(o.TargetIterations))
	q.Set("batch_size", strconv.Itoa(o.BatchSize))
	return pipeline.ParseParams(q)
}

func runProduce(opts *ProduceOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	producer, err := a.newProducer()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	out := opts.formatter(cmd)
	params := opts.params()

	ticker := time.NewTicker(max(opts.Interval, time.Millisecond))
	defer ticker.Stop()

	for {
		res, err := producer.Produce(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return WrapExitError(ExitFailure, "produce failed", err)
		}
		if err := out.Success(produceOutput{res}); err != nil {
			return err
		}

		if !opts.Follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
