package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/digestpipe/internal/pipeline"
)

// StageOptions holds flags for the transform and sink commands.
type StageOptions struct {
	*RootOptions
	Once bool
}

// drainOutput reports a --once run.
type drainOutput struct {
	Stage     string `json:"stage"`
	Topic     string `json:"topic"`
	Group     string `json:"group"`
	Delivered int    `json:"delivered"`
}

func (o drainOutput) String() string {
	return fmt.Sprintf("%s: delivered %d entries from %s (group %s)", o.Stage, o.Delivered, o.Topic, o.Group)
}

// NewTransformCommand creates the transform command.
func NewTransformCommand(rootOpts *RootOptions) *cobra.Command {
	return newStageCommand(rootOpts, pipeline.StageTransform,
		"Digest ingested documents and forward them to the result topic",
		`Consume the ingest topic, compute the iterated digest of every document,
and append the hashed records to the result topic.

Without --once the command follows the topic until interrupted.

Examples:
  digestpipe transform
  digestpipe transform --once --config pipeline.yaml`,
		(*app).newTransformConsumer,
	)
}

// NewSinkCommand creates the sink command.
func NewSinkCommand(rootOpts *RootOptions) *cobra.Command {
	return newStageCommand(rootOpts, pipeline.StageSink,
		"Persist hashed documents into the store",
		`Consume the result topic and upsert every hashed record into the store,
keyed by document id.

Without --once the command follows the topic until interrupted.

Examples:
  digestpipe sink
  digestpipe sink --once`,
		(*app).newSinkConsumer,
	)
}

func newStageCommand(rootOpts *RootOptions, stage, short, long string, build func(*app) (*pipeline.Consumer, error)) *cobra.Command {
	opts := &StageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   stage,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(opts, cmd, stage, build)
		},
	}
	cmd.Flags().BoolVar(&opts.Once, "once", false, "process everything pending, then exit")
	return cmd
}

func runStage(opts *StageOptions, cmd *cobra.Command, stage string, build func(*app) (*pipeline.Consumer, error)) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	consumer, err := build(a)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	if !opts.Once {
		if err := consumer.Run(ctx); err != nil {
			return WrapExitError(ExitFailure, stage+" failed", err)
		}
		return nil
	}

	out := opts.formatter(cmd)
	n, err := drain(ctx, consumer, out)
	if err != nil {
		return WrapExitError(ExitFailure, stage+" failed", err)
	}
	return out.Success(drainOutput{
		Stage:     stage,
		Topic:     consumer.Topic,
		Group:     consumer.Group,
		Delivered: n,
	})
}
