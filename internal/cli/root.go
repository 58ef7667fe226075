package cli

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/digestpipe/internal/pipeline"
)

// Error codes for failures that are not pipeline errors.
const (
	CodeCommandError = "COMMAND_ERROR"
	CodeFailure      = "FAILURE"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the digestpipe CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "digestpipe",
		Short: "digestpipe - iterated digest pipeline",
		Long: `An event-driven pipeline that produces documents, computes an iterated
digest over each one, and persists the results keyed by document id.

Stages are connected by a durable ordered log (ingest and result topics)
and write to a key-value store. Each stage can run on its own or all
together with "run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to config file (.yaml or .cue)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewProduceCommand(opts))
	cmd.AddCommand(NewTransformCommand(opts))
	cmd.AddCommand(NewSinkCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	for _, sub := range cmd.Commands() {
		reportErrors(sub, opts)
	}

	return cmd
}

// reportErrors makes a failing command emit the JSON error envelope when
// --format json is set. The error is still returned for the exit code.
func reportErrors(cmd *cobra.Command, opts *RootOptions) {
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err != nil && opts.Format == "json" {
			code, details := describeError(err)
			_ = opts.formatter(cmd).Error(code, err.Error(), details)
		}
		return err
	}
}

// describeError maps err to an error code, using the pipeline code when
// one is present.
func describeError(err error) (string, interface{}) {
	var perr *pipeline.PipelineError
	if errors.As(err, &perr) {
		return string(perr.Code), map[string]string{"stage": perr.Stage}
	}
	if GetExitCode(err) == ExitCommandError {
		return CodeCommandError, nil
	}
	return CodeFailure, nil
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
