package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cyrg/hotdog-etl/internal/logging"
	"github.com/cyrg/hotdog-etl/internal/pipeline"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

var stepSupervised bool

var stepCmd = &cobra.Command{
	Use:   "step <id>",
	Short: "Run a single pipeline step",
	Long: `Run one step standalone against the configured databases. The exit
code is non-zero when the step fails.

Example:
  hotdog-etl step 01
  hotdog-etl step 09b --log-level debug`,
	Args: cobra.ExactArgs(1),
	RunE: runStep,
}

func init() {
	stepCmd.Flags().BoolVar(&stepSupervised, "supervised", false,
		"run under the pipeline executor and report a RESULT line")
	_ = stepCmd.Flags().MarkHidden("supervised")
}

func runStep(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateAnalytics(); err != nil {
		return err
	}

	step, err := steps.Get(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	if stepSupervised {
		// The parent owns interrupts and the timeout
		signal.Ignore(syscall.SIGINT)
	} else {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	logging.Info().
		Str("step", step.ID()).
		Str("step_name", step.Name()).
		Msg("Running step")

	res, runErr := pipeline.RunStep(ctx, step, pipeline.NewEnvFactory(cfg))

	if stepSupervised {
		outcome := pipeline.Outcome{StepID: step.ID(), Result: res}
		if runErr != nil {
			outcome.Error = runErr.Error()
		}
		if err := pipeline.WriteOutcome(cmd.OutOrStdout(), outcome); err != nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("step %s failed: %w", step.ID(), runErr)
	}

	logging.Info().
		Str("step", step.ID()).
		Int64("rows_written", res.RowsWritten).
		Int64("count", res.Count).
		Msg("Step succeeded")
	return nil
}
