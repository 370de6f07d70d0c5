package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/logging"
	"github.com/cyrg/hotdog-etl/internal/pipeline"
	"github.com/cyrg/hotdog-etl/internal/schema"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

var (
	runSteps         []string
	runIsolation     string
	runTimeout       int
	runInterval      int
	runFailOnError   bool
	runSkipBootstrap bool
	runSiteVariant   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ETL pipeline",
	Long: `Run the pipeline steps in order. Each step runs inside an isolation
boundary with a wall-clock timeout; a failed step is reported and the
pipeline moves on to the next one.

Isolation Modes:
  process - each step runs in a child process (default)
  inproc  - each step runs in a supervised goroutine

Ctrl+C lets the running step finish and stops before the next one.

Example:
  hotdog-etl run
  hotdog-etl run --steps 01,02,07 --isolation inproc
  hotdog-etl run --site-variant baseline --fail-on-error`,
	RunE: runPipeline,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&runSteps, "steps", nil,
		"comma-separated step IDs to run (default: full pipeline)")
	cmd.Flags().StringVar(&runIsolation, "isolation", "",
		"step isolation: process or inproc")
	cmd.Flags().IntVar(&runTimeout, "timeout", 0,
		"per-step timeout in seconds (default: 300)")
	cmd.Flags().IntVar(&runInterval, "interval", -1,
		"pause between steps in seconds (default: 2)")
	cmd.Flags().BoolVar(&runFailOnError, "fail-on-error", false,
		"exit non-zero when any step fails")
	cmd.Flags().BoolVar(&runSkipBootstrap, "skip-bootstrap", false,
		"do not run the schema bootstrapper before the first step")
	cmd.Flags().StringVar(&runSiteVariant, "site-variant", "",
		"site scoring step to run: baseline (09) or gravity (09b)")
}

func applyRunFlags() {
	if len(runSteps) > 0 {
		cfg.Pipeline.Steps = runSteps
	}
	if runIsolation != "" {
		cfg.Pipeline.Isolation = runIsolation
	}
	if runTimeout > 0 {
		cfg.Pipeline.StepTimeout = runTimeout
	}
	if runInterval >= 0 {
		cfg.Pipeline.StepInterval = runInterval
	}
	if runFailOnError {
		cfg.Pipeline.FailOnError = true
	}
	if runSkipBootstrap {
		cfg.Pipeline.Bootstrap = false
	}
	if runSiteVariant != "" {
		cfg.Analytics.SiteVariant = runSiteVariant
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	applyRunFlags()

	// Validate configuration
	if err := cfg.ValidateRun(); err != nil {
		return err
	}

	plan, err := steps.Plan(cfg.Pipeline.Steps, cfg.Analytics.SiteVariant)
	if err != nil {
		return err
	}

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logging.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal, finishing current step")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Pipeline.Bootstrap {
		bootstrapWarehouse(ctx)
	}

	runner, err := newRunner(cfg)
	if err != nil {
		return err
	}

	executor, err := pipeline.NewExecutor(pipeline.Config{
		Plan:     plan,
		Runner:   runner,
		Interval: cfg.StepInterval(),
		Metadata: metadataSaver{cfg: cfg},
	})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	logging.Info().
		Str("isolation", cfg.Pipeline.Isolation).
		Dur("step_timeout", cfg.StepTimeout()).
		Str("site_variant", cfg.Analytics.SiteVariant).
		Msg("Starting ETL pipeline")

	summary := executor.Run(ctx)
	summary.Print(cmd.OutOrStdout())

	if cfg.Pipeline.FailOnError {
		return summary.Err()
	}
	return nil
}

func newRunner(cfg *config.Config) (pipeline.Runner, error) {
	if cfg.Pipeline.Isolation == config.IsolationInProc {
		return &pipeline.InProcRunner{
			NewEnv:  pipeline.NewEnvFactory(cfg),
			Timeout: cfg.StepTimeout(),
		}, nil
	}
	return pipeline.NewProcessRunner(childArgs(), cfg.StepTimeout())
}

// bootstrapWarehouse runs the schema bootstrapper. Problems are logged;
// the steps report their own failures if the schema is unusable.
func bootstrapWarehouse(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cfg.StepTimeout())
	defer cancel()

	gw := db.NewGateway(cfg)
	defer gw.Close()

	if _, err := schema.Bootstrap(ctx, gw); err != nil {
		logging.Error().Err(err).Msg("Schema bootstrap failed")
	}
}

// metadataSaver opens its own warehouse connection for each save.
type metadataSaver struct {
	cfg *config.Config
}

func (m metadataSaver) SaveMetadata(ctx context.Context, values map[string]string) error {
	gw := db.NewGateway(m.cfg)
	defer gw.Close()

	values["run_finished_at"] = time.Now().UTC().Format(time.RFC3339)
	return gw.SaveMetadata(ctx, values)
}
