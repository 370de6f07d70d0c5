package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/logging"
	"github.com/cyrg/hotdog-etl/internal/schema"
)

var bootstrapStrict bool

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the analytical tables and views",
	Long: `Run the schema bootstrapper against the hotdog2030 warehouse. The
script is split on GO lines and each batch runs on its own; a failed
batch is logged and the rest still run.

Example:
  hotdog-etl bootstrap
  hotdog-etl bootstrap --strict`,
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().BoolVar(&bootstrapStrict, "strict", false,
		"exit non-zero when any batch fails")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StepTimeout())
	defer cancel()

	gw := db.NewGateway(cfg)
	defer gw.Close()

	report, err := schema.Bootstrap(ctx, gw)
	if err != nil {
		return err
	}

	for _, f := range report.Failed {
		logging.Warn().Err(f.Err).Int("batch", f.Index).Msg("Batch failed")
	}
	cmd.Printf("Schema bootstrap (%s): %d of %d batches executed in %s\n",
		report.Dialect, report.Executed, report.Batches, report.Duration.Round(time.Millisecond))

	if bootstrapStrict && len(report.Failed) > 0 {
		return fmt.Errorf("%d schema batches failed", len(report.Failed))
	}
	return nil
}
