//-------------------------------------------------------------------------
//
// hotdog2030 Warehouse ETL
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package cli implements the command-line interface for hotdog-etl.
package cli

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/logging"
	"github.com/cyrg/hotdog-etl/internal/steps"
	"github.com/cyrg/hotdog-etl/pkg/version"
)

var (
	// Global flags
	cfgFile  string
	logLevel string

	// Global config
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "hotdog-etl",
		Short: "ETL pipeline for the hotdog2030 retail warehouse",
		Long: `hotdog-etl consolidates the cyrg2025 (POS/ERP) and cyrgweixin
(WeChat mini-program) operational databases into the hotdog2030 analytics
warehouse, then runs customer RFM segmentation, per-store revenue
forecasting, candidate site scoring and alert detection.

Run with no arguments to execute the whole pipeline in order:
  01 orders, 02 order items, 03 stores, 04 products, 05 customers,
  06b operating expenses, 07 RFM, 08 forecast, 09/09b site scoring, 11 alerts

Database connectivity comes from MSSQL_HOST, MSSQL_PORT, MSSQL_USER and
MSSQL_PASS, or from the config file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE:          runPipeline,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./hotdog-etl.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")

	addRunFlags(rootCmd)

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(stepsCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Override with CLI flags
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Reinitialize logger with config
	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.Info())
	},
}

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "List pipeline steps",
	Long: `List every registered step in pipeline order. Only one of the site
scoring steps (09 baseline, 09b gravity) runs in a full pipeline, chosen
by analytics.site_variant.`,
	Run: func(cmd *cobra.Command, args []string) {
		plan, _ := steps.Plan(nil, cfg.Analytics.SiteVariant)
		inPlan := make(map[string]bool, len(plan))
		for _, s := range plan {
			inPlan[s.ID()] = true
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"ID", "Name", "Default", "Description"})
		table.SetAutoWrapText(false)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, s := range steps.All() {
			def := ""
			if inPlan[s.ID()] {
				def = "yes"
			}
			table.Append([]string{s.ID(), s.Name(), def, s.Description()})
		}
		table.Render()
	},
}

// childArgs returns the global flags a supervised step process needs.
func childArgs() []string {
	var args []string
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if cfg != nil && cfg.LogLevel != "" {
		args = append(args, "--log-level", strings.ToLower(cfg.LogLevel))
	}
	return args
}
