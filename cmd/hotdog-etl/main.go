// Package main is the entry point for hotdog-etl.
package main

import (
	"fmt"
	"os"

	"github.com/cyrg/hotdog-etl/internal/cli"

	// Register pipeline steps
	_ "github.com/cyrg/hotdog-etl/internal/steps/alerts"
	_ "github.com/cyrg/hotdog-etl/internal/steps/finance"
	_ "github.com/cyrg/hotdog-etl/internal/steps/forecast"
	_ "github.com/cyrg/hotdog-etl/internal/steps/ingest"
	_ "github.com/cyrg/hotdog-etl/internal/steps/segment"
	_ "github.com/cyrg/hotdog-etl/internal/steps/sitescore"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
