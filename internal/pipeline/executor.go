//-------------------------------------------------------------------------
//
// hotdog2030 Warehouse ETL
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package pipeline implements the step executor: it runs the planned steps
// one at a time, each inside an isolation boundary, and summarises the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/cyrg/hotdog-etl/internal/logging"
	"github.com/cyrg/hotdog-etl/internal/steps"
	"github.com/cyrg/hotdog-etl/pkg/version"
)

// ErrStepsFailed is returned by Summary.Err when any step failed.
var ErrStepsFailed = errors.New("pipeline steps failed")

// MetadataStore persists run metadata. *db.Gateway satisfies it.
type MetadataStore interface {
	SaveMetadata(ctx context.Context, values map[string]string) error
}

// Config holds configuration for the executor.
type Config struct {
	Plan     []steps.Step
	Runner   Runner
	Interval time.Duration

	// Metadata receives the run summary. Optional.
	Metadata MetadataStore
}

// Executor runs a pipeline plan.
type Executor struct {
	plan     []steps.Step
	runner   Runner
	interval time.Duration
	metadata MetadataStore
}

// NewExecutor creates a new executor.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	return &Executor{
		plan:     cfg.Plan,
		runner:   cfg.Runner,
		interval: cfg.Interval,
		metadata: cfg.Metadata,
	}, nil
}

// Run executes the plan in order. Step failures never stop the run.
// Cancelling ctx lets the running step finish and starts no further
// steps; they are listed as skipped in the summary.
func (e *Executor) Run(ctx context.Context) *Summary {
	s := &Summary{Started: time.Now()}

	logging.Info().
		Int("steps", len(e.plan)).
		Dur("interval", e.interval).
		Msg("Starting pipeline")

	for i, step := range e.plan {
		if i > 0 && !e.pause(ctx) {
			s.halt(e.plan[i:])
			break
		}
		if ctx.Err() != nil {
			s.halt(e.plan[i:])
			break
		}

		logging.Info().
			Str("step", step.ID()).
			Str("step_name", step.Name()).
			Msg("Running step")

		// The current step always runs to completion or timeout
		report := e.runner.Run(context.WithoutCancel(ctx), step)
		s.Reports = append(s.Reports, report)
		logReport(report)
	}

	s.Duration = time.Since(s.Started)
	s.log()
	e.saveMetadata(ctx, s)
	return s
}

// pause waits between steps and reports false if interrupted.
func (e *Executor) pause(ctx context.Context) bool {
	if e.interval <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(e.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Executor) saveMetadata(ctx context.Context, s *Summary) {
	if e.metadata == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := e.metadata.SaveMetadata(ctx, s.Metadata()); err != nil {
		logging.Warn().Err(err).Msg("Failed to save run metadata")
	}
}

func logReport(r StepReport) {
	event := logging.Info()
	if r.Status != StatusSucceeded {
		event = logging.Error().Err(r.Err)
	}
	event.
		Str("step", r.StepID).
		Str("step_name", r.StepName).
		Str("status", string(r.Status)).
		Int64("rows_written", r.Result.RowsWritten).
		Int64("count", r.Result.Count).
		Dur("duration", r.Duration).
		Msg("Step finished")

	if r.Status != StatusSucceeded && r.Stderr != "" {
		logging.Debug().Str("step", r.StepID).Str("stderr_tail", r.Stderr).Msg("Step output")
	}
}

// Summary describes a pipeline run.
type Summary struct {
	Started     time.Time
	Duration    time.Duration
	Reports     []StepReport
	Interrupted bool

	// Skipped lists steps not started after an interrupt.
	Skipped []string
}

func (s *Summary) halt(rest []steps.Step) {
	s.Interrupted = true
	for _, step := range rest {
		s.Skipped = append(s.Skipped, step.ID())
	}
	logging.Warn().Strs("skipped", s.Skipped).Msg("Pipeline interrupted")
}

// Total returns the number of steps that ran.
func (s *Summary) Total() int {
	return len(s.Reports)
}

// Succeeded returns the number of steps that succeeded.
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Reports {
		if r.Status == StatusSucceeded {
			n++
		}
	}
	return n
}

// Failed returns "id name" for every step that did not succeed.
func (s *Summary) Failed() []string {
	var out []string
	for _, r := range s.Reports {
		if r.Status != StatusSucceeded {
			out = append(out, r.StepID+" "+r.StepName)
		}
	}
	return out
}

// Err returns ErrStepsFailed naming the failed steps, or nil.
func (s *Summary) Err() error {
	failed := s.Failed()
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrStepsFailed, strings.Join(failed, ", "))
}

func (s *Summary) status() string {
	switch {
	case s.Interrupted:
		return "interrupted"
	case len(s.Failed()) > 0:
		return "partial"
	}
	return "ok"
}

// Metadata flattens the summary into run metadata keys.
func (s *Summary) Metadata() map[string]string {
	m := map[string]string{
		"last_run_started":    s.Started.UTC().Format(time.RFC3339),
		"last_run_duration_s": strconv.FormatFloat(s.Duration.Seconds(), 'f', 1, 64),
		"last_run_status":     s.status(),
		"last_run_steps":      strconv.Itoa(s.Total()),
		"last_run_succeeded":  strconv.Itoa(s.Succeeded()),
		"last_run_failed":     strings.Join(s.Failed(), ","),
		"etl_version":         version.Short(),
	}
	for _, r := range s.Reports {
		m["step_"+r.StepID+"_status"] = string(r.Status)
		m["step_"+r.StepID+"_rows_written"] = strconv.FormatInt(r.Result.RowsWritten, 10)
	}
	return m
}

func (s *Summary) log() {
	event := logging.Info()
	if len(s.Failed()) > 0 || s.Interrupted {
		event = logging.Warn()
	}
	event.
		Int("total", s.Total()).
		Int("succeeded", s.Succeeded()).
		Strs("failed", s.Failed()).
		Bool("interrupted", s.Interrupted).
		Dur("duration", s.Duration).
		Msg("Pipeline summary")
}

// Print writes the summary table.
func (s *Summary) Print(w io.Writer) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Step", "Name", "Status", "Read", "Written", "Count", "Duration", "Error"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range s.Reports {
		status := string(r.Status)
		switch r.Status {
		case StatusSucceeded:
			status = green(status)
		case StatusTimeout:
			status = yellow(status)
		default:
			status = red(status)
		}
		errText := ""
		if r.Err != nil {
			errText = truncate(r.Err.Error(), 60)
		}
		table.Append([]string{
			r.StepID,
			r.StepName,
			status,
			strconv.FormatInt(r.Result.RowsRead, 10),
			strconv.FormatInt(r.Result.RowsWritten, 10),
			strconv.FormatInt(r.Result.Count, 10),
			r.Duration.Round(time.Millisecond).String(),
			errText,
		})
	}
	for _, id := range s.Skipped {
		table.Append([]string{id, "", yellow("skipped"), "", "", "", "", ""})
	}
	table.Render()

	fmt.Fprintf(w, "Total: %d  Succeeded: %d  Failed: %d  Wall time: %s\n",
		s.Total(), s.Succeeded(), len(s.Failed()), s.Duration.Round(time.Millisecond))
	if failed := s.Failed(); len(failed) > 0 {
		fmt.Fprintf(w, "Failed steps: %s\n", strings.Join(failed, ", "))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
