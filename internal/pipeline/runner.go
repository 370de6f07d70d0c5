package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime/debug"
	"time"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/logging"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

// Status is the final state of a step run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// ErrTimeout marks a step that exceeded its wall-clock budget.
var ErrTimeout = errors.New("step timed out")

// StepReport is the outcome of one step as seen by the executor.
type StepReport struct {
	StepID   string
	StepName string
	Status   Status
	Result   steps.Result
	Err      error
	Duration time.Duration

	// Stdout and Stderr hold output tails in process isolation.
	Stdout string
	Stderr string
}

// Runner runs one step inside an isolation boundary. It never panics and
// reports every failure in the returned report.
type Runner interface {
	Run(ctx context.Context, step steps.Step) StepReport
}

// EnvFactory opens the environment for one step run. The returned func
// releases it and must always be called.
type EnvFactory func(ctx context.Context, step steps.Step) (*steps.Env, func(), error)

// NewEnvFactory returns a factory that opens a fresh gateway per step, so
// no connection outlives the step that opened it.
func NewEnvFactory(cfg *config.Config) EnvFactory {
	return func(ctx context.Context, step steps.Step) (*steps.Env, func(), error) {
		gw := db.NewGateway(cfg)
		env := &steps.Env{
			Gateway:   gw,
			Analytics: cfg.Analytics,
			Now:       time.Now,
			Log:       logging.ForStep(step.ID(), step.Name()),
		}
		release := func() {
			if err := gw.Close(); err != nil {
				logging.Warn().Err(err).Str("step", step.ID()).Msg("Failed to close connections")
			}
		}
		return env, release, nil
	}
}

// RunStep runs a step in the calling goroutine.
func RunStep(ctx context.Context, step steps.Step, newEnv EnvFactory) (steps.Result, error) {
	env, release, err := newEnv(ctx, step)
	if err != nil {
		return steps.Result{}, fmt.Errorf("failed to open step environment: %w", err)
	}
	defer release()
	return step.Run(ctx, env)
}

// InProcRunner runs steps in a supervised goroutine. A panic becomes a
// failure. On timeout the step is reported failed at once; its goroutine
// sees a cancelled context and is left to unwind.
type InProcRunner struct {
	NewEnv  EnvFactory
	Timeout time.Duration
}

type inprocOutcome struct {
	res steps.Result
	err error
}

func (r *InProcRunner) Run(ctx context.Context, step steps.Step) StepReport {
	report := StepReport{StepID: step.ID(), StepName: step.Name()}
	start := time.Now()

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	done := make(chan inprocOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				logging.Error().
					Str("step", step.ID()).
					Str("stack", string(debug.Stack())).
					Msg("Step panicked")
				done <- inprocOutcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := RunStep(ctx, step, r.NewEnv)
		done <- inprocOutcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		report.Result = o.res
		report.Err = o.err
		report.Status = StatusSucceeded
		if o.err != nil {
			report.Status = StatusFailed
			if errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() != nil {
				report.Status = StatusTimeout
				report.Err = fmt.Errorf("%w after %s: %w", ErrTimeout, r.Timeout, o.err)
			}
		}
	case <-ctx.Done():
		report.Status = StatusTimeout
		report.Err = fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
	}

	report.Duration = time.Since(start)
	return report
}

// ProcessRunner runs each step in a child process: the executable is
// invoked with Args followed by "step <id> --supervised". The child prints
// a RESULT line on stdout as its last output.
type ProcessRunner struct {
	Executable string
	Args       []string
	Timeout    time.Duration

	// Env is appended to the parent environment.
	Env []string
}

// NewProcessRunner returns a runner that re-executes the current binary.
func NewProcessRunner(args []string, timeout time.Duration) (*ProcessRunner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ProcessRunner{Executable: exe, Args: args, Timeout: timeout}, nil
}

func (r *ProcessRunner) Run(ctx context.Context, step steps.Step) StepReport {
	report := StepReport{StepID: step.ID(), StepName: step.Name()}
	start := time.Now()

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), r.Args...), "step", step.ID(), "--supervised")
	cmd := exec.CommandContext(ctx, r.Executable, args...)
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.WaitDelay = 5 * time.Second

	stdout := newTailBuffer(TailSize)
	stderr := newTailBuffer(TailSize)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logging.Debug().Str("step", step.ID()).Strs("args", args).Msg("Starting step process")
	runErr := cmd.Run()

	report.Duration = time.Since(start)
	report.Stdout = stdout.String()
	report.Stderr = stderr.String()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		report.Status = StatusTimeout
		report.Err = fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
		return report
	}

	outcome, ok := ParseOutcome(report.Stdout)
	if ok {
		report.Result = outcome.Result
	}

	switch {
	case ok && outcome.Error != "":
		report.Status = StatusFailed
		report.Err = errors.New(outcome.Error)
	case runErr != nil:
		report.Status = StatusFailed
		if tail := lastLine(report.Stderr); tail != "" {
			report.Err = fmt.Errorf("%w: %s", runErr, tail)
		} else {
			report.Err = runErr
		}
	case !ok:
		report.Status = StatusFailed
		report.Err = errors.New("step process exited without a result")
	default:
		report.Status = StatusSucceeded
	}
	return report
}
