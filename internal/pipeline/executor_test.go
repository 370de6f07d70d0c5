package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/steps"
	"github.com/cyrg/hotdog-etl/internal/steps/steptest"
)

type testStep struct {
	id  string
	run func(ctx context.Context, env *steps.Env) (steps.Result, error)
}

func (s *testStep) ID() string          { return s.id }
func (s *testStep) Name() string        { return "test_" + s.id }
func (s *testStep) Description() string { return "test step" }

func (s *testStep) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	return s.run(ctx, env)
}

func ok(id string, written int64) *testStep {
	return &testStep{id: id, run: func(context.Context, *steps.Env) (steps.Result, error) {
		return steps.Result{Table: "t", RowsWritten: written, Count: written}, nil
	}}
}

func fakeEnv(ctx context.Context, step steps.Step) (*steps.Env, func(), error) {
	gw := steptest.NewGateway()
	env := &steps.Env{
		Gateway:   gw,
		Analytics: config.DefaultConfig().Analytics,
		Now:       time.Now,
		Log:       zerolog.Nop(),
	}
	return env, func() {}, nil
}

type memoryStore struct {
	values map[string]string
	err    error
}

func (m *memoryStore) SaveMetadata(ctx context.Context, values map[string]string) error {
	m.values = values
	return m.err
}

func newExecutor(t *testing.T, plan []steps.Step, timeout time.Duration, store MetadataStore) *Executor {
	t.Helper()
	e, err := NewExecutor(Config{
		Plan:     plan,
		Runner:   &InProcRunner{NewEnv: fakeEnv, Timeout: timeout},
		Metadata: store,
	})
	require.NoError(t, err)
	return e
}

func TestFailuresAreNonFatal(t *testing.T) {
	plan := []steps.Step{
		ok("01", 10),
		&testStep{id: "02", run: func(context.Context, *steps.Env) (steps.Result, error) {
			return steps.Result{}, errors.New("source unavailable")
		}},
		&testStep{id: "03", run: func(context.Context, *steps.Env) (steps.Result, error) {
			panic("boom")
		}},
		ok("04", 5),
	}
	store := &memoryStore{}

	s := newExecutor(t, plan, time.Second, store).Run(context.Background())

	require.Equal(t, 4, s.Total())
	assert.Equal(t, 2, s.Succeeded())
	assert.Equal(t, []string{"02 test_02", "03 test_03"}, s.Failed())
	assert.Equal(t, StatusFailed, s.Reports[1].Status)
	assert.Equal(t, StatusFailed, s.Reports[2].Status)
	assert.Contains(t, s.Reports[2].Err.Error(), "panic: boom")
	assert.Equal(t, StatusSucceeded, s.Reports[3].Status)
	assert.False(t, s.Interrupted)

	err := s.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepsFailed))

	assert.Equal(t, "partial", store.values["last_run_status"])
	assert.Equal(t, "4", store.values["last_run_steps"])
	assert.Equal(t, "2", store.values["last_run_succeeded"])
	assert.Equal(t, "failed", store.values["step_03_status"])
	assert.Equal(t, "10", store.values["step_01_rows_written"])
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	plan := []steps.Step{
		&testStep{id: "08", run: func(ctx context.Context, env *steps.Env) (steps.Result, error) {
			<-release
			return steps.Result{}, nil
		}},
		ok("09", 1),
	}

	start := time.Now()
	s := newExecutor(t, plan, 50*time.Millisecond, nil).Run(context.Background())

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, 2, s.Total())
	assert.Equal(t, StatusTimeout, s.Reports[0].Status)
	assert.True(t, errors.Is(s.Reports[0].Err, ErrTimeout))
	assert.Equal(t, StatusSucceeded, s.Reports[1].Status)
}

func TestContextAwareTimeout(t *testing.T) {
	plan := []steps.Step{
		&testStep{id: "08", run: func(ctx context.Context, env *steps.Env) (steps.Result, error) {
			<-ctx.Done()
			return steps.Result{}, fmt.Errorf("fetch: %w", ctx.Err())
		}},
	}

	s := newExecutor(t, plan, 20*time.Millisecond, nil).Run(context.Background())
	require.Equal(t, 1, s.Total())
	assert.Equal(t, StatusTimeout, s.Reports[0].Status)
}

func TestInterruptFinishesCurrentStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawCancel bool
	plan := []steps.Step{
		&testStep{id: "01", run: func(stepCtx context.Context, env *steps.Env) (steps.Result, error) {
			cancel()
			time.Sleep(10 * time.Millisecond)
			sawCancel = stepCtx.Err() != nil
			return steps.Result{RowsWritten: 3}, nil
		}},
		ok("02", 1),
		ok("03", 1),
	}
	store := &memoryStore{}

	s := newExecutor(t, plan, time.Second, store).Run(ctx)

	assert.False(t, sawCancel, "running step must not see the interrupt")
	require.Equal(t, 1, s.Total())
	assert.Equal(t, StatusSucceeded, s.Reports[0].Status)
	assert.True(t, s.Interrupted)
	assert.Equal(t, []string{"02", "03"}, s.Skipped)
	assert.NoError(t, s.Err())
	assert.Equal(t, "interrupted", store.values["last_run_status"])
}

func TestIntervalInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	plan := []steps.Step{
		&testStep{id: "01", run: func(context.Context, *steps.Env) (steps.Result, error) {
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
			return steps.Result{}, nil
		}},
		ok("02", 1),
	}
	e, err := NewExecutor(Config{
		Plan:     plan,
		Runner:   &InProcRunner{NewEnv: fakeEnv, Timeout: time.Second},
		Interval: time.Minute,
	})
	require.NoError(t, err)

	start := time.Now()
	s := e.Run(ctx)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, s.Total())
	assert.Equal(t, []string{"02"}, s.Skipped)
}

func TestMetadataFailureIsWarning(t *testing.T) {
	store := &memoryStore{err: errors.New("warehouse down")}
	s := newExecutor(t, []steps.Step{ok("01", 1)}, time.Second, store).Run(context.Background())
	assert.Equal(t, 1, s.Succeeded())
	assert.NoError(t, s.Err())
	assert.Equal(t, "ok", store.values["last_run_status"])
}

func TestNewExecutorRequiresRunner(t *testing.T) {
	_, err := NewExecutor(Config{})
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	s := &Summary{
		Duration: 1500 * time.Millisecond,
		Reports: []StepReport{
			{StepID: "01", StepName: "orders", Status: StatusSucceeded, Result: steps.Result{RowsRead: 12, RowsWritten: 10, Count: 10}},
			{StepID: "08", StepName: "sales_forecast", Status: StatusTimeout, Err: ErrTimeout},
		},
		Skipped:     []string{"09b"},
		Interrupted: true,
	}

	var buf bytes.Buffer
	s.Print(&buf)
	out := buf.String()

	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "sales_forecast")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "Total: 2  Succeeded: 1  Failed: 1")
	assert.Contains(t, out, "Failed steps: 08 sales_forecast")
}

func TestRunStepReleasesEnv(t *testing.T) {
	released := false
	factory := func(ctx context.Context, step steps.Step) (*steps.Env, func(), error) {
		env, _, _ := fakeEnv(ctx, step)
		return env, func() { released = true }, nil
	}
	_, err := RunStep(context.Background(), &testStep{id: "01", run: func(context.Context, *steps.Env) (steps.Result, error) {
		return steps.Result{}, errors.New("failed")
	}}, factory)
	assert.Error(t, err)
	assert.True(t, released)
}
