package etlsri

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"
)

// TaskState is the final state of a task in a DAG run.
type TaskState string

// Task states.
const (
	TaskSuccess        TaskState = "success"
	TaskFailed         TaskState = "failed"
	TaskUpstreamFailed TaskState = "upstream_failed"
)

// Task is a blocking unit of work of a DAG.
type Task struct {
	ID  string
	Run func(context.Context) error
}

// Plan builds the tasks of one DAG run in execution order.
// cleanup, if not nil, is called when the run finishes, whatever its outcome.
type Plan func(ctx context.Context) (tasks []Task, cleanup func())

// DAG runs a linear chain of tasks. Each task starts only after the previous one succeeded.
// Runs never overlap. The zero value runs no retries and logs to the logger of the run context.
type DAG struct {
	ID          string
	Description string

	// StartDate is the earliest time a run is accepted.
	StartDate time.Time

	// Retries is how many times a task failing with a retryable error is run again,
	// waiting RetryDelay before each retry.
	Retries    int
	RetryDelay time.Duration

	Plan     Plan
	Notifier Notifier

	// Logger defaults to the logger of the context passed to Run.
	Logger *zerolog.Logger

	now     func() time.Time
	sem     *semaphore.Weighted
	semOnce sync.Once
}

// NewDAG builds a DAG with one retry after five minutes.
func NewDAG(id string, plan Plan) *DAG {
	return &DAG{
		ID:         id,
		Retries:    1,
		RetryDelay: 5 * time.Minute,
		Plan:       plan,
		now:        time.Now,
	}
}

// TaskResult is the outcome of a task in a DAG run.
type TaskResult struct {
	ID       string
	State    TaskState
	Attempts int
	Duration time.Duration
	Err      error
}

// RunResult is the outcome of a DAG run.
type RunResult struct {
	DAG      string
	RunID    string
	Started  time.Time
	Finished time.Time
	Tasks    []TaskResult

	// Err is the error of the failed task, if any.
	Err error

	// Report is set by tasks that loaded data.
	Report *Report
}

// Succeeded reports whether every task succeeded.
func (r *RunResult) Succeeded() bool {
	return r.Err == nil
}

// FailedTask returns the ID of the task that failed the run, or "".
func (r *RunResult) FailedTask() string {
	for _, t := range r.Tasks {
		if t.State == TaskFailed {
			return t.ID
		}
	}

	return ""
}

// Run runs every task once, in order. It returns ErrRunInProgress without running anything
// if another run of d has not finished, and ErrBeforeStartDate if called before StartDate.
// The returned error is the error of the failed task.
func (d *DAG) Run(ctx context.Context) (*RunResult, error) {
	sem := d.semaphore()
	if !sem.TryAcquire(1) {
		return nil, xerrors.Errorf("%s: %w", d.ID, ErrRunInProgress)
	}
	defer sem.Release(1)

	now := d.now
	if now == nil {
		now = time.Now
	}

	started := now()
	if started.Before(d.StartDate) {
		return nil, xerrors.Errorf("%s starts at %s: %w", d.ID, d.StartDate.Format(time.RFC3339), ErrBeforeStartDate)
	}

	runID := uuid.NewString()
	base := d.Logger
	if base == nil {
		base = log.Ctx(ctx)
	}
	lg := base.With().Str("dag", d.ID).Str("run_id", runID).Logger()

	res := &RunResult{DAG: d.ID, RunID: runID, Started: started}
	ctx = lg.WithContext(withRunResult(withStartedTime(withRunID(ctx, runID)), res))

	lg.Info().Msg("dag run started")

	tasks, cleanup := d.Plan(ctx)
	if cleanup != nil {
		defer cleanup()
	}

	for _, t := range tasks {
		if res.Err != nil {
			res.Tasks = append(res.Tasks, TaskResult{ID: t.ID, State: TaskUpstreamFailed})
			continue
		}

		tr := d.runTask(ctx, t)
		res.Tasks = append(res.Tasks, tr)
		if tr.Err != nil {
			res.Err = tr.Err
		}
	}

	res.Finished = now()

	if res.Err != nil {
		lg.Error().Err(res.Err).Str("task", res.FailedTask()).Dur("elapsed", elapsed(ctx)).Msg("dag run failed")
	} else {
		lg.Info().Dur("elapsed", elapsed(ctx)).Msg("dag run succeeded")
	}

	d.notify(ctx, res)

	return res, res.Err
}

func (d *DAG) runTask(ctx context.Context, t Task) TaskResult {
	lg := log.Ctx(ctx).With().Str("task", t.ID).Logger()
	ctx = lg.WithContext(ctx)

	tr := TaskResult{ID: t.ID}
	start := time.Now()

	err := retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		tr.Attempts++
		lg.Debug().Int("attempt", tr.Attempts).Msg("task started")

		err := t.Run(ctx)
		if err == nil {
			return nil
		}

		if IsRetryable(err) && tr.Attempts <= d.Retries {
			lg.Warn().Err(err).Int("attempt", tr.Attempts).Dur("retry_delay", d.RetryDelay).Msg("task failed, will retry")
			return retry.RetryableError(err)
		}

		return err
	})

	tr.Duration = time.Since(start)

	if err != nil {
		tr.State = TaskFailed
		tr.Err = xerrors.Errorf("task %s failed after %d attempt(s): %w", t.ID, tr.Attempts, err)
		return tr
	}

	tr.State = TaskSuccess
	lg.Info().Dur("duration", tr.Duration).Msg("task succeeded")

	return tr
}

func (d *DAG) semaphore() *semaphore.Weighted {
	d.semOnce.Do(func() {
		if d.sem == nil {
			d.sem = semaphore.NewWeighted(1)
		}
	})

	return d.sem
}

func (d *DAG) backoff() retry.Backoff {
	delay := d.RetryDelay
	// go-retry panics on non-positive delays.
	if delay <= 0 {
		delay = time.Nanosecond
	}

	retries := d.Retries
	if retries < 0 {
		retries = 0
	}

	return retry.WithMaxRetries(uint64(retries), retry.NewConstant(delay))
}

func (d *DAG) notify(ctx context.Context, res *RunResult) {
	if d.Notifier == nil {
		return
	}

	r := &Result{DAG: d.ID, Run: res}
	if err := d.Notifier.Notify(ctx, r); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to notify")
	}
}

// Task IDs of the catastro DAG.
const (
	TaskStart            = "start"
	TaskDownload         = "download_file_gcs"
	TaskTransformAndLoad = "transform_and_load_bigquery"
	TaskEnd              = "end"
)

// DAGID is the ID of the DAG built by Pipeline.DAG.
const DAGID = "etl_sri_catastro_ruc"

// DAG builds the DAG start -> download -> transform and load -> end.
// start authenticates; the clients are released when the run finishes.
// All DAGs of p share one run slot, so their runs never overlap either.
func (p *Pipeline) DAG() *DAG {
	d := NewDAG(DAGID, p.plan)
	d.Description = "ETL of the SRI RUC catastro from Cloud Storage to BigQuery"
	d.StartDate = p.cfg.StartDate
	d.Retries = p.cfg.Retries
	d.RetryDelay = p.cfg.RetryDelay
	d.Notifier = p.notifier
	d.Logger = &p.logger
	d.now = p.now
	d.sem = p.sem

	return d
}

func (p *Pipeline) plan(_ context.Context) ([]Task, func()) {
	var run *Run

	tasks := []Task{
		{ID: TaskStart, Run: func(ctx context.Context) error {
			r, err := p.Open(ctx)
			if err != nil {
				return err
			}
			run = r
			return nil
		}},
		{ID: TaskDownload, Run: func(ctx context.Context) error {
			return run.Fetch(ctx)
		}},
		{ID: TaskTransformAndLoad, Run: func(ctx context.Context) error {
			return run.TransformAndLoad(ctx)
		}},
		{ID: TaskEnd, Run: func(ctx context.Context) error {
			if rep := run.Report(); rep != nil {
				if res, ok := runResultFrom(ctx); ok {
					res.Report = rep
				}
				log.Ctx(ctx).Info().
					Str("destination", rep.Destination).
					Int("loaded_rows", rep.LoadedRows).
					Int("dropped_rows", rep.DroppedRows).
					Msg("catastro loaded")
			}
			return nil
		}},
	}

	cleanup := func() {
		if run != nil {
			run.Close()
		}
	}

	return tasks, cleanup
}
