package etlsri

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/xerrors"
)

func newTestDAG(tasks ...Task) *DAG {
	d := NewDAG("test", func(context.Context) ([]Task, func()) {
		return tasks, nil
	})
	d.RetryDelay = time.Millisecond

	return d
}

func TestDAG_Run(t *testing.T) {
	t.Parallel()

	var order []string
	task := func(id string) Task {
		return Task{ID: id, Run: func(ctx context.Context) error {
			if _, ok := RunIDFrom(ctx); !ok {
				t.Errorf("%s: run ID should be in context", id)
			}
			order = append(order, id)
			return nil
		}}
	}

	d := newTestDAG(task("a"), task("b"), task("c"))

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("tasks should run in order, but %v", order)
	}

	if !res.Succeeded() || res.FailedTask() != "" || res.RunID == "" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestDAG_Run_retry(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		retries  int
		attempts int
	}{
		{name: "remote", err: remoteError(StageFetch, xerrors.New("503")), retries: 1, attempts: 2},
		{name: "remote without retries", err: remoteError(StageFetch, xerrors.New("503")), retries: 0, attempts: 1},
		{name: "remote with more retries", err: remoteError(StageFetch, xerrors.New("503")), retries: 3, attempts: 4},
		{name: "data", err: dataError(StageTransform, xerrors.New("bad csv")), retries: 1, attempts: 1},
		{name: "config", err: configError(StageAuthenticate, ErrCredentials), retries: 1, attempts: 1},
		{name: "unclassified", err: xerrors.New("boom"), retries: 1, attempts: 1},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			attempts := 0
			after := 0
			d := newTestDAG(
				Task{ID: "failing", Run: func(context.Context) error {
					attempts++
					return c.err
				}},
				Task{ID: "after", Run: func(context.Context) error {
					after++
					return nil
				}},
			)
			d.Retries = c.retries

			res, err := d.Run(context.Background())
			if !xerrors.Is(err, c.err) {
				t.Fatalf("expected %v, but %v", c.err, err)
			}

			if attempts != c.attempts || res.Tasks[0].Attempts != c.attempts {
				t.Errorf("expected %d attempts, but %d", c.attempts, attempts)
			}

			if after != 0 || res.Tasks[1].State != TaskUpstreamFailed {
				t.Errorf("downstream task should not run: %+v", res.Tasks[1])
			}
		})
	}
}

func TestDAG_Run_retrySucceeds(t *testing.T) {
	t.Parallel()

	attempts := 0
	d := newTestDAG(Task{ID: "flaky", Run: func(context.Context) error {
		attempts++
		if attempts == 1 {
			return remoteError(StageFetch, xerrors.New("connection reset"))
		}
		return nil
	}})

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Tasks[0].State != TaskSuccess || res.Tasks[0].Attempts != 2 {
		t.Errorf("unexpected task result: %+v", res.Tasks[0])
	}
}

func TestDAG_Run_noOverlap(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})

	d := newTestDAG(Task{ID: "slow", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := d.Run(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()

	<-started

	if _, err := d.Run(context.Background()); !xerrors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, but %v", err)
	}

	close(release)
	wg.Wait()
}

func TestDAG_Run_beforeStartDate(t *testing.T) {
	t.Parallel()

	ran := false
	d := newTestDAG(Task{ID: "a", Run: func(context.Context) error {
		ran = true
		return nil
	}})
	d.StartDate = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC) }

	if _, err := d.Run(context.Background()); !xerrors.Is(err, ErrBeforeStartDate) {
		t.Errorf("expected ErrBeforeStartDate, but %v", err)
	}

	if ran {
		t.Error("no task should run before the start date")
	}
}

func TestDAG_Run_cleanup(t *testing.T) {
	t.Parallel()

	cleaned := 0
	d := NewDAG("test", func(context.Context) ([]Task, func()) {
		return []Task{{ID: "a", Run: func(context.Context) error {
			return dataError(StageTransform, ErrNoHeader)
		}}}, func() { cleaned++ }
	})

	if _, err := d.Run(context.Background()); err == nil {
		t.Fatal("expected error but no error occurred")
	}

	if cleaned != 1 {
		t.Errorf("cleanup should run once after a failed run, but %d", cleaned)
	}
}

func TestDAG_Run_notifierFailure(t *testing.T) {
	t.Parallel()

	d := newTestDAG(Task{ID: "a", Run: func(context.Context) error { return nil }})
	d.Notifier = notifierFunc(func(context.Context, *Result) error {
		return xerrors.New("slack down")
	})

	if _, err := d.Run(context.Background()); err != nil {
		t.Errorf("notification failures should not fail the run, but %v", err)
	}
}

type notifierFunc func(context.Context, *Result) error

func (f notifierFunc) Notify(ctx context.Context, r *Result) error {
	return f(ctx, r)
}

func TestDAG_Run_zeroValue(t *testing.T) {
	t.Parallel()

	ran := 0
	d := &DAG{ID: "literal", Plan: func(context.Context) ([]Task, func()) {
		return []Task{{ID: "a", Run: func(context.Context) error {
			ran++
			return nil
		}}}, nil
	}}

	for i := 0; i < 2; i++ {
		res, err := d.Run(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !res.Succeeded() || res.Started.IsZero() {
			t.Errorf("unexpected result: %+v", res)
		}
	}

	if ran != 2 {
		t.Errorf("expected 2 runs, but %d", ran)
	}
}

func TestDAG_Run_zeroValueNoRetry(t *testing.T) {
	t.Parallel()

	attempts := 0
	d := &DAG{ID: "literal", Plan: func(context.Context) ([]Task, func()) {
		return []Task{{ID: "a", Run: func(context.Context) error {
			attempts++
			return remoteError(StageFetch, xerrors.New("503"))
		}}}, nil
	}}

	if _, err := d.Run(context.Background()); err == nil {
		t.Fatal("expected error but no error occurred")
	}

	if attempts != 1 {
		t.Errorf("zero value should not retry, but %d attempts", attempts)
	}
}
