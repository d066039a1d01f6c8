package etlsri

import (
	"context"
	"time"
)

type contextKey string

const (
	startedTimeKey contextKey = "startedTime"
	runIDKey       contextKey = "runID"
	runResultKey   contextKey = "runResult"
)

func withStartedTime(ctx context.Context) context.Context {
	return context.WithValue(ctx, startedTimeKey, time.Now())
}

func startedTimeFrom(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startedTimeKey).(time.Time)
	return t, ok
}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFrom returns the ID of the run ctx belongs to.
func RunIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok
}

func elapsed(ctx context.Context) time.Duration {
	t, ok := startedTimeFrom(ctx)
	if !ok {
		return 0
	}

	return time.Since(t)
}

func withRunResult(ctx context.Context, res *RunResult) context.Context {
	return context.WithValue(ctx, runResultKey, res)
}

func runResultFrom(ctx context.Context) (*RunResult, bool) {
	res, ok := ctx.Value(runResultKey).(*RunResult)
	return res, ok
}
