package jobs_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-pipeline/internal/jobs"
	"github.com/albapepper/scoracle-pipeline/internal/logging"
)

func newRegistry(t *testing.T) *jobs.Registry {
	t.Helper()
	r := jobs.NewRegistry(time.Minute, logging.NewNop())
	t.Cleanup(r.Close)
	return r
}

// drain collects events until the channel closes.
func drain(t *testing.T, sub *jobs.Subscription) []jobs.Event {
	t.Helper()
	var out []jobs.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("subscription never closed")
		}
	}
}

func types(events []jobs.Event) []jobs.EventType {
	out := make([]jobs.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestRegistry_LiveEventsThenDone(t *testing.T) {
	r := newRegistry(t)
	release := make(chan struct{})

	info := r.Start("sync", map[string]any{"entity": "game"}, func(ctx context.Context, report jobs.Reporter) (any, error) {
		report.Progress(map[string]int{"pages": 1})
		<-release
		report.Progress(map[string]int{"pages": 2})
		return map[string]int{"upserted": 10}, nil
	})
	assert.Equal(t, jobs.StatusRunning, info.Status)
	assert.Len(t, info.ID, 36)

	sub, err := r.Subscribe(info.ID)
	require.NoError(t, err)
	close(release)

	events := drain(t, sub)
	assert.Equal(t, []jobs.EventType{jobs.EventProgress, jobs.EventProgress, jobs.EventComplete, jobs.EventDone}, types(events))
	assert.Equal(t, map[string]int{"upserted": 10}, events[2].Data)

	got, err := r.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, map[string]int{"pages": 2}, got.Progress)
	require.NotNil(t, got.FinishedAt)
}

func TestRegistry_SubscribeAfterFinishReplays(t *testing.T) {
	r := newRegistry(t)
	info := r.Start("backfill", nil, func(ctx context.Context, report jobs.Reporter) (any, error) {
		report.Progress("half")
		return nil, errors.New("provider down")
	})

	first, err := r.Subscribe(info.ID)
	require.NoError(t, err)
	drain(t, first)

	sub, err := r.Subscribe(info.ID)
	require.NoError(t, err)
	events := drain(t, sub)
	assert.Equal(t, []jobs.EventType{jobs.EventProgress, jobs.EventError, jobs.EventDone}, types(events))
	assert.Equal(t, map[string]any{"error": "provider down"}, events[1].Data)

	got, err := r.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, "provider down", got.Error)
}

func TestRegistry_UnsubscribeClosesHandle(t *testing.T) {
	r := newRegistry(t)
	info := r.Start("sync", nil, func(ctx context.Context, report jobs.Reporter) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	sub, err := r.Subscribe(info.ID)
	require.NoError(t, err)
	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Empty(t, drain(t, sub))

	require.NoError(t, r.Cancel(info.ID))
	other, err := r.Subscribe(info.ID)
	require.NoError(t, err)
	events := drain(t, other)
	require.NotEmpty(t, events)
	assert.Equal(t, jobs.EventDone, events[len(events)-1].Type)
}

func TestRegistry_PanicBecomesError(t *testing.T) {
	r := newRegistry(t)
	info := r.Start("sync", nil, func(ctx context.Context, report jobs.Reporter) (any, error) {
		panic("boom")
	})
	sub, err := r.Subscribe(info.ID)
	require.NoError(t, err)
	events := drain(t, sub)
	assert.Equal(t, []jobs.EventType{jobs.EventError, jobs.EventDone}, types(events))
}

func TestRegistry_GCAfterRetention(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := jobs.NewRegistry(5*time.Minute, logging.NewNop()).WithClock(func() time.Time { return now })
	t.Cleanup(r.Close)

	done := r.Start("sync", nil, func(ctx context.Context, report jobs.Reporter) (any, error) { return "ok", nil })
	sub, err := r.Subscribe(done.ID)
	require.NoError(t, err)
	drain(t, sub)

	block := make(chan struct{})
	running := r.Start("sync", nil, func(ctx context.Context, report jobs.Reporter) (any, error) {
		<-block
		return nil, nil
	})
	defer close(block)

	assert.Zero(t, r.GC())
	assert.Len(t, r.List(), 2)

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, r.GC())

	_, err = r.Get(done.ID)
	assert.True(t, errors.Is(err, jobs.ErrNotFound))
	_, err = r.Get(running.ID)
	assert.NoError(t, err, "running jobs are never collected")
}

func TestRegistry_UnknownJob(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Subscribe("nope")
	assert.True(t, errors.Is(err, jobs.ErrNotFound))
	assert.True(t, errors.Is(r.Cancel("nope"), jobs.ErrNotFound))
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jobs.WriteSSE(&buf, jobs.Event{Type: jobs.EventProgress, Data: map[string]int{"pages": 3}}))
	assert.Equal(t, "event: progress\ndata: {\"pages\":3}\n\n", buf.String())
}
