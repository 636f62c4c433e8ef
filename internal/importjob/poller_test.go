// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package importjob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"auditctl/cli/internal/backend"
	"auditctl/cli/internal/clock"
	apperrors "auditctl/cli/internal/errors"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one scripted status reply. A non-nil gate delays the reply until closed.
type step struct {
	status backend.ImportStatus
	err    error
	gate   chan struct{}
}

// scriptedAPI replays a fixed start reply and a sequence of status replies.
// The last status step repeats once the script runs out.
type scriptedAPI struct {
	mu          sync.Mutex
	start       backend.ImportStart
	startErr    error
	steps       []step
	statusCalls int
	entered     chan int
}

func (a *scriptedAPI) StartPersonsImport(ctx context.Context) (backend.ImportStart, error) {
	return a.start, a.startErr
}

func (a *scriptedAPI) PersonsImportStatus(ctx context.Context) (backend.ImportStatus, error) {
	a.mu.Lock()
	i := a.statusCalls
	a.statusCalls++
	s := a.steps[min(i, len(a.steps)-1)]
	entered := a.entered
	a.mu.Unlock()

	if entered != nil {
		entered <- i
	}
	if s.gate != nil {
		<-s.gate
	}
	return s.status, s.err
}

func (a *scriptedAPI) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusCalls
}

func loading(progress, total int) step {
	return step{status: backend.ImportStatus{IsLoading: true, Status: backend.ImportLoading, Progress: progress, Total: total}}
}

func finished(status, msg string) step {
	return step{status: backend.ImportStatus{Status: status, Message: msg}}
}

func failure(msg string) step {
	return step{err: apperrors.New(apperrors.ConnectionError, msg)}
}

// events records handler calls.
type events struct {
	mu       sync.Mutex
	states   []State
	progress []JobStatus
	outcomes []Outcome
}

func (e *events) handlers() Handlers {
	return Handlers{
		OnState: func(s State) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.states = append(e.states, s)
		},
		OnProgress: func(s JobStatus) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.progress = append(e.progress, s)
		},
		OnDone: func(o Outcome) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.outcomes = append(e.outcomes, o)
		},
	}
}

func (e *events) snapshot() ([]State, []JobStatus, []Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]State(nil), e.states...), append([]JobStatus(nil), e.progress...), append([]Outcome(nil), e.outcomes...)
}

func newTestPoller(api API, ev *events, opts ...Option) (*Poller, *clock.Fake) {
	clk := clock.NewFake(time.Unix(0, 0))
	opts = append([]Option{WithClock(clk), WithInterval(time.Second)}, opts...)
	return New(api, ev.handlers(), opts...), clk
}

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("poller did not finish, state %s", p.State())
	}
}

func TestPoller_ProgressThenCompleted(t *testing.T) {
	api := &scriptedAPI{
		start: backend.ImportStart{Status: backend.ImportStarted, Message: "Import launched"},
		steps: []step{loading(1, 10), loading(5, 10), finished(backend.ImportCompleted, "Loaded 10 persons")},
	}
	ev := &events{}
	p, clk := newTestPoller(api, ev)

	require.NoError(t, p.Start(context.Background()))
	clk.BlockUntil(1)
	assert.Equal(t, Polling, p.State())

	clk.Advance(time.Second)
	clk.Advance(time.Second)
	assert.Equal(t, Polling, p.State())
	clk.Advance(time.Second)
	waitDone(t, p)

	// Stragglers after the terminal transition change nothing.
	clk.Advance(10 * time.Second)
	p.Stop()

	states, progress, outcomes := ev.snapshot()
	assert.Equal(t, []State{Starting, Polling, Completed}, states)
	require.Len(t, progress, 2)
	assert.Equal(t, 10, progress[0].Percent())
	assert.Equal(t, 50, progress[1].Percent())
	require.Len(t, outcomes, 1)
	assert.Equal(t, Outcome{State: Completed, Message: "Loaded 10 persons"}, outcomes[0])
	assert.Equal(t, 3, api.calls())
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, Completed, p.State())
}

func TestPoller_SkippedAtStartNeverPolls(t *testing.T) {
	api := &scriptedAPI{
		start: backend.ImportStart{Status: backend.ImportSkipped, Message: "CSV has fewer rows than required"},
		steps: []step{loading(1, 1)},
	}
	ev := &events{}
	p, clk := newTestPoller(api, ev)

	require.NoError(t, p.Start(context.Background()))
	waitDone(t, p)
	clk.Advance(5 * time.Second)

	states, progress, outcomes := ev.snapshot()
	assert.Equal(t, []State{Starting, Skipped}, states)
	assert.Empty(t, progress)
	require.Len(t, outcomes, 1)
	assert.Equal(t, Skipped, outcomes[0].State)
	assert.Equal(t, "CSV has fewer rows than required", outcomes[0].Message)
	assert.Equal(t, 0, api.calls())
}

func TestPoller_AttachesToRunningImport(t *testing.T) {
	api := &scriptedAPI{
		start: backend.ImportStart{Status: backend.ImportLoading, Message: "Already loading"},
		steps: []step{loading(3, 4), finished(backend.ImportCompleted, "")},
	}
	ev := &events{}
	p, clk := newTestPoller(api, ev)

	require.NoError(t, p.Start(context.Background()))
	clk.BlockUntil(1)
	clk.Advance(time.Second)
	clk.Advance(time.Second)
	waitDone(t, p)

	states, progress, outcomes := ev.snapshot()
	assert.Equal(t, []State{Starting, AlreadyRunning, Polling, Completed}, states)
	require.Len(t, progress, 1)
	assert.True(t, progress[0].Attached)
	assert.Equal(t, 75, progress[0].Percent())
	require.Len(t, outcomes, 1)
	assert.Equal(t, "Import completed", outcomes[0].Message)
}

func TestPoller_StartFailures(t *testing.T) {
	tests := []struct {
		name    string
		start   backend.ImportStart
		err     error
		wantMsg string
	}{
		{
			name:    "start call error",
			err:     apperrors.New(apperrors.PermissionDenied, "You do not have permission to perform this action."),
			wantMsg: "could not start the import: You do not have permission to perform this action.",
		},
		{
			name:    "unexpected status",
			start:   backend.ImportStart{Status: "queued"},
			wantMsg: `backend answered the start request with unexpected status "queued"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &scriptedAPI{start: tt.start, startErr: tt.err, steps: []step{loading(0, 0)}}
			ev := &events{}
			p, _ := newTestPoller(api, ev)

			require.NoError(t, p.Start(context.Background()))
			waitDone(t, p)

			_, _, outcomes := ev.snapshot()
			require.Len(t, outcomes, 1)
			assert.Equal(t, Failed, outcomes[0].State)
			assert.Equal(t, tt.wantMsg, outcomes[0].Message)
			assert.Equal(t, 0, api.calls())
		})
	}
}

func TestPoller_ServerReportsFailure(t *testing.T) {
	api := &scriptedAPI{
		start: backend.ImportStart{Status: backend.ImportStarted},
		steps: []step{loading(1, 2), finished(backend.ImportFailed, "Row 17: invalid document number")},
	}
	ev := &events{}
	p, clk := newTestPoller(api, ev)

	require.NoError(t, p.Start(context.Background()))
	clk.BlockUntil(1)
	clk.Advance(time.Second)
	clk.Advance(time.Second)
	waitDone(t, p)

	_, _, outcomes := ev.snapshot()
	require.Len(t, outcomes, 1)
	assert.Equal(t, Failed, outcomes[0].State)
	assert.Equal(t, "Row 17: invalid document number", outcomes[0].Message)
	assert.NoError(t, outcomes[0].Err)
}

func TestPoller_TransientFailuresAreBounded(t *testing.T) {
	api := &scriptedAPI{
		start: backend.ImportStart{Status: backend.ImportStarted},
		steps: []step{
			failure("dial tcp: refused"),
			failure("dial tcp: refused"),
			loading(2, 4), // resets the streak
			failure("timeout"),
			failure("timeout"),
			failure("timeout"),
		},
	}
	ev := &events{}
	p, clk := newTestPoller(api, ev, WithMaxFailures(3))

	require.NoError(t, p.Start(context.Background()))
	clk.BlockUntil(1)
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		assert.Equal(t, Polling, p.State(), "after check %d", i+1)
	}
	clk.Advance(time.Second)
	waitDone(t, p)

	_, progress, outcomes := ev.snapshot()
	assert.Len(t, progress, 1)
	require.Len(t, outcomes, 1)
	assert.Equal(t, Failed, outcomes[0].State)
	assert.Contains(t, outcomes[0].Message, "3 failed checks")
	assert.Contains(t, outcomes[0].Message, "timeout")
	assert.True(t, apperrors.Is(outcomes[0].Err, apperrors.ConnectionError))
	assert.Equal(t, 6, api.calls())
}

func TestPoller_StopDiscardsDelayedResponse(t *testing.T) {
	gate := make(chan struct{})
	api := &scriptedAPI{
		start:   backend.ImportStart{Status: backend.ImportStarted},
		steps:   []step{{status: backend.ImportStatus{Status: backend.ImportCompleted}, gate: gate}},
		entered: make(chan int, 4),
	}
	ev := &events{}
	p, clk := newTestPoller(api, ev)

	require.NoError(t, p.Start(context.Background()))
	clk.BlockUntil(1)

	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		clk.Advance(time.Second)
	}()
	<-api.entered // the status request is in flight

	statesBefore, _, _ := ev.snapshot()
	p.Stop()
	close(gate)
	<-advanced
	clk.Advance(10 * time.Second)

	states, progress, outcomes := ev.snapshot()
	assert.Equal(t, statesBefore, states, "no state callbacks after Stop")
	assert.Empty(t, progress)
	assert.Empty(t, outcomes)
	assert.Equal(t, Stopped, p.State())
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, 1, api.calls())
	waitDone(t, p)
}

func TestPoller_StopDisarmsPendingTimer(t *testing.T) {
	api := &scriptedAPI{
		start: backend.ImportStart{Status: backend.ImportStarted},
		steps: []step{loading(1, 2)},
	}
	ev := &events{}
	p, clk := newTestPoller(api, ev)

	require.NoError(t, p.Start(context.Background()))
	clk.BlockUntil(1)
	p.Stop()

	assert.Equal(t, 0, clk.Pending())
	clk.Advance(time.Minute)
	assert.Equal(t, 0, api.calls())
	p.Stop() // idempotent
}

func TestPoller_StartTwice(t *testing.T) {
	api := &scriptedAPI{start: backend.ImportStart{Status: backend.ImportSkipped}, steps: []step{loading(0, 0)}}
	p, _ := newTestPoller(api, &events{})

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
	waitDone(t, p)
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

func TestPoller_StopBeforeStart(t *testing.T) {
	api := &scriptedAPI{start: backend.ImportStart{Status: backend.ImportStarted}, steps: []step{loading(0, 0)}}
	p, _ := newTestPoller(api, &events{})

	p.Stop()
	assert.Equal(t, Stopped, p.State())
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

// blockingAPI answers status checks only when the request context ends.
type blockingAPI struct{}

func (blockingAPI) StartPersonsImport(ctx context.Context) (backend.ImportStart, error) {
	return backend.ImportStart{Status: backend.ImportStarted}, nil
}

func (blockingAPI) PersonsImportStatus(ctx context.Context) (backend.ImportStatus, error) {
	<-ctx.Done()
	return backend.ImportStatus{}, ctx.Err()
}

func TestPoller_ParentContextCancelStops(t *testing.T) {
	ev := &events{}
	p, clk := newTestPoller(blockingAPI{}, ev)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Start(ctx))
	clk.BlockUntil(1)
	go clk.Advance(time.Second)
	cancel()
	waitDone(t, p)

	assert.Eventually(t, func() bool { return p.State() == Stopped }, time.Second, 5*time.Millisecond)
	_, _, outcomes := ev.snapshot()
	assert.Empty(t, outcomes)
}

// blockingStartAPI holds the start call until its context ends.
type blockingStartAPI struct{ entered chan struct{} }

func (a blockingStartAPI) StartPersonsImport(ctx context.Context) (backend.ImportStart, error) {
	close(a.entered)
	<-ctx.Done()
	return backend.ImportStart{}, apperrors.Wrap(apperrors.ConnectionError, "cannot reach the backend", ctx.Err())
}

func (blockingStartAPI) PersonsImportStatus(ctx context.Context) (backend.ImportStatus, error) {
	return backend.ImportStatus{}, nil
}

func TestPoller_ParentContextCancelDuringStart(t *testing.T) {
	api := blockingStartAPI{entered: make(chan struct{})}
	ev := &events{}
	p, _ := newTestPoller(api, ev)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Start(ctx))
	<-api.entered
	cancel()
	waitDone(t, p)

	assert.Eventually(t, func() bool { return p.State() == Stopped }, time.Second, 5*time.Millisecond)
	states, _, outcomes := ev.snapshot()
	assert.Equal(t, []State{Starting}, states)
	assert.Empty(t, outcomes)
}

func TestPoller_LogsElapsedOnFinish(t *testing.T) {
	var buf bytes.Buffer
	api := &scriptedAPI{
		start: backend.ImportStart{Status: backend.ImportStarted},
		steps: []step{loading(1, 2), finished(backend.ImportCompleted, "done")},
	}
	p, clk := newTestPoller(api, &events{}, WithLogger(zerolog.New(&buf)))

	require.NoError(t, p.Start(context.Background()))
	clk.BlockUntil(1)
	clk.Advance(time.Second)
	clk.Advance(time.Second)
	waitDone(t, p)

	var finishedLine map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		if m["message"] == "import finished" {
			finishedLine = m
		}
	}
	require.NotNil(t, finishedLine)
	assert.Equal(t, "completed", finishedLine["state"])
	assert.EqualValues(t, 2000, finishedLine["elapsed"])
}

func TestPoller_SystemClock(t *testing.T) {
	api := &scriptedAPI{
		start: backend.ImportStart{Status: backend.ImportStarted},
		steps: []step{loading(1, 2), finished(backend.ImportCompleted, "done")},
	}
	var (
		mu       sync.Mutex
		outcomes []Outcome
	)
	p := New(api, Handlers{OnDone: func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, o)
	}}, WithInterval(5*time.Millisecond))

	require.NoError(t, p.Start(context.Background()))
	waitDone(t, p)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.Equal(t, Completed, outcomes[0].State)
}

func TestPercent(t *testing.T) {
	tests := []struct {
		progress, total, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{5, -1, 0},
		{0, 10, 0},
		{1, 10, 10},
		{5, 10, 50},
		{1, 3, 33},
		{2, 3, 67},
		{10, 10, 100},
		{15, 10, 100},
		{-3, 10, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.progress, tt.total), "Percent(%d, %d)", tt.progress, tt.total)
	}
}

func TestNewJobStatusClampsNegatives(t *testing.T) {
	s := newJobStatus(Polling, backend.ImportStatus{Progress: -4, Total: -1}, false)
	assert.Equal(t, 0, s.Progress)
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, 0, s.Percent())
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{Skipped, Completed, Failed} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []State{Idle, Starting, AlreadyRunning, Polling, Stopped} {
		assert.False(t, s.Terminal(), s.String())
	}
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, errors.Is(ErrAlreadyStarted, ErrAlreadyStarted))
}
