// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package importjob drives the persons CSV import: one start call followed by
// fixed-period status checks until the backend reports a terminal state.
//
// Checks never overlap. The next one is scheduled only after the current one
// settles. A generation counter captured at dispatch makes any response that
// arrives after Stop, or after the terminal transition, a no-op.
package importjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"auditctl/cli/internal/backend"
	"auditctl/cli/internal/clock"
	apperrors "auditctl/cli/internal/errors"

	"github.com/rs/zerolog"
)

// Defaults for the polling loop.
const (
	DefaultInterval    = time.Second
	DefaultMaxFailures = 5
)

// ErrAlreadyStarted is returned when Start is called on a poller that left Idle.
var ErrAlreadyStarted = errors.New("import poller already started")

// API is the pair of backend calls the poller depends on. *backend.Admin satisfies it.
type API interface {
	StartPersonsImport(ctx context.Context) (backend.ImportStart, error)
	PersonsImportStatus(ctx context.Context) (backend.ImportStatus, error)
}

// Handlers receive poller events. Calls are serialized and never made after
// Stop returns. Handlers must not call Stop themselves.
type Handlers struct {
	// OnState is called on every state change.
	OnState func(State)
	// OnProgress is called for every in-progress status snapshot.
	OnProgress func(JobStatus)
	// OnDone is called exactly once when a terminal state is reached.
	OnDone func(Outcome)
}

// Outcome is the final report of a run.
type Outcome struct {
	State   State
	Message string
	// Err is the last error for failures caused by the client side, nil otherwise.
	Err error
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option { return func(p *Poller) { p.clock = c } }

// WithInterval sets the delay between a settled check and the next one.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxFailures sets how many consecutive failed checks end the run.
func WithMaxFailures(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxFailures = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Poller) { p.log = l } }

// Poller tracks a single import run. It is not reusable; create one per run.
type Poller struct {
	api         API
	h           Handlers
	clock       clock.Clock
	interval    time.Duration
	maxFailures int
	log         zerolog.Logger

	// emitMu serializes handler calls with the state checks guarding them.
	// Lock order: emitMu before mu.
	emitMu sync.Mutex

	mu       sync.Mutex
	state    State
	started  bool
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	timer    clock.Timer
	failures int
	last     JobStatus
	began    time.Time

	done     chan struct{}
	doneOnce sync.Once
}

// New creates an idle poller.
func New(api API, h Handlers, opts ...Option) *Poller {
	p := &Poller{
		api:         api,
		h:           h,
		clock:       clock.System{},
		interval:    DefaultInterval,
		maxFailures: DefaultMaxFailures,
		log:         zerolog.Nop(),
		cancel:      func() {},
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status returns the most recent job snapshot.
func (p *Poller) Status() JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Done is closed once the poller reaches a terminal state or is stopped.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Start issues the start call asynchronously and returns immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.state != Idle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.gen++
	gen := p.gen
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.began = p.clock.Now()
	p.mu.Unlock()

	p.advance(gen, Starting, nil)
	go p.runStart(gen)
	return nil
}

// Stop cancels the run. Once it returns the timer is disarmed, in-flight
// requests are cancelled and no handler will be called again.
// Stopping a finished or already stopped poller is a no-op.
func (p *Poller) Stop() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Terminal() || p.state == Stopped {
		return
	}
	p.gen++
	p.disarmLocked()
	p.cancel()
	p.state = Stopped
	p.closeDone()
	p.log.Debug().Msg("import poller stopped")
}

func (p *Poller) runStart(gen uint64) {
	ctx := p.context()
	resp, err := p.api.StartPersonsImport(ctx)
	if p.stale(gen) {
		return
	}
	if ctx.Err() != nil {
		p.Stop()
		return
	}
	if err != nil {
		p.log.Warn().Err(err).Msg("import start failed")
		p.finish(gen, Failed, "could not start the import: "+apperrors.MessageOf(err), err)
		return
	}

	p.log.Info().Str("status", resp.Status).Str("message", resp.Message).Msg("import start acknowledged")
	switch resp.Status {
	case backend.ImportStarted:
		p.beginPolling(gen, JobStatus{State: Polling, Message: resp.Message})
	case backend.ImportLoading:
		if !p.advance(gen, AlreadyRunning, nil) {
			return
		}
		p.beginPolling(gen, JobStatus{State: Polling, Message: resp.Message, Attached: true})
	case backend.ImportSkipped:
		p.finish(gen, Skipped, resp.Message, nil)
	default:
		p.finish(gen, Failed, fmt.Sprintf("backend answered the start request with unexpected status %q", resp.Status), nil)
	}
}

func (p *Poller) beginPolling(gen uint64, initial JobStatus) {
	p.mu.Lock()
	if p.gen == gen {
		p.last = initial
	}
	p.mu.Unlock()
	if !p.advance(gen, Polling, nil) {
		return
	}
	p.schedule(gen)
}

func (p *Poller) schedule(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	p.timer = p.clock.AfterFunc(p.interval, func() { p.tick(gen) })
}

func (p *Poller) tick(gen uint64) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	ctx := p.ctx
	attached := p.last.Attached
	p.mu.Unlock()

	st, err := p.api.PersonsImportStatus(ctx)
	if p.stale(gen) {
		return
	}
	if ctx.Err() != nil {
		// The caller's context ended; treat it as a stop.
		p.Stop()
		return
	}

	if err != nil {
		p.mu.Lock()
		p.failures++
		n := p.failures
		p.mu.Unlock()
		p.log.Warn().Err(err).Int("consecutive_failures", n).Msg("import status check failed")
		if n >= p.maxFailures {
			p.finish(gen, Failed, fmt.Sprintf("lost connection while checking import status (%d failed checks): %s", n, apperrors.MessageOf(err)), err)
			return
		}
		p.schedule(gen)
		return
	}

	snap := newJobStatus(Polling, st, attached)
	p.mu.Lock()
	p.failures = 0
	if p.gen == gen {
		p.last = snap
	}
	p.mu.Unlock()

	if st.IsLoading {
		if !p.advance(gen, Polling, &snap) {
			return
		}
		p.schedule(gen)
		return
	}

	switch st.Status {
	case backend.ImportCompleted:
		p.finish(gen, Completed, orDefault(st.Message, "Import completed"), nil)
	case backend.ImportFailed:
		p.finish(gen, Failed, orDefault(st.Message, "Import failed"), nil)
	default:
		p.log.Debug().Str("status", st.Status).Msg("import not loading and not finished; polling again")
		p.schedule(gen)
	}
}

// advance moves to next and emits the matching events if gen is current.
func (p *Poller) advance(gen uint64, next State, progress *JobStatus) bool {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return false
	}
	changed := p.state != next
	p.state = next
	p.mu.Unlock()

	if changed && p.h.OnState != nil {
		p.h.OnState(next)
	}
	if progress != nil && p.h.OnProgress != nil {
		p.h.OnProgress(*progress)
	}
	return true
}

// finish performs the single terminal transition and reports it.
func (p *Poller) finish(gen uint64, state State, message string, err error) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.gen != gen || p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.gen++ // stragglers from this run are now stale
	p.disarmLocked()
	p.cancel()
	p.last.State = state
	p.last.Message = message
	elapsed := p.clock.Now().Sub(p.began)
	p.mu.Unlock()

	p.log.Info().Str("state", state.String()).Str("message", message).Dur("elapsed", elapsed).Msg("import finished")
	if p.h.OnState != nil {
		p.h.OnState(state)
	}
	if p.h.OnDone != nil {
		p.h.OnDone(Outcome{State: state, Message: message, Err: err})
	}
	p.closeDone()
}

func (p *Poller) stale(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen != gen
}

func (p *Poller) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

func (p *Poller) disarmLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Poller) closeDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
