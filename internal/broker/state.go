// Package broker implements the broker's single-writer Application
// State: the one logical writer that owns the subscription index,
// retained-message store, persistent-session table, connection
// registry, and registered scripts, serializing every mutation through
// a change-request queue (§4.6).
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/VayuDev/nioev-mqtt/internal/connection"
	"github.com/VayuDev/nioev-mqtt/internal/retained"
	"github.com/VayuDev/nioev-mqtt/internal/script"
	"github.com/VayuDev/nioev-mqtt/internal/session"
	"github.com/VayuDev/nioev-mqtt/internal/subscription"
)

// Mode selects how Submit hands a change to the writer.
type Mode int

const (
	// Async enqueues the change and returns without waiting for it to
	// be applied.
	Async Mode = iota
	// Sync blocks the caller until the writer has applied the change.
	Sync
	// SyncWhenIdle is equivalent to Sync today — reserved for a future
	// optimization that short-circuits onto the caller's own goroutine
	// when the writer is known idle (§4.6).
	SyncWhenIdle
)

// ErrClosed is returned by Submit once the writer's Run loop has
// exited.
var ErrClosed = errors.New("broker: state is closed")

// scriptEntry is one registered script together with the RunType its
// Init chose.
type scriptEntry struct {
	instance script.Script
	runType  script.RunType
}

// envelope pairs a change with an optional completion signal, used by
// Submit(Sync) to block until the writer has applied it.
type envelope struct {
	c    change
	done chan struct{}
}

// State is the broker's single-writer Application State (§4.6). Every
// field below is touched only by the goroutine running Run — readers
// and writers elsewhere communicate exclusively through Submit, never
// by reaching into these fields directly.
type State struct {
	primary chan *envelope

	// internal is the re-entrant queue described in §4.6: apply methods
	// that need to trigger a further state change (retain-on-publish,
	// resubscribe-on-resume, offline-queue replay) append here instead
	// of recursing or sending on primary, which the writer itself is
	// blocked reading from. Drained ahead of primary on every Run
	// iteration. Touched only by the writer goroutine — no lock needed.
	internal []*envelope

	subs          *subscription.Index
	retainedStore *retained.Store
	sessions      *session.Table
	registry      *connection.Registry
	scripts       map[string]*scriptEntry
	scriptRunner  *script.Runner
	scriptPool    *ants.Pool

	closed chan struct{}
}

// NewState builds an empty State. scriptAsyncWorkers bounds the pool
// Async script runs are dispatched through; scriptSyncTimeout bounds
// how long a Sync script may block dispatch before defaulting to
// Continue (§4.7).
func NewState(scriptAsyncWorkers int, scriptSyncTimeout time.Duration) (*State, error) {
	pool, err := ants.NewPool(scriptAsyncWorkers, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &State{
		primary:       make(chan *envelope, 256),
		subs:          subscription.NewIndex(),
		retainedStore: retained.New(),
		sessions:      session.NewTable(),
		registry:      connection.NewRegistry(),
		scripts:       make(map[string]*scriptEntry),
		scriptRunner:  script.NewRunner(pool, scriptSyncTimeout),
		scriptPool:    pool,
		closed:        make(chan struct{}),
	}, nil
}

// Submit hands c to the writer according to mode. Async never blocks
// past the primary channel accepting the send; Sync and SyncWhenIdle
// block until the writer has applied c.
func (s *State) Submit(c change, mode Mode) error {
	if mode == Async {
		env := &envelope{c: c}
		select {
		case s.primary <- env:
			return nil
		case <-s.closed:
			return ErrClosed
		}
	}

	env := &envelope{c: c, done: make(chan struct{})}
	select {
	case s.primary <- env:
	case <-s.closed:
		return ErrClosed
	}
	select {
	case <-env.done:
		return nil
	case <-s.closed:
		return ErrClosed
	}
}

// submitInternal enqueues a follow-up change from within an apply
// method already running on the writer goroutine (§4.6's internal
// queue) — e.g. a retained-store update triggered by a publish, or a
// resubscribe/offline-replay triggered by a session resuming.
func (s *State) submitInternal(c change) {
	s.internal = append(s.internal, &envelope{c: c})
}

// Run is the writer's main loop: it drains the internal queue ahead of
// the primary channel on every iteration, applying exactly one change
// at a time, until ctx is cancelled.
func (s *State) Run(ctx context.Context) {
	defer s.scriptPool.Release()
	defer close(s.closed)

	for {
		if len(s.internal) > 0 {
			env := s.internal[0]
			s.internal = s.internal[1:]
			s.apply(env)
			continue
		}

		select {
		case env := <-s.primary:
			s.apply(env)
		case <-ctx.Done():
			return
		}
	}
}

func (s *State) apply(env *envelope) {
	env.c.apply(s)
	if env.done != nil {
		close(env.done)
	}
}
