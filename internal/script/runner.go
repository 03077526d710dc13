package script

import (
	"context"
	"time"
)

// asyncSubmitter is satisfied by *ants.Pool; declared locally so this
// package depends only on the one method it calls.
type asyncSubmitter interface {
	Submit(task func()) error
}

// Runner dispatches one script invocation at a time on behalf of the
// broker writer: Sync scripts block the caller up to syncTimeout,
// Async scripts are handed to a bounded pool and never block.
type Runner struct {
	pool        asyncSubmitter
	syncTimeout time.Duration
}

// NewRunner returns a Runner that submits Async script runs to pool
// and bounds every Sync script run to syncTimeout.
func NewRunner(pool asyncSubmitter, syncTimeout time.Duration) *Runner {
	return &Runner{pool: pool, syncTimeout: syncTimeout}
}

// Dispatch runs s.Run(input, ...) according to runType.
//
// For Async, it submits the run to the pool and returns immediately
// with Continue — an async script can never veto, so dispatch doesn't
// wait to find out what it eventually does (§4.7).
//
// For Sync, it runs s.Run on its own goroutine and blocks on the
// returned Handle for up to syncTimeout. A script that never signals
// Success/Error within the deadline defaults to Continue so one
// unresponsive script can't wedge every publish forever — the
// caller's err return reports the timeout so it can be logged
// (§9 "Sync-script timeout").
func (r *Runner) Dispatch(ctx context.Context, s Script, runType RunType, input RunInput, newOutput func(*Handle) Output) (SyncAction, error) {
	if runType == Async {
		out := newOutput(nil)
		err := r.pool.Submit(func() {
			s.Run(input, out)
		})
		return Continue, err
	}

	handle := NewHandle()
	out := newOutput(handle)
	go s.Run(input, out)

	waitCtx, cancel := context.WithTimeout(ctx, r.syncTimeout)
	defer cancel()

	select {
	case <-handle.Done():
		action, err := handle.Result()
		return action, err
	case <-waitCtx.Done():
		return Continue, waitCtx.Err()
	}
}
