package script

import "sync"

// Handle is the single-shot rendezvous a Sync script's dispatch blocks
// on: the dispatcher calls Wait, the script's Output calls SetAction
// zero or more times and then exactly one of Success/Error, which
// unblocks Wait. This replaces a condition-variable-plus-captured-
// callback design with one explicit awaitable value.
type Handle struct {
	done chan struct{}

	mu       sync.Mutex
	action   SyncAction
	err      error
	finished bool
}

// NewHandle returns a fresh, unsignaled Handle.
func NewHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// SetAction records the script's current verdict. Safe to call
// multiple times before Success/Error; only the last call before the
// finishing signal matters.
func (h *Handle) SetAction(action SyncAction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.finished {
		h.action = action
	}
}

// Success signals that the script completed normally.
func (h *Handle) Success() {
	h.finish(nil)
}

// Error signals that the script failed; Wait's caller still receives
// whatever SyncAction was last set.
func (h *Handle) Error(err error) {
	h.finish(err)
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Done returns the channel that closes when the script signals
// completion, for callers that want to select on it directly.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the signaled action and error. Only meaningful after
// Done has closed.
func (h *Handle) Result() (SyncAction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.action, h.err
}
