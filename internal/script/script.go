// Package script implements the broker's embedded script runtime: a
// registered script subscribes to a set of topics and, on each
// matching publish, can itself publish, (un)subscribe, or — if it
// runs synchronously — veto the delivery outright.
package script

// RunType is decided once, at a script's Init, and fixed for the
// script's lifetime.
type RunType int

const (
	// Sync scripts block the publishing dispatch until they signal
	// Success or Error, and may veto delivery via SyncAction.
	Sync RunType = iota
	// Async scripts run concurrently with dispatch and can never veto
	// a publish — by the time they act, delivery has already happened.
	Async
)

func (t RunType) String() string {
	if t == Async {
		return "ASYNC"
	}
	return "SYNC"
}

// InitResult is what a script's Init returns: just its chosen RunType.
type InitResult struct {
	RunType RunType
}

// SyncAction is the verdict a Sync script's Output.SyncAction callback
// reports before it calls Success, deciding whether the publish that
// triggered this run proceeds to connection subscribers and the
// retained store.
type SyncAction int

const (
	// Continue lets the triggering publish proceed normally. This is
	// also the default if a Sync script calls Success without ever
	// calling SyncAction.
	Continue SyncAction = iota
	// AbortPublish suppresses delivery to every connection subscriber
	// and any retained-store update for the triggering publish (§4.6).
	AbortPublish
)

// RunInput is the per-invocation data handed to a script's Run.
type RunInput struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Output is the set of callbacks a running script can invoke. The
// broker supplies the concrete implementation, translating each call
// into a broker-queue change request so a script never mutates broker
// state directly from its own goroutine.
type Output interface {
	Publish(topic string, payload []byte, qos byte, retain bool)
	Subscribe(topic string)
	Unsubscribe(topic string)
	Error(message string)
	SyncAction(action SyncAction)
	Success()
}

// Script is implemented by one registered script. Init runs once, at
// registration, and is given an Output so the script can place its
// initial subscriptions before any publish arrives; Run executes once
// per matching publish. ForceQuit tells the script its registration
// is being torn down (replaced or the broker is shutting down); the
// broker may destroy the Script value as soon as ForceQuit returns
// (§6 external collaborators contract).
type Script interface {
	Name() string
	Init(out Output) InitResult
	Run(input RunInput, out Output)
	ForceQuit()
}
