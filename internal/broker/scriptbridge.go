package broker

import (
	"context"
	"errors"

	"github.com/VayuDev/nioev-mqtt/internal/logger"
	"github.com/VayuDev/nioev-mqtt/internal/script"
)

// ErrAbortPublish is returned by ScriptSubscriber.Deliver when a Sync
// script's SyncAction verdict was AbortPublish — dispatchPublish
// recognizes it to stop fanning the triggering publish out to any
// later subscriber and to skip the retained-store update.
var ErrAbortPublish = errors.New("publish aborted by script")

// deliverToScript runs entry's script against one matching publish and
// turns its verdict into a Deliver-shaped return.
func (s *State) deliverToScript(name, topic string, payload []byte, retained bool) error {
	entry, ok := s.scripts[name]
	if !ok {
		return nil
	}

	action, err := s.scriptRunner.Dispatch(context.Background(), entry.instance, entry.runType,
		script.RunInput{Topic: topic, Payload: payload, Retained: retained},
		func(h *script.Handle) script.Output {
			return &queuedOutput{state: s, scriptName: name, handle: h}
		})
	if err != nil {
		logger.WarnF("script %q: %v", name, err)
	}
	if action == script.AbortPublish {
		return ErrAbortPublish
	}
	return nil
}

// directOutput is the script.Output handed to a script's Init. Init
// runs synchronously, on the writer goroutine, while AddScriptReq.apply
// is already executing — so directOutput applies each callback's
// effect immediately via the same change.apply methods Submit would
// eventually reach, instead of going through the primary queue a
// channel send there would never drain (the writer is the queue's only
// reader, and it's busy running this very call).
type directOutput struct {
	state      *State
	scriptName string
}

func (o *directOutput) Publish(topic string, payload []byte, qos byte, retain bool) {
	(&PublishReq{Topic: topic, Payload: payload, QoS: toQoS(qos), Retain: retain}).apply(o.state)
}

func (o *directOutput) Subscribe(topic string) {
	sub := &ScriptSubscriber{state: o.state, name: o.scriptName}
	(&SubscribeReq{Subscriber: sub, Filter: topic}).apply(o.state)
}

func (o *directOutput) Unsubscribe(topic string) {
	sub := &ScriptSubscriber{state: o.state, name: o.scriptName}
	(&UnsubscribeReq{Subscriber: sub, Filter: topic}).apply(o.state)
}

func (o *directOutput) Error(message string) {
	logger.WarnF("script %q: %s", o.scriptName, message)
}

// SyncAction and Success are no-ops during Init: nothing is blocked
// waiting on a rendezvous, since Init's caller isn't dispatching a
// publish.
func (o *directOutput) SyncAction(script.SyncAction) {}
func (o *directOutput) Success()                     {}

// queuedOutput is the script.Output handed to a script's Run. Run
// executes on its own goroutine (script.Runner.Dispatch starts it with
// `go s.Run(...)`, or hands it to the async pool), so unlike
// directOutput it must go through the ordinary Submit(..., Async) path
// rather than calling apply directly — this goroutine is not the
// writer and must not touch broker state itself.
type queuedOutput struct {
	state      *State
	scriptName string
	// handle is non-nil only for a Sync script's run; an Async run's
	// SyncAction/Success/Error calls have nothing to rendezvous with,
	// since the dispatcher already returned Continue without waiting.
	handle *script.Handle
}

func (o *queuedOutput) Publish(topic string, payload []byte, qos byte, retain bool) {
	_ = o.state.Submit(&PublishReq{Topic: topic, Payload: payload, QoS: toQoS(qos), Retain: retain}, Async)
}

func (o *queuedOutput) Subscribe(topic string) {
	sub := &ScriptSubscriber{state: o.state, name: o.scriptName}
	_ = o.state.Submit(&SubscribeReq{Subscriber: sub, Filter: topic}, Async)
}

func (o *queuedOutput) Unsubscribe(topic string) {
	sub := &ScriptSubscriber{state: o.state, name: o.scriptName}
	_ = o.state.Submit(&UnsubscribeReq{Subscriber: sub, Filter: topic}, Async)
}

func (o *queuedOutput) Error(message string) {
	logger.WarnF("script %q: %s", o.scriptName, message)
	if o.handle != nil {
		o.handle.Error(errors.New(message))
	}
}

func (o *queuedOutput) SyncAction(action script.SyncAction) {
	if o.handle != nil {
		o.handle.SetAction(action)
	}
}

func (o *queuedOutput) Success() {
	if o.handle != nil {
		o.handle.Success()
	}
}
