package script

import (
	"context"
	"testing"
	"time"
)

type inlinePool struct{}

func (inlinePool) Submit(task func()) error {
	task()
	return nil
}

type scriptFunc struct {
	name string
	run  func(RunInput, Output)
}

func (s *scriptFunc) Name() string                { return s.name }
func (s *scriptFunc) Init(Output) InitResult      { return InitResult{} }
func (s *scriptFunc) Run(in RunInput, out Output) { s.run(in, out) }
func (s *scriptFunc) ForceQuit()                  {}

type recordingOutput struct {
	handle *Handle
}

func (o *recordingOutput) Publish(topic string, payload []byte, qos byte, retain bool) {}
func (o *recordingOutput) Subscribe(topic string)                                      {}
func (o *recordingOutput) Unsubscribe(topic string)                                    {}
func (o *recordingOutput) Error(message string) {
	if o.handle != nil {
		o.handle.Error(nil)
	}
}
func (o *recordingOutput) SyncAction(action SyncAction) {
	if o.handle != nil {
		o.handle.SetAction(action)
	}
}
func (o *recordingOutput) Success() {
	if o.handle != nil {
		o.handle.Success()
	}
}

func TestRunnerSyncAbort(t *testing.T) {
	s := &scriptFunc{name: "gate", run: func(in RunInput, out Output) {
		out.SyncAction(AbortPublish)
		out.Success()
	}}
	r := NewRunner(inlinePool{}, time.Second)

	action, err := r.Dispatch(context.Background(), s, Sync, RunInput{Topic: "gate/open"}, func(h *Handle) Output {
		return &recordingOutput{handle: h}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != AbortPublish {
		t.Fatalf("expected AbortPublish, got %v", action)
	}
}

func TestRunnerSyncContinueByDefault(t *testing.T) {
	s := &scriptFunc{name: "noop", run: func(in RunInput, out Output) {
		out.Success()
	}}
	r := NewRunner(inlinePool{}, time.Second)

	action, err := r.Dispatch(context.Background(), s, Sync, RunInput{}, func(h *Handle) Output {
		return &recordingOutput{handle: h}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != Continue {
		t.Fatalf("expected Continue, got %v", action)
	}
}

func TestRunnerSyncTimeoutDefaultsToContinue(t *testing.T) {
	s := &scriptFunc{name: "slow", run: func(in RunInput, out Output) {
		// Never signals; simulates an unresponsive script.
		time.Sleep(time.Hour)
	}}
	r := NewRunner(inlinePool{}, 10*time.Millisecond)

	action, err := r.Dispatch(context.Background(), s, Sync, RunInput{}, func(h *Handle) Output {
		return &recordingOutput{handle: h}
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if action != Continue {
		t.Fatalf("expected default Continue on timeout, got %v", action)
	}
}

func TestRunnerAsyncNeverBlocksOrVetoes(t *testing.T) {
	ran := make(chan struct{})
	s := &scriptFunc{name: "logger", run: func(in RunInput, out Output) {
		out.SyncAction(AbortPublish) // ignored: async can never veto
		out.Success()
		close(ran)
	}}
	r := NewRunner(inlinePool{}, time.Second)

	action, err := r.Dispatch(context.Background(), s, Async, RunInput{}, func(h *Handle) Output {
		return &recordingOutput{handle: h}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != Continue {
		t.Fatalf("expected Async dispatch to always report Continue, got %v", action)
	}
	<-ran
}
