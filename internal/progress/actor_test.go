package progress

import (
	"errors"
	"testing"
	"time"
)

func newTestActor(t *testing.T) *Actor {
	t.Helper()
	a := NewActor("run-1", "acct-1", "acme_corp", "standard", 11)
	t.Cleanup(a.Shutdown)
	return a
}

func TestActorInitialState(t *testing.T) {
	a := newTestActor(t)
	state, err := a.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Status != StatePending {
		t.Fatalf("status: got %q want %q", state.Status, StatePending)
	}
	if state.Progress != 0 {
		t.Fatalf("progress: got %d want 0", state.Progress)
	}
	if state.RunID != "run-1" || state.AccountID != "acct-1" {
		t.Fatalf("identity: %+v", state)
	}
}

func TestActorProgressMonotonic(t *testing.T) {
	a := newTestActor(t)
	if err := a.Update("fetch_subject", 40); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := a.Update("run_checks", 20); err != nil {
		t.Fatalf("update: %v", err)
	}
	state, _ := a.Get()
	if state.Progress != 40 {
		t.Fatalf("progress must not decrease: got %d want 40", state.Progress)
	}
	if state.CurrentStep != "run_checks" {
		t.Fatalf("step should still advance: got %q", state.CurrentStep)
	}
	if state.Status != StateProcessing {
		t.Fatalf("status: got %q", state.Status)
	}
}

func TestActorCompleteSetsHundred(t *testing.T) {
	a := newTestActor(t)
	if err := a.Update("score", 60); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := a.Complete("abcd1234"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	state, _ := a.Get()
	if state.Status != StateComplete || state.Progress != 100 {
		t.Fatalf("terminal state: %+v", state)
	}
	if state.ResultDigest != "abcd1234" {
		t.Fatalf("digest: got %q", state.ResultDigest)
	}
	if state.CompletedAt == nil {
		t.Fatal("completedAt should be set")
	}
}

func TestActorUpdateAfterCancelRejected(t *testing.T) {
	a := newTestActor(t)
	if err := a.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := a.Update("score", 50); !errors.Is(err, ErrCancelled) {
		t.Fatalf("update after cancel: got %v want ErrCancelled", err)
	}
	if err := a.Complete("x"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("complete after cancel: got %v want ErrCancelled", err)
	}
}

func TestActorCancelAfterCompleteRejected(t *testing.T) {
	a := newTestActor(t)
	if err := a.Complete(""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := a.Cancel(); !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("cancel after complete: got %v want ErrAlreadyComplete", err)
	}
}

func TestActorCancelIdempotent(t *testing.T) {
	a := newTestActor(t)
	if err := a.Cancel(); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := a.Cancel(); err != nil {
		t.Fatalf("second cancel should be a no-op: %v", err)
	}
}

func TestActorFailRecordsMessage(t *testing.T) {
	a := newTestActor(t)
	if err := a.Fail("scoring provider unavailable"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	state, _ := a.Get()
	if state.Status != StateFailed {
		t.Fatalf("status: got %q", state.Status)
	}
	if state.ErrorMessage != "scoring provider unavailable" {
		t.Fatalf("message: got %q", state.ErrorMessage)
	}
	if state.Progress == 100 {
		t.Fatal("progress 100 is reserved for complete")
	}
}

func TestSubscribeSnapshotFirstThenUpdates(t *testing.T) {
	a := newTestActor(t)
	events, unsubscribe, err := a.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	first := recvEvent(t, events)
	if first.Kind != EventReady {
		t.Fatalf("first event: got %q want %q", first.Kind, EventReady)
	}
	if first.State.Status != StatePending {
		t.Fatalf("snapshot status: got %q", first.State.Status)
	}

	if err := a.Update("fetch_subject", 25); err != nil {
		t.Fatalf("update: %v", err)
	}
	evt := recvEvent(t, events)
	if evt.Kind != EventProgress || evt.State.Progress != 25 {
		t.Fatalf("progress event: %+v", evt)
	}
}

func TestSubscribeClosesAfterTerminalEvent(t *testing.T) {
	a := newTestActor(t)
	events, unsubscribe, err := a.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	recvEvent(t, events) // ready

	if err := a.Complete("digest"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	evt := recvEvent(t, events)
	if evt.Kind != EventComplete {
		t.Fatalf("terminal event: got %q", evt.Kind)
	}
	select {
	case _, open := <-events:
		if open {
			t.Fatal("stream should close after terminal event")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not close after terminal event")
	}
}

func TestSubscribeToTerminalActorDeliversSnapshotAndCloses(t *testing.T) {
	a := newTestActor(t)
	if err := a.Fail("boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	events, unsubscribe, err := a.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	evt := recvEvent(t, events)
	if evt.Kind != EventReady || evt.State.Status != StateFailed {
		t.Fatalf("snapshot: %+v", evt)
	}
	select {
	case _, open := <-events:
		if open {
			t.Fatal("stream for terminal actor should close after snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not close")
	}
}

func recvEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case evt, open := <-events:
		if !open {
			t.Fatal("stream closed unexpectedly")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}
