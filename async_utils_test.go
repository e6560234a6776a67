package dragonscale

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/channel"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/demo"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

func TestRunAsync_Success(t *testing.T) {
	e := newEngine(t, demo.NewRobotArm(nil), WithChannel(channel.NewScripted("12")))
	s := newSession(t, e)

	id, err := e.RunAsync(context.Background(), s, Request{DSL: `retrieve_screw(count=2, length=ASK("length?"))`})
	if err != nil {
		t.Fatalf("RunAsync failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := e.WaitAsync(ctx, id)
	if err != nil {
		t.Fatalf("WaitAsync failed: %v", err)
	}
	expectResults(t, r, "Retrieved 2 screws of length 12. Remaining: 12")

	status, err := e.GetAsyncStatus(id)
	if err != nil {
		t.Fatalf("GetAsyncStatus failed: %v", err)
	}
	if !status.IsComplete || status.HasError || status.SessionID != s.ID() {
		t.Errorf("unexpected status %+v", status)
	}
	if got := e.ListAsyncSessions()[id]; got != string(StateComplete) {
		t.Errorf("listed state = %q", got)
	}
	if n := e.CleanupCompletedSessions(0); n != 1 {
		t.Errorf("cleaned up %d runs, want 1", n)
	}
	if _, err := e.GetAsyncStatus(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRunAsync_Cancel(t *testing.T) {
	e := newEngine(t, demo.NewRobotArm(nil), WithChannel(blockingChannel{}))
	s := newSession(t, e)

	id, err := e.RunAsync(context.Background(), s, Request{DSL: `retrieve_screw(count=2, length=ASK("length?"))`})
	if err != nil {
		t.Fatalf("RunAsync failed: %v", err)
	}
	if _, err := e.GetAsyncReport(id); !errors.Is(err, ErrSessionRunning) {
		t.Errorf("expected ErrSessionRunning, got %v", err)
	}
	cancelled, err := e.CancelAsyncSession(id)
	if err != nil || !cancelled {
		t.Fatalf("CancelAsyncSession = %v, %v", cancelled, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := e.WaitAsync(ctx, id)
	if !ds.HasCode(err, ds.ErrCodeCancelled) {
		t.Fatalf("expected a cancellation error, got %v", err)
	}
	if r.State != StateCancelled {
		t.Errorf("state = %s, want cancelled", r.State)
	}
	if again, _ := e.CancelAsyncSession(id); again {
		t.Error("a finished run cannot be cancelled again")
	}
	if n := e.CleanupCompletedSessions(time.Hour); n != 0 {
		t.Errorf("recent runs must be kept, cleaned %d", n)
	}
}

func TestRunAsync_Errors(t *testing.T) {
	e := newEngine(t, demo.NewRobotArm(nil))
	s := newSession(t, e)
	if _, err := e.RunAsync(context.Background(), s, Request{}); !ds.HasCode(err, ds.ErrCodeContract) {
		t.Errorf("expected a contract error, got %v", err)
	}
	if _, err := e.GetAsyncReport("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := e.CancelAsyncSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
