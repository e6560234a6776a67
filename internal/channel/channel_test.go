package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

func TestTerminal_AskReadsOneLinePerQuestion(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("12\n  a few  \n"), &out, WithPrompt(true))
	ctx := context.Background()

	first, err := term.Ask(ctx, ds.InteractionRequest{Message: "what length?"})
	if err != nil || first != "12" {
		t.Fatalf("first = %q, %v", first, err)
	}
	second, err := term.Ask(ctx, ds.InteractionRequest{Message: "how many?", ExpectedType: "int"})
	if err != nil || second != "a few" {
		t.Fatalf("second = %q, %v", second, err)
	}
	if _, err := term.Ask(ctx, ds.InteractionRequest{Message: "more?"}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("expected ErrChannelClosed, got %v", err)
	}
	written := out.String()
	for _, want := range []string{"what length?", "how many?", "> "} {
		if !strings.Contains(written, want) {
			t.Errorf("output missing %q:\n%s", want, written)
		}
	}
}

func TestTerminal_AskHonorsCancellation(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	term := NewTerminal(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := term.Ask(ctx, ds.InteractionRequest{Message: "anyone?"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The line typed after the timeout goes to the next question.
	go func() { _, _ = w.Write([]byte("late\n")) }()
	got, err := term.Ask(context.Background(), ds.InteractionRequest{Message: "again?"})
	if err != nil || got != "late" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestTerminal_Notify(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(""), &out)
	if err := term.Notify(context.Background(), "We have 14 screws of 12 mm."); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !strings.Contains(out.String(), "We have 14 screws of 12 mm.") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestScripted(t *testing.T) {
	s := NewScripted("12")
	ctx := context.Background()
	got, err := s.Ask(ctx, ds.InteractionRequest{Message: "what length?", Slot: "length"})
	if err != nil || got != "12" {
		t.Fatalf("Ask = %q, %v", got, err)
	}
	if _, err := s.Ask(ctx, ds.InteractionRequest{Message: "again?"}); !errors.Is(err, ErrNoAnswer) {
		t.Errorf("expected ErrNoAnswer, got %v", err)
	}
	_ = s.Notify(ctx, "done")
	if len(s.Requests()) != 2 || s.Requests()[0].Slot != "length" || s.Notifications()[0] != "done" || s.Remaining() != 0 {
		t.Errorf("unexpected record: %+v %v", s.Requests(), s.Notifications())
	}
}
