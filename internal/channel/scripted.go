package channel

import (
	"context"
	"errors"
	"sync"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// ErrNoAnswer is returned by Scripted when its answers are used up.
var ErrNoAnswer = errors.New("no scripted answer left")

// Scripted answers questions from a fixed list and records everything it
// was asked and told.
type Scripted struct {
	mu            sync.Mutex
	answers       []string
	requests      []ds.InteractionRequest
	notifications []string
}

// NewScripted creates a channel that replies with answers in order.
func NewScripted(answers ...string) *Scripted {
	return &Scripted{answers: answers}
}

// Ask implements dragonscale.Channel.
func (s *Scripted) Ask(ctx context.Context, req ds.InteractionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.answers) == 0 {
		return "", ErrNoAnswer
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

// Notify implements dragonscale.Channel.
func (s *Scripted) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.notifications = append(s.notifications, message)
	s.mu.Unlock()
	return nil
}

// Requests returns the questions asked so far.
func (s *Scripted) Requests() []ds.InteractionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ds.InteractionRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Notifications returns the messages sent so far.
func (s *Scripted) Notifications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// Remaining is the number of unused answers.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}
