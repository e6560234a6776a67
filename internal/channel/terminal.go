// Package channel implements the interactive channel to the user: one
// question out, one line back.
package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// ErrChannelClosed is returned once the input stream has ended.
var ErrChannelClosed = errors.New("interactive channel closed")

// Terminal is a line-based channel over a reader and a writer.
type Terminal struct {
	reader *bufio.Reader
	out    *termenv.Output
	prompt bool

	lines     chan lineResult
	startOnce sync.Once
	writeMu   sync.Mutex
}

type lineResult struct {
	text string
	err  error
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithPrompt forces the "> " input prompt on or off. By default it is shown
// only when the input is a terminal.
func WithPrompt(show bool) TerminalOption {
	return func(t *Terminal) {
		t.prompt = show
	}
}

// NewTerminal creates a channel over r and w; nil means stdin and stdout.
func NewTerminal(r io.Reader, w io.Writer, opts ...TerminalOption) *Terminal {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	t := &Terminal{
		reader: bufio.NewReader(r),
		out:    termenv.NewOutput(w),
	}
	if f, ok := r.(*os.File); ok {
		t.prompt = term.IsTerminal(int(f.Fd()))
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Terminal) initPump() {
	t.startOnce.Do(func() {
		t.lines = make(chan lineResult)
		go t.pump()
	})
}

// pump reads lines until the stream ends. It outlives a cancelled Ask so
// the next Ask receives the next line.
func (t *Terminal) pump() {
	for {
		text, err := t.reader.ReadString('\n')
		if text != "" {
			t.lines <- lineResult{text: text}
		}
		if err != nil {
			if err != io.EOF {
				t.lines <- lineResult{err: err}
			}
			close(t.lines)
			return
		}
	}
}

func (t *Terminal) write(s string) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	fmt.Fprint(t.out, s)
}

// Ask implements dragonscale.Channel.
func (t *Terminal) Ask(ctx context.Context, req ds.InteractionRequest) (string, error) {
	t.initPump()

	question := req.Message
	if req.ExpectedType != "" && req.ExpectedType != "any" && req.ExpectedType != "string" {
		question += t.out.String(fmt.Sprintf(" (%s)", req.ExpectedType)).Faint().String()
	}
	header := t.out.String("? ").Foreground(t.out.Color("12")).Bold().String()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		t.write(header + question + "\n")
		if t.prompt {
			t.write("> ")
		}
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-t.lines:
		if !ok {
			return "", ErrChannelClosed
		}
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimSpace(res.text), nil
	}
}

// Notify implements dragonscale.Channel.
func (t *Terminal) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.write(t.out.String(message).Foreground(t.out.Color("10")).String() + "\n")
	return nil
}
