// Package output provides output formatting for fabrictl.
package output

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// nearDeadlineWarning is how much time must remain on a Spinner's
// deadline before it switches to the "timing out" presentation. It's
// well under the 10-second command timeout status.go/callAction use so
// the warning has time to be seen before the RPC call itself fails with
// context.DeadlineExceeded.
const nearDeadlineWarning = 2 * time.Second

// Spinner displays a progress animation for a fabrictl command's
// round trip to a node's /rpc endpoint — a "cluster/members" or
// "fabrictl call" invocation can legitimately take the full command
// timeout if the target node or a proxied peer is slow or unreachable,
// so the spinner exists to show the user something is happening rather
// than a frozen terminal.
type Spinner struct {
	w        io.Writer
	message  string
	frames   []string
	done     chan struct{}
	deadline time.Time
}

// NewSpinner creates a new spinner.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		w:       w,
		message: message,
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		done:    make(chan struct{}),
	}
}

// WithDeadline attaches the context deadline of the RPC call the spinner
// is tracking, so Start can flag the call as at risk of hitting
// context.DeadlineExceeded before it actually does.
func (s *Spinner) WithDeadline(deadline time.Time) *Spinner {
	s.deadline = deadline
	return s
}

// Start starts the spinner animation.
func (s *Spinner) Start() {
	go func() {
		i := 0
		for {
			select {
			case <-s.done:
				return
			default:
				fmt.Fprintf(s.w, "\r%s %s", s.frames[i%len(s.frames)], s.renderMessage())
				i++
				time.Sleep(100 * time.Millisecond)
			}
		}
	}()
}

// renderMessage appends a countdown to the spinner's message once the
// tracked deadline is close enough to warn about.
func (s *Spinner) renderMessage() string {
	if s.deadline.IsZero() {
		return s.message
	}
	remaining := time.Until(s.deadline)
	if remaining > nearDeadlineWarning {
		return s.message
	}
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("%s (timing out in %s)", s.message, remaining.Round(100*time.Millisecond))
}

// Stop stops the spinner and clears the line.
func (s *Spinner) Stop() {
	close(s.done)
	fmt.Fprintf(s.w, "\r\033[K") // Clear line
}

// Success stops the spinner with a success message.
func (s *Spinner) Success(message string) {
	close(s.done)
	fmt.Fprintf(s.w, "\r✓ %s\n", message)
}

// Fail stops the spinner with a failure message. Callers pass
// err.Error() through as message; when that error is (or wraps)
// context.DeadlineExceeded, the raw "context deadline exceeded" text is
// swapped for a message naming the command timeout, since fabrictl
// users have no context.Context to inspect themselves.
func (s *Spinner) Fail(message string) {
	close(s.done)
	if strings.Contains(message, context.DeadlineExceeded.Error()) {
		message = "timed out waiting for a response"
	}
	fmt.Fprintf(s.w, "\r✗ %s\n", message)
}
