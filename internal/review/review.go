// Package review talks to the external language-quality reviewer.
package review

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrMalformed means the reviewer answered without a usable verdict.
	ErrMalformed = errors.New("review: malformed reviewer response")
	// ErrUnavailable covers transport failures and non-2xx responses.
	ErrUnavailable = errors.New("review: reviewer unavailable")
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("review: reviewer not configured")
)

// Verdict is the reviewer's answer for a block of legal text.
type Verdict struct {
	Message  string
	Approved bool
}

// Reviewer is the capability the service depends on.
type Reviewer interface {
	Review(ctx context.Context, text string) (Verdict, error)
	Summarize(ctx context.Context, from, to string) (string, error)
}

// ParseVerdict reads a reviewer answer whose first non-empty line carries
// APPROVED or REJECTED. The message is the rest of the answer, or the whole
// answer when nothing follows the verdict line.
func ParseVerdict(raw string) (Verdict, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Verdict{}, ErrMalformed
	}

	lines := strings.Split(text, "\n")
	head := strings.ToUpper(lines[0])
	approved := strings.Contains(head, "APPROVED")
	rejected := strings.Contains(head, "REJECTED")
	if approved == rejected {
		return Verdict{}, ErrMalformed
	}

	message := strings.TrimSpace(strings.Join(lines[1:], "\n"))
	if message == "" {
		message = text
	}
	return Verdict{Message: message, Approved: approved}, nil
}

// Disabled is used when the reviewer has no credentials.
type Disabled struct{}

func (Disabled) Review(context.Context, string) (Verdict, error) {
	return Verdict{}, ErrNotConfigured
}

func (Disabled) Summarize(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
