// Package notify delivers password-reset links to account owners.
package notify

import (
	"time"

	"campusiam.org/internal/obs"
)

// Notifier sends a reset link to an address. Implementations must not block
// the auth operation on delivery guarantees.
type Notifier interface {
	Send(to, link string) error
}

// ConsoleMailer writes the reset email to the service log. Stand-in until a
// real provider (SendGrid, SES) is configured.
type ConsoleMailer struct{}

var _ Notifier = ConsoleMailer{}

func (ConsoleMailer) Send(to, link string) error {
	obs.LogRequest(map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   "info",
		"msg":     "password reset email",
		"to":      to,
		"subject": "Password reset for Campus IAM Portal",
		"link":    link,
	})
	return nil
}
