// Package notify delivers invitation lifecycle events to the outside world.
//
// The service calls a Notifier after a transition has been committed and
// only when the transition asked for it. Delivery failures are reported to
// the caller for logging; they never undo the transition.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
)

// Event is one committed transition.
type Event struct {
	Invitation invitations.Invitation `json:"invitation"`
	Activity   invitations.Activity   `json:"activity"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Log writes each event to a structured logger.
type Log struct {
	log *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(log *slog.Logger) *Log {
	return &Log{log: logutil.NoopIfNil(log)}
}

func (l *Log) Notify(ctx context.Context, ev Event) error {
	l.log.InfoContext(ctx, "invitation notification",
		"invitation_id", ev.Invitation.ID,
		"activity", ev.Activity.Type,
		"recipient_email", ev.Invitation.RecipientEmail,
		"target", ev.Invitation.Target.Key(),
		"status", ev.Invitation.Status(),
	)
	return nil
}

// Multi fans an event out to every notifier. All notifiers run even when
// one fails; the errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
