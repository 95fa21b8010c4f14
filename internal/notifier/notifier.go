package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Notifier delivers a message to the operator.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// NotificationError wraps a failed delivery. It is never retried.
type NotificationError struct {
	Channel string
	Subject string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify via %s (%q): %v", e.Channel, e.Subject, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// LogNotifier writes notifications to the log. Used when no transport is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, subject, body string) error {
	log.Info().Str("subject", subject).Str("body", body).Msg("notification")
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
