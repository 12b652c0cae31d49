package notify

import (
	"context"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// MultiNotifier combines multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Notify(ctx context.Context, title, body string) error {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, title, body); err != nil {
			return err
		}
	}
	return nil
}

// NoOpNotifier does nothing.
type NoOpNotifier struct{}

func (n *NoOpNotifier) Notify(ctx context.Context, title, body string) error {
	return nil
}
