// Package notification constructs and dispatches goal conflict messages.
package notification

import (
	"context"
	"fmt"
	"log"

	"example.com/analysis/internal/domain"
)

// MessageSender delivers a single message to a destination. Delivery
// transport is an external concern; the notifier only calls send.
type MessageSender interface {
	Send(ctx context.Context, msg domain.GoalConflictMessage, dest domain.Destination) error
}

// Option configures optional behaviour for the Notifier.
type Option func(*Notifier)

// WithLogger overrides the logger used to report buddy delivery failures.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// Notifier fans a conflict out to the user's own anonymous destination and
// to every buddy destination.
type Notifier struct {
	sender MessageSender
	logger *log.Logger
}

// NewNotifier constructs a Notifier.
func NewNotifier(sender MessageSender, opts ...Option) *Notifier {
	n := &Notifier{
		sender: sender,
		logger: log.New(log.Writer(), "[notifier] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyConflict builds the self message for a newly recorded conflict
// activity, sends it, and broadcasts a derived copy to each buddy. A failed
// buddy delivery is logged and does not block the remaining destinations;
// a failed self delivery aborts the broadcast.
func (n *Notifier) NotifyConflict(ctx context.Context, user *domain.UserAnonymized, activity domain.Activity, goal domain.Goal, url string) error {
	self := domain.NewGoalConflictMessage(user.ID, activity.ID, goal.ID, url)
	if err := n.sender.Send(ctx, self, user.SelfDestination); err != nil {
		recordDelivery("self", false)
		return fmt.Errorf("send conflict message to self destination: %w", err)
	}
	recordDelivery("self", true)

	for _, buddy := range user.BuddyDestinations {
		copy := self.BuddyCopy()
		if err := n.sender.Send(ctx, copy, buddy); err != nil {
			recordDelivery("buddy", false)
			n.logger.Printf("buddy delivery failed (destination=%s, message=%s): %v", buddy.ID, copy.ID, err)
			continue
		}
		recordDelivery("buddy", true)
	}
	return nil
}
