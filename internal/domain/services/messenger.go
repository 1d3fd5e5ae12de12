package services

import "context"

// Messenger delivers a short text to a bound destination (chat id, email address).
// Delivery is fire-and-forget from the flows' point of view: errors are logged, never retried.
type Messenger interface {
	Deliver(ctx context.Context, destinationID, text string) error
}

// NopMessenger drops every message. Used when a channel is not configured.
type NopMessenger struct{}

func (NopMessenger) Deliver(context.Context, string, string) error { return nil }
