// Package events is an in-process publish/subscribe bus for the two
// ingestion-driven event types the archive engine fires: NewMessage
// and NewThread. Subscribers are registered explicitly at construction
// time, mirroring boxmgmt.BoxMgmt.RegisterNotifier rather than any
// filesystem- or reflection-based discovery.
package events

import (
	"context"

	"listarchive/store"
)

// NewMessage fires once per persisted email, after its transaction
// commits but before NewThread (NewThread only fires for the first
// message of a thread, so the ordering in spec.md §5 is automatic).
type NewMessage struct {
	List  store.List
	Email store.Email
}

// NewThread fires when an email allocates a new thread rather than
// joining an existing one.
type NewThread struct {
	List   store.List
	Thread store.Thread
}

// MessageSubscriber observes NewMessage events.
type MessageSubscriber interface {
	OnNewMessage(ctx context.Context, ev NewMessage) error
}

// ThreadSubscriber observes NewThread events.
type ThreadSubscriber interface {
	OnNewThread(ctx context.Context, ev NewThread) error
}

// MessageSubscriberFunc adapts a function to a MessageSubscriber.
type MessageSubscriberFunc func(ctx context.Context, ev NewMessage) error

func (f MessageSubscriberFunc) OnNewMessage(ctx context.Context, ev NewMessage) error { return f(ctx, ev) }

// ThreadSubscriberFunc adapts a function to a ThreadSubscriber.
type ThreadSubscriberFunc func(ctx context.Context, ev NewThread) error

func (f ThreadSubscriberFunc) OnNewThread(ctx context.Context, ev NewThread) error { return f(ctx, ev) }

// Bus dispatches events synchronously, in registration order, to a
// fixed subscriber list built once at construction (Design Note
// "replace dynamic discovery with explicit wiring"). A subscriber
// error propagates to the caller and aborts the ingestion that fired
// the event; it is never swallowed here (best-effort subscribers, like
// the identity enricher, catch their own errors before returning).
type Bus struct {
	messageSubs []MessageSubscriber
	threadSubs  []ThreadSubscriber
}

// New builds a Bus with an explicit, fixed subscriber list.
func New(messageSubs []MessageSubscriber, threadSubs []ThreadSubscriber) *Bus {
	return &Bus{messageSubs: messageSubs, threadSubs: threadSubs}
}

// PublishNewMessage dispatches ev to every message subscriber in
// registration order, stopping at (and returning) the first error.
func (b *Bus) PublishNewMessage(ctx context.Context, ev NewMessage) error {
	for _, sub := range b.messageSubs {
		if err := sub.OnNewMessage(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// PublishNewThread dispatches ev to every thread subscriber in
// registration order, stopping at (and returning) the first error.
func (b *Bus) PublishNewThread(ctx context.Context, ev NewThread) error {
	for _, sub := range b.threadSubs {
		if err := sub.OnNewThread(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
