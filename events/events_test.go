package events

import (
	"context"
	"errors"
	"testing"

	"listarchive/store"
)

func TestPublishNewMessageCallsSubscribersInOrder(t *testing.T) {
	var calls []string
	a := MessageSubscriberFunc(func(ctx context.Context, ev NewMessage) error {
		calls = append(calls, "a")
		return nil
	})
	b := MessageSubscriberFunc(func(ctx context.Context, ev NewMessage) error {
		calls = append(calls, "b")
		return nil
	})
	bus := New([]MessageSubscriber{a, b}, nil)

	if err := bus.PublishNewMessage(context.Background(), NewMessage{}); err != nil {
		t.Fatalf("PublishNewMessage: %v", err)
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Fatalf("calls = %v, want [a b]", calls)
	}
}

func TestPublishNewMessageStopsAtFirstError(t *testing.T) {
	wantErr := errors.New("boom")
	var calls []string
	a := MessageSubscriberFunc(func(ctx context.Context, ev NewMessage) error {
		calls = append(calls, "a")
		return wantErr
	})
	b := MessageSubscriberFunc(func(ctx context.Context, ev NewMessage) error {
		calls = append(calls, "b")
		return nil
	})
	bus := New([]MessageSubscriber{a, b}, nil)

	err := bus.PublishNewMessage(context.Background(), NewMessage{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want only [a] (b must not run after a fails)", calls)
	}
}

func TestPublishNewThread(t *testing.T) {
	var got NewThread
	sub := ThreadSubscriberFunc(func(ctx context.Context, ev NewThread) error {
		got = ev
		return nil
	})
	bus := New(nil, []ThreadSubscriber{sub})

	ev := NewThread{List: store.List{Name: "list@example.org"}, Thread: store.Thread{ThreadID: "T1"}}
	if err := bus.PublishNewThread(context.Background(), ev); err != nil {
		t.Fatalf("PublishNewThread: %v", err)
	}
	if got.Thread.ThreadID != "T1" {
		t.Fatalf("got = %+v, want ThreadID T1", got)
	}
}
