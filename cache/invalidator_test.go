package cache

import (
	"context"
	"testing"
	"time"

	"listarchive/events"
	"listarchive/store"
)

func TestOnNewMessageInvalidatesThreadAndRecentKeys(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemCache())
	fixedNow := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	inv := &Invalidator{Cache: l, Now: func() time.Time { return fixedNow }}

	keys := []string{
		ThreadEmailsCount("list@example.org", "T1"),
		ThreadParticipantsCount("list@example.org", "T1"),
		ListRecentParticipantsCount("list@example.org"),
		ListRecentThreadsCount("list@example.org"),
		ListParticipantsCountMonth("list@example.org", 2024, 6),
		ListThreadsCountMonth("list@example.org", 2024, 6),
	}
	for _, k := range keys {
		if err := l.Set(ctx, k, "stale", time.Hour); err != nil {
			t.Fatalf("Set %q: %v", k, err)
		}
	}

	ev := events.NewMessage{
		Email: store.Email{
			ListName: "list@example.org",
			ThreadID: "T1",
			Date:     fixedNow, // inside the recent window
		},
	}
	if err := inv.OnNewMessage(ctx, ev); err != nil {
		t.Fatalf("OnNewMessage: %v", err)
	}

	for _, k := range keys {
		if _, ok, _ := l.backend.Get(ctx, k); ok {
			t.Errorf("key %q still present after OnNewMessage", k)
		}
	}
}

func TestOnNewMessageOutsideRecentWindowSkipsRecentKeys(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemCache())
	fixedNow := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	inv := &Invalidator{Cache: l, Now: func() time.Time { return fixedNow }}

	recentKey := ListRecentParticipantsCount("list@example.org")
	if err := l.Set(ctx, recentKey, "still-valid", time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ev := events.NewMessage{
		Email: store.Email{
			ListName: "list@example.org",
			ThreadID: "T1",
			Date:     fixedNow.AddDate(0, -2, 0), // well outside the 32-day window
		},
	}
	if err := inv.OnNewMessage(ctx, ev); err != nil {
		t.Fatalf("OnNewMessage: %v", err)
	}

	if _, ok, _ := l.backend.Get(ctx, recentKey); !ok {
		t.Error("recent-window key was invalidated for an old message, want untouched")
	}
}

func TestOnNewThreadSetsSubject(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemCache())
	inv := &Invalidator{Cache: l}

	ev := events.NewThread{Thread: store.Thread{ListName: "list@example.org", ThreadID: "T1", Subject: "hello"}}
	if err := inv.OnNewThread(ctx, ev); err != nil {
		t.Fatalf("OnNewThread: %v", err)
	}

	v, ok, err := l.backend.Get(ctx, ThreadSubject("list@example.org", "T1"))
	if err != nil || !ok || v != "hello" {
		t.Fatalf("subject key = (%q, %v, %v), want (hello, true, nil)", v, ok, err)
	}
}

func TestOnVoteInvalidatesLikesAndUserVotes(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemCache())
	inv := &Invalidator{Cache: l}

	keys := []string{
		EmailLikes("list@example.org", "m1"),
		EmailDislikes("list@example.org", "m1"),
		ThreadLikes("list@example.org", "T1"),
		ThreadDislikes("list@example.org", "T1"),
		UserListVotes("user1", "list@example.org"),
	}
	for _, k := range keys {
		if err := l.Set(ctx, k, "stale", time.Hour); err != nil {
			t.Fatalf("Set %q: %v", k, err)
		}
	}

	if err := inv.OnVote(ctx, "list@example.org", "m1", "T1", "user1"); err != nil {
		t.Fatalf("OnVote: %v", err)
	}
	for _, k := range keys {
		if _, ok, _ := l.backend.Get(ctx, k); ok {
			t.Errorf("key %q still present after OnVote", k)
		}
	}
}
