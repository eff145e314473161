package cache

import (
	"context"
	"time"

	"listarchive/events"
)

// Invalidator implements events.MessageSubscriber and
// events.ThreadSubscriber, applying spec.md §4.7's event-driven
// invalidation rules. It is registered in the fixed subscriber list an
// ingest.Orchestrator is built with, never discovered dynamically.
type Invalidator struct {
	Cache *Layer
	Now   func() time.Time // overridable for tests; defaults to time.Now
}

func (inv *Invalidator) now() time.Time {
	if inv.Now != nil {
		return inv.Now()
	}
	return time.Now()
}

// OnNewMessage deletes the recent-window counts when the email falls
// inside them, the monthly counts for the email's (year, month), and
// the email's thread's emails_count/participants_count.
func (inv *Invalidator) OnNewMessage(ctx context.Context, ev events.NewMessage) error {
	list := ev.Email.ListName
	keys := []string{
		ThreadEmailsCount(list, ev.Email.ThreadID),
		ThreadParticipantsCount(list, ev.Email.ThreadID),
	}

	start, end := RecentWindow(inv.now())
	if !ev.Email.Date.Before(start) && ev.Email.Date.Before(end) {
		keys = append(keys, ListRecentParticipantsCount(list), ListRecentThreadsCount(list))
	}

	keys = append(keys,
		ListParticipantsCountMonth(list, ev.Email.Date.Year(), int(ev.Email.Date.Month())),
		ListThreadsCountMonth(list, ev.Email.Date.Year(), int(ev.Email.Date.Month())),
	)

	return inv.Cache.DeleteMulti(ctx, keys)
}

// OnNewThread sets (never deletes) the new thread's cached subject.
func (inv *Invalidator) OnNewThread(ctx context.Context, ev events.NewThread) error {
	return inv.Cache.Set(ctx, ThreadSubject(ev.Thread.ListName, ev.Thread.ThreadID), ev.Thread.Subject, 0)
}

// OnVote applies the vote-mutation invalidation rule: the email's and
// its thread's likes/dislikes, plus the voter's per-list votes key.
// This isn't dispatched through events.Bus (votes aren't one of its two
// event types in spec.md §4.6) — ingest.Orchestrator's Vote wrapper
// calls it directly after a changed vote.
func (inv *Invalidator) OnVote(ctx context.Context, list, messageID, threadID, userID string) error {
	return inv.Cache.DeleteMulti(ctx, []string{
		EmailLikes(list, messageID),
		EmailDislikes(list, messageID),
		ThreadLikes(list, threadID),
		ThreadDislikes(list, threadID),
		UserListVotes(userID, list),
	})
}

var (
	_ events.MessageSubscriber = (*Invalidator)(nil)
	_ events.ThreadSubscriber  = (*Invalidator)(nil)
)
