package ingest

import "context"

// voteInvalidator is the subset of cache.Invalidator the vote path
// needs; kept narrow so ingest doesn't have to import the cache
// package's singleflight machinery just for this one callback.
type voteInvalidator interface {
	OnVote(ctx context.Context, list, messageID, threadID, userID string) error
}

// Vote applies store.Store.Vote and, only when it actually changed a
// row, runs the cache invalidation rule of spec.md §4.7 (email/thread
// likes+dislikes, the voter's per-list votes key). A no-op re-cast of
// the same value fires no extra invalidation, matching the testable
// property in spec.md §8.
func (o *Orchestrator) Vote(ctx context.Context, invalidator voteInvalidator, listName, messageID, userID string, value int) error {
	changed, err := o.Store.Vote(ctx, listName, messageID, userID, value)
	if err != nil || !changed || invalidator == nil {
		return err
	}
	email, err := o.Store.GetMessageByID(ctx, listName, messageID)
	if err != nil || email == nil {
		return err
	}
	return invalidator.OnVote(ctx, listName, messageID, email.ThreadID, userID)
}
