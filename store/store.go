package store

import (
	"context"
	"time"
)

// Store is the storage contract every backend implements. Methods take
// an explicit list_name wherever the entity is list-scoped, per
// spec.md §4.5. All methods are safe for concurrent use; write methods
// that must run as a single transaction document so in their comment.
type Store interface {
	// UpsertList mirrors a Mailman-side list object; the latest call
	// wins for every field.
	UpsertList(ctx context.Context, list List) error
	GetList(ctx context.Context, name string) (*List, error)

	// FindEmail looks up an email by its exact (possibly
	// already-truncated) message id. Returns (nil, nil) on a miss.
	FindEmail(ctx context.Context, listName, messageID string) (*Email, error)
	GetMessageByHash(ctx context.Context, listName, hash string) (*Email, error)
	GetMessageByID(ctx context.Context, listName, messageID string) (*Email, error)

	// AddEmail inserts Email, EmailFull and every Attachment as one
	// transaction, in that row order, and creates or updates the
	// destination thread's DateActive in the same transaction. A
	// duplicate (ListName, MessageID) returns a *Error with
	// Code==DuplicateMessage and the existing email's hash in
	// Message; the caller does not treat this as fatal. Any failure
	// rolls the whole transaction back. sqlitestore retries once, one
	// second later, when the failure is SQLITE_BUSY or SQLITE_LOCKED;
	// pgstore does not retry. A foreign-key violation is not retried.
	AddEmail(ctx context.Context, email Email, raw []byte, attachments []Attachment) error

	GetThread(ctx context.Context, listName, threadID string) (*Thread, error)
	GetThreads(ctx context.Context, listName string, start, end time.Time) ([]*Thread, error)
	GetMessages(ctx context.Context, listName string, start, end time.Time) ([]*Email, error)
	GetThreadNeighbors(ctx context.Context, listName, threadID string) (prev, next *Thread, err error)
	GetTopParticipants(ctx context.Context, listName string, start, end time.Time, limit int) ([]Participant, error)

	// ThreadEmails returns every email currently in a thread, for
	// order/depth recomputation.
	ThreadEmails(ctx context.Context, listName, threadID string) ([]Email, error)
	// ApplyThreadOrder persists recomputed ThreadOrder/ThreadDepth for
	// a set of emails, keyed by message id.
	ApplyThreadOrder(ctx context.Context, listName, threadID string, order, depth map[string]int) error
	// SetThreadSubject sets (not merges) a thread's cached subject;
	// used on NewThread, mirroring the cache-invalidation rule that
	// NewThread *sets* rather than deletes the cached subject.
	SetThreadSubject(ctx context.Context, listName, threadID, subject string) error

	// Vote is idempotent: re-casting the same value is a no-op and
	// reports changed=false; value 0 deletes any existing row.
	Vote(ctx context.Context, listName, messageID, userID string, value int) (changed bool, err error)
	ThreadLikes(ctx context.Context, listName, threadID string) (likes, dislikes int, err error)
	EmailLikes(ctx context.Context, listName, messageID string) (likes, dislikes int, err error)
	UserVotes(ctx context.Context, listName, userID string) (map[string]int, error)

	// DeleteMessageFromList cascades to attachments and votes, and
	// removes the thread row if this was its last email.
	DeleteMessageFromList(ctx context.Context, listName, messageID string) error

	UpsertSender(ctx context.Context, address, name string) error
	SetSenderUserID(ctx context.Context, address, userID string) error
	// SendersWithoutUserID pages through senders with no resolved
	// user id, ordered by address, for batch enrichment.
	SendersWithoutUserID(ctx context.Context, afterAddress string, pageSize int) ([]Sender, error)
	UpsertUser(ctx context.Context, user User) error

	AddCategory(ctx context.Context, name string) (int64, error)
	ListCategories(ctx context.Context) ([]Category, error)
	SetThreadCategory(ctx context.Context, listName, threadID, category string) error

	// ThreadCounts returns the email and distinct-sender count for a
	// thread, used to populate the emails_count/participants_count
	// cache keys on a miss.
	ThreadCounts(ctx context.Context, listName, threadID string) (emails, participants int, err error)
	// ListActivityCounts returns participant and thread counts for a
	// list over [start, end), used for both the rolling recent window
	// and the per-month aggregates.
	ListActivityCounts(ctx context.Context, listName string, start, end time.Time) (participants, threads int, err error)

	Close() error
}
