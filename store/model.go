// Package store defines the archive's persisted entities and the
// storage contract ingestion and query code run against. Two concrete
// backends implement Store: sqlitestore (crawshaw.io/sqlite, default)
// and pgstore (pgx/pgxpool, selected by a postgres:// STORE_URL).
package store

import "time"

// ArchivePolicy gates whether incoming messages for a list are
// persisted at all, and whether cross-list search can see it.
type ArchivePolicy string

const (
	ArchiveNever   ArchivePolicy = "never"
	ArchivePrivate ArchivePolicy = "private"
	ArchivePublic  ArchivePolicy = "public"
)

// MaxMessageIDLen and MaxSubjectLen are the truncation points shared by
// every backend's write and read paths, so a long value always hashes
// and compares the same way regardless of which store wrote it.
const (
	MaxMessageIDLen = 254
	MaxSubjectLen   = 2000
)

// TruncateMessageID cuts id to at most MaxMessageIDLen bytes.
func TruncateMessageID(id string) string {
	if len(id) > MaxMessageIDLen {
		return id[:MaxMessageIDLen]
	}
	return id
}

// TruncateSubject cuts s to at most MaxSubjectLen bytes.
func TruncateSubject(s string) string {
	if len(s) > MaxSubjectLen {
		return s[:MaxSubjectLen]
	}
	return s
}

// List mirrors a Mailman-side mailing list. UpsertList always takes
// the latest-seen values.
type List struct {
	Name          string
	DisplayName   string
	Description   string
	SubjectPrefix string
	ArchivePolicy ArchivePolicy
	CreatedAt     time.Time
}

// Thread is keyed by (ListName, ThreadID); ThreadID is the message-id
// hash of the thread's starting email.
type Thread struct {
	ListName   string
	ThreadID   string
	DateActive time.Time
	Category   string // optional, empty when untagged
	Subject    string
}

// Email is keyed by (ListName, MessageID). Content holds the scrubbed
// canonical text body; the original raw bytes live in a separate
// EmailFull row so hot rows stay narrow.
type Email struct {
	ListName      string
	MessageID     string
	MessageIDHash string
	SenderAddress string
	Subject       string
	Content       string
	Date          time.Time // UTC-normalized
	TimezoneMin   int        // signed minutes offset from UTC at the source
	InReplyTo     string     // parent message-id, empty when none
	ThreadID      string
	ArchivedDate  time.Time
	ThreadDepth   int
	ThreadOrder   int
}

// Attachment is keyed by (ListName, MessageID, Counter).
type Attachment struct {
	ListName    string
	MessageID   string
	Counter     int
	Name        string
	ContentType string
	Encoding    string // Content-Transfer-Encoding as declared, may be empty
	Size        int64
	Content     []byte
}

// Sender is keyed by the lower-cased email address.
type Sender struct {
	Address string
	Name    string // latest seen display name
	UserID  string // opaque external id, empty when unresolved
}

// User represents an external identity that may own several Sender rows.
type User struct {
	ID   string
	Name string
}

// Vote is keyed by (ListName, MessageID, UserID). Value 0 is not
// stored: Store.Vote deletes the row instead.
type Vote struct {
	ListName  string
	MessageID string
	UserID    string
	Value     int
}

// Category is a named tag attachable to a Thread.
type Category struct {
	ID   int64
	Name string
}

// Participant is one row of a top-participants report.
type Participant struct {
	Address string
	Count   int
}
