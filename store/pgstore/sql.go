package pgstore

// createSQL mirrors the schema store/migrate's migrations build for
// store/sqlitestore, translated to
// PostgreSQL types (TIMESTAMPTZ for unix-seconds columns, BYTEA for
// BLOB), so both backends enforce the same constraints and truncation
// points.
const createSQL = `
CREATE TABLE IF NOT EXISTS "List" (
	Name          TEXT PRIMARY KEY,
	DisplayName   TEXT NOT NULL,
	Description   TEXT NOT NULL,
	SubjectPrefix TEXT NOT NULL,
	ArchivePolicy TEXT NOT NULL,
	CreatedAt     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS "Thread" (
	ListName   TEXT NOT NULL REFERENCES "List"(Name),
	ThreadID   TEXT NOT NULL,
	DateActive TIMESTAMPTZ NOT NULL,
	Category   TEXT NOT NULL DEFAULT '',
	Subject    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (ListName, ThreadID)
);

CREATE TABLE IF NOT EXISTS "Email" (
	ListName      TEXT NOT NULL,
	MessageID     TEXT NOT NULL,
	MessageIDHash TEXT NOT NULL,
	SenderAddress TEXT NOT NULL,
	Subject       TEXT NOT NULL,
	Content       TEXT NOT NULL,
	Date          TIMESTAMPTZ NOT NULL,
	TimezoneMin   INTEGER NOT NULL,
	InReplyTo     TEXT NOT NULL DEFAULT '',
	ThreadID      TEXT NOT NULL,
	ArchivedDate  TIMESTAMPTZ NOT NULL,
	ThreadDepth   INTEGER NOT NULL DEFAULT 0,
	ThreadOrder   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (ListName, MessageID),
	FOREIGN KEY (ListName, ThreadID) REFERENCES "Thread"(ListName, ThreadID)
);

CREATE UNIQUE INDEX IF NOT EXISTS email_listname_hash ON "Email"(ListName, MessageIDHash);
CREATE INDEX IF NOT EXISTS email_listname_date ON "Email"(ListName, Date);
CREATE INDEX IF NOT EXISTS email_listname_threadid ON "Email"(ListName, ThreadID);
CREATE INDEX IF NOT EXISTS email_sender ON "Email"(SenderAddress);

CREATE TABLE IF NOT EXISTS "EmailFull" (
	ListName  TEXT NOT NULL,
	MessageID TEXT NOT NULL,
	Raw       BYTEA NOT NULL,
	PRIMARY KEY (ListName, MessageID),
	FOREIGN KEY (ListName, MessageID) REFERENCES "Email"(ListName, MessageID)
);

CREATE TABLE IF NOT EXISTS "Attachment" (
	ListName    TEXT NOT NULL,
	MessageID   TEXT NOT NULL,
	Counter     INTEGER NOT NULL,
	Name        TEXT NOT NULL,
	ContentType TEXT NOT NULL,
	Encoding    TEXT NOT NULL DEFAULT '',
	Size        BIGINT NOT NULL,
	Content     BYTEA NOT NULL,
	PRIMARY KEY (ListName, MessageID, Counter),
	FOREIGN KEY (ListName, MessageID) REFERENCES "Email"(ListName, MessageID)
);

CREATE TABLE IF NOT EXISTS "Sender" (
	Address TEXT PRIMARY KEY,
	Name    TEXT NOT NULL,
	UserID  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS "User" (
	UserID TEXT PRIMARY KEY,
	Name   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS "Vote" (
	ListName  TEXT NOT NULL,
	MessageID TEXT NOT NULL,
	UserID    TEXT NOT NULL,
	Value     INTEGER NOT NULL,
	PRIMARY KEY (ListName, MessageID, UserID),
	FOREIGN KEY (ListName, MessageID) REFERENCES "Email"(ListName, MessageID)
);

CREATE TABLE IF NOT EXISTS "Category" (
	CategoryID SERIAL PRIMARY KEY,
	Name       TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS schema_version (
	Version INTEGER NOT NULL
);
`
