package migrate

// coreTablesSQL is migration 1: the List/Thread/Email/EmailFull/
// Attachment/Sender/User/Vote tables that store/sqlitestore runs on
// (sqlitestore.Open builds its schema only through Apply).
const coreTablesSQL = `
PRAGMA auto_vacuum = INCREMENTAL;

CREATE TABLE IF NOT EXISTS List (
	Name          TEXT PRIMARY KEY,
	DisplayName   TEXT NOT NULL,
	Description   TEXT NOT NULL,
	SubjectPrefix TEXT NOT NULL,
	ArchivePolicy TEXT NOT NULL,
	CreatedAt     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS Thread (
	ListName   TEXT NOT NULL,
	ThreadID   TEXT NOT NULL,
	DateActive INTEGER NOT NULL,
	Subject    TEXT NOT NULL DEFAULT '',

	PRIMARY KEY (ListName, ThreadID),
	FOREIGN KEY (ListName) REFERENCES List(Name)
);

CREATE TABLE IF NOT EXISTS Email (
	ListName      TEXT NOT NULL,
	MessageID     TEXT NOT NULL,
	MessageIDHash TEXT NOT NULL,
	SenderAddress TEXT NOT NULL,
	Subject       TEXT NOT NULL,
	Content       TEXT NOT NULL,
	Date          INTEGER NOT NULL,
	TimezoneMin   INTEGER NOT NULL,
	InReplyTo     TEXT NOT NULL DEFAULT '',
	ThreadID      TEXT NOT NULL,
	ArchivedDate  INTEGER NOT NULL,
	ThreadDepth   INTEGER NOT NULL DEFAULT 0,
	ThreadOrder   INTEGER NOT NULL DEFAULT 0,

	PRIMARY KEY (ListName, MessageID),
	FOREIGN KEY (ListName, ThreadID) REFERENCES Thread(ListName, ThreadID)
);

CREATE UNIQUE INDEX IF NOT EXISTS Email_ListName_Hash ON Email(ListName, MessageIDHash);

CREATE TABLE IF NOT EXISTS EmailFull (
	ListName  TEXT NOT NULL,
	MessageID TEXT NOT NULL,
	Raw       BLOB NOT NULL,

	PRIMARY KEY (ListName, MessageID),
	FOREIGN KEY (ListName, MessageID) REFERENCES Email(ListName, MessageID)
);

CREATE TABLE IF NOT EXISTS Attachment (
	ListName    TEXT NOT NULL,
	MessageID   TEXT NOT NULL,
	Counter     INTEGER NOT NULL,
	Name        TEXT NOT NULL,
	ContentType TEXT NOT NULL,
	Encoding    TEXT NOT NULL DEFAULT '',
	Size        INTEGER NOT NULL,
	Content     BLOB NOT NULL,

	PRIMARY KEY (ListName, MessageID, Counter),
	FOREIGN KEY (ListName, MessageID) REFERENCES Email(ListName, MessageID)
);

CREATE TABLE IF NOT EXISTS Sender (
	Address TEXT PRIMARY KEY,
	Name    TEXT NOT NULL,
	UserID  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS User (
	UserID TEXT PRIMARY KEY,
	Name   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS Vote (
	ListName  TEXT NOT NULL,
	MessageID TEXT NOT NULL,
	UserID    TEXT NOT NULL,
	Value     INTEGER NOT NULL,

	PRIMARY KEY (ListName, MessageID, UserID),
	FOREIGN KEY (ListName, MessageID) REFERENCES Email(ListName, MessageID)
);
`

// categorySQL is migration 2: the Category table plus Thread.Category,
// added after the fact (original_source's kittystore.sa.model.Category
// postdates the rest of the schema — carried forward here as a
// separate migration rather than folded into migration 1).
const categorySQL = `
CREATE TABLE IF NOT EXISTS Category (
	CategoryID INTEGER PRIMARY KEY,
	Name       TEXT NOT NULL UNIQUE
);

ALTER TABLE Thread ADD COLUMN Category TEXT NOT NULL DEFAULT '';
`

// indexSQL is migration 3: secondary indexes added once query patterns
// (date-range scans, per-thread email listing, per-sender activity)
// were understood; kept separate from migration 1 so an older
// database missing only these can catch up cheaply.
const indexSQL = `
CREATE INDEX IF NOT EXISTS Email_ListName_Date ON Email(ListName, Date);
CREATE INDEX IF NOT EXISTS Email_ListName_ThreadID ON Email(ListName, ThreadID);
CREATE INDEX IF NOT EXISTS Email_Sender ON Email(SenderAddress);
`
