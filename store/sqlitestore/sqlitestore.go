// Package sqlitestore implements store.Store on top of crawshaw.io/sqlite,
// mirroring the connection-pool-and-prepared-statement style of the
// teacher's spilldb/db and spilldb/webcache packages: one pooled
// *sqlitex.Pool, one *sqlite.Conn per call borrowed from the pool, writes
// wrapped in sqlitex.Save.
package sqlitestore

import (
	"context"
	"fmt"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"listarchive/store"
	"listarchive/store/migrate"
)

// Store is a store.Store backed by a single SQLite database file (or
// :memory:). Safe for concurrent use; every call borrows its own
// connection from the pool.
type Store struct {
	pool *sqlitex.Pool
}

// Open creates (if necessary) and opens dbfile, running store/migrate
// to bring it to the head schema revision: an empty database goes
// straight to head, an existing one only applies migrations newer than
// its recorded version (spec.md §4.11).
func Open(dbfile string, poolSize int) (*Store, error) {
	conn, err := sqlite.OpenConn(dbfile, 0)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore.Open: init open: %v", err)
	}
	if err := sqlitex.ExecTransient(conn, "PRAGMA journal_mode=WAL;", nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore.Open: journal_mode: %v", err)
	}
	if err := sqlitex.ExecTransient(conn, "PRAGMA foreign_keys=ON;", nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore.Open: foreign_keys: %v", err)
	}
	if err := migrate.Apply(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore.Open: schema: %v", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("sqlitestore.Open: init close: %v", err)
	}

	if poolSize <= 0 {
		poolSize = 8
	}
	pool, err := sqlitex.Open(dbfile, 0, poolSize)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore.Open: pool: %v", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error { return s.pool.Close() }

func (s *Store) conn(ctx context.Context) (*sqlite.Conn, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return nil, context.Canceled
	}
	return conn, nil
}

// -- List --

func (s *Store) UpsertList(ctx context.Context, list store.List) (err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`INSERT INTO List (Name, DisplayName, Description, SubjectPrefix, ArchivePolicy, CreatedAt)
		VALUES ($name, $displayName, $description, $subjectPrefix, $archivePolicy, $createdAt)
		ON CONFLICT (Name) DO UPDATE SET
			DisplayName = excluded.DisplayName,
			Description = excluded.Description,
			SubjectPrefix = excluded.SubjectPrefix,
			ArchivePolicy = excluded.ArchivePolicy;`)
	stmt.SetText("$name", list.Name)
	stmt.SetText("$displayName", list.DisplayName)
	stmt.SetText("$description", list.Description)
	stmt.SetText("$subjectPrefix", list.SubjectPrefix)
	stmt.SetText("$archivePolicy", string(list.ArchivePolicy))
	createdAt := list.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	stmt.SetInt64("$createdAt", createdAt.Unix())
	_, err = stmt.Step()
	return err
}

func (s *Store) GetList(ctx context.Context, name string) (*store.List, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT DisplayName, Description, SubjectPrefix, ArchivePolicy, CreatedAt
		FROM List WHERE Name = $name;`)
	stmt.SetText("$name", name)
	has, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !has {
		stmt.Reset()
		return nil, nil
	}
	l := &store.List{
		Name:          name,
		DisplayName:   stmt.GetText("DisplayName"),
		Description:   stmt.GetText("Description"),
		SubjectPrefix: stmt.GetText("SubjectPrefix"),
		ArchivePolicy: store.ArchivePolicy(stmt.GetText("ArchivePolicy")),
		CreatedAt:     time.Unix(stmt.GetInt64("CreatedAt"), 0).UTC(),
	}
	stmt.Reset()
	return l, nil
}

// -- Email lookups --

func (s *Store) FindEmail(ctx context.Context, listName, messageID string) (*store.Email, error) {
	return s.GetMessageByID(ctx, listName, messageID)
}

func (s *Store) GetMessageByHash(ctx context.Context, listName, hash string) (*store.Email, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return scanEmail(conn, `SELECT * FROM Email WHERE ListName = $listName AND MessageIDHash = $hash;`,
		func(stmt *sqlite.Stmt) {
			stmt.SetText("$listName", listName)
			stmt.SetText("$hash", hash)
		})
}

func (s *Store) GetMessageByID(ctx context.Context, listName, messageID string) (*store.Email, error) {
	messageID = store.TruncateMessageID(messageID)
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return scanEmail(conn, `SELECT * FROM Email WHERE ListName = $listName AND MessageID = $messageID;`,
		func(stmt *sqlite.Stmt) {
			stmt.SetText("$listName", listName)
			stmt.SetText("$messageID", messageID)
		})
}

func scanEmail(conn *sqlite.Conn, query string, bind func(*sqlite.Stmt)) (*store.Email, error) {
	stmt := conn.Prep(query)
	bind(stmt)
	has, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !has {
		stmt.Reset()
		return nil, nil
	}
	e := emailFromRow(stmt)
	stmt.Reset()
	return &e, nil
}

func emailFromRow(stmt *sqlite.Stmt) store.Email {
	return store.Email{
		ListName:      stmt.GetText("ListName"),
		MessageID:     stmt.GetText("MessageID"),
		MessageIDHash: stmt.GetText("MessageIDHash"),
		SenderAddress: stmt.GetText("SenderAddress"),
		Subject:       stmt.GetText("Subject"),
		Content:       stmt.GetText("Content"),
		Date:          time.Unix(stmt.GetInt64("Date"), 0).UTC(),
		TimezoneMin:   int(stmt.GetInt64("TimezoneMin")),
		InReplyTo:     stmt.GetText("InReplyTo"),
		ThreadID:      stmt.GetText("ThreadID"),
		ArchivedDate:  time.Unix(stmt.GetInt64("ArchivedDate"), 0).UTC(),
		ThreadDepth:   int(stmt.GetInt64("ThreadDepth")),
		ThreadOrder:   int(stmt.GetInt64("ThreadOrder")),
	}
}

// -- Write path --

// AddEmail retries once on a transient SQLITE_BUSY/LOCKED error. The
// attachment-FK-violation retry case does not apply to this backend:
// email and its attachments are written in one sqlitex.Save transaction,
// so there is no window where the parent row is visible without its
// attachments already present.
func (s *Store) AddEmail(ctx context.Context, email store.Email, raw []byte, attachments []store.Attachment) error {
	err := s.addEmailOnce(ctx, email, raw, attachments)
	if isTransient(err) {
		time.Sleep(time.Second)
		err = s.addEmailOnce(ctx, email, raw, attachments)
	}
	return err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if serr, ok := err.(sqlite.Error); ok {
		return serr.Code == sqlite.SQLITE_BUSY || serr.Code == sqlite.SQLITE_LOCKED
	}
	return false
}

func (s *Store) addEmailOnce(ctx context.Context, email store.Email, raw []byte, attachments []store.Attachment) (err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	existing, err := scanEmail(conn, `SELECT * FROM Email WHERE ListName = $listName AND MessageID = $messageID;`,
		func(stmt *sqlite.Stmt) {
			stmt.SetText("$listName", email.ListName)
			stmt.SetText("$messageID", email.MessageID)
		})
	if err != nil {
		return err
	}
	if existing != nil {
		return &store.Error{Code: store.DuplicateMessage, Message: existing.MessageIDHash}
	}

	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`INSERT INTO Thread (ListName, ThreadID, DateActive, Subject)
		VALUES ($listName, $threadID, $dateActive, $subject)
		ON CONFLICT (ListName, ThreadID) DO UPDATE SET
			DateActive = MAX(DateActive, excluded.DateActive);`)
	stmt.SetText("$listName", email.ListName)
	stmt.SetText("$threadID", email.ThreadID)
	stmt.SetInt64("$dateActive", email.Date.Unix())
	stmt.SetText("$subject", email.Subject)
	if _, err = stmt.Step(); err != nil {
		return err
	}

	stmt = conn.Prep(`INSERT INTO Email (
			ListName, MessageID, MessageIDHash, SenderAddress, Subject, Content,
			Date, TimezoneMin, InReplyTo, ThreadID, ArchivedDate, ThreadDepth, ThreadOrder
		) VALUES (
			$listName, $messageID, $hash, $sender, $subject, $content,
			$date, $tz, $inReplyTo, $threadID, $archivedDate, $depth, $order
		);`)
	stmt.SetText("$listName", email.ListName)
	stmt.SetText("$messageID", email.MessageID)
	stmt.SetText("$hash", email.MessageIDHash)
	stmt.SetText("$sender", email.SenderAddress)
	stmt.SetText("$subject", email.Subject)
	stmt.SetText("$content", email.Content)
	stmt.SetInt64("$date", email.Date.Unix())
	stmt.SetInt64("$tz", int64(email.TimezoneMin))
	stmt.SetText("$inReplyTo", email.InReplyTo)
	stmt.SetText("$threadID", email.ThreadID)
	archivedDate := email.ArchivedDate
	if archivedDate.IsZero() {
		archivedDate = time.Now().UTC()
	}
	stmt.SetInt64("$archivedDate", archivedDate.Unix())
	stmt.SetInt64("$depth", int64(email.ThreadDepth))
	stmt.SetInt64("$order", int64(email.ThreadOrder))
	if _, err = stmt.Step(); err != nil {
		return err
	}

	stmt = conn.Prep(`INSERT INTO EmailFull (ListName, MessageID, Raw) VALUES ($listName, $messageID, $raw);`)
	stmt.SetText("$listName", email.ListName)
	stmt.SetText("$messageID", email.MessageID)
	stmt.SetBytes("$raw", raw)
	if _, err = stmt.Step(); err != nil {
		return err
	}

	for _, a := range attachments {
		stmt = conn.Prep(`INSERT INTO Attachment (
				ListName, MessageID, Counter, Name, ContentType, Encoding, Size, Content
			) VALUES (
				$listName, $messageID, $counter, $name, $contentType, $encoding, $size, $content
			);`)
		stmt.SetText("$listName", email.ListName)
		stmt.SetText("$messageID", email.MessageID)
		stmt.SetInt64("$counter", int64(a.Counter))
		stmt.SetText("$name", a.Name)
		stmt.SetText("$contentType", a.ContentType)
		stmt.SetText("$encoding", a.Encoding)
		stmt.SetInt64("$size", a.Size)
		stmt.SetBytes("$content", a.Content)
		if _, err = stmt.Step(); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) GetThread(ctx context.Context, listName, threadID string) (*store.Thread, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT DateActive, Category, Subject FROM Thread
		WHERE ListName = $listName AND ThreadID = $threadID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$threadID", threadID)
	has, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !has {
		stmt.Reset()
		return nil, nil
	}
	t := &store.Thread{
		ListName:   listName,
		ThreadID:   threadID,
		DateActive: time.Unix(stmt.GetInt64("DateActive"), 0).UTC(),
		Category:   stmt.GetText("Category"),
		Subject:    stmt.GetText("Subject"),
	}
	stmt.Reset()
	return t, nil
}

func (s *Store) GetThreads(ctx context.Context, listName string, start, end time.Time) ([]*store.Thread, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT ThreadID, DateActive, Category, Subject FROM Thread
		WHERE ListName = $listName AND DateActive >= $start AND DateActive < $end
		ORDER BY DateActive DESC;`)
	stmt.SetText("$listName", listName)
	stmt.SetInt64("$start", start.Unix())
	stmt.SetInt64("$end", end.Unix())

	var threads []*store.Thread
	for {
		has, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		threads = append(threads, &store.Thread{
			ListName:   listName,
			ThreadID:   stmt.GetText("ThreadID"),
			DateActive: time.Unix(stmt.GetInt64("DateActive"), 0).UTC(),
			Category:   stmt.GetText("Category"),
			Subject:    stmt.GetText("Subject"),
		})
	}
	return threads, nil
}

func (s *Store) GetMessages(ctx context.Context, listName string, start, end time.Time) ([]*store.Email, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT * FROM Email
		WHERE ListName = $listName AND Date >= $start AND Date < $end
		ORDER BY Date DESC;`)
	stmt.SetText("$listName", listName)
	stmt.SetInt64("$start", start.Unix())
	stmt.SetInt64("$end", end.Unix())

	var emails []*store.Email
	for {
		has, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		e := emailFromRow(stmt)
		emails = append(emails, &e)
	}
	return emails, nil
}

func (s *Store) GetThreadNeighbors(ctx context.Context, listName, threadID string) (prev, next *store.Thread, err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer s.pool.Put(conn)

	this, err := s.GetThread(ctx, listName, threadID)
	if err != nil || this == nil {
		return nil, nil, err
	}

	stmt := conn.Prep(`SELECT ThreadID, DateActive, Category, Subject FROM Thread
		WHERE ListName = $listName AND (DateActive < $dateActive OR (DateActive = $dateActive AND ThreadID < $threadID))
		ORDER BY DateActive DESC, ThreadID DESC LIMIT 1;`)
	stmt.SetText("$listName", listName)
	stmt.SetInt64("$dateActive", this.DateActive.Unix())
	stmt.SetText("$threadID", threadID)
	has, err := stmt.Step()
	if err != nil {
		return nil, nil, err
	}
	if has {
		prev = &store.Thread{
			ListName:   listName,
			ThreadID:   stmt.GetText("ThreadID"),
			DateActive: time.Unix(stmt.GetInt64("DateActive"), 0).UTC(),
			Category:   stmt.GetText("Category"),
			Subject:    stmt.GetText("Subject"),
		}
	} else {
		stmt.Reset()
	}

	stmt = conn.Prep(`SELECT ThreadID, DateActive, Category, Subject FROM Thread
		WHERE ListName = $listName AND (DateActive > $dateActive OR (DateActive = $dateActive AND ThreadID > $threadID))
		ORDER BY DateActive ASC, ThreadID ASC LIMIT 1;`)
	stmt.SetText("$listName", listName)
	stmt.SetInt64("$dateActive", this.DateActive.Unix())
	stmt.SetText("$threadID", threadID)
	has, err = stmt.Step()
	if err != nil {
		return nil, nil, err
	}
	if has {
		next = &store.Thread{
			ListName:   listName,
			ThreadID:   stmt.GetText("ThreadID"),
			DateActive: time.Unix(stmt.GetInt64("DateActive"), 0).UTC(),
			Category:   stmt.GetText("Category"),
			Subject:    stmt.GetText("Subject"),
		}
	} else {
		stmt.Reset()
	}

	return prev, next, nil
}

func (s *Store) GetTopParticipants(ctx context.Context, listName string, start, end time.Time, limit int) ([]store.Participant, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT SenderAddress, COUNT(*) AS N FROM Email
		WHERE ListName = $listName AND Date >= $start AND Date < $end
		GROUP BY SenderAddress ORDER BY N DESC LIMIT $limit;`)
	stmt.SetText("$listName", listName)
	stmt.SetInt64("$start", start.Unix())
	stmt.SetInt64("$end", end.Unix())
	stmt.SetInt64("$limit", int64(limit))

	var out []store.Participant
	for {
		has, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		out = append(out, store.Participant{
			Address: stmt.GetText("SenderAddress"),
			Count:   int(stmt.GetInt64("N")),
		})
	}
	return out, nil
}

func (s *Store) ThreadEmails(ctx context.Context, listName, threadID string) ([]store.Email, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT * FROM Email WHERE ListName = $listName AND ThreadID = $threadID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$threadID", threadID)

	var emails []store.Email
	for {
		has, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		emails = append(emails, emailFromRow(stmt))
	}
	return emails, nil
}

func (s *Store) ApplyThreadOrder(ctx context.Context, listName, threadID string, order, depth map[string]int) (err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	for messageID, ord := range order {
		stmt := conn.Prep(`UPDATE Email SET ThreadOrder = $order, ThreadDepth = $depth
			WHERE ListName = $listName AND MessageID = $messageID;`)
		stmt.SetText("$listName", listName)
		stmt.SetText("$messageID", messageID)
		stmt.SetInt64("$order", int64(ord))
		stmt.SetInt64("$depth", int64(depth[messageID]))
		if _, err = stmt.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SetThreadSubject(ctx context.Context, listName, threadID, subject string) (err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`UPDATE Thread SET Subject = $subject WHERE ListName = $listName AND ThreadID = $threadID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$threadID", threadID)
	stmt.SetText("$subject", subject)
	_, err = stmt.Step()
	return err
}

// -- Votes --

func (s *Store) Vote(ctx context.Context, listName, messageID, userID string, value int) (changed bool, err error) {
	if value < -1 || value > 1 {
		return false, &store.Error{Code: store.InvalidVoteValue, Message: fmt.Sprintf("%d", value)}
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`SELECT Value FROM Vote WHERE ListName = $listName AND MessageID = $messageID AND UserID = $userID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$messageID", messageID)
	stmt.SetText("$userID", userID)
	has, err := stmt.Step()
	if err != nil {
		return false, err
	}
	var current int64
	if has {
		current = stmt.GetInt64("Value")
	}
	stmt.Reset()

	if has && int(current) == value {
		return false, nil // idempotent no-op, same value recast
	}

	if value == 0 {
		if !has {
			return false, nil
		}
		stmt = conn.Prep(`DELETE FROM Vote WHERE ListName = $listName AND MessageID = $messageID AND UserID = $userID;`)
		stmt.SetText("$listName", listName)
		stmt.SetText("$messageID", messageID)
		stmt.SetText("$userID", userID)
		if _, err = stmt.Step(); err != nil {
			return false, err
		}
		return true, nil
	}

	stmt = conn.Prep(`INSERT INTO Vote (ListName, MessageID, UserID, Value) VALUES ($listName, $messageID, $userID, $value)
		ON CONFLICT (ListName, MessageID, UserID) DO UPDATE SET Value = excluded.Value;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$messageID", messageID)
	stmt.SetText("$userID", userID)
	stmt.SetInt64("$value", int64(value))
	if _, err = stmt.Step(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ThreadLikes(ctx context.Context, listName, threadID string) (likes, dislikes int, err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT
			SUM(CASE WHEN Vote.Value = 1 THEN 1 ELSE 0 END) AS Likes,
			SUM(CASE WHEN Vote.Value = -1 THEN 1 ELSE 0 END) AS Dislikes
		FROM Vote JOIN Email ON Vote.ListName = Email.ListName AND Vote.MessageID = Email.MessageID
		WHERE Email.ListName = $listName AND Email.ThreadID = $threadID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$threadID", threadID)
	if _, err = stmt.Step(); err != nil {
		return 0, 0, err
	}
	likes = int(stmt.GetInt64("Likes"))
	dislikes = int(stmt.GetInt64("Dislikes"))
	stmt.Reset()
	return likes, dislikes, nil
}

func (s *Store) EmailLikes(ctx context.Context, listName, messageID string) (likes, dislikes int, err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT
			SUM(CASE WHEN Value = 1 THEN 1 ELSE 0 END) AS Likes,
			SUM(CASE WHEN Value = -1 THEN 1 ELSE 0 END) AS Dislikes
		FROM Vote WHERE ListName = $listName AND MessageID = $messageID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$messageID", messageID)
	if _, err = stmt.Step(); err != nil {
		return 0, 0, err
	}
	likes = int(stmt.GetInt64("Likes"))
	dislikes = int(stmt.GetInt64("Dislikes"))
	stmt.Reset()
	return likes, dislikes, nil
}

func (s *Store) UserVotes(ctx context.Context, listName, userID string) (map[string]int, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT MessageID, Value FROM Vote WHERE ListName = $listName AND UserID = $userID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$userID", userID)

	votes := make(map[string]int)
	for {
		has, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		votes[stmt.GetText("MessageID")] = int(stmt.GetInt64("Value"))
	}
	return votes, nil
}

// -- Delete --

func (s *Store) DeleteMessageFromList(ctx context.Context, listName, messageID string) (err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`SELECT ThreadID FROM Email WHERE ListName = $listName AND MessageID = $messageID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$messageID", messageID)
	has, err := stmt.Step()
	if err != nil {
		return err
	}
	if !has {
		stmt.Reset()
		return &store.Error{Code: store.MessageNotFound, Message: messageID}
	}
	threadID := stmt.GetText("ThreadID")
	stmt.Reset()

	for _, table := range []string{"Vote", "Attachment", "EmailFull"} {
		stmt = conn.Prep(fmt.Sprintf(`DELETE FROM %s WHERE ListName = $listName AND MessageID = $messageID;`, table))
		stmt.SetText("$listName", listName)
		stmt.SetText("$messageID", messageID)
		if _, err = stmt.Step(); err != nil {
			return err
		}
	}

	stmt = conn.Prep(`DELETE FROM Email WHERE ListName = $listName AND MessageID = $messageID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$messageID", messageID)
	if _, err = stmt.Step(); err != nil {
		return err
	}

	stmt = conn.Prep(`SELECT COUNT(*) AS N FROM Email WHERE ListName = $listName AND ThreadID = $threadID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$threadID", threadID)
	if _, err = stmt.Step(); err != nil {
		return err
	}
	remaining := stmt.GetInt64("N")
	stmt.Reset()

	if remaining == 0 {
		stmt = conn.Prep(`DELETE FROM Thread WHERE ListName = $listName AND ThreadID = $threadID;`)
		stmt.SetText("$listName", listName)
		stmt.SetText("$threadID", threadID)
		if _, err = stmt.Step(); err != nil {
			return err
		}
	}
	return nil
}

// -- Senders & Users --

func (s *Store) UpsertSender(ctx context.Context, address, name string) (err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`INSERT INTO Sender (Address, Name) VALUES ($address, $name)
		ON CONFLICT (Address) DO UPDATE SET Name = excluded.Name;`)
	stmt.SetText("$address", address)
	stmt.SetText("$name", name)
	_, err = stmt.Step()
	return err
}

func (s *Store) SetSenderUserID(ctx context.Context, address, userID string) (err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`UPDATE Sender SET UserID = $userID WHERE Address = $address;`)
	stmt.SetText("$address", address)
	stmt.SetText("$userID", userID)
	_, err = stmt.Step()
	return err
}

func (s *Store) SendersWithoutUserID(ctx context.Context, afterAddress string, pageSize int) ([]store.Sender, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT Address, Name, UserID FROM Sender
		WHERE UserID = '' AND Address > $after ORDER BY Address LIMIT $limit;`)
	stmt.SetText("$after", afterAddress)
	stmt.SetInt64("$limit", int64(pageSize))

	var senders []store.Sender
	for {
		has, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		senders = append(senders, store.Sender{
			Address: stmt.GetText("Address"),
			Name:    stmt.GetText("Name"),
			UserID:  stmt.GetText("UserID"),
		})
	}
	return senders, nil
}

func (s *Store) UpsertUser(ctx context.Context, user store.User) (err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`INSERT INTO User (UserID, Name) VALUES ($userID, $name)
		ON CONFLICT (UserID) DO UPDATE SET Name = excluded.Name;`)
	stmt.SetText("$userID", user.ID)
	stmt.SetText("$name", user.Name)
	_, err = stmt.Step()
	return err
}

// -- Categories --

func (s *Store) AddCategory(ctx context.Context, name string) (id int64, err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`INSERT INTO Category (Name) VALUES ($name) ON CONFLICT (Name) DO UPDATE SET Name = excluded.Name;`)
	stmt.SetText("$name", name)
	if _, err = stmt.Step(); err != nil {
		return 0, err
	}

	stmt = conn.Prep(`SELECT CategoryID FROM Category WHERE Name = $name;`)
	stmt.SetText("$name", name)
	if _, err = stmt.Step(); err != nil {
		return 0, err
	}
	id = stmt.GetInt64("CategoryID")
	stmt.Reset()
	return id, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]store.Category, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT CategoryID, Name FROM Category ORDER BY Name;`)
	var cats []store.Category
	for {
		has, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		cats = append(cats, store.Category{ID: stmt.GetInt64("CategoryID"), Name: stmt.GetText("Name")})
	}
	return cats, nil
}

func (s *Store) SetThreadCategory(ctx context.Context, listName, threadID, category string) (err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`UPDATE Thread SET Category = $category WHERE ListName = $listName AND ThreadID = $threadID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$threadID", threadID)
	stmt.SetText("$category", category)
	_, err = stmt.Step()
	return err
}

// -- Aggregates --

func (s *Store) ThreadCounts(ctx context.Context, listName, threadID string) (emails, participants int, err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT COUNT(*) AS N, COUNT(DISTINCT SenderAddress) AS P
		FROM Email WHERE ListName = $listName AND ThreadID = $threadID;`)
	stmt.SetText("$listName", listName)
	stmt.SetText("$threadID", threadID)
	if _, err = stmt.Step(); err != nil {
		return 0, 0, err
	}
	emails = int(stmt.GetInt64("N"))
	participants = int(stmt.GetInt64("P"))
	stmt.Reset()
	return emails, participants, nil
}

func (s *Store) ListActivityCounts(ctx context.Context, listName string, start, end time.Time) (participants, threads int, err error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT COUNT(DISTINCT SenderAddress) AS P, COUNT(DISTINCT ThreadID) AS T
		FROM Email WHERE ListName = $listName AND Date >= $start AND Date < $end;`)
	stmt.SetText("$listName", listName)
	stmt.SetInt64("$start", start.Unix())
	stmt.SetInt64("$end", end.Unix())
	if _, err = stmt.Step(); err != nil {
		return 0, 0, err
	}
	participants = int(stmt.GetInt64("P"))
	threads = int(stmt.GetInt64("T"))
	stmt.Reset()
	return participants, threads, nil
}

var _ store.Store = (*Store)(nil)
