// Package pgstore implements store.Store on github.com/jackc/pgx/v5/pgxpool,
// selected when STORE_URL carries a postgres:// scheme. Wiring follows
// hackclub-news/main.go's pgxpool.ParseConfig + pgxpool.NewWithConfig
// style; SQL semantics (constraints, truncation points) match
// store/sqlitestore exactly so ingestion code is backend-agnostic.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"listarchive/store"
)

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to url (a postgres:// STORE_URL) and applies the
// head-revision schema if missing.
func Open(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("pgstore.Open: parsing config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore.Open: connecting: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("pgstore.Open: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createSQL); err != nil {
		return nil, fmt.Errorf("pgstore.Open: schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) UpsertList(ctx context.Context, list store.List) error {
	createdAt := list.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO "List" (Name, DisplayName, Description, SubjectPrefix, ArchivePolicy, CreatedAt)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (Name) DO UPDATE SET
			DisplayName = excluded.DisplayName,
			Description = excluded.Description,
			SubjectPrefix = excluded.SubjectPrefix,
			ArchivePolicy = excluded.ArchivePolicy;`,
		list.Name, list.DisplayName, list.Description, list.SubjectPrefix, string(list.ArchivePolicy), createdAt)
	return err
}

func (s *Store) GetList(ctx context.Context, name string) (*store.List, error) {
	row := s.pool.QueryRow(ctx, `SELECT DisplayName, Description, SubjectPrefix, ArchivePolicy, CreatedAt
		FROM "List" WHERE Name = $1;`, name)
	var l store.List
	l.Name = name
	var policy string
	if err := row.Scan(&l.DisplayName, &l.Description, &l.SubjectPrefix, &policy, &l.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	l.ArchivePolicy = store.ArchivePolicy(policy)
	return &l, nil
}

func (s *Store) FindEmail(ctx context.Context, listName, messageID string) (*store.Email, error) {
	return s.GetMessageByID(ctx, listName, messageID)
}

const emailColumns = `ListName, MessageID, MessageIDHash, SenderAddress, Subject, Content, Date, TimezoneMin, InReplyTo, ThreadID, ArchivedDate, ThreadDepth, ThreadOrder`

func scanEmail(row pgx.Row) (*store.Email, error) {
	var e store.Email
	if err := row.Scan(&e.ListName, &e.MessageID, &e.MessageIDHash, &e.SenderAddress, &e.Subject, &e.Content,
		&e.Date, &e.TimezoneMin, &e.InReplyTo, &e.ThreadID, &e.ArchivedDate, &e.ThreadDepth, &e.ThreadOrder); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetMessageByHash(ctx context.Context, listName, hash string) (*store.Email, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+emailColumns+` FROM "Email" WHERE ListName = $1 AND MessageIDHash = $2;`, listName, hash)
	return scanEmail(row)
}

func (s *Store) GetMessageByID(ctx context.Context, listName, messageID string) (*store.Email, error) {
	messageID = store.TruncateMessageID(messageID)
	row := s.pool.QueryRow(ctx, `SELECT `+emailColumns+` FROM "Email" WHERE ListName = $1 AND MessageID = $2;`, listName, messageID)
	return scanEmail(row)
}

func (s *Store) AddEmail(ctx context.Context, email store.Email, raw []byte, attachments []store.Attachment) error {
	err := s.addEmailOnce(ctx, email, raw, attachments)
	if isTransient(err) {
		time.Sleep(time.Second)
		err = s.addEmailOnce(ctx, email, raw, attachments)
	}
	return err
}

func isTransient(err error) bool {
	return false // pgx surfaces serialization failures via typed errors; extend here if a specific code needs a retry.
}

func (s *Store) addEmailOnce(ctx context.Context, email store.Email, raw []byte, attachments []store.Attachment) error {
	existing, err := s.GetMessageByID(ctx, email.ListName, email.MessageID)
	if err != nil {
		return err
	}
	if existing != nil {
		return &store.Error{Code: store.DuplicateMessage, Message: existing.MessageIDHash}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	archivedDate := email.ArchivedDate
	if archivedDate.IsZero() {
		archivedDate = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, `INSERT INTO "Thread" (ListName, ThreadID, DateActive, Subject)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ListName, ThreadID) DO UPDATE SET DateActive = GREATEST("Thread".DateActive, excluded.DateActive);`,
		email.ListName, email.ThreadID, email.Date, email.Subject); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO "Email" (`+emailColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`,
		email.ListName, email.MessageID, email.MessageIDHash, email.SenderAddress, email.Subject, email.Content,
		email.Date, email.TimezoneMin, email.InReplyTo, email.ThreadID, archivedDate, email.ThreadDepth, email.ThreadOrder); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO "EmailFull" (ListName, MessageID, Raw) VALUES ($1, $2, $3);`,
		email.ListName, email.MessageID, raw); err != nil {
		return err
	}

	for _, a := range attachments {
		if _, err := tx.Exec(ctx, `INSERT INTO "Attachment" (ListName, MessageID, Counter, Name, ContentType, Encoding, Size, Content)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`,
			email.ListName, email.MessageID, a.Counter, a.Name, a.ContentType, a.Encoding, a.Size, a.Content); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) GetThread(ctx context.Context, listName, threadID string) (*store.Thread, error) {
	row := s.pool.QueryRow(ctx, `SELECT DateActive, Category, Subject FROM "Thread" WHERE ListName = $1 AND ThreadID = $2;`, listName, threadID)
	t := &store.Thread{ListName: listName, ThreadID: threadID}
	if err := row.Scan(&t.DateActive, &t.Category, &t.Subject); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) GetThreads(ctx context.Context, listName string, start, end time.Time) ([]*store.Thread, error) {
	rows, err := s.pool.Query(ctx, `SELECT ThreadID, DateActive, Category, Subject FROM "Thread"
		WHERE ListName = $1 AND DateActive >= $2 AND DateActive < $3 ORDER BY DateActive DESC;`, listName, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Thread
	for rows.Next() {
		t := &store.Thread{ListName: listName}
		if err := rows.Scan(&t.ThreadID, &t.DateActive, &t.Category, &t.Subject); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetMessages(ctx context.Context, listName string, start, end time.Time) ([]*store.Email, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+emailColumns+` FROM "Email"
		WHERE ListName = $1 AND Date >= $2 AND Date < $3 ORDER BY Date DESC;`, listName, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Email
	for rows.Next() {
		var e store.Email
		if err := rows.Scan(&e.ListName, &e.MessageID, &e.MessageIDHash, &e.SenderAddress, &e.Subject, &e.Content,
			&e.Date, &e.TimezoneMin, &e.InReplyTo, &e.ThreadID, &e.ArchivedDate, &e.ThreadDepth, &e.ThreadOrder); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) GetThreadNeighbors(ctx context.Context, listName, threadID string) (prev, next *store.Thread, err error) {
	this, err := s.GetThread(ctx, listName, threadID)
	if err != nil || this == nil {
		return nil, nil, err
	}

	row := s.pool.QueryRow(ctx, `SELECT ThreadID, DateActive, Category, Subject FROM "Thread"
		WHERE ListName = $1 AND (DateActive < $2 OR (DateActive = $2 AND ThreadID < $3))
		ORDER BY DateActive DESC, ThreadID DESC LIMIT 1;`, listName, this.DateActive, threadID)
	prev = &store.Thread{ListName: listName}
	if serr := row.Scan(&prev.ThreadID, &prev.DateActive, &prev.Category, &prev.Subject); serr != nil {
		if serr != pgx.ErrNoRows {
			return nil, nil, serr
		}
		prev = nil
	}

	row = s.pool.QueryRow(ctx, `SELECT ThreadID, DateActive, Category, Subject FROM "Thread"
		WHERE ListName = $1 AND (DateActive > $2 OR (DateActive = $2 AND ThreadID > $3))
		ORDER BY DateActive ASC, ThreadID ASC LIMIT 1;`, listName, this.DateActive, threadID)
	next = &store.Thread{ListName: listName}
	if serr := row.Scan(&next.ThreadID, &next.DateActive, &next.Category, &next.Subject); serr != nil {
		if serr != pgx.ErrNoRows {
			return nil, nil, serr
		}
		next = nil
	}

	return prev, next, nil
}

func (s *Store) GetTopParticipants(ctx context.Context, listName string, start, end time.Time, limit int) ([]store.Participant, error) {
	rows, err := s.pool.Query(ctx, `SELECT SenderAddress, COUNT(*) AS N FROM "Email"
		WHERE ListName = $1 AND Date >= $2 AND Date < $3 GROUP BY SenderAddress ORDER BY N DESC LIMIT $4;`,
		listName, start, end, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Participant
	for rows.Next() {
		var p store.Participant
		if err := rows.Scan(&p.Address, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ThreadEmails(ctx context.Context, listName, threadID string) ([]store.Email, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+emailColumns+` FROM "Email" WHERE ListName = $1 AND ThreadID = $2;`, listName, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Email
	for rows.Next() {
		var e store.Email
		if err := rows.Scan(&e.ListName, &e.MessageID, &e.MessageIDHash, &e.SenderAddress, &e.Subject, &e.Content,
			&e.Date, &e.TimezoneMin, &e.InReplyTo, &e.ThreadID, &e.ArchivedDate, &e.ThreadDepth, &e.ThreadOrder); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ApplyThreadOrder(ctx context.Context, listName, threadID string, order, depth map[string]int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for messageID, ord := range order {
		if _, err := tx.Exec(ctx, `UPDATE "Email" SET ThreadOrder = $1, ThreadDepth = $2 WHERE ListName = $3 AND MessageID = $4;`,
			ord, depth[messageID], listName, messageID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) SetThreadSubject(ctx context.Context, listName, threadID, subject string) error {
	_, err := s.pool.Exec(ctx, `UPDATE "Thread" SET Subject = $1 WHERE ListName = $2 AND ThreadID = $3;`, subject, listName, threadID)
	return err
}

func (s *Store) Vote(ctx context.Context, listName, messageID, userID string, value int) (bool, error) {
	if value < -1 || value > 1 {
		return false, &store.Error{Code: store.InvalidVoteValue, Message: fmt.Sprintf("%d", value)}
	}

	var current int
	err := s.pool.QueryRow(ctx, `SELECT Value FROM "Vote" WHERE ListName = $1 AND MessageID = $2 AND UserID = $3;`,
		listName, messageID, userID).Scan(&current)
	has := true
	if err == pgx.ErrNoRows {
		has = false
	} else if err != nil {
		return false, err
	}

	if has && current == value {
		return false, nil
	}

	if value == 0 {
		if !has {
			return false, nil
		}
		_, err := s.pool.Exec(ctx, `DELETE FROM "Vote" WHERE ListName = $1 AND MessageID = $2 AND UserID = $3;`, listName, messageID, userID)
		return err == nil, err
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO "Vote" (ListName, MessageID, UserID, Value) VALUES ($1,$2,$3,$4)
		ON CONFLICT (ListName, MessageID, UserID) DO UPDATE SET Value = excluded.Value;`, listName, messageID, userID, value)
	return err == nil, err
}

func (s *Store) ThreadLikes(ctx context.Context, listName, threadID string) (likes, dislikes int, err error) {
	err = s.pool.QueryRow(ctx, `SELECT
			COALESCE(SUM(CASE WHEN Vote.Value = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN Vote.Value = -1 THEN 1 ELSE 0 END), 0)
		FROM "Vote" JOIN "Email" ON "Vote".ListName = "Email".ListName AND "Vote".MessageID = "Email".MessageID
		WHERE "Email".ListName = $1 AND "Email".ThreadID = $2;`, listName, threadID).Scan(&likes, &dislikes)
	return likes, dislikes, err
}

func (s *Store) EmailLikes(ctx context.Context, listName, messageID string) (likes, dislikes int, err error) {
	err = s.pool.QueryRow(ctx, `SELECT
			COALESCE(SUM(CASE WHEN Value = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN Value = -1 THEN 1 ELSE 0 END), 0)
		FROM "Vote" WHERE ListName = $1 AND MessageID = $2;`, listName, messageID).Scan(&likes, &dislikes)
	return likes, dislikes, err
}

func (s *Store) UserVotes(ctx context.Context, listName, userID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT MessageID, Value FROM "Vote" WHERE ListName = $1 AND UserID = $2;`, listName, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	votes := make(map[string]int)
	for rows.Next() {
		var mid string
		var v int
		if err := rows.Scan(&mid, &v); err != nil {
			return nil, err
		}
		votes[mid] = v
	}
	return votes, rows.Err()
}

func (s *Store) DeleteMessageFromList(ctx context.Context, listName, messageID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var threadID string
	if err := tx.QueryRow(ctx, `SELECT ThreadID FROM "Email" WHERE ListName = $1 AND MessageID = $2;`, listName, messageID).Scan(&threadID); err != nil {
		if err == pgx.ErrNoRows {
			return &store.Error{Code: store.MessageNotFound, Message: messageID}
		}
		return err
	}

	for _, table := range []string{"Vote", "Attachment", "EmailFull"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %q WHERE ListName = $1 AND MessageID = $2;`, table), listName, messageID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM "Email" WHERE ListName = $1 AND MessageID = $2;`, listName, messageID); err != nil {
		return err
	}

	var remaining int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM "Email" WHERE ListName = $1 AND ThreadID = $2;`, listName, threadID).Scan(&remaining); err != nil {
		return err
	}
	if remaining == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM "Thread" WHERE ListName = $1 AND ThreadID = $2;`, listName, threadID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) UpsertSender(ctx context.Context, address, name string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO "Sender" (Address, Name) VALUES ($1, $2)
		ON CONFLICT (Address) DO UPDATE SET Name = excluded.Name;`, address, name)
	return err
}

func (s *Store) SetSenderUserID(ctx context.Context, address, userID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE "Sender" SET UserID = $1 WHERE Address = $2;`, userID, address)
	return err
}

func (s *Store) SendersWithoutUserID(ctx context.Context, afterAddress string, pageSize int) ([]store.Sender, error) {
	rows, err := s.pool.Query(ctx, `SELECT Address, Name, UserID FROM "Sender"
		WHERE UserID = '' AND Address > $1 ORDER BY Address LIMIT $2;`, afterAddress, pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Sender
	for rows.Next() {
		var sd store.Sender
		if err := rows.Scan(&sd.Address, &sd.Name, &sd.UserID); err != nil {
			return nil, err
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}

func (s *Store) UpsertUser(ctx context.Context, user store.User) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO "User" (UserID, Name) VALUES ($1, $2)
		ON CONFLICT (UserID) DO UPDATE SET Name = excluded.Name;`, user.ID, user.Name)
	return err
}

func (s *Store) AddCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO "Category" (Name) VALUES ($1)
		ON CONFLICT (Name) DO UPDATE SET Name = excluded.Name RETURNING CategoryID;`, name).Scan(&id)
	return id, err
}

func (s *Store) ListCategories(ctx context.Context) ([]store.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT CategoryID, Name FROM "Category" ORDER BY Name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Category
	for rows.Next() {
		var c store.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetThreadCategory(ctx context.Context, listName, threadID, category string) error {
	_, err := s.pool.Exec(ctx, `UPDATE "Thread" SET Category = $1 WHERE ListName = $2 AND ThreadID = $3;`, category, listName, threadID)
	return err
}

func (s *Store) ThreadCounts(ctx context.Context, listName, threadID string) (emails, participants int, err error) {
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(DISTINCT SenderAddress) FROM "Email"
		WHERE ListName = $1 AND ThreadID = $2;`, listName, threadID).Scan(&emails, &participants)
	return emails, participants, err
}

func (s *Store) ListActivityCounts(ctx context.Context, listName string, start, end time.Time) (participants, threads int, err error) {
	err = s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT SenderAddress), COUNT(DISTINCT ThreadID) FROM "Email"
		WHERE ListName = $1 AND Date >= $2 AND Date < $3;`, listName, start, end).Scan(&participants, &threads)
	return participants, threads, err
}

var _ store.Store = (*Store)(nil)
