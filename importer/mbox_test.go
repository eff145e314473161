package importer

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crawshaw.io/iox"

	"listarchive/events"
	"listarchive/ingest"
	"listarchive/store"
	"listarchive/store/sqlitestore"
)

func newTestOrchestrator(t *testing.T) (*ingest.Orchestrator, *sqlitestore.Store) {
	t.Helper()
	st, err := sqlitestore.Open(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	filer := iox.NewFiler(0)
	t.Cleanup(func() { filer.Shutdown(context.Background()) })

	return ingest.New(st, events.New(nil, nil), filer, nil, nil), st
}

func mboxMessage(from, messageID, date, subject, body string) string {
	return "From " + from + " Mon Jan  1 00:00:00 2024\n" +
		"Message-ID: <" + messageID + ">\n" +
		"From: " + from + "\n" +
		"Date: " + date + "\n" +
		"Subject: " + subject + "\n" +
		"Content-Type: text/plain; charset=\"utf-8\"\n" +
		"\n" +
		body + "\n"
}

func TestFromMboxImportsEachMessage(t *testing.T) {
	orch, st := newTestOrchestrator(t)
	list := store.List{Name: "list@example.org", ArchivePolicy: store.ArchivePublic, CreatedAt: time.Now().UTC()}

	mbox := mboxMessage("a@example.org", "m1@example.org", "Mon, 01 Jan 2024 00:00:00 +0000", "first", "body one") +
		mboxMessage("b@example.org", "m2@example.org", "Tue, 02 Jan 2024 00:00:00 +0000", "second", "body two")

	res, err := FromMbox(context.Background(), orch, list, strings.NewReader(mbox), Options{})
	if err != nil {
		t.Fatalf("FromMbox: %v", err)
	}
	if res.Read != 2 || res.Stored != 2 || res.Skipped != 0 {
		t.Fatalf("res = %+v, want {Read: 2, Stored: 2, Skipped: 0}", res)
	}

	got, err := st.FindEmail(context.Background(), "list@example.org", "m1@example.org")
	if err != nil || got == nil {
		t.Fatalf("FindEmail m1: got=%v err=%v", got, err)
	}
}

func TestFromMboxSinceFiltersOlderMessages(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	list := store.List{Name: "list@example.org", ArchivePolicy: store.ArchivePublic, CreatedAt: time.Now().UTC()}

	mbox := mboxMessage("a@example.org", "old@example.org", "Mon, 01 Jan 2020 00:00:00 +0000", "old", "old body") +
		mboxMessage("b@example.org", "new@example.org", "Mon, 01 Jan 2024 00:00:00 +0000", "new", "new body")

	since := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := FromMbox(context.Background(), orch, list, strings.NewReader(mbox), Options{Since: since})
	if err != nil {
		t.Fatalf("FromMbox: %v", err)
	}
	if res.Stored != 1 {
		t.Fatalf("res = %+v, want Stored 1 (only the post-since message)", res)
	}
}

func TestFromMboxBadMessageIsSkippedNotFatal(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	list := store.List{Name: "list@example.org", ArchivePolicy: store.ArchivePublic, CreatedAt: time.Now().UTC()}

	mbox := "From a@example.org Mon Jan  1 00:00:00 2024\n" +
		"From: a@example.org\n" +
		"Subject: no message id\n" +
		"\n" +
		"this message has no Message-ID header\n" +
		mboxMessage("b@example.org", "good@example.org", "Mon, 01 Jan 2024 00:00:00 +0000", "good", "good body")

	res, err := FromMbox(context.Background(), orch, list, strings.NewReader(mbox), Options{})
	if err != nil {
		t.Fatalf("FromMbox: %v", err)
	}
	if res.Read != 2 || res.Stored != 1 || res.Skipped != 1 {
		t.Fatalf("res = %+v, want {Read: 2, Stored: 1, Skipped: 1}", res)
	}
}

func TestSplitMboxSeparatesOnFromLine(t *testing.T) {
	mbox := "From a@x Mon Jan 1\nmessage one\nmore of message one\nFrom b@x Tue Jan 2\nmessage two\n"
	var got []string
	for msg := range splitMbox(strings.NewReader(mbox)) {
		got = append(got, string(msg))
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2: %q", len(got), got)
	}
	if !strings.Contains(got[0], "message one") || strings.Contains(got[0], "message two") {
		t.Fatalf("got[0] = %q, want only message one's body", got[0])
	}
	if !strings.Contains(got[1], "message two") {
		t.Fatalf("got[1] = %q, want message two's body", got[1])
	}
}

func TestUnfoldSubjectJoinsFoldedLines(t *testing.T) {
	raw := []byte("Subject: this is a\n long folded\n subject\nFrom: a@x\n\nbody\n")
	got := string(unfoldSubject(raw))
	if !strings.Contains(got, "Subject: this is a long folded subject") {
		t.Fatalf("got = %q, want a single unfolded Subject line", got)
	}
}

func TestDedupeMessageIDRewritesOnCollision(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	ctx := context.Background()
	list := store.List{Name: "list@example.org", ArchivePolicy: store.ArchivePublic, CreatedAt: time.Now().UTC()}

	raw := []byte(mboxMessage("a@example.org", "dup@example.org", "Mon, 01 Jan 2024 00:00:00 +0000", "first", "one")[len("From a@example.org Mon Jan  1 00:00:00 2024\n"):])
	if _, err := orch.AddToList(ctx, list, raw); err != nil {
		t.Fatalf("AddToList (seed): %v", err)
	}

	rewritten := dedupeMessageID(ctx, orch.Store, "list@example.org", raw)
	if bytes.Equal(rewritten, raw) {
		t.Fatal("dedupeMessageID did not rewrite a colliding Message-ID")
	}
	if !strings.Contains(string(rewritten), "dup@example.org-") {
		t.Fatalf("rewritten = %q, want a randomized suffix on the original id", rewritten)
	}
}
