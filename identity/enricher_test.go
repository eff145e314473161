package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"listarchive/events"
	"listarchive/store"
)

type fakeEnrichStore struct {
	senderUserIDs map[string]string
	users         map[string]store.User
	pages         [][]store.Sender
	pageCalls     int
}

func (f *fakeEnrichStore) SetSenderUserID(ctx context.Context, address, userID string) error {
	f.senderUserIDs[address] = userID
	return nil
}

func (f *fakeEnrichStore) UpsertUser(ctx context.Context, user store.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeEnrichStore) SendersWithoutUserID(ctx context.Context, afterAddress string, pageSize int) ([]store.Sender, error) {
	if f.pageCalls >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.pageCalls]
	f.pageCalls++
	return page, nil
}

func TestOnNewMessageSkipsEmptySender(t *testing.T) {
	fs := &fakeEnrichStore{senderUserIDs: map[string]string{}, users: map[string]store.User{}}
	e := &Enricher{Client: New("http://unused.invalid", "u", "p"), Store: fs}
	if err := e.OnNewMessage(context.Background(), events.NewMessage{Email: store.Email{SenderAddress: ""}}); err != nil {
		t.Fatalf("OnNewMessage: %v", err)
	}
	if len(fs.senderUserIDs) != 0 {
		t.Fatal("SetSenderUserID should not be called for an empty sender address")
	}
}

func TestOnNewMessageResolvesAndUpserts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user_id": 9}`))
	}))
	defer srv.Close()

	fs := &fakeEnrichStore{senderUserIDs: map[string]string{}, users: map[string]store.User{}}
	e := &Enricher{Client: New(srv.URL, "u", "p"), Store: fs}

	ev := events.NewMessage{Email: store.Email{SenderAddress: "alice@example.org"}}
	if err := e.OnNewMessage(context.Background(), ev); err != nil {
		t.Fatalf("OnNewMessage: %v", err)
	}
	if fs.senderUserIDs["alice@example.org"] == "" {
		t.Fatal("sender was not assigned a user id")
	}
}

func TestOnNewMessageNeverPropagatesResolveFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fs := &fakeEnrichStore{senderUserIDs: map[string]string{}, users: map[string]store.User{}}
	e := &Enricher{Client: New(srv.URL, "u", "p"), Store: fs}

	ev := events.NewMessage{Email: store.Email{SenderAddress: "alice@example.org"}}
	if err := e.OnNewMessage(context.Background(), ev); err != nil {
		t.Fatalf("OnNewMessage must swallow resolve errors, got: %v", err)
	}
}

func TestSyncAllSendersStopsWhenPageResolvesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fs := &fakeEnrichStore{
		senderUserIDs: map[string]string{},
		users:         map[string]store.User{},
		pages: [][]store.Sender{
			{{Address: "a@example.org"}, {Address: "b@example.org"}},
			{{Address: "c@example.org"}}, // must never be reached
		},
	}
	client := New(srv.URL, "u", "p")
	if err := SyncAllSenders(context.Background(), client, fs, nil); err != nil {
		t.Fatalf("SyncAllSenders: %v", err)
	}
	if fs.pageCalls != 1 {
		t.Fatalf("pageCalls = %d, want 1 (must stop after a zero-resolved page)", fs.pageCalls)
	}
}

func TestSyncAllSendersPaginatesUntilExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user_id": 1}`))
	}))
	defer srv.Close()

	fs := &fakeEnrichStore{
		senderUserIDs: map[string]string{},
		users:         map[string]store.User{},
		pages: [][]store.Sender{
			{{Address: "a@example.org"}},
			{{Address: "b@example.org"}},
		},
	}
	client := New(srv.URL, "u", "p")
	if err := SyncAllSenders(context.Background(), client, fs, nil); err != nil {
		t.Fatalf("SyncAllSenders: %v", err)
	}
	if fs.pageCalls != 2 {
		t.Fatalf("pageCalls = %d, want 2", fs.pageCalls)
	}
	if len(fs.senderUserIDs) != 2 {
		t.Fatalf("resolved %d senders, want 2", len(fs.senderUserIDs))
	}
}
