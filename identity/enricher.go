package identity

import (
	"context"

	"listarchive/events"
	"listarchive/store"
)

// enrichStore is the subset of store.Store the enricher needs; kept
// narrow so tests can supply a fake.
type enrichStore interface {
	SetSenderUserID(ctx context.Context, address, userID string) error
	SendersWithoutUserID(ctx context.Context, afterAddress string, pageSize int) ([]store.Sender, error)
	UpsertUser(ctx context.Context, user store.User) error
}

// Enricher implements events.MessageSubscriber: on every NewMessage it
// resolves the sender's user id, best-effort. Failures are swallowed —
// enrichment must never abort ingestion (spec.md §4.8).
type Enricher struct {
	Client *Client
	Store  enrichStore
	Logf   func(format string, v ...interface{})
}

func (e *Enricher) logf(format string, v ...interface{}) {
	if e.Logf != nil {
		e.Logf(format, v...)
	}
}

// OnNewMessage resolves ev's sender address for every message that has
// one. It does not check whether the sender already has a user id, so
// an already-resolved sender is looked up and set again. This runs
// after the ingest transaction commits (ingest.Orchestrator fires
// events post-commit), so an enrichment failure here can never roll
// back the email it concerns.
func (e *Enricher) OnNewMessage(ctx context.Context, ev events.NewMessage) error {
	if ev.Email.SenderAddress == "" {
		return nil
	}
	uid, err := e.Client.Resolve(ctx, ev.Email.SenderAddress)
	if err != nil {
		e.logf("identity: resolve %s: %v", ev.Email.SenderAddress, err)
		return nil
	}
	if uid == "" {
		return nil
	}
	if err := e.Store.UpsertUser(ctx, store.User{ID: uid}); err != nil {
		e.logf("identity: upsert user %s: %v", uid, err)
		return nil
	}
	if err := e.Store.SetSenderUserID(ctx, ev.Email.SenderAddress, uid); err != nil {
		e.logf("identity: set sender user id %s: %v", ev.Email.SenderAddress, err)
	}
	return nil
}

// SyncAllSenders batch-resolves every Sender row with no user id, in
// pages of 1000, stopping when a page yields no improvement (so a
// large population of permanently-unresolvable senders, e.g. departed
// mailing-list members, is not re-queried forever).
func SyncAllSenders(ctx context.Context, client *Client, st enrichStore, logf func(format string, v ...interface{})) error {
	const pageSize = 1000
	after := ""
	for {
		senders, err := st.SendersWithoutUserID(ctx, after, pageSize)
		if err != nil {
			return err
		}
		if len(senders) == 0 {
			return nil
		}

		resolved := 0
		for _, s := range senders {
			uid, err := client.Resolve(ctx, s.Address)
			if err != nil {
				if logf != nil {
					logf("identity: sync resolve %s: %v", s.Address, err)
				}
				continue
			}
			if uid == "" {
				continue
			}
			if err := st.UpsertUser(ctx, store.User{ID: uid}); err != nil {
				if logf != nil {
					logf("identity: sync upsert user %s: %v", uid, err)
				}
				continue
			}
			if err := st.SetSenderUserID(ctx, s.Address, uid); err != nil {
				if logf != nil {
					logf("identity: sync set sender user id %s: %v", s.Address, err)
				}
				continue
			}
			resolved++
		}

		after = senders[len(senders)-1].Address
		if resolved == 0 {
			return nil
		}
	}
}

var _ events.MessageSubscriber = (*Enricher)(nil)
