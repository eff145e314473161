package search

import (
	"context"
	"strings"
	"time"

	"listarchive/store"
)

// rebuildStore is the subset of store.Store Rebuild needs.
type rebuildStore interface {
	GetList(ctx context.Context, name string) (*store.List, error)
	GetMessages(ctx context.Context, listName string, start, end time.Time) ([]*store.Email, error)
}

// Rebuild repopulates idx from scratch for every email of every named
// list, per spec.md §4.9's schema-upgrade rule: "if the user_id field
// is absent from an existing index, rebuild from scratch from the
// store." Attachment names are not reconstructed here since
// store.Store exposes them only per-message; callers needing exact
// attachment-name parity should instead replay ingestion.
func Rebuild(ctx context.Context, idx *Index, st rebuildStore, lists []string) error {
	farFuture := time.Now().AddDate(100, 0, 0)
	epoch := time.Unix(0, 0)

	for _, name := range lists {
		list, err := st.GetList(ctx, name)
		if err != nil {
			return err
		}
		if list == nil {
			continue
		}
		emails, err := st.GetMessages(ctx, name, epoch, farFuture)
		if err != nil {
			return err
		}
		for _, e := range emails {
			doc := Document{
				ListName:    e.ListName,
				MessageID:   e.MessageID,
				Sender:      e.SenderAddress,
				Subject:     e.Subject,
				Content:     e.Content,
				Date:        e.Date.Format(time.RFC3339),
				Tags:        strings.TrimSpace(""),
				PrivateList: list.ArchivePolicy == store.ArchivePrivate,
			}
			if err := idx.Add(doc); err != nil {
				return err
			}
		}
	}
	return nil
}
