// Package ingest implements IngestOrchestrator, the end-to-end
// add-to-list pipeline of spec.md §4.10, wiring idcodec, scrub, thread,
// store, events and, optionally, identity enrichment and search
// indexing.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"crawshaw.io/iox"

	"listarchive/events"
	"listarchive/idcodec"
	"listarchive/scrub"
	"listarchive/store"
	"listarchive/thread"
)

// Orchestrator runs AddToList against a Store, firing events and
// optionally indexing for search. Construct one per process; it holds
// no per-call state.
type Orchestrator struct {
	Store store.Store
	Bus   *events.Bus
	Filer *iox.Filer
	Index Indexer // optional; nil disables search indexing
	Logf  func(format string, v ...interface{})
}

// Indexer is the subset of search.Index/search.Delayed ingest needs.
type Indexer interface {
	Add(d IndexDocument) error
}

// IndexDocument mirrors search.Document's shape without ingest
// importing the search package directly, so tests can supply a fake
// Indexer without pulling in bleve.
type IndexDocument struct {
	ListName    string
	MessageID   string
	Sender      string
	Subject     string
	Content     string
	Date        string
	Attachments string
	PrivateList bool
}

// New builds an Orchestrator. index may be nil to disable search.
func New(st store.Store, bus *events.Bus, filer *iox.Filer, index Indexer, logf func(format string, v ...interface{})) *Orchestrator {
	return &Orchestrator{Store: st, Bus: bus, Filer: filer, Index: index, Logf: logf}
}

func (o *Orchestrator) logf(format string, v ...interface{}) {
	if o.Logf != nil {
		o.Logf(format, v...)
	}
}

// AddToList runs the 13-step pipeline of spec.md §4.10 and returns the
// new email's message-id hash. A duplicate (list, message-id) is not
// an error: the existing hash is returned. archive_policy=never drops
// the message and returns ("", nil).
func (o *Orchestrator) AddToList(ctx context.Context, list store.List, raw []byte) (string, error) {
	// Step 1: mirror the list, latest-wins.
	if err := o.Store.UpsertList(ctx, list); err != nil {
		return "", fmt.Errorf("ingest: upsert list: %w", err)
	}
	if list.ArchivePolicy == store.ArchiveNever {
		return "", nil
	}

	hdr, err := parseHeaders(raw)
	if err != nil {
		return "", fmt.Errorf("ingest: parsing headers: %w", err)
	}

	// Step 2-3: Message-ID required, truncated, hashed, deduped.
	if hdr.MessageID == "" {
		return "", &store.Error{Code: store.InvalidMessage, Message: "missing Message-ID"}
	}
	messageID := store.TruncateMessageID(strings.Trim(hdr.MessageID, "<> \t"))
	hash := idcodec.HashMessageID(messageID)

	existing, err := o.Store.FindEmail(ctx, list.Name, messageID)
	if err != nil {
		return "", fmt.Errorf("ingest: checking for duplicate: %w", err)
	}
	if existing != nil {
		o.logf("ingest: duplicate message %s on list %s, reusing hash", messageID, list.Name)
		return existing.MessageIDHash, nil
	}

	// Step 4: resolve the parent, if any, within this list.
	parentID, hasParent := idcodec.GetRef(hdr.InReplyTo, hdr.References)
	if hasParent {
		parentID = store.TruncateMessageID(parentID)
		if parentID == messageID {
			hasParent = false // no self-reply, per spec.md §3
		}
	}
	var parentThreadID string
	if hasParent {
		parent, err := o.Store.FindEmail(ctx, list.Name, parentID)
		if err != nil {
			return "", fmt.Errorf("ingest: looking up parent: %w", err)
		}
		if parent != nil {
			parentThreadID = parent.ThreadID
		} else {
			hasParent = false
		}
	}

	// Step 5: scrub body + attachments.
	result, err := scrub.Scrub(o.Filer, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("ingest: scrubbing: %w", err)
	}

	// Step 6: sender.
	senderName, senderAddress := idcodec.ParseAddress(hdr.From)
	if senderAddress != "" {
		if err := o.Store.UpsertSender(ctx, senderAddress, senderName); err != nil {
			return "", fmt.Errorf("ingest: upsert sender: %w", err)
		}
	}

	// Step 7: date, falling back to now UTC when absent/unparseable.
	date, tzMinutes, err := idcodec.ParseDate(hdr.Date)
	if err != nil {
		date = time.Now().UTC()
		tzMinutes = 0
	}

	// Step 8: allocate/join thread.
	var placement thread.Placement
	if hasParent {
		placement = thread.Place(hash, parentID, parentThreadID)
	} else {
		placement = thread.Place(hash, "", "")
	}

	email := store.Email{
		ListName:      list.Name,
		MessageID:     messageID,
		MessageIDHash: hash,
		SenderAddress: senderAddress,
		Subject:       store.TruncateSubject(hdr.Subject),
		Content:       result.Text,
		Date:          date,
		TimezoneMin:   tzMinutes,
		InReplyTo:     placement.InReplyTo,
		ThreadID:      placement.ThreadID,
		ArchivedDate:  time.Now().UTC(),
	}

	attachments := make([]store.Attachment, len(result.Attachments))
	for i, a := range result.Attachments {
		attachments[i] = store.Attachment{
			ListName:    list.Name,
			MessageID:   messageID,
			Counter:     a.Counter,
			Name:        a.Name,
			ContentType: a.ContentType,
			Encoding:    a.Encoding,
			Size:        int64(len(a.Content)),
			Content:     a.Content,
		}
	}

	// Step 9: persist in one transaction.
	if err := o.Store.AddEmail(ctx, email, raw, attachments); err != nil {
		if store.IsDuplicateMessage(err) {
			serr := err.(*store.Error)
			return serr.Message, nil
		}
		return "", fmt.Errorf("ingest: persisting email: %w", err)
	}

	// Step 10: recompute order/depth across the whole thread.
	if err := o.recomputeThread(ctx, list.Name, placement.ThreadID); err != nil {
		return "", fmt.Errorf("ingest: recomputing thread: %w", err)
	}

	// Step 11: fire NewMessage, then NewThread if this started one.
	if o.Bus != nil {
		if err := o.Bus.PublishNewMessage(ctx, events.NewMessage{List: list, Email: email}); err != nil {
			return "", fmt.Errorf("ingest: NewMessage subscriber: %w", err)
		}
		if placement.IsNewRoot {
			t, err := o.Store.GetThread(ctx, list.Name, placement.ThreadID)
			if err != nil {
				return "", fmt.Errorf("ingest: loading new thread: %w", err)
			}
			if t != nil {
				if err := o.Bus.PublishNewThread(ctx, events.NewThread{List: list, Thread: *t}); err != nil {
					return "", fmt.Errorf("ingest: NewThread subscriber: %w", err)
				}
			}
		}
	}

	// Step 12: index for search, if attached.
	if o.Index != nil {
		attachmentNames := ""
		for i, a := range attachments {
			if i > 0 {
				attachmentNames += " "
			}
			attachmentNames += a.Name
		}

		// A message whose only body part was HTML has an empty
		// Content (scrub.Scrub never populates it from HTML, matching
		// kittystore's test_html_only_email). Fall back to extracted
		// HTML text for the search index only; the stored email's
		// Content is untouched.
		indexContent := email.Content
		if indexContent == "" {
			for _, a := range attachments {
				if a.Name == "attachment.html" && a.ContentType == "text/html" {
					indexContent = scrub.HTMLText(a.Content)
					break
				}
			}
		}

		doc := IndexDocument{
			ListName:    list.Name,
			MessageID:   messageID,
			Sender:      senderAddress,
			Subject:     email.Subject,
			Content:     indexContent,
			Date:        email.Date.Format(time.RFC3339),
			Attachments: attachmentNames,
			PrivateList: list.ArchivePolicy == store.ArchivePrivate,
		}
		if err := o.Index.Add(doc); err != nil {
			o.logf("ingest: indexing %s: %v", messageID, err)
		}
	}

	// Step 13.
	return hash, nil
}

func (o *Orchestrator) recomputeThread(ctx context.Context, listName, threadID string) error {
	emails, err := o.Store.ThreadEmails(ctx, listName, threadID)
	if err != nil {
		return err
	}
	nodes := make([]thread.Node, len(emails))
	for i, e := range emails {
		nodes[i] = thread.Node{
			MessageID: e.MessageID,
			InReplyTo: e.InReplyTo,
			Date:      e.Date,
			Seq:       int(e.ArchivedDate.UnixNano()),
		}
	}
	assignments, startID := thread.Recompute(nodes)

	order := make(map[string]int, len(assignments))
	depth := make(map[string]int, len(assignments))
	for _, a := range assignments {
		order[a.MessageID] = a.Order
		depth[a.MessageID] = a.Depth
	}
	if err := o.Store.ApplyThreadOrder(ctx, listName, threadID, order, depth); err != nil {
		return err
	}

	if startID != "" {
		for _, e := range emails {
			if e.MessageID == startID {
				if err := o.Store.SetThreadSubject(ctx, listName, threadID, e.Subject); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}
