// Package search implements the archive's full-text index, per spec.md
// §4.9, backed by github.com/blevesearch/bleve/v2 (the "optional
// full-text search library" spec.md §6 names abstractly; wired here
// since the retrieved example pack's go.mod references it).
package search

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Document is one indexed email. The json tags pin the field names bleve
// indexes under to the lowercase paths buildMapping and Search both use;
// without them bleve would index under the CamelCase Go field names and
// every mapped field/query pair below would silently miss.
type Document struct {
	ListName    string `json:"list_name"`
	MessageID   string `json:"message_id"`
	Sender      string `json:"sender"`
	UserID      string `json:"user_id"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
	Date        string `json:"date"`        // RFC3339
	Attachments string `json:"attachments"` // space-joined attachment names
	Tags        string `json:"tags"`        // comma-joined category/tag names
	PrivateList bool   `json:"private_list"`
}

// Index wraps a bleve.Index with the archive's fixed document mapping.
type Index struct {
	bleve bleve.Index
}

// Open opens (or creates, if absent) a directory-backed bleve index at
// dir using the archive's field mapping.
func Open(dir string) (*Index, error) {
	idx, err := bleve.Open(dir)
	if err == nil {
		if err := ensureUserIDField(idx); err != nil {
			return nil, err
		}
		return &Index{bleve: idx}, nil
	}

	idx, err = bleve.New(dir, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("search: creating index at %s: %w", dir, err)
	}
	return &Index{bleve: idx}, nil
}

// ensureUserIDField implements spec.md §4.9's Upgrade rule: if the
// user_id field is absent from an existing index, the caller must
// rebuild from the store. Open itself only detects the condition;
// Rebuild (below) does the work, since only the caller holds a Store.
func ensureUserIDField(idx bleve.Index) error {
	dm, ok := idx.Mapping().(*mapping.IndexMappingImpl)
	if !ok {
		return nil
	}
	// buildMapping registers the fields under the default type's
	// TypeMapping entry, not under DefaultMapping.
	doc := dm.DefaultMapping
	if tm, ok := dm.TypeMapping[dm.DefaultType]; ok {
		doc = tm
	}
	if doc == nil || doc.Properties["user_id"] == nil {
		return ErrNeedsRebuild
	}
	return nil
}

// ErrNeedsRebuild is returned by Open when the on-disk index predates
// the user_id field; the caller should reopen with OpenForRebuild and
// call Rebuild from the store.
var ErrNeedsRebuild = fmt.Errorf("search: index missing user_id field, rebuild required")

// OpenForRebuild opens dir without the user_id field check Open
// performs, so archive-updatedb can obtain a writable handle to rebuild
// an index that ErrNeedsRebuild was raised against.
func OpenForRebuild(dir string) (*Index, error) {
	idx, err := bleve.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("search: opening index at %s for rebuild: %w", dir, err)
	}
	return &Index{bleve: idx}, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	doc := bleve.NewDocumentMapping()

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"

	senderField := bleve.NewTextFieldMapping()
	senderField.Analyzer = "standard"

	subjectField := bleve.NewTextFieldMapping()
	subjectField.Analyzer = "en"

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = "en"

	dateField := bleve.NewDateTimeFieldMapping()

	boolField := bleve.NewBooleanFieldMapping()

	doc.AddFieldMappingsAt("list_name", keyword)
	doc.AddFieldMappingsAt("message_id", keyword)
	doc.AddFieldMappingsAt("sender", senderField)
	doc.AddFieldMappingsAt("user_id", keyword)
	doc.AddFieldMappingsAt("subject", subjectField)
	doc.AddFieldMappingsAt("content", contentField)
	doc.AddFieldMappingsAt("date", dateField)
	doc.AddFieldMappingsAt("attachments", keyword)
	doc.AddFieldMappingsAt("tags", keyword)
	doc.AddFieldMappingsAt("private_list", boolField)

	im.AddDocumentMapping("_default", doc)
	return im
}

// Add indexes one email document, keyed by its message id so a later
// Add for the same message id updates the existing document.
func (idx *Index) Add(d Document) error {
	return idx.bleve.Index(d.MessageID, d)
}

// Delete removes a document by message id.
func (idx *Index) Delete(messageID string) error {
	return idx.bleve.Delete(messageID)
}

// Close closes the underlying bleve index.
func (idx *Index) Close() error {
	return idx.bleve.Close()
}

// Result is one hit in a Results page.
type Result struct {
	ListName  string
	MessageID string
	Score     float64
}

// Results is a page of search hits.
type Results struct {
	Total   uint64
	Results []Result
}

// Search runs a multifield query over sender/subject/content/
// attachments, per spec.md §4.9: if list is non-empty, results are
// restricted to it; otherwise the search is restricted to
// private_list=false (public-only cross-list search). page is
// 1-indexed; pageSize bounds the number of hits returned.
func (idx *Index) Search(q, list string, page, pageSize int) (*Results, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	fieldQuery := bleve.NewDisjunctionQuery(
		fieldMatch("sender", q),
		fieldMatch("subject", q),
		fieldMatch("content", q),
		fieldMatch("attachments", q),
	)

	var scope query.Query
	if list != "" {
		scope = termQuery("list_name", list)
	} else {
		scope = boolQuery("private_list", false)
	}

	finalQuery := bleve.NewConjunctionQuery(fieldQuery, scope)

	req := bleve.NewSearchRequestOptions(finalQuery, pageSize, (page-1)*pageSize, false)
	res, err := idx.bleve.Search(req)
	if err != nil {
		return nil, err
	}

	out := &Results{Total: res.Total}
	for _, hit := range res.Hits {
		out.Results = append(out.Results, Result{MessageID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

func fieldMatch(field, q string) query.Query {
	mq := bleve.NewMatchQuery(q)
	mq.SetField(field)
	if field == "subject" {
		mq.SetBoost(2) // spec.md §4.9: subject is double-weighted
	}
	return mq
}

func termQuery(field, value string) query.Query {
	tq := bleve.NewTermQuery(value)
	tq.SetField(field)
	return tq
}

func boolQuery(field string, value bool) query.Query {
	bq := bleve.NewBoolFieldQuery(value)
	bq.SetField(field)
	return bq
}
