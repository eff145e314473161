package search

import "sync"

// Indexer is the subset of *Index the ingest and import paths need;
// Delayed and *Index both satisfy it.
type Indexer interface {
	Add(d Document) error
}

// Delayed buffers Add calls in memory and only commits them to the
// wrapped index on Flush, per spec.md §4.9: bulk imports must use it to
// avoid a per-message index commit.
type Delayed struct {
	mu      sync.Mutex
	index   *Index
	pending []Document
}

// NewDelayed wraps index with in-memory buffering.
func NewDelayed(index *Index) *Delayed {
	return &Delayed{index: index}
}

// Add buffers d; it is not visible to Search until Flush.
func (d *Delayed) Add(doc Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, doc)
	return nil
}

// Flush commits every buffered document to the underlying index and
// clears the buffer, succeeding or failing as a whole.
func (d *Delayed) Flush() error {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	batch := d.index.bleve.NewBatch()
	for _, doc := range pending {
		if err := batch.Index(doc.MessageID, doc); err != nil {
			return err
		}
	}
	return d.index.bleve.Batch(batch)
}

var _ Indexer = (*Delayed)(nil)
var _ Indexer = (*Index)(nil)
