package search

import (
	"path/filepath"
	"testing"
)

func TestDelayedBuffersUntilFlush(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.bleve"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	d := NewDelayed(idx)
	if err := d.Add(Document{ListName: "list@example.org", MessageID: "m1@example.org", Subject: "buffered"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := idx.Search("buffered", "list@example.org", 1, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("Search before Flush = %+v, want 0 hits (buffered, not committed)", res)
	}

	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	res, err = idx.Search("buffered", "list@example.org", 1, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("Search after Flush = %+v, want 1 hit", res)
	}
}

func TestFlushClearsBuffer(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.bleve"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	d := NewDelayed(idx)
	if err := d.Add(Document{ListName: "list@example.org", MessageID: "m1@example.org"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(d.pending) != 0 {
		t.Fatalf("pending = %v after Flush, want empty", d.pending)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("second Flush (no-op): %v", err)
	}
}
