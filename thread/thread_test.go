package thread

import (
	"testing"
	"time"
)

func TestRef(t *testing.T) {
	tests := []struct {
		name                 string
		inReplyTo, reference string
		want                 string
		wantOK               bool
	}{
		{"in-reply-to wins", "<a@x>", "<b@x> <c@x>", "a@x", true},
		{"falls back to last reference", "", "<b@x> <c@x>", "c@x", true},
		{"none", "", "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Ref(tc.inReplyTo, tc.reference)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("Ref(%q, %q) = %q, %v; want %q, %v", tc.inReplyTo, tc.reference, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestPlaceStartsNewThreadWhenParentUnresolved(t *testing.T) {
	p := Place("HASH1", "", "")
	if !p.IsNewRoot || p.ThreadID != "HASH1" {
		t.Fatalf("Place = %+v, want new root HASH1", p)
	}
}

func TestPlaceJoinsParentThread(t *testing.T) {
	p := Place("HASH2", "parent@x", "THREAD1")
	if p.IsNewRoot || p.ThreadID != "THREAD1" || p.InReplyTo != "parent@x" {
		t.Fatalf("Place = %+v, want join THREAD1", p)
	}
}

func day(n int) time.Time {
	return time.Date(2020, 1, n, 0, 0, 0, 0, time.UTC)
}

func TestRecomputeSimpleChain(t *testing.T) {
	nodes := []Node{
		{MessageID: "a", InReplyTo: "", Date: day(1), Seq: 0},
		{MessageID: "b", InReplyTo: "a", Date: day(2), Seq: 1},
		{MessageID: "c", InReplyTo: "b", Date: day(3), Seq: 2},
	}
	got, start := Recompute(nodes)
	if start != "a" {
		t.Fatalf("start = %q, want a", start)
	}
	want := []Assignment{
		{MessageID: "a", Order: 0, Depth: 0},
		{MessageID: "b", Order: 1, Depth: 1},
		{MessageID: "c", Order: 2, Depth: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d assignments, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("assignment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRecomputeChildrenInInsertionOrder(t *testing.T) {
	nodes := []Node{
		{MessageID: "root", InReplyTo: "", Date: day(1), Seq: 0},
		{MessageID: "late-reply", InReplyTo: "root", Date: day(5), Seq: 2},
		{MessageID: "early-reply", InReplyTo: "root", Date: day(3), Seq: 1},
	}
	got, _ := Recompute(nodes)
	if got[1].MessageID != "early-reply" || got[2].MessageID != "late-reply" {
		t.Fatalf("got order %v, want early-reply before late-reply (by Seq)", got)
	}
}

func TestRecomputeDropsCycleEdge(t *testing.T) {
	// b replies to a, and a (maliciously or via corrupt headers)
	// declares it replies to b: accepting a->b would close a cycle,
	// so the a->b edge must be dropped, not the whole thread.
	nodes := []Node{
		{MessageID: "a", InReplyTo: "b", Date: day(1), Seq: 0},
		{MessageID: "b", InReplyTo: "a", Date: day(2), Seq: 1},
	}
	got, start := Recompute(nodes)
	if len(got) != 2 {
		t.Fatalf("got %d assignments, want 2 (no email dropped)", len(got))
	}
	if start != "a" {
		t.Fatalf("start = %q, want a (earliest date, since neither declares a null in_reply_to)", start)
	}
}

func TestRecomputeSelfReplyNeverLoops(t *testing.T) {
	nodes := []Node{
		{MessageID: "a", InReplyTo: "a", Date: day(1), Seq: 0},
	}
	got, start := Recompute(nodes)
	if len(got) != 1 || start != "a" {
		t.Fatalf("got %v, start %q; want single node a, start a", got, start)
	}
	if got[0].Depth != 0 {
		t.Errorf("depth = %d, want 0", got[0].Depth)
	}
}

func TestRecomputeStartPrefersNullInReplyToOverDate(t *testing.T) {
	nodes := []Node{
		// b has no resolvable in_reply_to but is dated earlier than a,
		// the explicit root with a null in_reply_to. a must still win.
		{MessageID: "b", InReplyTo: "missing-parent@x", Date: day(0), Seq: 1},
		{MessageID: "a", InReplyTo: "", Date: day(1), Seq: 0},
	}
	_, start := Recompute(nodes)
	if start != "a" {
		t.Fatalf("start = %q, want a (null in_reply_to beats earlier date)", start)
	}
}

func TestRecomputePartialHistoryOrphanStillAssigned(t *testing.T) {
	nodes := []Node{
		{MessageID: "a", InReplyTo: "", Date: day(1), Seq: 0},
		{MessageID: "orphan", InReplyTo: "not-in-store@x", Date: day(2), Seq: 1},
	}
	got, _ := Recompute(nodes)
	if len(got) != 2 {
		t.Fatalf("got %d assignments, want 2", len(got))
	}
	seen := map[string]bool{}
	for _, a := range got {
		seen[a.MessageID] = true
	}
	if !seen["orphan"] {
		t.Error("orphan message was not assigned an order/depth")
	}
}
