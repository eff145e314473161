package thread

import (
	"sort"
	"time"
)

// Node is one email's thread-relevant state, as seen by the engine. A
// full thread recomputation walks every Node currently belonging to a
// thread, not just the one being appended.
type Node struct {
	MessageID string
	// InReplyTo is the raw parent message-id this email declares, as
	// resolved by Ref. It may name an id outside the current node set
	// (partial history) or be empty (declared root).
	InReplyTo string
	Date      time.Time
	// Seq is the original insertion order of this email into the
	// thread, used to break ties deterministically: children are
	// visited in ascending Seq, and start-email/date ties favor the
	// earliest Seq.
	Seq int
}

// Placement is the outcome of joining or starting a thread for a single
// new message, per the allocate/join step that precedes recomputation.
type Placement struct {
	ThreadID  string
	InReplyTo string // empty when starting a new thread
	IsNewRoot bool
}

// Place decides whether a message starts a new thread or joins its
// parent's, given the parent's thread id and message id (empty parentID
// means the parent could not be resolved, or was resolved but is absent
// from this list's store).
func Place(messageIDHash, parentMessageID, parentThreadID string) Placement {
	if parentMessageID == "" || parentThreadID == "" {
		return Placement{ThreadID: messageIDHash, IsNewRoot: true}
	}
	return Placement{ThreadID: parentThreadID, InReplyTo: parentMessageID}
}

// Assignment is the recomputed order/depth for one email in a thread.
type Assignment struct {
	MessageID string
	Order     int
	Depth     int
}

// Recompute rebuilds thread_order and thread_depth for every email
// currently in a thread, after an append. It builds a parent→child
// edge per email whose InReplyTo names another email in the set,
// testing acyclicity before accepting each edge; a would-be edge that
// closes a cycle is dropped so thread membership is never broken. It
// then walks the resulting forest depth-first, starting from the
// selected starting email, visiting children in ascending Seq order.
//
// The returned slice is in traversal (assignment) order; StartingEmail
// reports which message-id the traversal began from.
func Recompute(nodes []Node) (assignments []Assignment, startingEmail string) {
	if len(nodes) == 0 {
		return nil, ""
	}

	byID := make(map[string]*Node, len(nodes))
	for i := range nodes {
		byID[nodes[i].MessageID] = &nodes[i]
	}

	children := make(map[string][]string) // accepted edges only
	hasParent := make(map[string]bool)     // accepted incoming edge

	ordered := append([]Node(nil), nodes...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	for _, n := range ordered {
		if n.InReplyTo == "" {
			continue
		}
		if _, present := byID[n.InReplyTo]; !present {
			continue // parent outside this thread's current node set
		}
		if reaches(children, n.MessageID, n.InReplyTo) {
			continue // accepting this edge would close a cycle
		}
		children[n.InReplyTo] = append(children[n.InReplyTo], n.MessageID)
		hasParent[n.MessageID] = true
	}

	start := selectStart(ordered)
	startingEmail = start

	visited := make(map[string]bool, len(nodes))
	counter := 0
	var assign []Assignment

	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		if visited[id] {
			return
		}
		visited[id] = true
		assign = append(assign, Assignment{MessageID: id, Order: counter, Depth: depth})
		counter++
		kids := append([]string(nil), children[id]...)
		sort.SliceStable(kids, func(i, j int) bool {
			return byID[kids[i]].Seq < byID[kids[j]].Seq
		})
		for _, k := range kids {
			walk(k, depth+1)
		}
	}

	if start != "" {
		walk(start, 0)
	}
	// Cover any remaining roots left unvisited: partial-history emails
	// whose parent lies outside the set, or edges dropped to break a
	// cycle. Visited in ascending Seq so the walk stays deterministic.
	for _, n := range ordered {
		if !visited[n.MessageID] {
			walk(n.MessageID, 0)
		}
	}

	return assign, startingEmail
}

// reaches reports whether, in the edges accepted so far plus the
// candidate edge parent->child, child can already reach parent -
// i.e. whether child is an ancestor of parent in the graph built so
// far. If so, adding parent->child would close a cycle.
func reaches(children map[string][]string, child, parent string) bool {
	if child == parent {
		return true
	}
	visited := make(map[string]bool)
	var dfs func(id string) bool
	dfs = func(id string) bool {
		if id == parent {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for _, k := range children[id] {
			if dfs(k) {
				return true
			}
		}
		return false
	}
	return dfs(child)
}

// selectStart implements the starting-email tie-break: an email with a
// null in_reply_to wins outright (earliest date breaks ties among
// several); absent one, the earliest-dated email in the whole thread
// is the start. In_reply_to takes precedence over date order, so a
// reply dated earlier than its parent never becomes the start.
func selectStart(ordered []Node) string {
	if len(ordered) == 0 {
		return ""
	}
	var roots []Node
	for _, n := range ordered {
		if n.InReplyTo == "" {
			roots = append(roots, n)
		}
	}
	candidates := roots
	if len(candidates) == 0 {
		candidates = ordered
	}
	best := candidates[0]
	for _, n := range candidates[1:] {
		if n.Date.Before(best.Date) || (n.Date.Equal(best.Date) && n.Seq < best.Seq) {
			best = n
		}
	}
	return best.MessageID
}
