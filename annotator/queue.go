package annotator

import (
	"slices"

	"golang.org/x/net/html"
)

// scanQueue is an ordered, deduplicated set of subtree roots awaiting a
// cycle. A root already queued is not queued again until drained.
type scanQueue struct {
	roots []*html.Node
	index map[*html.Node]struct{}
}

func newScanQueue() *scanQueue {
	return &scanQueue{index: make(map[*html.Node]struct{})}
}

// push queues n. It returns false when n was already queued.
func (q *scanQueue) push(n *html.Node) bool {
	if n == nil {
		return false
	}
	if _, ok := q.index[n]; ok {
		return false
	}
	q.index[n] = struct{}{}
	q.roots = append(q.roots, n)
	return true
}

func (q *scanQueue) len() int { return len(q.roots) }

// drain empties the queue and returns its roots in document order. Roots
// nested under another queued root are dropped; the outer walk covers them.
func (q *scanQueue) drain() []*html.Node {
	if len(q.roots) == 0 {
		return nil
	}
	roots := q.roots
	q.roots = nil
	clear(q.index)

	type keyed struct {
		n    *html.Node
		path []int
	}
	ks := make([]keyed, len(roots))
	for i, n := range roots {
		ks[i] = keyed{n: n, path: siblingPath(n)}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int {
		return slices.Compare(a.path, b.path)
	})

	out := make([]*html.Node, 0, len(ks))
	for _, k := range ks {
		nested := false
		for _, outer := range out {
			if outer != k.n && contains(outer, k.n) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, k.n)
		}
	}
	return out
}
