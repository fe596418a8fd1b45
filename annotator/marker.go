package annotator

import (
	"runtime"
	"sync"
	"weak"

	"golang.org/x/net/html"
)

// nodeSet associates nodes with a stamp without keeping them alive. When a
// node becomes unreachable (detached and dropped by the page) its entry is
// removed by a runtime cleanup; nothing has to unmark it explicitly.
type nodeSet struct {
	mu sync.Mutex
	m  map[weak.Pointer[html.Node]]string
}

func newNodeSet() *nodeSet {
	return &nodeSet{m: make(map[weak.Pointer[html.Node]]string)}
}

// mark records n with stamp. For text nodes the stamp is the node's data
// after annotation, so a later text change makes the node eligible again.
func (s *nodeSet) mark(n *html.Node, stamp string) {
	wp := weak.Make(n)
	s.mu.Lock()
	_, exists := s.m[wp]
	s.m[wp] = stamp
	s.mu.Unlock()
	if !exists {
		runtime.AddCleanup(n, s.forget, wp)
	}
}

func (s *nodeSet) forget(wp weak.Pointer[html.Node]) {
	s.mu.Lock()
	delete(s.m, wp)
	s.mu.Unlock()
}

func (s *nodeSet) lookup(n *html.Node) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp, ok := s.m[weak.Make(n)]
	return stamp, ok
}

func (s *nodeSet) has(n *html.Node) bool {
	_, ok := s.lookup(n)
	return ok
}

func (s *nodeSet) remove(n *html.Node) {
	s.mu.Lock()
	delete(s.m, weak.Make(n))
	s.mu.Unlock()
}

func (s *nodeSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
