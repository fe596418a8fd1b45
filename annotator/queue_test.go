package annotator

import (
	"strings"
	"testing"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

func mustParse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func q(t *testing.T, root *html.Node, sel string) *html.Node {
	t.Helper()
	n := cascadia.Query(root, cascadia.MustCompile(sel))
	if n == nil {
		t.Fatalf("no node for %q", sel)
	}
	return n
}

func TestScanQueue_DocumentOrder(t *testing.T) {
	doc := mustParse(t, `<div id="a"><p id="a1"></p></div><div id="b"></div><div id="c"></div>`)
	a, a1, b, c := q(t, doc, "#a"), q(t, doc, "#a1"), q(t, doc, "#b"), q(t, doc, "#c")

	sq := newScanQueue()
	for _, n := range []*html.Node{c, a1, b} {
		sq.push(n)
	}
	if sq.push(b) {
		t.Error("duplicate push should report false")
	}
	got := sq.drain()
	want := []*html.Node{a1, b, c}
	if len(got) != len(want) {
		t.Fatalf("drain: got %d roots, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("root %d out of order", i)
		}
	}

	if sq.len() != 0 {
		t.Fatalf("queue not empty after drain")
	}
	if !sq.push(b) {
		t.Error("push after drain should succeed")
	}

	sq.push(a1)
	sq.push(a)
	got = sq.drain()
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("nested root not collapsed: got %d roots", len(got))
	}
}

func TestNodePath(t *testing.T) {
	doc := mustParse(t, `<div><p>one</p><p>two <b>$5</b></p></div>`)
	b := q(t, doc, "b")
	if got := nodePath(b.FirstChild); got != "/html/body/div/p[2]/b/text()" {
		t.Errorf("nodePath: got %q", got)
	}
}

func TestViewport_Style(t *testing.T) {
	doc := mustParse(t, `<div id="v">x</div><div id="h" hidden>x</div>
<div id="d" style="color:red; DISPLAY: none !important">x</div>
<div id="s" style="visibility:hidden">x</div>`)
	var v StyleViewport
	if !v.Visible(q(t, doc, "#v")) {
		t.Error("#v should be visible")
	}
	for _, id := range []string{"#h", "#d", "#s"} {
		if v.Visible(q(t, doc, id)) {
			t.Errorf("%s should be hidden", id)
		}
	}
	var observed []*html.Node
	v.OnObserve = func(el *html.Node) { observed = append(observed, el) }
	v.Observe(q(t, doc, "#h"))
	if len(observed) != 1 {
		t.Errorf("OnObserve: got %d calls", len(observed))
	}
}
