package composite

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/satsview/satconv"
)

// Attr marks elements the engine created or suppressed. Scans skip any
// element carrying it.
const Attr = "data-satsview"

const (
	ValueAnnotated  = "annotated"
	ValueSuppressed = "suppressed"
)

// SuppressStyle collapses the original container visually while leaving it
// in the tree for the page's own scripts and for assistive text.
const SuppressStyle = "position:absolute;width:0;height:0;overflow:hidden;clip:rect(0 0 0 0);white-space:nowrap;border:0;padding:0;margin:0"

// Annotate inserts a new element holding res.Text() right after container
// and suppresses the container. It returns the new element, or nil when
// container is detached.
func Annotate(container *html.Node, res satconv.Result) *html.Node {
	if container == nil || container.Parent == nil {
		return nil
	}
	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: "satsview-price"},
			{Key: Attr, Val: ValueAnnotated},
		},
	}
	span.AppendChild(&html.Node{Type: html.TextNode, Data: res.Text()})
	container.Parent.InsertBefore(span, container.NextSibling)

	setAttr(container, Attr, ValueSuppressed)
	style := strings.TrimSpace(getAttr(container, "style"))
	if style != "" && !strings.HasSuffix(style, ";") {
		style += ";"
	}
	setAttr(container, "style", style+SuppressStyle)
	return span
}

// Handled reports whether n was annotated or suppressed by Annotate.
func Handled(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	_, ok := lookupAttr(n, Attr)
	return ok
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
