package annotator

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// nodePath computes an XPath-like location for n, used in reports.
// Sibling indices are only written when a tag repeats under its parent.
func nodePath(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type != html.DocumentNode; cur = cur.Parent {
		switch cur.Type {
		case html.TextNode:
			parts = append(parts, "text()")
		case html.CommentNode:
			parts = append(parts, "comment()")
		case html.ElementNode:
			parts = append(parts, elementStep(cur))
		}
	}
	slices.Reverse(parts)
	return "/" + strings.Join(parts, "/")
}

func elementStep(n *html.Node) string {
	name := n.Data
	if n.Parent == nil {
		return name
	}
	idx, total := 0, 0
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type != html.ElementNode || s.Data != name {
			continue
		}
		total++
		if s == n {
			idx = total
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s[%d]", name, idx)
	}
	return name
}

// siblingPath lists the child index of every ancestor step from the top of
// n's tree down to n. Comparing two paths lexicographically gives document
// order.
func siblingPath(n *html.Node) []int {
	var path []int
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		i := 0
		for s := cur.Parent.FirstChild; s != nil && s != cur; s = s.NextSibling {
			i++
		}
		path = append(path, i)
	}
	slices.Reverse(path)
	return path
}

// contains reports whether n is root or one of its descendants.
func contains(root, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}
