package annotator

import (
	"strings"

	"golang.org/x/net/html"
)

// Viewport tells the scheduler which subtrees are currently visible and
// receives the ones it defers. An Observe'd element must later be reported
// through Scheduler.OnVisibilityChange when it becomes visible.
type Viewport interface {
	Visible(el *html.Node) bool
	Observe(el *html.Node)
}

// AllVisible treats every element as visible; nothing is ever deferred.
type AllVisible struct{}

func (AllVisible) Visible(*html.Node) bool { return true }
func (AllVisible) Observe(*html.Node)      {}

// StyleViewport judges visibility from markup alone: the hidden attribute
// and inline display:none or visibility:hidden. OnObserve, when set, is
// called for every deferred element.
type StyleViewport struct {
	OnObserve func(el *html.Node)
}

func (v StyleViewport) Visible(el *html.Node) bool {
	if el == nil || el.Type != html.ElementNode {
		return true
	}
	for _, a := range el.Attr {
		switch a.Key {
		case "hidden":
			return false
		case "style":
			if styleHides(a.Val) {
				return false
			}
		}
	}
	return true
}

func (v StyleViewport) Observe(el *html.Node) {
	if v.OnObserve != nil {
		v.OnObserve(el)
	}
}

func styleHides(style string) bool {
	for _, decl := range strings.Split(style, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		val = strings.ToLower(strings.TrimSpace(val))
		val = strings.TrimSpace(strings.TrimSuffix(val, "!important"))
		switch {
		case prop == "display" && val == "none":
			return true
		case prop == "visibility" && (val == "hidden" || val == "collapse"):
			return true
		}
	}
	return false
}
