package fetcher

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Thresholds below which a page is treated as a client-rendered shell.
const (
	minBody      = 256
	minTextBytes = 200
	minTextRatio = 0.10
)

var spaMounts = []string{"root", "app", "__next", "__nuxt"}

// IsSufficient reports whether the server-rendered HTML carries enough
// visible text to annotate without running its scripts.
func IsSufficient(body []byte) bool {
	if len(body) < minBody {
		return false
	}
	text, emptyMount := scanText(body)
	if emptyMount {
		return false
	}
	if text < minTextBytes {
		return false
	}
	return float64(text)/float64(len(body)) >= minTextRatio
}

// scanText counts non-space text bytes outside script, style and noscript,
// and reports whether the page has an empty SPA mount point such as
// <div id="root"></div> or a noscript JavaScript warning.
func scanText(body []byte) (text int, emptyMount bool) {
	z := html.NewTokenizer(bytes.NewReader(body))
	var raw string // script, style or noscript being skipped
	var mountOpen bool
	for {
		switch z.Next() {
		case html.ErrorToken:
			return text, emptyMount
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			mountOpen = false
			switch tag := string(name); tag {
			case "script", "style", "noscript":
				raw = tag
			case "div":
				for hasAttr {
					var k, v []byte
					k, v, hasAttr = z.TagAttr()
					if string(k) == "id" && isMount(string(v)) {
						mountOpen = true
					}
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == raw {
				raw = ""
			}
			if tag == "div" && mountOpen {
				emptyMount = true
			}
			mountOpen = false
		case html.TextToken:
			t := z.Text()
			switch raw {
			case "noscript":
				if bytes.Contains(bytes.ToLower(t), []byte("javascript")) {
					emptyMount = true
				}
				continue
			case "script", "style":
				continue
			}
			n := 0
			for _, b := range t {
				if b != ' ' && b != '\t' && b != '\n' && b != '\r' {
					n++
				}
			}
			if n > 0 {
				mountOpen = false
			}
			text += n
		default:
			mountOpen = false
		}
	}
}

func isMount(id string) bool {
	for _, m := range spaMounts {
		if strings.EqualFold(id, m) {
			return true
		}
	}
	return false
}
