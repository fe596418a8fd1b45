// Package render serialises an annotated document as HTML or Markdown.
package render

import (
	"bytes"
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/satsview/composite"
)

// Format is an output format.
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts "html", "markdown" or "md"; empty means HTML.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "html":
		return FormatHTML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("render: unknown format %q", s)
}

// Renderer converts documents. It is safe for concurrent use.
type Renderer struct {
	md     *converter.Converter
	policy *bluemonday.Policy
}

// New creates a Renderer with CommonMark and table support.
func New() *Renderer {
	return &Renderer{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: sanitizePolicy(),
	}
}

// suppressProps are the style properties composite.SuppressStyle uses.
var suppressProps = []string{
	"position", "width", "height", "overflow", "clip",
	"white-space", "border", "padding", "margin",
}

// sanitizePolicy is the UGC policy plus what annotations need to keep
// reading correctly: the marker attribute and the suppression style on
// composite containers.
func sanitizePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataAttributes()
	p.AllowAttrs(composite.Attr, "class").Globally()
	p.AllowStyles(suppressProps...).MatchingHandler(func(string) bool { return true }).Globally()
	return p
}

// Sanitize filters serialised HTML through the sanitising policy.
func (r *Renderer) Sanitize(out []byte) []byte {
	return r.policy.SanitizeBytes(out)
}

// HTML serialises doc.
func (r *Renderer) HTML(doc *html.Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("render: html: %w", err)
	}
	return buf.Bytes(), nil
}

// Markdown converts doc to Markdown. Relative links resolve against
// pageURL when it is set. Annotation spans render as their text, so a
// price reads "$4.99 (9,980 sats)".
func (r *Renderer) Markdown(doc *html.Node, pageURL string) ([]byte, error) {
	var opts []converter.ConvertOptionFunc
	if pageURL != "" {
		opts = append(opts, converter.WithDomain(pageURL))
	}
	out, err := r.md.ConvertNode(doc, opts...)
	if err != nil {
		return nil, fmt.Errorf("render: markdown: %w", err)
	}
	return out, nil
}

// Render produces doc in the requested format.
func (r *Renderer) Render(doc *html.Node, f Format, pageURL string) ([]byte, error) {
	if f == FormatMarkdown {
		return r.Markdown(doc, pageURL)
	}
	return r.HTML(doc)
}
