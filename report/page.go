package report

// Page is an annotated document as returned by the page service. The
// source HTML hash lets consumers tell whether two results came from the
// same input.
type Page struct {
	ID         string `json:"id"` // UUIDv7
	URL        string `json:"url,omitempty"`
	SourceHash string `json:"source_hash"` // SHA-256 hex of the input HTML
	HTML       string `json:"html,omitempty"`
	Markdown   string `json:"markdown,omitempty"`
	Rendered   bool   `json:"rendered"` // fetched through a headless browser
	Cycle      Cycle  `json:"cycle"`
}
