// Package report defines the structured records emitted by satsview.
// Consumers (sinks, the HTTP API, MCP tools) import this package to read
// what a scan cycle did to a document.
package report

import "github.com/hazyhaar/satsview/satconv"

// Trigger is what started a scan cycle.
type Trigger string

const (
	TriggerScan       Trigger = "scan"       // explicit Scan call
	TriggerMutation   Trigger = "mutation"   // debounced change batch
	TriggerVisibility Trigger = "visibility" // deferred subtree entered the viewport
	TriggerFlush      Trigger = "flush"      // queue drained on request
)

// Skip reasons.
const (
	SkipNoRate = "no_rate"
	SkipEmpty  = "empty"
)

// Kind is the annotation path that produced a write.
type Kind string

const (
	KindText      Kind = "text"      // matched spans spliced into a text node
	KindComposite Kind = "composite" // new element next to a fragmented price
)

// Annotation is one DOM write.
type Annotation struct {
	Kind      Kind    `json:"kind"`
	Path      string  `json:"path"`                // XPath-like location of the target
	Original  string  `json:"original"`            // original price text, untouched
	Converted string  `json:"converted"`           // e.g. "9,980 sats"
	Unit      string  `json:"unit"`                // sats, k sats, BTC
	Amount    float64 `json:"amount"`              // canonical fiat amount
	Source    string  `json:"source,omitempty"`    // composite strategy: structure, text, loose
}

// Cycle summarises one scheduler pass.
type Cycle struct {
	ID         string        `json:"id"`  // UUIDv7
	Seq        uint64        `json:"seq"` // monotonically increasing per scheduler
	Trigger    Trigger       `json:"trigger"`
	StartedAt  int64         `json:"started_at"` // epoch milliseconds
	DurationMs int64         `json:"duration_ms"`
	Rate       *satconv.Rate `json:"rate,omitempty"`
	Skipped    string        `json:"skipped,omitempty"`

	Roots      int `json:"roots"`
	TextNodes  int `json:"text_nodes"`
	Tokens     int `json:"tokens"`
	Composites int `json:"composites"`
	Fallbacks  int `json:"fallbacks"` // composites resolved without structure
	Deferred   int `json:"deferred"`  // invisible subtrees handed to the viewport
	Conflicts  int `json:"conflicts"` // writes discarded because the target changed
	Failures   int `json:"failures"`  // subtrees abandoned after a malformed price or a panic

	Annotations []Annotation `json:"annotations,omitempty"`
}

// Mutations returns the number of DOM writes the cycle performed.
func (c *Cycle) Mutations() int { return len(c.Annotations) }
