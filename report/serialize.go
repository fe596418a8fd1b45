package report

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// MarshalCycle serialises a Cycle to JSON.
func MarshalCycle(c *Cycle) ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCycle deserialises a Cycle from JSON.
func UnmarshalCycle(data []byte) (*Cycle, error) {
	var c Cycle
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MarshalPage serialises a Page to JSON.
func MarshalPage(p *Page) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPage deserialises a Page from JSON.
func UnmarshalPage(data []byte) (*Page, error) {
	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// HashHTML returns the SHA-256 hex digest of raw HTML.
func HashHTML(html []byte) string {
	h := sha256.Sum256(html)
	return fmt.Sprintf("%x", h)
}
