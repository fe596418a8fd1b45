package sink

import (
	"context"

	"github.com/hazyhaar/satsview/report"
)

// CycleFunc is called for each cycle, in process.
type CycleFunc func(ctx context.Context, c report.Cycle) error

// Callback hands cycles to a Go function with no serialisation.
type Callback struct {
	fn CycleFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn CycleFunc) *Callback { return &Callback{fn: fn} }

func (c *Callback) Send(ctx context.Context, cy report.Cycle) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, cy)
}

func (c *Callback) Close() error { return nil }
