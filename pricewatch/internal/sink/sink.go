// Package sink delivers cycle reports to output backends.
package sink

import (
	"context"

	"github.com/hazyhaar/satsview/report"
)

// Sink is the output interface. Implementations deliver cycle reports to
// stdout, a webhook or an in-process callback.
type Sink interface {
	Send(ctx context.Context, c report.Cycle) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
