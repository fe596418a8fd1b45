package pricewatch

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/satsview/pricewatch/internal/sink"
)

// Sink is the output interface for cycle reports.
type Sink = sink.Sink

// CycleFunc is called for each cycle by a callback sink.
type CycleFunc = sink.CycleFunc

// NewStdoutSink creates a JSON-lines sink. nil writes to os.Stdout.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn CycleFunc) Sink {
	return sink.NewCallback(fn)
}

// NewHistorySink creates a sink recording every cycle in a SQLite file.
func NewHistorySink(path string, logger *slog.Logger) (Sink, error) {
	return sink.OpenHistory(path, sink.WithHistoryLogger(logger))
}

// SinksFromConfig builds the configured sinks. On error, sinks already
// opened are closed.
func SinksFromConfig(cfgs []SinkConfig, stdout io.Writer, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for _, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			out = append(out, NewStdoutSink(stdout))
		case "webhook":
			out = append(out, NewWebhookSink(sc.URL, logger))
		case "sqlite":
			h, err := NewHistorySink(sc.Path, logger)
			if err != nil {
				closeSinks(out)
				return nil, err
			}
			out = append(out, h)
		default:
			closeSinks(out)
			return nil, fmt.Errorf("pricewatch: unknown sink type %q", sc.Type)
		}
	}
	return out, nil
}

func closeSinks(sinks []Sink) {
	for _, s := range sinks {
		s.Close()
	}
}
