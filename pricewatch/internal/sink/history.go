package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/satsview/dbopen"
	"github.com/hazyhaar/satsview/report"
)

// HistorySchema is the cycle history table.
const HistorySchema = `
CREATE TABLE IF NOT EXISTS cycles (
	id          TEXT    PRIMARY KEY,
	seq         INTEGER NOT NULL,
	cause       TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	skipped     TEXT    NOT NULL DEFAULT '',
	freshness   TEXT    NOT NULL DEFAULT '',
	mutations   INTEGER NOT NULL,
	report      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at DESC);
`

// History buffers cycle reports and writes them to SQLite in batches.
// Send never blocks on the database; a full buffer is flushed inline.
type History struct {
	db            *sql.DB
	ownsDB        bool
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []report.Cycle
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// HistoryOption configures a History sink.
type HistoryOption func(*History)

// WithHistoryBuffer sets how many cycles are held before a flush. Default: 100.
func WithHistoryBuffer(n int) HistoryOption {
	return func(h *History) { h.bufferSize = n }
}

// WithHistoryFlushInterval sets the periodic flush. Default: 5s.
func WithHistoryFlushInterval(d time.Duration) HistoryOption {
	return func(h *History) { h.flushInterval = d }
}

// WithHistoryLogger sets a custom logger. nil keeps the default.
func WithHistoryLogger(l *slog.Logger) HistoryOption {
	return func(h *History) {
		if l != nil {
			h.logger = l
		}
	}
}

// OpenHistory opens (or creates) the SQLite history database at path.
func OpenHistory(path string, opts ...HistoryOption) (*History, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(HistorySchema))
	if err != nil {
		return nil, fmt.Errorf("sink: open history: %w", err)
	}
	h, err := NewHistory(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	h.ownsDB = true
	return h, nil
}

// NewHistory applies the schema on db and starts the flush loop. Close
// flushes what is left; it does not close db.
func NewHistory(db *sql.DB, opts ...HistoryOption) (*History, error) {
	if _, err := db.Exec(HistorySchema); err != nil {
		return nil, fmt.Errorf("sink: history schema: %w", err)
	}
	h := &History{
		db:            db,
		bufferSize:    100,
		flushInterval: 5 * time.Second,
		logger:        slog.Default(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.buffer = make([]report.Cycle, 0, h.bufferSize)
	go h.flushLoop()
	return h, nil
}

func (h *History) Send(_ context.Context, c report.Cycle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buffer = append(h.buffer, c)
	if len(h.buffer) >= h.bufferSize {
		return h.flushLocked()
	}
	return nil
}

// Flush writes buffered cycles now.
func (h *History) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushLocked()
}

// Close flushes remaining cycles and stops the flush loop. A database
// opened by OpenHistory is closed too.
func (h *History) Close() error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		if h.ownsDB {
			err = h.db.Close()
		}
	})
	return err
}

func (h *History) flushLoop() {
	defer close(h.done)
	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			if err := h.Flush(); err != nil {
				h.logger.Error("sink: history final flush", "error", err)
			}
			return
		case <-ticker.C:
			if err := h.Flush(); err != nil {
				h.logger.Error("sink: history flush", "error", err)
			}
		}
	}
}

func (h *History) flushLocked() error {
	if len(h.buffer) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, h.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO cycles
			 (id, seq, cause, started_at, duration_ms, skipped, freshness, mutations, report)
			 VALUES (?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range h.buffer {
			c := &h.buffer[i]
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("marshal cycle %s: %w", c.ID, err)
			}
			freshness := ""
			if c.Rate != nil {
				freshness = c.Rate.Freshness.String()
			}
			if _, err := stmt.ExecContext(ctx, c.ID, c.Seq, string(c.Trigger), c.StartedAt,
				c.DurationMs, c.Skipped, freshness, c.Mutations(), string(data)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sink: history flush: %w", err)
	}
	h.buffer = h.buffer[:0]
	return nil
}
