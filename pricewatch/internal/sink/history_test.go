package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/satsview/dbopen"
	"github.com/hazyhaar/satsview/report"
	"github.com/hazyhaar/satsview/satconv"
)

var _ Sink = (*History)(nil)

func countCycles(t *testing.T, h *History) int {
	t.Helper()
	var n int
	if err := h.db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestHistory_FlushesOnBufferFull(t *testing.T) {
	h, err := NewHistory(dbopen.OpenMemory(t), WithHistoryBuffer(2), WithHistoryFlushInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	ctx := context.Background()

	h.Send(ctx, cycle("a"))
	if n := countCycles(t, h); n != 0 {
		t.Fatalf("flushed early: %d rows", n)
	}
	if err := h.Send(ctx, cycle("b")); err != nil {
		t.Fatal(err)
	}
	if n := countCycles(t, h); n != 2 {
		t.Fatalf("got %d rows, want 2", n)
	}
}

func TestHistory_Columns(t *testing.T) {
	h, err := NewHistory(dbopen.OpenMemory(t), WithHistoryFlushInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	rt := satconv.NewRate(50000, time.Now(), satconv.Stale)
	c := report.Cycle{
		ID: "c1", Seq: 7, Trigger: report.TriggerMutation, StartedAt: 1700000000000, DurationMs: 3,
		Rate:        &rt,
		Annotations: []report.Annotation{{Kind: report.KindText, Original: "$1", Converted: "2,000 sats"}},
	}
	h.Send(context.Background(), c)
	if err := h.Flush(); err != nil {
		t.Fatal(err)
	}

	var (
		seq                int64
		cause, fresh, data string
		mutations          int
	)
	err = h.db.QueryRow(`SELECT seq, cause, freshness, mutations, report FROM cycles WHERE id = 'c1'`).
		Scan(&seq, &cause, &fresh, &mutations, &data)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 7 || cause != "mutation" || fresh != "stale" || mutations != 1 {
		t.Errorf("row: seq=%d cause=%s freshness=%s mutations=%d", seq, cause, fresh, mutations)
	}
	if data == "" || data[0] != '{' {
		t.Errorf("report column: %q", data)
	}
}

func TestOpenHistory_CloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist", "cycles.db")
	h, err := OpenHistory(path, WithHistoryFlushInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	h.Send(context.Background(), cycle("a"))
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d rows after Close, want 1", n)
	}
}
