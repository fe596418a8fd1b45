package annotator

import (
	"time"

	"golang.org/x/net/html"
)

// DefaultDebounceWindow is how long change notifications are coalesced
// before a cycle runs.
const DefaultDebounceWindow = 250 * time.Millisecond

// DefaultMaxPending flushes immediately once this many roots are pending.
const DefaultMaxPending = 1000

// debounceConfig controls the batching behaviour.
type debounceConfig struct {
	Window     time.Duration
	MaxPending int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = DefaultDebounceWindow
	}
	if dc.MaxPending <= 0 {
		dc.MaxPending = DefaultMaxPending
	}
}

// debouncer collects changed subtree roots and hands them over, coalesced,
// when the window expires or too many are pending. There is at most one
// pending timer.
type debouncer struct {
	cfg     debounceConfig
	roots   []*html.Node
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]*html.Node)
}

func newDebouncer(cfg debounceConfig, flushFn func([]*html.Node)) *debouncer {
	cfg.defaults()
	return &debouncer{
		cfg:     cfg,
		flushFn: flushFn,
	}
}

// add buffers roots. Returns true if an immediate flush was triggered.
func (d *debouncer) add(roots ...*html.Node) bool {
	for _, r := range roots {
		if r != nil {
			d.roots = append(d.roots, r)
		}
	}
	if len(d.roots) == 0 {
		return false
	}

	if len(d.roots) >= d.cfg.MaxPending {
		d.flush()
		return true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// timerC returns the channel that fires when the window expires. It is
// nil, and so blocks forever in a select, while nothing is pending.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) pending() int { return len(d.roots) }

// stop discards pending roots and the timer.
func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	d.roots = nil
}

// flush coalesces and emits the buffered roots, then resets.
func (d *debouncer) flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	if len(d.roots) == 0 {
		return
	}
	roots := coalesce(d.roots)
	d.roots = nil
	d.flushFn(roots)
}

// coalesce drops duplicate roots and roots that sit inside another root of
// the same batch, keeping first-seen order otherwise. Overlapping batches
// from the environment collapse to the outermost subtrees.
func coalesce(roots []*html.Node) []*html.Node {
	if len(roots) <= 1 {
		return roots
	}
	seen := make(map[*html.Node]struct{}, len(roots))
	uniq := make([]*html.Node, 0, len(roots))
	for _, r := range roots {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		uniq = append(uniq, r)
	}

	out := make([]*html.Node, 0, len(uniq))
	for _, r := range uniq {
		covered := false
		for p := r.Parent; p != nil; p = p.Parent {
			if _, ok := seen[p]; ok {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, r)
		}
	}
	return out
}
