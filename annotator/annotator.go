// Package annotator walks an HTML document, finds fiat prices and writes
// their bitcoin value next to them.
//
// A Scheduler owns one execution context: a single goroutine that runs scan
// cycles in response to explicit scans, debounced change notifications and
// visibility notifications. Each cycle goes Idle -> Enumerating ->
// Annotating -> Idle. Enumeration only reads the document; every write
// happens in the annotating phase after its target has been re-validated.
//
// The document is shared with the host. The host may change it between
// notifications, but must not touch it while a cycle is running; calls into
// the Scheduler synchronise through its channels.
package annotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/satsview/composite"
	"github.com/hazyhaar/satsview/pricetoken"
	"github.com/hazyhaar/satsview/report"
	"github.com/hazyhaar/satsview/satconv"
)

// ErrStopped is returned by calls made while the scheduler is not running.
var ErrStopped = errors.New("annotator: scheduler stopped")

// State is the phase of the current cycle.
type State int32

const (
	Idle State = iota
	Enumerating
	Annotating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Enumerating:
		return "enumerating"
	case Annotating:
		return "annotating"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Reporter receives one record per executed cycle. It is called from the
// scheduler goroutine and must not call back into the Scheduler.
type Reporter interface {
	Send(ctx context.Context, c report.Cycle) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, c report.Cycle) error

func (f ReporterFunc) Send(ctx context.Context, c report.Cycle) error { return f(ctx, c) }

// Config for creating a Scheduler.
type Config struct {
	Recognizer     *pricetoken.Recognizer   // required
	Reconstructor  *composite.Reconstructor // default: DefaultRules over Recognizer
	Rates          satconv.RateSource       // required; read once per cycle
	Options        satconv.Options
	Viewport       Viewport // default: AllVisible
	Reporter       Reporter
	DebounceWindow time.Duration // default: DefaultDebounceWindow
	MaxPending     int           // default: DefaultMaxPending
	Logger         *slog.Logger
}

// Scheduler is the traversal and annotation engine for one document.
type Scheduler struct {
	rec      *pricetoken.Recognizer
	comp     *composite.Reconstructor
	rates    satconv.RateSource
	opts     satconv.Options
	viewport Viewport
	reporter Reporter
	logger   *slog.Logger

	// Owned by the loop goroutine.
	marked    *nodeSet // annotated text nodes, containers and created elements
	deferred  *nodeSet // handed to the viewport, not yet revealed
	revealed  *nodeSet // reported visible by the host
	queue     *scanQueue
	debouncer *debouncer

	state   atomic.Int32
	seq     atomic.Uint64
	running atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce *sync.Once

	scanCh    chan scanRequest
	changeCh  chan []*html.Node
	visibleCh chan *html.Node
	flushCh   chan chan report.Cycle
}

type scanRequest struct {
	root  *html.Node
	reply chan report.Cycle
}

// New creates a Scheduler. Call Start before using it.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Recognizer == nil {
		return nil, errors.New("annotator: config: recognizer is required")
	}
	if cfg.Rates == nil {
		return nil, errors.New("annotator: config: rate source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Viewport == nil {
		cfg.Viewport = AllVisible{}
	}
	if cfg.Reconstructor == nil {
		comp, err := composite.New(nil, cfg.Recognizer)
		if err != nil {
			return nil, fmt.Errorf("annotator: config: %w", err)
		}
		cfg.Reconstructor = comp
	}

	s := &Scheduler{
		rec:       cfg.Recognizer,
		comp:      cfg.Reconstructor,
		rates:     cfg.Rates,
		opts:      cfg.Options,
		viewport:  cfg.Viewport,
		reporter:  cfg.Reporter,
		logger:    cfg.Logger,
		marked:    newNodeSet(),
		deferred:  newNodeSet(),
		revealed:  newNodeSet(),
		queue:     newScanQueue(),
		scanCh:    make(chan scanRequest),
		changeCh:  make(chan []*html.Node, 64),
		visibleCh: make(chan *html.Node, 64),
		flushCh:   make(chan chan report.Cycle),
	}
	s.debouncer = newDebouncer(debounceConfig{
		Window:     cfg.DebounceWindow,
		MaxPending: cfg.MaxPending,
	}, s.enqueue)
	return s, nil
}

// Start runs the scheduler loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("annotator: already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.stopOnce = new(sync.Once)
	go s.loop()
	return nil
}

// Stop flushes pending notifications, runs a final cycle for them and stops
// the loop.
func (s *Scheduler) Stop() {
	if !s.running.Load() {
		return
	}
	_, _ = s.Flush(context.Background())
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.cancel()
		<-s.done
	})
}

// State returns the phase of the cycle in progress, Idle between cycles.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Scan queues root and runs a cycle immediately. It is idempotent: nodes
// already annotated are not touched again.
func (s *Scheduler) Scan(ctx context.Context, root *html.Node) (report.Cycle, error) {
	if root == nil {
		return report.Cycle{}, errors.New("annotator: scan: nil root")
	}
	if !s.running.Load() {
		return report.Cycle{}, ErrStopped
	}
	req := scanRequest{root: root, reply: make(chan report.Cycle, 1)}
	select {
	case s.scanCh <- req:
	case <-ctx.Done():
		return report.Cycle{}, ctx.Err()
	case <-s.done:
		return report.Cycle{}, ErrStopped
	}
	select {
	case c := <-req.reply:
		return c, nil
	case <-ctx.Done():
		return report.Cycle{}, ctx.Err()
	case <-s.done:
		return report.Cycle{}, ErrStopped
	}
}

// OnDocumentChanged reports added or changed subtrees. Notifications are
// coalesced for the debounce window before a cycle re-scans only those
// subtrees. Duplicate and overlapping roots are tolerated.
func (s *Scheduler) OnDocumentChanged(roots ...*html.Node) {
	if len(roots) == 0 || !s.running.Load() {
		return
	}
	select {
	case s.changeCh <- roots:
	case <-s.done:
	}
}

// OnVisibilityChange reports a visibility transition. Only visible=true
// transitions of unprocessed elements start a cycle.
func (s *Scheduler) OnVisibilityChange(el *html.Node, visible bool) {
	if !visible || el == nil || !s.running.Load() {
		return
	}
	select {
	case s.visibleCh <- el:
	case <-s.done:
	}
}

// Flush processes every notification received so far without waiting for
// the debounce window and returns the resulting cycle.
func (s *Scheduler) Flush(ctx context.Context) (report.Cycle, error) {
	if !s.running.Load() {
		return report.Cycle{}, ErrStopped
	}
	reply := make(chan report.Cycle, 1)
	select {
	case s.flushCh <- reply:
	case <-ctx.Done():
		return report.Cycle{}, ctx.Err()
	case <-s.done:
		return report.Cycle{}, ErrStopped
	}
	select {
	case c := <-reply:
		return c, nil
	case <-ctx.Done():
		return report.Cycle{}, ctx.Err()
	case <-s.done:
		return report.Cycle{}, ErrStopped
	}
}

// loop is the single execution context: every cycle and every queue or
// marker access happens here.
func (s *Scheduler) loop() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			s.debouncer.stop()
			return

		case req := <-s.scanCh:
			s.queue.push(req.root)
			req.reply <- s.runCycle(report.TriggerScan)

		case roots := <-s.changeCh:
			if s.debouncer.add(roots...) {
				s.runCycle(report.TriggerMutation)
			}

		case <-s.debouncer.timerC():
			s.debouncer.flush()
			s.runCycle(report.TriggerMutation)

		case el := <-s.visibleCh:
			if s.reveal(el) {
				s.runCycle(report.TriggerVisibility)
			}

		case reply := <-s.flushCh:
			s.drainInbox()
			s.debouncer.flush()
			reply <- s.runCycle(report.TriggerFlush)
		}
	}
}

// drainInbox moves buffered notifications into the debouncer and queue
// without starting cycles for them.
func (s *Scheduler) drainInbox() {
	for {
		select {
		case roots := <-s.changeCh:
			s.debouncer.add(roots...)
		case el := <-s.visibleCh:
			s.reveal(el)
		default:
			return
		}
	}
}

// enqueue is the debouncer's flush target.
func (s *Scheduler) enqueue(roots []*html.Node) {
	for _, r := range roots {
		s.queue.push(r)
	}
}

// reveal queues an element the host reported visible. It returns false
// for elements already processed.
func (s *Scheduler) reveal(el *html.Node) bool {
	if s.marked.has(el) || composite.Handled(el) {
		return false
	}
	s.revealed.mark(el, "")
	s.deferred.remove(el)
	s.queue.push(el)
	return true
}

// emit hands a cycle to the reporter. Reporter failures are logged only.
func (s *Scheduler) emit(c report.Cycle) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.Send(s.ctx, c); err != nil {
		s.logger.Error("annotator: report cycle", "id", c.ID, "error", err)
	}
}
