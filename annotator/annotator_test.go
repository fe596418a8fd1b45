package annotator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/satsview/composite"
	"github.com/hazyhaar/satsview/pricetoken"
	"github.com/hazyhaar/satsview/report"
	"github.com/hazyhaar/satsview/satconv"
)

const aPrice = `<span class="a-price">
  <span class="a-offscreen">$19.99</span>
  <span aria-hidden="true"><span class="a-price-symbol">$</span><span class="a-price-whole">19<span class="a-price-decimal">.</span></span><span class="a-price-fraction">99</span></span>
</span>`

// rateBox is a switchable rate source.
type rateBox struct {
	mu   sync.Mutex
	rate satconv.Rate
	ok   bool
}

func (r *rateBox) CurrentRate() (satconv.Rate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate, r.ok
}

func (r *rateBox) set(fiatPerBtc float64, f satconv.Freshness) {
	r.mu.Lock()
	r.rate, r.ok = satconv.NewRate(fiatPerBtc, time.Now(), f), true
	r.mu.Unlock()
}

func staticRate(fiatPerBtc float64) satconv.RateSource {
	rb := &rateBox{}
	rb.set(fiatPerBtc, satconv.Fresh)
	return rb
}

func start(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Recognizer == nil {
		cfg.Recognizer = pricetoken.MustNew(pricetoken.USD)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func render(t *testing.T, n *html.Node) string {
	t.Helper()
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		t.Fatalf("render: %v", err)
	}
	return buf.String()
}

func scan(t *testing.T, s *Scheduler, root *html.Node) report.Cycle {
	t.Helper()
	c, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return c
}

func collector() (Reporter, <-chan report.Cycle) {
	ch := make(chan report.Cycle, 32)
	return ReporterFunc(func(_ context.Context, c report.Cycle) error {
		ch <- c
		return nil
	}), ch
}

func waitCycle(t *testing.T, ch <-chan report.Cycle, trigger report.Trigger) report.Cycle {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-ch:
			if c.Trigger == trigger {
				return c
			}
		case <-deadline:
			t.Fatalf("no %s cycle reported", trigger)
		}
	}
}

func textNode(data string) *html.Node {
	p := &html.Node{Type: html.ElementNode, Data: "p", DataAtom: atom.P}
	p.AppendChild(&html.Node{Type: html.TextNode, Data: data})
	return p
}

func TestScan_Sats(t *testing.T) {
	doc := mustParse(t, `<p>Now $4.99 each, was 7.50 USD.</p>`)
	s := start(t, Config{Rates: staticRate(50000)})

	c := scan(t, s, doc)
	out := render(t, doc)
	if !strings.Contains(out, "Now $4.99 (9,980 sats)  each, was 7.50 USD (15,000 sats) .") {
		t.Errorf("unexpected output: %s", out)
	}
	if c.Mutations() != 2 || c.Tokens != 2 || c.TextNodes != 1 {
		t.Errorf("cycle: mutations=%d tokens=%d text_nodes=%d", c.Mutations(), c.Tokens, c.TextNodes)
	}
	if c.Rate == nil || c.Rate.FiatPerBtc != 50000 {
		t.Errorf("cycle rate: got %+v", c.Rate)
	}
	if c.Annotations[0].Path != "/html/body/p/text()" {
		t.Errorf("path: got %q", c.Annotations[0].Path)
	}
}

func TestScan_BTC(t *testing.T) {
	doc := mustParse(t, `<p>Car: $59,999</p>`)
	s := start(t, Config{Rates: staticRate(60000)})
	scan(t, s, doc)
	if out := render(t, doc); !strings.Contains(out, "Car: $59,999 (1.0000 BTC) </p>") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestScan_Abbreviated(t *testing.T) {
	doc := mustParse(t, `<p>$4.99</p>`)
	s := start(t, Config{Rates: staticRate(50000), Options: satconv.Options{AbbreviateSats: true}})
	scan(t, s, doc)
	if out := render(t, doc); !strings.Contains(out, "$4.99 (9.98 k sats) ") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestScan_CountBeforePriceKeepsPriceIntact(t *testing.T) {
	doc := mustParse(t, `<div>Buy 2 $10 gift cards</div>`)
	s := start(t, Config{Rates: staticRate(60000)})
	c := scan(t, s, doc)
	out := render(t, doc)
	if !strings.Contains(out, "<div>Buy 2 $10 (16,667 sats)  gift cards</div>") {
		t.Errorf("unexpected output: %s", out)
	}
	if c.Mutations() != 1 || c.Annotations[0].Original != "$10" {
		t.Errorf("annotations: %+v", c.Annotations)
	}

	scan(t, s, doc)
	if again := render(t, doc); again != out {
		t.Errorf("second scan changed the document:\n%s\n%s", out, again)
	}
}

func TestScan_SymbolAndCodeAnnotatedAfterCode(t *testing.T) {
	doc := mustParse(t, `<p>Fee: $5 USD per month</p>`)
	s := start(t, Config{Rates: staticRate(50000)})
	scan(t, s, doc)
	if out := render(t, doc); !strings.Contains(out, "Fee: $5 USD (10,000 sats)  per month") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestScan_Idempotent(t *testing.T) {
	doc := mustParse(t, `<div><p>Only $4.99 today</p>`+aPrice+`<p>$1.2k</p></div>`)
	s := start(t, Config{Rates: staticRate(50000)})

	first := scan(t, s, doc)
	if first.Mutations() != 3 {
		t.Fatalf("first scan: got %d mutations, want 3", first.Mutations())
	}
	once := render(t, doc)

	second := scan(t, s, doc)
	if second.Mutations() != 0 {
		t.Errorf("second scan: got %d mutations, want 0", second.Mutations())
	}
	if twice := render(t, doc); twice != once {
		t.Errorf("second scan changed the document:\n%s\n---\n%s", once, twice)
	}

	// A fresh parse of annotated output is recognised as annotated too.
	reparsed := mustParse(t, once)
	before := render(t, reparsed)
	s2 := start(t, Config{Rates: staticRate(50000)})
	if c := scan(t, s2, reparsed); c.Mutations() != 0 {
		t.Errorf("reparsed scan: got %d mutations, want 0", c.Mutations())
	}
	if after := render(t, reparsed); after != before {
		t.Errorf("reparsed document changed:\n%s\n---\n%s", before, after)
	}
}

func TestScan_NoRateLeavesDocumentUntouched(t *testing.T) {
	doc := mustParse(t, `<p>$4.99</p>`+aPrice)
	before := render(t, doc)

	rates := &rateBox{}
	s := start(t, Config{Rates: rates})
	c := scan(t, s, doc)
	if c.Skipped != report.SkipNoRate || c.Mutations() != 0 {
		t.Fatalf("cycle: skipped=%q mutations=%d", c.Skipped, c.Mutations())
	}
	if after := render(t, doc); after != before {
		t.Fatalf("document modified without a rate:\n%s", after)
	}

	rates.set(50000, satconv.Expired)
	if c, _ := s.Flush(context.Background()); c.Skipped != report.SkipNoRate {
		t.Fatalf("expired rate: got skipped=%q", c.Skipped)
	}
	if after := render(t, doc); after != before {
		t.Fatal("document modified with an expired rate")
	}

	// The queued root is retried on the next trigger.
	rates.set(50000, satconv.VeryStale)
	c, err := s.Flush(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Mutations() != 2 {
		t.Errorf("retry: got %d mutations, want 2", c.Mutations())
	}
}

func TestScan_Composite(t *testing.T) {
	doc := mustParse(t, `<div id="buybox">`+aPrice+`</div>`)
	s := start(t, Config{Rates: staticRate(50000)})

	c := scan(t, s, doc)
	if c.Composites != 1 || c.Mutations() != 1 || c.Fallbacks != 0 {
		t.Fatalf("cycle: composites=%d mutations=%d fallbacks=%d", c.Composites, c.Mutations(), c.Fallbacks)
	}
	if c.Annotations[0].Kind != report.KindComposite || c.Annotations[0].Source != "structure" {
		t.Errorf("annotation: got %+v", c.Annotations[0])
	}

	out := render(t, doc)
	if !strings.Contains(out, `<span class="satsview-price" data-satsview="annotated">$19.99 (39,980 sats) </span>`) {
		t.Errorf("annotation element missing: %s", out)
	}
	if !strings.Contains(out, `data-satsview="suppressed"`) {
		t.Errorf("container not suppressed: %s", out)
	}
	if n := strings.Count(out, "sats)"); n != 1 {
		t.Errorf("got %d annotations in output, want 1", n)
	}
	// Fragments are never written to.
	if !strings.Contains(out, `<span class="a-price-whole">19<span class="a-price-decimal">.</span></span><span class="a-price-fraction">99</span>`) {
		t.Errorf("fragments modified: %s", out)
	}
}

func TestScan_CompositeWithoutContainerSelector(t *testing.T) {
	rec := pricetoken.MustNew(pricetoken.USD)
	comp, err := composite.New([]composite.Rule{{Name: "split", Symbol: ".cur", Whole: ".int", Fraction: ".dec"}}, rec)
	if err != nil {
		t.Fatal(err)
	}
	doc := mustParse(t, `<div class="price"><span class="sr">$12.50</span><span class="cur">$</span><span class="int">12</span><span class="dec">50</span></div>`)
	s := start(t, Config{Recognizer: rec, Reconstructor: comp, Rates: staticRate(50000)})

	c := scan(t, s, doc)
	if c.Mutations() != 1 || c.Annotations[0].Kind != report.KindComposite {
		t.Fatalf("cycle: got %+v", c.Annotations)
	}
	if out := render(t, doc); strings.Count(out, "sats)") != 1 {
		t.Errorf("text inside the container was annotated separately: %s", out)
	}
}

func TestScan_SkipsNonContent(t *testing.T) {
	doc := mustParse(t, `<head><style>.p:after{content:"$5"}</style></head><body>
<script>var price = "$5";</script><textarea>$5</textarea><noscript>$5</noscript>
<svg><text>$5</text></svg><p data-satsview="annotated">$5</p><p>$5</p></body>`)
	s := start(t, Config{Rates: staticRate(50000)})

	c := scan(t, s, doc)
	if c.Mutations() != 1 {
		t.Fatalf("got %d mutations, want 1", c.Mutations())
	}
	out := render(t, doc)
	for _, keep := range []string{`var price = "$5";`, `<textarea>$5</textarea>`, `<p data-satsview="annotated">$5</p>`} {
		if !strings.Contains(out, keep) {
			t.Errorf("%q modified: %s", keep, out)
		}
	}
}

func TestScan_DeferredUntilVisible(t *testing.T) {
	doc := mustParse(t, `<p>$1</p><div id="later" style="display:none"><p>$4.99</p></div>`)
	later := q(t, doc, "#later")

	var observed []*html.Node
	s := start(t, Config{
		Rates:    staticRate(50000),
		Viewport: StyleViewport{OnObserve: func(el *html.Node) { observed = append(observed, el) }},
	})

	c := scan(t, s, doc)
	if c.Deferred != 1 || c.Mutations() != 1 {
		t.Fatalf("cycle: deferred=%d mutations=%d", c.Deferred, c.Mutations())
	}
	if len(observed) != 1 || observed[0] != later {
		t.Fatalf("observed: got %d elements", len(observed))
	}
	if strings.Contains(render(t, doc), "$4.99 (") {
		t.Fatal("hidden subtree annotated before it was visible")
	}

	// A second scan defers again without re-registering.
	scan(t, s, doc)
	if len(observed) != 1 {
		t.Errorf("element observed %d times", len(observed))
	}

	s.OnVisibilityChange(later, false)
	s.OnVisibilityChange(later, true)
	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if out := render(t, doc); !strings.Contains(out, "$4.99 (9,980 sats) ") {
		t.Errorf("revealed subtree not annotated: %s", out)
	}
}

func TestOnDocumentChanged_ScansOnlyReportedSubtrees(t *testing.T) {
	doc := mustParse(t, `<div id="feed"></div><div id="other"></div>`)
	feed, other := q(t, doc, "#feed"), q(t, doc, "#other")

	reporter, cycles := collector()
	s := start(t, Config{Rates: staticRate(50000), Reporter: reporter, DebounceWindow: 20 * time.Millisecond})
	scan(t, s, doc)

	added := textNode("$4.99")
	feed.AppendChild(added)
	other.AppendChild(textNode("$7"))

	s.OnDocumentChanged(added, added.FirstChild)
	s.OnDocumentChanged(added)

	c := waitCycle(t, cycles, report.TriggerMutation)
	if c.Roots != 1 || c.Mutations() != 1 {
		t.Fatalf("mutation cycle: roots=%d mutations=%d", c.Roots, c.Mutations())
	}
	out := render(t, doc)
	if !strings.Contains(out, "$4.99 (9,980 sats) ") {
		t.Errorf("reported subtree not annotated: %s", out)
	}
	if strings.Contains(out, "$7 (") {
		t.Errorf("unreported subtree was scanned: %s", out)
	}
}

func TestOnDocumentChanged_MaxPendingFlushesEarly(t *testing.T) {
	doc := mustParse(t, `<div id="feed"></div>`)
	feed := q(t, doc, "#feed")

	reporter, cycles := collector()
	s := start(t, Config{Rates: staticRate(50000), Reporter: reporter, DebounceWindow: time.Hour, MaxPending: 2})

	a, b := textNode("$1"), textNode("$2")
	feed.AppendChild(a)
	feed.AppendChild(b)
	s.OnDocumentChanged(a)
	s.OnDocumentChanged(b)

	c := waitCycle(t, cycles, report.TriggerMutation)
	if c.Mutations() != 2 {
		t.Errorf("got %d mutations, want 2", c.Mutations())
	}
}

// mutatingViewport rewrites a text node while the scheduler enumerates,
// the way page scripts can change the document under a pending write.
type mutatingViewport struct {
	target *html.Node
	data   string
}

func (v *mutatingViewport) Visible(el *html.Node) bool { return StyleViewport{}.Visible(el) }
func (v *mutatingViewport) Observe(*html.Node)         { v.target.Data = v.data }

func TestScan_WriteConflictDiscarded(t *testing.T) {
	doc := mustParse(t, `<p id="a">$4.99</p><div hidden>x</div>`)
	text := q(t, doc, "#a").FirstChild
	s := start(t, Config{Rates: staticRate(50000), Viewport: &mutatingViewport{target: text, data: "$5.99"}})

	c := scan(t, s, doc)
	if c.Conflicts != 1 || c.Mutations() != 0 {
		t.Fatalf("cycle: conflicts=%d mutations=%d", c.Conflicts, c.Mutations())
	}
	if text.Data != "$5.99" {
		t.Fatalf("text: got %q", text.Data)
	}

	// Never marked, so the next cycle sees it afresh.
	scan(t, s, doc)
	if text.Data != "$5.99 (11,980 sats) " {
		t.Errorf("text: got %q", text.Data)
	}
}

type panicViewport struct{}

func (panicViewport) Visible(el *html.Node) bool {
	for _, a := range el.Attr {
		if a.Key == "id" && a.Val == "boom" {
			panic("layout engine exploded")
		}
	}
	return true
}
func (panicViewport) Observe(*html.Node) {}

func TestScan_PanicIsolatedToSubtree(t *testing.T) {
	doc := mustParse(t, `<div id="a"><p>$1</p><p id="boom">$2</p></div><div id="b"><p>$3</p></div>`)
	a, b := q(t, doc, "#a"), q(t, doc, "#b")
	s := start(t, Config{Rates: staticRate(50000), Viewport: panicViewport{}, DebounceWindow: time.Hour})

	s.OnDocumentChanged(a, b)
	c, err := s.Flush(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Failures != 1 || c.Mutations() != 1 {
		t.Fatalf("cycle: failures=%d mutations=%d", c.Failures, c.Mutations())
	}
	out := render(t, doc)
	if !strings.Contains(out, "$3 (6,000 sats) ") {
		t.Errorf("healthy subtree not annotated: %s", out)
	}
	if strings.Contains(out, "$1 (") {
		t.Errorf("abandoned subtree partially annotated: %s", out)
	}
}

func TestScan_DeepDocument(t *testing.T) {
	const depth = 20000
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	cur := root
	for range depth {
		child := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
		cur.AppendChild(child)
		cur = child
	}
	leaf := &html.Node{Type: html.TextNode, Data: "deep $4.99"}
	cur.AppendChild(leaf)

	s := start(t, Config{Rates: staticRate(50000)})
	if c := scan(t, s, root); c.Mutations() != 1 {
		t.Fatalf("got %d mutations, want 1", c.Mutations())
	}
	if leaf.Data != "deep $4.99 (9,980 sats) " {
		t.Errorf("leaf: got %q", leaf.Data)
	}
}

func TestScheduler_Lifecycle(t *testing.T) {
	if _, err := New(Config{Rates: staticRate(1)}); err == nil {
		t.Error("expected error without recognizer")
	}
	if _, err := New(Config{Recognizer: pricetoken.MustNew(pricetoken.USD)}); err == nil {
		t.Error("expected error without rate source")
	}

	s, err := New(Config{Recognizer: pricetoken.MustNew(pricetoken.USD), Rates: staticRate(50000)})
	if err != nil {
		t.Fatal(err)
	}
	doc := mustParse(t, `<p>$1</p>`)
	if _, err := s.Scan(context.Background(), doc); !errors.Is(err, ErrStopped) {
		t.Fatalf("Scan before Start: got %v, want ErrStopped", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if s.State() != Idle {
		t.Errorf("State: got %s, want idle", s.State())
	}
	if c, err := s.Flush(context.Background()); err != nil || c.Skipped != report.SkipEmpty {
		t.Errorf("empty flush: got %+v, %v", c, err)
	}
	s.Stop()
	s.Stop()
	if _, err := s.Scan(context.Background(), doc); !errors.Is(err, ErrStopped) {
		t.Errorf("Scan after Stop: got %v, want ErrStopped", err)
	}
	s.OnDocumentChanged(doc)
}
