package pricewatch

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/satsview/dbopen"
	"github.com/hazyhaar/satsview/rate"
	"github.com/hazyhaar/satsview/report"
	"github.com/hazyhaar/satsview/satconv"
)

const shopPage = `<!DOCTYPE html><html><head><title>Deals</title></head><body>
<h1>Kitchen deals</h1>
<p>Kettle now $4.99 each</p>
<span class="a-price"><span class="a-offscreen">$19.99</span><span aria-hidden="true"><span class="a-price-symbol">$</span><span class="a-price-whole">19<span class="a-price-decimal">.</span></span><span class="a-price-fraction">99</span></span></span>
<div style="display:none"><p>Members pay $3.00</p></div>
<script>var price = "$1.00";</script>
</body></html>`

type cycles struct {
	mu  sync.Mutex
	got []report.Cycle
}

func (c *cycles) sink() Sink {
	return NewCallbackSink(func(_ context.Context, cy report.Cycle) error {
		c.mu.Lock()
		c.got = append(c.got, cy)
		c.mu.Unlock()
		return nil
	})
}

func newService(t *testing.T, rates satconv.RateSource, mutate func(*Config), sinks ...Sink) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Fetch.AllowPrivate = true // test servers listen on loopback
	if mutate != nil {
		mutate(cfg)
	}
	svc, err := New(cfg, rates, nil, sinks...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestAnnotateHTML(t *testing.T) {
	var c cycles
	svc := newService(t, rate.Static{FiatPerBtc: 50000}, nil, c.sink())

	page, err := svc.AnnotateHTML(context.Background(), []byte(shopPage), "https://shop.example/deals", FormatHTML)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"$4.99 (9,980 sats)", "(39,980 sats)", `var price = "$1.00";`, "Members pay $3.00</p>"} {
		if !strings.Contains(page.HTML, want) {
			t.Errorf("html missing %q:\n%s", want, page.HTML)
		}
	}
	if strings.Contains(page.HTML, "$3.00 (") {
		t.Error("hidden subtree annotated")
	}
	if !strings.HasPrefix(page.ID, "page_") || page.SourceHash != report.HashHTML([]byte(shopPage)) {
		t.Errorf("page id=%q hash=%q", page.ID, page.SourceHash)
	}
	if page.Cycle.Mutations() != 2 || page.Cycle.Composites != 1 || page.Cycle.Deferred != 1 {
		t.Errorf("cycle: %+v", page.Cycle)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.got) != 1 || c.got[0].ID != page.Cycle.ID {
		t.Errorf("sink got %d cycles", len(c.got))
	}
}

func TestAnnotateHTML_IncludeHidden(t *testing.T) {
	svc := newService(t, rate.Static{FiatPerBtc: 50000}, func(c *Config) { c.Scan.IncludeHidden = true })
	page, err := svc.AnnotateHTML(context.Background(), []byte(shopPage), "", FormatHTML)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page.HTML, "$3.00 (6,000 sats)") {
		t.Errorf("hidden price not annotated:\n%s", page.HTML)
	}
}

func TestAnnotateHTML_Markdown(t *testing.T) {
	svc := newService(t, rate.Static{FiatPerBtc: 50000}, nil)
	page, err := svc.AnnotateHTML(context.Background(), []byte(shopPage), "", FormatMarkdown)
	if err != nil {
		t.Fatal(err)
	}
	if page.HTML != "" || !strings.Contains(page.Markdown, "# Kitchen deals") ||
		!strings.Contains(page.Markdown, "$4.99 (9,980 sats)") {
		t.Errorf("markdown:\n%s", page.Markdown)
	}
}

func TestAnnotateHTML_NoRate(t *testing.T) {
	svc := newService(t, rate.Static{}, nil)
	page, err := svc.AnnotateHTML(context.Background(), []byte(shopPage), "", FormatHTML)
	if err != nil {
		t.Fatal(err)
	}
	if page.Cycle.Skipped != report.SkipNoRate || page.Cycle.Mutations() != 0 {
		t.Errorf("cycle: %+v", page.Cycle)
	}
	if strings.Contains(page.HTML, "sats") {
		t.Error("document annotated without a rate")
	}
}

func TestAnnotateHTML_Abbreviated(t *testing.T) {
	svc := newService(t, rate.Static{FiatPerBtc: 50000}, func(c *Config) { c.Display.AbbreviateSats = true })
	page, err := svc.AnnotateHTML(context.Background(), []byte(`<p>Total $24.50</p>`), "", FormatHTML)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page.HTML, "$24.50 (49 k sats)") {
		t.Errorf("got %s", page.HTML)
	}
}

func TestAnnotateHTML_Empty(t *testing.T) {
	svc := newService(t, rate.Static{FiatPerBtc: 50000}, nil)
	if _, err := svc.AnnotateHTML(context.Background(), []byte("  \n"), "", FormatHTML); err != ErrEmptyInput {
		t.Fatalf("got %v, want ErrEmptyInput", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, nil, nil); err == nil {
		t.Error("missing rate source accepted")
	}
	cfg := DefaultConfig()
	cfg.Composite.Rules = []CompositeRule{{Name: "broken"}}
	if _, err := New(cfg, rate.Static{FiatPerBtc: 1}, nil); err == nil {
		t.Error("rule without whole selector accepted")
	}
}

func TestAnnotateHTML_Sanitize(t *testing.T) {
	svc := newService(t, rate.Static{FiatPerBtc: 50000}, func(c *Config) { c.Display.Sanitize = true })
	page, err := svc.AnnotateHTML(context.Background(),
		[]byte(`<p onmouseover="x()">Tea $2.50</p><script>var p = "$9.99";</script>`), "", FormatHTML)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(page.HTML, "<script") || strings.Contains(page.HTML, "onmouseover") {
		t.Errorf("unsanitized output: %s", page.HTML)
	}
	if !strings.Contains(page.HTML, "$2.50 (5,000 sats)") {
		t.Errorf("annotation lost: %s", page.HTML)
	}
}

func TestSinksFromConfig(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "cycles.db")
	sinks, err := SinksFromConfig([]SinkConfig{{Type: "stdout"}, {Type: "sqlite", Path: path}}, &buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sinks) != 2 {
		t.Fatalf("got %d sinks", len(sinks))
	}

	svc, err := New(DefaultConfig(), rate.Static{FiatPerBtc: 50000}, nil, sinks...)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AnnotateHTML(context.Background(), []byte(`<p>$1</p>`), "", FormatHTML); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), `"type":"cycle"`) {
		t.Errorf("stdout sink: %q", buf.String())
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
		t.Errorf("history rows: %d", n)
	}

	if _, err := SinksFromConfig([]SinkConfig{{Type: "kafka"}}, nil, nil); err == nil {
		t.Error("unknown sink type accepted")
	}
}
