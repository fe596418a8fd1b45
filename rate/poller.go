package rate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/satsview/satconv"
)

// DefaultURL is a CoinGecko-shaped simple price endpoint.
const DefaultURL = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"

// Sanity bounds on an accepted price. Anything outside is treated as a bad
// response and leaves the previous value in place.
const (
	MinFiatPerBtc = 100
	MaxFiatPerBtc = 100_000_000
)

// ErrImplausible is returned by Refresh for prices outside the sanity bounds.
var ErrImplausible = errors.New("rate: implausible price")

// Poller keeps a rate fresh by polling an HTTP JSON endpoint. CurrentRate
// never blocks on the network; it serves the last accepted value classified
// by its age.
type Poller struct {
	url      string
	path     []string // JSON object keys down to the price, e.g. bitcoin.usd
	currency string
	interval time.Duration
	client   *http.Client
	store    *Store
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.RWMutex
	fiatPerBtc float64
	asOf       time.Time
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithURL sets the endpoint. Default: DefaultURL.
func WithURL(u string) PollerOption { return func(p *Poller) { p.url = u } }

// WithPath sets the dotted JSON path of the price. Default: "bitcoin.usd".
func WithPath(path string) PollerOption {
	return func(p *Poller) { p.path = strings.Split(path, ".") }
}

// WithCurrency sets the currency key used in the store. Default: "USD".
func WithCurrency(c string) PollerOption { return func(p *Poller) { p.currency = c } }

// WithInterval sets the refresh interval. Default: 5m.
func WithInterval(d time.Duration) PollerOption { return func(p *Poller) { p.interval = d } }

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) PollerOption { return func(p *Poller) { p.client = c } }

// WithStore persists accepted values and seeds the poller at Start.
func WithStore(s *Store) PollerOption { return func(p *Poller) { p.store = s } }

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) PollerOption { return func(p *Poller) { p.logger = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) PollerOption { return func(p *Poller) { p.now = now } }

// NewPoller creates a Poller. Call Start to begin polling.
func NewPoller(opts ...PollerOption) *Poller {
	p := &Poller{
		url:      DefaultURL,
		path:     []string{"bitcoin", "usd"},
		currency: "USD",
		interval: 5 * time.Minute,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CurrentRate implements satconv.RateSource.
func (p *Poller) CurrentRate() (satconv.Rate, bool) {
	p.mu.RLock()
	v, asOf := p.fiatPerBtc, p.asOf
	p.mu.RUnlock()
	if v <= 0 {
		return satconv.Rate{}, false
	}
	return satconv.NewRate(v, asOf, Classify(p.now().Sub(asOf))), true
}

// Start seeds from the store, refreshes once and keeps refreshing on the
// interval until ctx is cancelled. Refresh failures are logged; the last
// good value keeps ageing toward expiry.
func (p *Poller) Start(ctx context.Context) {
	p.seed(ctx)
	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn("rate: initial refresh failed", "url", p.url, "error", err)
	}
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn("rate: refresh failed", "url", p.url, "error", err)
			}
		}
	}
}

func (p *Poller) seed(ctx context.Context) {
	if p.store == nil {
		return
	}
	v, asOf, ok, err := p.store.Latest(ctx, p.currency)
	if err != nil {
		p.logger.Warn("rate: seed from store", "error", err)
		return
	}
	if !ok {
		return
	}
	p.set(v, asOf)
	p.logger.Info("rate: seeded from store", "currency", p.currency,
		"fiat_per_btc", v, "age", p.now().Sub(asOf).Round(time.Second))
}

// Refresh fetches the price once and, if plausible, makes it current.
func (p *Poller) Refresh(ctx context.Context) error {
	v, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	asOf := p.now()
	p.set(v, asOf)
	if p.store != nil {
		if err := p.store.Save(ctx, p.currency, v, asOf); err != nil {
			p.logger.Warn("rate: persist", "error", err)
		}
	}
	p.logger.Debug("rate: refreshed", "currency", p.currency, "fiat_per_btc", v)
	return nil
}

func (p *Poller) set(v float64, asOf time.Time) {
	p.mu.Lock()
	p.fiatPerBtc, p.asOf = v, asOf
	p.mu.Unlock()
}

func (p *Poller) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("rate: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rate: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate: status %d", resp.StatusCode)
	}

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return 0, fmt.Errorf("rate: decode: %w", err)
	}
	v, err := lookup(doc, p.path)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || v < MinFiatPerBtc || v > MaxFiatPerBtc {
		return 0, fmt.Errorf("%w: %v", ErrImplausible, v)
	}
	return v, nil
}

// lookup walks object keys down path and returns the number found there.
func lookup(doc any, path []string) (float64, error) {
	cur := doc
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("rate: path %q: not an object", strings.Join(path, "."))
		}
		cur, ok = obj[key]
		if !ok {
			return 0, fmt.Errorf("rate: path %q: missing %q", strings.Join(path, "."), key)
		}
	}
	v, ok := cur.(float64)
	if !ok {
		return 0, fmt.Errorf("rate: path %q: not a number", strings.Join(path, "."))
	}
	return v, nil
}
