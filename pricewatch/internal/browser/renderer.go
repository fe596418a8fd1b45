// Package browser renders client-side pages through Chrome so their prices
// exist in the DOM before annotation. Chrome is started lazily on the
// first render and reused until Close.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures the renderer.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome.
	RemoteURL string

	// Stealth opens tabs with the go-rod/stealth evasions applied.
	Stealth bool

	// ResourceBlocking lists request types to drop: images, fonts, media,
	// stylesheets, or any raw CDP resource type.
	ResourceBlocking []string

	// NavTimeout bounds navigation plus load. Default: 30s.
	NavTimeout time.Duration

	// Settle is waited after the load event for late client rendering.
	Settle time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Renderer owns one Chrome instance.
type Renderer struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// New creates a Renderer. Chrome is not started until Render.
func New(cfg Config) *Renderer {
	cfg.defaults()
	return &Renderer{cfg: cfg}
}

// Render navigates a fresh tab to pageURL and returns the serialised DOM
// once the page has loaded and settled.
func (r *Renderer) Render(ctx context.Context, pageURL string) ([]byte, error) {
	b, err := r.ensure()
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if r.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	if len(r.cfg.ResourceBlocking) > 0 {
		router, err := blockResources(page, r.cfg.ResourceBlocking)
		if err != nil {
			r.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		} else {
			defer router.Stop()
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavTimeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		r.cfg.Logger.Warn("browser: wait load", "url", pageURL, "error", err)
	}
	if r.cfg.Settle > 0 {
		select {
		case <-time.After(r.cfg.Settle):
		case <-navCtx.Done():
		}
	}

	res, err := page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	r.cfg.Logger.Debug("browser: rendered", "url", pageURL, "stealth", r.cfg.Stealth)
	return []byte("<!DOCTYPE html>" + res.Value.Str()), nil
}

// Close shuts Chrome down. Render fails afterwards.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	return err
}

func (r *Renderer) ensure() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("browser: renderer is closed")
	}
	if r.browser != nil {
		return r.browser, nil
	}

	wsURL := r.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		r.lnch = l
		r.cfg.Logger.Info("browser: launched local chrome", "url", wsURL)
	} else {
		r.cfg.Logger.Info("browser: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if r.lnch != nil {
			r.lnch.Cleanup()
			r.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	r.browser = b
	return b, nil
}
