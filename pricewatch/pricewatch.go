// Package pricewatch annotates whole pages: it acquires HTML (raw input,
// plain HTTP, or Chrome for client-rendered shops), runs one annotation
// session over the parsed document and returns the annotated page in HTML
// or Markdown together with the cycle report.
//
// The same operations are served over HTTP (Handler) and MCP (RegisterMCP).
package pricewatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/net/html"

	"github.com/hazyhaar/satsview/annotator"
	"github.com/hazyhaar/satsview/composite"
	"github.com/hazyhaar/satsview/idgen"
	"github.com/hazyhaar/satsview/pricetoken"
	"github.com/hazyhaar/satsview/pricewatch/internal/browser"
	"github.com/hazyhaar/satsview/pricewatch/internal/fetcher"
	"github.com/hazyhaar/satsview/pricewatch/internal/render"
	"github.com/hazyhaar/satsview/pricewatch/internal/sink"
	"github.com/hazyhaar/satsview/report"
	"github.com/hazyhaar/satsview/satconv"
	"github.com/hazyhaar/satsview/urlguard"
)

// Format is the output format of an annotated page.
type Format = render.Format

const (
	FormatHTML     = render.FormatHTML
	FormatMarkdown = render.FormatMarkdown
)

// ParseFormat accepts "html", "markdown" or "md".
func ParseFormat(s string) (Format, error) { return render.ParseFormat(s) }

// Page is an annotated document with its cycle report.
type Page = report.Page

// ErrEmptyInput is returned for an empty HTML body or URL.
var ErrEmptyInput = errors.New("pricewatch: empty input")

// ErrForbiddenURL is returned by AnnotateURL for URLs the fetch guard
// refuses: non-HTTP schemes and, unless fetch.allow_private is set,
// loopback and private addresses.
var ErrForbiddenURL = errors.New("pricewatch: forbidden URL")

// ErrTooLarge is returned for HTML above ServerConfig.MaxUpload.
var ErrTooLarge = errors.New("pricewatch: input too large")

// Service is the page annotation service. It is safe for concurrent use:
// every call runs its own scheduler over its own document.
type Service struct {
	cfg     *Config
	rates   satconv.RateSource
	rec     *pricetoken.Recognizer
	comp    *composite.Reconstructor
	fetch   *fetcher.Fetcher
	chrome  *browser.Renderer // nil unless fetch.escalate
	out     *render.Renderer
	sinkR   *sink.Router
	pageIDs idgen.Generator
	logger  *slog.Logger

	maxUpload int64
}

// New creates a Service. rates is read once per annotation cycle.
func New(cfg *Config, rates satconv.RateSource, logger *slog.Logger, sinks ...Sink) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if rates == nil {
		return nil, errors.New("pricewatch: rate source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	rec, err := pricetoken.New(cfg.Currency)
	if err != nil {
		return nil, fmt.Errorf("pricewatch: %w", err)
	}
	comp, err := composite.New(cfg.Composite.Rules, rec)
	if err != nil {
		return nil, fmt.Errorf("pricewatch: %w", err)
	}
	comp.SetMaxDepth(cfg.Composite.MaxDepth)

	fetchOpts := []fetcher.Option{
		fetcher.WithUserAgent(cfg.Fetch.UserAgent),
		fetcher.WithLogger(logger),
	}
	if !cfg.Fetch.AllowPrivate {
		fetchOpts = append(fetchOpts, fetcher.WithClient(&http.Client{Transport: urlguard.Transport()}))
	}
	fetchOpts = append(fetchOpts, fetcher.WithTimeout(cfg.Fetch.Timeout))

	s := &Service{
		cfg:     cfg,
		rates:   rates,
		rec:     rec,
		comp:    comp,
		fetch:   fetcher.New(fetchOpts...),
		out:     render.New(),
		sinkR:   sink.NewRouter(logger, sinks...),
		pageIDs: idgen.Prefixed("page_", idgen.UUIDv7()),
		logger:  logger,

		maxUpload: cfg.Server.MaxUpload,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = MaxUpload
	}
	if cfg.Fetch.Escalate {
		s.chrome = browser.New(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Stealth:          cfg.Browser.Stealth,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			NavTimeout:       cfg.Browser.NavTimeout,
			Settle:           cfg.Browser.Settle,
			Logger:           logger,
		})
	}
	return s, nil
}

// Rate returns the rate the next cycle would use.
func (s *Service) Rate() (satconv.Rate, bool) {
	return s.rates.CurrentRate()
}

// AnnotateHTML annotates raw HTML. pageURL, when set, resolves relative
// links in Markdown output and is echoed in the result.
func (s *Service) AnnotateHTML(ctx context.Context, raw []byte, pageURL string, f Format) (*report.Page, error) {
	if int64(len(raw)) > s.maxUpload {
		return nil, ErrTooLarge
	}
	return s.annotate(ctx, raw, pageURL, f, false)
}

// AnnotateURL fetches pageURL over HTTP and annotates it. When the response
// looks like a client-rendered shell and escalation is enabled, the page is
// rendered through Chrome first.
func (s *Service) AnnotateURL(ctx context.Context, pageURL string, f Format) (*report.Page, error) {
	if pageURL == "" {
		return nil, ErrEmptyInput
	}
	if err := s.checkURL(ctx, pageURL); err != nil {
		return nil, err
	}
	res, err := s.fetch.Fetch(ctx, pageURL)
	if err != nil {
		if errors.Is(err, urlguard.ErrBlocked) {
			return nil, fmt.Errorf("%w: %v", ErrForbiddenURL, err)
		}
		if s.chrome == nil {
			return nil, fmt.Errorf("pricewatch: %w", err)
		}
		s.logger.Warn("pricewatch: http fetch failed, rendering", "url", pageURL, "error", err)
		return s.renderAndAnnotate(ctx, pageURL, f)
	}
	if !res.Sufficient && s.chrome != nil {
		s.logger.Info("pricewatch: page needs a browser", "url", res.URL)
		return s.renderAndAnnotate(ctx, res.URL, f)
	}
	return s.annotate(ctx, res.HTML, res.URL, f, false)
}

func (s *Service) checkURL(ctx context.Context, pageURL string) error {
	err := urlguard.Check(ctx, pageURL)
	if errors.Is(err, urlguard.ErrBlocked) && s.cfg.Fetch.AllowPrivate {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForbiddenURL, err)
	}
	return nil
}

func (s *Service) renderAndAnnotate(ctx context.Context, pageURL string, f Format) (*report.Page, error) {
	raw, err := s.chrome.Render(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("pricewatch: %w", err)
	}
	return s.annotate(ctx, raw, pageURL, f, true)
}

func (s *Service) annotate(ctx context.Context, raw []byte, pageURL string, f Format, rendered bool) (*report.Page, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyInput
	}
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("pricewatch: parse: %w", err)
	}

	var vp annotator.Viewport = annotator.StyleViewport{}
	if s.cfg.Scan.IncludeHidden {
		vp = annotator.AllVisible{}
	}
	sched, err := annotator.New(annotator.Config{
		Recognizer:     s.rec,
		Reconstructor:  s.comp,
		Rates:          s.rates,
		Options:        satconv.Options{AbbreviateSats: s.cfg.Display.AbbreviateSats},
		Viewport:       vp,
		Reporter:       s.sinkR,
		DebounceWindow: s.cfg.Scan.DebounceWindow,
		MaxPending:     s.cfg.Scan.MaxPending,
		Logger:         s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pricewatch: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return nil, fmt.Errorf("pricewatch: %w", err)
	}
	cycle, err := sched.Scan(ctx, doc)
	sched.Stop()
	if err != nil {
		return nil, fmt.Errorf("pricewatch: scan: %w", err)
	}

	page := &report.Page{
		ID:         s.pageIDs(),
		URL:        pageURL,
		SourceHash: report.HashHTML(raw),
		Rendered:   rendered,
		Cycle:      cycle,
	}
	out, err := s.out.Render(doc, f, pageURL)
	if err != nil {
		return nil, fmt.Errorf("pricewatch: %w", err)
	}
	switch {
	case f == FormatMarkdown:
		page.Markdown = string(out)
	case s.cfg.Display.Sanitize:
		page.HTML = string(s.out.Sanitize(out))
	default:
		page.HTML = string(out)
	}

	s.logger.Info("pricewatch: page annotated",
		"page", page.ID, "url", pageURL, "annotations", cycle.Mutations(),
		"skipped", cycle.Skipped, "rendered", rendered)
	return page, nil
}

// Close stops Chrome and closes the sinks.
func (s *Service) Close() error {
	var errs []error
	if s.chrome != nil {
		errs = append(errs, s.chrome.Close())
	}
	errs = append(errs, s.sinkR.Close())
	return errors.Join(errs...)
}
