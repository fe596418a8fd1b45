// Command satsview annotates fiat prices in web pages with their bitcoin
// value.
//
// Usage:
//
//	satsview -url https://shop.example/item        # annotate one page, print it
//	satsview -file page.html -format markdown      # annotate a local file
//	satsview -serve                                 # HTTP API (+ MCP at /mcp)
//	satsview -mcp                                   # MCP over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/satsview/pricewatch"
)

var version = "dev"

type options struct {
	configPath string
	url        string
	file       string
	format     string
	asJSON     bool
	serve      bool
	stdioMCP   bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to satsview.yaml config file")
	flag.StringVar(&o.url, "url", "", "annotate the page at this URL")
	flag.StringVar(&o.file, "file", "", "annotate a local HTML file (- for stdin)")
	flag.StringVar(&o.format, "format", "html", "output format: html, markdown")
	flag.BoolVar(&o.asJSON, "json", false, "print the full page report as JSON")
	flag.BoolVar(&o.serve, "serve", false, "run the HTTP API")
	flag.BoolVar(&o.stdioMCP, "mcp", false, "serve MCP tools over stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("satsview: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	if o.url == "" && o.file == "" && !o.serve && !o.stdioMCP {
		fmt.Fprintln(os.Stderr, "usage: satsview [-config <file>] -url <url> | -file <path> | -serve | -mcp")
		os.Exit(2)
	}

	cfg, err := pricewatch.LoadConfigFile(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	f, err := pricewatch.ParseFormat(o.format)
	if err != nil {
		return err
	}

	rates, err := pricewatch.StartRates(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("rates: %w", err)
	}
	defer rates.Close()

	// stdout carries the annotated page or the MCP stream, so sinks never
	// write there in those modes.
	sinkOut := io.Writer(os.Stderr)
	if o.serve {
		sinkOut = os.Stdout
	}
	sinks, err := pricewatch.SinksFromConfig(cfg.Sinks, sinkOut, logger)
	if err != nil {
		return err
	}

	svc, err := pricewatch.New(cfg, rates, logger, sinks...)
	if err != nil {
		return err
	}
	defer svc.Close()

	switch {
	case o.stdioMCP:
		return svc.MCPServer(version).Run(ctx, &mcp.StdioTransport{})
	case o.serve:
		return serve(ctx, logger, cfg.Server.Addr, svc)
	default:
		return annotateOnce(ctx, svc, o, f)
	}
}

func annotateOnce(ctx context.Context, svc *pricewatch.Service, o options, f pricewatch.Format) error {
	var (
		page *pricewatch.Page
		err  error
	)
	if o.url != "" {
		page, err = svc.AnnotateURL(ctx, o.url, f)
	} else {
		var raw []byte
		if o.file == "-" {
			raw, err = io.ReadAll(io.LimitReader(os.Stdin, pricewatch.MaxUpload))
		} else {
			raw, err = os.ReadFile(o.file)
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		page, err = svc.AnnotateHTML(ctx, raw, "", f)
	}
	if err != nil {
		return err
	}

	if o.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}
	out := page.HTML
	if f == pricewatch.FormatMarkdown {
		out = page.Markdown
	}
	_, err = io.WriteString(os.Stdout, out+"\n")
	return err
}

func serve(ctx context.Context, logger *slog.Logger, addr string, svc *pricewatch.Service) error {
	srv := svc.MCPServer(version)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)

	r := chi.NewRouter()
	r.Mount("/mcp", mcpHandler)
	r.Mount("/", svc.Handler())

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("satsview: listening", "addr", addr, "version", version)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("satsview: shutting down")
	return httpSrv.Shutdown(shutdownCtx)
}
