package pricewatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/satsview/rate"
	"github.com/hazyhaar/satsview/satconv"
)

// RateSource is a started rate provider plus whatever it holds open.
type RateSource struct {
	satconv.RateSource
	store *rate.Store
}

// Close releases the rate store, if any. The poller stops with the context
// passed to StartRates.
func (r *RateSource) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// StartRates builds the configured rate provider. A positive static value
// wins; otherwise an HTTP poller is started, persisted to the rate store
// when one is configured.
func StartRates(ctx context.Context, cfg *Config, logger *slog.Logger) (*RateSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Rate.Static > 0 {
		logger.Info("pricewatch: static rate", "fiat_per_btc", cfg.Rate.Static, "currency", cfg.Currency.Code)
		return &RateSource{RateSource: rate.Static{FiatPerBtc: cfg.Rate.Static, AsOf: time.Now()}}, nil
	}

	opts := []rate.PollerOption{
		rate.WithURL(cfg.Rate.URL),
		rate.WithPath(cfg.Rate.Path),
		rate.WithCurrency(cfg.Currency.Code),
		rate.WithInterval(cfg.Rate.Interval),
		rate.WithLogger(logger),
	}
	var store *rate.Store
	if cfg.Rate.Store != "" {
		s, err := rate.OpenStore(cfg.Rate.Store)
		if err != nil {
			return nil, fmt.Errorf("pricewatch: %w", err)
		}
		store = s
		opts = append(opts, rate.WithStore(s))
	}

	p := rate.NewPoller(opts...)
	p.Start(ctx)
	return &RateSource{RateSource: p, store: store}, nil
}
