package raster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Fetcher downloads the source document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Rendering is the page set produced by the first strategy that succeeded.
type Rendering struct {
	Strategy string
	Pages    []Page
}

// URLs returns the page image URLs in page order.
func (r *Rendering) URLs() []string {
	urls := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		urls[i] = p.ImageURL
	}
	return urls
}

// Chain tries strategies in order on the whole document.
type Chain struct {
	fetcher    Fetcher
	strategies []Rasterizer
}

// NewChain returns a Chain over strategies in priority order.
func NewChain(fetcher Fetcher, strategies ...Rasterizer) *Chain {
	return &Chain{fetcher: fetcher, strategies: strategies}
}

// DefaultStrategies returns simple, alternative and original, in that order.
func DefaultStrategies(up Uploader, runner CommandRunner) []Rasterizer {
	return []Rasterizer{
		NewSimple(up),
		NewAlternative(up),
		NewOriginal(up, runner, "", ""),
	}
}

// RenderAllPages fetches pdfURL once and renders it with the first strategy
// that does not fail at document level. Pages are never mixed across
// strategies. Errors that are not document-level (fetch, storage, context)
// are returned immediately.
func (c *Chain) RenderAllPages(ctx context.Context, pdfURL string) (*Rendering, error) {
	if len(c.strategies) == 0 {
		return nil, errors.New("no rasterizer strategies configured")
	}
	logCtx := slog.With("pdfUrl", pdfURL)

	pdf, err := c.fetcher.Fetch(ctx, pdfURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pdf: %w", err)
	}

	var lastErr error
	for i, strategy := range c.strategies {
		pages, err := strategy.Rasterize(ctx, pdf)
		if err == nil {
			logCtx.Info("PDF rasterized.", "rasterizer", strategy.Name(), "pageCount", len(pages))
			return &Rendering{Strategy: strategy.Name(), Pages: pages}, nil
		}
		if !errors.Is(err, ErrDocument) {
			logCtx.Error("Rasterizer failed with a non-recoverable error.", "rasterizer", strategy.Name(), "error", err)
			return nil, err
		}

		lastErr = err
		if i < len(c.strategies)-1 {
			logCtx.Warn("Rasterizer could not open document, falling back.",
				"rasterizer", strategy.Name(),
				"next", c.strategies[i+1].Name(),
				"error", err,
			)
		}
	}
	logCtx.Error("All rasterizers failed.", "error", lastErr)
	return nil, fmt.Errorf("all %d rasterizers failed, last error: %w", len(c.strategies), lastErr)
}
