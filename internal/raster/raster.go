// Package raster turns PDF documents into one uploaded PNG per page.
//
// Three strategies implement Rasterizer with different rendering engines. A
// strategy fails as a whole only when the document cannot be opened or yields
// no pages; a page that fails to render is replaced by a labeled placeholder
// image so the output always has one entry per input page. Chain tries the
// strategies in priority order, re-rendering the whole document on each
// attempt.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
)

// ContentTypePNG is the content type of every rendered page.
const ContentTypePNG = "image/png"

// ErrDocument marks document-level failures: the PDF could not be opened or
// no page could be produced. Only these errors trigger a fallback.
var ErrDocument = errors.New("document could not be rasterized")

// Outcome records how a page image was produced.
type Outcome string

const (
	Rendered    Outcome = "rendered"
	Placeholder Outcome = "placeholder"
)

// Page is one rendered page image.
type Page struct {
	Index       int     `json:"index"`
	ImageURL    string  `json:"imageUrl"`
	ContentType string  `json:"contentType"`
	Outcome     Outcome `json:"outcome"`
	RenderError string  `json:"renderError,omitempty"`
}

// Uploader stores an artifact and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// Rasterizer renders every page of a PDF and uploads the images.
type Rasterizer interface {
	Name() string
	Rasterize(ctx context.Context, pdf []byte) ([]Page, error)
}

func documentError(strategy string, err error) error {
	return fmt.Errorf("%s rasterizer: %w: %w", strategy, ErrDocument, err)
}

// renderFunc renders the 1-based page pageNum to PNG bytes.
type renderFunc func(ctx context.Context, pageNum int) ([]byte, error)

// renderPages drives the per-page loop shared by all strategies: pages are
// rendered in order, failed pages become placeholders, and every page is
// uploaded exactly once.
func renderPages(ctx context.Context, up Uploader, strategy string, pageCount int, placeholderSize image.Point, render renderFunc) ([]Page, error) {
	if pageCount <= 0 {
		return nil, documentError(strategy, errors.New("document has no pages"))
	}
	logCtx := slog.With("rasterizer", strategy, "pageCount", pageCount)

	pages := make([]Page, 0, pageCount)
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := Page{Index: pageNum, ContentType: ContentTypePNG, Outcome: Rendered}
		name := fmt.Sprintf("pdf-page-%d.png", pageNum)

		data, renderErr := safeRender(ctx, render, pageNum)
		if renderErr != nil {
			logCtx.Warn("Page rendering failed, substituting placeholder.", "page", pageNum, "error", renderErr)
			var err error
			data, err = PlaceholderPNG(pageNum, placeholderSize)
			if err != nil {
				return nil, fmt.Errorf("failed to build placeholder for page %d: %w", pageNum, err)
			}
			page.Outcome = Placeholder
			page.RenderError = renderErr.Error()
			name = fmt.Sprintf("pdf-page-%d-fallback.png", pageNum)
		}

		url, err := up.Upload(ctx, name, data, ContentTypePNG)
		if err != nil {
			return nil, fmt.Errorf("failed to upload page %d: %w", pageNum, err)
		}
		page.ImageURL = url
		pages = append(pages, page)
		logCtx.Debug("Page uploaded.", "page", pageNum, "outcome", page.Outcome, "url", url)
	}
	return pages, nil
}

// safeRender converts a panic inside a rendering engine into a page error.
func safeRender(ctx context.Context, render renderFunc, pageNum int) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panic: %v", r)
		}
	}()
	data, err = render(ctx, pageNum)
	if err == nil && len(data) == 0 {
		err = errors.New("renderer produced an empty image")
	}
	return data, err
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}
