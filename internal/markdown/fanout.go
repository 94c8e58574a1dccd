// Package markdown runs OCR over page images and assembles the per-page
// Markdown into the shapes returned by the conversion API.
package markdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ErrorPlaceholder replaces the content of a page whose OCR failed.
const ErrorPlaceholder = "*Error processing this page*"

// RenderFailedPlaceholder replaces the content of a page whose image could not
// be rendered. Such pages are never sent to OCR.
const RenderFailedPlaceholder = "*This page could not be rendered*"

// ErrNotRendered is recorded on the outcome of a page submitted with a
// placeholder image.
var ErrNotRendered = errors.New("page image could not be rendered")

// OCRFunc converts one page image to Markdown.
type OCRFunc func(ctx context.Context, imageURL string) (string, error)

// PageOutcome is the OCR result of one page. Exactly one of Markdown and Err
// is meaningful.
type PageOutcome struct {
	Index    int
	Markdown string
	Err      error
}

// PageImage is one page submitted for OCR. Rendered is false for placeholder
// images.
type PageImage struct {
	URL      string
	Rendered bool
}

// Content returns the page Markdown, or the placeholder matching the failure.
func (o PageOutcome) Content() string {
	if errors.Is(o.Err, ErrNotRendered) {
		return RenderFailedPlaceholder
	}
	if o.Err != nil {
		return ErrorPlaceholder
	}
	return o.Markdown
}

// ProcessPages runs ocr on every image URL concurrently, at most limit at a
// time (limit <= 0 means no bound). A page failure is recorded on its outcome
// and never cancels the other pages. Outcomes are returned in input order.
func ProcessPages(ctx context.Context, imageURLs []string, ocr OCRFunc, limit int) []PageOutcome {
	images := make([]PageImage, len(imageURLs))
	for i, u := range imageURLs {
		images[i] = PageImage{URL: u, Rendered: true}
	}
	return ProcessImages(ctx, images, ocr, limit)
}

// ProcessImages is ProcessPages over page images that may be placeholders.
// A placeholder page skips OCR and its outcome carries ErrNotRendered.
func ProcessImages(ctx context.Context, images []PageImage, ocr OCRFunc, limit int) []PageOutcome {
	outcomes := make([]PageOutcome, len(images))
	if len(images) == 0 {
		return outcomes
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, img := range images {
		g.Go(func() error {
			outcomes[i] = runPage(ctx, i+1, img, ocr)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		slog.Warn("Some pages have no OCR content.", "pageCount", len(outcomes), "failedPages", failed)
	}
	return outcomes
}

func runPage(ctx context.Context, index int, img PageImage, ocr OCRFunc) (out PageOutcome) {
	out.Index = index
	defer func() {
		if r := recover(); r != nil {
			out.Markdown = ""
			out.Err = fmt.Errorf("ocr panic: %v", r)
		}
	}()

	if !img.Rendered {
		out.Err = fmt.Errorf("page %d: %w", index, ErrNotRendered)
		return out
	}
	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}
	md, err := ocr(ctx, img.URL)
	if err != nil {
		slog.Warn("Page OCR failed.", "page", index, "imageUrl", img.URL, "error", err)
		out.Err = fmt.Errorf("page %d: %w", index, err)
		return out
	}
	out.Markdown = md
	return out
}

// Combine renders outcomes as one document, each page under a "## Page N"
// header.
func Combine(outcomes []PageOutcome) string {
	return CombinePages(Contents(outcomes))
}

// Contents returns the raw per-page content without headers.
func Contents(outcomes []PageOutcome) []string {
	contents := make([]string, len(outcomes))
	for i, o := range outcomes {
		contents[i] = o.Content()
	}
	return contents
}
