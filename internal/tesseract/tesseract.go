// Package tesseract is a local OCR backend built on gosseract. It produces
// plain paragraphs rather than structured Markdown.
//
// Recognition is compiled in only with the "ocr" build tag, which needs the
// Tesseract and Leptonica headers on the build host:
//
//	apt-get install tesseract-ocr libtesseract-dev libleptonica-dev
//	go build -tags ocr ./...
//
// Without the tag every recognition returns ErrNotEnabled.
package tesseract

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotEnabled is returned when the binary was built without the "ocr" tag.
var ErrNotEnabled = errors.New("tesseract support not enabled; rebuild with -tags ocr")

// ModelName selects this backend in a conversion request.
const ModelName = "tesseract"

// Fetcher downloads the image to recognize.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Engine recognizes text with a fresh gosseract client per call, since a
// client is not safe for concurrent use.
type Engine struct {
	fetcher   Fetcher
	languages []string
}

// NewEngine returns an Engine for the given Tesseract languages (default "eng").
func NewEngine(fetcher Fetcher, languages ...string) *Engine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Engine{fetcher: fetcher, languages: languages}
}

// GenerateMarkdown fetches imageURL and returns its text as Markdown
// paragraphs. The model argument is ignored.
func (e *Engine) GenerateMarkdown(ctx context.Context, imageURL, _ string) (string, error) {
	data, err := e.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := e.recognize(data)
	if err != nil {
		return "", err
	}
	return Paragraphs(text), nil
}

// Paragraphs joins wrapped lines of OCR output into Markdown paragraphs.
// Blank lines separate paragraphs.
func Paragraphs(text string) string {
	var paragraphs []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			paragraphs = append(paragraphs, strings.Join(current, " "))
			current = current[:0]
		}
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return strings.Join(paragraphs, "\n\n")
}
