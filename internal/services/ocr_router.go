package services

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/ocrflow/internal/tesseract"
)

// OCRRouter sends the "tesseract" model to the local engine and every other
// model to the hosted vision backend.
type OCRRouter struct {
	vision MarkdownGenerator
	local  MarkdownGenerator
}

// NewOCRRouter returns a router. local may be nil to disable the local engine.
func NewOCRRouter(vision, local MarkdownGenerator) *OCRRouter {
	return &OCRRouter{vision: vision, local: local}
}

func (r *OCRRouter) GenerateMarkdown(ctx context.Context, imageURL, model string) (string, error) {
	if model == tesseract.ModelName {
		if r.local == nil {
			return "", fmt.Errorf("model %q is not enabled", model)
		}
		return r.local.GenerateMarkdown(ctx, imageURL, model)
	}
	if r.vision == nil {
		return "", fmt.Errorf("no vision backend configured for model %q", model)
	}
	return r.vision.GenerateMarkdown(ctx, imageURL, model)
}
