package raster

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// pointsPerInch is the PDF user-space resolution; a render scale s equals s*72 DPI.
const pointsPerInch = 72.0

// Simple renders straight from the in-memory buffer with MuPDF.
type Simple struct {
	uploader Uploader
	scale    float64
}

// NewSimple returns the "simple" strategy rendering at scale 2.0.
func NewSimple(up Uploader) *Simple {
	return &Simple{uploader: up, scale: 2.0}
}

func (s *Simple) Name() string { return "simple" }

func (s *Simple) Rasterize(ctx context.Context, pdf []byte) ([]Page, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, documentError(s.Name(), err)
	}
	defer doc.Close()

	dpi := s.scale * pointsPerInch
	return renderPages(ctx, s.uploader, s.Name(), doc.NumPage(), s.placeholderSize(doc), func(_ context.Context, pageNum int) ([]byte, error) {
		img, err := doc.ImageDPI(pageNum-1, dpi)
		if err != nil {
			return nil, fmt.Errorf("mupdf render: %w", err)
		}
		return encodePNG(img)
	})
}

// placeholderSize uses the first page's geometry at the render scale.
func (s *Simple) placeholderSize(doc *fitz.Document) image.Point {
	if doc.NumPage() == 0 {
		return DefaultPlaceholderSize
	}
	bounds, err := doc.Bound(0)
	if err != nil || bounds.Empty() {
		return DefaultPlaceholderSize
	}
	return image.Pt(int(float64(bounds.Dx())*s.scale), int(float64(bounds.Dy())*s.scale))
}
