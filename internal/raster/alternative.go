package raster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Alternative repairs the document with pdfcpu, splits it into single-page
// files in a temp directory and renders each file on its own. Rendering from
// files sidesteps in-memory format detection failures, and a page that breaks
// the renderer cannot affect its neighbours.
type Alternative struct {
	uploader Uploader
	dpi      float64
	tempRoot string
}

// NewAlternative returns the "alternative" strategy rendering at 300 DPI.
func NewAlternative(up Uploader) *Alternative {
	return &Alternative{uploader: up, dpi: 300}
}

func (a *Alternative) Name() string { return "alternative" }

func (a *Alternative) Rasterize(ctx context.Context, pdf []byte) ([]Page, error) {
	tempDir, err := os.MkdirTemp(a.tempRoot, "pdf-alt-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write source pdf: %w", err)
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(sourcePath, optimizedPath); err != nil {
		return nil, documentError(a.Name(), fmt.Errorf("failed to validate/optimize PDF: %w", err))
	}
	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, documentError(a.Name(), fmt.Errorf("failed to get page count: %w", err))
	}
	if err := api.SplitFile(optimizedPath, tempDir, 1, relaxedConfig()); err != nil {
		return nil, documentError(a.Name(), fmt.Errorf("failed to split PDF: %w", err))
	}

	splitFileBase := strings.TrimSuffix(optimizedPath, filepath.Ext(optimizedPath))
	return renderPages(ctx, a.uploader, a.Name(), pageCount, DefaultPlaceholderSize, func(_ context.Context, pageNum int) ([]byte, error) {
		return a.renderPageFile(fmt.Sprintf("%s_%d.pdf", splitFileBase, pageNum))
	})
}

func (a *Alternative) renderPageFile(path string) ([]byte, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open single-page pdf %s: %w", filepath.Base(path), err)
	}
	defer doc.Close()

	img, err := doc.ImageDPI(0, a.dpi)
	if err != nil {
		return nil, fmt.Errorf("mupdf render: %w", err)
	}
	return encodePNG(img)
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

func optimizePDF(inPath, outPath string) error {
	return api.OptimizeFile(inPath, outPath, relaxedConfig())
}
