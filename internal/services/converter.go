package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Lllllllleong/ocrflow/internal/markdown"
	"github.com/Lllllllleong/ocrflow/internal/models"
	"github.com/Lllllllleong/ocrflow/internal/raster"
)

// Model selector types reported in the response "model" field.
const (
	ModelTypeFast   = "fast"
	ModelTypeSlow   = "slow"
	ModelTypeVision = "vision"
	ModelTypeCustom = "custom"
)

// PageRenderer turns a PDF URL into uploaded page images.
type PageRenderer interface {
	RenderAllPages(ctx context.Context, pdfURL string) (*raster.Rendering, error)
}

// MarkdownGenerator transcribes one image into Markdown.
type MarkdownGenerator interface {
	GenerateMarkdown(ctx context.Context, imageURL, model string) (string, error)
}

// Sniffer detects the MIME type of a remote file.
type Sniffer interface {
	Sniff(ctx context.Context, url string) (string, error)
}

// ConverterConfig holds the model mapping and OCR fan-out settings.
type ConverterConfig struct {
	FastModel      string
	SlowModel      string
	VisionModel    string
	OCRConcurrency int
}

// ConverterFunction converts an image or PDF URL into Markdown.
type ConverterFunction struct {
	renderer PageRenderer
	ocr      MarkdownGenerator
	sniffer  Sniffer
	config   ConverterConfig
	now      func() time.Time
}

// NewConverter creates a ConverterFunction. sniffer may be nil, in which case
// sources that are not flagged or named as PDFs are treated as images.
func NewConverter(renderer PageRenderer, ocr MarkdownGenerator, sniffer Sniffer, config ConverterConfig) *ConverterFunction {
	return &ConverterFunction{
		renderer: renderer,
		ocr:      ocr,
		sniffer:  sniffer,
		config:   config,
		now:      time.Now,
	}
}

// ResolveModel maps a selector to its type and concrete model name. Unknown
// selectors are used verbatim as model names; empty means fast.
func (f *ConverterFunction) ResolveModel(selector string) (modelType, modelName string) {
	switch strings.ToLower(strings.TrimSpace(selector)) {
	case "", ModelTypeFast:
		return ModelTypeFast, f.config.FastModel
	case ModelTypeSlow:
		return ModelTypeSlow, f.config.SlowModel
	case ModelTypeVision:
		return ModelTypeVision, f.config.VisionModel
	}
	name := strings.TrimSpace(selector)
	switch name {
	case f.config.FastModel:
		return ModelTypeFast, name
	case f.config.SlowModel:
		return ModelTypeSlow, name
	case f.config.VisionModel:
		return ModelTypeVision, name
	}
	return ModelTypeCustom, name
}

// LooksLikePDF reports whether the URL alone identifies a PDF.
func LooksLikePDF(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, "application/pdf") {
		return true
	}
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
	}
	return strings.HasSuffix(lower, ".pdf")
}

// FilenameFromURL returns the last path segment of rawURL, or "unknown".
func FilenameFromURL(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" || name == "." || name == "/" {
		return "unknown"
	}
	return name
}

func (f *ConverterFunction) isPDF(ctx context.Context, req *models.ConvertRequest, logCtx *slog.Logger) bool {
	if req.IsPDF || LooksLikePDF(req.URL) || strings.HasSuffix(strings.ToLower(req.Filename), ".pdf") {
		return true
	}
	if f.sniffer == nil {
		return false
	}
	mimeType, err := f.sniffer.Sniff(ctx, req.URL)
	if err != nil {
		logCtx.Warn("Could not sniff source type, treating as image.", "error", err)
		return false
	}
	return strings.HasPrefix(mimeType, "application/pdf")
}

// pageImages marks placeholder pages so they skip OCR.
func pageImages(r *raster.Rendering) []markdown.PageImage {
	images := make([]markdown.PageImage, len(r.Pages))
	for i, p := range r.Pages {
		images[i] = markdown.PageImage{URL: p.ImageURL, Rendered: p.Outcome != raster.Placeholder}
	}
	return images
}

// Convert classifies the source, runs OCR and assembles the response. Any
// returned error is a failure of the whole conversion.
func (f *ConverterFunction) Convert(ctx context.Context, req *models.ConvertRequest) (*models.ConvertResponse, error) {
	start := f.now()

	mode, err := markdown.ParseMode(req.OutputMode)
	if err != nil {
		return nil, err
	}
	modelType, modelName := f.ResolveModel(req.Model)
	if modelName == "" {
		return nil, fmt.Errorf("no model configured for selector %q", modelType)
	}
	filename := req.Filename
	if filename == "" {
		filename = FilenameFromURL(req.URL)
	}

	logCtx := slog.With("sourceUrl", req.URL, "filename", filename, "model", modelName, "outputMode", mode)
	ocr := func(ctx context.Context, imageURL string) (string, error) {
		return f.ocr.GenerateMarkdown(ctx, imageURL, modelName)
	}

	var (
		result     *markdown.Result
		fileType   string
		rasterizer string
	)
	if f.isPDF(ctx, req, logCtx) {
		fileType = models.FileTypePDF
		logCtx.Info("Converting PDF.")

		rendering, err := f.renderer.RenderAllPages(ctx, req.URL)
		if err != nil {
			logCtx.Error("Failed to rasterize PDF.", "error", err)
			return nil, fmt.Errorf("failed to rasterize pdf: %w", err)
		}
		rasterizer = rendering.Strategy

		outcomes := markdown.ProcessImages(ctx, pageImages(rendering), ocr, f.config.OCRConcurrency)
		result = markdown.Assemble(outcomes, mode)
	} else {
		fileType = models.FileTypeImage
		logCtx.Info("Converting image.")

		md, err := ocr(ctx, req.URL)
		if err != nil {
			logCtx.Error("Failed to transcribe image.", "error", err)
			return nil, fmt.Errorf("failed to transcribe image: %w", err)
		}
		result = markdown.AssembleSingle(md, mode)
	}

	now := f.now()
	resp := &models.ConvertResponse{
		PageCount:        result.PageCount,
		ProcessingTimeMs: now.Sub(start).Milliseconds(),
		FileType:         fileType,
		Model:            modelType,
		ModelName:        modelName,
		Rasterizer:       rasterizer,
		Filename:         filename,
		Timestamp:        now.UTC().Format(time.RFC3339Nano),
		APIVersion:       models.APIVersion,
	}
	if result.Mode == markdown.ModeJSON {
		resp.Pages = result.Pages
	} else {
		md, tables, chars, words := result.Markdown, result.TablesExtracted, result.CharacterCount, result.WordCount
		resp.Markdown = &md
		resp.TablesExtracted = &tables
		resp.CharacterCount = &chars
		resp.WordCount = &words
	}

	logCtx.Info("Conversion complete.",
		"fileType", fileType,
		"pageCount", resp.PageCount,
		"rasterizer", rasterizer,
		"processingTimeMs", resp.ProcessingTimeMs,
	)
	return resp, nil
}
