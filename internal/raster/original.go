package raster

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// CommandRunner executes an external tool and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s failed: %w, output: %s", name, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

var pdfinfoPagesRe = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)

// Original renders with poppler: pdfinfo for the page count and one
// pdftoppm invocation per page against a temp copy of the document.
type Original struct {
	uploader     Uploader
	runner       CommandRunner
	scale        float64
	pdfinfoPath  string
	pdftoppmPath string
	tempRoot     string
}

// NewOriginal returns the "original" strategy rendering at scale 1.5. Empty
// tool paths resolve pdfinfo and pdftoppm from PATH.
func NewOriginal(up Uploader, runner CommandRunner, pdfinfoPath, pdftoppmPath string) *Original {
	if runner == nil {
		runner = ExecRunner{}
	}
	if pdfinfoPath == "" {
		pdfinfoPath = "pdfinfo"
	}
	if pdftoppmPath == "" {
		pdftoppmPath = "pdftoppm"
	}
	return &Original{
		uploader:     up,
		runner:       runner,
		scale:        1.5,
		pdfinfoPath:  pdfinfoPath,
		pdftoppmPath: pdftoppmPath,
	}
}

func (o *Original) Name() string { return "original" }

func (o *Original) Rasterize(ctx context.Context, pdf []byte) ([]Page, error) {
	tempDir, err := os.MkdirTemp(o.tempRoot, "pdf-poppler-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "input.pdf")
	if err := os.WriteFile(sourcePath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write source pdf: %w", err)
	}

	pageCount, err := o.pageCount(ctx, sourcePath)
	if err != nil {
		return nil, documentError(o.Name(), err)
	}

	dpi := strconv.Itoa(int(o.scale * pointsPerInch))
	return renderPages(ctx, o.uploader, o.Name(), pageCount, DefaultPlaceholderSize, func(ctx context.Context, pageNum int) ([]byte, error) {
		prefix := filepath.Join(tempDir, fmt.Sprintf("page-%04d", pageNum))
		n := strconv.Itoa(pageNum)
		if _, err := o.runner.Run(ctx, o.pdftoppmPath, "-png", "-r", dpi, "-f", n, "-l", n, "-singlefile", sourcePath, prefix); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(prefix + ".png")
		if err != nil {
			return nil, fmt.Errorf("failed to read rendered page: %w", err)
		}
		return data, nil
	})
}

func (o *Original) pageCount(ctx context.Context, path string) (int, error) {
	out, err := o.runner.Run(ctx, o.pdfinfoPath, path)
	if err != nil {
		return 0, fmt.Errorf("failed to read document info: %w", err)
	}
	m := pdfinfoPagesRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("pdfinfo output has no page count")
	}
	return strconv.Atoi(string(m[1]))
}
