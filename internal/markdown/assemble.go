package markdown

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/ocrflow/internal/models"
)

// Mode selects the response shape.
type Mode string

const (
	// ModeMarkdown returns one combined document.
	ModeMarkdown Mode = "markdown"
	// ModeJSON returns one entry per page.
	ModeJSON Mode = "json"
)

// ParseMode maps a request value to a Mode. Empty means ModeMarkdown.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "combined":
		return ModeMarkdown, nil
	case "json", "array":
		return ModeJSON, nil
	}
	return "", fmt.Errorf("unknown output mode %q", s)
}

// tableRowRe matches a line that starts and ends with a pipe. This is an
// approximation: any such line counts, table or not.
var tableRowRe = regexp.MustCompile(`(?m)^[ \t]*\|.*\|[ \t]*$`)

var pageHeaderRe = regexp.MustCompile(`(?m)^## Page \d+$`)

// CountTables returns the number of pipe-delimited rows in md.
func CountTables(md string) int {
	return len(tableRowRe.FindAllStringIndex(md, -1))
}

// CombinePages prefixes each page with a "## Page N" header and joins them.
func CombinePages(contents []string) string {
	parts := make([]string, len(contents))
	for i, c := range contents {
		parts[i] = fmt.Sprintf("\n\n## Page %d\n\n%s", i+1, c)
	}
	return strings.Join(parts, "\n\n")
}

// CountPages returns the number of page headers in a combined document, or 1
// when there are none.
func CountPages(combined string) int {
	if n := len(pageHeaderRe.FindAllStringIndex(combined, -1)); n > 0 {
		return n
	}
	return 1
}

// Result is an assembled conversion. Markdown and the counters are set in
// ModeMarkdown; Pages in ModeJSON.
type Result struct {
	Mode            Mode
	Markdown        string
	Pages           []models.PageResult
	PageCount       int
	TablesExtracted int
	CharacterCount  int
	WordCount       int
}

// Assemble builds the Result of a multi-page document.
func Assemble(outcomes []PageOutcome, mode Mode) *Result {
	if mode == ModeJSON {
		return pagesResult(Contents(outcomes))
	}
	return markdownResult(Combine(outcomes), CountPages)
}

// AssembleSingle builds the Result of a single image. In ModeJSON the one
// page carries exactly the content ModeMarkdown would return.
func AssembleSingle(md string, mode Mode) *Result {
	if mode == ModeJSON {
		return pagesResult([]string{md})
	}
	return markdownResult(md, func(string) int { return 1 })
}

func pagesResult(contents []string) *Result {
	pages := make([]models.PageResult, len(contents))
	total := 0
	for i, c := range contents {
		n := CountTables(c)
		pages[i] = models.PageResult{Content: c, TablesExtracted: n}
		total += n
	}
	return &Result{
		Mode:            ModeJSON,
		Pages:           pages,
		PageCount:       len(pages),
		TablesExtracted: total,
	}
}

func markdownResult(md string, pageCount func(string) int) *Result {
	return &Result{
		Mode:            ModeMarkdown,
		Markdown:        md,
		PageCount:       pageCount(md),
		TablesExtracted: CountTables(md),
		CharacterCount:  utf8.RuneCountInString(md),
		WordCount:       len(strings.Fields(md)),
	}
}
