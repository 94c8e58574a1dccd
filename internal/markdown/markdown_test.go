package markdown

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessPagesKeepsInputOrder(t *testing.T) {
	urls := []string{"p1", "p2", "p3"}
	// Later pages finish first.
	delays := map[string]time.Duration{"p1": 30 * time.Millisecond, "p2": 15 * time.Millisecond, "p3": 0}
	ocr := func(ctx context.Context, url string) (string, error) {
		time.Sleep(delays[url])
		return "text of " + url, nil
	}

	out := ProcessPages(context.Background(), urls, ocr, 0)
	require.Len(t, out, 3)
	for i, o := range out {
		assert.Equal(t, i+1, o.Index)
		assert.NoError(t, o.Err)
		assert.Equal(t, "text of "+urls[i], o.Content())
	}
}

func TestProcessPagesFailureBecomesPlaceholder(t *testing.T) {
	ocr := func(ctx context.Context, url string) (string, error) {
		if url == "p2" {
			return "", errors.New("model timeout")
		}
		return "ok " + url, nil
	}

	out := ProcessPages(context.Background(), []string{"p1", "p2", "p3"}, ocr, 2)
	require.Len(t, out, 3)
	assert.Equal(t, "ok p1", out[0].Content())
	assert.Error(t, out[1].Err)
	assert.Equal(t, ErrorPlaceholder, out[1].Content())
	assert.Equal(t, "ok p3", out[2].Content())
}

func TestProcessPagesRespectsLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	ocr := func(ctx context.Context, url string) (string, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return url, nil
	}

	urls := make([]string, 12)
	for i := range urls {
		urls[i] = strings.Repeat("x", i+1)
	}
	out := ProcessPages(context.Background(), urls, ocr, 3)
	require.Len(t, out, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestProcessPagesRecoversPanic(t *testing.T) {
	ocr := func(ctx context.Context, url string) (string, error) {
		if url == "boom" {
			panic("nil image")
		}
		return "fine", nil
	}

	out := ProcessPages(context.Background(), []string{"boom", "ok"}, ocr, 0)
	assert.Equal(t, ErrorPlaceholder, out[0].Content())
	assert.Equal(t, "fine", out[1].Content())
}

func TestProcessPagesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	ocr := func(ctx context.Context, url string) (string, error) {
		called = true
		return "x", nil
	}

	out := ProcessPages(ctx, []string{"p1"}, ocr, 1)
	assert.False(t, called)
	assert.ErrorIs(t, out[0].Err, context.Canceled)
}

func TestProcessPagesEmpty(t *testing.T) {
	assert.Empty(t, ProcessPages(context.Background(), nil, nil, 0))
}

func TestCombinePagesFormat(t *testing.T) {
	got := CombinePages([]string{"A", "B"})
	assert.Equal(t, "\n\n## Page 1\n\nA\n\n\n\n## Page 2\n\nB", got)
}

func TestCountTables(t *testing.T) {
	twoRows := "| Item | Price |\n| Widget | 9.99 |"
	assert.Equal(t, 2, CountTables(twoRows))
	assert.Equal(t, 0, CountTables("plain paragraph\nwith no pipes"))
	assert.Equal(t, 0, CountTables("a | b in the middle of a line"))
	assert.Equal(t, 3, CountTables("| a | b |\n|---|---|\n| 1 | 2 |\n\ntext"))
}

func TestCountPages(t *testing.T) {
	assert.Equal(t, 3, CountPages(CombinePages([]string{"a", "b", "c"})))
	assert.Equal(t, 1, CountPages("no headers here"))
}

func TestAssembleMarkdownMode(t *testing.T) {
	outcomes := []PageOutcome{
		{Index: 1, Markdown: "# Title\n\n| a | b |\n| 1 | 2 |"},
		{Index: 2, Err: errors.New("failed")},
	}

	r := Assemble(outcomes, ModeMarkdown)
	assert.Equal(t, ModeMarkdown, r.Mode)
	assert.Equal(t, 2, r.PageCount)
	assert.Equal(t, 2, r.TablesExtracted)
	assert.Contains(t, r.Markdown, "## Page 2\n\n"+ErrorPlaceholder)
	assert.Equal(t, len([]rune(r.Markdown)), r.CharacterCount)
	assert.Equal(t, len(strings.Fields(r.Markdown)), r.WordCount)
	assert.Nil(t, r.Pages)
}

func TestAssembleJSONMode(t *testing.T) {
	outcomes := []PageOutcome{
		{Index: 1, Markdown: "| x |\n| y |"},
		{Index: 2, Markdown: "plain"},
		{Index: 3, Err: errors.New("failed")},
	}

	r := Assemble(outcomes, ModeJSON)
	require.Len(t, r.Pages, 3)
	assert.Equal(t, 3, r.PageCount)
	assert.Equal(t, "| x |\n| y |", r.Pages[0].Content)
	assert.Equal(t, 2, r.Pages[0].TablesExtracted)
	assert.Equal(t, 0, r.Pages[1].TablesExtracted)
	assert.Equal(t, ErrorPlaceholder, r.Pages[2].Content)
	assert.NotContains(t, r.Pages[0].Content, "## Page")
	assert.Empty(t, r.Markdown)
}

func TestAssembleSingleModesAgree(t *testing.T) {
	md := "# Receipt\n\n| Item | Total |\n| Tea | 3 |"

	asMarkdown := AssembleSingle(md, ModeMarkdown)
	asJSON := AssembleSingle(md, ModeJSON)

	assert.Equal(t, 1, asMarkdown.PageCount)
	assert.Equal(t, 2, asMarkdown.TablesExtracted)
	assert.Equal(t, 12, asMarkdown.WordCount)
	require.Len(t, asJSON.Pages, 1)
	assert.Equal(t, asMarkdown.Markdown, asJSON.Pages[0].Content)
	assert.Equal(t, asMarkdown.TablesExtracted, asJSON.Pages[0].TablesExtracted)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeMarkdown, "markdown": ModeMarkdown, "JSON": ModeJSON, "array": ModeJSON} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("xml")
	assert.Error(t, err)
}

func TestProcessImagesSkipsUnrenderedPages(t *testing.T) {
	var calls atomic.Int32
	ocr := func(ctx context.Context, url string) (string, error) {
		calls.Add(1)
		return "text of " + url, nil
	}

	out := ProcessImages(context.Background(), []PageImage{
		{URL: "p1", Rendered: true},
		{URL: "p2-fallback"},
		{URL: "p3", Rendered: true},
	}, ocr, 0)
	require.Len(t, out, 3)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "text of p1", out[0].Content())
	assert.ErrorIs(t, out[1].Err, ErrNotRendered)
	assert.Equal(t, 2, out[1].Index)
	assert.Equal(t, RenderFailedPlaceholder, out[1].Content())
	assert.Equal(t, "text of p3", out[2].Content())
}
