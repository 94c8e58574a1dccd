package raster

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFetcher struct {
	data  []byte
	err   error
	calls int
}

func (f *staticFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

type stubRasterizer struct {
	name  string
	pages int
	err   error
	calls int
}

func (s *stubRasterizer) Name() string { return s.name }

func (s *stubRasterizer) Rasterize(_ context.Context, pdf []byte) ([]Page, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	pages := make([]Page, s.pages)
	for i := range pages {
		pages[i] = Page{
			Index:       i + 1,
			ImageURL:    fmt.Sprintf("https://blob.test/%s/%d.png", s.name, i+1),
			ContentType: ContentTypePNG,
			Outcome:     Rendered,
		}
	}
	return pages, nil
}

func docErr(name string) error {
	return documentError(name, errors.New("cannot open"))
}

func TestChainFallsBackToSecondStrategy(t *testing.T) {
	first := &stubRasterizer{name: "simple", err: docErr("simple")}
	second := &stubRasterizer{name: "alternative", pages: 2}
	third := &stubRasterizer{name: "original", pages: 5}
	fetcher := &staticFetcher{data: []byte("%PDF")}

	rendering, err := NewChain(fetcher, first, second, third).RenderAllPages(context.Background(), "https://x.test/a.pdf")
	require.NoError(t, err)

	assert.Equal(t, "alternative", rendering.Strategy)
	assert.Equal(t, []string{
		"https://blob.test/alternative/1.png",
		"https://blob.test/alternative/2.png",
	}, rendering.URLs())
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls, "third strategy must not run after a success")
	assert.Equal(t, 1, fetcher.calls, "the document is fetched once")
}

func TestChainFirstStrategyWins(t *testing.T) {
	first := &stubRasterizer{name: "simple", pages: 3}
	second := &stubRasterizer{name: "alternative", pages: 3}

	rendering, err := NewChain(&staticFetcher{}, first, second).RenderAllPages(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "simple", rendering.Strategy)
	assert.Len(t, rendering.Pages, 3)
	assert.Equal(t, 0, second.calls)
}

func TestChainAllStrategiesFail(t *testing.T) {
	strategies := []*stubRasterizer{
		{name: "simple", err: docErr("simple")},
		{name: "alternative", err: docErr("alternative")},
		{name: "original", err: docErr("original")},
	}

	_, err := NewChain(&staticFetcher{}, strategies[0], strategies[1], strategies[2]).RenderAllPages(context.Background(), "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDocument)
	assert.Contains(t, err.Error(), "original rasterizer")
	for _, s := range strategies {
		assert.Equal(t, 1, s.calls)
	}
}

func TestChainDoesNotFallBackOnUpstreamFailure(t *testing.T) {
	first := &stubRasterizer{name: "simple", err: errors.New("failed to upload page 1: storage unavailable")}
	second := &stubRasterizer{name: "alternative", pages: 1}

	_, err := NewChain(&staticFetcher{}, first, second).RenderAllPages(context.Background(), "u")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDocument)
	assert.Equal(t, 0, second.calls)
}

func TestChainFetchFailure(t *testing.T) {
	first := &stubRasterizer{name: "simple", pages: 1}

	_, err := NewChain(&staticFetcher{err: errors.New("404")}, first).RenderAllPages(context.Background(), "u")
	require.Error(t, err)
	assert.Equal(t, 0, first.calls)
}

func TestChainWithoutStrategies(t *testing.T) {
	_, err := NewChain(&staticFetcher{}).RenderAllPages(context.Background(), "u")
	assert.Error(t, err)
}

func TestDefaultStrategiesOrder(t *testing.T) {
	var names []string
	for _, s := range DefaultStrategies(newMemUploader(), nil) {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"simple", "alternative", "original"}, names)
}
