// Package fetch downloads source documents from HTTP(S) URLs or gs:// objects.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/ocrflow/internal/gcp"
	"github.com/gabriel-vasile/mimetype"
)

// ErrTooLarge is returned when a source exceeds the configured size limit.
var ErrTooLarge = errors.New("source exceeds maximum size")

// sniffLen matches mimetype's default read limit.
const sniffLen = 3072

// Fetcher reads whole documents into memory.
type Fetcher struct {
	httpClient    *http.Client
	storageClient *storage.Client
	maxBytes      int64
}

// New returns a Fetcher. storageClient may be nil, in which case gs:// URLs are rejected.
// maxBytes <= 0 disables the size limit.
func New(httpClient *http.Client, storageClient *storage.Client, maxBytes int64) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{
		httpClient:    httpClient,
		storageClient: storageClient,
		maxBytes:      maxBytes,
	}
}

// Fetch returns the full content at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	rc, err := f.open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := io.Reader(rc)
	if f.maxBytes > 0 {
		r = io.LimitReader(rc, f.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrTooLarge, rawURL, f.maxBytes)
	}
	return data, nil
}

// Sniff detects the MIME type of rawURL from its first bytes.
func (f *Fetcher) Sniff(ctx context.Context, rawURL string) (string, error) {
	rc, err := f.open(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	head, err := io.ReadAll(io.LimitReader(rc, sniffLen))
	if err != nil {
		return "", fmt.Errorf("failed to read head of %s: %w", rawURL, err)
	}
	return mimetype.Detect(head).String(), nil
}

func (f *Fetcher) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if strings.HasPrefix(rawURL, "gs://") {
		if f.storageClient == nil {
			return nil, fmt.Errorf("cannot read %s: no storage client configured", rawURL)
		}
		bucket, object, err := gcp.SplitGCSURI(rawURL)
		if err != nil {
			return nil, err
		}
		r, err := f.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get GCS object reader for %s: %w", rawURL, err)
		}
		return r, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %s", rawURL, resp.Status)
	}
	return resp.Body, nil
}
