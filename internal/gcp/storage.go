package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
)

const publicStorageHost = "https://storage.googleapis.com/"

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt reads an integer environment variable. Unset, malformed or
// non-positive values fall back to the default.
func GetEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		slog.Warn("Ignoring invalid integer environment variable.", "env", key, "value", raw)
		return fallback
	}
	return v
}

// GetEnvBool reads a boolean environment variable.
func GetEnvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("Ignoring invalid boolean environment variable.", "env", key, "value", raw)
		return fallback
	}
	return v
}

// PublicURL returns the public HTTPS URL of an object.
func PublicURL(bucket, object string) string {
	return publicStorageHost + bucket + "/" + object
}

// ToGCSURI rewrites a public storage.googleapis.com URL into its gs:// form.
// Any other URL is returned unchanged.
func ToGCSURI(rawURL string) string {
	if strings.HasPrefix(rawURL, publicStorageHost) {
		return "gs://" + strings.TrimPrefix(rawURL, publicStorageHost)
	}
	return rawURL
}

// SplitGCSURI splits gs://bucket/object into its parts.
func SplitGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// uri: %q", uri)
	}
	return bucket, object, nil
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, contentType, content string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, strings.NewReader(content)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			slog.Info("Object already exists, skipping write.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// BlobStore uploads public artifacts (rendered pages, uploaded sources) to a bucket.
type BlobStore struct {
	client     *storage.Client
	bucket     string
	publicRead bool
	maxRetries int
	backoff    time.Duration

	// Optional signing identity for SignedUpload. When unset the client's
	// credentials are used (IAM signBlob on Cloud Functions).
	signerEmail string
	signerKey   []byte
}

// NewBlobStore returns a BlobStore writing into bucket. When publicRead is set
// each object is created with the publicRead predefined ACL; buckets with
// uniform access control must grant public access at the bucket level instead.
func NewBlobStore(client *storage.Client, bucket string, publicRead bool) *BlobStore {
	return &BlobStore{
		client:     client,
		bucket:     bucket,
		publicRead: publicRead,
		maxRetries: 4,
		backoff:    time.Second,
	}
}

// Upload stores data under name plus a random suffix and returns its public URL.
func (b *BlobStore) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	objectName := RandomSuffixName(name)
	backoff := b.backoff
	var lastErr error

	for i := 0; i < b.maxRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()

			w := b.client.Bucket(b.bucket).Object(objectName).NewWriter(writeCtx)
			w.ContentType = contentType
			if b.publicRead {
				w.PredefinedACL = "publicRead"
			}
			if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
				_ = w.Close()
				return fmt.Errorf("io.Copy to GCS failed: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
			}
			return nil
		}()
		if err == nil {
			return PublicURL(b.bucket, objectName), nil
		}
		if isPermanent(err) {
			slog.Error("Upload rejected, not retrying.", "gcsObject", objectName, "error", err)
			return "", fmt.Errorf("upload for %s rejected: %w", objectName, err)
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", b.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}

// isPermanent reports whether err is a client error that a retry cannot fix.
func isPermanent(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code >= 400 && gerr.Code < 500 &&
		gerr.Code != http.StatusRequestTimeout && gerr.Code != http.StatusTooManyRequests
}

// WithSigningKey sets the service account used to sign upload URLs.
func (b *BlobStore) WithSigningKey(email string, pemKey []byte) *BlobStore {
	b.signerEmail = email
	b.signerKey = pemKey
	return b
}

// SignedUpload reserves an object name for name and returns a V4 signed URL
// that accepts a single PUT of contentType, valid for ttl, together with the
// public URL the object will have.
func (b *BlobStore) SignedUpload(ctx context.Context, name, contentType string, ttl time.Duration) (uploadURL, objectURL string, err error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	objectName := RandomSuffixName(name)
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodPut,
		ContentType:    contentType,
		Expires:        time.Now().Add(ttl),
		GoogleAccessID: b.signerEmail,
		PrivateKey:     b.signerKey,
	}
	uploadURL, err = b.client.Bucket(b.bucket).SignedURL(objectName, opts)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign upload url for %s: %w", objectName, err)
	}
	return uploadURL, PublicURL(b.bucket, objectName), nil
}

// RandomSuffixName inserts a random suffix before the extension of name, so
// "page-1.png" becomes "page-1-3f2a9c1e07bd.png".
func RandomSuffixName(name string) string {
	name = strings.TrimLeft(path.Clean("/"+name), "/")
	if name == "" || name == "." {
		name = "file"
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return base + "-" + suffix + ext
}
