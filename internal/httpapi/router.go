// Package httpapi exposes the conversion service over HTTP with gin.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/ocrflow/internal/apikeys"
	"github.com/Lllllllleong/ocrflow/internal/models"
	"github.com/Lllllllleong/ocrflow/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// DefaultMaxUploadBytes is the largest file accepted by the upload endpoint.
const DefaultMaxUploadBytes = 4.5 * 1024 * 1024

// Client uploads go straight to storage and may be much larger.
const (
	DefaultMaxClientUploadBytes = 500 << 20
	DefaultClientUploadTTL      = 15 * time.Minute
)

// Converter runs one conversion.
type Converter interface {
	Convert(ctx context.Context, req *models.ConvertRequest) (*models.ConvertResponse, error)
}

// KeyService issues and checks API keys.
type KeyService interface {
	Generate(ctx context.Context, email string) (string, error)
	Validate(ctx context.Context, key string) apikeys.Validation
}

// Uploader stores a file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// SignedUploader issues URLs that let a client PUT a file directly into storage.
type SignedUploader interface {
	SignedUpload(ctx context.Context, name, contentType string, ttl time.Duration) (uploadURL, objectURL string, err error)
}

// Deps are the collaborators of the router. Nil limiters disable limiting.
type Deps struct {
	Converter Converter
	Keys      KeyService
	Uploads   Uploader
	// ClientUploads may be nil, which disables /api/client-upload.
	ClientUploads SignedUploader

	ConvertLimiter  ratelimit.Limiter
	GenerateLimiter ratelimit.Limiter
	ValidateLimiter ratelimit.Limiter

	// MaxUploadBytes bounds /api/upload; MaxConvertFileBytes bounds files
	// posted directly to /api/convert.
	MaxUploadBytes       int64
	MaxConvertFileBytes  int64
	MaxClientUploadBytes int64
	ClientUploadTTL      time.Duration
}

type server struct {
	Deps
}

// NewRouter builds the gin engine serving the public API.
func NewRouter(d Deps) *gin.Engine {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if d.MaxConvertFileBytes <= 0 {
		d.MaxConvertFileBytes = 50 << 20
	}
	if d.MaxClientUploadBytes <= 0 {
		d.MaxClientUploadBytes = DefaultMaxClientUploadBytes
	}
	if d.ClientUploadTTL <= 0 {
		d.ClientUploadTTL = DefaultClientUploadTTL
	}
	s := &server{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "api_version": models.APIVersion})
	})

	api := r.Group("/api")
	api.POST("/convert", s.requireAPIKey, s.convert)
	api.POST("/upload", s.upload)
	api.POST("/client-upload", s.clientUpload)
	api.POST("/keys/generate", s.limitByIP(d.GenerateLimiter), s.generateKey)
	api.POST("/keys/validate", s.limitByIP(d.ValidateLimiter), s.validateKey)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request handled.",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latencyMs", time.Since(start).Milliseconds(),
			"clientIp", c.ClientIP(),
		)
	}
}
