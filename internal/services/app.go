package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/ocrflow/internal/apikeys"
	"github.com/Lllllllleong/ocrflow/internal/fetch"
	"github.com/Lllllllleong/ocrflow/internal/gcp"
	"github.com/Lllllllleong/ocrflow/internal/raster"
	"github.com/Lllllllleong/ocrflow/internal/ratelimit"
	"github.com/Lllllllleong/ocrflow/internal/tesseract"
	"github.com/go-redis/redis/v8"
)

// Config holds all configuration for the API and bucket functions.
type Config struct {
	ProjectID          string
	FirestoreDatabase  string
	VertexAIRegion     string
	PageImagesBucket   string
	UploadsBucket      string
	OutputBucket       string
	DocumentCollection string
	KeysCollection     string
	PublicRead         bool

	FastModel       string
	SlowModel       string
	VisionModel     string
	MaxOutputTokens int
	OCRConcurrency  int
	EnableTesseract bool

	APIKeySecret       string
	RedisAddr          string
	RateLimitPerMinute int
	MaxDocumentBytes   int64
	FetchTimeout       time.Duration
}

// LoadConfig loads and validates all necessary environment variables.
func LoadConfig() (*Config, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	pageImagesBucket := gcp.GetEnv("PAGE_IMAGES_BUCKET", "")
	if pageImagesBucket == "" {
		return nil, fmt.Errorf("PAGE_IMAGES_BUCKET environment variable must be set")
	}
	secret := gcp.GetEnv("API_KEY_SECRET", "")
	if secret == "" {
		slog.Warn("API_KEY_SECRET is not set; issued keys rely on random entropy only.")
	}

	cfg := &Config{
		ProjectID:          projectID,
		FirestoreDatabase:  gcp.GetEnv("FIRESTORE_DATABASE", ""),
		VertexAIRegion:     gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		PageImagesBucket:   pageImagesBucket,
		UploadsBucket:      gcp.GetEnv("UPLOADS_BUCKET", pageImagesBucket),
		OutputBucket:       gcp.GetEnv("OUTPUT_BUCKET", ""),
		DocumentCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		KeysCollection:     gcp.GetEnv("API_KEYS_COLLECTION", apikeys.DefaultCollection),
		PublicRead:         gcp.GetEnvBool("PUBLIC_READ", true),

		FastModel:       gcp.GetEnv("FAST_MODEL", "gemini-2.0-flash-001"),
		SlowModel:       gcp.GetEnv("SLOW_MODEL", "gemini-2.5-pro"),
		VisionModel:     gcp.GetEnv("VISION_MODEL", "gemini-2.5-flash"),
		MaxOutputTokens: gcp.GetEnvInt("MAX_OUTPUT_TOKENS", 8192),
		OCRConcurrency:  gcp.GetEnvInt("OCR_CONCURRENCY", 8),
		EnableTesseract: gcp.GetEnvBool("ENABLE_TESSERACT", false),

		APIKeySecret:       secret,
		RedisAddr:          gcp.GetEnv("REDIS_ADDR", ""),
		RateLimitPerMinute: gcp.GetEnvInt("RATE_LIMIT_PER_MINUTE", 10),
		MaxDocumentBytes:   int64(gcp.GetEnvInt("MAX_DOCUMENT_BYTES", 50<<20)),
		FetchTimeout:       time.Duration(gcp.GetEnvInt("FETCH_TIMEOUT_SECONDS", 60)) * time.Second,
	}
	if cfg.UploadsBucket == "" {
		cfg.UploadsBucket = pageImagesBucket
	}
	return cfg, nil
}

// App wires the clients and services shared by the function entry points.
type App struct {
	Config    *Config
	Converter *ConverterFunction
	Keys      *apikeys.Service
	Uploads   *gcp.BlobStore
	Fetcher   *fetch.Fetcher

	// ConvertLimiter is keyed by API key; the key endpoints are keyed by client IP.
	ConvertLimiter  ratelimit.Limiter
	GenerateLimiter ratelimit.Limiter
	ValidateLimiter ratelimit.Limiter

	storageClient   *storage.Client
	firestoreClient *firestore.Client
	vertexClient    *gcp.VertexClient
	redisClient     *redis.Client
}

// NewApp loads configuration and creates every client.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.MaxOutputTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	fetcher := fetch.New(&http.Client{Timeout: cfg.FetchTimeout}, storageClient, cfg.MaxDocumentBytes)
	pages := gcp.NewBlobStore(storageClient, cfg.PageImagesBucket, cfg.PublicRead)
	chain := raster.NewChain(fetcher, raster.DefaultStrategies(pages, raster.ExecRunner{})...)

	var local MarkdownGenerator
	switch {
	case cfg.EnableTesseract && tesseract.Available:
		local = tesseract.NewEngine(fetcher)
	case cfg.EnableTesseract:
		slog.Warn("ENABLE_TESSERACT is set but this build has no tesseract support; rebuild with -tags ocr.")
	}
	converter := NewConverter(chain, NewOCRRouter(vertexClient, local), fetcher, ConverterConfig{
		FastModel:      cfg.FastModel,
		SlowModel:      cfg.SlowModel,
		VisionModel:    cfg.VisionModel,
		OCRConcurrency: cfg.OCRConcurrency,
	})

	app := &App{
		Config:          cfg,
		Converter:       converter,
		Keys:            apikeys.NewService(apikeys.NewFirestoreStore(firestoreClient, cfg.KeysCollection), cfg.APIKeySecret),
		Uploads:         gcp.NewBlobStore(storageClient, cfg.UploadsBucket, cfg.PublicRead),
		Fetcher:         fetcher,
		storageClient:   storageClient,
		firestoreClient: firestoreClient,
		vertexClient:    vertexClient,
	}
	app.buildLimiters()

	slog.Info("OCR service initialized.",
		"pageImagesBucket", cfg.PageImagesBucket,
		"fastModel", cfg.FastModel,
		"ocrConcurrency", cfg.OCRConcurrency,
		"sharedRateLimit", app.redisClient != nil,
	)
	return app, nil
}

func (a *App) buildLimiters() {
	if a.Config.RedisAddr == "" {
		a.ConvertLimiter = ratelimit.NewFixedWindow(a.Config.RateLimitPerMinute, time.Minute)
		a.GenerateLimiter = ratelimit.NewFixedWindow(5, time.Minute)
		a.ValidateLimiter = ratelimit.NewFixedWindow(10, time.Minute)
		return
	}
	a.redisClient = redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
	a.ConvertLimiter = ratelimit.NewRedis(a.redisClient, "ocr:convert:", a.Config.RateLimitPerMinute, time.Minute)
	a.GenerateLimiter = ratelimit.NewRedis(a.redisClient, "ocr:keygen:", 5, time.Minute)
	a.ValidateLimiter = ratelimit.NewRedis(a.redisClient, "ocr:keyval:", 10, time.Minute)
}

// Firestore returns the shared Firestore client.
func (a *App) Firestore() *firestore.Client { return a.firestoreClient }

// Storage returns the shared Cloud Storage client.
func (a *App) Storage() *storage.Client { return a.storageClient }

// Close releases every client.
func (a *App) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{a.vertexClient, a.firestoreClient, a.storageClient} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
