package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/ocrflow/internal/httpapi"
	"github.com/Lllllllleong/ocrflow/internal/services"
	"github.com/gin-gonic/gin"
)

var (
	router  *gin.Engine
	once    sync.Once
	initErr error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	functions.HTTP("ConvertAPI", convertAPI)
}

// main is required by the Go Functions Framework.
func main() {}

// convertAPI is the HTTP entry point. Clients are created on the first request.
func convertAPI(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		var app *services.App
		app, initErr = services.NewApp(context.Background())
		if initErr != nil {
			return
		}
		router = httpapi.NewRouter(httpapi.Deps{
			Converter:           app.Converter,
			Keys:                app.Keys,
			Uploads:             app.Uploads,
			ClientUploads:       app.Uploads,
			ConvertLimiter:      app.ConvertLimiter,
			GenerateLimiter:     app.GenerateLimiter,
			ValidateLimiter:     app.ValidateLimiter,
			MaxConvertFileBytes: app.Config.MaxDocumentBytes,
		})
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, `{"error":"Service unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	router.ServeHTTP(w, r)
}
