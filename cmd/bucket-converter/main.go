package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/ocrflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	converterInstance *services.BucketConverterFunction
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ConvertUploadedObject", convertUploadedObject)
}

// main is required by the Go Functions Framework.
func main() {}

// convertUploadedObject handles object finalize events on the input bucket.
func convertUploadedObject(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var app *services.App
		app, initErr = services.NewApp(context.Background())
		if initErr != nil {
			return
		}
		converterInstance, initErr = services.NewBucketConverter(app)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return converterInstance.Process(ctx, gcsEvent)
}
