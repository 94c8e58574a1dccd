package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/ocrflow/internal/gcp"
	"github.com/Lllllllleong/ocrflow/internal/models"
)

// GCSEvent is the payload of a storage object finalize event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	MD5Hash     string `json:"md5Hash"`
	Generation  string `json:"generation"`
}

// Converter runs one conversion.
type Converter interface {
	Convert(ctx context.Context, req *models.ConvertRequest) (*models.ConvertResponse, error)
}

// JobStore tracks bucket conversions.
type JobStore interface {
	// FindByHash returns the ID of a job for the same file content, if any.
	FindByHash(ctx context.Context, fileHash string) (string, bool, error)
	Create(ctx context.Context, doc models.Document) (string, error)
	Update(ctx context.Context, id string, updates []firestore.Update) error
}

// OutputStore saves converted Markdown and returns its gs:// URI.
type OutputStore interface {
	Save(ctx context.Context, objectName, content string) (string, error)
}

var convertibleExtensions = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
}

// BucketConverterFunction converts every supported object dropped into a bucket.
type BucketConverterFunction struct {
	converter Converter
	jobs      JobStore
	output    OutputStore
	model     string
	// ignoredBuckets hold this service's own artifacts, such as rendered pages.
	ignoredBuckets map[string]bool
}

// NewBucketConverter wires the bucket function onto the shared App.
func NewBucketConverter(app *App) (*BucketConverterFunction, error) {
	if app.Config.OutputBucket == "" {
		return nil, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}
	jobs := &FirestoreJobStore{client: app.Firestore(), collection: app.Config.DocumentCollection}
	output := &GCSOutputStore{bucket: app.Storage().Bucket(app.Config.OutputBucket), bucketName: app.Config.OutputBucket}

	f := newBucketConverter(app.Converter, jobs, output, gcp.GetEnv("BUCKET_MODEL", ModelTypeFast), app.Config.PageImagesBucket)
	slog.Info("Bucket converter initialized.", "outputBucket", app.Config.OutputBucket, "model", f.model)
	return f, nil
}

func newBucketConverter(converter Converter, jobs JobStore, output OutputStore, model string, ignoredBuckets ...string) *BucketConverterFunction {
	f := &BucketConverterFunction{converter: converter, jobs: jobs, output: output, model: model, ignoredBuckets: map[string]bool{}}
	for _, b := range ignoredBuckets {
		if b != "" {
			f.ignoredBuckets[b] = true
		}
	}
	return f
}

// Process converts the object named by e, unless it is unsupported or a
// duplicate of an earlier upload.
func (f *BucketConverterFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)

	if f.ignoredBuckets[e.Bucket] {
		logCtx.Info("Object is a rendered page image. Skipping.")
		return nil
	}

	ext := strings.ToLower(path.Ext(e.Name))
	if !convertibleExtensions[ext] {
		logCtx.Info("Unsupported object type. Skipping.", "extension", ext)
		return nil
	}

	fileHash := e.MD5Hash
	if fileHash == "" {
		fileHash = fmt.Sprintf("object:%s/%s#%s", e.Bucket, e.Name, e.Generation)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	existingID, isDuplicate, err := f.jobs.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existingID)
		return nil
	}

	sourceURI := fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name)
	docID, err := f.jobs.Create(ctx, models.Document{
		FileHash:         fileHash,
		SourceURI:        sourceURI,
		OriginalFilename: e.Name,
		Status:           models.StatusValidating,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return err
	}
	logCtx = logCtx.With("documentId", docID)
	logCtx.Info("Created job document in Firestore.")

	if err := f.jobs.Update(ctx, docID, []firestore.Update{{Path: "status", Value: models.StatusConverting}}); err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to update status to CONVERTING", err)
	}

	resp, err := f.converter.Convert(ctx, &models.ConvertRequest{
		URL:      sourceURI,
		Filename: path.Base(e.Name),
		IsPDF:    ext == ".pdf" || e.ContentType == "application/pdf",
		Model:    f.model,
	})
	if err != nil {
		return f.handleError(ctx, logCtx, docID, "conversion failed", err)
	}
	if resp.Markdown == nil {
		return f.handleError(ctx, logCtx, docID, "conversion returned no markdown", fmt.Errorf("empty result"))
	}

	outputURI, err := f.output.Save(ctx, fmt.Sprintf("%s/document.md", docID), *resp.Markdown)
	if err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to save markdown", err)
	}

	updates := []firestore.Update{
		{Path: "status", Value: models.StatusCompleted},
		{Path: "fileType", Value: resp.FileType},
		{Path: "pageCount", Value: resp.PageCount},
		{Path: "rasterizer", Value: resp.Rasterizer},
		{Path: "model", Value: resp.ModelName},
		{Path: "outputGcsUri", Value: outputURI},
		{Path: "processingTimeMs", Value: resp.ProcessingTimeMs},
	}
	if err := f.jobs.Update(ctx, docID, updates); err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to update status to COMPLETED", err)
	}
	logCtx.Info("Bucket conversion complete.", "outputGcsUri", outputURI, "pageCount", resp.PageCount)
	return nil
}

func (f *BucketConverterFunction) handleError(ctx context.Context, logCtx *slog.Logger, docID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	updates := []firestore.Update{
		{Path: "status", Value: models.StatusFailed},
		{Path: "errorDetails", Value: fullError},
	}
	if err := f.jobs.Update(ctx, docID, updates); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// FirestoreJobStore keeps one Document per bucket conversion.
type FirestoreJobStore struct {
	client     *firestore.Client
	collection string
}

func (s *FirestoreJobStore) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	docs, err := s.client.Collection(s.collection).Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, true, nil
	}
	return "", false, nil
}

func (s *FirestoreJobStore) Create(ctx context.Context, doc models.Document) (string, error) {
	ref, _, err := s.client.Collection(s.collection).Add(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to create job document: %w", err)
	}
	return ref.ID, nil
}

func (s *FirestoreJobStore) Update(ctx context.Context, id string, updates []firestore.Update) error {
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, updates)
	return err
}

// GCSOutputStore writes Markdown objects once; an existing object is kept.
type GCSOutputStore struct {
	bucket     *storage.BucketHandle
	bucketName string
}

func (s *GCSOutputStore) Save(ctx context.Context, objectName, content string) (string, error) {
	if err := gcp.SaveToGCSAtomically(ctx, s.bucket, objectName, "text/markdown; charset=utf-8", content); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucketName, objectName), nil
}
