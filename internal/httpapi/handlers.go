package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Lllllllleong/ocrflow/internal/apikeys"
	"github.com/Lllllllleong/ocrflow/internal/markdown"
	"github.com/Lllllllleong/ocrflow/internal/models"
	"github.com/Lllllllleong/ocrflow/internal/services"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

var allowedUploadTypes = []string{"image/jpeg", "image/png", "application/pdf"}

func (s *server) convert(c *gin.Context) {
	ctx := c.Request.Context()
	req := &models.ConvertRequest{
		URL:   strings.TrimSpace(c.PostForm("url")),
		IsPDF: c.PostForm("isPdf") == "true",
		Model: c.PostForm("model"),
	}
	if c.PostForm("jsonMode") == "true" {
		req.OutputMode = string(markdown.ModeJSON)
	}
	if mode := c.PostForm("outputMode"); mode != "" {
		req.OutputMode = mode
	}
	if _, err := markdown.ParseMode(req.OutputMode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if fh, err := c.FormFile("file"); err == nil {
		data, contentType, err := readFormFile(fh, s.MaxConvertFileBytes)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fileURL, err := s.Uploads.Upload(ctx, fh.Filename, data, contentType)
		if err != nil {
			slog.Error("Failed to store posted file.", "filename", fh.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, models.NewErrorResponse("File upload failed", err, fh.Filename, time.Now()))
			return
		}
		req.URL = fileURL
		req.Filename = fh.Filename
		req.IsPDF = req.IsPDF || contentType == "application/pdf"
	}
	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file or URL provided"})
		return
	}

	slog.Info("Conversion requested.", "sourceUrl", req.URL, "model", req.Model, "email", c.GetString(ctxKeyEmail))
	resp, err := s.Converter.Convert(ctx, req)
	if err != nil {
		filename := req.Filename
		if filename == "" {
			filename = services.FilenameFromURL(req.URL)
		}
		c.JSON(http.StatusInternalServerError, models.NewErrorResponse("File processing failed", err, filename, time.Now()))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	if fh.Size > s.MaxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             fmt.Sprintf("File size exceeds %.1fMB limit for server uploads. Use client upload instead.", float64(s.MaxUploadBytes)/(1024*1024)),
			"needsClientUpload": true,
		})
		return
	}

	data, contentType, err := readFormFile(fh, s.MaxUploadBytes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !mimetype.EqualsAny(contentType, allowedUploadTypes...) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type. Only JPEG, PNG, and PDF are allowed."})
		return
	}

	fileURL, err := s.Uploads.Upload(c.Request.Context(), fh.Filename, data, contentType)
	if err != nil {
		slog.Error("Upload failed.", "filename", fh.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.UploadResponse{
		URL:         fileURL,
		Pathname:    pathname(fileURL),
		ContentType: contentType,
	})
}

func (s *server) clientUpload(c *gin.Context) {
	if s.ClientUploads == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Client uploads are not configured"})
		return
	}
	var body models.ClientUploadRequest
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Filename) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename and contentType are required"})
		return
	}
	contentType, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(body.ContentType)), ";")
	if !mimetype.EqualsAny(contentType, allowedUploadTypes...) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type. Only JPEG, PNG, and PDF are allowed."})
		return
	}
	if body.Size > s.MaxClientUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("File size exceeds %dMB limit.", s.MaxClientUploadBytes>>20),
		})
		return
	}

	expires := time.Now().Add(s.ClientUploadTTL)
	uploadURL, objectURL, err := s.ClientUploads.SignedUpload(c.Request.Context(), body.Filename, contentType, s.ClientUploadTTL)
	if err != nil {
		slog.Error("Error handling client upload.", "filename", body.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to handle client upload", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.ClientUploadResponse{
		UploadURL:   uploadURL,
		Method:      http.MethodPut,
		Headers:     map[string]string{"Content-Type": contentType},
		URL:         objectURL,
		Pathname:    pathname(objectURL),
		ContentType: contentType,
		ExpiresAt:   expires.UTC().Format(time.RFC3339),
	})
}

func (s *server) generateKey(c *gin.Context) {
	var body models.GenerateKeyRequest
	if err := c.ShouldBindJSON(&body); err != nil || !strings.Contains(body.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Valid email is required"})
		return
	}

	key, err := s.Keys.Generate(c.Request.Context(), body.Email)
	if errors.Is(err, apikeys.ErrInvalidEmail) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Valid email is required"})
		return
	}
	if err != nil {
		slog.Error("Error generating API key.", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate API key"})
		return
	}
	c.JSON(http.StatusOK, models.GenerateKeyResponse{
		Success: true,
		APIKey:  key,
		Email:   apikeys.NormalizeEmail(body.Email),
	})
}

func (s *server) validateKey(c *gin.Context) {
	var body models.ValidateKeyRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API key is required"})
		return
	}
	if !apikeys.ValidFormat(body.APIKey) {
		c.JSON(http.StatusOK, models.ValidateKeyResponse{Valid: false, Error: "Invalid API key format"})
		return
	}
	v := s.Keys.Validate(c.Request.Context(), body.APIKey)
	c.JSON(http.StatusOK, models.ValidateKeyResponse{Valid: v.Valid, Email: v.Email})
}

// readFormFile reads a posted file up to limit bytes and sniffs its type.
func readFormFile(fh *multipart.FileHeader, limit int64) ([]byte, string, error) {
	if fh.Size > limit {
		return nil, "", fmt.Errorf("file %s is larger than %d bytes", fh.Filename, limit)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open posted file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read posted file: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("file %s is larger than %d bytes", fh.Filename, limit)
	}
	mt := mimetype.Detect(data)
	contentType, _, _ := strings.Cut(mt.String(), ";")
	return data, contentType, nil
}

func pathname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.TrimPrefix(u.Path, "/")
}
