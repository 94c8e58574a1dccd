package models

import "time"

// These structs define the JSON payloads of the public HTTP API.

// APIVersion is reported on every conversion response.
const APIVersion = "1.0"

// File types reported in file_type.
const (
	FileTypePDF   = "pdf"
	FileTypeImage = "image"
)

// ConvertRequest is the decoded input of the convert endpoint.
type ConvertRequest struct {
	URL        string
	Filename   string
	IsPDF      bool
	Model      string
	OutputMode string
}

// PageResult is one page of a json-mode response.
type PageResult struct {
	Content         string `json:"content"`
	TablesExtracted int    `json:"tablesExtracted"`
}

// ConvertResponse is the success payload of the convert endpoint. Markdown and
// its counters are set in markdown mode; Pages is set in json mode.
type ConvertResponse struct {
	Markdown         *string      `json:"markdown,omitempty"`
	Pages            []PageResult `json:"pages,omitempty"`
	PageCount        int          `json:"pageCount"`
	TablesExtracted  *int         `json:"tablesExtracted,omitempty"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	FileType         string       `json:"file_type"`
	Model            string       `json:"model"`
	ModelName        string       `json:"model_name"`
	Rasterizer       string       `json:"rasterizer,omitempty"`
	Filename         string       `json:"filename"`
	CharacterCount   *int         `json:"character_count,omitempty"`
	WordCount        *int         `json:"word_count,omitempty"`
	Timestamp        string       `json:"timestamp"`
	APIVersion       string       `json:"api_version"`
}

// ErrorResponse is returned with HTTP 500 when a conversion fails.
type ErrorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details"`
	Filename   string `json:"filename"`
	Timestamp  string `json:"timestamp"`
	APIVersion string `json:"api_version"`
}

// NewErrorResponse builds an ErrorResponse stamped with now.
func NewErrorResponse(message string, err error, filename string, now time.Time) ErrorResponse {
	details := ""
	if err != nil {
		details = err.Error()
	}
	if filename == "" {
		filename = "unknown"
	}
	return ErrorResponse{
		Error:      message,
		Details:    details,
		Filename:   filename,
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		APIVersion: APIVersion,
	}
}

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
}

// GenerateKeyRequest is the input of the key generation endpoint.
type GenerateKeyRequest struct {
	Email string `json:"email"`
}

// GenerateKeyResponse carries a newly issued key. It is the only time the key is shown.
type GenerateKeyResponse struct {
	Success bool   `json:"success"`
	APIKey  string `json:"apiKey"`
	Email   string `json:"email"`
}

// ValidateKeyRequest is the input of the key validation endpoint.
type ValidateKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// ValidateKeyResponse reports whether a key is valid.
type ValidateKeyResponse struct {
	Valid bool   `json:"valid"`
	Email string `json:"email,omitempty"`
	Error string `json:"error,omitempty"`
}

// ClientUploadRequest asks for a direct-to-storage upload URL.
type ClientUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// ClientUploadResponse tells the client where to PUT the file. URL is where
// the object can be read once the upload completes.
type ClientUploadResponse struct {
	UploadURL   string            `json:"uploadUrl"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	URL         string            `json:"url"`
	Pathname    string            `json:"pathname"`
	ContentType string            `json:"contentType"`
	ExpiresAt   string            `json:"expiresAt"`
}
