package models

import "time"

// Conversion statuses tracked on a Document.
const (
	StatusValidating = "VALIDATING"
	StatusConverting = "CONVERTING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Document is the Firestore record of a bucket-triggered conversion job.
type Document struct {
	FileHash         string    `firestore:"fileHash,omitempty"`
	SourceURI        string    `firestore:"sourceUri,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	FileType         string    `firestore:"fileType,omitempty"`
	PageCount        int       `firestore:"pageCount,omitempty"`
	Rasterizer       string    `firestore:"rasterizer,omitempty"`
	Model            string    `firestore:"model,omitempty"`
	OutputGCSUri     string    `firestore:"outputGcsUri,omitempty"`
	ProcessingTimeMs int64     `firestore:"processingTimeMs,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
}

// APIKey is the stored form of an issued API key. The key itself is never
// persisted; records are addressed by the hex SHA-256 of the key.
type APIKey struct {
	KeyHash    string    `firestore:"keyHash" json:"-"`
	KeyPrefix  string    `firestore:"keyPrefix" json:"keyPrefix"`
	Email      string    `firestore:"email" json:"email"`
	CreatedAt  time.Time `firestore:"createdAt" json:"createdAt"`
	LastUsedAt time.Time `firestore:"lastUsedAt,omitempty" json:"lastUsedAt,omitempty"`
	IsActive   bool      `firestore:"isActive" json:"isActive"`
	UsageCount int64     `firestore:"usageCount" json:"usageCount"`
}
