package apikeys

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/ocrflow/internal/gcp"
	"github.com/Lllllllleong/ocrflow/internal/models"
)

// DefaultCollection holds key records when none is configured.
const DefaultCollection = "api_keys"

// FirestoreStore keeps one document per key, with the key hash as document ID.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) doc(keyHash string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(keyHash)
}

func (s *FirestoreStore) Create(ctx context.Context, key models.APIKey) error {
	if _, err := s.doc(key.KeyHash).Create(ctx, key); err != nil {
		if gcp.IsAlreadyExists(err) {
			return fmt.Errorf("api key record already exists: %w", err)
		}
		return fmt.Errorf("failed to create api key record: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, keyHash string) (*models.APIKey, error) {
	snap, err := s.doc(keyHash).Get(ctx)
	if err != nil {
		if gcp.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key record: %w", err)
	}
	var key models.APIKey
	if err := snap.DataTo(&key); err != nil {
		return nil, fmt.Errorf("failed to decode api key record: %w", err)
	}
	return &key, nil
}

// Touch uses the server clock; at is ignored.
func (s *FirestoreStore) Touch(ctx context.Context, keyHash string, _ time.Time) error {
	updates := []firestore.Update{
		{Path: "lastUsedAt", Value: firestore.ServerTimestamp},
		{Path: "usageCount", Value: firestore.Increment(1)},
	}
	if _, err := s.doc(keyHash).Update(ctx, updates); err != nil {
		if gcp.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update api key usage: %w", err)
	}
	return nil
}

// ListByEmail needs a composite index on (email, createdAt desc).
func (s *FirestoreStore) ListByEmail(ctx context.Context, email string) ([]models.APIKey, error) {
	docs, err := s.client.Collection(s.collection).
		Where("email", "==", email).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	keys := make([]models.APIKey, 0, len(docs))
	for _, d := range docs {
		var key models.APIKey
		if err := d.DataTo(&key); err != nil {
			return nil, fmt.Errorf("failed to decode api key %s: %w", d.Ref.ID, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *FirestoreStore) SetActive(ctx context.Context, keyHash string, active bool) error {
	_, err := s.doc(keyHash).Update(ctx, []firestore.Update{{Path: "isActive", Value: active}})
	if err != nil {
		if gcp.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update api key status: %w", err)
	}
	return nil
}
