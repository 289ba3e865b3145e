package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// TokenStore records the registration tokens this service has seen, so the
// host application can address devices directly.
type TokenStore struct {
	client     *firestore.Client
	collection string
}

func NewTokenStore(client *firestore.Client, collection string) *TokenStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &TokenStore{client: client, collection: collection}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Token     string    `firestore:"token"`
	Topics    []string  `firestore:"topics,omitempty"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// Register upserts token with the topics it is subscribed to.
func (s *TokenStore) Register(ctx context.Context, token string, topics []string) error {
	// Use hash of token as Doc ID to prevent duplicates and hot-spotting
	record := deviceRecord{
		Token:     token,
		Topics:    topics,
		UpdatedAt: time.Now(),
	}
	_, err := s.deviceRef(token).Set(ctx, record)
	return err
}

func (s *TokenStore) Unregister(ctx context.Context, token string) error {
	_, err := s.deviceRef(token).Delete(ctx)
	return err
}

// List returns every registered token.
func (s *TokenStore) List(ctx context.Context) ([]string, error) {
	iter := s.devicesCollection().Documents(ctx)
	defer iter.Stop()

	tokens := make([]string, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Usually safe to skip corrupt rows.
			continue
		}
		if record.Token != "" {
			tokens = append(tokens, record.Token)
		}
	}
	return tokens, nil
}

// deviceRef: {collection}/registry/devices/{tokenHash}
func (s *TokenStore) deviceRef(token string) *firestore.DocumentRef {
	return s.devicesCollection().Doc(hashToken(token))
}

func (s *TokenStore) devicesCollection() *firestore.CollectionRef {
	return s.client.Collection(s.collection).Doc("registry").Collection("devices")
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
