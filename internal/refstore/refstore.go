// Package refstore loads per-card authentic reference hashes from object
// storage (C3). Keys live under a stable, URL-safe-encoded prefix derived
// from the card name; a missing prefix is not an error, only per-object
// parse failures are logged and skipped.
package refstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/cardvault/valuation-engine/pkg/models"
)

// objectLister/objectGetter are the narrow S3 operations this package
// needs, so callers and tests never depend on the full SDK surface.
type objectLister interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client combines the two S3 operations this store needs.
type Client interface {
	objectLister
	objectGetter
}

// Store loads reference hash catalogs from a bucket.
type Store struct {
	client Client
	bucket string
	log    zerolog.Logger
}

// New builds a Store over the given bucket.
func New(client Client, bucket string, log zerolog.Logger) *Store {
	return &Store{client: client, bucket: bucket, log: log.With().Str("component", "refstore").Logger()}
}

// KeyPrefix derives the stable, opaque, URL-safe-encoded prefix for a card
// name. Exported so the loader that seeds reference catalogs can write to
// the same prefix this store reads from.
func KeyPrefix(cardName string) string {
	return "references/" + url.PathEscape(strings.ToLower(strings.TrimSpace(cardName))) + "/"
}

// LoadReferences lists and parses every reference-hash object under the
// card's prefix. A missing prefix (no objects) returns an empty, non-error
// result. Individual objects that fail to parse are logged and skipped; the
// call as a whole only fails if the list operation itself errors.
func (s *Store) LoadReferences(ctx context.Context, cardName string) ([]models.ReferenceHash, error) {
	prefix := KeyPrefix(cardName)

	var keys []string
	var continuationToken *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("refstore: list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	if len(keys) == 0 {
		return []models.ReferenceHash{}, nil
	}

	refs := make([]models.ReferenceHash, 0, len(keys))
	for _, key := range keys {
		ref, err := s.loadOne(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("skipping unparseable reference object")
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Store) loadOne(ctx context.Context, key string) (models.ReferenceHash, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return models.ReferenceHash{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	var ref models.ReferenceHash
	if err := json.NewDecoder(out.Body).Decode(&ref); err != nil {
		return models.ReferenceHash{}, fmt.Errorf("decode %s: %w", key, err)
	}
	if ref.Hash == "" {
		return models.ReferenceHash{}, fmt.Errorf("object %s missing hash field", key)
	}
	return ref, nil
}
