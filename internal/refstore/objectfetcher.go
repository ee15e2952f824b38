package refstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// CardAssetFetcher adapts an S3 client to vision.ObjectFetcher, fetching the
// raw card-image bytes the feature extractor (C6) hashes and analyzes.
// Lives alongside the reference-hash Store since both wrap the same S3
// client shape; kept as a distinct type because it reads a different
// bucket (card uploads, not reference catalogs).
type CardAssetFetcher struct {
	client Client
	bucket string
}

func NewCardAssetFetcher(client Client, bucket string) *CardAssetFetcher {
	return &CardAssetFetcher{client: client, bucket: bucket}
}

func (f *CardAssetFetcher) FetchObject(ctx context.Context, key string) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("cardassetfetcher: get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
