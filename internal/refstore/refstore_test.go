package refstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

type fakeS3 struct {
	objects map[string]string // key -> json body
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)
	var contents []types.Object
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			key := k
			contents = append(contents, types.Object{Key: aws.String(key)})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, io.EOF
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestLoadReferencesEmptyPrefix(t *testing.T) {
	store := New(&fakeS3{objects: map[string]string{}}, "bucket", zerolog.Nop())
	refs, err := store.LoadReferences(context.Background(), "Charizard")
	if err != nil {
		t.Fatalf("LoadReferences: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("expected empty slice for missing prefix, got %d", len(refs))
	}
}

func TestLoadReferencesSkipsBadObjects(t *testing.T) {
	prefix := KeyPrefix("Charizard")
	store := New(&fakeS3{objects: map[string]string{
		prefix + "a.json": `{"cardName":"Charizard","hash":"00000000ffffffff"}`,
		prefix + "b.json": `not json`,
	}}, "bucket", zerolog.Nop())

	refs, err := store.LoadReferences(context.Background(), "Charizard")
	if err != nil {
		t.Fatalf("LoadReferences: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 parsed reference, got %d", len(refs))
	}
	if refs[0].Hash != "00000000ffffffff" {
		t.Errorf("unexpected hash: %s", refs[0].Hash)
	}
}
