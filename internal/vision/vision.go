// Package vision implements the feature extractor (C6): fetch image bytes,
// compute pHashes, call an abstract vision provider, and assemble the
// provider-independent FeatureEnvelope.
package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cardvault/valuation-engine/internal/phash"
	"github.com/cardvault/valuation-engine/pkg/models"
)

// ErrFetch is returned when the front image cannot be fetched.
var ErrFetch = errors.New("vision: fetch failed")

// ErrInvalidEnvelope is returned when the assembled envelope violates an
// invariant from §3.
var ErrInvalidEnvelope = errors.New("vision: invalid envelope")

// ObjectFetcher retrieves raw image bytes for an opaque object-storage key.
// Narrow by design (§9) — the feature extractor never sees bucket/region
// details.
type ObjectFetcher interface {
	FetchObject(ctx context.Context, key string) ([]byte, error)
}

// RawFeatures is what a vision Provider returns: its native OCR/label
// output, already normalized to this package's shape so downstream code
// (signals, reasoner) never sees a provider-specific schema. Provider
// adapters are responsible for filling this in from whatever their SDK
// returns.
type RawFeatures struct {
	OCR          []models.OCRBlock
	Borders      models.Borders
	HoloVariance float64
	FontMetrics  models.FontMetrics
	Quality      models.Quality
	ImageMeta    models.ImageMeta
}

// Provider is the narrow interface wrapping a vision API (text detection +
// label detection). It is one of a closed, tagged set of variants (§9);
// adding a vision backend means adding a new Provider implementation and
// constructor.
type Provider interface {
	Analyze(ctx context.Context, imageBytes []byte) (RawFeatures, error)
}

// Extractor implements C6.
type Extractor struct {
	objects  ObjectFetcher
	provider Provider
	retry    func() backoff.BackOff
}

// New builds an Extractor. retryPolicy, if nil, defaults to the §4.5 policy
// (3 attempts, base 2s, factor 2).
func New(objects ObjectFetcher, provider Provider, retryPolicy func() backoff.BackOff) *Extractor {
	if retryPolicy == nil {
		retryPolicy = defaultRetryPolicy
	}
	return &Extractor{objects: objects, provider: provider, retry: retryPolicy}
}

func defaultRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 2) // 3 total attempts
}

// Extract builds a FeatureEnvelope for a card's front (required) and back
// (optional) object keys. The whole step is retried up to 3 times with
// exponential backoff on transient failures.
func (e *Extractor) Extract(ctx context.Context, frontKey, backKey string) (models.FeatureEnvelope, error) {
	var envelope models.FeatureEnvelope

	op := func() error {
		built, err := e.extractOnce(ctx, frontKey, backKey)
		if err != nil {
			if errors.Is(err, ErrInvalidEnvelope) {
				return backoff.Permanent(err)
			}
			return err
		}
		envelope = built
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(e.retry(), ctx)); err != nil {
		return models.FeatureEnvelope{}, err
	}
	return envelope, nil
}

func (e *Extractor) extractOnce(ctx context.Context, frontKey, backKey string) (models.FeatureEnvelope, error) {
	frontBytes, err := e.objects.FetchObject(ctx, frontKey)
	if err != nil {
		return models.FeatureEnvelope{}, fmt.Errorf("%w: front: %v", ErrFetch, err)
	}

	frontHash, err := phash.Hash(frontBytes)
	if err != nil {
		return models.FeatureEnvelope{}, fmt.Errorf("%w: front hash: %v", ErrInvalidEnvelope, err)
	}

	var backHash string
	if backKey != "" {
		if backBytes, err := e.objects.FetchObject(ctx, backKey); err == nil {
			if h, err := phash.Hash(backBytes); err == nil {
				backHash = h
			}
		}
	}

	raw, err := e.provider.Analyze(ctx, frontBytes)
	if err != nil {
		return models.FeatureEnvelope{}, err // provider errors are retryable as-is
	}

	envelope := models.FeatureEnvelope{
		OCR:          raw.OCR,
		Borders:      raw.Borders,
		HoloVariance: raw.HoloVariance,
		FontMetrics:  raw.FontMetrics,
		Quality:      raw.Quality,
		ImageMeta:    raw.ImageMeta,
		FrontHash:    frontHash,
		BackHash:     backHash,
	}

	if err := validate(envelope); err != nil {
		return models.FeatureEnvelope{}, err
	}
	return envelope, nil
}

func validate(e models.FeatureEnvelope) error {
	if len(e.FrontHash) != 16 {
		return fmt.Errorf("%w: frontHash must be 16 hex chars", ErrInvalidEnvelope)
	}
	if e.HoloVariance < 0 || e.HoloVariance > 1 {
		return fmt.Errorf("%w: holoVariance out of [0,1]", ErrInvalidEnvelope)
	}
	for _, f := range []float64{e.Borders.Top, e.Borders.Bottom, e.Borders.Left, e.Borders.Right, e.Borders.Symmetry} {
		if f < 0 || f > 1 {
			return fmt.Errorf("%w: border field out of [0,1]", ErrInvalidEnvelope)
		}
	}
	for _, b := range e.OCR {
		if b.Confidence < 0 || b.Confidence > 1 {
			return fmt.Errorf("%w: ocr confidence out of [0,1]", ErrInvalidEnvelope)
		}
	}
	if e.FontMetrics.Alignment < 0 || e.FontMetrics.Alignment > 1 {
		return fmt.Errorf("%w: font alignment out of [0,1]", ErrInvalidEnvelope)
	}
	if e.ImageMeta.Width <= 0 || e.ImageMeta.Height <= 0 {
		return fmt.Errorf("%w: imageMeta dimensions must be positive", ErrInvalidEnvelope)
	}
	return nil
}
