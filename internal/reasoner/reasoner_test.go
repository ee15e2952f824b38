package reasoner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cardvault/valuation-engine/pkg/models"
)

type failingProvider struct{ calls int }

func (f *failingProvider) Score(ctx context.Context, prompt Prompt) (float64, string, error) {
	f.calls++
	return 0, "", errors.New("malformed output")
}

type fixedProvider struct{ score float64 }

func (f fixedProvider) Score(ctx context.Context, prompt Prompt) (float64, string, error) {
	return f.score, "provider rationale", nil
}

func fastRetry() backoff.BackOff {
	b := backoff.NewConstantBackOff(time.Millisecond)
	return backoff.WithMaxRetries(b, 2)
}

func TestScoreFallsBackAfterExhaustion(t *testing.T) {
	provider := &failingProvider{}
	r := New(provider, fastRetry)

	sig := models.AuthenticitySignals{
		VisualHashConfidence: 0.9, TextMatchConfidence: 0.8, HoloPatternConfidence: 0.7,
		BorderConsistency: 0.6, FontValidation: 0.5,
	}
	result := r.Score(context.Background(), models.FeatureEnvelope{}, sig, nil)

	if !result.Degraded {
		t.Error("expected degraded flag set")
	}
	if result.Rationale != fallbackRationale {
		t.Errorf("unexpected rationale: %s", result.Rationale)
	}
	if provider.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", provider.calls)
	}
}

func TestScoreOutOfRangeFallsBackImmediately(t *testing.T) {
	r := New(fixedProvider{score: 1.5}, fastRetry)
	result := r.Score(context.Background(), models.FeatureEnvelope{}, models.AuthenticitySignals{}, nil)
	if !result.Degraded {
		t.Error("expected degraded flag on out-of-range score")
	}
}

func TestScoreHappyPath(t *testing.T) {
	r := New(fixedProvider{score: 0.92}, fastRetry)
	result := r.Score(context.Background(), models.FeatureEnvelope{}, models.AuthenticitySignals{}, nil)
	if result.Degraded {
		t.Error("did not expect degraded flag on success")
	}
	if result.Score != 0.92 {
		t.Errorf("expected score 0.92, got %v", result.Score)
	}
}
