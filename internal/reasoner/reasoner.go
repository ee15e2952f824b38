// Package reasoner implements the authenticity reasoner (C7): submit a
// structured, deterministic prompt of numeric signals and canonical text
// features to an abstract reasoning provider, and fall back to a
// signals-only score if the provider fails or returns malformed output.
package reasoner

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cardvault/valuation-engine/internal/signals"
	"github.com/cardvault/valuation-engine/pkg/models"
)

const fallbackRationale = "computed from signals; reasoning unavailable"

// Prompt is the canonical, provider-independent input handed to a
// reasoning Provider. It carries only numeric signals and canonical text
// features — never raw provider-specific payloads.
type Prompt struct {
	Signals  models.AuthenticitySignals
	Envelope models.FeatureEnvelope
	Expected *models.ExpectedAttributes
}

// Provider is the narrow interface wrapping a reasoning/LLM backend. One of
// a closed, tagged set of variants (§9); the orchestrator treats it as
// opaque.
type Provider interface {
	Score(ctx context.Context, prompt Prompt) (score float64, rationale string, err error)
}

// Reasoner implements C7.
type Reasoner struct {
	provider Provider
	retry    func() backoff.BackOff
}

func New(provider Provider, retryPolicy func() backoff.BackOff) *Reasoner {
	if retryPolicy == nil {
		retryPolicy = defaultRetryPolicy
	}
	return &Reasoner{provider: provider, retry: retryPolicy}
}

func defaultRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 2) // 3 total attempts
}

// Score calls the reasoning provider, retrying transient failures. If the
// provider fails after exhaustion or returns a score outside [0,1], the
// result falls back to the signals-only overall score with the fixed
// fallback rationale and the Degraded flag set (§4.6).
func (r *Reasoner) Score(ctx context.Context, envelope models.FeatureEnvelope, sig models.AuthenticitySignals, expected *models.ExpectedAttributes) models.AuthenticityResult {
	prompt := Prompt{Signals: sig, Envelope: envelope, Expected: expected}

	var score float64
	var rationale string

	op := func() error {
		s, rat, err := r.provider.Score(ctx, prompt)
		if err != nil {
			return err
		}
		if s < 0 || s > 1 {
			return backoff.Permanent(errOutOfRange)
		}
		score, rationale = s, rat
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(r.retry(), ctx)); err != nil {
		return models.AuthenticityResult{
			Score:     signals.Overall(sig),
			Rationale: fallbackRationale,
			Degraded:  true,
		}
	}

	return models.AuthenticityResult{Score: score, Rationale: rationale, Degraded: false}
}

var errOutOfRange = &outOfRangeError{}

type outOfRangeError struct{}

func (*outOfRangeError) Error() string { return "reasoner: score out of [0,1]" }
