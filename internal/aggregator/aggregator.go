// Package aggregator implements C8: merge pricing and authenticity results
// into an immutable Snapshot, update the owning Card's cached-latest
// fields in a single atomic write group, and emit domain events.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardvault/valuation-engine/internal/events"
	"github.com/cardvault/valuation-engine/pkg/models"
)

// ErrDataLayer is returned when the atomic write group fails; terminal
// per §7 ("implies a data-layer problem").
var ErrDataLayer = errors.New("aggregator: data layer error")

// CardStore is the narrow subset of store.Store the aggregator needs.
type CardStore interface {
	GetCard(ctx context.Context, subject, cardID string) (models.Card, error)
	PutSnapshotAndCard(ctx context.Context, snap models.Snapshot, card models.Card) error
}

// Aggregator implements C8.
type Aggregator struct {
	store         CardStore
	publisher     events.Publisher
	flagThreshold float64
	log           zerolog.Logger
}

func New(s CardStore, publisher events.Publisher, flagThreshold float64, log zerolog.Logger) *Aggregator {
	return &Aggregator{store: s, publisher: publisher, flagThreshold: flagThreshold, log: log.With().Str("component", "aggregator").Logger()}
}

// Aggregate merges pricing+authenticity into a Snapshot, asserting the §3
// invariants, then performs the atomic write and emits events. Failure here
// is always terminal (no retries, §4.8).
func (a *Aggregator) Aggregate(ctx context.Context, subject, cardID string, pricing models.PricingResult, auth models.AuthenticityResult, sig models.AuthenticitySignals, startedAt time.Time) (models.Snapshot, error) {
	now := startedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	snap := models.Snapshot{
		Subject:             subject,
		CardID:              cardID,
		Timestamp:           now,
		ValueLow:            pricing.ValueLow,
		ValueMedian:         pricing.ValueMedian,
		ValueHigh:           pricing.ValueHigh,
		CompsCount:          pricing.CompsCount,
		WindowDays:          pricing.WindowDays,
		Confidence:          clamp01(pricing.Confidence),
		AuthenticityScore:   clamp01(auth.Score),
		AuthenticitySignals: sig,
		Sources:             pricing.Sources,
		Rationale:           auth.Rationale,
		Degraded:            auth.Degraded,
	}

	if err := validateSnapshot(snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: %v", ErrDataLayer, err)
	}

	card, err := a.store.GetCard(ctx, subject, cardID)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: load card: %v", ErrDataLayer, err)
	}

	card.ValueLow = snap.ValueLow
	card.ValueMedian = snap.ValueMedian
	card.ValueHigh = snap.ValueHigh
	authScore := snap.AuthenticityScore
	card.AuthenticityScore = &authScore
	sigCopy := snap.AuthenticitySignals
	card.AuthenticitySignals = &sigCopy
	card.UpdatedAt = snap.Timestamp

	if err := a.store.PutSnapshotAndCard(ctx, snap, card); err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: %v", ErrDataLayer, err)
	}

	a.emit(ctx, snap)

	return snap, nil
}

func (a *Aggregator) emit(ctx context.Context, snap models.Snapshot) {
	if err := a.publisher.PublishCardValuationUpdated(ctx, events.CardValuationUpdated{
		Subject: snap.Subject, CardID: snap.CardID, Timestamp: snap.Timestamp,
		ValueMedian: snap.ValueMedian, ValueLow: snap.ValueLow, ValueHigh: snap.ValueHigh,
		Confidence: snap.Confidence, Sources: snap.Sources,
	}); err != nil {
		a.log.Error().Err(err).Str("cardId", snap.CardID).Msg("failed to publish CardValuationUpdated (non-fatal)")
	}

	if snap.AuthenticityScore < a.flagThreshold {
		if err := a.publisher.PublishAuthenticityFlagged(ctx, events.AuthenticityFlagged{
			Subject: snap.Subject, CardID: snap.CardID, Timestamp: snap.Timestamp,
			AuthenticityScore: snap.AuthenticityScore, Rationale: snap.Rationale,
		}); err != nil {
			a.log.Error().Err(err).Str("cardId", snap.CardID).Msg("failed to publish AuthenticityFlagged (non-fatal)")
		}
	}
}

func validateSnapshot(s models.Snapshot) error {
	if s.ValueLow != nil && s.ValueMedian != nil && *s.ValueLow > *s.ValueMedian {
		return errors.New("valueLow > valueMedian")
	}
	if s.ValueMedian != nil && s.ValueHigh != nil && *s.ValueMedian > *s.ValueHigh {
		return errors.New("valueMedian > valueHigh")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return errors.New("confidence out of [0,1]")
	}
	if s.AuthenticityScore < 0 || s.AuthenticityScore > 1 {
		return errors.New("authenticityScore out of [0,1]")
	}
	if s.WindowDays < 1 {
		return errors.New("windowDays must be >= 1")
	}
	return nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
