package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardvault/valuation-engine/internal/events"
	"github.com/cardvault/valuation-engine/pkg/models"
)

type fakeStore struct {
	card     models.Card
	snap     models.Snapshot
	putCalls int
}

func (f *fakeStore) GetCard(ctx context.Context, subject, cardID string) (models.Card, error) {
	return f.card, nil
}

func (f *fakeStore) PutSnapshotAndCard(ctx context.Context, snap models.Snapshot, card models.Card) error {
	f.snap = snap
	f.card = card
	f.putCalls++
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func TestAggregateHappyPathNoFlag(t *testing.T) {
	fs := &fakeStore{card: models.Card{Subject: "sub-A", CardID: "c-1", CreatedAt: time.Now()}}
	pub := events.NewInProcessPublisher()
	var valuationEvents []events.CardValuationUpdated
	var flaggedEvents []events.AuthenticityFlagged
	pub.OnValuationUpdated(func(e events.CardValuationUpdated) { valuationEvents = append(valuationEvents, e) })
	pub.OnAuthenticityFlagged(func(e events.AuthenticityFlagged) { flaggedEvents = append(flaggedEvents, e) })

	agg := New(fs, pub, 0.5, zerolog.Nop())

	pricing := models.PricingResult{
		ValueLow: floatPtr(350), ValueMedian: floatPtr(450), ValueHigh: floatPtr(600),
		CompsCount: 5, WindowDays: 30, Confidence: 0.8, Sources: []string{"A"},
	}
	auth := models.AuthenticityResult{Score: 0.92, Rationale: "looks authentic"}

	snap, err := agg.Aggregate(context.Background(), "sub-A", "c-1", pricing, auth, models.AuthenticitySignals{}, time.Now())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if snap.ValueLow == nil || *snap.ValueLow > *snap.ValueMedian || *snap.ValueMedian > *snap.ValueHigh {
		t.Errorf("expected valueLow <= valueMedian <= valueHigh, got %+v", snap)
	}
	if len(valuationEvents) != 1 {
		t.Errorf("expected exactly 1 CardValuationUpdated, got %d", len(valuationEvents))
	}
	if len(flaggedEvents) != 0 {
		t.Errorf("did not expect AuthenticityFlagged for score above threshold, got %d", len(flaggedEvents))
	}
	if fs.card.UpdatedAt != snap.Timestamp {
		t.Error("expected card.updatedAt to equal the new snapshot's timestamp")
	}
}

func TestAggregateEmitsAuthenticityFlagged(t *testing.T) {
	fs := &fakeStore{card: models.Card{Subject: "sub-A", CardID: "c-1"}}
	pub := events.NewInProcessPublisher()
	var flaggedEvents []events.AuthenticityFlagged
	pub.OnAuthenticityFlagged(func(e events.AuthenticityFlagged) { flaggedEvents = append(flaggedEvents, e) })

	agg := New(fs, pub, 0.5, zerolog.Nop())

	pricing := models.PricingResult{CompsCount: 0, WindowDays: 30, Confidence: 0, Sources: []string{}}
	auth := models.AuthenticityResult{Score: 0.2, Rationale: "computed from signals; reasoning unavailable", Degraded: true}

	snap, err := agg.Aggregate(context.Background(), "sub-A", "c-1", pricing, auth, models.AuthenticitySignals{}, time.Now())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !snap.Degraded {
		t.Error("expected degraded snapshot")
	}
	if len(flaggedEvents) != 1 {
		t.Fatalf("expected exactly 1 AuthenticityFlagged, got %d", len(flaggedEvents))
	}
	if flaggedEvents[0].AuthenticityScore != 0.2 {
		t.Errorf("unexpected flagged score: %v", flaggedEvents[0].AuthenticityScore)
	}
}

func TestAggregateRejectsInvariantViolation(t *testing.T) {
	fs := &fakeStore{card: models.Card{Subject: "sub-A", CardID: "c-1"}}
	agg := New(fs, events.NewInProcessPublisher(), 0.5, zerolog.Nop())

	pricing := models.PricingResult{ValueLow: floatPtr(500), ValueMedian: floatPtr(100), ValueHigh: floatPtr(600), WindowDays: 30}
	auth := models.AuthenticityResult{Score: 0.9}

	_, err := agg.Aggregate(context.Background(), "sub-A", "c-1", pricing, auth, models.AuthenticitySignals{}, time.Now())
	if err == nil {
		t.Fatal("expected an error for valueLow > valueMedian")
	}
	if fs.putCalls != 0 {
		t.Error("expected no write when invariants are violated")
	}
}

func TestAggregateIdempotentNumericFields(t *testing.T) {
	pricing := models.PricingResult{ValueLow: floatPtr(350), ValueMedian: floatPtr(450), ValueHigh: floatPtr(600), CompsCount: 5, WindowDays: 30, Confidence: 0.8, Sources: []string{"A"}}
	auth := models.AuthenticityResult{Score: 0.92, Rationale: "r"}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	fs1 := &fakeStore{card: models.Card{Subject: "sub-A", CardID: "c-1"}}
	agg1 := New(fs1, events.NewInProcessPublisher(), 0.5, zerolog.Nop())
	s1, err := agg1.Aggregate(context.Background(), "sub-A", "c-1", pricing, auth, models.AuthenticitySignals{}, ts)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	fs2 := &fakeStore{card: models.Card{Subject: "sub-A", CardID: "c-1"}}
	agg2 := New(fs2, events.NewInProcessPublisher(), 0.5, zerolog.Nop())
	s2, err := agg2.Aggregate(context.Background(), "sub-A", "c-1", pricing, auth, models.AuthenticitySignals{}, ts)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if *s1.ValueMedian != *s2.ValueMedian || s1.AuthenticityScore != s2.AuthenticityScore || s1.Confidence != s2.Confidence {
		t.Error("expected bitwise-equal numeric fields for identical frozen inputs")
	}
}
