package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardvault/valuation-engine/internal/aggregator"
	"github.com/cardvault/valuation-engine/internal/events"
	"github.com/cardvault/valuation-engine/internal/pricing"
	"github.com/cardvault/valuation-engine/internal/reasoner"
	"github.com/cardvault/valuation-engine/internal/vision"
	"github.com/cardvault/valuation-engine/pkg/models"
)

type fakeObjects struct{}

func (fakeObjects) FetchObject(ctx context.Context, key string) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x*3 + y)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type fakeVisionProvider struct{}

func (fakeVisionProvider) Analyze(ctx context.Context, imageBytes []byte) (vision.RawFeatures, error) {
	return vision.RawFeatures{
		Borders:      models.Borders{Top: 0.12, Bottom: 0.12, Left: 0.12, Right: 0.12, Symmetry: 0.9},
		HoloVariance: 0.1,
		FontMetrics:  models.FontMetrics{Kerning: []float64{0.01, 0.01}, Alignment: 0.95, FontSizeVariance: 1},
		ImageMeta:    models.ImageMeta{Width: 734, Height: 1024},
	}, nil
}

type fakeReasonerProvider struct{ score float64 }

func (f fakeReasonerProvider) Score(ctx context.Context, p reasoner.Prompt) (float64, string, error) {
	return f.score, "fake rationale", nil
}

type okAdapter struct{ tag string }

func (a okAdapter) Tag() string { return a.tag }
func (a okAdapter) FetchComps(ctx context.Context, query string, windowDays int) ([]models.Comp, error) {
	return []models.Comp{
		{Price: 400, Currency: "USD", SoldAt: time.Unix(1000, 0), SourceTag: a.tag},
		{Price: 500, Currency: "USD", SoldAt: time.Unix(2000, 0), SourceTag: a.tag},
	}, nil
}

type failingAdapter struct{ tag string }

func (a failingAdapter) Tag() string { return a.tag }
func (a failingAdapter) FetchComps(ctx context.Context, query string, windowDays int) ([]models.Comp, error) {
	return nil, errors.New("marketplace unreachable")
}

type fakeCardStore struct{}

func (fakeCardStore) GetCard(ctx context.Context, subject, cardID string) (models.Card, error) {
	return models.Card{Subject: subject, CardID: cardID}, nil
}
func (fakeCardStore) PutSnapshotAndCard(ctx context.Context, snap models.Snapshot, card models.Card) error {
	return nil
}

type fakeExecutions struct{ records []models.ExecutionRecord }

func (f *fakeExecutions) Put(ctx context.Context, rec models.ExecutionRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeDeadLetter struct{ published []models.ExecutionRecord }

func (f *fakeDeadLetter) Publish(ctx context.Context, rec models.ExecutionRecord) error {
	f.published = append(f.published, rec)
	return nil
}

func newTestOrchestrator(adapters []pricing.Adapter, reasonerScore float64) (*Orchestrator, *fakeExecutions, *fakeDeadLetter) {
	extractor := vision.New(fakeObjects{}, fakeVisionProvider{}, nil)
	rs := reasoner.New(fakeReasonerProvider{score: reasonerScore}, nil)
	agg := aggregator.New(fakeCardStore{}, events.NewInProcessPublisher(), 0.5, zerolog.Nop())
	execs := &fakeExecutions{}
	dlq := &fakeDeadLetter{}

	o := New(Deps{
		Extractor:  extractor,
		Reasoner:   rs,
		Adapters:   adapters,
		Limiters:   pricing.NewLimiters(100, 10),
		Rates:      pricing.RateTable{"USD": 1.0},
		Aggregator: agg,
		Executions: execs,
		DeadLetter: dlq,
		Log:        zerolog.Nop(),
	})
	return o, execs, dlq
}

func TestRunHappyPath(t *testing.T) {
	o, execs, _ := newTestOrchestrator([]pricing.Adapter{okAdapter{tag: "A"}}, 0.9)

	snap, err := o.Run(context.Background(), Input{
		Subject: "sub-1", CardID: "card-1", FrontKey: "front.jpg",
		Expected: &models.ExpectedAttributes{Name: "Pikachu"}, WindowDays: 30,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.CompsCount == 0 {
		t.Error("expected comps from the ok adapter")
	}
	if snap.AuthenticityScore != 0.9 {
		t.Errorf("expected authenticity score 0.9, got %v", snap.AuthenticityScore)
	}

	var sawDone bool
	for _, r := range execs.records {
		if r.State == models.StateDone {
			sawDone = true
		}
	}
	if !sawDone {
		t.Error("expected a DONE execution record")
	}
}

func TestRunAllAdaptersFailedAndAuthenticityDegradedFails(t *testing.T) {
	o, _, dlq := newTestOrchestrator([]pricing.Adapter{failingAdapter{tag: "A"}, failingAdapter{tag: "B"}}, 2.0) // 2.0 forces reasoner out-of-range -> degraded fallback

	_, err := o.Run(context.Background(), Input{
		Subject: "sub-1", CardID: "card-1", FrontKey: "front.jpg",
		Expected: &models.ExpectedAttributes{Name: "Charizard"}, WindowDays: 30,
	})
	if err == nil {
		t.Fatal("expected an error when both branches fall back and all pricing adapters failed")
	}
	if !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("expected ErrExecutionFailed, got %v", err)
	}
	if len(dlq.published) != 1 {
		t.Fatalf("expected exactly 1 dead-lettered record, got %d", len(dlq.published))
	}
	if dlq.published[0].State != models.StateError {
		t.Errorf("expected dead-lettered record in ERROR state, got %s", dlq.published[0].State)
	}
}

func TestRunPricingFallbackAloneDoesNotFail(t *testing.T) {
	// Pricing falls back to no-data (empty results, not failures), but
	// authenticity succeeds — the step must still settle successfully.
	o, _, _ := newTestOrchestrator(nil, 0.9)

	snap, err := o.Run(context.Background(), Input{
		Subject: "sub-1", CardID: "card-1", FrontKey: "front.jpg",
		Expected: &models.ExpectedAttributes{Name: "Blastoise"}, WindowDays: 30,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.CompsCount != 0 {
		t.Errorf("expected no comps with zero adapters configured, got %d", snap.CompsCount)
	}
	if snap.Degraded {
		t.Error("did not expect a degraded snapshot when authenticity succeeded")
	}
}
