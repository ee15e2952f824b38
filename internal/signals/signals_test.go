package signals

import (
	"testing"

	"github.com/cardvault/valuation-engine/pkg/models"
)

func TestComputeRangeForLegalEnvelope(t *testing.T) {
	envelope := models.FeatureEnvelope{
		OCR: []models.OCRBlock{
			{Text: "Charizard HP 120", Confidence: 0.95},
			{Text: "Weakness x2", Confidence: 0.8},
		},
		Borders:      models.Borders{Top: 0.15, Bottom: 0.16, Left: 0.14, Right: 0.15, Symmetry: 0.9},
		HoloVariance: 0.5,
		FontMetrics:  models.FontMetrics{Kerning: []float64{0.1, 0.11, 0.09}, Alignment: 0.95, FontSizeVariance: 2},
		FrontHash:    "00000000ffffffff",
	}
	expected := &models.ExpectedAttributes{Name: "Charizard", Rarity: "Holo Rare"}

	s := Compute(envelope, nil, expected)

	for name, v := range map[string]float64{
		"visual": s.VisualHashConfidence,
		"text":   s.TextMatchConfidence,
		"holo":   s.HoloPatternConfidence,
		"border": s.BorderConsistency,
		"font":   s.FontValidation,
	} {
		if v < 0 || v > 1 {
			t.Errorf("%s sub-score out of [0,1]: %v", name, v)
		}
	}

	overall := Overall(s)
	if overall < 0 || overall > 1 {
		t.Errorf("overall out of [0,1]: %v", overall)
	}
}

func TestVisualHashConfidenceNeutralWithoutReferences(t *testing.T) {
	s := Compute(models.FeatureEnvelope{FrontHash: "00000000ffffffff"}, nil, nil)
	if s.VisualHashConfidence != neutralVisualConfidence {
		t.Errorf("expected neutral visual confidence 0.5 with no references, got %v", s.VisualHashConfidence)
	}
}

func TestVisualHashConfidenceTakesMaxSimilarity(t *testing.T) {
	refs := []models.ReferenceHash{
		{CardName: "Charizard", Hash: "ffffffffffffffff"}, // maximally distant from all-zero
		{CardName: "Charizard", Hash: "0000000000000000"}, // identical
	}
	s := Compute(models.FeatureEnvelope{FrontHash: "0000000000000000"}, refs, nil)
	if s.VisualHashConfidence != 1.0 {
		t.Errorf("expected max similarity 1.0 from the identical reference, got %v", s.VisualHashConfidence)
	}
}

func TestHoloPatternConfidenceNonHoloBranches(t *testing.T) {
	cases := []struct {
		variance float64
		want     float64
	}{
		{0.1, 1.0},
		{0.3, 0.7},
		{0.6, 0.3},
	}
	for _, c := range cases {
		envelope := models.FeatureEnvelope{HoloVariance: c.variance}
		s := Compute(envelope, nil, nil)
		if s.HoloPatternConfidence != c.want {
			t.Errorf("variance %.2f: got %v, want %v", c.variance, s.HoloPatternConfidence, c.want)
		}
	}
}

func TestOverallWeights(t *testing.T) {
	s := models.AuthenticitySignals{
		VisualHashConfidence:  1,
		TextMatchConfidence:   1,
		HoloPatternConfidence: 1,
		BorderConsistency:     1,
		FontValidation:        1,
	}
	if o := Overall(s); o != 1 {
		t.Errorf("all-1 signals should yield overall 1, got %v", o)
	}

	z := models.AuthenticitySignals{}
	if o := Overall(z); o != 0 {
		t.Errorf("all-0 signals should yield overall 0, got %v", o)
	}
}
