// Package signals implements the authenticity sub-score math (C2): turning a
// FeatureEnvelope plus optional expected attributes into AuthenticitySignals,
// and fusing those into a single overall score.
package signals

import (
	"strings"

	"github.com/cardvault/valuation-engine/internal/phash"
	"github.com/cardvault/valuation-engine/pkg/models"
)

// watermarkPatterns is the fixed text set checked by textMatchConfidence.
var watermarkPatterns = []string{"HP", "©", "Illus.", "Weakness"}

const neutralVisualConfidence = 0.5

// Compute derives AuthenticitySignals from an envelope, optional reference
// hashes for the named card, and optional expected attributes.
func Compute(envelope models.FeatureEnvelope, references []models.ReferenceHash, expected *models.ExpectedAttributes) models.AuthenticitySignals {
	return models.AuthenticitySignals{
		VisualHashConfidence:  visualHashConfidence(envelope, references),
		TextMatchConfidence:   textMatchConfidence(envelope, expected),
		HoloPatternConfidence: holoPatternConfidence(envelope, expected),
		BorderConsistency:     borderConsistency(envelope.Borders),
		FontValidation:        fontValidation(envelope.FontMetrics),
	}
}

// Overall combines the five sub-scores per the fixed weights in §4.3.
func Overall(s models.AuthenticitySignals) float64 {
	return clamp01(0.30*s.VisualHashConfidence +
		0.25*s.TextMatchConfidence +
		0.20*s.HoloPatternConfidence +
		0.15*s.BorderConsistency +
		0.10*s.FontValidation)
}

func visualHashConfidence(envelope models.FeatureEnvelope, references []models.ReferenceHash) float64 {
	if len(references) == 0 || envelope.FrontHash == "" {
		return neutralVisualConfidence
	}

	best := 0.0
	found := false
	for _, ref := range references {
		d, err := phash.HammingDistance(envelope.FrontHash, ref.Hash)
		if err != nil {
			continue
		}
		if sim := phash.Similarity(d); !found || sim > best {
			best = sim
			found = true
		}
	}
	if !found {
		return neutralVisualConfidence
	}
	return clamp01(best)
}

func textMatchConfidence(envelope models.FeatureEnvelope, expected *models.ExpectedAttributes) float64 {
	patterns := watermarkPatterns
	if expected != nil && expected.Name != "" {
		patterns = append(append([]string{}, watermarkPatterns...), expected.Name)
	}

	var joined strings.Builder
	var confSum float64
	for _, b := range envelope.OCR {
		joined.WriteString(b.Text)
		joined.WriteByte(' ')
		confSum += b.Confidence
	}
	haystack := strings.ToLower(joined.String())

	matched := 0
	for _, p := range patterns {
		if strings.Contains(haystack, strings.ToLower(p)) {
			matched++
		}
	}

	var p, c float64
	if len(patterns) > 0 {
		p = float64(matched) / float64(len(patterns))
	}
	if len(envelope.OCR) > 0 {
		c = confSum / float64(len(envelope.OCR))
	}

	return clamp01(0.7*p + 0.3*c)
}

func holoPatternConfidence(envelope models.FeatureEnvelope, expected *models.ExpectedAttributes) float64 {
	v := envelope.HoloVariance
	expectHolo := expected != nil && strings.Contains(strings.ToLower(expected.Rarity), "holo")

	if !expectHolo {
		switch {
		case v < 0.2:
			return 1.0
		case v < 0.4:
			return 0.7
		default:
			return 0.3
		}
	}

	switch {
	case v >= 0.3 && v <= 0.9:
		score := 1 - abs(v-0.6)/0.3
		if score < 0.5 {
			score = 0.5
		}
		return clamp01(score)
	case v < 0.3:
		return clamp01(0.3 + (v/0.3)*0.2)
	default: // v > 0.9
		score := 0.5 - (v - 0.9)
		if score < 0.2 {
			score = 0.2
		}
		return clamp01(score)
	}
}

func borderConsistency(b models.Borders) float64 {
	ratios := []float64{b.Top, b.Bottom, b.Left, b.Right}
	mean := meanOf(ratios)
	variance := varianceOf(ratios, mean)

	varianceTerm := 1 - 10*variance
	if varianceTerm < 0 {
		varianceTerm = 0
	}

	ratioConfidence := 1 - abs(mean-0.15)/0.15
	if ratioConfidence < 0 {
		ratioConfidence = 0
	}

	return clamp01(0.4*b.Symmetry + 0.3*varianceTerm + 0.3*ratioConfidence)
}

func fontValidation(f models.FontMetrics) float64 {
	mean := meanOf(f.Kerning)
	kerningVariance := varianceOf(f.Kerning, mean)

	kerningTerm := clamp01(1 - kerningVariance/0.05)
	sizeTerm := clamp01(1 - f.FontSizeVariance/50)
	alignTerm := clamp01(f.Alignment)

	return clamp01(0.4*alignTerm + 0.3*kerningTerm + 0.3*sizeTerm)
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func varianceOf(v []float64, mean float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(v))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
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
