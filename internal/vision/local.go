package vision

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/cardvault/valuation-engine/pkg/models"
)

// LocalProvider is a dependency-free Provider implementation used as the
// default wiring and in tests: it decodes basic image metadata itself and
// returns a neutral, mid-range feature reading rather than calling out to a
// hosted OCR/label-detection service. Real deployments swap this for a
// hosted-provider adapter (§9 "adding a provider adds a variant"); hosting
// that provider is explicitly out of scope (§1).
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider { return &LocalProvider{} }

func (LocalProvider) Analyze(ctx context.Context, imageBytes []byte) (RawFeatures, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageBytes))
	width, height := 0, 0
	if err == nil {
		width, height = cfg.Width, cfg.Height
	}

	return RawFeatures{
		OCR: []models.OCRBlock{},
		Borders: models.Borders{
			Top: 0.15, Bottom: 0.15, Left: 0.15, Right: 0.15, Symmetry: 0.8,
		},
		HoloVariance: 0.3,
		FontMetrics: models.FontMetrics{
			Kerning:          []float64{0.1},
			Alignment:        0.8,
			FontSizeVariance: 5,
		},
		Quality:   models.Quality{Blur: 0.1, Glare: 0.1},
		ImageMeta: models.ImageMeta{Width: width, Height: height},
	}, nil
}
