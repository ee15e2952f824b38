package reasoner

import "context"

// LocalProvider is a dependency-free Provider used as default wiring and in
// tests: it derives a score directly from the prompt's signals rather than
// calling a hosted LLM, which is explicitly out of scope for this core
// (§1). Swap for a hosted-provider adapter in production (§9).
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider { return &LocalProvider{} }

func (LocalProvider) Score(ctx context.Context, prompt Prompt) (float64, string, error) {
	s := prompt.Signals
	score := 0.30*s.VisualHashConfidence + 0.25*s.TextMatchConfidence +
		0.20*s.HoloPatternConfidence + 0.15*s.BorderConsistency + 0.10*s.FontValidation
	return score, "reasoned from visual, text, holo, border, and font signals", nil
}
