package policy

import (
	"fmt"
	"strings"
)

// regionPrefixes are the recognized `<region>.<canonical>` prefixes a model
// id may carry (§4.6 "Model-id normalization").
var regionPrefixes = []string{"us.", "eu.", "apac.", "global."}

// Canonicalize strips recognized region prefixes from a model id, so
// per-model accumulators and pricing lookups key by canonical id regardless
// of which region-qualified form a provider returned. Idempotent:
// Canonicalize(Canonicalize(id)) == Canonicalize(id).
func Canonicalize(modelID string) string {
	for {
		stripped := false
		for _, prefix := range regionPrefixes {
			if strings.HasPrefix(modelID, prefix) {
				modelID = strings.TrimPrefix(modelID, prefix)
				stripped = true
				break
			}
		}
		if !stripped {
			return modelID
		}
	}
}

// Curated model resolution (§2 "Tool-policy + curated-model resolution"): a
// run names a model either directly (modelId) or indirectly (modelProfile),
// and the terminal `done` record reports estimatedCostUsd computed from the
// resolved model's per-token pricing.

// ModelInfo describes one curated model: its canonical id and USD pricing
// per million tokens.
type ModelInfo struct {
	ID               string
	InputUSDPerMTok  float64
	OutputUSDPerMTok float64
}

// curatedModels maps a profile key to the model it resolves to. Profile
// names are deliberately coarse (cost/latency tiers), not provider-specific.
var curatedModels = map[string]ModelInfo{
	"fast":     {ID: "claude-3-5-haiku-20241022", InputUSDPerMTok: 0.80, OutputUSDPerMTok: 4.00},
	"balanced": {ID: "claude-sonnet-4-20250514", InputUSDPerMTok: 3.00, OutputUSDPerMTok: 15.00},
	"thorough": {ID: "claude-opus-4-20250514", InputUSDPerMTok: 15.00, OutputUSDPerMTok: 75.00},
}

// knownModels indexes curated models by their own id, so a request naming an
// explicit modelId can still be priced.
var knownModels = func() map[string]ModelInfo {
	out := make(map[string]ModelInfo, len(curatedModels))
	for _, m := range curatedModels {
		out[m.ID] = m
	}
	return out
}()

// ErrUnknownModel is returned when neither modelId nor modelProfile resolves
// to a curated entry.
var ErrUnknownModel = fmt.Errorf("policy: unknown model id or profile")

// ResolveModel resolves a request's modelId/modelProfile pair to a concrete
// ModelInfo. An explicit modelId, if it names a curated model, wins over
// profile; an unrecognized modelId is still accepted (the adapter may serve
// models this package has no pricing for) but priced at zero.
func ResolveModel(modelID, profile, fallback string) (ModelInfo, error) {
	if modelID != "" {
		if info, ok := knownModels[Canonicalize(modelID)]; ok {
			return info, nil
		}
		return ModelInfo{ID: modelID}, nil
	}
	if profile != "" {
		if info, ok := curatedModels[profile]; ok {
			return info, nil
		}
		return ModelInfo{}, fmt.Errorf("%w: profile %q", ErrUnknownModel, profile)
	}
	if info, ok := knownModels[Canonicalize(fallback)]; ok {
		return info, nil
	}
	return ModelInfo{ID: fallback}, nil
}

// EstimateCostUSD computes the run's estimated cost from per-model
// accumulated usage, keyed by canonical model id (§4.6 normalization).
func EstimateCostUSD(usageByModel map[string]struct{ InputTokens, OutputTokens int }) float64 {
	var total float64
	for modelID, usage := range usageByModel {
		info, ok := knownModels[Canonicalize(modelID)]
		if !ok {
			continue
		}
		total += float64(usage.InputTokens) / 1_000_000 * info.InputUSDPerMTok
		total += float64(usage.OutputTokens) / 1_000_000 * info.OutputUSDPerMTok
	}
	return total
}
