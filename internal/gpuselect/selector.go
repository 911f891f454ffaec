// Package gpuselect implements the GPU-selection algorithm: an
// ordered, cost-first candidate list that fits a model's VRAM floor,
// with a requested-tier preference and deterministic tie-breaking.
package gpuselect

import (
	"sort"

	"github.com/visgate-ai/visgate-deploy-api/internal/apperr"
	"github.com/visgate-ai/visgate-deploy-api/internal/registry"
)

// Select returns an ordered candidate list of GPUSpecs for minVRAMGB,
// optionally pinning requestedTier first when it is both resolvable
// and sufficient.
//
// Errors:
//   - apperr.KindUnsupportedGPU if requestedTier resolves to a tier
//     whose VRAM is below minVRAMGB (never silently upgraded).
//   - apperr.KindInsufficientGPU if no tier in the catalog has enough
//     VRAM.
func Select(minVRAMGB int, requestedTier string) ([]registry.GPUSpec, error) {
	catalog := registry.GPUCatalog()

	var pinned *registry.GPUSpec
	if requestedTier != "" {
		spec, ok := registry.ResolveGPUAlias(requestedTier)
		if ok {
			if spec.VRAMGB < minVRAMGB {
				return nil, apperr.New(apperr.KindUnsupportedGPU,
					"requested GPU tier does not have enough VRAM for this model").
					WithDetails(map[string]any{
						"requested_tier": requestedTier,
						"requested_vram_gb": spec.VRAMGB,
						"required_vram_gb":  minVRAMGB,
					})
			}
			pinned = &spec
		}
	}

	var fits []registry.GPUSpec
	for _, spec := range catalog {
		if spec.VRAMGB >= minVRAMGB {
			fits = append(fits, spec)
		}
	}
	if len(fits) == 0 {
		return nil, apperr.New(apperr.KindInsufficientGPU,
			"no GPU tier has enough VRAM for this model").
			WithDetails(map[string]any{"required_vram_gb": minVRAMGB})
	}

	sort.Slice(fits, func(i, j int) bool {
		a, b := fits[i], fits[j]
		if a.CostIndex != b.CostIndex {
			return a.CostIndex < b.CostIndex
		}
		if a.VRAMGB != b.VRAMGB {
			return a.VRAMGB < b.VRAMGB
		}
		return a.TierID < b.TierID
	})

	if pinned == nil {
		return fits, nil
	}

	ordered := make([]registry.GPUSpec, 0, len(fits))
	ordered = append(ordered, *pinned)
	for _, spec := range fits {
		if spec.TierID == pinned.TierID {
			continue
		}
		ordered = append(ordered, spec)
	}
	return ordered, nil
}
