package registry

import "strings"

// GPUSpec is a read-only entry in the GPU Registry: a provider-native
// tier id, its display name, VRAM capacity, relative cost, family, and
// the aliases a caller may use in gpu_tier to refer to it.
type GPUSpec struct {
	TierID      string
	DisplayName string
	VRAMGB      int
	CostIndex   float64
	Family      string
	Aliases     []string
}

// gpuCatalog is ordered by CostIndex ascending, matching the order the
// provider bills at. GPUCatalog() returns a defensive copy so callers
// cannot mutate the package-level catalog.
var gpuCatalog = []GPUSpec{
	{TierID: "NVIDIA A10", DisplayName: "A10", VRAMGB: 24, CostIndex: 0.34, Family: "ampere", Aliases: []string{"a10"}},
	{TierID: "NVIDIA L4", DisplayName: "L4", VRAMGB: 24, CostIndex: 0.39, Family: "ada", Aliases: []string{"l4"}},
	{TierID: "NVIDIA A40", DisplayName: "A40", VRAMGB: 48, CostIndex: 0.55, Family: "ampere", Aliases: []string{"a40"}},
	{TierID: "NVIDIA L40S", DisplayName: "L40S", VRAMGB: 48, CostIndex: 0.79, Family: "ada", Aliases: []string{"l40s", "l40"}},
	{TierID: "NVIDIA A100 80GB", DisplayName: "A100", VRAMGB: 80, CostIndex: 1.64, Family: "ampere", Aliases: []string{"a100", "a100-80g"}},
	{TierID: "NVIDIA H100 80GB", DisplayName: "H100", VRAMGB: 80, CostIndex: 2.49, Family: "hopper", Aliases: []string{"h100", "h100-80g"}},
}

// GPUCatalog returns a defensive copy of the static GPU catalog,
// ordered by CostIndex ascending.
func GPUCatalog() []GPUSpec {
	out := make([]GPUSpec, len(gpuCatalog))
	copy(out, gpuCatalog)
	return out
}

// ResolveGPUAlias resolves a case-insensitive user-supplied tier alias
// (e.g. "A10", "a10") to its GPUSpec, or false if no tier matches any
// alias or display name.
func ResolveGPUAlias(alias string) (GPUSpec, bool) {
	needle := strings.ToLower(strings.TrimSpace(alias))
	if needle == "" {
		return GPUSpec{}, false
	}
	for _, spec := range gpuCatalog {
		if strings.EqualFold(spec.DisplayName, needle) || strings.EqualFold(spec.TierID, needle) {
			return spec, true
		}
		for _, a := range spec.Aliases {
			if strings.EqualFold(a, needle) {
				return spec, true
			}
		}
	}
	return GPUSpec{}, false
}
