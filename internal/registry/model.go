// Package registry holds the static, immutable catalogs the engine
// consults: known Hugging Face models and the GPU tiers available on
// the provider. Both are loaded once at init and never mutated.
package registry

// ModelSpec is a read-only entry in the Model Registry.
type ModelSpec struct {
	HFModelID  string
	Pipeline   string
	MinVRAMGB  int
	Notes      string
}

// modelCatalog is a small set of well-known diffusion checkpoints.
// It is illustrative, not exhaustive: any model not listed here falls
// through to the VRAM Estimator, which is the common path.
var modelCatalog = map[string]ModelSpec{
	"stabilityai/sd-turbo": {
		HFModelID: "stabilityai/sd-turbo",
		Pipeline:  "text-to-image",
		MinVRAMGB: 8,
		Notes:     "distilled SD for single-step inference",
	},
	"stabilityai/stable-diffusion-xl-base-1.0": {
		HFModelID: "stabilityai/stable-diffusion-xl-base-1.0",
		Pipeline:  "text-to-image",
		MinVRAMGB: 12,
		Notes:     "SDXL base, fp16",
	},
	"black-forest-labs/FLUX.1-dev": {
		HFModelID: "black-forest-labs/FLUX.1-dev",
		Pipeline:  "text-to-image",
		MinVRAMGB: 28,
		Notes:     "12B rectified-flow transformer",
	},
	"black-forest-labs/FLUX.1-schnell": {
		HFModelID: "black-forest-labs/FLUX.1-schnell",
		Pipeline:  "text-to-image",
		MinVRAMGB: 24,
		Notes:     "distilled FLUX, fewer steps",
	},
	"runwayml/stable-diffusion-v1-5": {
		HFModelID: "runwayml/stable-diffusion-v1-5",
		Pipeline:  "text-to-image",
		MinVRAMGB: 6,
		Notes:     "legacy SD1.5",
	},
}

// LookupModel returns the ModelSpec registered for hfModelID, and
// whether it was found. Lookup is case-sensitive: Hugging Face model
// ids are themselves case-sensitive.
func LookupModel(hfModelID string) (ModelSpec, bool) {
	spec, ok := modelCatalog[hfModelID]
	return spec, ok
}
