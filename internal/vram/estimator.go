// Package vram estimates the minimum GPU memory a model requires from
// its Hugging Face safetensors parameter-count-by-dtype breakdown.
package vram

import (
	"fmt"
	"math"
)

// overheadMultiplier covers activations, CUDA context, and allocator
// fragmentation on top of raw weight bytes (spec §4.2).
const overheadMultiplier = 1.35

const gib = 1 << 30

// tiers the estimate snaps upward to, ascending.
var tiers = []int{6, 8, 10, 12, 16, 24, 28, 40, 48, 80}

// bytesPerDtype is the storage size, in bytes, of one parameter stored
// in the given dtype. Unknown dtypes are rejected by Estimate rather
// than silently defaulted, since silently guessing a width could
// under-provision VRAM.
var bytesPerDtype = map[string]float64{
	"BF16":    2,
	"F16":     2,
	"F32":     4,
	"F64":     8,
	"F8_E4M3": 1,
	"F8_E5M2": 1,
	"INT8":    1,
	"UINT8":   1,
	"INT16":   2,
	"INT32":   4,
	"INT64":   8,
	"BOOL":    1,
}

// UnsupportedModelError is returned when neither a registered spec nor
// a parseable parameter map is available for a model.
type UnsupportedModelError struct {
	ModelID string
	Reason  string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("unsupported model %q: %s", e.ModelID, e.Reason)
}

// Estimate computes the minimum VRAM, in GB, required to load a model
// given its dtype → parameter-count breakdown, snapped upward to the
// nearest GPU tier. An empty or all-zero dtypeCounts map is invalid —
// callers should already have confirmed a non-empty parameter map
// before calling Estimate (see UnsupportedModelError for that path).
func Estimate(modelID string, dtypeCounts map[string]int64) (int, error) {
	if len(dtypeCounts) == 0 {
		return 0, &UnsupportedModelError{ModelID: modelID, Reason: "no parameter map available"}
	}

	var totalBytes float64
	var sawKnownDtype bool
	for dtype, count := range dtypeCounts {
		if count == 0 {
			continue
		}
		width, ok := bytesPerDtype[dtype]
		if !ok {
			return 0, &UnsupportedModelError{ModelID: modelID, Reason: fmt.Sprintf("unrecognized dtype %q", dtype)}
		}
		sawKnownDtype = true
		totalBytes += float64(count) * width
	}
	if !sawKnownDtype {
		return 0, &UnsupportedModelError{ModelID: modelID, Reason: "parameter map has zero total parameters"}
	}

	adjusted := totalBytes * overheadMultiplier
	minGB := int(math.Ceil(adjusted / gib))
	return snapToTier(minGB), nil
}

// snapToTier rounds minGB up to the nearest entry in tiers. If minGB
// exceeds the largest tier, the raw value is returned unchanged — the
// GPU Selector will then correctly fail with InsufficientGPUError
// rather than silently under-provisioning.
func snapToTier(minGB int) int {
	for _, t := range tiers {
		if minGB <= t {
			return t
		}
	}
	return minGB
}
