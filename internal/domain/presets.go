package domain

import (
	"fmt"
	"sort"
	"time"
)

// StyleSpec weights a style for estimation. Weight scales the per-variant
// base duration; CostCents is billed per produced output.
type StyleSpec struct {
	Weight    float64
	CostCents int
}

// styleCatalog lists every style the service accepts. Weights reflect the
// observed relative latency of the hosted models behind each style.
var styleCatalog = map[string]StyleSpec{
	"corporate":       {Weight: 1.0, CostCents: 8},
	"executive":       {Weight: 1.2, CostCents: 10},
	"business-casual": {Weight: 1.0, CostCents: 8},
	"creative":        {Weight: 1.4, CostCents: 12},
	"startup":         {Weight: 1.1, CostCents: 9},
	"academic":        {Weight: 1.0, CostCents: 8},
}

// batchPresets maps a named batch shape to its style list.
var batchPresets = map[string][]string{
	"express":      {"corporate"},
	"professional": {"corporate", "executive"},
	"creative-pro": {"creative", "startup"},
	"complete":     {"corporate", "executive", "business-casual", "creative", "startup", "academic"},
}

// baseVariantDuration is the estimation baseline for a weight-1.0 style
// producing a single output.
const baseVariantDuration = 20 * time.Second

// perOutputDuration is the estimation increment per additional output.
const perOutputDuration = 8 * time.Second

// KnownStyle reports whether the catalog contains the style.
func KnownStyle(style string) bool {
	_, ok := styleCatalog[style]
	return ok
}

// StyleNames returns the catalog styles in stable order.
func StyleNames() []string {
	names := make([]string, 0, len(styleCatalog))
	for name := range styleCatalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetNames returns the batch preset names in stable order.
func PresetNames() []string {
	names := make([]string, 0, len(batchPresets))
	for name := range batchPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveBatchSpec expands a named preset or validates an explicit style
// list. The returned slice order defines processing order.
func ResolveBatchSpec(preset string, styles []string) ([]string, error) {
	if preset != "" {
		expanded, ok := batchPresets[preset]
		if !ok {
			return nil, fmt.Errorf("%w: unknown batch preset %q", ErrValidation, preset)
		}
		out := make([]string, len(expanded))
		copy(out, expanded)
		return out, nil
	}
	if len(styles) == 0 {
		return nil, fmt.Errorf("%w: at least one style is required", ErrValidation)
	}
	out := make([]string, 0, len(styles))
	for _, style := range styles {
		if !KnownStyle(style) {
			return nil, fmt.Errorf("%w: unknown style %q", ErrValidation, style)
		}
		out = append(out, style)
	}
	return out, nil
}

// EstimateBatch computes submission-time duration and cost estimates as a
// deterministic function of the style list and outputs per variant.
func EstimateBatch(styles []string, outputsPerVariant int) Estimates {
	var est Estimates
	for _, style := range styles {
		spec, ok := styleCatalog[style]
		if !ok {
			spec = StyleSpec{Weight: 1.0, CostCents: 8}
		}
		perVariant := time.Duration(float64(baseVariantDuration) * spec.Weight)
		if outputsPerVariant > 1 {
			perVariant += time.Duration(outputsPerVariant-1) * perOutputDuration
		}
		est.Duration += Millis(perVariant)
		est.CostCents += spec.CostCents * outputsPerVariant
	}
	return est
}
