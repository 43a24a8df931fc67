package metrics

// Merge combines the two sources of a document. Computed values are the
// fallback, provider values overwrite them, and specific formulas only fill
// keys still missing. The inputs are not modified.
func Merge(provider, computed, specific map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(provider)+len(computed)+len(specific))
	for k, v := range computed {
		out[k] = v
	}
	for k, v := range provider {
		out[k] = v
	}
	for k, v := range specific {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// MergeSources merges stored sources.
func MergeSources(s Sources) map[string]float64 {
	return Merge(s.Provider, s.Computed.Flat(), s.Computed.Specific)
}
