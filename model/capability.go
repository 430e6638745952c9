package model

import (
	"slices"
	"sort"
)

// Capability names a feature a tool may require.
type Capability string

const (
	CapabilityBasicStats     Capability = "basic_stats"
	CapabilityHistorySearch  Capability = "history_search"
	CapabilityGenreInsights  Capability = "genre_insights"
	CapabilityUnlimitedTools Capability = "unlimited_tools"
)

// CapabilitySet is the set of capabilities granted to the current user.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from names.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether c is granted.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Missing returns the capabilities in want that are not granted, sorted.
func (s CapabilitySet) Missing(want ...Capability) []Capability {
	var missing []Capability
	for _, c := range want {
		if !s.Has(c) && !slices.Contains(missing, c) {
			missing = append(missing, c)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}
