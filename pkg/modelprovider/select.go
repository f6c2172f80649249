package modelprovider

import (
	"fmt"
	"sort"
)

// Select returns a non-empty ordered chain of entries satisfying
// requirement, available, ordered by the caller's preference list first
// and then alphabetically by name for determinism, ending in the
// registry's safe default (spec §4.2: "the chain MUST end in an
// always-available fallback entry"). It fails only if no safe default has
// been registered.
func (r *Registry) Select(requirement Capability, preference []string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.safeDefault == "" {
		return nil, fmt.Errorf("model provider registry has no safe default registered")
	}

	prefRank := make(map[string]int, len(preference))
	for i, name := range preference {
		prefRank[name] = i
	}

	var candidates []Entry
	for name, e := range r.entries {
		if name == r.safeDefault {
			continue
		}
		if !e.Available() {
			continue
		}
		if requirement != "" && !e.HasCapability(requirement) {
			continue
		}
		candidates = append(candidates, e)
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri, iok := prefRank[candidates[i].Name]
		rj, jok := prefRank[candidates[j].Name]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return candidates[i].Name < candidates[j].Name
		}
	})

	safe := r.entries[r.safeDefault]
	chain := make([]Entry, 0, len(candidates)+1)
	chain = append(chain, candidates...)
	chain = append(chain, safe)
	return chain, nil
}
