package dispatch

import (
	"sort"
	"sync"

	"kestrel/internal/rule"
)

// Index maps (device, sensor) pairs to the enabled rules that reference
// them in a trigger. Lookups happen on every telemetry event, so the whole
// index is swapped under a write lock and read with RLock.
type Index struct {
	mu    sync.RWMutex
	pairs map[string]map[string]struct{}
}

func NewIndex() *Index {
	return &Index{pairs: make(map[string]map[string]struct{})}
}

func pairKey(deviceID, sensorID string) string {
	return deviceID + "\x00" + sensorID
}

// Rebuild replaces the index contents from the given rule set. Disabled
// rules are skipped; they never receive evaluations.
func (idx *Index) Rebuild(rules []rule.Rule) {
	pairs := make(map[string]map[string]struct{})
	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}
		for _, trigger := range r.Triggers {
			for _, deviceID := range trigger.DeviceIDs {
				for _, cond := range trigger.Conditions {
					k := pairKey(deviceID, cond.SensorID)
					set, ok := pairs[k]
					if !ok {
						set = make(map[string]struct{})
						pairs[k] = set
					}
					set[r.ID] = struct{}{}
				}
			}
		}
	}

	idx.mu.Lock()
	idx.pairs = pairs
	idx.mu.Unlock()
}

// Match returns the IDs of enabled rules referencing the pair, each at
// most once, in stable order.
func (idx *Index) Match(deviceID, sensorID string) []string {
	idx.mu.RLock()
	set := idx.pairs[pairKey(deviceID, sensorID)]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	idx.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
