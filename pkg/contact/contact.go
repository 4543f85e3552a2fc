// Package contact holds the aggregated link state: which peers this statue
// is currently touching, one snapshot per analysis period.
package contact

// Mask is a peer link bitmask. Bit p corresponds to peer slot p: the p-th
// directory entry in order, skipping this node's own entry. The directory has
// at most five statues, so four peer bits always fit.
type Mask uint8

// Set returns the mask with bit p set.
func (m Mask) Set(p int) Mask { return m | Mask(1)<<p }

// Has reports whether bit p is set.
func (m Mask) Has(p int) bool { return m&(Mask(1)<<p) != 0 }

// State is one period's contact snapshot. It is produced by Advance and
// never mutated afterwards; downstream consumers hold it by value.
type State struct {
	Initialized bool // false until the first detection cycle completed
	WasLinked   Mask // previous period's mask
	IsLinked    Mask // current period's mask
}

// Linked reports whether any peer is currently linked.
func (s State) Linked() bool { return s.IsLinked != 0 }

// LinkedTo reports whether the peer at slot p is currently linked.
func (s State) LinkedTo(p int) bool { return s.IsLinked.Has(p) }

// Unchanged reports whether the state survived the last period intact:
// initialized and the mask did not move.
func (s State) Unchanged() bool {
	return s.Initialized && s.IsLinked == s.WasLinked
}

// Advance builds the next snapshot from the previous one and this period's
// per-slot detections. Slots absent from the map read as not linked.
func Advance(prev State, detections map[int]bool) State {
	var mask Mask
	for p, above := range detections {
		if above {
			mask = mask.Set(p)
		}
	}
	return State{
		Initialized: true,
		WasLinked:   prev.IsLinked,
		IsLinked:    mask,
	}
}
