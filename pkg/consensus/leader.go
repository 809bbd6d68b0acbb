package consensus

import "sort"

// SortIDs returns a new, deterministically sorted copy of ids. All
// replicas must agree on this ordering for leader rotation to be
// consistent.
func SortIDs(ids []ID) []ID {
	sorted := make([]ID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

// LeaderRotation picks leader(view) = sortedIDs[view mod n].
type LeaderRotation struct {
	sortedIDs []ID
}

// NewLeaderRotation sorts ids once and rotates over that fixed order.
func NewLeaderRotation(ids []ID) LeaderRotation {
	return LeaderRotation{sortedIDs: SortIDs(ids)}
}

// Leader returns the leader of the given view.
func (r LeaderRotation) Leader(view View) ID {
	n := len(r.sortedIDs)
	if n == 0 {
		return ""
	}
	return r.sortedIDs[uint64(view)%uint64(n)]
}
