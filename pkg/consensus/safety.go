package consensus

// maxLockWalk bounds the ancestor walk used to check whether a block
// extends the locked QC (spec.md §4.3: "walking parents up to a
// bounded depth, say 1000").
const maxLockWalk = 1000

// LockState holds the two QCs that give a replica its safety
// discipline: the highest-view QC observed (used to justify
// proposals) and the QC on the block the replica must extend to vote
// safely.
type LockState struct {
	HighQC   *QC
	LockedQC *QC
}

// ExtendsLocked reports whether block extends the locked block, i.e.
// the locked block lies on block's ancestor chain. With no locked QC
// yet, every block is safe to vote for.
func (l *LockState) ExtendsLocked(block Block, store BlockStore) bool {
	if l.LockedQC == nil {
		return true
	}
	target := l.LockedQC.BlockID
	cur := block
	for steps := 0; steps < maxLockWalk; steps++ {
		if cur.ID == target {
			return true
		}
		if !cur.HasParent() {
			return false
		}
		parent, ok := store.Get(cur.ParentID)
		if !ok {
			return false
		}
		cur = parent
	}
	return false
}

// AdoptQC updates HighQC unconditionally, as spec.md §4.3 and §9
// specify ("on_qc adopts any valid QC as high_qc unconditionally,
// rather than keeping the highest-view"). AdoptHighestViewQC below is
// the stricter alternative named as configurable in spec.md §9.
func (l *LockState) AdoptQC(qc QC) {
	l.HighQC = &qc
}

// AdoptHighestViewQC only replaces HighQC when qc's view is not lower
// than the current one. This is the stricter HotStuff-faithful policy
// spec.md §9 flags as an alternative; it is exposed so both can be
// exercised by tests, per that open question.
func (l *LockState) AdoptHighestViewQC(qc QC) {
	if l.HighQC == nil || qc.View >= l.HighQC.View {
		l.HighQC = &qc
	}
}

// Lock sets the locked QC, per the view-change / QC-formation
// discipline described in spec.md §4.3 and §9 (the "locked on parent
// id at this view" approximation).
func (l *LockState) Lock(qc QC) {
	l.LockedQC = &qc
}
