package consensus

import (
	"sync"
	"testing"
	"time"

	"github.com/parkds/hotstuff-bft/pkg/util"
)

func TestLeaderRotationIsDeterministicAndSorted(t *testing.T) {
	r := NewLeaderRotation([]ID{"R3", "R1", "R0", "R2"})
	want := []ID{"R0", "R1", "R2", "R3"}
	for v := View(0); v < 8; v++ {
		got := r.Leader(v)
		exp := want[uint64(v)%uint64(len(want))]
		if got != exp {
			t.Fatalf("Leader(%d) = %s, want %s", v, got, exp)
		}
	}
}

func TestLeaderRotationEmptySet(t *testing.T) {
	r := NewLeaderRotation(nil)
	if got := r.Leader(5); got != "" {
		t.Fatalf("Leader on empty set = %q, want empty", got)
	}
}

func TestExtendsLockedWithNoLock(t *testing.T) {
	l := &LockState{}
	store := NewInMemoryBlockStore()
	b := NewBlock(0, "", "R0", 0, nil, "", time.Now())
	if !l.ExtendsLocked(b, store) {
		t.Fatal("every block extends the lock when none is set")
	}
}

func TestExtendsLockedWalksAncestry(t *testing.T) {
	store := NewInMemoryBlockStore()
	root := NewBlock(0, "", "R0", 0, nil, "", time.Now())
	mid := NewBlock(1, root.ID, "R0", 1, nil, "", time.Now())
	tip := NewBlock(2, mid.ID, "R0", 2, nil, "", time.Now())
	store.Put(root)
	store.Put(mid)
	store.Put(tip)

	l := &LockState{LockedQC: &QC{BlockID: root.ID}}
	if !l.ExtendsLocked(tip, store) {
		t.Fatal("tip should extend the lock through mid and root")
	}

	unrelated := NewBlock(1, "", "R1", 1, []byte("other"), "", time.Now())
	store.Put(unrelated)
	if l.ExtendsLocked(unrelated, store) {
		t.Fatal("a block with no ancestry to the locked block must not extend it")
	}
}

func TestExtendsLockedMissingAncestorFails(t *testing.T) {
	store := NewInMemoryBlockStore()
	orphan := NewBlock(5, "missing-parent", "R0", 5, nil, "", time.Now())
	l := &LockState{LockedQC: &QC{BlockID: "some-locked-block"}}
	if l.ExtendsLocked(orphan, store) {
		t.Fatal("a block whose ancestry cannot be resolved must not extend the lock")
	}
}

func TestAdoptQCIsUnconditional(t *testing.T) {
	l := &LockState{}
	l.AdoptQC(QC{BlockID: "a", View: 5})
	l.AdoptQC(QC{BlockID: "b", View: 1}) // lower view, still adopted per spec.md §4.3/§9
	if l.HighQC == nil || l.HighQC.BlockID != "b" {
		t.Fatalf("AdoptQC must adopt unconditionally, got %+v", l.HighQC)
	}
}

func TestAdoptHighestViewQCRejectsLowerView(t *testing.T) {
	l := &LockState{}
	l.AdoptHighestViewQC(QC{BlockID: "a", View: 5})
	l.AdoptHighestViewQC(QC{BlockID: "b", View: 1})
	if l.HighQC == nil || l.HighQC.BlockID != "a" {
		t.Fatalf("AdoptHighestViewQC must keep the higher-view QC, got %+v", l.HighQC)
	}
}

func TestPacemakerFiresAfterTimeout(t *testing.T) {
	pm := NewPacemaker(util.RealClock{}, 10*time.Millisecond)
	var mu sync.Mutex
	var fired View
	done := make(chan struct{})
	pm.Schedule(View(7), func(v View) {
		mu.Lock()
		fired = v
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("pacemaker did not fire in time")
	}
	mu.Lock()
	defer mu.Unlock()
	if fired != 7 {
		t.Fatalf("onFire called with view %d, want 7", fired)
	}
}

func TestPacemakerRescheduleCancelsPrior(t *testing.T) {
	pm := NewPacemaker(util.RealClock{}, 10*time.Millisecond)
	var mu sync.Mutex
	var calls int
	pm.Schedule(View(1), func(View) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	// Immediately supersede before the first timer can fire.
	done := make(chan struct{})
	pm.Schedule(View(2), func(v View) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("second schedule never fired")
	}
	time.Sleep(20 * time.Millisecond) // let any stale firing (incorrectly) land

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one firing after reschedule cancelled the prior timer, got %d", calls)
	}
}

func TestPacemakerStopPreventsFiring(t *testing.T) {
	pm := NewPacemaker(util.RealClock{}, 10*time.Millisecond)
	var mu sync.Mutex
	fired := false
	pm.Schedule(View(1), func(View) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	pm.Stop()
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("Stop should prevent the pending timer from firing")
	}
}
