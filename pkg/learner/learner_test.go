package learner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/parkds/hotstuff-bft/pkg/consensus"
	"github.com/parkds/hotstuff-bft/pkg/event"
)

func sigs(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i)}
	}
	return out
}

func signerIDs(n int) []consensus.ID {
	out := make([]consensus.ID, n)
	for i := range out {
		out[i] = consensus.ID(string(rune('A' + i)))
	}
	return out
}

func collectEvents() (event.Emitter, func() []event.Event) {
	var mu sync.Mutex
	var events []event.Event
	emit := func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	return emit, func() []event.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]event.Event, len(events))
		copy(out, events)
		return out
	}
}

func TestFastFiresAtThresholdAndOnlyOnce(t *testing.T) {
	emit, snapshot := collectEvents()
	l := New(Config{Name: "fast", QFast: 4, QCommit: 999}, nil, emit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Run(ctx)

	qc := consensus.QC{BlockID: "b1", View: 1, SignerIDs: signerIDs(4), Signatures: sigs(4)}
	l.Deliver(consensus.QCMsg("R0", qc))
	l.Deliver(consensus.QCMsg("R0", qc)) // duplicate QC must not double-fire

	time.Sleep(20 * time.Millisecond)

	var fastCount int
	for _, e := range snapshot() {
		if e.Type == "LEARNER_FAST" {
			fastCount++
		}
	}
	if fastCount != 1 {
		t.Fatalf("expected exactly one LEARNER_FAST event, got %d", fastCount)
	}
}

func TestBelowThresholdNeverFires(t *testing.T) {
	emit, snapshot := collectEvents()
	l := New(Config{Name: "safe", QFast: 999, QCommit: 5}, nil, emit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Run(ctx)

	qc := consensus.QC{BlockID: "b1", View: 1, SignerIDs: signerIDs(3), Signatures: sigs(3)}
	l.Deliver(consensus.QCMsg("R0", qc))

	time.Sleep(20 * time.Millisecond)

	if len(snapshot()) != 0 {
		t.Fatalf("expected no events below both thresholds, got %v", snapshot())
	}
}

func TestFastSuppressesSafeWhenBothThresholdsCrossedTogether(t *testing.T) {
	emit, snapshot := collectEvents()
	l := New(Config{Name: "mixed", QFast: 4, QCommit: 6}, nil, emit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Run(ctx)

	qc := consensus.QC{BlockID: "b1", View: 1, SignerIDs: signerIDs(6), Signatures: sigs(6)}
	l.Deliver(consensus.QCMsg("R0", qc))

	time.Sleep(20 * time.Millisecond)

	var gotFast, gotSafe bool
	for _, e := range snapshot() {
		switch e.Type {
		case "LEARNER_FAST":
			gotFast = true
		case "LEARNER_SAFE":
			gotSafe = true
		}
	}
	if !gotFast || gotSafe {
		t.Fatalf("expected only LEARNER_FAST when one QC crosses both thresholds, got fast=%v safe=%v", gotFast, gotSafe)
	}
}

func TestSafeFiresWhenThresholdCrossedOnSeparateBlock(t *testing.T) {
	emit, snapshot := collectEvents()
	l := New(Config{Name: "mixed", QFast: 4, QCommit: 6}, nil, emit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Run(ctx)

	qc1 := consensus.QC{BlockID: "b1", View: 1, SignerIDs: signerIDs(4), Signatures: sigs(4)}
	qc2 := consensus.QC{BlockID: "b2", View: 2, SignerIDs: signerIDs(6), Signatures: sigs(6)}
	l.Deliver(consensus.QCMsg("R0", qc1))
	l.Deliver(consensus.QCMsg("R0", qc2))

	time.Sleep(20 * time.Millisecond)

	var gotFast, gotSafe bool
	for _, e := range snapshot() {
		switch e.Type {
		case "LEARNER_FAST":
			gotFast = true
		case "LEARNER_SAFE":
			gotSafe = true
		}
	}
	if !gotFast || !gotSafe {
		t.Fatalf("expected both rules to fire across distinct blocks, got fast=%v safe=%v", gotFast, gotSafe)
	}
}

func TestNonQCMessagesAreIgnored(t *testing.T) {
	emit, snapshot := collectEvents()
	l := New(Config{Name: "fast", QFast: 1, QCommit: 1}, nil, emit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Run(ctx)

	l.Deliver(consensus.ProposeMsg("R0", consensus.Block{ID: "b1"}))
	time.Sleep(10 * time.Millisecond)

	if len(snapshot()) != 0 {
		t.Fatalf("expected PROPOSE messages to be ignored, got %v", snapshot())
	}
}
