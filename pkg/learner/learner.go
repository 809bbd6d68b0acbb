// Package learner implements the passive transcript-observer described
// in spec.md §4.4: an endpoint that watches the same QC broadcasts
// replicas exchange and applies its own threshold rule, independent of
// the replica core's three-chain commit logic.
package learner

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/parkds/hotstuff-bft/pkg/consensus"
	"github.com/parkds/hotstuff-bft/pkg/event"
	"github.com/parkds/hotstuff-bft/pkg/mailbox"
)

// Config names a learner and its two independent commit thresholds.
// Either may exceed the replica count to disable that rule.
type Config struct {
	Name    string
	QFast   int
	QCommit int
}

// Learner subscribes to the broadcast stream via its own mailbox and
// records a commit the first time a QC's signer count crosses QFast or
// QCommit. Both rules check the same shared `committed` record, so a
// QC whose signer count crosses both thresholds at once fires only the
// first rule it satisfies (fast before safe), never both. It does not
// verify signatures (replicas already did that) and does not track
// chain structure or the three-chain rule — by design a lightweight
// transcript observer.
type Learner struct {
	cfg  Config
	log  *zap.SugaredLogger
	emit event.Emitter

	mailbox *mailbox.Mailbox[consensus.Message]

	mu        sync.Mutex
	committed map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a learner. Run must be called to start its loop.
func New(cfg Config, log *zap.SugaredLogger, emit event.Emitter) *Learner {
	if emit == nil {
		emit = event.Nop
	}
	return &Learner{
		cfg:       cfg,
		log:       log,
		emit:      emit,
		mailbox:   mailbox.New[consensus.Message](),
		committed: make(map[string]bool),
		stopCh:    make(chan struct{}),
	}
}

// Deliver enqueues an inbound message. It is the sink Learner's owner
// registers with the network.
func (l *Learner) Deliver(msg consensus.Message) { l.mailbox.Push(msg) }

// Run starts the receive loop; it returns when ctx is cancelled or
// Stop is called.
func (l *Learner) Run(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
		case <-l.stopCh:
		}
		l.mailbox.Close()
	}()
	go l.loop(ctx)
}

// Stop signals the receive loop to exit without requiring a shared
// context.
func (l *Learner) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Learner) loop(ctx context.Context) {
	for {
		msg, ok := l.mailbox.Pop()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}
		if msg.Kind != consensus.KindQC {
			continue
		}
		l.onQC(msg.QC)
	}
}

// onQC implements spec.md §4.4: "qc.block_id not yet committed" names
// one shared record, not one per rule. Per
// _examples/original_source/core/learner.py:33-46, the fast check runs
// first and marks the block committed before the safe check runs, so a
// QC whose signer count crosses both QFast and QCommit in the same
// delivery fires only LEARNER_FAST.
func (l *Learner) onQC(qc consensus.QC) {
	count := len(qc.SignerIDs)

	l.mu.Lock()
	fastFire := count >= l.cfg.QFast && !l.committed[qc.BlockID]
	if fastFire {
		l.committed[qc.BlockID] = true
	}
	safeFire := count >= l.cfg.QCommit && !l.committed[qc.BlockID]
	if safeFire {
		l.committed[qc.BlockID] = true
	}
	l.mu.Unlock()

	if fastFire {
		l.emitEvent("LEARNER_FAST", "block_id", qc.BlockID, "view", qc.View, "sig_count", count)
	}
	if safeFire {
		l.emitEvent("LEARNER_SAFE", "block_id", qc.BlockID, "view", qc.View, "sig_count", count)
	}
}

func (l *Learner) emitEvent(typ string, kv ...any) {
	fields := append([]any{"learner", l.cfg.Name}, kv...)
	if l.log != nil {
		l.log.Infow(typ, fields...)
	}
	l.emit(event.New(typ, "learner", fields...))
}
