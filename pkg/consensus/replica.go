package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parkds/hotstuff-bft/pkg/crypto"
	"github.com/parkds/hotstuff-bft/pkg/event"
	"github.com/parkds/hotstuff-bft/pkg/mailbox"
	"github.com/parkds/hotstuff-bft/pkg/util"
)

// Sender is the outbound half of the network a Replica needs: unicast
// and broadcast. SimulatedNetwork satisfies this; Replica never needs
// Register/Unregister, so the interface lives here rather than forcing
// an import of pkg/network (which already imports pkg/consensus).
type Sender interface {
	Send(src, dst ID, msg Message)
	Broadcast(src ID, msg Message)
}

// Config parameterizes one Replica instance. AllIDs and Pubkeys must
// agree across every replica in a run; QCThreshold defaults to 2F+1
// when left at zero.
type Config struct {
	Self    ID
	AllIDs  []ID
	Pubkeys map[ID]crypto.PublicKey
	Secret  crypto.PrivateKey

	F           int
	QCThreshold int

	IsByzantine bool
	IsABC       bool

	ProposeInterval time.Duration
	ViewTimeout     time.Duration

	// VerboseLogging gates Debug-level chatter (vote_sent/vote_rcvd);
	// Commit and Error events always log.
	VerboseLogging bool
}

func (c Config) qcThreshold() int {
	if c.QCThreshold > 0 {
		return c.QCThreshold
	}
	return 2*c.F + 1
}

// Replica is the HotStuff-derived consensus state machine described in
// spec.md §4.3: a proposer loop, a message handler dispatching on
// PROPOSE/VOTE/QC/NEWVIEW, vote aggregation, and the three-chain
// commit rule. Each instance owns its state exclusively; the message
// loop and the propose loop are the two goroutines that touch it, so
// access is serialized by mu rather than by true single-threaded
// ownership (spec.md §5's "owns its state exclusively and cannot be
// entered concurrently" is honored at the boundary of every exported
// operation, not by refusing concurrent goroutines outright).
type Replica struct {
	cfg      Config
	rotation LeaderRotation
	net      Sender
	clock    util.Clock
	pm       *Pacemaker
	log      *zap.SugaredLogger
	emit     event.Emitter

	mailbox *mailbox.Mailbox[Message]

	mu             sync.Mutex
	store          BlockStore
	insertOrder    []string
	lock           LockState
	currentView    View
	votedInView    map[View]string
	votesCollected map[string][]Vote
	committed      map[string]bool
	newViewBuffer  map[View][]QC

	stopOnce sync.Once
	stopCh   chan struct{}
}

// genesisBlock is the deterministic root every honest replica inserts
// at construction, so all replicas start with the same highest-height
// block known locally.
func genesisBlock() Block {
	return NewBlock(0, "", "genesis", 0, nil, "", time.UnixMilli(0))
}

// New constructs a replica. Run must be called to start its loops.
func New(cfg Config, net Sender, clock util.Clock, log *zap.SugaredLogger, emit event.Emitter) *Replica {
	if emit == nil {
		emit = event.Nop
	}
	r := &Replica{
		cfg:            cfg,
		rotation:       NewLeaderRotation(cfg.AllIDs),
		net:            net,
		clock:          clock,
		pm:             NewPacemaker(clock, cfg.ViewTimeout),
		log:            log,
		emit:           emit,
		mailbox:        mailbox.New[Message](),
		store:          NewInMemoryBlockStore(),
		votedInView:    make(map[View]string),
		votesCollected: make(map[string][]Vote),
		committed:      make(map[string]bool),
		newViewBuffer:  make(map[View][]QC),
		stopCh:         make(chan struct{}),
	}
	r.insertBlockLocked(genesisBlock())
	return r
}

// Deliver enqueues an inbound message. It is the sink Replica's owner
// registers with the network.
func (r *Replica) Deliver(msg Message) { r.mailbox.Push(msg) }

// Run starts the message-processing loop and the propose loop; both
// return when ctx is cancelled or Stop is called.
func (r *Replica) Run(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
		case <-r.stopCh:
		}
		r.mailbox.Close()
		r.pm.Stop()
	}()

	r.mu.Lock()
	view := r.currentView
	r.mu.Unlock()
	r.pm.Schedule(view, r.onViewTimeout)

	go r.processLoop(ctx)
	go r.proposeLoop(ctx)
}

// Stop signals both loops to exit without requiring a shared context.
func (r *Replica) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Replica) processLoop(ctx context.Context) {
	for {
		msg, ok := r.mailbox.Pop()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}
		r.handleRecovered(msg)
	}
}

// handleRecovered isolates one message's handling so a panic surfaces
// as an ERROR event instead of killing the loop (spec.md §7: "Handler
// exceptions — caught at the replica's message-loop boundary,
// surfaced as ERROR, loop continues").
func (r *Replica) handleRecovered(msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.emitError(fmt.Sprintf("handler panic: %v", rec))
		}
	}()
	switch msg.Kind {
	case KindPropose:
		r.onPropose(msg.Block)
	case KindVote:
		r.onVote(msg.Vote)
	case KindQC:
		r.onQC(msg.QC)
	case KindNewView:
		r.onNewView(msg.From, msg.NewView)
	default:
		r.emitError(fmt.Sprintf("unknown message kind %d from %s", msg.Kind, msg.From))
	}
}

func (r *Replica) proposeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-r.clock.After(r.cfg.ProposeInterval):
		}
		r.maybePropose()
	}
}

// insertBlockLocked inserts b if unseen, tracking first-insertion order
// for the propose loop's tie-break rule. Caller holds mu.
func (r *Replica) insertBlockLocked(b Block) {
	if _, exists := r.store.Get(b.ID); exists {
		return
	}
	r.store.Put(b)
	r.insertOrder = append(r.insertOrder, b.ID)
}

// highestKnownLocked returns the highest-height block known locally,
// ties broken by first insertion (spec.md §4.3 step 1).
func (r *Replica) highestKnownLocked() Block {
	best, _ := r.store.Get(r.insertOrder[0])
	for _, id := range r.insertOrder[1:] {
		b, ok := r.store.Get(id)
		if ok && b.Height > best.Height {
			best = b
		}
	}
	return best
}

func (r *Replica) buildPayload() []byte {
	return []byte(fmt.Sprintf("%s@%d", r.cfg.Self, r.clock.Now().UnixNano()))
}

// maybePropose runs one propose-loop tick (spec.md §4.3 "Propose
// loop"): if this replica leads current_view, it selects a parent,
// builds a candidate, rebuilds on the locked block if the candidate
// fails ExtendsLocked, then inserts and broadcasts.
func (r *Replica) maybePropose() {
	r.mu.Lock()
	view := r.currentView
	if r.rotation.Leader(view) != r.cfg.Self {
		r.mu.Unlock()
		return
	}
	block := r.buildCandidateLocked(view, r.buildPayload())

	var second Block
	haveSecond := false
	if r.cfg.IsByzantine {
		// Built from the same pre-insertion parent as block, so both
		// equivocated blocks are siblings at the same height rather
		// than one chaining onto the other.
		second = r.buildCandidateLocked(view, append(r.buildPayload(), '!'))
		haveSecond = true
	}
	r.insertBlockLocked(block)
	if haveSecond {
		r.insertBlockLocked(second)
	}
	r.mu.Unlock()

	r.emitEvent("PROPOSED", "block_id", block.ID, "height", block.Height, "view", block.View)
	r.net.Broadcast(r.cfg.Self, ProposeMsg(r.cfg.Self, block))

	if haveSecond {
		r.emitEvent("PROPOSED", "block_id", second.ID, "height", second.Height, "view", second.View)
		r.net.Broadcast(r.cfg.Self, ProposeMsg(r.cfg.Self, second))
	}
}

// buildCandidateLocked builds a block extending the best known parent,
// rebuilding on the locked block if the candidate fails the
// lock-safety check. Caller holds mu.
func (r *Replica) buildCandidateLocked(view View, payload []byte) Block {
	parent := r.highestKnownLocked()
	justify := ""
	if r.lock.HighQC != nil {
		justify = r.lock.HighQC.ID()
	}
	candidate := NewBlock(parent.Height+1, parent.ID, r.cfg.Self, view, payload, justify, r.clock.Now())
	if r.lock.ExtendsLocked(candidate, r.store) {
		return candidate
	}
	lockedBlock, ok := r.store.Get(r.lock.LockedQC.BlockID)
	if !ok {
		return candidate
	}
	return NewBlock(lockedBlock.Height+1, lockedBlock.ID, r.cfg.Self, view, payload, justify, r.clock.Now())
}

// onPropose implements spec.md §4.3 "Receive PROPOSE".
func (r *Replica) onPropose(block Block) {
	r.mu.Lock()
	r.insertBlockLocked(block)

	if _, voted := r.votedInView[block.View]; voted {
		r.mu.Unlock()
		return
	}
	if !r.lock.ExtendsLocked(block, r.store) {
		r.mu.Unlock()
		return
	}

	sig := crypto.Sign(r.cfg.Secret, crypto.VoteMessage(block.ID, uint64(block.View)))
	vote := Vote{BlockID: block.ID, Voter: r.cfg.Self, View: block.View, Sig: sig}
	r.votedInView[block.View] = block.ID
	leader := r.rotation.Leader(block.View)
	r.mu.Unlock()

	r.emitDebug("VOTE_SENT", "block_id", block.ID, "view", block.View)
	r.net.Send(r.cfg.Self, leader, VoteMsg(r.cfg.Self, vote))
}

// onVote implements spec.md §4.3 "Receive VOTE".
func (r *Replica) onVote(vote Vote) {
	r.mu.Lock()
	if r.rotation.Leader(vote.View) != r.cfg.Self {
		r.mu.Unlock()
		return
	}
	pub, ok := r.cfg.Pubkeys[vote.Voter]
	if !ok || !vote.Verify(pub) {
		r.mu.Unlock()
		r.emitError(fmt.Sprintf("invalid vote signature from %s for block %s", vote.Voter, vote.BlockID))
		return
	}
	existing := r.votesCollected[vote.BlockID]
	for _, v := range existing {
		if v.Voter == vote.Voter {
			r.mu.Unlock()
			return
		}
	}
	existing = append(existing, vote)
	r.votesCollected[vote.BlockID] = existing
	count := len(existing)
	threshold := r.cfg.qcThreshold()
	r.mu.Unlock()

	r.emitDebug("VOTE_RCVD", "block_id", vote.BlockID, "view", vote.View, "count", count)
	if count >= threshold {
		r.formQC(vote.BlockID, vote.View, existing)
	}
}

// formQC aggregates the collected votes into a QC once threshold is
// reached, then runs the rest of spec.md §4.3's VOTE-handling tail:
// broadcast, high_qc/locked_qc update, view advance, timer reschedule.
func (r *Replica) formQC(blockID string, view View, votes []Vote) {
	signerIDs := make([]ID, len(votes))
	sigs := make([][]byte, len(votes))
	for i, v := range votes {
		signerIDs[i] = v.Voter
		sigs[i] = v.Sig
	}
	qc := QC{BlockID: blockID, View: view, SignerIDs: signerIDs, Signatures: sigs}

	r.mu.Lock()
	if _, pending := r.votesCollected[blockID]; !pending {
		r.mu.Unlock() // already formed and discarded
		return
	}
	delete(r.votesCollected, blockID)
	r.lock.AdoptQC(qc)

	if block, ok := r.store.Get(blockID); ok && block.HasParent() {
		lockedQC := QC{BlockID: block.ParentID, View: view, SignerIDs: signerIDs, Signatures: sigs}
		r.lock.Lock(lockedQC)
	}
	r.currentView++
	newView := r.currentView
	r.mu.Unlock()

	r.emitEvent("QC_FORMED", "block_id", blockID, "view", view, "sig_count", len(votes))
	r.net.Broadcast(r.cfg.Self, QCMsg(r.cfg.Self, qc))
	r.pm.Schedule(newView, r.onViewTimeout)
}

// onQC implements spec.md §4.3 "Receive QC": re-verification, high_qc
// adoption, and the three-chain commit rule.
func (r *Replica) onQC(qc QC) {
	if !qc.Verify(r.cfg.Pubkeys, r.cfg.qcThreshold()) {
		return
	}

	r.mu.Lock()
	r.lock.AdoptQC(qc)

	block, ok := r.store.Get(qc.BlockID)
	if !ok || !block.HasParent() {
		r.mu.Unlock()
		return
	}
	parent, ok := r.store.Get(block.ParentID)
	if !ok || !parent.HasParent() {
		r.mu.Unlock()
		return
	}
	grandparent, ok := r.store.Get(parent.ParentID)
	if !ok || r.committed[grandparent.ID] {
		r.mu.Unlock()
		return
	}
	r.committed[grandparent.ID] = true
	r.mu.Unlock()

	r.emitEvent("COMMIT", "block_id", grandparent.ID, "height", grandparent.Height, "proposer", grandparent.Proposer)
}

// onViewTimeout fires when the pacemaker expires with no subsequent
// view advance (spec.md §4.3 "View timeout").
func (r *Replica) onViewTimeout(view View) {
	r.mu.Lock()
	if r.currentView != view {
		r.mu.Unlock()
		return
	}
	highQC := r.lock.HighQC
	r.mu.Unlock()

	r.emitEvent("TIMEOUT", "view", view)
	r.net.Broadcast(r.cfg.Self, NewViewMsg(r.cfg.Self, view, highQC))
}

// onNewView implements spec.md §4.3 "Receive NEWVIEW".
func (r *Replica) onNewView(_ ID, nv NewView) {
	r.mu.Lock()
	if nv.HighQC != nil {
		r.newViewBuffer[nv.View] = append(r.newViewBuffer[nv.View], *nv.HighQC)
	}

	if r.rotation.Leader(nv.View+1) != r.cfg.Self {
		r.mu.Unlock()
		return
	}
	buf := r.newViewBuffer[nv.View]
	if len(buf) > 0 {
		best := buf[0]
		for _, qc := range buf[1:] {
			if qc.View > best.View {
				best = qc
			}
		}
		r.lock.HighQC = &best
		if _, ok := r.store.Get(best.BlockID); ok {
			r.lock.Lock(best)
		}
	}

	if r.currentView <= nv.View {
		r.currentView = nv.View + 1
		newView := r.currentView
		r.mu.Unlock()
		r.pm.Schedule(newView, r.onViewTimeout)
		return
	}
	r.mu.Unlock()
}

func (r *Replica) emitError(msg string) {
	if r.log != nil {
		r.log.Warnw("replica error", "replica", r.cfg.Self, "error", msg)
	}
	r.emit(event.New("ERROR", "replica", "replica", string(r.cfg.Self), "error", msg))
}

func (r *Replica) emitEvent(typ string, kv ...any) {
	fields := append([]any{"replica", string(r.cfg.Self)}, kv...)
	if r.log != nil {
		r.log.Infow(typ, fields...)
	}
	r.emit(event.New(typ, "replica", fields...))
}

func (r *Replica) emitDebug(typ string, kv ...any) {
	fields := append([]any{"replica", string(r.cfg.Self)}, kv...)
	if r.log != nil && r.cfg.VerboseLogging {
		r.log.Debugw(typ, fields...)
	}
	r.emit(event.New(typ, "replica", fields...))
}
