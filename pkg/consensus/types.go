// Package consensus implements the HotStuff-derived replica state
// machine: view progression, the safe-voting rule, locked-QC
// discipline, the three-chain commit rule and quorum-certificate
// formation under a Byzantine leader.
package consensus

import (
	"time"

	"github.com/parkds/hotstuff-bft/pkg/crypto"
)

// ID identifies a replica.
type ID string

// View is a monotone round number; the leader of a view is
// determined by modular rotation over the sorted replica id set.
type View uint64

// Height is a monotone block height, 0 at the root.
type Height uint64

// Quorum gives the fault bound f and the derived classical quorum
// size (2f+1), plus any override used for QC formation.
type Quorum struct {
	N int // replica count
	F int // fault bound
	Q int // qc_threshold: votes required to form a QC
}

// Block is a node in the proposed chain. Immutable after creation.
type Block struct {
	Height      Height
	ParentID    string // empty means root (hashed as the literal "None")
	Proposer    ID
	View        View
	Payload     []byte
	JustifyQCID string // empty if none
	TimestampMS int64
	ID          string
}

// HasParent reports whether the block references a predecessor.
func (b Block) HasParent() bool { return b.ParentID != "" }

// NewBlock constructs a block and computes its content-hash identity.
func NewBlock(height Height, parentID string, proposer ID, view View, payload []byte, justifyQCID string, now time.Time) Block {
	b := Block{
		Height:      height,
		ParentID:    parentID,
		Proposer:    proposer,
		View:        view,
		Payload:     payload,
		JustifyQCID: justifyQCID,
		TimestampMS: now.UnixMilli(),
	}
	b.ID = crypto.HashBlockID(uint64(b.Height), b.ParentID, string(b.Proposer), b.Payload, uint64(b.View), b.TimestampMS)
	return b
}

// Vote is an authenticated endorsement of a block at a view.
type Vote struct {
	BlockID string
	Voter   ID
	View    View
	Sig     []byte
}

// Verify reports whether the vote's signature is valid under pub.
func (v Vote) Verify(pub crypto.PublicKey) bool {
	return crypto.Verify(pub, crypto.VoteMessage(v.BlockID, uint64(v.View)), v.Sig)
}

// QC is a quorum certificate: evidence that q distinct voters signed
// the same (block_id, view) pair.
type QC struct {
	BlockID    string
	View       View
	SignerIDs  []ID
	Signatures [][]byte
}

// ID computes the QC's own identity hash.
func (qc QC) ID() string {
	ids := make([]string, len(qc.SignerIDs))
	for i, id := range qc.SignerIDs {
		ids[i] = string(id)
	}
	return crypto.HashQCID(qc.BlockID, ids, uint64(qc.View), qc.Signatures)
}

// Verify reports whether qc carries at least threshold valid
// signatures, each verified under the matching registered public key.
// A QC is valid iff every signature verifies and the signer count
// meets threshold; it does not tolerate any invalid signature, per
// spec.md §4.3 ("Re-verify every signature; drop if fewer than
// qc_threshold valid signatures").
func (qc QC) Verify(pubkeys map[ID]crypto.PublicKey, threshold int) bool {
	if len(qc.SignerIDs) != len(qc.Signatures) {
		return false
	}
	for i, signer := range qc.SignerIDs {
		pub, ok := pubkeys[signer]
		if !ok || !crypto.Verify(pub, crypto.VoteMessage(qc.BlockID, uint64(qc.View)), qc.Signatures[i]) {
			return false
		}
	}
	return len(qc.SignerIDs) >= threshold
}

// BlockStore is the per-replica mapping from block id to block. Entries
// are inserted on first sight and kept indefinitely (no pruning is in
// scope).
type BlockStore interface {
	Put(b Block)
	Get(id string) (Block, bool)
}

// InMemoryBlockStore is the only BlockStore implementation in scope:
// spec.md's Non-goals exclude persistence of the chain.
type InMemoryBlockStore struct {
	blocks map[string]Block
}

// NewInMemoryBlockStore returns an empty store.
func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{blocks: make(map[string]Block)}
}

func (s *InMemoryBlockStore) Put(b Block) { s.blocks[b.ID] = b }

func (s *InMemoryBlockStore) Get(id string) (Block, bool) {
	b, ok := s.blocks[id]
	return b, ok
}
