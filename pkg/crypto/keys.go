// Package crypto implements the authentication primitives the replica
// core is built on: Ed25519 keypairs over vote messages, and the
// stable SHA-256 hashing used for block and QC identity.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"
)

// PublicKey and PrivateKey mirror crypto/ed25519's types; circl's
// implementation is API-compatible and is the Ed25519 provider already
// present in the dependency graph.
type PublicKey = ed25519.PublicKey
type PrivateKey = ed25519.PrivateKey

// GenerateKeypair produces a new random Ed25519 keypair.
func GenerateKeypair() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return pub, priv, nil
}

// Sign produces a 64-byte Ed25519 signature over msg.
func Sign(sk PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Verify reports whether sig is a valid Ed25519 signature over msg
// under pk. It never panics: a malformed key or signature length is
// simply treated as a failed verification.
func Verify(pk PublicKey, msg, sig []byte) (ok bool) {
	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return ed25519.Verify(pk, msg, sig)
}

// VoteMessage returns the exact byte string a replica signs when
// voting for (blockID, view): "{block_id}:{view}".
func VoteMessage(blockID string, view uint64) []byte {
	return []byte(fmt.Sprintf("%s:%d", blockID, view))
}

// HashBlockID computes the content hash that identifies a block:
//
//	SHA-256(height ":" parent_id_or_None ":" proposer ":" payload ":" view ":" timestamp)
//
// parentID is the literal string "None" when the block has no parent.
// timestampMillis is the block's creation instant in Unix milliseconds.
func HashBlockID(height uint64, parentID string, proposer string, payload []byte, view uint64, timestampMillis int64) string {
	if parentID == "" {
		parentID = "None"
	}
	s := fmt.Sprintf("%d:%s:%s:%s:%d:%d", height, parentID, proposer, string(payload), view, timestampMillis)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashQCID computes the identity of a quorum certificate:
//
//	SHA-256(block_id || "," joined signer_ids || view_as_decimal_string || concat(signatures))
func HashQCID(blockID string, signerIDs []string, view uint64, signatures [][]byte) string {
	h := sha256.New()
	h.Write([]byte(blockID))
	for i, id := range signerIDs {
		if i > 0 {
			h.Write([]byte(","))
		}
		h.Write([]byte(id))
	}
	h.Write([]byte(fmt.Sprintf("%d", view)))
	for _, sig := range signatures {
		h.Write(sig)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}
