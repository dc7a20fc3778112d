// Package hashchain implements an append-only, link-verifiable audit log.
// It provides tamper-evidence, not tamper-proofing: there is no external
// anchoring.
package hashchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// GenesisPreviousHash is the previous_hash of the genesis block.
const GenesisPreviousHash = "0"

// Block is one chain entry. Hash covers the block with PreviousHash already
// set and Hash empty.
type Block struct {
	Index        int64           `json:"index"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
	PreviousHash string          `json:"previous_hash"`
	Hash         string          `json:"hash,omitempty"`
}

// Chain is the injected append-only store abstraction. One instance exists
// per process and is passed by reference to the finalization pipeline.
type Chain interface {
	// Add appends a block carrying payload and returns the new block's hash.
	Add(ctx context.Context, payload any) (string, error)
	// Verify walks the chain and reports whether every stored hash matches a
	// recomputed digest and every previous_hash link matches the prior block.
	Verify(ctx context.Context) (bool, error)
	// Latest returns the newest block, or nil for an empty chain.
	Latest(ctx context.Context) (*Block, error)
}

// digest computes the canonical hash of a block: sha256 over the JSON
// serialization with the hash field omitted. encoding/json emits struct
// fields in declaration order, which fixes the canonical form.
func digest(b Block) (string, error) {
	b.Hash = ""
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// seal fills in the hash of a block whose other fields are set.
func seal(b *Block) error {
	h, err := digest(*b)
	if err != nil {
		return err
	}
	b.Hash = h
	return nil
}

// verifyBlocks checks hashes and links over an ordered block slice.
func verifyBlocks(blocks []Block) (bool, error) {
	for i, b := range blocks {
		recomputed, err := digest(b)
		if err != nil {
			return false, err
		}
		if b.Hash != recomputed {
			return false, nil
		}
		if i == 0 {
			if b.PreviousHash != GenesisPreviousHash {
				return false, nil
			}
			continue
		}
		if b.PreviousHash != blocks[i-1].Hash {
			return false, nil
		}
	}
	return true, nil
}
