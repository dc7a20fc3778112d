package hashchain

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryChain keeps the chain in process memory. Used by tests and as a
// fallback when no durable store is configured.
type MemoryChain struct {
	mu     sync.Mutex
	blocks []Block
}

// NewMemoryChain constructs an empty in-memory chain.
func NewMemoryChain() *MemoryChain {
	return &MemoryChain{}
}

// Add appends a block and returns its hash.
func (c *MemoryChain) Add(_ context.Context, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := GenesisPreviousHash
	if n := len(c.blocks); n > 0 {
		prev = c.blocks[n-1].Hash
	}
	block := Block{
		Index:        int64(len(c.blocks)),
		Timestamp:    time.Now().UTC(),
		Payload:      raw,
		PreviousHash: prev,
	}
	if err := seal(&block); err != nil {
		return "", err
	}
	c.blocks = append(c.blocks, block)
	return block.Hash, nil
}

// Verify checks hashes and links over the whole chain.
func (c *MemoryChain) Verify(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return verifyBlocks(c.blocks)
}

// Latest returns the newest block, or nil when the chain is empty.
func (c *MemoryChain) Latest(_ context.Context) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) == 0 {
		return nil, nil
	}
	b := c.blocks[len(c.blocks)-1]
	return &b, nil
}

// tamper mutates a stored payload out-of-band. Test hook.
func (c *MemoryChain) tamper(index int, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[index].Payload = payload
}
