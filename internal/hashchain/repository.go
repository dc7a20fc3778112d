package hashchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChain persists the chain in the chain_blocks table. Appends run in
// a transaction so index allocation and the previous-hash link stay
// consistent under concurrent writers.
type PostgresChain struct {
	pool *pgxpool.Pool
}

// NewPostgresChain constructs a durable chain.
func NewPostgresChain(pool *pgxpool.Pool) *PostgresChain {
	return &PostgresChain{pool: pool}
}

// Add appends a block and returns its hash.
func (c *PostgresChain) Add(ctx context.Context, payload any) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return "", fmt.Errorf("hashchain: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var index int64
	prev := GenesisPreviousHash
	err = tx.QueryRow(ctx, `SELECT index, hash FROM chain_blocks ORDER BY index DESC LIMIT 1`).Scan(&index, &prev)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		index = -1
		prev = GenesisPreviousHash
	case err != nil:
		return "", err
	}

	block := Block{
		Index:        index + 1,
		Timestamp:    time.Now().UTC(),
		Payload:      raw,
		PreviousHash: prev,
	}
	if err := seal(&block); err != nil {
		return "", err
	}

	_, err = tx.Exec(ctx, `INSERT INTO chain_blocks (index, at, payload, previous_hash, hash)
VALUES ($1, $2, $3, $4, $5)`, block.Index, block.Timestamp, block.Payload, block.PreviousHash, block.Hash)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("hashchain: commit: %w", err)
	}
	return block.Hash, nil
}

// Verify recomputes every digest and link.
func (c *PostgresChain) Verify(ctx context.Context) (bool, error) {
	rows, err := c.pool.Query(ctx, `SELECT index, at, payload, previous_hash, hash FROM chain_blocks ORDER BY index ASC`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.Index, &b.Timestamp, &b.Payload, &b.PreviousHash, &b.Hash); err != nil {
			return false, err
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return verifyBlocks(blocks)
}

// Latest returns the newest block, or nil when the chain is empty.
func (c *PostgresChain) Latest(ctx context.Context) (*Block, error) {
	var b Block
	err := c.pool.QueryRow(ctx, `SELECT index, at, payload, previous_hash, hash FROM chain_blocks ORDER BY index DESC LIMIT 1`).
		Scan(&b.Index, &b.Timestamp, &b.Payload, &b.PreviousHash, &b.Hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
