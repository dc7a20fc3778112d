package hashchain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndVerify(t *testing.T) {
	ctx := context.Background()
	chain := NewMemoryChain()

	ok, err := chain.Verify(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	var hashes []string
	for i := 0; i < 5; i++ {
		h, err := chain.Add(ctx, FinalizationPayload{
			AgreementID: "doc-1",
			Files:       []string{"/uploads/documents/a.pdf"},
			Type:        PayloadTypeFinalization,
		})
		require.NoError(t, err)
		require.NotEmpty(t, h)
		hashes = append(hashes, h)
	}

	// Every hash is distinct and the chain verifies.
	seen := map[string]bool{}
	for _, h := range hashes {
		require.False(t, seen[h])
		seen[h] = true
	}
	ok, err = chain.Verify(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLatestLinksToPrevious(t *testing.T) {
	ctx := context.Background()
	chain := NewMemoryChain()

	first, err := chain.Add(ctx, map[string]string{"n": "1"})
	require.NoError(t, err)

	latest, err := chain.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, GenesisPreviousHash, latest.PreviousHash)
	require.Equal(t, first, latest.Hash)

	second, err := chain.Add(ctx, map[string]string{"n": "2"})
	require.NoError(t, err)

	latest, err = chain.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, first, latest.PreviousHash)
	require.Equal(t, second, latest.Hash)
	require.Equal(t, int64(1), latest.Index)
}

func TestVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	chain := NewMemoryChain()

	_, err := chain.Add(ctx, map[string]string{"n": "1"})
	require.NoError(t, err)
	_, err = chain.Add(ctx, map[string]string{"n": "2"})
	require.NoError(t, err)

	chain.tamper(0, json.RawMessage(`{"n":"evil"}`))

	ok, err := chain.Verify(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLatestEmptyChain(t *testing.T) {
	chain := NewMemoryChain()
	latest, err := chain.Latest(context.Background())
	require.NoError(t, err)
	require.Nil(t, latest)
}
