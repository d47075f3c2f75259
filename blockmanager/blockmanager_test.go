package blockmanager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mysticeti/blockstore"
	"mysticeti/types"
	"mysticeti/wal"
)

func newManager(t *testing.T) (*BlockManager, *blockstore.BlockStore, *wal.Writer) {
	t.Helper()
	w, err := wal.Open(filepath.Join(t.TempDir(), "test.wal"))
	require.NoError(t, err)
	store, err := blockstore.New(w, 0, 64)
	require.NoError(t, err)
	return New(store), store, w
}

func block(author types.AuthorityIndex, round types.RoundNumber, includes ...types.BlockReference) types.Block {
	b := &types.StatementBlock{
		Reference: types.BlockReference{Authority: author, Round: round},
		Includes:  includes,
	}
	b.Reference.Digest = types.ComputeDigest(b)
	return types.NewBlock(b, types.EncodeBlock(b))
}

func TestAddBlocksWithNoMissingAncestorsReadyImmediately(t *testing.T) {
	m, _, w := newManager(t)
	defer w.Close()

	genesis := block(0, 0)
	processed, err := m.AddBlocks([]types.Block{genesis})
	require.NoError(t, err)
	require.Len(t, processed, 1)
	require.Equal(t, genesis.Reference(), processed[0].Block.Reference())
}

func TestAddBlocksBuffersUntilAncestorArrives(t *testing.T) {
	m, _, w := newManager(t)
	defer w.Close()

	genesis := block(1, 0)
	child := block(1, 1, genesis.Reference())

	// child arrives before its ancestor: it must be buffered, not returned.
	processed, err := m.AddBlocks([]types.Block{child})
	require.NoError(t, err)
	require.Empty(t, processed)
	require.Equal(t, 1, m.PendingCount())
	require.Equal(t, 1, m.MissingCount())

	// once the ancestor arrives, both become ready, genesis before child.
	processed, err = m.AddBlocks([]types.Block{genesis})
	require.NoError(t, err)
	require.Len(t, processed, 2)
	require.Equal(t, genesis.Reference(), processed[0].Block.Reference())
	require.Equal(t, child.Reference(), processed[1].Block.Reference())
	require.Equal(t, 0, m.PendingCount())
	require.Equal(t, 0, m.MissingCount())
}

func TestAddBlocksSameBatchChainResolvesInOneCall(t *testing.T) {
	m, _, w := newManager(t)
	defer w.Close()

	genesis := block(2, 0)
	mid := block(2, 1, genesis.Reference())
	top := block(2, 2, mid.Reference())

	// Delivered out of order, in one batch.
	processed, err := m.AddBlocks([]types.Block{top, genesis, mid})
	require.NoError(t, err)
	require.Len(t, processed, 3)
	require.Equal(t, types.RoundNumber(0), processed[0].Block.Round())
	require.Equal(t, types.RoundNumber(1), processed[1].Block.Round())
	require.Equal(t, types.RoundNumber(2), processed[2].Block.Round())
}

func TestAddBlocksIgnoresDuplicateDelivery(t *testing.T) {
	m, store, w := newManager(t)
	defer w.Close()

	genesis := block(0, 0)
	_, err := m.AddBlocks([]types.Block{genesis})
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	// Redelivering an already-processed block must not write it again or
	// return it a second time.
	processed, err := m.AddBlocks([]types.Block{genesis})
	require.NoError(t, err)
	require.Empty(t, processed)
	require.Equal(t, 1, store.Len())
}
