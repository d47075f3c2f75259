package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mysticeti/types"
	"mysticeti/wal"
)

func newTestStore(t *testing.T, self types.AuthorityIndex) (*BlockStore, *wal.Writer) {
	t.Helper()
	w, err := wal.Open(filepath.Join(t.TempDir(), "test.wal"))
	require.NoError(t, err)
	s, err := New(w, self, 64)
	require.NoError(t, err)
	return s, w
}

func makeBlock(author types.AuthorityIndex, round types.RoundNumber, salt byte) types.Block {
	b := &types.StatementBlock{
		Reference: types.BlockReference{Authority: author, Round: round},
		Statements: []types.BaseStatement{
			types.NewShare(types.Transaction([]byte{salt})),
		},
	}
	b.Reference.Digest = types.ComputeDigest(b)
	raw := types.EncodeBlock(b)
	return types.NewBlock(b, raw)
}

func TestInsertAndGetBlock(t *testing.T) {
	s, w := newTestStore(t, 0)
	defer w.Close()

	blk := makeBlock(1, 3, 0xAA)
	pos, err := s.InsertBlock(blk)
	require.NoError(t, err)

	got, ok, err := s.GetBlock(blk.Reference())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blk.Reference(), got.Reference())

	// Idempotent: inserting again returns the same position, no new write.
	pos2, err := s.InsertBlock(blk)
	require.NoError(t, err)
	require.Equal(t, pos, pos2)
}

func TestGetBlockMissing(t *testing.T) {
	s, w := newTestStore(t, 0)
	defer w.Close()

	_, ok, err := s.GetBlock(types.BlockReference{Authority: 9, Round: 1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExistsAndEnumerateByAuthor(t *testing.T) {
	s, w := newTestStore(t, 0)
	defer w.Close()

	b1 := makeBlock(2, 1, 1)
	b2 := makeBlock(2, 2, 2)
	b3 := makeBlock(2, 3, 3)
	for _, b := range []types.Block{b1, b2, b3} {
		_, err := s.InsertBlock(b)
		require.NoError(t, err)
	}

	require.True(t, s.Exists(2, 2))
	require.False(t, s.Exists(2, 5))
	require.False(t, s.Exists(3, 1))

	refs := s.BlocksByAuthorFromRound(2, 2)
	require.Len(t, refs, 2)
	require.Equal(t, types.RoundNumber(2), refs[0].Round)
	require.Equal(t, types.RoundNumber(3), refs[1].Round)
}

func TestOwnBlocksFromRound(t *testing.T) {
	s, w := newTestStore(t, 5)
	defer w.Close()

	_, err := s.InsertBlock(makeBlock(5, 1, 1))
	require.NoError(t, err)
	_, err = s.InsertBlock(makeBlock(5, 2, 2))
	require.NoError(t, err)
	_, err = s.InsertBlock(makeBlock(7, 2, 3)) // not self, must not appear
	require.NoError(t, err)

	own := s.OwnBlocksFromRound(0)
	require.Len(t, own, 2)
	require.Equal(t, types.RoundNumber(1), own[0].Round)
	require.Equal(t, types.RoundNumber(2), own[1].Round)

	own = s.OwnBlocksFromRound(2)
	require.Len(t, own, 1)
}

func TestIndexRecoveredDoesNotDuplicate(t *testing.T) {
	s, w := newTestStore(t, 0)
	defer w.Close()

	blk := makeBlock(1, 1, 9)
	s.IndexRecovered(blk, types.WalPosition(42))
	s.IndexRecovered(blk, types.WalPosition(99))

	require.Equal(t, 1, s.Len())
}

func TestDebugMemSize(t *testing.T) {
	s, w := newTestStore(t, 0)
	defer w.Close()
	_, err := s.InsertBlock(makeBlock(1, 1, 1))
	require.NoError(t, err)
	require.NotEmpty(t, s.DebugMemSize())
}

func TestInsertOwnBlockRoundTripsThroughCacheAndReload(t *testing.T) {
	s, w := newTestStore(t, 5)
	defer w.Close()

	blk := makeBlock(5, 1, 0x11)
	pos, err := s.InsertOwnBlock(blk, types.MaxWalPosition)
	require.NoError(t, err)

	got, ok, err := s.GetBlock(blk.Reference())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blk.Reference(), got.Reference())

	own := s.OwnBlocksFromRound(0)
	require.Len(t, own, 1)
	require.Equal(t, blk.Reference(), own[0])

	// Force a cache miss by constructing a fresh store view over the same
	// WAL position, exercising GetBlock's TagOwnBlock decode path.
	s2, err := New(w, 5, 64)
	require.NoError(t, err)
	s2.index[blk.Reference()] = pos
	s2.byAuthor[blk.Author()] = map[types.RoundNumber][]types.BlockReference{blk.Round(): {blk.Reference()}}
	got2, ok, err := s2.GetBlock(blk.Reference())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blk.Reference(), got2.Reference())
}

func TestBlocksAtRound(t *testing.T) {
	s, w := newTestStore(t, 0)
	defer w.Close()

	_, err := s.InsertBlock(makeBlock(0, 3, 1))
	require.NoError(t, err)
	_, err = s.InsertBlock(makeBlock(1, 3, 2))
	require.NoError(t, err)
	_, err = s.InsertBlock(makeBlock(2, 4, 3))
	require.NoError(t, err)

	refs := s.BlocksAtRound(3)
	require.Len(t, refs, 2)
	require.Equal(t, types.AuthorityIndex(0), refs[0].Authority)
	require.Equal(t, types.AuthorityIndex(1), refs[1].Authority)
}

func TestGetOwnBlocksStrictlyAfterFromRoundAndCapped(t *testing.T) {
	s, w := newTestStore(t, 5)
	defer w.Close()

	for _, r := range []types.RoundNumber{1, 2, 3} {
		_, err := s.InsertBlock(makeBlock(5, r, byte(r)))
		require.NoError(t, err)
	}

	blocks, err := s.GetOwnBlocks(1, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, types.RoundNumber(2), blocks[0].Round())
	require.Equal(t, types.RoundNumber(3), blocks[1].Round())

	capped, err := s.GetOwnBlocks(0, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	require.Equal(t, types.RoundNumber(1), capped[0].Round())

	// fromRound == the latest round returns nothing: strictly greater than.
	none, err := s.GetOwnBlocks(3, 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestGetOthersBlocksExcludesSelfAndOtherAuthors(t *testing.T) {
	s, w := newTestStore(t, 0)
	defer w.Close()

	_, err := s.InsertBlock(makeBlock(0, 1, 1)) // self, must never come back
	require.NoError(t, err)
	_, err = s.InsertBlock(makeBlock(1, 1, 2))
	require.NoError(t, err)
	_, err = s.InsertBlock(makeBlock(1, 2, 3))
	require.NoError(t, err)
	_, err = s.InsertBlock(makeBlock(2, 2, 4)) // different author, must not leak in
	require.NoError(t, err)

	blocks, err := s.GetOthersBlocks(0, 1, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, types.AuthorityIndex(1), blocks[0].Author())
	require.Equal(t, types.RoundNumber(1), blocks[0].Round())
	require.Equal(t, types.RoundNumber(2), blocks[1].Round())

	capped, err := s.GetOthersBlocks(0, 1, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	require.Equal(t, types.RoundNumber(1), capped[0].Round())

	self, err := s.GetOthersBlocks(0, 0, 10)
	require.NoError(t, err)
	require.Empty(t, self)
}
