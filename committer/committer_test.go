package committer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mysticeti/blockstore"
	"mysticeti/committee"
	"mysticeti/types"
	"mysticeti/wal"
)

func fourAuthorities(t *testing.T) *committee.Committee {
	t.Helper()
	c, err := committee.New([]uint64{1, 1, 1, 1})
	require.NoError(t, err)
	return c
}

func newStore(t *testing.T) *blockstore.BlockStore {
	t.Helper()
	dir := t.TempDir()
	w, err := wal.Open(dir + "/wal.log")
	require.NoError(t, err)
	s, err := blockstore.New(w, 0, 256)
	require.NoError(t, err)
	return s
}

func makeBlock(author types.AuthorityIndex, round types.RoundNumber, includes []types.BlockReference) types.Block {
	b := &types.StatementBlock{
		Reference: types.BlockReference{Authority: author, Round: round},
		Includes:  includes,
	}
	b.Reference.Digest = types.ComputeDigest(b)
	return types.NewBlock(b, types.EncodeBlock(b))
}

func insertAll(t *testing.T, s *blockstore.BlockStore, blocks ...types.Block) {
	t.Helper()
	for _, b := range blocks {
		_, err := s.InsertBlock(b)
		require.NoError(t, err)
	}
}

// buildRound links every authority's block at round r to every block in
// prior, the simplest DAG shape that always has full ancestor support.
func buildRound(committeeSize int, round types.RoundNumber, prior []types.Block) []types.Block {
	var refs []types.BlockReference
	for _, b := range prior {
		refs = append(refs, b.Reference())
	}
	out := make([]types.Block, committeeSize)
	for a := 0; a < committeeSize; a++ {
		out[a] = makeBlock(types.AuthorityIndex(a), round, refs)
	}
	return out
}

// genesisRound returns round-0 blocks for every authority: the committer
// never treats round 0 as a candidate leader round, since last_commit_round
// starts at 0 and a wave must strictly exceed it.
func genesisRound(committeeSize int) []types.Block {
	out := make([]types.Block, committeeSize)
	for a := 0; a < committeeSize; a++ {
		out[a] = makeBlock(types.AuthorityIndex(a), 0, nil)
	}
	return out
}

func TestTryCommitDecidesLeaderWithFullSupport(t *testing.T) {
	c := fourAuthorities(t)
	s := newStore(t)

	genesis := genesisRound(4)
	insertAll(t, s, genesis...)

	round1 := buildRound(4, 1, genesis)
	insertAll(t, s, round1...)
	round2 := buildRound(4, 2, round1)
	insertAll(t, s, round2...)

	cm := New(c, s, 1)
	committed := cm.TryCommit(0)
	require.Len(t, committed, 1)
	require.Equal(t, types.RoundNumber(1), committed[0].Round())
}

func TestTryCommitNotYetDecidableWithoutSuccessorRound(t *testing.T) {
	c := fourAuthorities(t)
	s := newStore(t)

	genesis := genesisRound(4)
	insertAll(t, s, genesis...)
	round1 := buildRound(4, 1, genesis)
	insertAll(t, s, round1...)

	// No round-2 blocks yet: round 1's leader cannot be decided either way.
	cm := New(c, s, 1)
	committed := cm.TryCommit(0)
	require.Empty(t, committed)
}

func TestTryCommitSkipsLeaderWithoutSupport(t *testing.T) {
	c := fourAuthorities(t)
	s := newStore(t)

	genesis := genesisRound(4)
	insertAll(t, s, genesis...)
	round1 := buildRound(4, 1, genesis)
	insertAll(t, s, round1...)

	leader := c.ElectLeader(types.RoundNumber(1))

	// Round 2 blocks reference every round-1 block EXCEPT the elected
	// leader's: no possible quorum can ever reference it, so it must be
	// decided skipped, not left pending.
	var refs []types.BlockReference
	for _, b := range round1 {
		if b.Author() == leader {
			continue
		}
		refs = append(refs, b.Reference())
	}
	round2 := make([]types.Block, 4)
	for a := 0; a < 4; a++ {
		round2[a] = makeBlock(types.AuthorityIndex(a), 2, refs)
	}
	insertAll(t, s, round2...)

	cm := New(c, s, 1)
	committed := cm.TryCommit(0)
	require.Empty(t, committed)
}

func TestTryCommitNeverEmitsAtOrBelowLastCommitRound(t *testing.T) {
	c := fourAuthorities(t)
	s := newStore(t)

	genesis := genesisRound(4)
	insertAll(t, s, genesis...)
	round1 := buildRound(4, 1, genesis)
	insertAll(t, s, round1...)
	round2 := buildRound(4, 2, round1)
	insertAll(t, s, round2...)

	cm := New(c, s, 1)
	committed := cm.TryCommit(0)
	require.NotEmpty(t, committed)
	lastRound := committed[len(committed)-1].Round()

	committed = cm.TryCommit(lastRound)
	for _, b := range committed {
		require.Greater(t, uint64(b.Round()), uint64(lastRound))
	}
}

func TestTryCommitRoundsStrictlyIncreasing(t *testing.T) {
	c := fourAuthorities(t)
	s := newStore(t)

	blocks := genesisRound(4)
	insertAll(t, s, blocks...)

	for r := types.RoundNumber(1); r <= 4; r++ {
		blocks = buildRound(4, r, blocks)
		insertAll(t, s, blocks...)
	}

	cm := New(c, s, 1)
	committed := cm.TryCommit(0)
	require.NotEmpty(t, committed)
	for i := 1; i < len(committed); i++ {
		require.Greater(t, uint64(committed[i].Round()), uint64(committed[i-1].Round()))
	}
}
