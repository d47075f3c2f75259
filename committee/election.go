package committee

import (
	"math/rand"

	"mysticeti/types"
)

// ElectLeader deterministically picks the leader authority for round,
// weighted by stake: an authority with twice the stake of another is
// twice as likely to be picked. Every correct node computes the same
// answer for the same round because the PRNG is seeded from the round
// number alone, never from wall-clock time or local randomness.
//
// The binary-search-over-cumulative-stake shape is adapted from the
// teacher's berith/selection package (Candidates.selectBlockCreator /
// Range.binarySearch), which elects a stake-weighted block proposer the
// same way; this version drops the per-block re-ranking queue (we only
// ever need a single leader per round, not a ranked list of backups) and
// the BIP2/BIP3 config branching, which has no equivalent here.
func (c *Committee) ElectLeader(round types.RoundNumber) types.AuthorityIndex {
	if len(c.authorities) == 1 {
		return c.authorities[0].Index
	}

	r := rand.New(rand.NewSource(int64(round)))
	target := uint64(r.Int63n(int64(c.TotalStake())))

	// prefix[i] is an increasing slice of prefix stake sums; find the
	// smallest i such that cumulative stake up to and including i exceeds
	// target. Plain binary search over a precomputed prefix-sum array:
	// the teacher's Queue/Range split existed to answer many elections
	// against a shrinking candidate pool in one pass (selectBIP3BlockCreator);
	// a single lookup needs only the prefix array.
	lo, hi := 0, len(c.authorities)-1
	running := uint64(0)
	prefix := make([]uint64, len(c.authorities))
	for i, a := range c.authorities {
		running += a.Stake
		prefix[i] = running
	}
	for lo < hi {
		mid := (lo + hi) / 2
		if prefix[mid] > target {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return c.authorities[lo].Index
}

// GenesisBlocks returns one empty, ancestor-less StatementBlock per
// authority at round 0, the starting state every authority's BlockStore
// and pending buffer is seeded with (spec.md §4.2 recovery rule 1, §9
// "genesis bootstrap").
func (c *Committee) GenesisBlocks() []*types.StatementBlock {
	blocks := make([]*types.StatementBlock, len(c.authorities))
	for i, a := range c.authorities {
		blocks[i] = &types.StatementBlock{
			Reference: types.BlockReference{
				Authority: a.Index,
				Round:     0,
				Digest:    types.ZeroDigest,
			},
		}
	}
	return blocks
}
