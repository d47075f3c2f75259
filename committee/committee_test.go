package committee

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mysticeti/types"
)

func fourEqualStake(t *testing.T) *Committee {
	t.Helper()
	c, err := New([]uint64{1, 1, 1, 1})
	require.NoError(t, err)
	return c
}

func TestNewRejectsEmptyOrZeroStake(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New([]uint64{1, 0, 1})
	require.Error(t, err)
}

func TestQuorumAndValidityThresholds(t *testing.T) {
	c := fourEqualStake(t)
	require.Equal(t, uint64(4), c.TotalStake())
	// n=3f+1=4 => f=1 => quorum 2f+1=3, validity f+1=2.
	require.Equal(t, uint64(3), c.QuorumThreshold())
	require.Equal(t, uint64(2), c.ValidityThreshold())

	require.False(t, c.ReachedQuorum(2))
	require.True(t, c.ReachedQuorum(3))
	require.False(t, c.ReachedValidity(1))
	require.True(t, c.ReachedValidity(2))
}

func TestStakeAggregatorDedupesAuthorities(t *testing.T) {
	c := fourEqualStake(t)
	agg := NewStakeAggregator(c)

	require.False(t, agg.Add(0))
	require.False(t, agg.Add(1))
	newlyQuorum := agg.Add(2)
	require.True(t, newlyQuorum)
	require.True(t, agg.ReachedQuorum())

	// Re-adding an authority already counted changes nothing.
	require.False(t, agg.Add(0))
	require.Equal(t, uint64(3), agg.Stake())

	// Unknown authority index is ignored.
	require.False(t, agg.Add(99))
}

func TestElectLeaderDeterministic(t *testing.T) {
	c := fourEqualStake(t)
	for round := types.RoundNumber(0); round < 50; round++ {
		a := c.ElectLeader(round)
		b := c.ElectLeader(round)
		require.Equal(t, a, b, "leader election must be deterministic for a given round")
		require.True(t, c.Valid(a))
	}
}

func TestElectLeaderSingleAuthority(t *testing.T) {
	c, err := New([]uint64{7})
	require.NoError(t, err)
	require.Equal(t, types.AuthorityIndex(0), c.ElectLeader(123))
}

func TestElectLeaderWeightedDistribution(t *testing.T) {
	// Authority 3 holds most of the stake; over many rounds it should be
	// elected far more often than any single-unit authority.
	c, err := New([]uint64{1, 1, 1, 100})
	require.NoError(t, err)

	counts := map[types.AuthorityIndex]int{}
	const rounds = 2000
	for r := types.RoundNumber(0); r < rounds; r++ {
		counts[c.ElectLeader(r)]++
	}
	require.Greater(t, counts[3], rounds*8/10)
}

func TestGenesisBlocks(t *testing.T) {
	c := fourEqualStake(t)
	blocks := c.GenesisBlocks()
	require.Len(t, blocks, 4)
	for i, b := range blocks {
		require.Equal(t, types.AuthorityIndex(i), b.Reference.Authority)
		require.Equal(t, types.RoundNumber(0), b.Reference.Round)
		require.Empty(t, b.Includes)
		require.Empty(t, b.Statements)
	}
}

func TestCommitteeString(t *testing.T) {
	c := fourEqualStake(t)
	s := c.String()
	require.Contains(t, s, "authority")
	require.Contains(t, s, "stake")
}
