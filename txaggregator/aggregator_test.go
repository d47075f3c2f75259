package txaggregator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mysticeti/committee"
	"mysticeti/types"
)

func fourAuthorities(t *testing.T) *committee.Committee {
	t.Helper()
	c, err := committee.New([]uint64{1, 1, 1, 1})
	require.NoError(t, err)
	return c
}

func locator(idx int) types.TransactionLocator {
	return types.TransactionLocator{
		Block: types.BlockReference{Authority: 0, Round: 1},
		Index: idx,
	}
}

func TestVoteCertifiesOnQuorum(t *testing.T) {
	c := fourAuthorities(t)
	agg := New(c, nil)
	loc := locator(0)

	cert, rej := agg.Vote(loc, 0, types.Accept)
	require.False(t, cert)
	require.False(t, rej)

	cert, rej = agg.Vote(loc, 1, types.Accept)
	require.False(t, cert)
	require.False(t, rej)

	cert, rej = agg.Vote(loc, 2, types.Accept) // 3rd distinct voter crosses quorum (3 of 4)
	require.True(t, cert)
	require.False(t, rej)
	require.True(t, agg.IsCertified(loc))
	require.True(t, agg.IsProcessed(loc))
}

func TestVoteIsIdempotentPerVoter(t *testing.T) {
	c := fourAuthorities(t)
	agg := New(c, nil)
	loc := locator(0)

	agg.Vote(loc, 0, types.Accept)
	agg.Vote(loc, 0, types.Accept)
	agg.Vote(loc, 0, types.Accept)
	require.Equal(t, StatusPending, agg.Status(loc))
}

func TestCertifiedExactlyOnceTransition(t *testing.T) {
	c := fourAuthorities(t)
	agg := New(c, nil)
	loc := locator(0)

	agg.Vote(loc, 0, types.Accept)
	agg.Vote(loc, 1, types.Accept)
	cert, _ := agg.Vote(loc, 2, types.Accept)
	require.True(t, cert)

	// A later 4th vote does not re-fire certification.
	cert, _ = agg.Vote(loc, 3, types.Accept)
	require.False(t, cert)
}

func TestVoteAfterDecisionIsIgnored(t *testing.T) {
	c := fourAuthorities(t)
	agg := New(c, nil)
	loc := locator(0)

	agg.Vote(loc, 0, types.Accept)
	agg.Vote(loc, 1, types.Accept)
	agg.Vote(loc, 2, types.Accept)
	require.True(t, agg.IsCertified(loc))

	// Once certified, reject votes can no longer flip the outcome.
	cert, rej := agg.Vote(loc, 3, types.Reject)
	require.False(t, cert)
	require.False(t, rej)
	require.True(t, agg.IsCertified(loc))
}

func TestVoteRejectsOnQuorum(t *testing.T) {
	c := fourAuthorities(t)
	agg := New(c, nil)
	loc := locator(0)

	agg.Vote(loc, 0, types.Reject)
	agg.Vote(loc, 1, types.Reject)
	_, rej := agg.Vote(loc, 2, types.Reject)
	require.True(t, rej)
	require.Equal(t, StatusRejected, agg.Status(loc))
}

func TestStateRoundTrip(t *testing.T) {
	c := fourAuthorities(t)
	agg := New(c, nil)

	loc1 := locator(0)
	loc2 := locator(1)
	agg.Vote(loc1, 0, types.Accept)
	agg.Vote(loc1, 1, types.Accept)
	agg.Vote(loc1, 2, types.Accept) // certified
	agg.Vote(loc2, 0, types.Accept) // still pending

	snapshot := agg.State()

	recovered := New(c, nil)
	require.NoError(t, recovered.RecoverState(snapshot))

	require.Equal(t, StatusCertified, recovered.Status(loc1))
	require.Equal(t, StatusPending, recovered.Status(loc2))

	// Recovered pending entry still accumulates correctly toward quorum.
	cert, _ := recovered.Vote(loc2, 1, types.Accept)
	require.False(t, cert)
	cert, _ = recovered.Vote(loc2, 2, types.Accept)
	require.True(t, cert)
}

func TestDurableLogRecordsCertified(t *testing.T) {
	c := fourAuthorities(t)
	logDir := filepath.Join(t.TempDir(), "certlog")
	log, err := OpenLog(logDir)
	require.NoError(t, err)
	defer log.Close()

	agg := New(c, log)
	loc := locator(0)

	ok, err := log.IsCertified(loc)
	require.NoError(t, err)
	require.False(t, ok)

	agg.Vote(loc, 0, types.Accept)
	agg.Vote(loc, 1, types.Accept)
	agg.Vote(loc, 2, types.Accept)

	ok, err = log.IsCertified(loc)
	require.NoError(t, err)
	require.True(t, ok)
}
