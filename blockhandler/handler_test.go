package blockhandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mysticeti/clock"
	"mysticeti/committee"
	"mysticeti/txaggregator"
	"mysticeti/types"
)

func fourAuthorities(t *testing.T) *committee.Committee {
	t.Helper()
	c, err := committee.New([]uint64{1, 1, 1, 1})
	require.NoError(t, err)
	return c
}

func blockWithShare(author types.AuthorityIndex, round types.RoundNumber, tx string) types.Block {
	b := &types.StatementBlock{
		Reference:  types.BlockReference{Authority: author, Round: round},
		Statements: []types.BaseStatement{types.NewShare(types.Transaction(tx))},
	}
	b.Reference.Digest = types.ComputeDigest(b)
	return types.NewBlock(b, types.EncodeBlock(b))
}

func TestRealHandleBlocksVotesOnShares(t *testing.T) {
	c := fourAuthorities(t)
	agg := txaggregator.New(c, nil)
	h := NewReal(agg, clock.NewManual(0, 0), 16, 10*time.Second)

	blk := blockWithShare(1, 1, "tx-a")
	stmts, err := h.HandleBlocks([]types.Block{blk})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Equal(t, types.StatementVote, stmts[0].Kind)
	require.Equal(t, types.Accept, stmts[0].Vote)
}

func TestRealHandleBlocksRoutesVotesIntoAggregator(t *testing.T) {
	c := fourAuthorities(t)
	agg := txaggregator.New(c, nil)
	h := NewReal(agg, clock.NewManual(0, 0), 16, 10*time.Second)

	loc := types.TransactionLocator{Block: types.BlockReference{Authority: 0, Round: 1}, Index: 0}
	voteBlock := func(author types.AuthorityIndex) types.Block {
		b := &types.StatementBlock{
			Reference:  types.BlockReference{Authority: author, Round: 2},
			Statements: []types.BaseStatement{types.NewVote(loc, types.Accept)},
		}
		b.Reference.Digest = types.ComputeDigest(b)
		return types.NewBlock(b, types.EncodeBlock(b))
	}

	_, err := h.HandleBlocks([]types.Block{voteBlock(1)})
	require.NoError(t, err)
	require.False(t, agg.IsCertified(loc))

	_, err = h.HandleBlocks([]types.Block{voteBlock(2)})
	require.NoError(t, err)
	require.False(t, agg.IsCertified(loc))

	_, err = h.HandleBlocks([]types.Block{voteBlock(3)})
	require.NoError(t, err)
	require.True(t, agg.IsCertified(loc))
}

func TestRealObserveVotesRegistersWithoutDrainingIntake(t *testing.T) {
	c := fourAuthorities(t)
	agg := txaggregator.New(c, nil)
	h := NewReal(agg, clock.NewManual(0, 0), 2, 10*time.Second)

	require.NoError(t, h.SubmitTransaction(types.Transaction("queued")))

	blk := blockWithShare(1, 1, "tx-a")
	require.NoError(t, h.ObserveVotes([]types.Block{blk}))

	loc := types.TransactionLocator{Block: blk.Reference(), Index: 0}
	require.Equal(t, txaggregator.StatusPending, agg.Status(loc))

	// Unlike HandleBlocks, ObserveVotes must not touch the intake queue:
	// the queued transaction is still there to be drained by a later
	// HandleBlocks call, not silently lost.
	stmts, err := h.HandleBlocks(nil)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Equal(t, types.StatementShare, stmts[0].Kind)
}

func TestRealSubmitTransactionDrainsIntoShares(t *testing.T) {
	c := fourAuthorities(t)
	agg := txaggregator.New(c, nil)
	h := NewReal(agg, clock.NewManual(0, 0), 2, 10*time.Second)

	require.NoError(t, h.SubmitTransaction(types.Transaction("tx-1")))
	require.NoError(t, h.SubmitTransaction(types.Transaction("tx-2")))
	require.ErrorIs(t, h.SubmitTransaction(types.Transaction("tx-3")), ErrIntakeFull)

	stmts, err := h.HandleBlocks(nil)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	for _, s := range stmts {
		require.Equal(t, types.StatementShare, s.Kind)
	}

	// Queue drained: a 3rd submit now succeeds.
	require.NoError(t, h.SubmitTransaction(types.Transaction("tx-3")))
}

func TestRealHandleProposalStartsLatencyTimer(t *testing.T) {
	c := fourAuthorities(t)
	agg := txaggregator.New(c, nil)
	mc := clock.NewManual(0, 1000)
	h := NewReal(agg, mc, 16, 10*time.Second)

	b := &types.StatementBlock{
		Reference:  types.BlockReference{Authority: 0, Round: 1},
		Statements: []types.BaseStatement{types.NewShare(types.Transaction("own-tx"))},
	}
	b.Reference.Digest = types.ComputeDigest(b)
	blk := types.NewBlock(b, types.EncodeBlock(b))

	require.NoError(t, h.HandleProposal(blk))

	loc := types.TransactionLocator{Block: blk.Reference(), Index: 0}
	require.True(t, agg.Status(loc) == txaggregator.StatusPending || agg.IsCertified(loc))

	mc.Advance(0, 500)
	latency, ok := h.PendingLatency(loc)
	require.True(t, ok)
	require.Equal(t, 500*time.Nanosecond, latency)
}

func TestRealCleanupDropsStaleEntries(t *testing.T) {
	c := fourAuthorities(t)
	agg := txaggregator.New(c, nil)
	mc := clock.NewManual(0, 0)
	h := NewReal(agg, mc, 16, 10*time.Nanosecond)

	b := &types.StatementBlock{
		Reference:  types.BlockReference{Authority: 0, Round: 1},
		Statements: []types.BaseStatement{types.NewShare(types.Transaction("own-tx"))},
	}
	b.Reference.Digest = types.ComputeDigest(b)
	blk := types.NewBlock(b, types.EncodeBlock(b))
	require.NoError(t, h.HandleProposal(blk))

	loc := types.TransactionLocator{Block: blk.Reference(), Index: 0}
	_, ok := h.PendingLatency(loc)
	require.True(t, ok)

	mc.Advance(0, 1000)
	h.Cleanup()

	_, ok = h.PendingLatency(loc)
	require.False(t, ok)
}

func TestTestHandlerVotesOnceAndQueuesTransactions(t *testing.T) {
	c := fourAuthorities(t)
	h := NewTest(0, c)
	blk := blockWithShare(1, 1, "tx-a")

	stmts, err := h.HandleBlocks([]types.Block{blk})
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	loc := types.TransactionLocator{Block: blk.Reference(), Index: 0}
	require.True(t, h.aggregator.Status(loc) == txaggregator.StatusPending)

	// Redelivering the same block must not duplicate the relay vote.
	stmts, err = h.HandleBlocks([]types.Block{blk})
	require.NoError(t, err)
	require.Empty(t, stmts)

	h.QueueTransaction(types.Transaction("queued"))
	stmts, err = h.HandleBlocks(nil)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Equal(t, types.StatementShare, stmts[0].Kind)
}

func TestTestHandlerObserveVotesDoesNotDrainQueue(t *testing.T) {
	c := fourAuthorities(t)
	h := NewTest(0, c)

	h.QueueTransaction(types.Transaction("queued"))
	blk := blockWithShare(1, 1, "tx-a")
	require.NoError(t, h.ObserveVotes([]types.Block{blk}))

	loc := types.TransactionLocator{Block: blk.Reference(), Index: 0}
	require.Equal(t, txaggregator.StatusPending, h.Status(loc))

	stmts, err := h.HandleBlocks(nil)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Equal(t, types.StatementShare, stmts[0].Kind)
}
