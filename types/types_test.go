package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleBlock() *StatementBlock {
	b := &StatementBlock{
		Reference: BlockReference{Authority: 2, Round: 5},
		Includes: []BlockReference{
			{Authority: 2, Round: 4, Digest: DigestBytes([]byte("a"))},
			{Authority: 0, Round: 4, Digest: DigestBytes([]byte("b"))},
			{Authority: 1, Round: 4, Digest: DigestBytes([]byte("c"))},
		},
		Statements: []BaseStatement{
			NewShare(Transaction("hello")),
			NewVote(TransactionLocator{
				Block: BlockReference{Authority: 0, Round: 4, Digest: DigestBytes([]byte("b"))},
				Index: 0,
			}, Accept),
		},
		TimeNS: 1234567890,
	}
	b.Reference.Digest = ComputeDigest(b)
	return b
}

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	b := sampleBlock()
	raw := EncodeBlock(b)

	decoded, err := DecodeBlock(raw)
	require.NoError(t, err)
	require.Equal(t, b.Reference, decoded.Reference)
	require.Equal(t, b.Includes, decoded.Includes)
	require.Equal(t, b.Statements, decoded.Statements)
	require.Equal(t, b.TimeNS, decoded.TimeNS)
}

func TestEncodeBlockDeterministic(t *testing.T) {
	b := sampleBlock()
	require.Equal(t, EncodeBlock(b), EncodeBlock(b))
	require.Equal(t, ComputeDigest(b), ComputeDigest(b))
}

func TestDigestChangesWithContent(t *testing.T) {
	b1 := sampleBlock()
	b2 := sampleBlock()
	b2.Statements = append(b2.Statements, NewShare(Transaction("extra")))
	require.NotEqual(t, ComputeDigest(b1), ComputeDigest(b2))
}

func TestStatementsRoundTrip(t *testing.T) {
	stmts := []BaseStatement{
		NewShare(Transaction("tx-1")),
		NewShare(Transaction("")),
		NewVote(TransactionLocator{Block: BlockReference{Authority: 3, Round: 1}, Index: 7}, Reject),
	}
	raw := EncodeStatements(stmts)
	decoded, err := DecodeStatements(raw)
	require.NoError(t, err)
	require.Equal(t, stmts, decoded)
}

func TestSharedTransactions(t *testing.T) {
	b := sampleBlock()
	shared := b.SharedTransactions()
	require.Len(t, shared, 1)
	require.Equal(t, Transaction("hello"), shared[0].Tx)
	require.Equal(t, 0, shared[0].Locator.Index)
	require.Equal(t, b.Reference, shared[0].Locator.Block)
}

func TestBlockWrapper(t *testing.T) {
	b := sampleBlock()
	raw := EncodeBlock(b)
	blk := NewBlock(b, raw)
	require.Equal(t, b.Reference, blk.Reference())
	require.Equal(t, AuthorityIndex(2), blk.Author())
	require.Equal(t, RoundNumber(5), blk.Round())
	require.Len(t, blk.Includes(), 3)
	require.Len(t, blk.Statements(), 2)
	require.Equal(t, raw, blk.Bytes())
}

func TestBlockDecodeCache(t *testing.T) {
	b := sampleBlock()
	raw := EncodeBlock(b)
	cache := NewBlockDecodeCache(1 << 20)

	blk1, err := cache.Get(raw)
	require.NoError(t, err)
	blk2, err := cache.Get(raw)
	require.NoError(t, err)
	require.Equal(t, blk1.Value(), blk2.Value())

	cached, ok := cache.Bytes(b.Reference.Digest)
	require.True(t, ok)
	require.Equal(t, raw, cached)

	cache.Evict(b.Reference.Digest)
	_, ok = cache.Bytes(b.Reference.Digest)
	require.False(t, ok)
}

func TestWalPositionSentinel(t *testing.T) {
	require.Equal(t, WalPosition(0xFFFFFFFFFFFFFFFF), MaxWalPosition)
}

func TestVoteKindString(t *testing.T) {
	require.Equal(t, "accept", Accept.String())
	require.Equal(t, "reject", Reject.String())
}
