// Package types holds the wire-ish value types shared by every other
// package of the consensus core: authority indices, rounds, block
// references, statement blocks and the statements they carry.
//
// This package is the spiritual successor of the teacher's core/types
// package: same role (home of the module's core value types), entirely
// different fields — there is no signed RLP transaction here, only the
// opaque Transaction bytes the spec calls for.
package types

import "fmt"

// AuthorityIndex identifies a committee member. Stable within an epoch.
type AuthorityIndex uint32

// RoundNumber is a monotonically non-decreasing logical clock tick.
// Round 0 is genesis.
type RoundNumber uint64

// WalPosition is an opaque, totally ordered handle into the write-ahead
// log. MaxWalPosition is the reserved sentinel meaning "no successor".
type WalPosition uint64

// MaxWalPosition is the sentinel value for "no successor entry".
const MaxWalPosition WalPosition = ^WalPosition(0)

// BlockReference identifies a block by (authority, round, digest). Two
// references are equal iff all three fields match.
type BlockReference struct {
	Authority AuthorityIndex
	Round     RoundNumber
	Digest    Digest
}

func (r BlockReference) String() string {
	return fmt.Sprintf("B%d(%d,%.4x)", r.Authority, r.Round, r.Digest[:])
}

// Transaction is an opaque byte string. Its encoding is out of scope for
// this module (spec.md §1 Non-goals) — the core only ever moves the bytes
// around and votes on them.
type Transaction []byte

// VoteKind is the outcome an authority attaches to a Vote statement.
type VoteKind uint8

const (
	Reject VoteKind = iota
	Accept
)

func (k VoteKind) String() string {
	if k == Accept {
		return "accept"
	}
	return "reject"
}

// TransactionLocator identifies a transaction by the block that shared it
// and its index within that block's statement list.
type TransactionLocator struct {
	Block BlockReference
	Index int
}

func (l TransactionLocator) String() string {
	return fmt.Sprintf("%s:%d", l.Block, l.Index)
}

// StatementKind tags a BaseStatement's payload.
type StatementKind uint8

const (
	StatementShare StatementKind = iota
	StatementVote
)

// BaseStatement is a tagged union: either a transaction Share, or a Vote
// on a previously shared transaction.
type BaseStatement struct {
	Kind    StatementKind
	Share   Transaction         // valid iff Kind == StatementShare
	Locator TransactionLocator  // valid iff Kind == StatementVote
	Vote    VoteKind            // valid iff Kind == StatementVote
}

// NewShare builds a Share statement.
func NewShare(tx Transaction) BaseStatement {
	return BaseStatement{Kind: StatementShare, Share: tx}
}

// NewVote builds a Vote statement.
func NewVote(locator TransactionLocator, kind VoteKind) BaseStatement {
	return BaseStatement{Kind: StatementVote, Locator: locator, Vote: kind}
}

// StatementBlock is the DAG node: a reference, the ancestor references it
// includes, the statements it carries, and its creation timestamp.
//
// Invariants (enforced by the core, not this type): Includes[0].Authority
// == Reference.Authority; every Includes[i].Round < Reference.Round;
// Includes is non-empty except for genesis blocks.
type StatementBlock struct {
	Reference  BlockReference
	Includes   []BlockReference
	Statements []BaseStatement
	// TimeNS is the block's creation timestamp in nanoseconds since the
	// Unix epoch. The spec's data model describes this field as a u128;
	// Go has no native 128-bit integer and nanosecond epoch timestamps
	// comfortably fit a uint64 until the year 2554, so this is stored as
	// a uint64. Documented deviation, not a silent narrowing: encode.go's
	// wire format carries it as exactly 8 little-endian bytes, with no
	// reserved extra width.
	TimeNS uint64
}

func (b *StatementBlock) Author() AuthorityIndex     { return b.Reference.Authority }
func (b *StatementBlock) Round() RoundNumber          { return b.Reference.Round }
func (b *StatementBlock) String() string {
	return fmt.Sprintf("%s<-%v +%d stmts", b.Reference, b.Includes, len(b.Statements))
}

// SharedTransactions returns every Share statement in the block paired
// with its TransactionLocator.
func (b *StatementBlock) SharedTransactions() []struct {
	Locator TransactionLocator
	Tx      Transaction
} {
	var out []struct {
		Locator TransactionLocator
		Tx      Transaction
	}
	for i, s := range b.Statements {
		if s.Kind == StatementShare {
			out = append(out, struct {
				Locator TransactionLocator
				Tx      Transaction
			}{
				Locator: TransactionLocator{Block: b.Reference, Index: i},
				Tx:      s.Share,
			})
		}
	}
	return out
}
