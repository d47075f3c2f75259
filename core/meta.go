package core

import "mysticeti/types"

// MetaKind tags a MetaStatement's payload.
type MetaKind uint8

const (
	// MetaInclude names an ancestor reference to fold into the next own
	// block's includes list.
	MetaInclude MetaKind = iota
	// MetaPayload carries the statements one run_block_handler call
	// produced, to fold into the next own block's statement list.
	MetaPayload
)

// MetaStatement is the in-memory-only proposal buffer entry (spec.md §3
// GLOSSARY): either an Include(BlockReference) or a Payload(statements).
// Never itself serialized to the WAL — on recovery it is reconstructed
// from the WAL_ENTRY_BLOCK and WAL_ENTRY_PAYLOAD records that produced it.
type MetaStatement struct {
	Kind    MetaKind
	Include types.BlockReference  // valid iff Kind == MetaInclude
	Payload []types.BaseStatement // valid iff Kind == MetaPayload
}

// NewInclude builds an Include MetaStatement.
func NewInclude(ref types.BlockReference) MetaStatement {
	return MetaStatement{Kind: MetaInclude, Include: ref}
}

// NewPayload builds a Payload MetaStatement.
func NewPayload(statements []types.BaseStatement) MetaStatement {
	return MetaStatement{Kind: MetaPayload, Payload: statements}
}

// PendingEntry pairs a MetaStatement with the WAL position it was durably
// recorded at (spec.md §4.5's "pending: ordered sequence of (WalPosition,
// MetaStatement)").
type PendingEntry struct {
	Position  types.WalPosition
	Statement MetaStatement
}

// OwnBlockData records the WAL position at which the next own block or
// still-unconsumed pending entry begins, alongside the block itself
// (spec.md §3 GLOSSARY "OwnBlockData").
type OwnBlockData struct {
	NextEntry types.WalPosition
	Block     types.Block
}
