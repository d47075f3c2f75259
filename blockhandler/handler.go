// Package blockhandler implements spec.md §4.6's BlockHandler contract:
// the pluggable capability Core depends on to turn newly processed
// blocks into outgoing statements and to register the node's own votes.
// Grounded on original_source/mysticeti-core/src/block_handler.rs's
// BlockHandler trait and its RealBlockHandler/TestBlockHandler pair;
// expressed here as a Go interface plus two implementations rather than
// a trait, per the "use interface abstractions with tagged payloads
// rather than deep inheritance" design note (spec.md §9).
package blockhandler

import "mysticeti/types"

// Handler is the capability Core depends on.
type Handler interface {
	// HandleBlocks is called for every batch of newly processed blocks
	// and returns the statements Core should embed in the next own
	// block's payload.
	HandleBlocks(processed []types.Block) ([]types.BaseStatement, error)

	// HandleProposal is called exactly once per locally formed block,
	// immediately after it is durably recorded.
	HandleProposal(block types.Block) error

	// ObserveVotes registers the Share/Vote side effects of blocks already
	// processed once through HandleBlocks — the commit path's re-walk of a
	// newly decided sub-DAG needs exactly this bookkeeping and nothing
	// else. Unlike HandleBlocks it returns no statements and must not
	// drain the transaction intake queue: Core never embeds its result in
	// a block, so any Share it produced from a live submission would be
	// silently lost.
	ObserveVotes(processed []types.Block) error

	// State returns a snapshot of internal aggregator state.
	State() []byte

	// RecoverState restores internal aggregator state from a prior
	// State() snapshot.
	RecoverState(data []byte) error

	// Cleanup performs optional periodic GC of per-transaction timing
	// metadata older than a configured horizon.
	Cleanup()
}
