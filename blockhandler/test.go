package blockhandler

import (
	"sync"

	mapset "github.com/deckarep/golang-set"

	"mysticeti/committee"
	"mysticeti/txaggregator"
	"mysticeti/types"
)

// Test is a minimal BlockHandler for scenario tests (spec.md §8's S1-S6):
// it votes Accept on every Share it sees, immediately, and routes every
// Vote statement it observes into a TransactionAggregator the same way
// Real does, so certification can actually be asserted against it.
// Grounded on TestBlockHandler in block_handler.rs, whose
// transaction_votes field and is_certified method this mirrors, minus
// TransactionGenerator (out of scope per spec.md §1 — transaction
// content/generation is an external collaborator).
type Test struct {
	mu sync.Mutex

	self       types.AuthorityIndex
	aggregator *txaggregator.Aggregator
	voted      mapset.Set // of types.TransactionLocator, vote-once dedup
	queued     []types.Transaction
}

// NewTest creates an empty Test handler voting as self within c.
func NewTest(self types.AuthorityIndex, c *committee.Committee) *Test {
	return &Test{
		self:       self,
		aggregator: txaggregator.New(c, nil),
		voted:      mapset.NewSet(),
	}
}

// QueueTransaction schedules tx to be shared on the next HandleBlocks
// call — the test equivalent of Real's SubmitTransaction, without the
// bounded-channel backpressure a production intake queue needs.
func (h *Test) QueueTransaction(tx types.Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queued = append(h.queued, tx)
}

// HandleBlocks implements Handler.
func (h *Test) HandleBlocks(processed []types.Block) ([]types.BaseStatement, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []types.BaseStatement
	for _, blk := range processed {
		author := blk.Author()
		for i, s := range blk.Statements() {
			switch s.Kind {
			case types.StatementShare:
				loc := types.TransactionLocator{Block: blk.Reference(), Index: i}
				h.aggregator.Vote(loc, author, types.Accept)
				if h.voted.Contains(loc) {
					continue
				}
				h.voted.Add(loc)
				out = append(out, types.NewVote(loc, types.Accept))
			case types.StatementVote:
				h.aggregator.Vote(s.Locator, author, s.Vote)
			}
		}
	}

	for _, tx := range h.queued {
		out = append(out, types.NewShare(tx))
	}
	h.queued = nil

	return out, nil
}

// ObserveVotes implements Handler: the same Share/Vote registration HandleBlocks
// performs, without the vote-once relay dedup or the queued-transaction drain
// — the commit path's "vote side effects only" re-walk of a sub-DAG.
func (h *Test) ObserveVotes(processed []types.Block) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, blk := range processed {
		author := blk.Author()
		for i, s := range blk.Statements() {
			switch s.Kind {
			case types.StatementShare:
				loc := types.TransactionLocator{Block: blk.Reference(), Index: i}
				h.aggregator.Vote(loc, author, types.Accept)
			case types.StatementVote:
				h.aggregator.Vote(s.Locator, author, s.Vote)
			}
		}
	}
	return nil
}

// HandleProposal implements Handler: registers this authority's implicit
// accept on its own Shares and its relayed Votes, the same way Real does.
func (h *Test) HandleProposal(block types.Block) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range block.Statements() {
		switch s.Kind {
		case types.StatementShare:
			loc := types.TransactionLocator{Block: block.Reference(), Index: i}
			h.aggregator.Vote(loc, h.self, types.Accept)
		case types.StatementVote:
			h.aggregator.Vote(s.Locator, h.self, s.Vote)
		}
	}
	return nil
}

// State implements Handler.
func (h *Test) State() []byte { return h.aggregator.State() }

// RecoverState implements Handler.
func (h *Test) RecoverState(data []byte) error { return h.aggregator.RecoverState(data) }

// Cleanup implements Handler: Test tracks no per-transaction timing
// metadata, so there is nothing to garbage-collect.
func (h *Test) Cleanup() {}

// IsCertified reports whether loc reached an accept quorum.
func (h *Test) IsCertified(loc types.TransactionLocator) bool {
	return h.aggregator.IsCertified(loc)
}

// Status returns loc's current certification status.
func (h *Test) Status(loc types.TransactionLocator) txaggregator.Status {
	return h.aggregator.Status(loc)
}
