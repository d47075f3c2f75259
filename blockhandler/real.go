package blockhandler

import (
	"errors"
	"sync"
	"time"

	"mysticeti/clock"
	"mysticeti/txaggregator"
	"mysticeti/types"
)

// ErrIntakeFull is returned by SubmitTransaction when the bounded
// intake queue has no room, the backpressure signal resolving the
// MaxPendingTransactions Open Question (spec.md §9).
var ErrIntakeFull = errors.New("blockhandler: transaction intake queue full")

// Real is the production BlockHandler: it votes Accept on every Share it
// observes, routes Vote statements it observes into a TransactionAggregator,
// and drains a bounded transaction intake queue into Share statements.
// Matches RealBlockHandler's mpsc-receiver-drained-non-blockingly shape,
// translated to a buffered Go channel with a non-blocking drain loop
// (spec.md §3 supplemented feature: intake queue drain pattern).
type Real struct {
	mu sync.Mutex

	aggregator *txaggregator.Aggregator
	clock      clock.Clock
	horizon    time.Duration

	intake chan types.Transaction

	// transactionTime maps each locally-originated share's locator to
	// the monotonic time it was embedded in an own block, for latency
	// metrics computed on the commit path.
	transactionTime map[types.TransactionLocator]uint64
}

// NewReal creates a Real handler. intakeSize bounds SubmitTransaction's
// backpressure; horizon bounds how long transactionTime entries survive
// Cleanup.
func NewReal(agg *txaggregator.Aggregator, c clock.Clock, intakeSize int, horizon time.Duration) *Real {
	return &Real{
		aggregator:      agg,
		clock:           c,
		horizon:         horizon,
		intake:          make(chan types.Transaction, intakeSize),
		transactionTime: make(map[types.TransactionLocator]uint64),
	}
}

// SubmitTransaction enqueues tx for inclusion in a future own block.
// Non-blocking: returns ErrIntakeFull instead of waiting for room.
func (h *Real) SubmitTransaction(tx types.Transaction) error {
	select {
	case h.intake <- tx:
		return nil
	default:
		return ErrIntakeFull
	}
}

// HandleBlocks implements Handler.
func (h *Real) HandleBlocks(processed []types.Block) ([]types.BaseStatement, error) {
	var out []types.BaseStatement

	for _, blk := range processed {
		author := blk.Author()
		for i, s := range blk.Statements() {
			switch s.Kind {
			case types.StatementShare:
				loc := types.TransactionLocator{Block: blk.Reference(), Index: i}
				h.aggregator.Vote(loc, author, types.Accept)
				out = append(out, types.NewVote(loc, types.Accept))
			case types.StatementVote:
				h.aggregator.Vote(s.Locator, author, s.Vote)
			}
		}
	}

	for {
		select {
		case tx := <-h.intake:
			out = append(out, types.NewShare(tx))
		default:
			return out, nil
		}
	}
}

// ObserveVotes implements Handler: the same Share/Vote registration loop
// HandleBlocks runs, without draining intake or returning statements — the
// commit path's "vote side effects only" re-walk of a sub-DAG.
func (h *Real) ObserveVotes(processed []types.Block) error {
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

// HandleProposal implements Handler: every Share in the authority's own
// block is an implicit accept vote and starts that share's latency
// timer, and every Vote the block carries (relayed from an earlier
// HandleBlocks call, folded into this own block's payload) is this
// authority's vote and must be registered here — it never otherwise
// passes back through HandleBlocks, since a Core never feeds its own
// block through AddBlocks.
func (h *Real) HandleProposal(block types.Block) error {
	now := h.clock.MonoNS()
	author := block.Author()

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range block.Statements() {
		switch s.Kind {
		case types.StatementShare:
			loc := types.TransactionLocator{Block: block.Reference(), Index: i}
			h.transactionTime[loc] = now
			h.aggregator.Vote(loc, author, types.Accept)
		case types.StatementVote:
			h.aggregator.Vote(s.Locator, author, s.Vote)
		}
	}
	return nil
}

// State implements Handler.
func (h *Real) State() []byte { return h.aggregator.State() }

// RecoverState implements Handler.
func (h *Real) RecoverState(data []byte) error { return h.aggregator.RecoverState(data) }

// Cleanup implements Handler: drops transactionTime entries older than
// the configured horizon.
func (h *Real) Cleanup() {
	now := h.clock.MonoNS()
	horizonNS := uint64(h.horizon.Nanoseconds())

	h.mu.Lock()
	defer h.mu.Unlock()
	for loc, t := range h.transactionTime {
		if now-t > horizonNS {
			delete(h.transactionTime, loc)
		}
	}
}

// PendingLatency returns how long loc's share has been outstanding, if
// its timer is still tracked.
func (h *Real) PendingLatency(loc types.TransactionLocator) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.transactionTime[loc]
	if !ok {
		return 0, false
	}
	return time.Duration(h.clock.MonoNS() - t), true
}
