package commitinterpreter

import (
	"sync"
	"time"

	"mysticeti/blockhandler"
	"mysticeti/blockstore"
	"mysticeti/clock"
	"mysticeti/types"
)

// EpochManager is the minimal capability CommitObserver needs for
// epoch-close detection (spec.md §4.8). Not a dedicated [MODULE] of its
// own — spec.md names it only as handle_commit's third collaborator — so
// it is expressed here as the narrowest interface a caller can satisfy.
type EpochManager interface {
	ObserveBlock(block types.Block)
}

// NoopEpochManager never closes an epoch. Dynamic committee membership
// mid-epoch is a Non-goal (spec.md §1), so every wiring in this module
// that doesn't otherwise need epoch transitions uses this.
type NoopEpochManager struct{}

// ObserveBlock implements EpochManager.
func (NoopEpochManager) ObserveBlock(types.Block) {}

// LatencyRecorder is the minimal metrics capability RealObserver needs.
// Satisfied structurally (no import) by metrics.Metrics, the same
// duck-typed-collaborator pattern blockhandler.Real uses for clock.Clock.
type LatencyRecorder interface {
	ObserveCommitLatency(d time.Duration)
}

type noopLatencyRecorder struct{}

func (noopLatencyRecorder) ObserveCommitLatency(time.Duration) {}

// Observer is the CommitObserver capability Core depends on (spec.md
// §4.8). Expressed as a Go interface rather than a trait, matching
// blockhandler.Handler's "tagged interface over deep inheritance" choice
// (spec.md §9).
type Observer interface {
	HandleCommit(leaders []types.Block) ([]CommitData, error)
	RecoverCommitted(committed []types.BlockReference, state []byte) error
}

// RealObserver is the production CommitObserver: it resolves every
// leader's sub-DAG via an Interpreter, feeds each sub-DAG block through
// the block handler's ObserveVotes purely for its vote side effects
// (handle_commit only reads votes, it never proposes — calling the full
// HandleBlocks here would also drain any live transaction intake queue
// and silently discard the resulting Shares, since nothing here embeds
// them in a block), reports every block to the epoch manager, and records
// commit latency from the wall-clock timestamp embedded in each block.
type RealObserver struct {
	mu sync.Mutex

	interpreter *Interpreter
	store       *blockstore.BlockStore
	handler     blockhandler.Handler
	epoch       EpochManager
	latency     LatencyRecorder
	clock       clock.Clock
}

// NewRealObserver creates a RealObserver. epoch and latency may be nil,
// in which case they are replaced with no-op implementations.
func NewRealObserver(store *blockstore.BlockStore, handler blockhandler.Handler, epoch EpochManager, latency LatencyRecorder, c clock.Clock) *RealObserver {
	if epoch == nil {
		epoch = NoopEpochManager{}
	}
	if latency == nil {
		latency = noopLatencyRecorder{}
	}
	return &RealObserver{
		interpreter: New(store),
		store:       store,
		handler:     handler,
		epoch:       epoch,
		latency:     latency,
		clock:       c,
	}
}

// RecoverCommitted implements Observer, called exactly once after open.
func (o *RealObserver) RecoverCommitted(committed []types.BlockReference, state []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.interpreter.RecoverCommitted(committed)
	if state == nil {
		return nil
	}
	return o.handler.RecoverState(state)
}

// HandleCommit implements Observer.
func (o *RealObserver) HandleCommit(leaders []types.Block) ([]CommitData, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	subdags, err := o.interpreter.HandleCommit(leaders)
	if err != nil {
		return nil, err
	}

	nowWall := uint64(0)
	if o.clock != nil {
		nowWall = o.clock.WallNS()
	}

	records := make([]CommitData, 0, len(subdags))
	for _, sd := range subdags {
		blocks := make([]types.Block, 0, len(sd.Blocks))
		for _, ref := range sd.Blocks {
			blk, ok, err := o.store.GetBlock(ref)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			blocks = append(blocks, blk)

			o.epoch.ObserveBlock(blk)
			if proposed := blk.Value().TimeNS; o.clock != nil && nowWall >= proposed {
				o.latency.ObserveCommitLatency(time.Duration(nowWall - proposed))
			}
		}

		if len(blocks) > 0 {
			if err := o.handler.ObserveVotes(blocks); err != nil {
				return nil, err
			}
		}

		records = append(records, CommitData{Anchor: sd.Anchor, SubDag: sd.Blocks})
	}

	return records, nil
}
