// Package commitinterpreter implements spec.md §4.8: turning a sequence of
// committed leader blocks into ordered sub-DAGs, and dispatching each
// sub-DAG to the transaction aggregator, epoch manager, and latency
// metrics via a CommitObserver.
//
// Grounded on original_source/mysticeti-core/src/commit_observer.rs's
// CommitInterpreter/CommitObserver split.
package commitinterpreter

import (
	"sort"
	"sync"

	"mysticeti/blockstore"
	"mysticeti/types"
)

// CommittedSubDag is one committed leader plus every block transitively
// reachable from it via Includes that had never previously been
// committed, ordered round ascending then authority index ascending
// (spec.md §4.8, §GLOSSARY "Sub-DAG").
type CommittedSubDag struct {
	Anchor types.BlockReference
	Blocks []types.BlockReference
}

// CommitData is the WAL-serializable record of one committed leader and
// its sub-DAG (spec.md §4.3 "CommitData").
type CommitData struct {
	Anchor types.BlockReference
	SubDag []types.BlockReference
}

// Interpreter walks committed leaders into sub-DAGs against a block store
// snapshot, tracking a persistent set of already-committed references so
// later leaders never re-emit a block a prior leader already brought in.
type Interpreter struct {
	mu        sync.Mutex
	store     *blockstore.BlockStore
	committed map[types.BlockReference]struct{}
}

// New creates an Interpreter with an empty committed set.
func New(store *blockstore.BlockStore) *Interpreter {
	return &Interpreter{store: store, committed: make(map[types.BlockReference]struct{})}
}

// RecoverCommitted seeds the committed-references set from a prior
// WAL_ENTRY_COMMIT record, called exactly once after open and before any
// new commit is handled (spec.md §4.8).
func (in *Interpreter) RecoverCommitted(committed []types.BlockReference) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.committed = make(map[types.BlockReference]struct{}, len(committed))
	for _, ref := range committed {
		in.committed[ref] = struct{}{}
	}
}

// HandleCommit computes the sub-DAG for each newly committed leader, in
// order, and returns them as CommittedSubDag records.
func (in *Interpreter) HandleCommit(leaders []types.Block) ([]CommittedSubDag, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]CommittedSubDag, 0, len(leaders))
	for _, leader := range leaders {
		blocks := in.subDagFor(leader.Reference())
		out = append(out, CommittedSubDag{Anchor: leader.Reference(), Blocks: blocks})
	}
	return out, nil
}

// subDagFor walks the ancestor closure of anchor breadth-first, stopping
// at any reference already committed by a prior call, and marks every
// reference it does include as committed before returning. Missing blocks
// (not yet indexed in the store) terminate that branch of the walk rather
// than erroring: the committer only ever names leaders whose ancestry is
// already locally complete, per the ancestor-closure invariant.
func (in *Interpreter) subDagFor(anchor types.BlockReference) []types.BlockReference {
	visited := map[types.BlockReference]struct{}{}
	queue := []types.BlockReference{anchor}
	var order []types.BlockReference

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, ok := visited[ref]; ok {
			continue
		}
		visited[ref] = struct{}{}
		if _, ok := in.committed[ref]; ok {
			continue
		}

		order = append(order, ref)
		in.committed[ref] = struct{}{}

		block, ok, err := in.store.GetBlock(ref)
		if err != nil || !ok {
			continue
		}
		queue = append(queue, block.Includes()...)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].Round != order[j].Round {
			return order[i].Round < order[j].Round
		}
		return order[i].Authority < order[j].Authority
	})
	return order
}
