// Package blockmanager buffers incoming blocks until their ancestors are
// known, then releases them — and anything they unblock — in an order
// consistent with round-ascending topological order. The per-ancestor
// waiting sets use mapset.Set, the same set-of-authority-indices idiom
// miner/worker.go uses for its uncle-tracking sets in the teacher repo.
package blockmanager

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"mysticeti/blockstore"
	"mysticeti/types"
)

// Processed pairs a now-processable block with the WAL position it was
// durably recorded at.
type Processed struct {
	Position types.WalPosition
	Block    types.Block
}

type pendingEntry struct {
	block   types.Block
	missing mapset.Set // of types.BlockReference
}

// BlockManager implements spec.md §4.3.
type BlockManager struct {
	mu      sync.Mutex
	store   *blockstore.BlockStore
	pending map[types.BlockReference]*pendingEntry
	// waiting[anc] is the set of pending block references whose missing
	// set still contains anc.
	waiting map[types.BlockReference]mapset.Set
}

// New creates a BlockManager writing unblocked blocks through store.
func New(store *blockstore.BlockStore) *BlockManager {
	return &BlockManager{
		store:   store,
		pending: make(map[types.BlockReference]*pendingEntry),
		waiting: make(map[types.BlockReference]mapset.Set),
	}
}

// AddBlocks registers batch and returns every block — newly arrived or
// previously buffered — whose full ancestor closure is now known, in
// round-ascending order, each durably recorded exactly once.
func (m *BlockManager) AddBlocks(batch []types.Block) ([]Processed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ready := mapset.NewSet() // of types.BlockReference, newly satisfied this call

	for _, blk := range batch {
		ref := blk.Reference()
		if _, alreadyPending := m.pending[ref]; alreadyPending {
			continue
		}
		if _, ok, err := m.store.GetBlock(ref); err != nil {
			return nil, err
		} else if ok {
			continue
		}

		missing := mapset.NewSet()
		for _, anc := range blk.Includes() {
			if _, ok, err := m.store.GetBlock(anc); err != nil {
				return nil, err
			} else if ok {
				continue
			}
			missing.Add(anc)
		}

		entry := &pendingEntry{block: blk, missing: missing}
		m.pending[ref] = entry

		if missing.Cardinality() == 0 {
			ready.Add(ref)
			continue
		}
		for a := range missing.Iter() {
			anc := a.(types.BlockReference)
			set, ok := m.waiting[anc]
			if !ok {
				set = mapset.NewSet()
				m.waiting[anc] = set
			}
			set.Add(ref)
		}
	}

	// Breadth-first unblock: popping a ready ref resolves it out of
	// every other pending entry's missing set, which may make more
	// entries ready in turn.
	queue := ready.ToSlice()
	for len(queue) > 0 {
		next := queue[0].(types.BlockReference)
		queue = queue[1:]

		waiters, ok := m.waiting[next]
		if !ok {
			continue
		}
		delete(m.waiting, next)
		for w := range waiters.Iter() {
			waiterRef := w.(types.BlockReference)
			entry, ok := m.pending[waiterRef]
			if !ok {
				continue
			}
			entry.missing.Remove(next)
			if entry.missing.Cardinality() == 0 && !ready.Contains(waiterRef) {
				ready.Add(waiterRef)
				queue = append(queue, waiterRef)
			}
		}
	}

	refs := make([]types.BlockReference, 0, ready.Cardinality())
	for r := range ready.Iter() {
		refs = append(refs, r.(types.BlockReference))
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Round != refs[j].Round {
			return refs[i].Round < refs[j].Round
		}
		if refs[i].Authority != refs[j].Authority {
			return refs[i].Authority < refs[j].Authority
		}
		return string(refs[i].Digest[:]) < string(refs[j].Digest[:])
	})

	out := make([]Processed, 0, len(refs))
	for _, ref := range refs {
		entry := m.pending[ref]
		delete(m.pending, ref)
		pos, err := m.store.InsertBlock(entry.block)
		if err != nil {
			return nil, err
		}
		out = append(out, Processed{Position: pos, Block: entry.block})
	}
	return out, nil
}

// MissingCount reports how many references are currently blocking at
// least one pending block, for metrics (missing_blocks, §3 supplemented
// features).
func (m *BlockManager) MissingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

// PendingCount reports how many blocks are currently buffered awaiting
// ancestors.
func (m *BlockManager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
