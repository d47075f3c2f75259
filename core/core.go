// Package core implements spec.md §4.5: the single-owner orchestrator
// that turns received blocks and outgoing votes into a growing DAG,
// decides when the local authority may propose, and drives the commit
// rule over the result.
//
// Grounded on original_source/mysticeti-core/src/core.rs's Core struct
// almost line for line in control flow; the channel/loop orchestration
// idiom around it (in cmd/mysticeti) borrows from the teacher's
// miner/worker.go newWorkLoop/mainLoop split.
package core

import (
	"fmt"
	"sync"

	"mysticeti/blockhandler"
	"mysticeti/blockmanager"
	"mysticeti/blockstore"
	"mysticeti/clock"
	"mysticeti/commitinterpreter"
	"mysticeti/committee"
	"mysticeti/committer"
	"mysticeti/thresholdclock"
	"mysticeti/types"
	"mysticeti/wal"
)

// Config carries the fixed, non-recoverable parameters a Core needs at
// construction time.
type Config struct {
	SelfAuthority types.AuthorityIndex
	Committee     *committee.Committee
	Period        uint64
	SyncOnWrite   bool
}

// Core is the single logical owner of the proposal buffer, the last own
// block, and the threshold clock (spec.md §5's "Core task"). Every
// exported method expects to be called from that single owner; the
// mutex here is a defensive guard, not a concurrency model.
type Core struct {
	mu sync.Mutex

	self        types.AuthorityIndex
	committee   *committee.Committee
	period      uint64
	syncOnWrite bool

	w       *wal.Writer
	store   *blockstore.BlockStore
	manager *blockmanager.BlockManager
	handler blockhandler.Handler
	clock   clock.Clock

	committer *committer.Committer
	observer  commitinterpreter.Observer

	pending         []PendingEntry
	lastOwnBlock    OwnBlockData
	thresholdClock  *thresholdclock.Aggregator
	lastCommitRound types.RoundNumber
}

// New constructs a fresh Core with an empty pending buffer and no own
// block yet — callers must follow with Bootstrap before any other method
// is meaningful. Use NewFromRecovered after a WAL replay instead.
func New(w *wal.Writer, store *blockstore.BlockStore, manager *blockmanager.BlockManager, handler blockhandler.Handler, cm *committer.Committer, observer commitinterpreter.Observer, clk clock.Clock, cfg Config) *Core {
	return &Core{
		self:           cfg.SelfAuthority,
		committee:      cfg.Committee,
		period:         cfg.Period,
		syncOnWrite:    cfg.SyncOnWrite,
		w:              w,
		store:          store,
		manager:        manager,
		handler:        handler,
		clock:          clk,
		committer:      cm,
		observer:       observer,
		thresholdClock: thresholdclock.New(cfg.Committee),
	}
}

// Bootstrap seeds a freshly created (empty-WAL) Core with genesis blocks:
// every other authority's genesis block is inserted and queued as an
// Include in pending; the local authority's own genesis block becomes
// last_own_block with next_entry set to the first pending position, or
// MaxWalPosition when pending is empty (see the note in the body). Every
// genesis block advances the threshold clock exactly
// as a regular block would.
func (c *Core) Bootstrap() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	genesis := c.committee.GenesisBlocks()
	var ownGenesis types.Block
	haveOwn := false

	for _, g := range genesis {
		blk := types.NewBlock(g, types.EncodeBlock(g))
		c.thresholdClock.AddBlock(blk.Reference())

		if blk.Author() == c.self {
			ownGenesis = blk
			haveOwn = true
			continue
		}

		pos, err := c.store.InsertBlock(blk)
		if err != nil {
			return fmt.Errorf("core: bootstrap insert genesis: %w", err)
		}
		c.pending = append(c.pending, PendingEntry{Position: pos, Statement: NewInclude(blk.Reference())})
	}

	if !haveOwn {
		return fmt.Errorf("core: bootstrap: self authority %d has no genesis block", c.self)
	}

	// Unlike try_new_block, the genesis own block consumes none of the
	// pending entries queued above for the other authorities' genesis
	// blocks — it carries no Includes at all. Its recorded next_entry
	// must therefore point at the earliest still-pending position (or
	// MaxWalPosition if pending is empty), not MaxWalPosition
	// unconditionally: recovery's truncate-on-own-block rule treats
	// next_entry as "everything before this was consumed", and an
	// unconditional MaxWalPosition there would wrongly discard those
	// genesis Include entries on replay.
	nextEntry := types.MaxWalPosition
	if len(c.pending) > 0 {
		nextEntry = c.pending[0].Position
	}

	if _, err := c.store.InsertOwnBlock(ownGenesis, nextEntry); err != nil {
		return fmt.Errorf("core: bootstrap insert own genesis: %w", err)
	}
	c.lastOwnBlock = OwnBlockData{NextEntry: nextEntry, Block: ownGenesis}

	return nil
}

// AddBlocks implements spec.md §4.5's add_blocks: delegates to the
// BlockManager, advances the threshold clock and pending buffer for every
// newly processed block, then runs the block handler over the batch.
func (c *Core) AddBlocks(batch []types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	processed, err := c.manager.AddBlocks(batch)
	if err != nil {
		return fmt.Errorf("core: add blocks: %w", err)
	}

	blocks := make([]types.Block, 0, len(processed))
	for _, p := range processed {
		c.thresholdClock.AddBlock(p.Block.Reference())
		c.pending = append(c.pending, PendingEntry{Position: p.Position, Statement: NewInclude(p.Block.Reference())})
		blocks = append(blocks, p.Block)
	}

	return c.runBlockHandlerLocked(blocks)
}

// runBlockHandlerLocked implements spec.md §4.5's run_block_handler.
// Called with the lock held, including from Bootstrap's caller path via
// AddBlocks and, for the initial liveness-priming call, directly with an
// empty processed slice (spec.md §8 S1 calls run_block_handler(&[])).
func (c *Core) runBlockHandlerLocked(processed []types.Block) error {
	statements, err := c.handler.HandleBlocks(processed)
	if err != nil {
		return fmt.Errorf("core: block handler: %w", err)
	}

	payload := types.EncodeStatements(statements)
	pos, err := c.w.Write(wal.TagPayload, payload)
	if err != nil {
		return fmt.Errorf("core: write payload: %w", err)
	}
	c.pending = append(c.pending, PendingEntry{Position: pos, Statement: NewPayload(statements)})
	return nil
}

// RunBlockHandler runs the block handler directly over processed without
// going through AddBlocks/BlockManager — the entry point spec.md §8's S1
// scenario uses for its initial run_block_handler(&[]) call.
func (c *Core) RunBlockHandler(processed []types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runBlockHandlerLocked(processed)
}

// TryNewBlock implements spec.md §4.5's try_new_block. Returns false if
// the threshold clock has not advanced past the last own block's round.
func (c *Core) TryNewBlock() (types.Block, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.thresholdClock.GetRound()
	if !c.lastOwnBlock.Block.IsZero() && r <= c.lastOwnBlock.Block.Round() {
		return types.Block{}, false, nil
	}

	i := len(c.pending)
	for idx, entry := range c.pending {
		if entry.Statement.Kind == MetaInclude && entry.Statement.Include.Round >= r {
			i = idx
			break
		}
	}

	prefix := c.pending[:i]
	suffix := c.pending[i:]

	referencesInBlock := make(map[types.BlockReference]struct{})
	for _, ref := range c.lastOwnBlock.Block.Includes() {
		referencesInBlock[ref] = struct{}{}
	}
	for _, entry := range prefix {
		if entry.Statement.Kind != MetaInclude {
			continue
		}
		blk, ok, err := c.store.GetBlock(entry.Statement.Include)
		if err != nil {
			return types.Block{}, false, fmt.Errorf("core: try new block: %w", err)
		}
		if !ok {
			continue
		}
		for _, anc := range blk.Includes() {
			referencesInBlock[anc] = struct{}{}
		}
	}

	includes := make([]types.BlockReference, 0, len(prefix)+1)
	includes = append(includes, c.lastOwnBlock.Block.Reference())
	for _, entry := range prefix {
		if entry.Statement.Kind != MetaInclude {
			continue
		}
		if _, seen := referencesInBlock[entry.Statement.Include]; seen {
			continue
		}
		includes = append(includes, entry.Statement.Include)
	}

	var statements []types.BaseStatement
	for _, entry := range prefix {
		if entry.Statement.Kind == MetaPayload {
			statements = append(statements, entry.Statement.Payload...)
		}
	}

	body := &types.StatementBlock{
		Reference:  types.BlockReference{Authority: c.self, Round: r},
		Includes:   includes,
		Statements: statements,
		TimeNS:     c.clock.WallNS(),
	}
	body.Reference.Digest = types.ComputeDigest(body)
	block := types.NewBlock(body, types.EncodeBlock(body))

	nextEntry := types.MaxWalPosition
	if len(suffix) > 0 {
		nextEntry = suffix[0].Position
	}

	if _, err := c.store.InsertOwnBlock(block, nextEntry); err != nil {
		return types.Block{}, false, fmt.Errorf("core: insert own block: %w", err)
	}
	if c.syncOnWrite {
		if err := c.w.Sync(); err != nil {
			return types.Block{}, false, fmt.Errorf("core: sync own block: %w", err)
		}
	}

	c.lastOwnBlock = OwnBlockData{NextEntry: nextEntry, Block: block}
	c.pending = append([]PendingEntry(nil), suffix...)

	if err := c.handler.HandleProposal(block); err != nil {
		return types.Block{}, false, fmt.Errorf("core: handle proposal: %w", err)
	}

	return block, true, nil
}

// ReadyNewBlock implements spec.md §4.5's ready_new_block liveness check:
// non-leader rounds never wait, and leader rounds wait for the elected
// leader's block to be visible once the round in question exceeds the
// larger of last_commit_round and period-1.
func (c *Core) ReadyNewBlock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.thresholdClock.GetRound()
	if uint64(q)%c.period != 1 {
		return true
	}

	floor := c.lastCommitRound
	if types.RoundNumber(c.period-1) > floor {
		floor = types.RoundNumber(c.period - 1)
	}
	if q <= floor {
		return false
	}

	l := q - 1
	leader := c.committee.ElectLeader(types.RoundNumber(uint64(l) / c.period))
	return c.store.Exists(leader, l)
}

// TryCommit implements spec.md §4.7/§4.8's commit path: asks the
// Committer for newly decided leaders, resolves their sub-DAGs and vote
// side effects via the CommitObserver, durably records the result under
// WAL_ENTRY_COMMIT, and advances last_commit_round to the max round
// consumed.
func (c *Core) TryCommit() ([]commitinterpreter.CommitData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	leaders := c.committer.TryCommit(c.lastCommitRound)
	if len(leaders) == 0 {
		return nil, nil
	}

	records, err := c.observer.HandleCommit(leaders)
	if err != nil {
		return nil, fmt.Errorf("core: handle commit: %w", err)
	}

	state := c.handler.State()
	payload := commitinterpreter.EncodeCommitRecord(records, state)
	if _, err := c.w.Write(wal.TagCommit, payload); err != nil {
		return nil, fmt.Errorf("core: write commit record: %w", err)
	}

	for _, leader := range leaders {
		if leader.Round() > c.lastCommitRound {
			c.lastCommitRound = leader.Round()
		}
	}

	return records, nil
}

// WriteState snapshots the block handler's aggregator state under
// WAL_ENTRY_STATE — called periodically and once more during the final
// shutdown drain (spec.md §5 "Cancellation").
func (c *Core) WriteState() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.w.Write(wal.TagState, c.handler.State())
	if err != nil {
		return fmt.Errorf("core: write state: %w", err)
	}
	return nil
}

// LastCommitRound returns the highest round consumed by TryCommit so far.
func (c *Core) LastCommitRound() types.RoundNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCommitRound
}

// CurrentRound returns the threshold clock's current round.
func (c *Core) CurrentRound() types.RoundNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thresholdClock.GetRound()
}
