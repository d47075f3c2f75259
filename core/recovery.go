package core

import (
	"fmt"

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

// RecoveredState is everything spec.md §4.2's open(wal_reader) rebuilds
// from a single front-to-back WAL scan.
type RecoveredState struct {
	Store   *blockstore.BlockStore
	Manager *blockmanager.BlockManager

	LastOwnBlock OwnBlockData
	Pending      []PendingEntry

	HandlerState      []byte
	UnprocessedBlocks []types.Block

	LastCommittedLeader types.RoundNumber
	CommittedBlocks     []types.BlockReference
	CommittedState      []byte

	ThresholdClock *thresholdclock.Aggregator

	// Empty is true if the WAL contained no records at all — the signal
	// for the caller to run Bootstrap instead of NewFromRecovered's normal
	// wiring.
	Empty bool
}

// Recover scans reader front to back and applies spec.md §4.2's six
// recovery rules:
//
//  1. WAL_ENTRY_BLOCK: index into the block store at its position.
//  2. WAL_ENTRY_PAYLOAD: append as Payload to the in-progress pending
//     accumulator.
//  3. WAL_ENTRY_OWN_BLOCK: update last_own_block, then truncate the
//     pending accumulator to entries at or after its recorded next_entry
//     (entries before it were covered by that own block). This truncate-
//     on-own-block strategy is equivalent to filtering rule 2's payloads
//     and the Include entries rule 1 implies by "position >= the then-
//     current last_own_block.next_entry", since own-block records only
//     ever appear after the entries they cover and are processed in the
//     same front-to-back order.
//  4. WAL_ENTRY_STATE: retain only the latest; candidate for HandlerState.
//  5. WAL_ENTRY_COMMIT: retain only the latest; its block set becomes
//     CommittedBlocks, its state is the other candidate for HandlerState,
//     and the max-round anchor becomes LastCommittedLeader.
//  6. UnprocessedBlocks: every WAL_ENTRY_BLOCK-indexed block at a position
//     strictly after whichever of rules 4/5's two candidate snapshots sits
//     later in the WAL (or every such block, if neither exists yet) — that
//     snapshot becomes HandlerState, since it is the only one of the two
//     that is caught up with every vote those blocks carry; the other,
//     older candidate is discarded rather than applied afterward, since
//     applying both in sequence would let whichever runs second silently
//     overwrite the genuinely newer one.
func Recover(reader *wal.Reader, w *wal.Writer, selfAuthority types.AuthorityIndex, cacheSize int, c *committee.Committee) (*RecoveredState, error) {
	store, err := blockstore.New(w, selfAuthority, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("core: recover: new block store: %w", err)
	}
	manager := blockmanager.New(store)
	tc := thresholdclock.New(c)

	var (
		pending             []PendingEntry
		lastOwnBlock        OwnBlockData
		handlerState        []byte
		haveStatePos        bool
		latestStatePos      types.WalPosition
		committedBlocks     []types.BlockReference
		committedState      []byte
		haveCommitPos       bool
		latestCommitPos     types.WalPosition
		lastCommittedLeader types.RoundNumber
		sawAnyRecord        bool
	)

	type blockAt struct {
		pos types.WalPosition
		blk types.Block
	}
	var blockPositions []blockAt

	err = reader.Replay(func(rec wal.Record) error {
		sawAnyRecord = true

		switch rec.Tag {
		case wal.TagBlock:
			value, err := types.DecodeBlock(rec.Payload)
			if err != nil {
				return fmt.Errorf("decode block at %d: %w", rec.Position, err)
			}
			blk := types.NewBlock(value, rec.Payload)
			store.IndexRecovered(blk, rec.Position)
			tc.AddBlock(blk.Reference())
			pending = append(pending, PendingEntry{Position: rec.Position, Statement: NewInclude(blk.Reference())})
			blockPositions = append(blockPositions, blockAt{pos: rec.Position, blk: blk})

		case wal.TagPayload:
			statements, err := types.DecodeStatements(rec.Payload)
			if err != nil {
				return fmt.Errorf("decode payload at %d: %w", rec.Position, err)
			}
			pending = append(pending, PendingEntry{Position: rec.Position, Statement: NewPayload(statements)})

		case wal.TagOwnBlock:
			nextEntry, blockBytes, err := blockstore.DecodeOwnBlockPayload(rec.Payload)
			if err != nil {
				return fmt.Errorf("decode own block at %d: %w", rec.Position, err)
			}
			value, err := types.DecodeBlock(blockBytes)
			if err != nil {
				return fmt.Errorf("decode own block body at %d: %w", rec.Position, err)
			}
			blk := types.NewBlock(value, blockBytes)
			store.IndexRecovered(blk, rec.Position)
			tc.AddBlock(blk.Reference())

			truncated := pending[:0:0]
			for _, entry := range pending {
				if entry.Position >= nextEntry {
					truncated = append(truncated, entry)
				}
			}
			pending = truncated
			lastOwnBlock = OwnBlockData{NextEntry: nextEntry, Block: blk}

		case wal.TagState:
			handlerState = append([]byte(nil), rec.Payload...)
			latestStatePos = rec.Position
			haveStatePos = true

		case wal.TagCommit:
			records, state, err := commitinterpreter.DecodeCommitRecord(rec.Payload)
			if err != nil {
				return fmt.Errorf("decode commit at %d: %w", rec.Position, err)
			}
			committedState = state
			latestCommitPos = rec.Position
			haveCommitPos = true
			committedBlocks = committedBlocks[:0]
			for _, r := range records {
				committedBlocks = append(committedBlocks, r.Anchor)
				committedBlocks = append(committedBlocks, r.SubDag...)
				if r.Anchor.Round > lastCommittedLeader {
					lastCommittedLeader = r.Anchor.Round
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("core: recover: replay: %w", err)
	}

	// Two independent snapshots of the handler's aggregator state may
	// exist on the WAL: the periodic WAL_ENTRY_STATE record and the one
	// embedded in the latest WAL_ENTRY_COMMIT record (TryCommit snapshots
	// handler.State() at commit time the same way WriteState does). Only
	// the chronologically later of the two is genuinely caught up with
	// the votes recorded on the WAL; restoring both in sequence (as an
	// earlier revision of this function did, via RecoverCommitted) lets
	// whichever call happens last silently clobber the other, and computes
	// UnprocessedBlocks against the wrong base state if that loser was the
	// fresher one.
	effectiveState := handlerState
	haveEffectivePos := haveStatePos
	effectivePos := latestStatePos
	if haveCommitPos && (!haveStatePos || latestCommitPos > latestStatePos) {
		effectiveState = committedState
		haveEffectivePos = true
		effectivePos = latestCommitPos
	}

	var unprocessed []types.Block
	for _, bp := range blockPositions {
		if !haveEffectivePos || bp.pos > effectivePos {
			unprocessed = append(unprocessed, bp.blk)
		}
	}

	return &RecoveredState{
		Store:               store,
		Manager:              manager,
		LastOwnBlock:         lastOwnBlock,
		Pending:              pending,
		HandlerState:         effectiveState,
		UnprocessedBlocks:    unprocessed,
		LastCommittedLeader:  lastCommittedLeader,
		CommittedBlocks:      committedBlocks,
		CommittedState:       committedState,
		ThresholdClock:       tc,
		Empty:                !sawAnyRecord,
	}, nil
}

// NewFromRecovered builds a ready-to-use Core from state produced by
// Recover, restoring the block handler's aggregator state, the commit
// observer's committed-references set, and replaying any unprocessed
// blocks through the handler before returning.
func NewFromRecovered(state *RecoveredState, w *wal.Writer, handler blockhandler.Handler, cm *committer.Committer, observer commitinterpreter.Observer, clk clock.Clock, cfg Config) (*Core, error) {
	c := &Core{
		self:            cfg.SelfAuthority,
		committee:       cfg.Committee,
		period:          cfg.Period,
		syncOnWrite:     cfg.SyncOnWrite,
		w:               w,
		store:           state.Store,
		manager:         state.Manager,
		handler:         handler,
		clock:           clk,
		committer:       cm,
		observer:        observer,
		thresholdClock:  state.ThresholdClock,
		pending:         state.Pending,
		lastOwnBlock:    state.LastOwnBlock,
		lastCommitRound: state.LastCommittedLeader,
	}

	// state.HandlerState already resolved to whichever of the periodic
	// WAL_ENTRY_STATE snapshot or the latest commit record's embedded
	// snapshot is chronologically newer (see Recover) — restore it here,
	// once, and pass observer.RecoverCommitted a nil state so it only
	// seeds the committed-references set without re-applying either
	// snapshot a second time.
	if state.HandlerState != nil {
		if err := handler.RecoverState(state.HandlerState); err != nil {
			return nil, fmt.Errorf("core: recover handler state: %w", err)
		}
	}

	if err := observer.RecoverCommitted(state.CommittedBlocks, nil); err != nil {
		return nil, fmt.Errorf("core: recover committed: %w", err)
	}

	if len(state.UnprocessedBlocks) > 0 {
		if err := c.RunBlockHandler(state.UnprocessedBlocks); err != nil {
			return nil, fmt.Errorf("core: replay unprocessed blocks: %w", err)
		}
	}

	return c, nil
}
