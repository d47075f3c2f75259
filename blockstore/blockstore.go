// Package blockstore indexes every known StatementBlock by reference,
// keeping the decoded blocks themselves in the write-ahead log and an
// ARC cache in front of it (the same lru.ARCCache-in-front-of-expensive-
// lookup idiom the teacher uses for its inmemorySnapshots/inmemorySigners
// caches in consensus/bsrr/berith.go) rather than holding every block
// resident forever.
package blockstore

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"mysticeti/types"
	"mysticeti/wal"
)

// BlockStore is the in-memory index over blocks described by spec.md
// §4.2: insert at position, lookup by reference, enumerate own blocks
// from round R, enumerate blocks authored by X from round R, and
// exists(author, round).
type BlockStore struct {
	mu sync.RWMutex

	w             *wal.Writer
	selfAuthority types.AuthorityIndex

	index      map[types.BlockReference]types.WalPosition
	byAuthor   map[types.AuthorityIndex]map[types.RoundNumber][]types.BlockReference
	ownBlocks  []types.BlockReference // refs authored by selfAuthority, round-ascending

	cache *lru.ARCCache // types.BlockReference -> types.Block
}

// New creates an empty BlockStore writing new blocks through w.
// cacheSize bounds the number of decoded blocks held resident at once.
func New(w *wal.Writer, selfAuthority types.AuthorityIndex, cacheSize int) (*BlockStore, error) {
	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("blockstore: %w", err)
	}
	return &BlockStore{
		w:             w,
		selfAuthority: selfAuthority,
		index:         make(map[types.BlockReference]types.WalPosition),
		byAuthor:      make(map[types.AuthorityIndex]map[types.RoundNumber][]types.BlockReference),
		cache:         cache,
	}, nil
}

// InsertBlock durably writes blk if its reference is not already known,
// and indexes it either way. Idempotent: inserting the same reference
// twice returns the original position without writing again (spec.md
// §4.2 "insert_block ... Idempotent on repeated inserts of equal
// references").
func (s *BlockStore) InsertBlock(blk types.Block) (types.WalPosition, error) {
	ref := blk.Reference()

	s.mu.Lock()
	if pos, ok := s.index[ref]; ok {
		s.mu.Unlock()
		return pos, nil
	}
	s.mu.Unlock()

	pos, err := s.w.Write(wal.TagBlock, blk.Bytes())
	if err != nil {
		return 0, err
	}
	s.index2(ref, pos, blk)
	return pos, nil
}

// IndexRecovered records a block already present in the WAL at pos,
// without writing it again — used by the recovery scan in package core,
// which reads WAL_ENTRY_BLOCK records directly off the replay iterator.
func (s *BlockStore) IndexRecovered(blk types.Block, pos types.WalPosition) {
	s.index2(blk.Reference(), pos, blk)
}

func (s *BlockStore) index2(ref types.BlockReference, pos types.WalPosition, blk types.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[ref]; ok {
		return
	}
	s.index[ref] = pos
	s.cache.Add(ref, blk)

	byRound, ok := s.byAuthor[ref.Authority]
	if !ok {
		byRound = make(map[types.RoundNumber][]types.BlockReference)
		s.byAuthor[ref.Authority] = byRound
	}
	byRound[ref.Round] = append(byRound[ref.Round], ref)

	if ref.Authority == s.selfAuthority {
		s.ownBlocks = append(s.ownBlocks, ref)
		sort.Slice(s.ownBlocks, func(i, j int) bool {
			return s.ownBlocks[i].Round < s.ownBlocks[j].Round
		})
	}
}

// InsertOwnBlock writes blk under WAL_ENTRY_OWN_BLOCK (the OwnBlockData
// encoding: next_entry followed by the block's own bytes, spec.md §4.2
// "insert_own_block") and indexes it exactly as InsertBlock would. Unlike
// InsertBlock, this is never idempotent-by-reference: Core calls it once
// per successful try_new_block, for a reference that is by construction
// new.
func (s *BlockStore) InsertOwnBlock(blk types.Block, nextEntry types.WalPosition) (types.WalPosition, error) {
	payload := EncodeOwnBlockPayload(nextEntry, blk.Bytes())
	pos, err := s.w.Write(wal.TagOwnBlock, payload)
	if err != nil {
		return 0, err
	}
	s.index2(blk.Reference(), pos, blk)
	return pos, nil
}

// EncodeOwnBlockPayload serializes the WAL_ENTRY_OWN_BLOCK payload: an
// 8-byte little-endian next_entry position followed by the block's own
// canonical bytes.
func EncodeOwnBlockPayload(nextEntry types.WalPosition, blockBytes []byte) []byte {
	out := make([]byte, 8+len(blockBytes))
	binary.LittleEndian.PutUint64(out[:8], uint64(nextEntry))
	copy(out[8:], blockBytes)
	return out
}

// DecodeOwnBlockPayload is EncodeOwnBlockPayload's inverse, used both by
// GetBlock's cache-miss path and by core's WAL recovery scan.
func DecodeOwnBlockPayload(payload []byte) (types.WalPosition, []byte, error) {
	if len(payload) < 8 {
		return 0, nil, fmt.Errorf("blockstore: own-block payload too short: %d bytes", len(payload))
	}
	nextEntry := types.WalPosition(binary.LittleEndian.Uint64(payload[:8]))
	return nextEntry, payload[8:], nil
}

// GetBlock returns the decoded block for ref, reading through the ARC
// cache and falling back to a random-access WAL read on a miss. Own
// blocks are stored under a different tag (WAL_ENTRY_OWN_BLOCK) with an
// extra next_entry prefix, so a cache-miss read dispatches on the
// returned record's tag before decoding.
func (s *BlockStore) GetBlock(ref types.BlockReference) (types.Block, bool, error) {
	s.mu.RLock()
	if cached, ok := s.cache.Get(ref); ok {
		s.mu.RUnlock()
		return cached.(types.Block), true, nil
	}
	pos, ok := s.index[ref]
	s.mu.RUnlock()
	if !ok {
		return types.Block{}, false, nil
	}

	rec, err := s.w.ReadAt(pos)
	if err != nil {
		return types.Block{}, false, err
	}

	payload := rec.Payload
	if rec.Tag == wal.TagOwnBlock {
		_, blockBytes, err := DecodeOwnBlockPayload(payload)
		if err != nil {
			return types.Block{}, false, err
		}
		payload = blockBytes
	}

	value, err := types.DecodeBlock(payload)
	if err != nil {
		return types.Block{}, false, err
	}
	blk := types.NewBlock(value, payload)

	s.mu.Lock()
	s.cache.Add(ref, blk)
	s.mu.Unlock()

	return blk, true, nil
}

// Exists reports whether any block by author at round is known.
func (s *BlockStore) Exists(author types.AuthorityIndex, round types.RoundNumber) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byRound, ok := s.byAuthor[author]
	if !ok {
		return false
	}
	return len(byRound[round]) > 0
}

// BlocksByAuthorFromRound returns every known reference authored by
// author at round >= fromRound, round-ascending.
func (s *BlockStore) BlocksByAuthorFromRound(author types.AuthorityIndex, fromRound types.RoundNumber) []types.BlockReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byRound, ok := s.byAuthor[author]
	if !ok {
		return nil
	}
	var out []types.BlockReference
	for round, refs := range byRound {
		if round >= fromRound {
			out = append(out, refs...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].Authority < out[j].Authority
	})
	return out
}

// OwnBlocksFromRound returns this authority's own blocks at round >=
// fromRound, round-ascending.
func (s *BlockStore) OwnBlocksFromRound(fromRound types.RoundNumber) []types.BlockReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.BlockReference
	for _, ref := range s.ownBlocks {
		if ref.Round >= fromRound {
			out = append(out, ref)
		}
	}
	return out
}

// BlocksAtRound returns every block reference at exactly round, across all
// authorities, sorted by authority ascending.
func (s *BlockStore) BlocksAtRound(round types.RoundNumber) []types.BlockReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.BlockReference
	for _, byRound := range s.byAuthor {
		out = append(out, byRound[round]...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Authority < out[j].Authority
	})
	return out
}

// GetOwnBlocks implements spec.md §4.2's get_own_blocks: every one of
// this authority's own blocks at a round strictly greater than
// fromRound, round-ascending, capped at batchSize.
func (s *BlockStore) GetOwnBlocks(fromRound types.RoundNumber, batchSize int) ([]types.Block, error) {
	s.mu.RLock()
	var refs []types.BlockReference
	for _, ref := range s.ownBlocks {
		if ref.Round <= fromRound {
			continue
		}
		refs = append(refs, ref)
		if len(refs) >= batchSize {
			refs = refs[:batchSize]
			break
		}
	}
	s.mu.RUnlock()

	return s.decodeAll(refs)
}

// GetOthersBlocks implements spec.md §4.2's get_others_blocks: every
// known block authored by author at a round strictly greater than
// fromRound, round-ascending, capped at batchSize. Returns nothing for
// author == this BlockStore's own authority — that case is
// GetOwnBlocks's job, not this one's.
func (s *BlockStore) GetOthersBlocks(fromRound types.RoundNumber, author types.AuthorityIndex, batchSize int) ([]types.Block, error) {
	if author == s.selfAuthority {
		return nil, nil
	}

	s.mu.RLock()
	byRound, ok := s.byAuthor[author]
	if !ok {
		s.mu.RUnlock()
		return nil, nil
	}
	rounds := make([]types.RoundNumber, 0, len(byRound))
	for round := range byRound {
		if round > fromRound {
			rounds = append(rounds, round)
		}
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })

	var refs []types.BlockReference
	for _, round := range rounds {
		refs = append(refs, byRound[round]...)
		if len(refs) >= batchSize {
			refs = refs[:batchSize]
			break
		}
	}
	s.mu.RUnlock()

	return s.decodeAll(refs)
}

// decodeAll resolves refs to their decoded blocks via GetBlock, in order.
func (s *BlockStore) decodeAll(refs []types.BlockReference) ([]types.Block, error) {
	out := make([]types.Block, 0, len(refs))
	for _, ref := range refs {
		blk, ok, err := s.GetBlock(ref)
		if err != nil {
			return nil, fmt.Errorf("blockstore: decode %v: %w", ref, err)
		}
		if !ok {
			return nil, fmt.Errorf("blockstore: indexed reference %v missing from WAL", ref)
		}
		out = append(out, blk)
	}
	return out, nil
}

// Len is the number of distinct blocks indexed.
func (s *BlockStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}
