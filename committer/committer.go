// Package committer implements spec.md §4.7's deterministic leader-commit
// rule: a stateless function over a block store snapshot that decides, for
// each elected leader round past the last commit point, whether that
// leader block is committed, skipped, or not yet decidable.
//
// Grounded on original_source/mysticeti-core/src/universal_committer.rs's
// wave-based "decide or skip" structure, adapted to the quorum-intersection
// form of the strong-support rule rather than the original's multi-strategy
// committer-pipeline abstraction (see DESIGN.md for the scope cut).
package committer

import (
	"mysticeti/blockstore"
	"mysticeti/committee"
	"mysticeti/types"
)

// Committer decides committed leaders from the current contents of a
// block store, given a wave length (period) and the committee's elected
// leader schedule.
type Committer struct {
	committee *committee.Committee
	store     *blockstore.BlockStore
	period    uint64
}

// New creates a Committer. period is the number of rounds per wave; a
// leader is elected once per wave, at round wave*period.
func New(c *committee.Committee, store *blockstore.BlockStore, period uint64) *Committer {
	if period == 0 {
		period = 1
	}
	return &Committer{committee: c, store: store, period: period}
}

// TryCommit returns newly decided leader blocks with round strictly
// greater than lastCommitRound, in round-ascending order. It stops at the
// first wave it cannot yet decide (because the block store does not yet
// hold enough of the wave's anchor round to judge support one way or the
// other) — deterministic given a fixed block store snapshot, and it never
// emits a leader at or below lastCommitRound.
func (c *Committer) TryCommit(lastCommitRound types.RoundNumber) []types.Block {
	var out []types.Block

	for wave := uint64(lastCommitRound)/c.period + 1; ; wave++ {
		leaderRound := types.RoundNumber(wave * c.period)
		if leaderRound <= lastCommitRound {
			continue
		}

		leader := c.committee.ElectLeader(types.RoundNumber(wave))
		block, decided := c.decideWave(leader, leaderRound)
		if !decided {
			break
		}
		if block != nil {
			out = append(out, *block)
		}
	}

	return out
}

// decideWave resolves a single leader round using the strong-support rule:
// the leader is committed once a quorum of round (leaderRound+1) blocks are
// known to reference it directly, and is permanently skipped once the
// stake of round (leaderRound+1) blocks known NOT to reference it makes a
// future referencing quorum mathematically impossible. Otherwise the wave
// is not yet decidable and decided is false.
func (c *Committer) decideWave(leader types.AuthorityIndex, leaderRound types.RoundNumber) (block *types.Block, decided bool) {
	successors := c.store.BlocksAtRound(leaderRound + 1)
	if len(successors) == 0 {
		return nil, false
	}

	seen := committee.NewStakeAggregator(c.committee)
	referencing := committee.NewStakeAggregator(c.committee)

	for _, succRef := range successors {
		seen.Add(succRef.Authority)

		succBlock, ok, err := c.store.GetBlock(succRef)
		if err != nil || !ok {
			continue
		}
		if referencesLeader(succBlock, leader, leaderRound) {
			referencing.Add(succRef.Authority)
		}
	}

	if referencing.ReachedQuorum() {
		ref, ok := c.findLeaderBlock(leader, leaderRound)
		if !ok {
			return nil, false
		}
		leaderBlock, ok, err := c.store.GetBlock(ref)
		if err != nil || !ok {
			return nil, false
		}
		return &leaderBlock, true
	}

	// blocking is the stake already confirmed NOT to reference the
	// leader; any stake that could still reference it later is bounded
	// by total minus blocking.
	blocking := seen.Stake() - referencing.Stake()
	maxPossible := c.committee.TotalStake() - blocking
	if maxPossible < c.committee.QuorumThreshold() {
		return nil, true // decided: leader skipped, permanently.
	}

	return nil, false
}

func referencesLeader(block types.Block, leader types.AuthorityIndex, leaderRound types.RoundNumber) bool {
	for _, inc := range block.Includes() {
		if inc.Authority == leader && inc.Round == leaderRound {
			return true
		}
	}
	return false
}

// findLeaderBlock returns the leader's block reference at round, picking
// the lowest digest deterministically in the (Byzantine, off-path) case of
// equivocation.
func (c *Committer) findLeaderBlock(leader types.AuthorityIndex, round types.RoundNumber) (types.BlockReference, bool) {
	refs := c.store.BlocksByAuthorFromRound(leader, round)
	var chosen *types.BlockReference
	for i := range refs {
		if refs[i].Round != round {
			continue
		}
		if chosen == nil || string(refs[i].Digest[:]) < string(chosen.Digest[:]) {
			chosen = &refs[i]
		}
	}
	if chosen == nil {
		return types.BlockReference{}, false
	}
	return *chosen, true
}
