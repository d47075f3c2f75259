// Package thresholdclock implements the logical clock that decides when
// a new round has been reached: the threshold clock advances once a
// large enough slice of the committee's stake has been observed
// proposing at the current round.
package thresholdclock

import (
	mapset "github.com/deckarep/golang-set"

	"mysticeti/committee"
	"mysticeti/types"
)

// Aggregator is spec.md §4.4's ThresholdClockAggregator.
type Aggregator struct {
	committee    *committee.Committee
	currentRound types.RoundNumber
	seenAtRound  map[types.RoundNumber]*committee.StakeAggregator
	rounds       mapset.Set // of types.RoundNumber, for iteration/debugging only
}

// New creates an Aggregator starting at round 0.
func New(c *committee.Committee) *Aggregator {
	return &Aggregator{
		committee:   c,
		seenAtRound: make(map[types.RoundNumber]*committee.StakeAggregator),
		rounds:      mapset.NewSet(),
	}
}

// AddBlock records that reference.Authority proposed at reference.Round,
// then advances current_round as far as consecutive rounds keep meeting
// the validity threshold (f+1 stake) — the spec's "threshold clock"
// stake bar, deliberately looser than the 2f+1 quorum bar used elsewhere,
// since all that's needed to know a round has truly started is hearing
// from at least one honest authority.
func (a *Aggregator) AddBlock(reference types.BlockReference) {
	agg, ok := a.seenAtRound[reference.Round]
	if !ok {
		agg = committee.NewStakeAggregator(a.committee)
		a.seenAtRound[reference.Round] = agg
		a.rounds.Add(reference.Round)
	}
	agg.Add(reference.Authority)

	for {
		cur, ok := a.seenAtRound[a.currentRound]
		if !ok || !cur.ReachedValidity() {
			break
		}
		a.currentRound++
	}
}

// GetRound returns the current threshold-clock round. Monotonic: never
// decreases across any sequence of AddBlock calls (spec.md §8 property
// 4).
func (a *Aggregator) GetRound() types.RoundNumber { return a.currentRound }

// ValidateBlock reports whether block is valid against the threshold
// clock: the stake-weighted union of its ancestors at round
// reference.Round-1 must already meet the (2f+1) quorum threshold.
// Round 0 (genesis) blocks have no such ancestors and are always valid.
func ValidateBlock(block *types.StatementBlock, c *committee.Committee) bool {
	if block.Reference.Round == 0 {
		return true
	}
	agg := committee.NewStakeAggregator(c)
	parentRound := block.Reference.Round - 1
	for _, inc := range block.Includes {
		if inc.Round == parentRound {
			agg.Add(inc.Authority)
		}
	}
	return agg.ReachedQuorum()
}
