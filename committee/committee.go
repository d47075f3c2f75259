// Package committee holds the fixed authority set for an epoch: who is
// in it, how much stake each authority carries, and the stake-weighted
// quorum thresholds every other component measures votes against.
package committee

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/olekukonko/tablewriter"

	"mysticeti/types"
)

// Authority is one committee member's static identity.
type Authority struct {
	Index types.AuthorityIndex
	Stake uint64
}

// Committee is the fixed, ordered authority set for an epoch. Dynamic
// committee membership mid-epoch is a Non-goal (spec.md §1): there is no
// mutation API here, only construction and queries.
type Committee struct {
	authorities []Authority
	totalStake  *uint256.Int
}

// New builds a Committee from per-authority stakes, indexed by slice
// position. Every stake must be non-zero.
func New(stakes []uint64) (*Committee, error) {
	if len(stakes) == 0 {
		return nil, fmt.Errorf("committee: empty authority set")
	}
	total := uint256.NewInt(0)
	authorities := make([]Authority, len(stakes))
	for i, s := range stakes {
		if s == 0 {
			return nil, fmt.Errorf("committee: authority %d has zero stake", i)
		}
		authorities[i] = Authority{Index: types.AuthorityIndex(i), Stake: s}
		total.Add(total, uint256.NewInt(s))
	}
	return &Committee{authorities: authorities, totalStake: total}, nil
}

// Size is the number of authorities in the committee.
func (c *Committee) Size() int { return len(c.authorities) }

// Stake returns authority a's stake, or 0 if a is out of range.
func (c *Committee) Stake(a types.AuthorityIndex) uint64 {
	if int(a) < 0 || int(a) >= len(c.authorities) {
		return 0
	}
	return c.authorities[int(a)].Stake
}

// TotalStake is the sum of every authority's stake.
func (c *Committee) TotalStake() uint64 {
	return c.totalStake.Uint64()
}

// Authorities returns the committee member list in index order. The
// returned slice must not be mutated by the caller.
func (c *Committee) Authorities() []Authority { return c.authorities }

// Valid reports whether a is a known authority index.
func (c *Committee) Valid(a types.AuthorityIndex) bool {
	return int(a) >= 0 && int(a) < len(c.authorities)
}

// quorumThreshold returns ceil(2*totalStake/3) + ... expressed as the
// smallest stake sum strictly greater than 2/3 of total, i.e. 2f+1 out
// of 3f+1 when stake is uniform. Computed with uint256 so a committee
// with near-2^64 total stake never silently overflows plain uint64 math.
func (c *Committee) quorumThreshold() *uint256.Int {
	two := uint256.NewInt(2)
	three := uint256.NewInt(3)
	num := new(uint256.Int).Mul(c.totalStake, two)
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(num, three, r)
	q.AddUint64(q, 1)
	return q
}

// validityThreshold returns the smallest stake sum strictly greater than
// 1/3 of total, i.e. f+1 out of 3f+1 when stake is uniform: enough to
// guarantee at least one honest authority contributed.
func (c *Committee) validityThreshold() *uint256.Int {
	three := uint256.NewInt(3)
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(c.totalStake, three, r)
	q.AddUint64(q, 1)
	return q
}

// QuorumThreshold is the minimum stake sum (2f+1 of 3f+1) required for a
// quorum certificate.
func (c *Committee) QuorumThreshold() uint64 { return c.quorumThreshold().Uint64() }

// ValidityThreshold is the minimum stake sum (f+1 of 3f+1) guaranteeing
// at least one honest contributor.
func (c *Committee) ValidityThreshold() uint64 { return c.validityThreshold().Uint64() }

// ReachedQuorum reports whether stakeSum meets the quorum threshold.
func (c *Committee) ReachedQuorum(stakeSum uint64) bool {
	return stakeSum >= c.QuorumThreshold()
}

// ReachedValidity reports whether stakeSum meets the validity threshold.
func (c *Committee) ReachedValidity(stakeSum uint64) bool {
	return stakeSum >= c.ValidityThreshold()
}

// StakeAggregator accumulates stake contributions from distinct
// authorities, used by every quorum/validity vote-counting loop
// (ThresholdClockAggregator, TransactionAggregator, the committer) so
// that "one authority, one contribution" is enforced in a single place.
type StakeAggregator struct {
	committee *Committee
	seen      map[types.AuthorityIndex]struct{}
	sum       uint64
}

// NewStakeAggregator creates an empty aggregator bound to c.
func NewStakeAggregator(c *Committee) *StakeAggregator {
	return &StakeAggregator{committee: c, seen: make(map[types.AuthorityIndex]struct{})}
}

// Add records a's contribution, if a has not already contributed, and
// returns whether this call made ReachedQuorum newly true.
func (s *StakeAggregator) Add(a types.AuthorityIndex) (newQuorum bool) {
	if !s.committee.Valid(a) {
		return false
	}
	if _, ok := s.seen[a]; ok {
		return false
	}
	before := s.committee.ReachedQuorum(s.sum)
	s.seen[a] = struct{}{}
	s.sum += s.committee.Stake(a)
	after := s.committee.ReachedQuorum(s.sum)
	return !before && after
}

// ReachedQuorum reports whether accumulated stake meets quorum.
func (s *StakeAggregator) ReachedQuorum() bool { return s.committee.ReachedQuorum(s.sum) }

// ReachedValidity reports whether accumulated stake meets validity.
func (s *StakeAggregator) ReachedValidity() bool { return s.committee.ReachedValidity(s.sum) }

// Stake returns the accumulated stake sum so far.
func (s *StakeAggregator) Stake() uint64 { return s.sum }

// Voters returns every authority that has contributed so far, in no
// particular order. Used by state-snapshot code that needs to persist
// and later replay the exact contributor set.
func (s *StakeAggregator) Voters() []types.AuthorityIndex {
	out := make([]types.AuthorityIndex, 0, len(s.seen))
	for a := range s.seen {
		out = append(out, a)
	}
	return out
}

// String renders a stake table for logs, the same tablewriter-based
// pretty-print idiom the teacher uses for CLI output tables.
func (c *Committee) String() string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"authority", "stake"})
	for _, a := range c.authorities {
		table.Append([]string{fmt.Sprintf("%d", a.Index), fmt.Sprintf("%d", a.Stake)})
	}
	table.Render()
	return sb.String()
}
