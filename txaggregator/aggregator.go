// Package txaggregator implements the per-transaction stake-weighted
// vote accumulation described in spec.md §4.6: TransactionAggregator.
package txaggregator

import (
	"sync"

	"mysticeti/committee"
	"mysticeti/types"
)

// Status is a transaction's current certification state.
type Status int

const (
	StatusPending Status = iota
	StatusCertified
	StatusRejected
)

type entry struct {
	acceptAgg *committee.StakeAggregator
	rejectAgg *committee.StakeAggregator
	status    Status
}

// Aggregator is spec.md's TransactionAggregator: per TransactionLocator,
// tracks which authorities voted Accept and which voted Reject, firing
// exactly one certified/rejected transition per locator.
type Aggregator struct {
	mu        sync.Mutex
	committee *committee.Committee
	entries   map[types.TransactionLocator]*entry
	log       *Log // optional durable certified-transactions log
}

// New creates an empty Aggregator. log may be nil to disable the
// optional durable certified-transactions log.
func New(c *committee.Committee, log *Log) *Aggregator {
	return &Aggregator{
		committee: c,
		entries:   make(map[types.TransactionLocator]*entry),
		log:       log,
	}
}

func (a *Aggregator) getOrCreate(locator types.TransactionLocator) *entry {
	e, ok := a.entries[locator]
	if !ok {
		e = &entry{
			acceptAgg: committee.NewStakeAggregator(a.committee),
			rejectAgg: committee.NewStakeAggregator(a.committee),
		}
		a.entries[locator] = e
	}
	return e
}

// Vote registers voter's vote for locator. Idempotent per (locator,
// voter): a repeated vote from the same authority, or any vote cast
// after the transaction already left StatusPending, has no effect.
// Returns whether this call is the one transition that certified or
// rejected the transaction.
func (a *Aggregator) Vote(locator types.TransactionLocator, voter types.AuthorityIndex, kind types.VoteKind) (certified, rejected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.getOrCreate(locator)
	if e.status != StatusPending {
		return false, false
	}

	switch kind {
	case types.Accept:
		if e.acceptAgg.Add(voter) {
			e.status = StatusCertified
			if a.log != nil {
				a.log.RecordCertified(locator)
			}
			return true, false
		}
	case types.Reject:
		if e.rejectAgg.Add(voter) {
			e.status = StatusRejected
			return false, true
		}
	}
	return false, false
}

// Status returns locator's current status.
func (a *Aggregator) Status(locator types.TransactionLocator) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[locator]
	if !ok {
		return StatusPending
	}
	return e.status
}

// IsProcessed reports whether locator's voters have reached quorum in
// either direction (spec.md §8 property 5).
func (a *Aggregator) IsProcessed(locator types.TransactionLocator) bool {
	return a.Status(locator) != StatusPending
}

// IsCertified reports whether locator reached an accept quorum.
func (a *Aggregator) IsCertified(locator types.TransactionLocator) bool {
	return a.Status(locator) == StatusCertified
}
