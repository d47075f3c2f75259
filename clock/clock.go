// Package clock is the single injected time source every other
// component reads from, matching spec.md §9's "Global state. None. All
// time comes from an injected clock" design note. It is split into its
// own leaf package (rather than living on core.Core) so that
// blockhandler, which needs timestamps for latency tracking, does not
// have to import core and create a cycle.
package clock

import (
	"sync"
	"time"

	"github.com/aristanetworks/goarista/monotime"
)

// Clock is the interface every timestamped operation reads from.
// WallNS is used for the StatementBlock.TimeNS field (needs to mean
// roughly the same thing across machines); MonoNS is used for latency
// and cleanup-horizon measurements, which must never run backward
// because of an NTP step.
type Clock interface {
	WallNS() uint64
	MonoNS() uint64
}

// System is the production Clock: wall-clock time from time.Now(),
// monotonic time from goarista/monotime (a cheap VDSO-backed read, the
// same library the teacher's dependency set carries for this purpose).
type System struct{}

func (System) WallNS() uint64 { return uint64(time.Now().UnixNano()) }
func (System) MonoNS() uint64 { return uint64(monotime.Now()) }

// Manual is a deterministic Clock for tests: both readings only change
// when Advance is called.
type Manual struct {
	mu   sync.Mutex
	wall uint64
	mono uint64
}

// NewManual creates a Manual clock starting at the given readings.
func NewManual(wall, mono uint64) *Manual {
	return &Manual{wall: wall, mono: mono}
}

func (m *Manual) WallNS() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wall
}

func (m *Manual) MonoNS() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mono
}

// Advance moves both readings forward by the given deltas.
func (m *Manual) Advance(wallDelta, monoDelta uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wall += wallDelta
	m.mono += monoDelta
}
