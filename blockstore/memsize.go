package blockstore

import "github.com/fjl/memsize"

// DebugMemSize reports the in-memory footprint of the block index,
// primarily for operational dashboards and manual debugging sessions —
// the same role fjl/memsize plays in the teacher repo's dependency set.
func (s *BlockStore) DebugMemSize() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report := memsize.Scan(s.index)
	return report.Report()
}
