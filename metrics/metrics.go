// Package metrics holds the in-process counters and gauges spec.md's
// surrounding system (Core, the block handler, the synchronizer) feeds
// as it runs. No external metrics client library is wired here: the
// teacher's own go.mod carries no instrumentation client either (its
// prometheus/prometheus and prometheus/tsdb entries are the TSDB
// server, not a client, and nothing in the retrieved teacher source
// exercises them — see DESIGN.md's dropped-dependency ledger), so
// plain atomically-updated counters are the idiomatic fallback here,
// the same shape go-ethereum's own non-expvar counters take. Resident
// memory and WAL file size are sampled periodically via gosigar, the
// teacher's go.mod dependency for exactly this ambient resource-gauge
// concern.
package metrics

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	sigar "github.com/elastic/gosigar"
)

// Metrics is the full set of counters and gauges named after
// original_source/.../block_handler.rs's metrics fields, supplemented
// with the synchronizer- and process-level gauges spec.md §6/§9
// reference.
type Metrics struct {
	// Counters (monotonically increasing, atomic).
	blockSyncRequestsSent     uint64
	blockSyncRequestsReceived uint64
	blocksHandled             uint64

	// Gauges (point-in-time, atomic).
	missingBlocks                    int64
	blockHandlerPendingCertificates  int64
	commitHandlerPendingCertificates int64
	walFileSizeBytes                 int64
	residentMemoryBytes              int64

	mu                         sync.Mutex
	benchmarkStart             time.Time
	latencySumNS               uint64
	latencySquaredSumNS        float64
	latencySamples             uint64
	transactionCommittedSumNS  uint64
	transactionCommittedCount  uint64
	certificateCommittedSumNS  uint64
	certificateCommittedCount  uint64
}

// New creates an empty Metrics with BenchmarkStart set to now, matching
// the teacher's pattern of stamping a start time at process launch for
// a benchmark_duration gauge.
func New() *Metrics {
	return &Metrics{benchmarkStart: time.Now()}
}

// BenchmarkDuration reports elapsed time since New was called.
func (m *Metrics) BenchmarkDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.benchmarkStart)
}

// IncBlockSyncRequestsSent records one outbound RequestBlocks message.
func (m *Metrics) IncBlockSyncRequestsSent() { atomic.AddUint64(&m.blockSyncRequestsSent, 1) }

// IncBlockSyncRequestsReceived records one inbound block-sync request,
// found or not (spec.md §6's send_blocks loop increments this per
// reference it is asked to resolve).
func (m *Metrics) IncBlockSyncRequestsReceived() {
	atomic.AddUint64(&m.blockSyncRequestsReceived, 1)
}

// IncBlocksHandled records one block having passed through the block
// handler.
func (m *Metrics) IncBlocksHandled() { atomic.AddUint64(&m.blocksHandled, 1) }

// BlocksHandled returns the running count of blocks passed through the
// block handler.
func (m *Metrics) BlocksHandled() uint64 { return atomic.LoadUint64(&m.blocksHandled) }

// BlockSyncRequestsSent returns the running count of outbound
// RequestBlocks messages.
func (m *Metrics) BlockSyncRequestsSent() uint64 { return atomic.LoadUint64(&m.blockSyncRequestsSent) }

// BlockSyncRequestsReceived returns the running count of inbound
// block-sync requests handled.
func (m *Metrics) BlockSyncRequestsReceived() uint64 {
	return atomic.LoadUint64(&m.blockSyncRequestsReceived)
}

// MissingBlocks returns the most recently published missing-ancestor
// count.
func (m *Metrics) MissingBlocks() int64 { return atomic.LoadInt64(&m.missingBlocks) }

// SetMissingBlocks publishes blockmanager.BlockManager.MissingCount.
func (m *Metrics) SetMissingBlocks(n int) { atomic.StoreInt64(&m.missingBlocks, int64(n)) }

// SetBlockHandlerPendingCertificates publishes the transaction
// aggregator's not-yet-certified count.
func (m *Metrics) SetBlockHandlerPendingCertificates(n int) {
	atomic.StoreInt64(&m.blockHandlerPendingCertificates, int64(n))
}

// SetCommitHandlerPendingCertificates publishes the commit path's
// not-yet-certified count (distinct from the block handler's, since
// commit latency is measured from a different vantage point).
func (m *Metrics) SetCommitHandlerPendingCertificates(n int) {
	atomic.StoreInt64(&m.commitHandlerPendingCertificates, int64(n))
}

// ObserveCommitLatency implements commitinterpreter.LatencyRecorder: it
// folds d into latency_s/latency_squared_s (for a running mean/variance)
// and into certificate_committed_latency.
func (m *Metrics) ObserveCommitLatency(d time.Duration) {
	ns := uint64(d.Nanoseconds())
	atomic.AddUint64(&m.latencySumNS, ns)
	atomic.AddUint64(&m.latencySamples, 1)
	atomic.AddUint64(&m.certificateCommittedSumNS, ns)
	atomic.AddUint64(&m.certificateCommittedCount, 1)

	m.mu.Lock()
	m.latencySquaredSumNS += float64(ns) * float64(ns)
	m.mu.Unlock()
}

// ObserveTransactionCommittedLatency records the time from a
// transaction's inclusion in a share to its commit.
func (m *Metrics) ObserveTransactionCommittedLatency(d time.Duration) {
	atomic.AddUint64(&m.transactionCommittedSumNS, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.transactionCommittedCount, 1)
}

// LatencySnapshot is a point-in-time read of the latency accumulators.
type LatencySnapshot struct {
	MeanCommitLatency        time.Duration
	CommitLatencySamples     uint64
	MeanTransactionLatency   time.Duration
	TransactionLatencySample uint64
	MeanCertificateLatency   time.Duration
	CertificateLatencySample uint64
}

// Snapshot reads every accumulator and reduces it to a mean.
func (m *Metrics) Snapshot() LatencySnapshot {
	samples := atomic.LoadUint64(&m.latencySamples)
	sum := atomic.LoadUint64(&m.latencySumNS)
	var mean time.Duration
	if samples > 0 {
		mean = time.Duration(sum / samples)
	}

	txCount := atomic.LoadUint64(&m.transactionCommittedCount)
	txSum := atomic.LoadUint64(&m.transactionCommittedSumNS)
	var txMean time.Duration
	if txCount > 0 {
		txMean = time.Duration(txSum / txCount)
	}

	certCount := atomic.LoadUint64(&m.certificateCommittedCount)
	certSum := atomic.LoadUint64(&m.certificateCommittedSumNS)
	var certMean time.Duration
	if certCount > 0 {
		certMean = time.Duration(certSum / certCount)
	}

	return LatencySnapshot{
		MeanCommitLatency:        mean,
		CommitLatencySamples:     samples,
		MeanTransactionLatency:   txMean,
		TransactionLatencySample: txCount,
		MeanCertificateLatency:   certMean,
		CertificateLatencySample: certCount,
	}
}

// SampleResources refreshes the WAL-file-size and resident-memory
// gauges. Intended to be called periodically (e.g. every few seconds)
// from cmd/mysticeti's main loop, not from the hot path.
func (m *Metrics) SampleResources(walPath string) {
	if info, err := os.Stat(walPath); err == nil {
		atomic.StoreInt64(&m.walFileSizeBytes, info.Size())
	}

	procMem := sigar.ProcMem{}
	if err := procMem.Get(os.Getpid()); err == nil {
		atomic.StoreInt64(&m.residentMemoryBytes, int64(procMem.Resident))
	}
}

// WALFileSizeBytes returns the most recently sampled WAL file size.
func (m *Metrics) WALFileSizeBytes() int64 { return atomic.LoadInt64(&m.walFileSizeBytes) }

// ResidentMemoryBytes returns the most recently sampled process resident
// set size.
func (m *Metrics) ResidentMemoryBytes() int64 { return atomic.LoadInt64(&m.residentMemoryBytes) }
