package txaggregator

import (
	"bytes"
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"

	"mysticeti/types"
)

// Log is the optional durable "certified transactions" log spec.md
// §4.6 mentions in passing ("an optional durable 'certified
// transactions' log records the locator"), backed by goleveldb the same
// way the teacher repo uses an embedded key-value store elsewhere in
// its stack.
type Log struct {
	db *leveldb.DB
}

// OpenLog opens (creating if necessary) a certified-transactions log at
// dir.
func OpenLog(dir string) (*Log, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &Log{db: db}, nil
}

// RecordCertified durably records that locator was certified. Errors
// are not propagated to callers on the hot vote path (matching §7's
// policy that only WAL failures are fatal): a failed write here only
// degrades the optional audit log, not correctness, since certification
// itself is tracked in the in-memory Aggregator and the authoritative
// WAL_ENTRY_STATE snapshot regardless.
func (l *Log) RecordCertified(locator types.TransactionLocator) {
	_ = l.db.Put(locatorKey(locator), []byte{1}, nil)
}

// IsCertified reports whether locator was ever recorded as certified.
func (l *Log) IsCertified(locator types.TransactionLocator) (bool, error) {
	return l.db.Has(locatorKey(locator), nil)
}

// Close releases the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

func locatorKey(l types.TransactionLocator) []byte {
	var buf bytes.Buffer
	var head [4 + 8]byte
	binary.LittleEndian.PutUint32(head[0:4], uint32(l.Block.Authority))
	binary.LittleEndian.PutUint64(head[4:12], uint64(l.Block.Round))
	buf.Write(head[:])
	buf.Write(l.Block.Digest[:])
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], uint32(l.Index))
	buf.Write(idx[:])
	return buf.Bytes()
}
