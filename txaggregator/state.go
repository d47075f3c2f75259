package txaggregator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"mysticeti/committee"
	"mysticeti/types"
)

// State serializes a compact snapshot: per locator, which authorities
// voted accept, which voted reject, and the resulting status — the
// `{locator → voters_bitmap, locator → certified_flag}` encoding spec.md
// §4.6 calls for, generalized to also carry the reject side so a
// recovered aggregator cannot re-certify something already rejected.
func (a *Aggregator) State() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	var buf bytes.Buffer
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(a.entries)))
	buf.Write(count[:])

	for locator, e := range a.entries {
		putLocator(&buf, locator)
		buf.WriteByte(byte(e.status))
		writeVoterSet(&buf, e.acceptAgg)
		writeVoterSet(&buf, e.rejectAgg)
	}
	return buf.Bytes()
}

// RecoverState replaces the aggregator's contents with a prior State()
// snapshot. The durable certified-transactions log, if any, is left
// untouched: it already holds every certified locator from before the
// snapshot was taken.
func (a *Aggregator) RecoverState(data []byte) error {
	r := bytes.NewReader(data)
	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return fmt.Errorf("txaggregator: %w", err)
	}
	n := binary.LittleEndian.Uint32(count[:])

	entries := make(map[types.TransactionLocator]*entry, n)
	for i := uint32(0); i < n; i++ {
		locator, err := getLocator(r)
		if err != nil {
			return fmt.Errorf("txaggregator: %w", err)
		}
		var statusByte [1]byte
		if _, err := io.ReadFull(r, statusByte[:]); err != nil {
			return fmt.Errorf("txaggregator: %w", err)
		}

		acceptAgg := committee.NewStakeAggregator(a.committee)
		if err := readVoterSet(r, acceptAgg); err != nil {
			return fmt.Errorf("txaggregator: %w", err)
		}
		rejectAgg := committee.NewStakeAggregator(a.committee)
		if err := readVoterSet(r, rejectAgg); err != nil {
			return fmt.Errorf("txaggregator: %w", err)
		}

		entries[locator] = &entry{
			acceptAgg: acceptAgg,
			rejectAgg: rejectAgg,
			status:    Status(statusByte[0]),
		}
	}

	a.mu.Lock()
	a.entries = entries
	a.mu.Unlock()
	return nil
}

func putLocator(buf *bytes.Buffer, l types.TransactionLocator) {
	var head [4 + 8]byte
	binary.LittleEndian.PutUint32(head[0:4], uint32(l.Block.Authority))
	binary.LittleEndian.PutUint64(head[4:12], uint64(l.Block.Round))
	buf.Write(head[:])
	buf.Write(l.Block.Digest[:])
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], uint32(l.Index))
	buf.Write(idx[:])
}

func getLocator(r io.Reader) (types.TransactionLocator, error) {
	var head [4 + 8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return types.TransactionLocator{}, err
	}
	var digest types.Digest
	if _, err := io.ReadFull(r, digest[:]); err != nil {
		return types.TransactionLocator{}, err
	}
	var idx [4]byte
	if _, err := io.ReadFull(r, idx[:]); err != nil {
		return types.TransactionLocator{}, err
	}
	return types.TransactionLocator{
		Block: types.BlockReference{
			Authority: types.AuthorityIndex(binary.LittleEndian.Uint32(head[0:4])),
			Round:     types.RoundNumber(binary.LittleEndian.Uint64(head[4:12])),
			Digest:    digest,
		},
		Index: int(binary.LittleEndian.Uint32(idx[:])),
	}, nil
}

// writeVoterSet/readVoterSet serialize a StakeAggregator's voter set as
// a count-prefixed list of authority indices. This does not attempt to
// preserve the aggregator's incremental "did this Add call just cross
// quorum" signal — recovery only needs the final accumulated set, not
// the historical transition.
func writeVoterSet(buf *bytes.Buffer, agg *committee.StakeAggregator) {
	voters := agg.Voters()
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(voters)))
	buf.Write(count[:])
	for _, v := range voters {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	}
}

func readVoterSet(r io.Reader, agg *committee.StakeAggregator) error {
	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint32(count[:])
	for i := uint32(0); i < n; i++ {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		agg.Add(types.AuthorityIndex(binary.LittleEndian.Uint32(b[:])))
	}
	return nil
}
