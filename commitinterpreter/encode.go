package commitinterpreter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"mysticeti/types"
)

// EncodeCommitRecord serializes the WAL_ENTRY_COMMIT payload: the ordered
// CommitData produced by one HandleCommit call, plus the aggregator state
// snapshot taken at the same instant (spec.md §4.3's WAL_ENTRY_COMMIT,
// §4.2 recovery rule 5 "retain only the latest").
func EncodeCommitRecord(records []CommitData, aggregatorState []byte) []byte {
	var buf bytes.Buffer
	putUint32(&buf, uint32(len(records)))
	for _, r := range records {
		putRef(&buf, r.Anchor)
		putUint32(&buf, uint32(len(r.SubDag)))
		for _, ref := range r.SubDag {
			putRef(&buf, ref)
		}
	}
	putUint32(&buf, uint32(len(aggregatorState)))
	buf.Write(aggregatorState)
	return buf.Bytes()
}

// DecodeCommitRecord is EncodeCommitRecord's inverse.
func DecodeCommitRecord(data []byte) ([]CommitData, []byte, error) {
	r := bytes.NewReader(data)

	count, err := getUint32(r)
	if err != nil {
		return nil, nil, fmt.Errorf("commitinterpreter: decode record count: %w", err)
	}

	records := make([]CommitData, 0, count)
	for i := uint32(0); i < count; i++ {
		anchor, err := getRef(r)
		if err != nil {
			return nil, nil, fmt.Errorf("commitinterpreter: decode anchor %d: %w", i, err)
		}
		n, err := getUint32(r)
		if err != nil {
			return nil, nil, fmt.Errorf("commitinterpreter: decode sub-dag length %d: %w", i, err)
		}
		subdag := make([]types.BlockReference, 0, n)
		for j := uint32(0); j < n; j++ {
			ref, err := getRef(r)
			if err != nil {
				return nil, nil, fmt.Errorf("commitinterpreter: decode sub-dag entry %d/%d: %w", i, j, err)
			}
			subdag = append(subdag, ref)
		}
		records = append(records, CommitData{Anchor: anchor, SubDag: subdag})
	}

	stateLen, err := getUint32(r)
	if err != nil {
		return nil, nil, fmt.Errorf("commitinterpreter: decode state length: %w", err)
	}
	state := make([]byte, stateLen)
	if _, err := io.ReadFull(r, state); err != nil {
		return nil, nil, fmt.Errorf("commitinterpreter: decode state: %w", err)
	}

	return records, state, nil
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func getUint32(r io.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func getUint64(r io.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func putRef(buf *bytes.Buffer, ref types.BlockReference) {
	putUint32(buf, uint32(ref.Authority))
	putUint64(buf, uint64(ref.Round))
	buf.Write(ref.Digest[:])
}

func getRef(r io.Reader) (types.BlockReference, error) {
	authority, err := getUint32(r)
	if err != nil {
		return types.BlockReference{}, err
	}
	round, err := getUint64(r)
	if err != nil {
		return types.BlockReference{}, err
	}
	var digest types.Digest
	if _, err := io.ReadFull(r, digest[:]); err != nil {
		return types.BlockReference{}, err
	}
	return types.BlockReference{
		Authority: types.AuthorityIndex(authority),
		Round:     types.RoundNumber(round),
		Digest:    digest,
	}, nil
}
