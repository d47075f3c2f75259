package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// This file implements the deterministic length-prefixed binary codec
// referenced throughout spec.md §6: encoding the same value twice always
// produces the same bytes, which is what lets BlockReference.Digest and
// WAL record CRCs be meaningful. All multi-byte integers are little
// endian, matching the framing already fixed by the WAL format (§6).

func putReference(buf *bytes.Buffer, r BlockReference) {
	var tmp [4 + 8]byte
	binary.LittleEndian.PutUint32(tmp[0:4], uint32(r.Authority))
	binary.LittleEndian.PutUint64(tmp[4:12], uint64(r.Round))
	buf.Write(tmp[:])
	buf.Write(r.Digest[:])
}

func getReference(r io.Reader) (BlockReference, error) {
	var tmp [4 + 8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return BlockReference{}, err
	}
	var ref BlockReference
	ref.Authority = AuthorityIndex(binary.LittleEndian.Uint32(tmp[0:4]))
	ref.Round = RoundNumber(binary.LittleEndian.Uint64(tmp[4:12]))
	if _, err := io.ReadFull(r, ref.Digest[:]); err != nil {
		return BlockReference{}, err
	}
	return ref, nil
}

func putStatement(buf *bytes.Buffer, s BaseStatement) {
	buf.WriteByte(byte(s.Kind))
	switch s.Kind {
	case StatementShare:
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s.Share)))
		buf.Write(lenBuf[:])
		buf.Write(s.Share)
	case StatementVote:
		putReference(buf, s.Locator.Block)
		var idxBuf [4]byte
		binary.LittleEndian.PutUint32(idxBuf[:], uint32(s.Locator.Index))
		buf.Write(idxBuf[:])
		buf.WriteByte(byte(s.Vote))
	}
}

func getStatement(r io.Reader) (BaseStatement, error) {
	var kindByte [1]byte
	if _, err := io.ReadFull(r, kindByte[:]); err != nil {
		return BaseStatement{}, err
	}
	kind := StatementKind(kindByte[0])
	switch kind {
	case StatementShare:
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return BaseStatement{}, err
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		tx := make(Transaction, n)
		if _, err := io.ReadFull(r, tx); err != nil {
			return BaseStatement{}, err
		}
		return NewShare(tx), nil
	case StatementVote:
		blockRef, err := getReference(r)
		if err != nil {
			return BaseStatement{}, err
		}
		var idxBuf [4]byte
		if _, err := io.ReadFull(r, idxBuf[:]); err != nil {
			return BaseStatement{}, err
		}
		var voteByte [1]byte
		if _, err := io.ReadFull(r, voteByte[:]); err != nil {
			return BaseStatement{}, err
		}
		loc := TransactionLocator{Block: blockRef, Index: int(binary.LittleEndian.Uint32(idxBuf[:]))}
		return NewVote(loc, VoteKind(voteByte[0])), nil
	default:
		return BaseStatement{}, fmt.Errorf("types: unknown statement kind %d", kind)
	}
}

// EncodeStatements serializes a statement list on its own — used for the
// WAL_ENTRY_PAYLOAD record, which carries statements independent of any
// particular block (spec.md §6).
func EncodeStatements(statements []BaseStatement) []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(statements)))
	buf.Write(countBuf[:])
	for _, s := range statements {
		putStatement(&buf, s)
	}
	return buf.Bytes()
}

// DecodeStatements is the inverse of EncodeStatements.
func DecodeStatements(b []byte) ([]BaseStatement, error) {
	r := bytes.NewReader(b)
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(countBuf[:])
	out := make([]BaseStatement, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := getStatement(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// EncodeBlockBody serializes everything in a StatementBlock except the
// reference's digest (the digest is computed FROM this body, mirroring
// the teacher's sigHash-excludes-signature pattern in
// consensus/bsrr — except here the excluded field is a content digest,
// never a signature).
func EncodeBlockBody(b *StatementBlock) []byte {
	var buf bytes.Buffer
	var head [4 + 8]byte
	binary.LittleEndian.PutUint32(head[0:4], uint32(b.Reference.Authority))
	binary.LittleEndian.PutUint64(head[4:12], uint64(b.Reference.Round))
	buf.Write(head[:])

	var includeCount [4]byte
	binary.LittleEndian.PutUint32(includeCount[:], uint32(len(b.Includes)))
	buf.Write(includeCount[:])
	for _, inc := range b.Includes {
		putReference(&buf, inc)
	}

	var stmtCount [4]byte
	binary.LittleEndian.PutUint32(stmtCount[:], uint32(len(b.Statements)))
	buf.Write(stmtCount[:])
	for _, s := range b.Statements {
		putStatement(&buf, s)
	}

	var timeBuf [8]byte
	binary.LittleEndian.PutUint64(timeBuf[:], b.TimeNS)
	buf.Write(timeBuf[:])

	return buf.Bytes()
}

// EncodeBlock serializes a full StatementBlock, digest included.
func EncodeBlock(b *StatementBlock) []byte {
	body := EncodeBlockBody(b)
	var buf bytes.Buffer
	buf.Write(body)
	buf.Write(b.Reference.Digest[:])
	return buf.Bytes()
}

// DecodeBlock is the inverse of EncodeBlock.
func DecodeBlock(raw []byte) (*StatementBlock, error) {
	if len(raw) < DigestSize {
		return nil, fmt.Errorf("types: truncated block (%d bytes)", len(raw))
	}
	body := raw[:len(raw)-DigestSize]
	var digest Digest
	copy(digest[:], raw[len(raw)-DigestSize:])

	r := bytes.NewReader(body)
	var head [4 + 8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	block := &StatementBlock{
		Reference: BlockReference{
			Authority: AuthorityIndex(binary.LittleEndian.Uint32(head[0:4])),
			Round:     RoundNumber(binary.LittleEndian.Uint64(head[4:12])),
			Digest:    digest,
		},
	}

	var includeCount [4]byte
	if _, err := io.ReadFull(r, includeCount[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(includeCount[:])
	block.Includes = make([]BlockReference, 0, n)
	for i := uint32(0); i < n; i++ {
		ref, err := getReference(r)
		if err != nil {
			return nil, err
		}
		block.Includes = append(block.Includes, ref)
	}

	var stmtCount [4]byte
	if _, err := io.ReadFull(r, stmtCount[:]); err != nil {
		return nil, err
	}
	sn := binary.LittleEndian.Uint32(stmtCount[:])
	block.Statements = make([]BaseStatement, 0, sn)
	for i := uint32(0); i < sn; i++ {
		s, err := getStatement(r)
		if err != nil {
			return nil, err
		}
		block.Statements = append(block.Statements, s)
	}

	var timeBuf [8]byte
	if _, err := io.ReadFull(r, timeBuf[:]); err != nil {
		return nil, err
	}
	block.TimeNS = binary.LittleEndian.Uint64(timeBuf[:])

	return block, nil
}

// ComputeDigest returns the content digest a block's Reference.Digest
// should hold, computed from everything but the digest itself.
func ComputeDigest(b *StatementBlock) Digest {
	return DigestBytes(EncodeBlockBody(b))
}
