// Package network defines the wire message shapes exchanged with the
// external synchronizer that disseminates blocks between authorities
// (spec.md §6). Per spec.md §1's Non-goals, peer sampling and
// block-fetch scheduling stay an external collaborator; this package
// only fixes the message shapes and their wire encoding, grounded on
// original_source/mysticeti-core/src/synchronizer.rs's NetworkMessage
// use sites (BlockDisseminator.send_blocks / stream_own_blocks /
// stream_others_blocks). A message is a 2-byte kind tag followed by the
// kind's payload; unlike a wal frame it has no length prefix, reserved
// field or trailing CRC — a network transport already guards frame
// integrity, unlike a disk file that can be torn mid-write.
package network

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"mysticeti/types"
)

// Kind tags a NetworkMessage's payload.
type Kind uint16

const (
	// KindBlock carries a single freshly produced block, the steady-state
	// message stream_own_blocks/stream_others_blocks emit.
	KindBlock Kind = 1
	// KindBlocks carries a batch of blocks, used both for the same
	// steady-state stream (batched) and as the reply to RequestBlocks.
	KindBlocks Kind = 2
	// KindRequestBlocks asks a peer to send the blocks at the given
	// references.
	KindRequestBlocks Kind = 3
	// KindBlockNotFound reports which requested references the peer did
	// not have, so the requester can try elsewhere.
	KindBlockNotFound Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "BLOCK"
	case KindBlocks:
		return "BLOCKS"
	case KindRequestBlocks:
		return "REQUEST_BLOCKS"
	case KindBlockNotFound:
		return "BLOCK_NOT_FOUND"
	default:
		return fmt.Sprintf("KIND(%d)", uint16(k))
	}
}

// Message is the NetworkMessage tagged union. Exactly one of the fields
// is meaningful, selected by Kind.
type Message struct {
	Kind Kind

	Block      types.Block
	Blocks     []types.Block
	References []types.BlockReference // RequestBlocks and BlockNotFound
}

// NewBlock wraps a single block for dissemination.
func NewBlock(blk types.Block) Message {
	return Message{Kind: KindBlock, Block: blk}
}

// NewBlocks wraps a batch of blocks.
func NewBlocks(blocks []types.Block) Message {
	return Message{Kind: KindBlocks, Blocks: blocks}
}

// NewRequestBlocks asks for the blocks at refs.
func NewRequestBlocks(refs []types.BlockReference) Message {
	return Message{Kind: KindRequestBlocks, References: refs}
}

// NewBlockNotFound reports refs the sender did not have.
func NewBlockNotFound(refs []types.BlockReference) Message {
	return Message{Kind: KindBlockNotFound, References: refs}
}

// Encode serializes msg into a single self-describing frame: a 2-byte
// kind tag followed by the kind-specific payload.
func Encode(msg Message) []byte {
	var buf bytes.Buffer
	putUint16(&buf, uint16(msg.Kind))

	switch msg.Kind {
	case KindBlock:
		putBytes(&buf, msg.Block.Bytes())
	case KindBlocks:
		putUint32(&buf, uint32(len(msg.Blocks)))
		for _, blk := range msg.Blocks {
			putBytes(&buf, blk.Bytes())
		}
	case KindRequestBlocks, KindBlockNotFound:
		putUint32(&buf, uint32(len(msg.References)))
		for _, ref := range msg.References {
			putRef(&buf, ref)
		}
	}

	return buf.Bytes()
}

// Decode is Encode's inverse.
func Decode(data []byte) (Message, error) {
	r := bytes.NewReader(data)

	kindRaw, err := getUint16(r)
	if err != nil {
		return Message{}, fmt.Errorf("network: decode kind: %w", err)
	}
	kind := Kind(kindRaw)

	switch kind {
	case KindBlock:
		raw, err := getBytes(r)
		if err != nil {
			return Message{}, fmt.Errorf("network: decode block: %w", err)
		}
		blk, err := decodeBlock(raw)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindBlock, Block: blk}, nil

	case KindBlocks:
		n, err := getUint32(r)
		if err != nil {
			return Message{}, fmt.Errorf("network: decode blocks count: %w", err)
		}
		// Every block costs this message at least 4 bytes (its own
		// length prefix), so a count that can't possibly fit in what's
		// left of data is a malformed or hostile frame — reject before
		// make() turns an attacker-chosen n into a multi-gigabyte
		// allocation no io.ReadFull would ever have satisfied anyway.
		if n > uint32(r.Len()/4) {
			return Message{}, fmt.Errorf("network: decode blocks count %d exceeds remaining %d bytes", n, r.Len())
		}
		blocks := make([]types.Block, 0, n)
		for i := uint32(0); i < n; i++ {
			raw, err := getBytes(r)
			if err != nil {
				return Message{}, fmt.Errorf("network: decode blocks[%d]: %w", i, err)
			}
			blk, err := decodeBlock(raw)
			if err != nil {
				return Message{}, err
			}
			blocks = append(blocks, blk)
		}
		return Message{Kind: KindBlocks, Blocks: blocks}, nil

	case KindRequestBlocks, KindBlockNotFound:
		n, err := getUint32(r)
		if err != nil {
			return Message{}, fmt.Errorf("network: decode references count: %w", err)
		}
		// Every reference is a fixed 4+8+32 bytes on the wire (see putRef);
		// reject a count that can't fit in what's left rather than
		// handing an attacker-chosen n straight to make().
		const refSize = 4 + 8 + types.DigestSize
		if n > uint32(r.Len()/refSize) {
			return Message{}, fmt.Errorf("network: decode references count %d exceeds remaining %d bytes", n, r.Len())
		}
		refs := make([]types.BlockReference, 0, n)
		for i := uint32(0); i < n; i++ {
			ref, err := getRef(r)
			if err != nil {
				return Message{}, fmt.Errorf("network: decode reference[%d]: %w", i, err)
			}
			refs = append(refs, ref)
		}
		return Message{Kind: kind, References: refs}, nil

	default:
		return Message{}, fmt.Errorf("network: unknown message kind %d", kindRaw)
	}
}

func decodeBlock(raw []byte) (types.Block, error) {
	value, err := types.DecodeBlock(raw)
	if err != nil {
		return types.Block{}, fmt.Errorf("network: decode block body: %w", err)
	}
	return types.NewBlock(value, raw), nil
}

func putUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func getUint16(r io.Reader) (uint16, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(tmp[:]), nil
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

func putBytes(buf *bytes.Buffer, b []byte) {
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	n, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	// n comes straight off the wire; bound it against what's actually
	// left before allocating, so a corrupt or hostile length field
	// fails fast instead of attempting a multi-gigabyte make().
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("network: byte length %d exceeds remaining %d bytes", n, r.Len())
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
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
