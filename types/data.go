package types

import (
	"sync"

	fastcache "github.com/VictoriaMetrics/fastcache"
)

// Data is a cheap-to-clone, immutable handle to a decoded value T
// alongside the serialized bytes it was decoded from. Copying a Data[T]
// copies only a pointer and a byte-slice header, never the value itself
// — the Rust original's Arc<T> made the same trade for the same reason.
type Data[T any] struct {
	value *T
	raw   []byte
}

// NewData wraps an already-decoded value and its serialized form. The
// caller is responsible for raw actually being value's encoding; this
// type does not re-validate it.
func NewData[T any](value *T, raw []byte) Data[T] {
	return Data[T]{value: value, raw: raw}
}

func (d Data[T]) Value() *T      { return d.value }
func (d Data[T]) Bytes() []byte  { return d.raw }
func (d Data[T]) IsZero() bool   { return d.value == nil }
func (d Data[T]) Len() int       { return len(d.raw) }

// Block is Data[StatementBlock] with the reference/author/round
// convenience accessors block consumers need everywhere. Go forbids
// attaching methods to a pinned instantiation of a generic type
// directly (func (d Data[StatementBlock]) ... is not legal), so Block
// embeds the generic wrapper instead of aliasing it.
type Block struct {
	Data[StatementBlock]
}

func NewBlock(value *StatementBlock, raw []byte) Block {
	return Block{Data[StatementBlock]{value: value, raw: raw}}
}

func (b Block) Reference() BlockReference { return b.value.Reference }
func (b Block) Author() AuthorityIndex    { return b.value.Reference.Authority }
func (b Block) Round() RoundNumber        { return b.value.Reference.Round }
func (b Block) Includes() []BlockReference {
	return b.value.Includes
}
func (b Block) Statements() []BaseStatement { return b.value.Statements }

// BlockDecodeCache avoids re-decoding the same serialized bytes twice.
// Decoded values are held in a Go map (fastcache cannot hold Go
// pointers); the raw bytes are mirrored into a fastcache.Cache. Both
// tiers are keyed by the block's content digest (the digest of the
// encoding minus its trailing digest field, i.e. what a well-formed
// block's Reference.Digest holds) so that Bytes(digest) can be served even after the decoded
// entry above it has been dropped, the same raw-bytes-cache-in-front-
// of-expensive-work idiom the teacher gets from VictoriaMetrics/fastcache.
type BlockDecodeCache struct {
	mu      sync.Mutex
	decoded map[Digest]Block
	raw     *fastcache.Cache
}

// NewBlockDecodeCache creates a cache whose raw-bytes tier is bounded to
// approximately maxBytes.
func NewBlockDecodeCache(maxBytes int) *BlockDecodeCache {
	return &BlockDecodeCache{
		decoded: make(map[Digest]Block),
		raw:     fastcache.New(maxBytes),
	}
}

// Get decodes raw via the cache: if these bytes were decoded before,
// returns the cached Block without touching DecodeBlock again.
func (c *BlockDecodeCache) Get(raw []byte) (Block, error) {
	if len(raw) < DigestSize {
		_, err := DecodeBlock(raw)
		return Block{}, err
	}
	key := DigestBytes(raw[:len(raw)-DigestSize])

	c.mu.Lock()
	if blk, ok := c.decoded[key]; ok {
		c.mu.Unlock()
		return blk, nil
	}
	c.mu.Unlock()

	value, err := DecodeBlock(raw)
	if err != nil {
		return Block{}, err
	}
	blk := NewBlock(value, raw)

	c.mu.Lock()
	c.decoded[key] = blk
	c.mu.Unlock()
	c.raw.Set(key[:], raw)

	return blk, nil
}

// Bytes returns the raw serialized bytes previously cached under digest,
// if any, without requiring the decoded Block to still be resident.
func (c *BlockDecodeCache) Bytes(digest Digest) ([]byte, bool) {
	return c.raw.HasGet(nil, digest[:])
}

// Evict drops digest from both cache tiers.
func (c *BlockDecodeCache) Evict(digest Digest) {
	c.mu.Lock()
	delete(c.decoded, digest)
	c.mu.Unlock()
	c.raw.Del(digest[:])
}
