package types

import "golang.org/x/crypto/sha3"

// DigestSize is the width of a content digest in bytes (SHA3-256).
const DigestSize = 32

// Digest is a content digest, not a signature: it authenticates nothing
// by itself, it only lets two blocks with identical content compare
// equal in O(1). Signatures are explicitly out of scope (spec.md §1).
type Digest [DigestSize]byte

// ZeroDigest is used for genesis blocks, which have no computed digest.
var ZeroDigest = Digest{}

func (d Digest) IsZero() bool { return d == ZeroDigest }

// DigestBytes returns the SHA3-256 digest of b.
func DigestBytes(b []byte) Digest {
	var d Digest
	h := sha3.Sum256(b)
	copy(d[:], h[:])
	return d
}
