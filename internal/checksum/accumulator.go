package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Accumulator folds per-row digests into one table digest.
type Accumulator interface {
	Accumulate(digest []byte)
	Finalize() string
}

// NewSHA256 returns the default accumulator: a streaming SHA-256 over the
// row digests in arrival order. The result depends on row order.
func NewSHA256() Accumulator {
	return &sha256Accumulator{h: sha256.New()}
}

type sha256Accumulator struct {
	h hash.Hash
}

func (a *sha256Accumulator) Accumulate(digest []byte) {
	a.h.Write(digest)
}

func (a *sha256Accumulator) Finalize() string {
	return hex.EncodeToString(a.h.Sum(nil))
}
