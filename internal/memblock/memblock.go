// Package memblock implements the shared audio buffers that move between
// the device threads and the mixing kernels. A Block is a fixed-length,
// reference-counted byte buffer; a Chunk is a zero-copy window into one.
//
// Blocks are immutable once published for mixing. The silence and volume
// kernels only ever touch freshly allocated or uniquely held blocks.
package memblock

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Block is an owned, reference-counted byte buffer of fixed length.
// Holders share it; the storage goes back to the pool when the last
// holder calls Release.
type Block struct {
	pool *Pool
	data []byte
	refs atomic.Int32
}

// Pool hands out Blocks and recycles their storage. The zero value is
// not usable; call NewPool.
type Pool struct {
	bufs sync.Pool // *[]byte
}

// NewPool creates a block pool.
func NewPool() *Pool {
	return &Pool{
		bufs: sync.Pool{
			New: func() any {
				b := make([]byte, 0)
				return &b
			},
		},
	}
}

// New allocates a Block of exactly length bytes with a reference count
// of one. The contents are unspecified; callers fill or silence it.
func (p *Pool) New(length int) *Block {
	if length <= 0 {
		panic(fmt.Sprintf("memblock: invalid block length %d", length))
	}
	buf := p.bufs.Get().(*[]byte)
	if cap(*buf) < length {
		*buf = make([]byte, length)
	}
	b := &Block{pool: p, data: (*buf)[:length]}
	b.refs.Store(1)
	return b
}

// Len returns the block's length in bytes.
func (b *Block) Len() int { return len(b.data) }

// Bytes returns the block's backing storage. The caller must hold a
// reference for as long as it uses the slice.
func (b *Block) Bytes() []byte { return b.data }

// Acquire takes an additional reference and returns the block.
func (b *Block) Acquire() *Block {
	if b.refs.Add(1) <= 1 {
		panic("memblock: Acquire on released block")
	}
	return b
}

// Release drops one reference. When the last reference is dropped the
// storage returns to the pool. Every exit path that obtained a block
// from a render must call this exactly once.
func (b *Block) Release() {
	n := b.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic("memblock: Release on released block")
	}
	data := b.data
	b.data = nil
	b.pool.bufs.Put(&data)
}

// Refs reports the current reference count.
func (b *Block) Refs() int { return int(b.refs.Load()) }

// Chunk is a window over a Block: the half-open byte range
// [Index, Index+Length). Chunks are values; they carry no ownership
// beyond the block reference their creator holds.
type Chunk struct {
	Block  *Block
	Index  int
	Length int
}

// NewChunk wraps an entire block in a chunk.
func NewChunk(b *Block) Chunk {
	return Chunk{Block: b, Length: b.Len()}
}

// Bytes returns the window's bytes.
func (c Chunk) Bytes() []byte {
	return c.Block.data[c.Index : c.Index+c.Length]
}

// Valid reports whether the window lies inside its block.
func (c Chunk) Valid() bool {
	return c.Block != nil && c.Index >= 0 && c.Length >= 0 && c.Index+c.Length <= c.Block.Len()
}

// Sub returns a sub-window of c.
func (c Chunk) Sub(offset, length int) Chunk {
	s := Chunk{Block: c.Block, Index: c.Index + offset, Length: length}
	if !s.Valid() || offset+length > c.Length {
		panic(fmt.Sprintf("memblock: sub-chunk [%d:%d] outside chunk of length %d", offset, offset+length, c.Length))
	}
	return s
}
