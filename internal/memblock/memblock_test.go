package memblock

import "testing"

func TestBlockRefcount(t *testing.T) {
	pool := NewPool()

	b := pool.New(128)
	if b.Refs() != 1 {
		t.Errorf("Refs() after New = %d, want 1", b.Refs())
	}
	if b.Len() != 128 {
		t.Errorf("Len() = %d, want 128", b.Len())
	}

	b.Acquire()
	if b.Refs() != 2 {
		t.Errorf("Refs() after Acquire = %d, want 2", b.Refs())
	}

	b.Release()
	if b.Refs() != 1 {
		t.Errorf("Refs() after Release = %d, want 1", b.Refs())
	}

	b.Release()
	// Storage went back to the pool; the block must not be reusable.
	defer func() {
		if recover() == nil {
			t.Error("Release of a released block did not panic")
		}
	}()
	b.Release()
}

func TestPoolReusesStorage(t *testing.T) {
	pool := NewPool()

	b := pool.New(4096)
	b.Bytes()[0] = 0xAA
	b.Release()

	// A fresh block must be independent regardless of whether the
	// storage was recycled.
	c := pool.New(4096)
	defer c.Release()
	if c.Refs() != 1 {
		t.Errorf("recycled block Refs() = %d, want 1", c.Refs())
	}
	if c.Len() != 4096 {
		t.Errorf("recycled block Len() = %d, want 4096", c.Len())
	}
}

func TestChunkWindow(t *testing.T) {
	pool := NewPool()
	b := pool.New(16)
	defer b.Release()
	for i := range b.Bytes() {
		b.Bytes()[i] = byte(i)
	}

	c := Chunk{Block: b, Index: 4, Length: 8}
	if !c.Valid() {
		t.Fatal("chunk reported invalid")
	}

	w := c.Bytes()
	if len(w) != 8 || w[0] != 4 || w[7] != 11 {
		t.Errorf("window = %v, want bytes 4..11", w)
	}

	sub := c.Sub(2, 4)
	if sub.Index != 6 || sub.Length != 4 {
		t.Errorf("Sub = {%d %d}, want {6 4}", sub.Index, sub.Length)
	}
}

func TestChunkValidBounds(t *testing.T) {
	pool := NewPool()
	b := pool.New(8)
	defer b.Release()

	bad := Chunk{Block: b, Index: 4, Length: 8}
	if bad.Valid() {
		t.Error("out-of-bounds chunk reported valid")
	}
}

func TestNewChunkCoversBlock(t *testing.T) {
	pool := NewPool()
	b := pool.New(32)
	defer b.Release()

	c := NewChunk(b)
	if c.Index != 0 || c.Length != 32 {
		t.Errorf("NewChunk = {%d %d}, want {0 32}", c.Index, c.Length)
	}
}
