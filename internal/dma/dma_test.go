package dma

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaAllocResolve(t *testing.T) {
	a := NewArena(false)
	defer a.Close()

	r1, err := a.Alloc(100)
	require.NoError(t, err)
	r2, err := a.Alloc(5000)
	require.NoError(t, err)

	assert.Len(t, r1.Buf, 100)
	assert.Zero(t, r1.Phys%4096, "bus address must be page aligned")
	assert.Greater(t, r2.Phys, r1.Phys+uint64(cap(r1.Buf)), "regions keep a guard gap")

	copy(r2.Buf[4096:], []byte("hello"))
	got, err := a.Resolve(r2.Phys+4096, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	// Writes through the resolved slice land in the region.
	got[0] = 'j'
	assert.Equal(t, byte('j'), r2.Buf[4096])
}

func TestArenaResolveErrors(t *testing.T) {
	a := NewArena(false)
	defer a.Close()

	r, err := a.Alloc(4096)
	require.NoError(t, err)

	_, err = a.Resolve(0, 1)
	assert.True(t, errors.Is(err, ErrBadAddress))

	end := r.Phys + uint64(cap(r.Buf))
	_, err = a.Resolve(end-96, 200)
	assert.True(t, errors.Is(err, ErrBadAddress), "range crossing region end")

	// The guard page between regions is unmapped.
	_, err = a.Resolve(end, 1)
	assert.True(t, errors.Is(err, ErrBadAddress))
}

func TestArenaFree(t *testing.T) {
	a := NewArena(false)
	r, err := a.Alloc(64)
	require.NoError(t, err)
	require.Equal(t, 1, a.Regions())

	require.NoError(t, a.Free(r))
	assert.Equal(t, 0, a.Regions())
	assert.ErrorIs(t, a.Free(r), ErrFreed)

	_, err = a.Alloc(0)
	assert.Error(t, err)
}

func TestPoolGetPut(t *testing.T) {
	a := NewArena(false)
	defer a.Close()

	p, err := NewPool(a, 4, 2048)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Available())

	var got []*Buffer
	for i := 0; i < 4; i++ {
		b, ok := p.Get()
		require.True(t, ok)
		assert.Equal(t, 2048, b.Cap())
		assert.Zero(t, b.Len())
		got = append(got, b)
	}
	_, ok := p.Get()
	assert.False(t, ok, "pool should be exhausted")

	assert.Equal(t, got[0].Phys()+2048, got[1].Phys())

	p.Put(got[2])
	p.Put(got[2]) // double put ignored
	p.Put(NewBuffer(0, make([]byte, 8)))
	assert.Equal(t, 1, p.Available())

	b, ok := p.Get()
	require.True(t, ok)
	assert.Same(t, got[2], b)
	require.NoError(t, p.Close())
}

func TestBufferWriteSetLen(t *testing.T) {
	b := NewBuffer(0x1000, make([]byte, 8))
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("abc"), b.Bytes())

	_, err = b.Write(make([]byte, 9))
	assert.Error(t, err)

	b.SetLen(100)
	assert.Equal(t, 8, b.Len())
	b.SetLen(-1)
	assert.Equal(t, 0, b.Len())
}

func TestPoolResolvesThroughArena(t *testing.T) {
	a := NewArena(false)
	defer a.Close()
	p, err := NewPool(a, 2, 1024)
	require.NoError(t, err)

	b, _ := p.Get()
	_, err = b.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	mem, err := a.Resolve(b.Phys(), 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, mem)
}
