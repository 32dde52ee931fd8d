package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeBuffer struct {
	released int
}

func (b *fakeBuffer) Release() { b.released++ }

func TestCache_EvictsOldestBatch(t *testing.T) {
	c := NewCache[int, *fakeBuffer](4, 2)

	bufs := make(map[int]*fakeBuffer)
	for k := 1; k <= 5; k++ {
		bufs[k] = &fakeBuffer{}
		c.Add(k, bufs[k])
	}

	assert.Equal(t, []int{3, 4, 5}, c.Keys())
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Contains(1))
	assert.False(t, c.Contains(2))

	assert.Equal(t, 1, bufs[1].released)
	assert.Equal(t, 1, bufs[2].released)
	for _, k := range []int{3, 4, 5} {
		assert.Zero(t, bufs[k].released, "key %d", k)
	}
}

func TestCache_NoPromotionOnGet(t *testing.T) {
	c := NewCache[int, *fakeBuffer](2, 1)
	c.Add(1, &fakeBuffer{})
	c.Add(2, &fakeBuffer{})

	_, ok := c.Get(1)
	assert.True(t, ok)

	c.Add(3, &fakeBuffer{})
	assert.Equal(t, []int{2, 3}, c.Keys(), "FIFO by insertion, not by use")
}

func TestCache_EvictMoreThanHeld(t *testing.T) {
	c := NewCache[int, *fakeBuffer](1, 10)
	first := &fakeBuffer{}
	c.Add(1, first)
	c.Add(2, &fakeBuffer{})

	assert.Equal(t, []int{2}, c.Keys())
	assert.Equal(t, 1, first.released)
}

func TestCache_Dispose(t *testing.T) {
	c := NewCache[int64, *fakeBuffer](8, 2)
	a, b := &fakeBuffer{}, &fakeBuffer{}
	c.Add(1, a)
	c.Add(2, b)

	c.Dispose()
	c.Dispose()

	assert.Zero(t, c.Len())
	assert.Equal(t, 1, a.released)
	assert.Equal(t, 1, b.released)

	c.Add(3, &fakeBuffer{})
	assert.Equal(t, 1, c.Len(), "usable after dispose")
}

func TestCache_ReplaceReleasesOld(t *testing.T) {
	c := NewCache[int, *fakeBuffer](4, 1)
	old := &fakeBuffer{}
	c.Add(1, old)
	c.Add(1, &fakeBuffer{})

	assert.Equal(t, 1, old.released)
	assert.Equal(t, []int{1}, c.Keys())
}
