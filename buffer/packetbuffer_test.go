package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushPopBasic(t *testing.T) {
	b := New(0)
	b.Push(1, []byte("one"))
	assert.True(t, b.Exists(1))

	data, ok := b.Pop(1)
	assert.True(t, ok)
	assert.Equal(t, []byte("one"), data)
	assert.False(t, b.Exists(1))
}

func TestPushDuplicateIdempotent(t *testing.T) {
	b := New(0)
	b.Push(5, []byte("abc"))
	b.Push(5, []byte("abc"))
	assert.Equal(t, 1, b.Len())
}

func TestPushOverwritesDifferentData(t *testing.T) {
	b := New(0)
	b.Push(5, []byte("abc"))
	b.Push(5, []byte("xyz"))
	data, _ := b.Peek(5)
	assert.Equal(t, []byte("xyz"), data)
}

func TestPeekDoesNotRemove(t *testing.T) {
	b := New(0)
	b.Push(1, []byte("x"))
	_, ok := b.Peek(1)
	assert.True(t, ok)
	assert.True(t, b.Exists(1))
}

func TestDestroy(t *testing.T) {
	b := New(0)
	b.Push(1, []byte("x"))
	b.Destroy(1)
	assert.False(t, b.Exists(1))
}

func TestHighestKey(t *testing.T) {
	b := New(0)
	_, ok := b.HighestKey()
	assert.False(t, ok)

	b.Push(3, []byte("a"))
	b.Push(7, []byte("b"))
	b.Push(5, []byte("c"))

	max, ok := b.HighestKey()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), max)
}

func TestClear(t *testing.T) {
	b := New(0)
	b.Push(1, []byte("a"))
	b.Push(2, []byte("b"))
	b.Clear()
	assert.Equal(t, 0, b.Len())
}

func TestCapacityDropsOldest(t *testing.T) {
	b := New(2)
	b.Push(1, []byte("a"))
	b.Push(2, []byte("b"))
	b.Push(3, []byte("c"))

	assert.Equal(t, 2, b.Len())
	assert.False(t, b.Exists(1))
	assert.True(t, b.Exists(2))
	assert.True(t, b.Exists(3))
}
