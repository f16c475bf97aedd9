package mm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFramePoolAllocExhaustion(t *testing.T) {
	p := NewFramePool(10, 2)
	f1, ok := p.Alloc()
	assert.True(t, ok)
	f2, ok := p.Alloc()
	assert.True(t, ok)
	assert.NotEqual(t, f1, f2)

	_, ok = p.Alloc()
	assert.False(t, ok)
}

func TestFramePoolFreeRecycles(t *testing.T) {
	p := NewFramePool(0, 1)
	f, ok := p.Alloc()
	assert.True(t, ok)
	p.Free(f)
	got, ok := p.Alloc()
	assert.True(t, ok)
	assert.Equal(t, f, got)
}

func TestFramePoolAvailable(t *testing.T) {
	p := NewFramePool(0, 4)
	assert.Equal(t, uint32(4), p.Available())
	f, _ := p.Alloc()
	assert.Equal(t, uint32(3), p.Available())
	p.Free(f)
	assert.Equal(t, uint32(4), p.Available())
}
