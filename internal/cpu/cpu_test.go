package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectorRoundTrip(t *testing.T) {
	s := NewSelector(SelUserCode, 3)
	assert.Equal(t, SelUserCode, s.Index())
	assert.Equal(t, uint8(3), s.RPL())
}

func TestSimBusReadsLastWrite(t *testing.T) {
	bus := NewSimBus()
	assert.Equal(t, uint8(0), bus.In8(0x60))
	bus.Out8(0x60, 0xAB)
	assert.Equal(t, uint8(0xAB), bus.In8(0x60))
}

func TestNewGDTFlatModel(t *testing.T) {
	g := NewGDT()
	assert.Equal(t, uint32(0xffffffff), g[SelKernelCode].Limit)
	assert.True(t, g[SelKernelCode].Code)
	assert.False(t, g[SelUserData].Code)
	assert.Equal(t, uint8(3), g[SelUserCode].DPL)
}
