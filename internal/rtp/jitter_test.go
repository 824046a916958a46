package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferInOrderPassesThrough(t *testing.T) {
	b := NewBuffer(30)

	emitted, dropped := b.Push(100, []byte{1})
	require.Empty(t, dropped)
	require.Len(t, emitted, 1)
	assert.Equal(t, uint16(100), emitted[0].Seq)

	emitted, dropped = b.Push(101, []byte{2})
	require.Empty(t, dropped)
	require.Len(t, emitted, 1)
	assert.Equal(t, uint16(101), emitted[0].Seq)
}

func TestBufferReordersWithinThreshold(t *testing.T) {
	b := NewBuffer(30)

	_, _ = b.Push(0, []byte{0})

	emitted, dropped := b.Push(2, []byte{2})
	assert.Empty(t, dropped)
	assert.Empty(t, emitted, "seq 2 held pending seq 1")

	emitted, dropped = b.Push(1, []byte{1})
	assert.Empty(t, dropped)
	require.Len(t, emitted, 2, "seq 1 arriving fills the gap and drains seq 2 too")
	assert.Equal(t, uint16(1), emitted[0].Seq)
	assert.Equal(t, uint16(2), emitted[1].Seq)
}

func TestBufferDropsLateDuplicate(t *testing.T) {
	b := NewBuffer(30)
	_, _ = b.Push(5, []byte{5})
	_, _ = b.Push(6, []byte{6})

	emitted, dropped := b.Push(5, []byte{5})
	assert.Equal(t, DropLate, dropped)
	assert.Empty(t, emitted)
}

func TestBufferFarAheadResyncsAndFlushes(t *testing.T) {
	b := NewBuffer(5)
	_, _ = b.Push(0, []byte{0})
	_, _ = b.Push(2, []byte{2}) // held pending 1

	emitted, dropped := b.Push(100, []byte{100})
	assert.Empty(t, dropped)
	require.Len(t, emitted, 2, "flushes the stale pending frame then emits the far-ahead one")
	assert.Equal(t, uint16(2), emitted[0].Seq)
	assert.Equal(t, uint16(100), emitted[1].Seq)
}

func TestSeqWraparound(t *testing.T) {
	assert.True(t, isSeqNewer(0, 65535))
	assert.False(t, isSeqNewer(65535, 0))
}
