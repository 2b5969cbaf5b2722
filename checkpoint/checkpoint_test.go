package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNextPrevContainingAccelerated(t *testing.T) {
	f := AcceleratedFrequency
	require.Equal(t, uint32(8), f.Next(0))
	require.Equal(t, uint32(8), f.Next(1))
	require.Equal(t, uint32(8), f.Next(8))
	require.Equal(t, uint32(16), f.Next(9))

	require.Equal(t, uint32(0), f.Prev(0))
	require.Equal(t, uint32(0), f.Prev(7))
	require.Equal(t, uint32(8), f.Prev(8))
	require.Equal(t, uint32(8), f.Prev(15))

	require.Equal(t, uint32(7), f.Containing(0))
	require.Equal(t, uint32(7), f.Containing(1))
	require.Equal(t, uint32(7), f.Containing(7))
	require.Equal(t, uint32(15), f.Containing(8))
}

func TestIsCheckpoint(t *testing.T) {
	f := AcceleratedFrequency
	require.False(t, f.IsCheckpoint(0))
	require.True(t, f.IsCheckpoint(7))
	require.True(t, f.IsCheckpoint(15))
	require.True(t, f.IsCheckpoint(63))
	require.False(t, f.IsCheckpoint(8))
	require.False(t, f.IsCheckpoint(9))
}

// TestContainingIsIdempotentOnItself: every checkpoint boundary contains
// itself (spec.md §8's checkpoint-arithmetic invariants: "for all
// checkpoint-aligned ledgers k, checkpointContainingLedger(k·F−1)=k·F−1").
func TestContainingIsIdempotentOnItself(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		accelerated := rapid.Bool().Draw(t, "accelerated")
		f := FrequencyFor(accelerated)
		n := rapid.Uint32Range(0, 1<<20).Draw(t, "n")
		ledger := f.Containing(n)
		require.Equal(t, ledger, f.Containing(ledger))
		require.True(t, f.IsCheckpoint(ledger))
	})
}

// TestNextOfCheckpointAlignedIsItself: spec.md §8's
// "nextCheckpointLedger(k·F)=k·F".
func TestNextOfCheckpointAlignedIsItself(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		accelerated := rapid.Bool().Draw(t, "accelerated")
		f := FrequencyFor(accelerated)
		k := rapid.Uint32Range(1, 1<<16).Draw(t, "k")
		aligned := k * uint32(f)
		require.Equal(t, aligned, f.Next(aligned))
	})
}

// TestNextIsMonotonic: Next never decreases as ledger increases.
func TestNextIsMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		accelerated := rapid.Bool().Draw(t, "accelerated")
		f := FrequencyFor(accelerated)
		a := rapid.Uint32Range(0, 1<<20).Draw(t, "a")
		b := rapid.Uint32Range(0, 1<<20).Draw(t, "b")
		if a > b {
			a, b = b, a
		}
		require.LessOrEqual(t, f.Next(a), f.Next(b))
	})
}

// TestPrevLeLedgerLeContaining: prevCheckpoint <= ledger <= containing checkpoint.
func TestPrevLeLedgerLeContaining(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		accelerated := rapid.Bool().Draw(t, "accelerated")
		f := FrequencyFor(accelerated)
		ledger := rapid.Uint32Range(1, 1<<20).Draw(t, "ledger")
		require.LessOrEqual(t, f.Prev(ledger), ledger)
		require.LessOrEqual(t, ledger, f.Containing(ledger))
	})
}

func TestCheckpointRangeSnapsToBoundaries(t *testing.T) {
	f := AcceleratedFrequency
	cr := NewCheckpointRange(Range(3, 20), f)
	require.Equal(t, uint32(1), cr.First)
	require.Equal(t, uint32(23), cr.Last)
	require.Equal(t, uint32(3), cr.CheckpointCount(f))
}
