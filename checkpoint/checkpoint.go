// Package checkpoint implements the pure checkpoint-boundary arithmetic of
// spec.md §3/§8. Every function here is grounded line-for-line on
// HistoryManagerImpl.cpp's nextCheckpointLedger / prevCheckpointLedger /
// checkpointContainingLedger / getCheckpointFrequency, carried over exactly
// rather than re-derived, per spec.md §9's note that reimplementers should
// match the reference arithmetic.
package checkpoint

// Frequency is the checkpoint cadence: production nodes checkpoint every 64
// ledgers, test harnesses that set ARTIFICIALLY_ACCELERATE_TIME_FOR_TESTING
// checkpoint every 8.
type Frequency uint32

const (
	// ProductionFrequency is the default checkpoint cadence.
	ProductionFrequency Frequency = 64
	// AcceleratedFrequency is the cadence used when
	// ARTIFICIALLY_ACCELERATE_TIME_FOR_TESTING is set.
	AcceleratedFrequency Frequency = 8
)

// FrequencyFor returns the checkpoint frequency for a node configured with
// accelerated test timing or not.
func FrequencyFor(accelerated bool) Frequency {
	if accelerated {
		return AcceleratedFrequency
	}
	return ProductionFrequency
}

// IsCheckpoint reports whether ledger is itself a checkpoint's last ledger
// — a checkpoint boundary k·F−1 (spec.md §3). Equivalent to the original's
// maybeQueueHistoryCheckpoint test "ledger+1 == nextCheckpointLedger(ledger+1)".
func (f Frequency) IsCheckpoint(ledger uint32) bool {
	return ledger != 0 && (ledger+1)%uint32(f) == 0
}

// Next returns the smallest multiple of f that is >= ledger, or f when
// ledger is 0, mirroring nextCheckpointLedger: under f=8, Next(8)=8 and
// Next(9)=16.
func (f Frequency) Next(ledger uint32) uint32 {
	freq := uint32(f)
	if ledger == 0 {
		return freq
	}
	return ((ledger + freq - 1) / freq) * freq
}

// Prev returns the largest multiple of f that is <= ledger: the first
// ledger of the checkpoint containing ledger, or 0 inside the genesis
// checkpoint.
func (f Frequency) Prev(ledger uint32) uint32 {
	freq := uint32(f)
	return (ledger / freq) * freq
}

// Containing returns the checkpoint that covers ledger: the last ledger of
// the checkpoint range ledger falls within. Grounded on
// checkpointContainingLedger(ledger) = nextCheckpointLedger(ledger+1) - 1.
func (f Frequency) Containing(ledger uint32) uint32 {
	return f.Next(ledger+1) - 1
}

// LedgerRange is an inclusive, non-empty span of ledger sequence numbers.
type LedgerRange struct {
	First uint32
	Last  uint32
}

// Count returns the number of ledgers in the range.
func (r LedgerRange) Count() uint32 {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

// Range is a convenience constructor.
func Range(first, last uint32) LedgerRange {
	return LedgerRange{First: first, Last: last}
}

// CheckpointRange is a LedgerRange whose First and Last both fall on
// checkpoint boundaries (or First==1 for the genesis range). It is
// constructed from an arbitrary ledger span by snapping outward to the
// nearest enclosing checkpoints, grounded on CheckpointRange's constructor
// in the original's Catchup/CheckpointRange.cpp: the caller-visible span
// [first,last] is widened to [first's containing checkpoint's start,
// last's containing checkpoint].
type CheckpointRange struct {
	LedgerRange
}

// NewCheckpointRange snaps span outward to checkpoint boundaries under f:
// First moves down to the start of the checkpoint it falls in (f.Prev(x),
// or 1 for the genesis checkpoint), Last moves up to f.Containing(x).
func NewCheckpointRange(span LedgerRange, f Frequency) CheckpointRange {
	first := f.Prev(span.First)
	if first == 0 {
		first = 1
	}
	last := f.Containing(span.Last)
	return CheckpointRange{LedgerRange{First: first, Last: last}}
}

// CheckpointCount returns the number of checkpoints spanned, inclusive.
func (c CheckpointRange) CheckpointCount(f Frequency) uint32 {
	if c.Last < c.First {
		return 0
	}
	return (f.Containing(c.Last)-f.Containing(c.First))/uint32(f) + 1
}

// Checkpoints returns the last-ledger identifier of every checkpoint
// spanned by c, in ascending order.
func (c CheckpointRange) Checkpoints(f Frequency) []uint32 {
	if c.Last < c.First {
		return nil
	}
	n := c.CheckpointCount(f)
	out := make([]uint32, 0, n)
	end := f.Containing(c.First)
	for i := uint32(0); i < n; i++ {
		out = append(out, end)
		end += uint32(f)
	}
	return out
}
