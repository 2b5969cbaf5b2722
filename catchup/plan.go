// Package catchup implements the catchup planner, work oracle, verifier,
// and applier of spec.md §4.D/§4.E. The planner is grounded directly on
// HistoryManagerImpl.cpp's computeCatchupPerformedWork and the CatchupRange
// / CheckpointRange construction it uses, recovered from
// HistoryTestsUtils.cpp; the verifier/applier stage shape follows
// go-algorand's run-stage-switch work units and
// ApplyCheckpointWork.h's two-phase (open streams once, then
// skip/verify/apply per ledger) structure.
package catchup

import (
	"github.com/jpelaezClub/stellar-core/checkpoint"
	"github.com/jpelaezClub/stellar-core/internal/config"
)

// Mode distinguishes a catchup run that starts from a cold, never-synced
// node (OFFLINE) from one that continues a running node past its current
// last-closed ledger to meet the live network (ONLINE).
type Mode int

const (
	Offline Mode = iota
	Online
)

// GenesisLedgerSeq is the first real ledger; ledger 0 has no content
// (spec.md §3).
const GenesisLedgerSeq uint32 = 1

// Configuration is spec.md §3's CatchupConfiguration.
type Configuration struct {
	ToLedger uint32
	Recent   uint32
	Mode     Mode
}

// CompleteReplay reports whether this configuration wants every ledger
// since lastClosed replayed via transactions rather than any bucket-apply
// shortcut (CATCHUP_COMPLETE / CATCHUP_RECENT=∞).
func (c Configuration) CompleteReplay() bool {
	return c.Recent == config.CatchupRecentInfinite
}

// Plan is the output of ComputePlan: the concrete ranges the verifier and
// applier will walk, per spec.md §4.D steps 1-2.
type Plan struct {
	LastClosed uint32
	Frequency  checkpoint.Frequency

	// ApplyRange is the raw (not checkpoint-aligned) span of ledgers that
	// will end up applied, either by transaction replay or by a single
	// bucket-adoption jump.
	ApplyRange checkpoint.LedgerRange
	// ApplyCheckpointRange is ApplyRange widened to whole checkpoints;
	// its ledger-count is the volume of transaction-set data downloaded.
	ApplyCheckpointRange checkpoint.CheckpointRange
	// ApplyBuckets is true when the gap between LastClosed and the apply
	// range is too large to replay transaction-by-transaction within
	// Recent, so the applier instead adopts AnchorLedger's bucket list
	// wholesale.
	ApplyBuckets bool
	// AnchorLedger is ApplyRange.First-1: the ledger whose HAS must be
	// fetched and, when ApplyBuckets, installed wholesale (spec.md §4.D:
	// "the planner fetches a second HAS at applyFirst−1").
	AnchorLedger uint32

	// VerifyCheckpointRange is the checkpoint-aligned span of ledger
	// header files that must be downloaded to verify the hash chain from
	// AnchorLedger through ApplyRange.Last, grounded on the original's
	// CheckpointRange{{applyFirst-1, applyLast}}: it starts at the
	// checkpoint containing AnchorLedger (or at genesis), which precedes the
	// apply range's own first checkpoint only when ApplyRange.First is the
	// first ledger of a checkpoint.
	VerifyCheckpointRange checkpoint.CheckpointRange
}

// ComputePlan computes the apply and verify ranges for catching up from
// lastClosed to cfg.ToLedger under checkpoint frequency f, per spec.md
// §4.D steps 1-2.
func ComputePlan(lastClosed uint32, cfg Configuration, f checkpoint.Frequency) Plan {
	applyLast := cfg.ToLedger

	var applyFirst uint32
	var applyBuckets bool
	if cfg.CompleteReplay() {
		applyFirst = lastClosed + 1
		applyBuckets = false
	} else {
		recentFirst := uint32(0)
		if applyLast+1 > cfg.Recent {
			recentFirst = applyLast + 1 - cfg.Recent
		}
		applyFirst = max32(lastClosed+1, recentFirst)
		applyBuckets = applyFirst > lastClosed+1
	}

	applyRange := checkpoint.Range(applyFirst, applyLast)
	applyCheckpointRange := checkpoint.NewCheckpointRange(applyRange, f)

	anchor := uint32(0)
	if applyFirst > GenesisLedgerSeq {
		anchor = applyFirst - 1
	}
	verifyFirst := anchor
	if verifyFirst < GenesisLedgerSeq {
		verifyFirst = GenesisLedgerSeq
	}
	verifyCheckpointRange := checkpoint.NewCheckpointRange(checkpoint.Range(verifyFirst, applyLast), f)

	return Plan{
		LastClosed:            lastClosed,
		Frequency:             f,
		ApplyRange:            applyRange,
		ApplyCheckpointRange:  applyCheckpointRange,
		ApplyBuckets:          applyBuckets,
		AnchorLedger:          anchor,
		VerifyCheckpointRange: verifyCheckpointRange,
	}
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
