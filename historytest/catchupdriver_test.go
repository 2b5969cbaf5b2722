package historytest

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jpelaezClub/stellar-core/archive"
	"github.com/jpelaezClub/stellar-core/catchup"
	"github.com/jpelaezClub/stellar-core/checkpoint"
	"github.com/jpelaezClub/stellar-core/internal/config"
	"github.com/jpelaezClub/stellar-core/internal/logging"
	"github.com/jpelaezClub/stellar-core/internal/metrics"
	"github.com/jpelaezClub/stellar-core/ledgermgr"
	"github.com/jpelaezClub/stellar-core/ledgerstate"
)

func uploadLedgerHeaders(t *testing.T, a *archive.MockArchive, checkpointLedger uint32, entries []ledgerstate.LHHE) {
	t.Helper()
	data, err := ledgerstate.EncodeLedgerHeaders(entries)
	require.NoError(t, err)
	local := t.TempDir() + "/headers"
	require.NoError(t, os.WriteFile(local, data, 0o644))
	require.NoError(t, a.PutFile(context.Background(), local, archive.Layout.LedgerHeader(checkpointLedger)))
}

func uploadTxSets(t *testing.T, a *archive.MockArchive, checkpointLedger uint32, sets []ledgerstate.TxSet) {
	t.Helper()
	data, err := ledgerstate.EncodeTxSets(sets)
	require.NoError(t, err)
	local := t.TempDir() + "/txsets"
	require.NoError(t, os.WriteFile(local, data, 0o644))
	require.NoError(t, a.PutFile(context.Background(), local, archive.Layout.Transactions(checkpointLedger)))
}

func entriesInRange(entries []ledgerstate.LHHE, first, last uint32) []ledgerstate.LHHE {
	var out []ledgerstate.LHHE
	for _, e := range entries {
		if e.LedgerSeq >= first && e.LedgerSeq <= last {
			out = append(out, e)
		}
	}
	return out
}

func txSetsInRange(sets []ledgerstate.TxSet, first, last uint32) []ledgerstate.TxSet {
	var out []ledgerstate.TxSet
	for _, s := range sets {
		if s.LedgerSeq >= first && s.LedgerSeq <= last {
			out = append(out, s)
		}
	}
	return out
}

// publishCheckpoints uploads every checkpoint of frequency f spanned by
// [1,last] to a, directly exercising the archive layout the way
// historypublish would, without going through its merge-future machinery.
func publishCheckpoints(t *testing.T, a *archive.MockArchive, f checkpoint.Frequency, last uint32, headers []ledgerstate.LHHE, txSets []ledgerstate.TxSet) {
	t.Helper()
	cps := checkpoint.NewCheckpointRange(checkpoint.Range(catchup.GenesisLedgerSeq, last), f).Checkpoints(f)
	for _, cp := range cps {
		start := f.Prev(cp)
		if start == 0 {
			start = catchup.GenesisLedgerSeq
		}
		uploadLedgerHeaders(t, a, cp, entriesInRange(headers, start, cp))
		uploadTxSets(t, a, cp, txSetsInRange(txSets, start, cp))
	}
}

func TestCatchupDriverOfflineCompleteReplay(t *testing.T) {
	f := checkpoint.AcceleratedFrequency
	sourceNode := ledgermgr.New(logging.NewLogger())
	gen := NewLedgerGenerator(1, sourceNode, NewBucketGenerator(1))
	require.NoError(t, gen.GenerateLedgers(context.Background(), int(4*f-1)))

	a := archive.NewMockArchive("primary")
	publishCheckpoints(t, a, f, sourceNode.LastClosedLedger(), gen.Headers(), gen.TxSets())
	uploadHASFile(t, a, sourceNode.LastClosedLedger(), ledgerstate.HAS{Version: ledgerstate.CurrentHASVersion, CurrentLedger: sourceNode.LastClosedLedger()})

	destNode := ledgermgr.New(logging.NewLogger())
	driver := NewCatchupDriver(logging.NewLogger(), 1, nil)
	cfg := catchup.Configuration{ToLedger: sourceNode.LastClosedLedger(), Recent: config.CatchupRecentInfinite, Mode: catchup.Offline}

	err := driver.Run(context.Background(), []archive.Archive{a}, destNode, NewBucketGenerator(1), cfg, f, sourceNode.LastClosedHeader().Hash, nil)
	require.NoError(t, err)

	require.Equal(t, sourceNode.LastClosedLedger(), destNode.LastClosedLedger())
	require.Equal(t, sourceNode.LastClosedHeader().Hash, destNode.LastClosedHeader().Hash)
	require.Equal(t, ledgermgr.Synced, destNode.State())

	v := NewValidator(gen.Records())
	require.NoError(t, v.CheckHeader(destNode.LastClosedLedger(), destNode.LastClosedHeader().Hash))
}

func TestCatchupDriverOnlineBucketJumpNeedsClosingLedger(t *testing.T) {
	f := checkpoint.AcceleratedFrequency
	sourceNode := ledgermgr.New(logging.NewLogger())
	gen := NewLedgerGenerator(2, sourceNode, NewBucketGenerator(2))
	require.NoError(t, gen.GenerateLedgers(context.Background(), int(4*f-1)))

	a := archive.NewMockArchive("primary")
	publishCheckpoints(t, a, f, sourceNode.LastClosedLedger(), gen.Headers(), gen.TxSets())

	destNode := ledgermgr.New(logging.NewLogger())
	driver := NewCatchupDriver(logging.NewLogger(), 1, nil)

	toLedger := sourceNode.LastClosedLedger()
	cfg := catchup.Configuration{ToLedger: toLedger, Recent: uint32(f), Mode: catchup.Online}

	anchorLedger := toLedger - uint32(f)
	anchorHAS := ledgerstate.HAS{Version: ledgerstate.CurrentHASVersion, CurrentLedger: anchorLedger}
	uploadHASFile(t, a, anchorLedger, anchorHAS)
	uploadHASFile(t, a, toLedger, ledgerstate.HAS{Version: ledgerstate.CurrentHASVersion, CurrentLedger: toLedger})

	closing := ledgerstate.TxSet{LedgerSeq: toLedger + 1, Ops: []byte("closing")}

	err := driver.Run(context.Background(), []archive.Archive{a}, destNode, NewBucketGenerator(2), cfg, f, sourceNode.LastClosedHeader().Hash, &closing)
	require.NoError(t, err)
	require.Equal(t, toLedger+1, destNode.LastClosedLedger())
	require.Equal(t, ledgermgr.Synced, destNode.State())
}

// TestCatchupDriverMetricsMatchPerformedWorkOracle exercises spec.md §8's
// round-trip invariant end to end: it snapshots a real metrics.Registry
// before and after a complete-replay catchup run and checks the diff
// against catchup.ComputePerformedWork for the same plan. A complete
// replay (CATCHUP_COMPLETE) never sets Plan.ApplyBuckets, so the oracle's
// HistoryArchiveStatesDownloaded term stays at its baseline of 1 regardless
// of how many checkpoints the verify range spans, and ToLedger is chosen on
// a checkpoint boundary so every downloaded ledger header and transaction
// set falls inside the verify/apply ranges with none left over.
func TestCatchupDriverMetricsMatchPerformedWorkOracle(t *testing.T) {
	f := checkpoint.AcceleratedFrequency
	sourceNode := ledgermgr.New(logging.NewLogger())
	gen := NewLedgerGenerator(3, sourceNode, NewBucketGenerator(3))
	require.NoError(t, gen.GenerateLedgers(context.Background(), int(4*f-1)))

	a := archive.NewMockArchive("primary")
	publishCheckpoints(t, a, f, sourceNode.LastClosedLedger(), gen.Headers(), gen.TxSets())

	destNode := ledgermgr.New(logging.NewLogger())
	reg := metrics.NewRegistry()
	driver := NewCatchupDriver(logging.NewLogger(), 1, reg)

	cfg := catchup.Configuration{ToLedger: sourceNode.LastClosedLedger(), Recent: config.CatchupRecentInfinite, Mode: catchup.Offline}
	plan := catchup.ComputePlan(destNode.LastClosedLedger(), cfg, f)
	require.False(t, plan.ApplyBuckets)

	uploadHASFile(t, a, plan.VerifyCheckpointRange.Last, ledgerstate.HAS{Version: ledgerstate.CurrentHASVersion, CurrentLedger: plan.VerifyCheckpointRange.Last})

	startMetrics := catchup.MetricsFromSnapshot(reg.Snapshot(), plan)

	err := driver.Run(context.Background(), []archive.Archive{a}, destNode, NewBucketGenerator(3), cfg, f, sourceNode.LastClosedHeader().Hash, nil)
	require.NoError(t, err)
	require.Equal(t, sourceNode.LastClosedLedger(), destNode.LastClosedLedger())

	endMetrics := catchup.MetricsFromSnapshot(reg.Snapshot(), plan)
	observed := catchup.Diff(startMetrics, endMetrics)
	require.Equal(t, catchup.ComputePerformedWork(plan, cfg), observed)
}

func uploadHASFile(t *testing.T, a *archive.MockArchive, checkpointLedger uint32, has ledgerstate.HAS) {
	t.Helper()
	data, err := has.MarshalText()
	require.NoError(t, err)
	local := t.TempDir() + "/has"
	require.NoError(t, os.WriteFile(local, data, 0o644))
	require.NoError(t, a.PutFile(context.Background(), local, archive.Layout.HAS(checkpointLedger)))
}
