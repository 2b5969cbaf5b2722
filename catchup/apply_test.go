package catchup

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jpelaezClub/stellar-core/archive"
	"github.com/jpelaezClub/stellar-core/checkpoint"
	"github.com/jpelaezClub/stellar-core/internal/metrics"
	"github.com/jpelaezClub/stellar-core/ledgerstate"
)

type fakeLedgerManager struct {
	lcl     uint32
	lclHash ledgerstate.Hash
	bucket  ledgerstate.HAS
}

func (m *fakeLedgerManager) LastClosedLedger() uint32 { return m.lcl }

func (m *fakeLedgerManager) CloseLedger(ctx context.Context, txSet ledgerstate.TxSet) (ledgerstate.LHHE, error) {
	e := ledgerstate.LHHE{LedgerSeq: txSet.LedgerSeq, PrevHash: m.lclHash, Version: 1}
	e.Hash = e.ComputeHash()
	m.lcl = e.LedgerSeq
	m.lclHash = e.Hash
	return e, nil
}

func (m *fakeLedgerManager) AdoptBucketList(ctx context.Context, has ledgerstate.HAS, anchor ledgerstate.LHHE) error {
	m.bucket = has
	m.lcl = anchor.LedgerSeq
	m.lclHash = anchor.Hash
	return nil
}

func uploadTxSets(t *testing.T, a *archive.MockArchive, checkpointLedger uint32, sets []ledgerstate.TxSet) {
	t.Helper()
	data, err := ledgerstate.EncodeTxSets(sets)
	require.NoError(t, err)
	local, err := os.CreateTemp(t.TempDir(), "txsets-*")
	require.NoError(t, err)
	_, err = local.Write(data)
	require.NoError(t, err)
	require.NoError(t, local.Close())
	require.NoError(t, a.PutFile(context.Background(), local.Name(), archive.Layout.Transactions(checkpointLedger)))
}

func uploadHAS(t *testing.T, a *archive.MockArchive, checkpointLedger uint32, has ledgerstate.HAS) {
	t.Helper()
	data, err := has.MarshalText()
	require.NoError(t, err)
	local, err := os.CreateTemp(t.TempDir(), "has-*")
	require.NoError(t, err)
	_, err = local.Write(data)
	require.NoError(t, err)
	require.NoError(t, local.Close())
	require.NoError(t, a.PutFile(context.Background(), local.Name(), archive.Layout.HAS(checkpointLedger)))
}

func TestApplyPlanReplaysTransactions(t *testing.T) {
	f := checkpoint.AcceleratedFrequency
	chain := buildChain(39)
	a := archive.NewMockArchive("primary")

	plan := ComputePlan(31, Configuration{ToLedger: 39, Recent: ^uint32(0)}, f)
	for _, cp := range plan.ApplyCheckpointRange.Checkpoints(f) {
		start := f.Prev(cp)
		if start == 0 {
			start = GenesisLedgerSeq
		}
		entries := entriesInRange(chain, start, cp)
		uploadLedgerHeaders(t, a, cp, entries)

		var sets []ledgerstate.TxSet
		for _, e := range entries {
			sets = append(sets, ledgerstate.TxSet{LedgerSeq: e.LedgerSeq, Ops: []byte("noop")})
		}
		uploadTxSets(t, a, cp, sets)
	}

	lm := &fakeLedgerManager{lcl: 31, lclHash: chain[30].Hash}
	reg := metrics.NewRegistry()
	err := ApplyPlan(context.Background(), []archive.Archive{a}, plan, lm, reg)
	require.NoError(t, err)
	require.Equal(t, uint32(39), lm.LastClosedLedger())
	require.Equal(t, uint64(1), reg.Snapshot()[componentApplyLedgerChain+"."+outcomeSuccess])
}

func TestApplyPlanAdoptsBucketsOnGap(t *testing.T) {
	f := checkpoint.AcceleratedFrequency
	chain := buildChain(39)
	a := archive.NewMockArchive("primary")

	plan := ComputePlan(7, Configuration{ToLedger: 39, Recent: 8}, f)
	require.True(t, plan.ApplyBuckets)

	anchorHAS := ledgerstate.HAS{Version: ledgerstate.CurrentHASVersion, CurrentLedger: plan.AnchorLedger}
	uploadHAS(t, a, plan.AnchorLedger, anchorHAS)

	anchorCheckpoint := f.Containing(plan.AnchorLedger)
	anchorStart := f.Prev(anchorCheckpoint)
	if anchorStart == 0 {
		anchorStart = GenesisLedgerSeq
	}
	uploadLedgerHeaders(t, a, anchorCheckpoint, entriesInRange(chain, anchorStart, anchorCheckpoint))

	for _, cp := range plan.ApplyCheckpointRange.Checkpoints(f) {
		start := f.Prev(cp)
		if start == 0 {
			start = GenesisLedgerSeq
		}
		entries := entriesInRange(chain, start, cp)
		uploadLedgerHeaders(t, a, cp, entries)

		var sets []ledgerstate.TxSet
		for _, e := range entries {
			sets = append(sets, ledgerstate.TxSet{LedgerSeq: e.LedgerSeq, Ops: []byte("noop")})
		}
		uploadTxSets(t, a, cp, sets)
	}

	lm := &fakeLedgerManager{lcl: 7}
	reg := metrics.NewRegistry()
	err := ApplyPlan(context.Background(), []archive.Archive{a}, plan, lm, reg)
	require.NoError(t, err)
	require.Equal(t, uint32(39), lm.LastClosedLedger())
	require.Equal(t, plan.AnchorLedger, lm.bucket.CurrentLedger)
	require.Equal(t, uint64(1), reg.Snapshot()[componentBucketApply+"."+outcomeSuccess])
}
