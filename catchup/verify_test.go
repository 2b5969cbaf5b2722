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

// buildChain returns a hash-chained LHHE sequence for ledgers [1,last].
func buildChain(last uint32) []ledgerstate.LHHE {
	var out []ledgerstate.LHHE
	var prev ledgerstate.Hash
	for seq := uint32(1); seq <= last; seq++ {
		e := ledgerstate.LHHE{LedgerSeq: seq, PrevHash: prev, Version: 1}
		e.Hash = e.ComputeHash()
		out = append(out, e)
		prev = e.Hash
	}
	return out
}

func uploadLedgerHeaders(t *testing.T, a *archive.MockArchive, checkpointLedger uint32, entries []ledgerstate.LHHE) {
	t.Helper()
	data, err := ledgerstate.EncodeLedgerHeaders(entries)
	require.NoError(t, err)
	local, err := os.CreateTemp(t.TempDir(), "headers-*")
	require.NoError(t, err)
	_, err = local.Write(data)
	require.NoError(t, err)
	require.NoError(t, local.Close())
	require.NoError(t, a.PutFile(context.Background(), local.Name(), archive.Layout.LedgerHeader(checkpointLedger)))
}

func entriesInRange(chain []ledgerstate.LHHE, first, last uint32) []ledgerstate.LHHE {
	var out []ledgerstate.LHHE
	for _, e := range chain {
		if e.LedgerSeq >= first && e.LedgerSeq <= last {
			out = append(out, e)
		}
	}
	return out
}

func TestVerifyRangeAcceptsGoodChain(t *testing.T) {
	f := checkpoint.AcceleratedFrequency
	chain := buildChain(39)
	a := archive.NewMockArchive("primary")

	plan := Plan{
		Frequency:             f,
		VerifyCheckpointRange: checkpoint.NewCheckpointRange(checkpoint.Range(32, 39), f),
	}
	for _, cp := range plan.VerifyCheckpointRange.Checkpoints(f) {
		start := f.Prev(cp)
		if start == 0 {
			start = GenesisLedgerSeq
		}
		uploadLedgerHeaders(t, a, cp, entriesInRange(chain, start, cp))
	}

	trusted := chain[len(chain)-1].Hash
	reg := metrics.NewRegistry()
	status, err := VerifyRange(context.Background(), []archive.Archive{a}, plan, trusted, 1, reg)
	require.NoError(t, err)
	require.Equal(t, VerifyOK, status)

	var wantEntries uint64
	for _, cp := range plan.VerifyCheckpointRange.Checkpoints(f) {
		start := f.Prev(cp)
		if start == 0 {
			start = GenesisLedgerSeq
		}
		wantEntries += uint64(len(entriesInRange(chain, start, cp)))
	}
	snap := reg.Snapshot()
	require.Equal(t, wantEntries, snap[componentVerifyLedger+"."+outcomeSuccess])
	require.Equal(t, uint64(1), snap[componentVerifyLedgerChain+"."+outcomeSuccess])
}

func TestVerifyRangeDetectsBadHash(t *testing.T) {
	f := checkpoint.AcceleratedFrequency
	chain := buildChain(39)
	a := archive.NewMockArchive("primary")

	plan := Plan{
		Frequency:             f,
		VerifyCheckpointRange: checkpoint.NewCheckpointRange(checkpoint.Range(32, 39), f),
	}
	for _, cp := range plan.VerifyCheckpointRange.Checkpoints(f) {
		start := f.Prev(cp)
		if start == 0 {
			start = GenesisLedgerSeq
		}
		uploadLedgerHeaders(t, a, cp, entriesInRange(chain, start, cp))
	}

	var wrongTrusted ledgerstate.Hash
	reg := metrics.NewRegistry()
	status, err := VerifyRange(context.Background(), []archive.Archive{a}, plan, wrongTrusted, 1, reg)
	require.Error(t, err)
	require.Equal(t, VerifyErrBadHash, status)
	require.Equal(t, uint64(1), reg.Snapshot()[componentVerifyLedgerChain+"."+outcomeFailure])
}

func TestVerifyRangeDetectsMissingFile(t *testing.T) {
	f := checkpoint.AcceleratedFrequency
	a := archive.NewMockArchive("primary")

	plan := Plan{
		Frequency:             f,
		VerifyCheckpointRange: checkpoint.NewCheckpointRange(checkpoint.Range(32, 39), f),
	}
	var trusted ledgerstate.Hash
	status, err := VerifyRange(context.Background(), []archive.Archive{a}, plan, trusted, 1, nil)
	require.Error(t, err)
	require.Equal(t, VerifyErrMissingEntries, status)
}
