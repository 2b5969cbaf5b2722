package historytest

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jpelaezClub/stellar-core/archive"
	"github.com/jpelaezClub/stellar-core/ledgerstate"
)

func sampleRecord() Record {
	return Record{
		Seq:            5,
		Hash:           ledgerstate.HashBytes([]byte("header-5")),
		BucketListHash: ledgerstate.HashBytes([]byte("bucketlist-5")),
		Bucket0Hash:    ledgerstate.HashBytes([]byte("bucket0-5")),
		Bucket2Hash:    ledgerstate.HashBytes([]byte("bucket2-5")),
		Balances:       map[string]uint64{"root": 10, "alice": 20},
		Seqs:           map[string]uint64{"root": 1, "alice": 2},
	}
}

func TestValidatorCheckHeaderAcceptsMatch(t *testing.T) {
	r := sampleRecord()
	v := NewValidator([]Record{r})
	require.NoError(t, v.CheckHeader(5, r.Hash))
}

func TestValidatorCheckHeaderRejectsMismatch(t *testing.T) {
	r := sampleRecord()
	v := NewValidator([]Record{r})
	require.Error(t, v.CheckHeader(5, ledgerstate.HashBytes([]byte("wrong"))))
}

func TestValidatorCheckHeaderRejectsUnknownLedger(t *testing.T) {
	v := NewValidator([]Record{sampleRecord()})
	require.Error(t, v.CheckHeader(99, ledgerstate.Hash{}))
}

func TestValidatorCheckBalancesAcceptsMatch(t *testing.T) {
	r := sampleRecord()
	v := NewValidator([]Record{r})
	require.NoError(t, v.CheckBalances(5, map[string]uint64{"root": 10, "alice": 20}))
}

func TestValidatorCheckBalancesRejectsMismatch(t *testing.T) {
	r := sampleRecord()
	v := NewValidator([]Record{r})
	require.Error(t, v.CheckBalances(5, map[string]uint64{"root": 10, "alice": 21}))
}

func TestValidatorCheckSeqsRejectsMissingAccount(t *testing.T) {
	r := sampleRecord()
	v := NewValidator([]Record{r})
	require.Error(t, v.CheckSeqs(5, map[string]uint64{"root": 1}))
}

func TestValidatorCheckBucketsHostedFindsUploadedBuckets(t *testing.T) {
	r := sampleRecord()
	v := NewValidator([]Record{r})

	a := archive.NewMockArchive("primary")
	ctx := context.Background()
	for _, h := range []ledgerstate.Hash{r.Bucket0Hash, r.Bucket2Hash} {
		remote := archive.Layout.Bucket(h.String())
		local := t.TempDir() + "/" + h.String()
		require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))
		require.NoError(t, a.PutFile(ctx, local, remote))
	}

	require.NoError(t, v.CheckBucketsHosted(5, []archive.Archive{a}))
}

func TestValidatorCheckBucketsHostedErrorsWhenMissing(t *testing.T) {
	r := sampleRecord()
	v := NewValidator([]Record{r})
	a := archive.NewMockArchive("primary")
	require.Error(t, v.CheckBucketsHosted(5, []archive.Archive{a}))
}
