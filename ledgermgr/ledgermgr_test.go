package ledgermgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jpelaezClub/stellar-core/internal/logging"
	"github.com/jpelaezClub/stellar-core/ledgerstate"
)

func newTestManager() *Manager {
	return New(logging.NewLogger())
}

func TestCloseLedgerAdvancesChain(t *testing.T) {
	m := newTestManager()
	require.Equal(t, Booting, m.State())

	e1, err := m.CloseLedger(context.Background(), ledgerstate.TxSet{LedgerSeq: 1})
	require.NoError(t, err)
	require.Equal(t, uint32(1), m.LastClosedLedger())

	e2, err := m.CloseLedger(context.Background(), ledgerstate.TxSet{LedgerSeq: 2})
	require.NoError(t, err)
	require.Equal(t, e1.Hash, e2.PrevHash)
}

func TestCloseLedgerRejectsOutOfOrder(t *testing.T) {
	m := newTestManager()
	_, err := m.CloseLedger(context.Background(), ledgerstate.TxSet{LedgerSeq: 5})
	require.Error(t, err)
}

func TestAdoptBucketListTransitionsToWaitingForClosingLedger(t *testing.T) {
	m := newTestManager()
	anchor := ledgerstate.LHHE{LedgerSeq: 31}
	anchor.Hash = anchor.ComputeHash()
	has := ledgerstate.HAS{CurrentLedger: 31}

	require.NoError(t, m.AdoptBucketList(context.Background(), has, anchor))
	require.Equal(t, WaitingForClosingLedger, m.State())
	require.Equal(t, uint32(31), m.LastClosedLedger())
	require.Equal(t, has, m.CurrentHAS())

	e, err := m.CloseLedger(context.Background(), ledgerstate.TxSet{LedgerSeq: 32})
	require.NoError(t, err)
	require.Equal(t, anchor.Hash, e.PrevHash)
}

func TestValueExternalizedIgnoredWhileSyncing(t *testing.T) {
	m := newTestManager()
	m.StartCatchup()
	require.Equal(t, Syncing, m.State())

	require.NoError(t, m.ValueExternalized(context.Background(), 1, ledgerstate.TxSet{LedgerSeq: 1}))
	require.Equal(t, Syncing, m.State())
	require.Equal(t, uint32(0), m.LastClosedLedger())
}

func TestValueExternalizedClosesWhenCaughtUp(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.ValueExternalized(context.Background(), 1, ledgerstate.TxSet{LedgerSeq: 1}))
	require.Equal(t, Synced, m.State())
	require.Equal(t, uint32(1), m.LastClosedLedger())
}

func TestFinishCatchupOnlyFromSyncing(t *testing.T) {
	m := newTestManager()
	m.FinishCatchup()
	require.Equal(t, Booting, m.State())

	m.StartCatchup()
	m.FinishCatchup()
	require.Equal(t, Synced, m.State())
}
