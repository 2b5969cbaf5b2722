// Package historytest is the test harness of spec.md §4.G: a deterministic
// ledger generator, a synthetic bucket generator, a validator, and a
// catchup driver that exercises a second node against the first node's
// published archive. Grounded directly on
// history/test/HistoryTestsUtils.cpp's CatchupSimulation: the same fixed
// cast of accounts (root/alice/bob/carol), a fixed root-funding pattern in
// every ledger plus seeded random extra payments after ledger 4, and the same recorded
// per-ledger fields (seq, hash, bucketListHash, per-level bucket hash,
// balances, sequence numbers).
package historytest

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/jpelaezClub/stellar-core/ledgermgr"
	"github.com/jpelaezClub/stellar-core/ledgerstate"
)

// accountNames is the fixed cast of CatchupSimulation::generateRandomLedger:
// root funds alice/bob/carol every ledger; they randomly pay one another
// from ledger 5 onward.
var accountNames = []string{"root", "alice", "bob", "carol"}

// Record is one ledger's worth of recorded state, the fields
// CatchupSimulation pushes onto mLedgerSeqs/mLedgerHashes/mBucketListHashes/
// mBucket0Hashes/mBucket1Hashes/*Balances/*Seqs.
type Record struct {
	Seq            uint32
	Hash           ledgerstate.Hash
	BucketListHash ledgerstate.Hash
	Bucket0Hash    ledgerstate.Hash
	Bucket2Hash    ledgerstate.Hash
	Balances       map[string]uint64
	Seqs           map[string]uint64
}

// LedgerGenerator produces a deterministic sequence of synthetic ledgers
// against a ledgermgr.Manager, maintaining its own account balances and
// sequence numbers exactly the way CatchupSimulation does (transaction
// execution semantics are out of scope per spec.md §1, so the generator is
// both the producer and the sole authority on what each synthetic
// transaction set does).
type LedgerGenerator struct {
	rng      *rand.Rand
	node     *ledgermgr.Manager
	buckets  *BucketGenerator
	balances map[string]uint64
	seqs     map[string]uint64
	records  []Record
	headers  []ledgerstate.LHHE
	txSets   []ledgerstate.TxSet
}

// NewLedgerGenerator returns a generator seeded for reproducible test runs,
// closing ledgers against node.
func NewLedgerGenerator(seed int64, node *ledgermgr.Manager, buckets *BucketGenerator) *LedgerGenerator {
	balances := make(map[string]uint64, len(accountNames))
	seqs := make(map[string]uint64, len(accountNames))
	for _, name := range accountNames {
		balances[name] = 0
		seqs[name] = 0
	}
	return &LedgerGenerator{
		rng:      rand.New(rand.NewSource(seed)),
		node:     node,
		buckets:  buckets,
		balances: balances,
		seqs:     seqs,
	}
}

// Records returns every ledger generated so far, in order.
func (g *LedgerGenerator) Records() []Record { return g.records }

// Headers returns the full LHHE (including PrevHash) of every ledger
// generated so far, in order, for tests that populate an archive directly
// rather than through the publish pipeline.
func (g *LedgerGenerator) Headers() []ledgerstate.LHHE { return g.headers }

// TxSets returns the transaction set of every ledger generated so far, in
// order.
func (g *LedgerGenerator) TxSets() []ledgerstate.TxSet { return g.txSets }

// GenerateLedger closes exactly one more synthetic ledger and returns its
// record, grounded on CatchupSimulation::generateRandomLedger.
func (g *LedgerGenerator) GenerateLedger(ctx context.Context) (Record, ledgerstate.TxSet, error) {
	seq := g.node.LastClosedLedger() + 1
	big := 1000 + uint64(seq)
	small := 100 + uint64(seq)

	var ops []string
	credit := func(payer, payee string, amount uint64) {
		// root is an infinite funder, per CatchupSimulation's treatment of
		// the root account: its balance is never tracked or decremented.
		if payer == "root" {
			g.balances[payee] += amount
		} else if g.balances[payer] >= amount {
			g.balances[payer] -= amount
			g.balances[payee] += amount
		}
		g.seqs[payer]++
		ops = append(ops, fmt.Sprintf("%s->%s:%d", payer, payee, amount))
	}

	// Root funds alice, bob and carol twice each in every ledger.
	credit("root", "alice", big)
	credit("root", "bob", big)
	credit("root", "carol", big)
	credit("root", "alice", big)
	credit("root", "bob", big)
	credit("root", "carol", big)

	if seq > 4 {
		flip := func() bool { return g.rng.Intn(2) == 0 }
		if flip() {
			credit("alice", "bob", small)
		}
		if flip() {
			credit("alice", "carol", small)
		}
		if flip() {
			credit("bob", "alice", small)
		}
		if flip() {
			credit("bob", "carol", small)
		}
		if flip() {
			credit("carol", "alice", small)
		}
		if flip() {
			credit("carol", "bob", small)
		}
	}

	var opsBytes []byte
	for i, op := range ops {
		if i > 0 {
			opsBytes = append(opsBytes, ',')
		}
		opsBytes = append(opsBytes, []byte(op)...)
	}
	txSet := ledgerstate.TxSet{LedgerSeq: seq, Ops: opsBytes}

	b0, b2 := g.buckets.Levels(seq)
	bucketListHash := g.buckets.CombinedHash(seq)

	closed, err := g.node.CloseLedgerWithBucketListHash(ctx, txSet, bucketListHash)
	if err != nil {
		return Record{}, ledgerstate.TxSet{}, fmt.Errorf("historytest: closing synthetic ledger %d: %w", seq, err)
	}

	record := Record{
		Seq:            closed.LedgerSeq,
		Hash:           closed.Hash,
		BucketListHash: closed.BucketListHash,
		Bucket0Hash:    b0,
		Bucket2Hash:    b2,
		Balances:       cloneCounts(g.balances),
		Seqs:           cloneCounts(g.seqs),
	}
	g.records = append(g.records, record)
	g.headers = append(g.headers, closed)
	g.txSets = append(g.txSets, txSet)
	return record, txSet, nil
}

// GenerateLedgers closes n more synthetic ledgers.
func (g *LedgerGenerator) GenerateLedgers(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if _, _, err := g.GenerateLedger(ctx); err != nil {
			return err
		}
	}
	return nil
}

func cloneCounts(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
