package historytest

import (
	"context"
	"fmt"

	"github.com/jpelaezClub/stellar-core/archive"
	"github.com/jpelaezClub/stellar-core/ledgerstate"
)

// BucketGenerator produces deterministic, per-ledger synthetic bucket
// content for two of the merge hierarchy's levels (level 0, the most
// active, and level 2, a representative deeper level), grounded on
// CatchupSimulation's mBucket0Hashes/mBucket1Hashes bookkeeping. Every
// bucket hash is a pure function of the generator's seed, the level, and
// the ledger sequence, so a catchup driver can reconstruct the identical
// bucket list a source node produced just by running a BucketGenerator
// with the same seed — standing in for the out-of-scope bucket-merge
// algorithm, which would normally make this recomputation possible from
// transaction content alone. It also implements
// historypublish.BucketSource, so a LedgerGenerator's node can publish the
// very buckets it records.
type BucketGenerator struct {
	seed int64

	contents map[ledgerstate.Hash][]byte
}

// NewBucketGenerator returns a generator seeded for reproducible test runs.
func NewBucketGenerator(seed int64) *BucketGenerator {
	return &BucketGenerator{seed: seed, contents: make(map[ledgerstate.Hash][]byte)}
}

// Levels returns the content hash of level 0 and level 2's bucket as of
// ledger seq.
func (g *BucketGenerator) Levels(seq uint32) (bucket0, bucket2 ledgerstate.Hash) {
	return g.bucket(seq, 0), g.bucket(seq, 2)
}

// CombinedHash returns the bucket-list hash ledgermgr.Manager expects: the
// hash of seq's level-0 and level-2 bucket hashes concatenated, the same
// formula LedgerGenerator uses when it closes a ledger.
func (g *BucketGenerator) CombinedHash(seq uint32) ledgerstate.Hash {
	b0, b2 := g.Levels(seq)
	return ledgerstate.HashBytes(append(append([]byte{}, b0[:]...), b2[:]...))
}

func (g *BucketGenerator) bucket(seq uint32, level int) ledgerstate.Hash {
	data := []byte(fmt.Sprintf("bucket level=%d seq=%d seed=%d", level, seq, g.seed))
	h := ledgerstate.HashBytes(data)
	g.contents[h] = data
	return h
}

// Open implements historypublish.BucketSource: it returns the recorded
// synthetic content for hash, or an error if this generator never produced
// it.
func (g *BucketGenerator) Open(ctx context.Context, hash ledgerstate.Hash) ([]byte, error) {
	data, ok := g.contents[hash]
	if !ok {
		return nil, fmt.Errorf("historytest: bucket generator has no content for %s", hash)
	}
	return data, nil
}

// InjectFault arranges for a's copy of bucket hash to exhibit fault on
// every subsequent GetFile of that bucket object. catchup.VerifyRange and
// catchup.ApplyPlan download no bucket files, so the fault does not reach
// their error paths; only a direct GetFile of the bucket sees it.
func (g *BucketGenerator) InjectFault(a *archive.MockArchive, hash ledgerstate.Hash, fault archive.Fault) {
	a.InjectFault(archive.Layout.Bucket(hash.String()), fault)
}
