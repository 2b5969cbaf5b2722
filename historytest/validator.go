package historytest

import (
	"fmt"

	"github.com/jpelaezClub/stellar-core/archive"
	"github.com/jpelaezClub/stellar-core/ledgerstate"
)

// Validator checks a catchup-ed node's resulting state against the
// Records a LedgerGenerator recorded while producing the original history,
// grounded on CatchupSimulation::crankUntil's final "compare ledger header
// hash, bucket list hash, and every account's balance and sequence number"
// assertions.
type Validator struct {
	records []Record
}

// NewValidator returns a Validator that checks against records.
func NewValidator(records []Record) *Validator {
	return &Validator{records: records}
}

// recordFor returns the Record for ledger seq, or an error if none was ever
// generated for it.
func (v *Validator) recordFor(seq uint32) (Record, error) {
	for _, r := range v.records {
		if r.Seq == seq {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("historytest: no recorded ledger %d", seq)
}

// CheckHeader asserts that hash matches the header hash recorded for ledger
// seq when it was originally generated.
func (v *Validator) CheckHeader(seq uint32, hash ledgerstate.Hash) error {
	want, err := v.recordFor(seq)
	if err != nil {
		return err
	}
	if want.Hash != hash {
		return fmt.Errorf("historytest: ledger %d: header hash mismatch: want %s got %s", seq, want.Hash, hash)
	}
	return nil
}

// CheckBucketListHash asserts that a node's bucket list hash at seq matches
// what the generator recorded.
func (v *Validator) CheckBucketListHash(seq uint32, hash ledgerstate.Hash) error {
	want, err := v.recordFor(seq)
	if err != nil {
		return err
	}
	if want.BucketListHash != hash {
		return fmt.Errorf("historytest: ledger %d: bucket list hash mismatch: want %s got %s", seq, want.BucketListHash, hash)
	}
	return nil
}

// CheckBalances asserts that balances matches exactly the account balances
// recorded for ledger seq.
func (v *Validator) CheckBalances(seq uint32, balances map[string]uint64) error {
	want, err := v.recordFor(seq)
	if err != nil {
		return err
	}
	if len(balances) != len(want.Balances) {
		return fmt.Errorf("historytest: ledger %d: balance account count mismatch: want %d got %d", seq, len(want.Balances), len(balances))
	}
	for name, wantBalance := range want.Balances {
		got, ok := balances[name]
		if !ok {
			return fmt.Errorf("historytest: ledger %d: missing balance for %s", seq, name)
		}
		if got != wantBalance {
			return fmt.Errorf("historytest: ledger %d: balance mismatch for %s: want %d got %d", seq, name, wantBalance, got)
		}
	}
	return nil
}

// CheckSeqs asserts that seqs matches exactly the account sequence numbers
// recorded for ledger seq.
func (v *Validator) CheckSeqs(seq uint32, seqs map[string]uint64) error {
	want, err := v.recordFor(seq)
	if err != nil {
		return err
	}
	if len(seqs) != len(want.Seqs) {
		return fmt.Errorf("historytest: ledger %d: sequence account count mismatch: want %d got %d", seq, len(want.Seqs), len(seqs))
	}
	for name, wantSeq := range want.Seqs {
		got, ok := seqs[name]
		if !ok {
			return fmt.Errorf("historytest: ledger %d: missing sequence number for %s", seq, name)
		}
		if got != wantSeq {
			return fmt.Errorf("historytest: ledger %d: sequence number mismatch for %s: want %d got %d", seq, name, wantSeq, got)
		}
	}
	return nil
}

// CheckBucketsHosted asserts that each non-zero bucket hash recorded for
// ledger seq is hosted by at least one of archives (not necessarily the
// same one), the check HistoryTestsUtils.cpp makes after a catchup run.
// Only archives with a Has(remote) method, such as MockArchive, can
// satisfy it.
func (v *Validator) CheckBucketsHosted(seq uint32, archives []archive.Archive) error {
	want, err := v.recordFor(seq)
	if err != nil {
		return err
	}
	for _, h := range []struct {
		label string
		hash  ledgerstate.Hash
	}{
		{"bucket0", want.Bucket0Hash},
		{"bucket2", want.Bucket2Hash},
	} {
		if h.hash.IsZero() {
			continue
		}
		remote := archive.Layout.Bucket(h.hash.String())
		found := false
		for _, a := range archives {
			if hosted, ok := a.(interface{ Has(string) bool }); ok && hosted.Has(remote) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("historytest: ledger %d: no archive hosts %s (%s)", seq, h.label, remote)
		}
	}
	return nil
}
