package catchup

import (
	"context"
	"fmt"
	"os"

	"github.com/jpelaezClub/stellar-core/archive"
	"github.com/jpelaezClub/stellar-core/internal/metrics"
	"github.com/jpelaezClub/stellar-core/ledgerstate"
)

// VerifyStatus is the outcome of VerifyRange, spec.md §4.E's taxonomy for
// why a downloaded ledger-header chain was rejected.
type VerifyStatus int

const (
	VerifyOK VerifyStatus = iota
	// VerifyErrBadHash means some entry's stored Hash does not match
	// ComputeHash of its own fields, or the chain's final hash does not
	// match the trust anchor.
	VerifyErrBadHash
	// VerifyErrBadLedgerVersion means an entry declares a ledger protocol
	// version the configured node does not support.
	VerifyErrBadLedgerVersion
	// VerifyErrOvershot means a checkpoint file contains entries beyond
	// its own checkpoint's last ledger.
	VerifyErrOvershot
	// VerifyErrUndershot means a checkpoint file is missing its own
	// final (checkpoint-ending) entry.
	VerifyErrUndershot
	// VerifyErrMissingEntries means the chain has a gap: some ledger
	// sequence in [First,Last] has no corresponding entry.
	VerifyErrMissingEntries
)

func (s VerifyStatus) String() string {
	switch s {
	case VerifyOK:
		return "OK"
	case VerifyErrBadHash:
		return "ERR_BAD_HASH"
	case VerifyErrBadLedgerVersion:
		return "ERR_BAD_LEDGER_VERSION"
	case VerifyErrOvershot:
		return "ERR_OVERSHOT"
	case VerifyErrUndershot:
		return "ERR_UNDERSHOT"
	case VerifyErrMissingEntries:
		return "ERR_MISSING_ENTRIES"
	default:
		return "ERR_UNKNOWN"
	}
}

// VerifyRange downloads and hash-chain-verifies every ledger-header file
// spanned by plan.VerifyCheckpointRange, per spec.md §4.E: "the verifier
// fetches ledger headers checkpoint by checkpoint, confirms each entry's
// internal hash, confirms prevHash continuity both within and across
// checkpoint boundaries, and confirms the final ledger's hash against the
// trust anchor." trustedHash is the hash the anchor HAS (or a configured
// known-hash) asserts for plan.VerifyCheckpointRange.Last. reg, if
// non-nil, is marked with the verify-ledger/verify-ledger-chain
// success/failure meters of spec.md §7; callers that don't care about
// metrics may pass nil.
func VerifyRange(ctx context.Context, archives []archive.Archive, plan Plan, trustedHash ledgerstate.Hash, ledgerVersion uint32, reg *metrics.Registry) (status VerifyStatus, err error) {
	defer func() { mark(reg, componentVerifyLedgerChain, status == VerifyOK) }()

	checkpoints := plan.VerifyCheckpointRange.Checkpoints(plan.Frequency)
	if len(checkpoints) == 0 {
		return VerifyOK, nil
	}

	var chain []ledgerstate.LHHE
	for _, cp := range checkpoints {
		entries, err := fetchLedgerHeaders(ctx, archives, cp, reg)
		if err != nil {
			return VerifyErrMissingEntries, err
		}

		checkpointStart := plan.Frequency.Prev(cp)
		if checkpointStart == 0 {
			checkpointStart = GenesisLedgerSeq
		}
		wantCount := cp - checkpointStart + 1
		if uint32(len(entries)) > wantCount {
			return VerifyErrOvershot, fmt.Errorf("catchup: checkpoint %d file has %d entries, want at most %d", cp, len(entries), wantCount)
		}
		if len(entries) == 0 || entries[len(entries)-1].LedgerSeq != cp {
			return VerifyErrUndershot, fmt.Errorf("catchup: checkpoint %d file missing its own final entry", cp)
		}

		for _, e := range entries {
			if e.Version > ledgerVersion {
				mark(reg, componentVerifyLedger, false)
				return VerifyErrBadLedgerVersion, fmt.Errorf("catchup: ledger %d declares version %d, node supports up to %d", e.LedgerSeq, e.Version, ledgerVersion)
			}
			if e.ComputeHash() != e.Hash {
				mark(reg, componentVerifyLedger, false)
				return VerifyErrBadHash, fmt.Errorf("catchup: ledger %d hash does not match its own fields", e.LedgerSeq)
			}
			mark(reg, componentVerifyLedger, true)
		}
		chain = append(chain, entries...)
	}

	for i, e := range chain {
		if e.LedgerSeq < plan.VerifyCheckpointRange.First || e.LedgerSeq > plan.VerifyCheckpointRange.Last {
			continue
		}
		if i > 0 {
			prev := chain[i-1]
			if prev.LedgerSeq+1 != e.LedgerSeq {
				return VerifyErrMissingEntries, fmt.Errorf("catchup: gap in chain before ledger %d", e.LedgerSeq)
			}
			if prev.Hash != e.PrevHash {
				return VerifyErrBadHash, fmt.Errorf("catchup: ledger %d prevHash does not chain from ledger %d", e.LedgerSeq, prev.LedgerSeq)
			}
		}
	}

	last := chain[len(chain)-1]
	if last.LedgerSeq != plan.VerifyCheckpointRange.Last {
		return VerifyErrMissingEntries, fmt.Errorf("catchup: chain ends at %d, want %d", last.LedgerSeq, plan.VerifyCheckpointRange.Last)
	}
	if last.Hash != trustedHash {
		return VerifyErrBadHash, fmt.Errorf("catchup: final ledger %d hash does not match trust anchor", last.LedgerSeq)
	}

	return VerifyOK, nil
}

// FetchCurrentHAS downloads and parses the HAS file published at
// checkpointLedger, exported for callers that need to bootstrap a trust
// anchor before calling VerifyRange (spec.md §4.D: a catchup run starts by
// learning what the archive currently claims is its most recent published
// state). reg, if non-nil, is marked with the download-has meter of spec.md
// §7.
func FetchCurrentHAS(ctx context.Context, archives []archive.Archive, checkpointLedger uint32, reg *metrics.Registry) (ledgerstate.HAS, error) {
	return fetchHAS(ctx, archives, checkpointLedger, reg)
}

// fetchLedgerHeaders downloads the ledger-header file for checkpoint from
// the first archive willing to serve it, per spec.md §4.F's archive
// fallback: a GetFile failure on one archive is not fatal while others
// remain untried.
func fetchLedgerHeaders(ctx context.Context, archives []archive.Archive, checkpointLedger uint32, reg *metrics.Registry) ([]ledgerstate.LHHE, error) {
	remote := archive.Layout.LedgerHeader(checkpointLedger)
	data, err := fetchFile(ctx, archives, remote)
	if err != nil {
		mark(reg, componentDownloadLedger, false)
		return nil, err
	}
	entries, err := ledgerstate.DecodeLedgerHeaders(data)
	if err != nil {
		mark(reg, componentDownloadLedger, false)
		return nil, err
	}
	// One mark per ledger header, not per fetch call, so the meter's count
	// lines up with LedgersDownloaded's per-ledger unit in oracle.go.
	for range entries {
		mark(reg, componentDownloadLedger, true)
	}
	return entries, nil
}

// fetchTxSets downloads and decodes the transaction-set file for
// checkpoint.
func fetchTxSets(ctx context.Context, archives []archive.Archive, checkpointLedger uint32, reg *metrics.Registry) ([]ledgerstate.TxSet, error) {
	remote := archive.Layout.Transactions(checkpointLedger)
	data, err := fetchFile(ctx, archives, remote)
	if err != nil {
		mark(reg, componentDownloadTransaction, false)
		return nil, err
	}
	sets, err := ledgerstate.DecodeTxSets(data)
	if err != nil {
		mark(reg, componentDownloadTransaction, false)
		return nil, err
	}
	for range sets {
		mark(reg, componentDownloadTransaction, true)
	}
	return sets, nil
}

// fetchHAS downloads and parses the HAS file for checkpoint.
func fetchHAS(ctx context.Context, archives []archive.Archive, checkpointLedger uint32, reg *metrics.Registry) (ledgerstate.HAS, error) {
	remote := archive.Layout.HAS(checkpointLedger)
	data, err := fetchFile(ctx, archives, remote)
	mark(reg, componentDownloadHAS, err == nil)
	if err != nil {
		return ledgerstate.HAS{}, err
	}
	return ledgerstate.UnmarshalHAS(data)
}

func fetchFile(ctx context.Context, archives []archive.Archive, remote string) ([]byte, error) {
	var lastErr error
	for _, a := range archives {
		data, err := getFileBytes(ctx, a, remote)
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("catchup: no archives configured to fetch %s", remote)
	}
	return nil, fmt.Errorf("catchup: fetching %s: %w", remote, lastErr)
}

func getFileBytes(ctx context.Context, a archive.Archive, remote string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "stellar-core-catchup-*")
	if err != nil {
		return nil, err
	}
	local := tmp.Name()
	tmp.Close()
	defer os.Remove(local)

	if err := a.GetFile(ctx, remote, local); err != nil {
		return nil, fmt.Errorf("archive %s: %w", a.Name(), err)
	}
	return os.ReadFile(local)
}
