// Package historypublish implements the publish pipeline of spec.md §4.C:
// the per-checkpoint state machine that resolves pending bucket-merge
// futures, writes the checkpoint's HAS/ledger-header/transaction-set/
// bucket files to a temp directory, and uploads them to every configured
// archive. Grounded on go-algorand's run-stage-switch work-unit
// convention, generalised here from a fixed service enum to the publish
// pipeline's own four stages.
package historypublish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jpelaezClub/stellar-core/archive"
	"github.com/jpelaezClub/stellar-core/historyqueue"
	"github.com/jpelaezClub/stellar-core/internal/errs"
	"github.com/jpelaezClub/stellar-core/internal/logging"
	"github.com/jpelaezClub/stellar-core/internal/metrics"
	"github.com/jpelaezClub/stellar-core/ledgerstate"
	"github.com/jpelaezClub/stellar-core/work"
)

// Stage is one state of the per-entry publish state machine.
type Stage int

const (
	Idle Stage = iota
	ResolveFutures
	WriteFiles
	Upload
	Done
	Failed
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case ResolveFutures:
		return "RESOLVE_FUTURES"
	case WriteFiles:
		return "WRITE_FILES"
	case Upload:
		return "UPLOAD"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MergeFuture is a pending bucket-merge result; ResolveFutures blocks on
// every future referenced by the entry's HAS before any file is written,
// so the bucket hashes baked into the HAS text are final. Bucket-merge
// internals are out of scope (spec.md §1's Non-goals); this package only
// depends on the future's completion contract.
type MergeFuture interface {
	// Resolve blocks until the merge completes and returns the resulting
	// bucket's content hash.
	Resolve(ctx context.Context) (ledgerstate.Hash, error)
}

// BucketSource supplies the gzipped bytes of a bucket's contents so
// WriteFiles can place them in the temp directory for upload. Bucket
// storage internals belong to the bucket manager, not this package.
type BucketSource interface {
	Open(ctx context.Context, hash ledgerstate.Hash) ([]byte, error)
}

// LedgerData supplies the per-checkpoint ledger-header and transaction-set
// content this node produced while closing the checkpoint's ledgers.
type LedgerData interface {
	LedgerHeaders(ctx context.Context, checkpointLedger uint32) ([]ledgerstate.LHHE, error)
	TxSets(ctx context.Context, checkpointLedger uint32) ([]ledgerstate.TxSet, error)
}

// Meters is the set of success/failure counters the pipeline marks, per
// spec.md §7's `{history, publish, success|failure}` surface.
type Meters struct {
	PublishSuccess *metrics.Meter
	PublishFailure *metrics.Meter
}

// Entry is one checkpoint's worth of publish work: the queue row plus the
// futures that must resolve before its files can be written.
type Entry struct {
	Ledger          uint32
	State           ledgerstate.HAS
	PendingFutures  []MergeFuture
	resolvedBuckets []ledgerstate.Hash
}

// Pipeline drives one Entry through Idle -> ResolveFutures -> WriteFiles ->
// Upload -> Done|Failed, implementing work.Unit so it can be scheduled
// alongside other Work units. Contract: exactly one Pipeline is in flight
// per node at a time (spec.md §4.C).
type Pipeline struct {
	entry Entry

	archives []archive.Archive
	buckets  BucketSource
	ledgers  LedgerData
	queue    *historyqueue.Store
	log      logging.Logger
	meters   Meters

	stage  Stage
	tmpDir string

	// newBuckets is the subset of the entry's bucket list historyqueue
	// hasn't already seen published, computed once in writeFiles and
	// consumed by upload, so only newly-introduced buckets get opened
	// and uploaded.
	newBuckets []ledgerstate.Hash
}

// New returns a Pipeline ready to publish entry.
func New(entry Entry, archives []archive.Archive, buckets BucketSource, ledgers LedgerData, queue *historyqueue.Store, log logging.Logger, meters Meters) *Pipeline {
	return &Pipeline{
		entry:    entry,
		archives: archives,
		buckets:  buckets,
		ledgers:  ledgers,
		queue:    queue,
		log:      log,
		meters:   meters,
		stage:    Idle,
	}
}

// Name implements work.Unit.
func (p *Pipeline) Name() string {
	return fmt.Sprintf("publish-%d", p.entry.Ledger)
}

// Stage returns the pipeline's current stage, for tests and status
// reporting.
func (p *Pipeline) Stage() Stage { return p.stage }

// Run advances the pipeline by exactly one stage per call, implementing
// work.Unit so the scheduler can interleave it with other Works.
func (p *Pipeline) Run(ctx context.Context) (work.Status, error) {
	switch p.stage {
	case Idle:
		p.stage = ResolveFutures
		return work.Running, nil

	case ResolveFutures:
		if err := p.resolveFutures(ctx); err != nil {
			return p.fail(ctx, err)
		}
		p.stage = WriteFiles
		return work.Running, nil

	case WriteFiles:
		if err := p.writeFiles(ctx); err != nil {
			return p.fail(ctx, err)
		}
		p.stage = Upload
		return work.Running, nil

	case Upload:
		if err := p.upload(ctx); err != nil {
			return p.fail(ctx, err)
		}
		return p.succeed(ctx)

	case Done:
		return work.Done, nil
	case Failed:
		return work.Failed, nil
	default:
		return work.Failed, fmt.Errorf("historypublish: unknown stage %v", p.stage)
	}
}

// Reset implements work.Unit: rewinds the pipeline to Idle so it can be
// retried from scratch after an operator addresses a Failed entry.
func (p *Pipeline) Reset() {
	p.stage = Idle
	p.newBuckets = nil
	p.cleanupTmpDir()
}

// Abort implements work.Unit: tears down the temp directory without
// touching the durable queue row, per spec.md §5: "aborting ... returns to
// IDLE without touching durable queue state."
func (p *Pipeline) Abort() {
	p.cleanupTmpDir()
	p.newBuckets = nil
	p.stage = Idle
}

func (p *Pipeline) resolveFutures(ctx context.Context) error {
	resolved := make([]ledgerstate.Hash, 0, len(p.entry.PendingFutures))
	for _, f := range p.entry.PendingFutures {
		h, err := f.Resolve(ctx)
		if err != nil {
			// A transient failure is retried once before the entry fails.
			h, err = f.Resolve(ctx)
		}
		if err != nil {
			return fmt.Errorf("%w: resolving bucket merge future: %v", errs.ErrTransientIO, err)
		}
		resolved = append(resolved, h)
	}
	p.entry.resolvedBuckets = resolved
	return nil
}

func (p *Pipeline) writeFiles(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "stellar-core-publish-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp dir: %v", errs.ErrDatabaseError, err)
	}
	p.tmpDir = dir

	hasText, err := p.entry.State.MarshalText()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "has"), hasText, 0o644); err != nil {
		return err
	}

	headers, err := p.ledgers.LedgerHeaders(ctx, p.entry.Ledger)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrArchiveUnavailable, err)
	}
	headerBytes, err := ledgerstate.EncodeLedgerHeaders(headers)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "ledger"), headerBytes, 0o644); err != nil {
		return err
	}

	txSets, err := p.ledgers.TxSets(ctx, p.entry.Ledger)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrArchiveUnavailable, err)
	}
	txBytes, err := ledgerstate.EncodeTxSets(txSets)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "transactions"), txBytes, 0o644); err != nil {
		return err
	}

	newBuckets, err := p.queue.NewlyReferencedBuckets(ctx, p.entry.State.Buckets())
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
	}
	p.newBuckets = newBuckets

	for _, h := range newBuckets {
		data, err := p.buckets.Open(ctx, h)
		if err != nil {
			return fmt.Errorf("%w: opening bucket %s: %v", errs.ErrCorruptedArchive, h, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "bucket-"+h.String()), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) upload(ctx context.Context) error {
	writable := archive.Writable(p.archives)
	if len(writable) == 0 {
		return fmt.Errorf("%w: no writable archives configured", errs.ErrArchiveUnavailable)
	}

	has := archive.Layout.HAS(p.entry.Ledger)
	ledger := archive.Layout.LedgerHeader(p.entry.Ledger)
	transactions := archive.Layout.Transactions(p.entry.Ledger)

	for _, a := range writable {
		if err := p.uploadOne(ctx, a, filepath.Join(p.tmpDir, "has"), has); err != nil {
			return err
		}
		if err := p.uploadOne(ctx, a, filepath.Join(p.tmpDir, "ledger"), ledger); err != nil {
			return err
		}
		if err := p.uploadOne(ctx, a, filepath.Join(p.tmpDir, "transactions"), transactions); err != nil {
			return err
		}
		for _, h := range p.newBuckets {
			remote := archive.Layout.Bucket(h.String())
			local := filepath.Join(p.tmpDir, "bucket-"+h.String())
			if err := p.uploadOne(ctx, a, local, remote); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) uploadOne(ctx context.Context, a archive.Archive, local, remote string) error {
	if err := a.MkdirRemote(ctx, remote); err != nil {
		return fmt.Errorf("%w: archive %s: mkdir %s: %v", errs.ErrArchiveUnavailable, a.Name(), remote, err)
	}
	if err := a.PutFile(ctx, local, remote); err != nil {
		return fmt.Errorf("%w: archive %s: put %s: %v", errs.ErrArchiveUnavailable, a.Name(), remote, err)
	}
	return nil
}

// succeed transitions to Done: removes the queue row, decrements bucket
// refs, and marks the success meter.
func (p *Pipeline) succeed(ctx context.Context) (work.Status, error) {
	p.stage = Done
	p.cleanupTmpDir()
	if err := p.queue.Remove(ctx, p.entry.Ledger, p.entry.State.Buckets()); err != nil {
		return work.Failed, fmt.Errorf("%w: removing queue row after publish: %v", errs.ErrDatabaseError, err)
	}
	if err := p.queue.MarkBucketsPublished(ctx, p.newBuckets); err != nil {
		return work.Failed, fmt.Errorf("%w: recording published buckets: %v", errs.ErrDatabaseError, err)
	}
	if p.meters.PublishSuccess != nil {
		p.meters.PublishSuccess.Mark()
	}
	p.log.WithFields(logging.Fields{"ledger": p.entry.Ledger}).Info("published checkpoint")
	return work.Done, nil
}

// fail transitions to Failed: leaves the queue row intact (spec.md §4.C:
// "leave the row intact on failure"), marks the failure meter, and returns
// the triggering error.
func (p *Pipeline) fail(ctx context.Context, err error) (work.Status, error) {
	p.stage = Failed
	p.cleanupTmpDir()
	if p.meters.PublishFailure != nil {
		p.meters.PublishFailure.Mark()
	}
	p.log.WithFields(logging.Fields{"ledger": p.entry.Ledger}).Warnf("publish failed: %v", err)
	return work.Failed, err
}

func (p *Pipeline) cleanupTmpDir() {
	if p.tmpDir != "" {
		os.RemoveAll(p.tmpDir)
		p.tmpDir = ""
	}
}
