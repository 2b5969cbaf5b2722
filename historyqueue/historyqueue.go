// Package historyqueue implements the durable publish queue of spec.md
// §4.B: a persisted, strictly-ascending list of (ledger, HAS) rows plus an
// in-memory bucket-reference multiset. It is grounded directly on
// HistoryManagerImpl.cpp's maybeQueueHistoryCheckpoint / queueCurrentHistory
// / publishQueuedHistory / historyPublished / loadBucketsReferencedByPublishQueue,
// carried over operation-for-operation, and on the teacher's util/db
// Accessor for the sqlite plumbing underneath.
package historyqueue

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/jpelaezClub/stellar-core/archive"
	"github.com/jpelaezClub/stellar-core/checkpoint"
	"github.com/jpelaezClub/stellar-core/internal/db"
	"github.com/jpelaezClub/stellar-core/internal/errs"
	"github.com/jpelaezClub/stellar-core/ledgerstate"
)

const createStatement = `CREATE TABLE IF NOT EXISTS publishqueue (ledger INTEGER PRIMARY KEY, state TEXT);`
const createPublishedBucketsStatement = `CREATE TABLE IF NOT EXISTS publishedbuckets (hash TEXT PRIMARY KEY);`

// Store is the durable publish queue for one node. All mutation happens on
// the event-loop thread (spec.md §5: "the durable queue is accessed only
// from the event-loop thread"); Store does not itself enforce that, the
// same way the original leaves it to single-threaded Application access.
type Store struct {
	pair db.Pair
	freq checkpoint.Frequency

	// bucketRefs is the in-memory refcount multiset pinning every bucket
	// referenced by a queued HAS, spec.md §9's "explicit refcount
	// multiset (PublishQueueBuckets); never a back-pointer graph."
	bucketRefs map[ledgerstate.Hash]int
	refsLoaded bool

	// publishedBuckets is the durable set of bucket hashes some prior
	// checkpoint has already uploaded to the configured archives. The
	// write-files/upload sub-phase consults it so a checkpoint whose HAS
	// happens to re-reference an older bucket (the merge hierarchy's
	// deeper levels barely change between checkpoints) doesn't re-open
	// and re-upload a file the archive already has.
	publishedBuckets map[ledgerstate.Hash]struct{}
	publishedLoaded  bool
}

// Open opens (creating if necessary) the publishqueue table in the
// database backing pair, and returns a Store ready for use. freq is the
// checkpoint frequency this node is configured with.
func Open(ctx context.Context, pair db.Pair, freq checkpoint.Frequency) (*Store, error) {
	if _, err := pair.Wdb.Handle.ExecContext(ctx, createStatement); err != nil {
		return nil, fmt.Errorf("historyqueue: create table: %w", err)
	}
	if _, err := pair.Wdb.Handle.ExecContext(ctx, createPublishedBucketsStatement); err != nil {
		return nil, fmt.Errorf("historyqueue: create table: %w", err)
	}
	return &Store{pair: pair, freq: freq, bucketRefs: make(map[ledgerstate.Hash]int)}, nil
}

// MaybeQueue implements spec.md §4.B's maybeQueue: if closedLedger+1 is the
// start of the next checkpoint — i.e. closedLedger is itself the last
// ledger of a checkpoint — and at least one archive is writable, it
// persists a new queue row built from snapshot and pins its buckets.
// Returns whether a row was queued.
func (s *Store) MaybeQueue(ctx context.Context, closedLedger uint32, archives []archive.Archive, snapshot ledgerstate.HAS) (bool, error) {
	if !s.freq.IsCheckpoint(closedLedger) {
		return false, nil
	}
	if !archive.HasAnyWritable(archives) {
		return false, nil
	}
	if err := s.queueCurrentHistory(ctx, closedLedger, snapshot); err != nil {
		return false, err
	}
	return true, nil
}

// queueCurrentHistory persists snapshot at ledger and updates the bucket
// refcount multiset, grounded on HistoryManagerImpl::queueCurrentHistory.
func (s *Store) queueCurrentHistory(ctx context.Context, ledger uint32, snapshot ledgerstate.HAS) error {
	text, err := snapshot.MarshalText()
	if err != nil {
		return fmt.Errorf("historyqueue: marshal HAS: %w", err)
	}

	err = s.pair.Wdb.Atomic(ctx, "historyqueue.queueCurrentHistory", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO publishqueue (ledger, state) VALUES (?, ?)`, ledger, string(text))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
	}

	// The refcount multiset must reflect the persisted row, so loading it
	// lazily is only safe once queueCurrentHistory has also applied this
	// row's deltas.
	if s.refsLoaded {
		s.addBuckets(snapshot.Buckets())
	}
	return nil
}

func (s *Store) addBuckets(hashes []ledgerstate.Hash) {
	for _, h := range hashes {
		s.bucketRefs[h]++
	}
}

func (s *Store) removeBuckets(hashes []ledgerstate.Hash) {
	for _, h := range hashes {
		if s.bucketRefs[h] <= 1 {
			delete(s.bucketRefs, h)
			continue
		}
		s.bucketRefs[h]--
	}
}

// SnapshotStates returns every queued HAS in ascending ledger order,
// spec.md §4.B's snapshotStates.
func (s *Store) SnapshotStates(ctx context.Context) ([]ledgerstate.PublishQueueEntry, error) {
	rows, err := s.pair.Rdb.Handle.QueryContext(ctx, `SELECT ledger, state FROM publishqueue ORDER BY ledger ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []ledgerstate.PublishQueueEntry
	for rows.Next() {
		var ledger uint32
		var text string
		if err := rows.Scan(&ledger, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
		}
		has, err := ledgerstate.UnmarshalHAS([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("historyqueue: corrupt row for ledger %d: %w", ledger, err)
		}
		out = append(out, ledgerstate.PublishQueueEntry{Ledger: ledger, State: has})
	}
	return out, rows.Err()
}

// Next returns the lowest-ledger queued entry, or ok=false if the queue is
// empty, grounded on publishQueuedHistory's
// "SELECT state FROM publishqueue ORDER BY ledger ASC LIMIT 1".
func (s *Store) Next(ctx context.Context) (entry ledgerstate.PublishQueueEntry, ok bool, err error) {
	row := s.pair.Rdb.Handle.QueryRowContext(ctx, `SELECT ledger, state FROM publishqueue ORDER BY ledger ASC LIMIT 1`)
	var ledger uint32
	var text string
	if err = row.Scan(&ledger, &text); err != nil {
		if err == sql.ErrNoRows {
			return entry, false, nil
		}
		return entry, false, fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
	}
	has, err := ledgerstate.UnmarshalHAS([]byte(text))
	if err != nil {
		return entry, false, fmt.Errorf("historyqueue: corrupt row for ledger %d: %w", ledger, err)
	}
	return ledgerstate.PublishQueueEntry{Ledger: ledger, State: has}, true, nil
}

// ReferencedBuckets returns every bucket hash pinned by any queued entry.
// The first call loads the multiset from persisted rows — "on restart, the
// reference multiset is rebuilt from persisted rows before any bucket GC
// runs" (spec.md §4.B) — subsequent calls return the memoised set.
func (s *Store) ReferencedBuckets(ctx context.Context) (map[ledgerstate.Hash]struct{}, error) {
	if !s.refsLoaded {
		if err := s.loadBucketRefs(ctx); err != nil {
			return nil, err
		}
	}
	out := make(map[ledgerstate.Hash]struct{}, len(s.bucketRefs))
	for h := range s.bucketRefs {
		out[h] = struct{}{}
	}
	return out, nil
}

func (s *Store) loadBucketRefs(ctx context.Context) error {
	entries, err := s.SnapshotStates(ctx)
	if err != nil {
		return err
	}
	s.bucketRefs = make(map[ledgerstate.Hash]int)
	for _, e := range entries {
		s.addBuckets(e.State.Buckets())
	}
	s.refsLoaded = true
	return nil
}

// MissingBuckets returns, in a deterministic order, every referenced bucket
// for which have reports false — the subset not present locally
// (spec.md §4.B's missingBuckets, "delegates to bucket store").
func (s *Store) MissingBuckets(ctx context.Context, have func(ledgerstate.Hash) bool) ([]ledgerstate.Hash, error) {
	refs, err := s.ReferencedBuckets(ctx)
	if err != nil {
		return nil, err
	}
	var missing []ledgerstate.Hash
	for h := range refs {
		if !have(h) {
			missing = append(missing, h)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].String() < missing[j].String() })
	return missing, nil
}

// NewlyReferencedBuckets filters candidates down to the hashes no prior
// checkpoint has already published, in a deterministic order, so the
// write-files/upload sub-phase only opens and uploads buckets the archive
// doesn't have yet.
func (s *Store) NewlyReferencedBuckets(ctx context.Context, candidates []ledgerstate.Hash) ([]ledgerstate.Hash, error) {
	if !s.publishedLoaded {
		if err := s.loadPublishedBuckets(ctx); err != nil {
			return nil, err
		}
	}
	seen := make(map[ledgerstate.Hash]struct{}, len(candidates))
	var out []ledgerstate.Hash
	for _, h := range candidates {
		if _, ok := s.publishedBuckets[h]; ok {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// MarkBucketsPublished records hashes as uploaded, so a later checkpoint
// that re-references them is not asked to upload them again.
func (s *Store) MarkBucketsPublished(ctx context.Context, hashes []ledgerstate.Hash) error {
	if !s.publishedLoaded {
		if err := s.loadPublishedBuckets(ctx); err != nil {
			return err
		}
	}
	for _, h := range hashes {
		if _, ok := s.publishedBuckets[h]; ok {
			continue
		}
		if err := s.pair.Wdb.Atomic(ctx, "historyqueue.markBucketPublished", func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO publishedbuckets (hash) VALUES (?)`, h.String())
			return err
		}); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
		}
		s.publishedBuckets[h] = struct{}{}
	}
	return nil
}

func (s *Store) loadPublishedBuckets(ctx context.Context) error {
	rows, err := s.pair.Rdb.Handle.QueryContext(ctx, `SELECT hash FROM publishedbuckets`)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
	}
	defer rows.Close()

	s.publishedBuckets = make(map[ledgerstate.Hash]struct{})
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
		}
		h, err := ledgerstate.ParseHash(hex)
		if err != nil {
			return fmt.Errorf("historyqueue: corrupt published bucket row %q: %w", hex, err)
		}
		s.publishedBuckets[h] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
	}
	s.publishedLoaded = true
	return nil
}

// Remove deletes the row for ledger and decrements the refcount of every
// bucket it referenced, grounded on historyPublished's success path:
// "DELETE FROM publishqueue WHERE ledger = :lg; removeBuckets(originalBuckets)."
// originalBuckets must be the bucket set recorded when the entry was
// queued (not re-derived), matching the original's explicit
// originalBuckets parameter.
func (s *Store) Remove(ctx context.Context, ledger uint32, originalBuckets []ledgerstate.Hash) error {
	err := s.pair.Wdb.Atomic(ctx, "historyqueue.remove", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM publishqueue WHERE ledger = ?`, ledger)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
	}
	if s.refsLoaded {
		s.removeBuckets(originalBuckets)
	}
	return nil
}

// Len returns the number of queued entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	row := s.pair.Rdb.Handle.QueryRowContext(ctx, `SELECT COUNT(*) FROM publishqueue`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrDatabaseError, err)
	}
	return n, nil
}
