// Package ledgerstate defines the wire-level value types of spec.md §3: the
// ledger header history entry, bucket hashes, the History Archive State
// snapshot, and the durable publish-queue row. These are plain value types
// with no behaviour beyond hashing and (de)serialisation; the components
// that act on them (historyqueue, historypublish, catchup) import this
// package rather than each rolling their own.
package ledgerstate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash is a content address: the output of SHA-256 over whatever it
// identifies (an LHHE, a bucket's contents, a HAS's canonical text).
type Hash [32]byte

// String renders the hash as the lowercase hex used throughout the archive
// layout of spec.md §6 ("bucket-<64-hex>.xdr.gz").
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero hash, used as the "no bucket at
// this level" sentinel.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a hex string produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("ledgerstate: hash %q has %d bytes, want %d", s, len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// HashBytes returns the SHA-256 of b as a Hash.
func HashBytes(b []byte) Hash {
	return sha256.Sum256(b)
}

// LHHE is one ledger header history entry, spec.md §3: "hash is a
// deterministic function of the rest; prevHash must equal the hash of the
// LHHE with ledgerSeq-1."
type LHHE struct {
	LedgerSeq      uint32 `json:"ledgerSeq"`
	Hash           Hash   `json:"hash"`
	PrevHash       Hash   `json:"prevHash"`
	BucketListHash Hash   `json:"bucketListHash"`
	CloseTime      uint64 `json:"closeTime"`
	Version        uint32 `json:"version"`
}

// ComputeHash returns the deterministic hash of the entry's content fields
// (everything but Hash itself), used both to populate Hash when minting a
// new entry and to re-verify one read back from an archive.
func (e LHHE) ComputeHash() Hash {
	// Fixed-width encoding so the hash is stable across encodings; this
	// is the content LHHE.Hash is defined to cover.
	buf := make([]byte, 0, 4+32+32+8+4)
	buf = appendUint32(buf, e.LedgerSeq)
	buf = append(buf, e.PrevHash[:]...)
	buf = append(buf, e.BucketListHash[:]...)
	buf = appendUint64(buf, e.CloseTime)
	buf = appendUint32(buf, e.Version)
	return HashBytes(buf)
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendUint64(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// BucketLevel is one level of the merge hierarchy's bucket list: a "curr"
// bucket that is actively being merged into and a "snap" bucket that is the
// stable, previously-completed output of that level. Either may be the
// zero Hash if the level has never been populated.
type BucketLevel struct {
	Curr Hash `json:"curr"`
	Snap Hash `json:"snap"`
}

// HAS is a History Archive State: the root-of-trust snapshot for one
// checkpoint (spec.md §3). This package does not fix the number of Levels;
// a HAS carries however many levels it was built with.
type HAS struct {
	Version       int           `json:"version"`
	CurrentLedger uint32        `json:"currentLedger"`
	Levels        []BucketLevel `json:"currentBuckets"`
}

// CurrentHASVersion is the text-encoding version stamped into every HAS
// this node writes.
const CurrentHASVersion = 1

// Buckets returns the set of every non-zero bucket hash referenced across
// all levels, the set historyqueue pins for the lifetime of the queue
// entry.
func (h HAS) Buckets() []Hash {
	out := make([]Hash, 0, len(h.Levels)*2)
	for _, lvl := range h.Levels {
		if !lvl.Curr.IsZero() {
			out = append(out, lvl.Curr)
		}
		if !lvl.Snap.IsZero() {
			out = append(out, lvl.Snap)
		}
	}
	return out
}

// MarshalText renders the canonical text serialisation of the HAS, stored
// verbatim as the publishqueue.state column and as the .json.gz archive
// object (spec.md §6).
func (h HAS) MarshalText() ([]byte, error) {
	type hasAlias HAS
	return json.MarshalIndent(hasAlias(h), "", "    ")
}

// UnmarshalHAS parses text produced by MarshalText.
func UnmarshalHAS(text []byte) (HAS, error) {
	var h HAS
	err := json.Unmarshal(text, &h)
	return h, err
}

// PublishQueueEntry is one durable row, spec.md §3/§6:
// "publishqueue(ledger INTEGER PRIMARY KEY, state TEXT)".
type PublishQueueEntry struct {
	Ledger uint32
	State  HAS
}
