// Package archive implements the narrow archive capability contract of
// spec.md §4.F: getFile, putFile, mkdirRemote, initializeArchive, and
// hasAnyWritable. Implementations are interchangeable; historypublish and
// catchup depend only on the Archive interface, never on a concrete
// transport.
package archive

import (
	"context"
	"fmt"
)

// Layout renders the stable archive paths of spec.md §6. Every
// implementation stores objects at exactly these relative paths.
var Layout = struct {
	HAS          func(checkpoint uint32) string
	LedgerHeader func(checkpoint uint32) string
	Transactions func(checkpoint uint32) string
	Bucket       func(hashHex string) string
}{
	HAS: func(checkpoint uint32) string {
		return fmt.Sprintf("history/%s/history-%08x.json.gz", hexPrefix(checkpoint), checkpoint)
	},
	LedgerHeader: func(checkpoint uint32) string {
		return fmt.Sprintf("ledger/%s/ledger-%08x.xdr.gz", hexPrefix(checkpoint), checkpoint)
	},
	Transactions: func(checkpoint uint32) string {
		return fmt.Sprintf("transactions/%s/transactions-%08x.xdr.gz", hexPrefix(checkpoint), checkpoint)
	},
	Bucket: func(hashHex string) string {
		return fmt.Sprintf("bucket/%s/bucket-%s.xdr.gz", hexPrefix3(hashHex), hashHex)
	},
}

func hexPrefix(checkpoint uint32) string {
	s := fmt.Sprintf("%08x", checkpoint)
	return s[0:2] + "/" + s[2:4] + "/" + s[4:6]
}

func hexPrefix3(hashHex string) string {
	if len(hashHex) < 6 {
		return hashHex
	}
	return hashHex[0:2] + "/" + hashHex[2:4] + "/" + hashHex[4:6]
}

// Archive is the capability set a Work unit may invoke against one
// configured history archive. Every method is potentially slow and
// fallible; callers wrap them as cooperative Work units rather than calling
// them inline from the event loop (spec.md §5).
type Archive interface {
	// Name is the archive's configured name, used in meter and log labels.
	Name() string

	// GetFile copies remote (an archive-relative path, see Layout) to
	// local on the caller's filesystem.
	GetFile(ctx context.Context, remote, local string) error

	// PutFile uploads local to remote.
	PutFile(ctx context.Context, local, remote string) error

	// MkdirRemote ensures the remote directory containing path exists.
	// A no-op for archives with no directory concept (e.g. S3).
	MkdirRemote(ctx context.Context, path string) error

	// InitializeArchive prepares a brand-new archive for first use
	// (creates the top-level layout, writes a marker file).
	InitializeArchive(ctx context.Context) error

	// Writable reports whether this archive accepts PutFile calls. A
	// read-only archive (e.g. a public mirror) is still usable as a
	// catchup source.
	Writable() bool
}

// HasAnyWritable reports whether at least one archive in archives accepts
// uploads, the precondition historyqueue.MaybeQueue checks before cutting a
// new checkpoint (spec.md §4.B).
func HasAnyWritable(archives []Archive) bool {
	for _, a := range archives {
		if a.Writable() {
			return true
		}
	}
	return false
}

// Writable returns the subset of archives that accept uploads.
func Writable(archives []Archive) []Archive {
	out := make([]Archive, 0, len(archives))
	for _, a := range archives {
		if a.Writable() {
			out = append(out, a)
		}
	}
	return out
}
