package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryInterval is how often TryLockContext re-attempts the advisory
// lock on a busy archive object.
const lockRetryInterval = 50 * time.Millisecond

// LocalArchive stores archive objects under a directory on the local
// filesystem, the analogue of the original's "put/get via filesystem copy"
// archive backend. Concurrent writers are serialised with an advisory file
// lock (github.com/gofrs/flock, picked because it's the lock primitive the
// pack reaches for rather than a hand-rolled PID file).
type LocalArchive struct {
	name     string
	root     string
	readOnly bool
}

// NewLocalArchive returns an Archive rooted at root.
func NewLocalArchive(name, root string, readOnly bool) *LocalArchive {
	return &LocalArchive{name: name, root: root, readOnly: readOnly}
}

func (a *LocalArchive) Name() string   { return a.name }
func (a *LocalArchive) Writable() bool { return !a.readOnly }

func (a *LocalArchive) path(rel string) string {
	return filepath.Join(a.root, rel)
}

// GetFile copies the archive object at remote to local.
func (a *LocalArchive) GetFile(ctx context.Context, remote, local string) error {
	src, err := os.Open(a.path(remote))
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return err
	}
	dst, err := os.Create(local)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// PutFile uploads local to the archive object at remote, using an advisory
// lock on a sibling "<object>.lock" file so two in-flight publishes (there
// should never be more than one, per spec.md §5, but defence costs little)
// never interleave partial writes to the same object.
func (a *LocalArchive) PutFile(ctx context.Context, local, remote string) error {
	if a.readOnly {
		return fmt.Errorf("archive %s: read-only", a.name)
	}
	dst := a.path(remote)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	lock := flock.New(dst + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("archive %s: could not lock %s", a.name, dst)
	}
	defer lock.Unlock()

	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// MkdirRemote ensures the directory containing path exists.
func (a *LocalArchive) MkdirRemote(ctx context.Context, path string) error {
	return os.MkdirAll(a.path(filepath.Dir(path)), 0755)
}

// InitializeArchive lays out the top-level history/ledger/transactions/
// bucket directories for a fresh archive.
func (a *LocalArchive) InitializeArchive(ctx context.Context) error {
	for _, d := range []string{"history", "ledger", "transactions", "bucket"} {
		if err := os.MkdirAll(a.path(d), 0755); err != nil {
			return err
		}
	}
	return nil
}
