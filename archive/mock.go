package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"sync"
)

// Fault is a synthetic failure mode the test harness can inject into a
// single archive object, spec.md §4.G's bucket generator states.
type Fault int

const (
	// ContentsOK means the object is present, well-formed, and hashes
	// correctly: no fault.
	ContentsOK Fault = iota
	// FileNotUploaded means GetFile returns a not-found error as if the
	// publish pipeline never uploaded the object.
	FileNotUploaded
	// CorruptedZippedFile means the stored bytes are not valid gzip.
	CorruptedZippedFile
	// HashMismatch means the object decompresses fine but its content
	// hash does not match what its filename / manifest claims.
	HashMismatch
)

// MockArchive is an in-memory Archive for the test harness, grounded on
// spec.md §4.G: an interchangeable Archive implementation that lets tests
// inject per-object faults without a real filesystem or network.
type MockArchive struct {
	name     string
	readOnly bool

	mu      sync.Mutex
	objects map[string][]byte
	faults  map[string]Fault
}

// NewMockArchive returns an empty, writable mock archive.
func NewMockArchive(name string) *MockArchive {
	return &MockArchive{name: name, objects: make(map[string][]byte), faults: make(map[string]Fault)}
}

func (a *MockArchive) Name() string   { return a.name }
func (a *MockArchive) Writable() bool { return !a.readOnly }

// SetReadOnly marks the archive read-only, used by the test harness to
// simulate a public mirror.
func (a *MockArchive) SetReadOnly(ro bool) { a.readOnly = ro }

// InjectFault arranges for every subsequent GetFile(remote, ...) to exhibit
// fault, per spec.md §8 scenario seeds 5 and 6 ("inject HASH_MISMATCH
// bucket for the oldest checkpoint" / "inject FILE_NOT_UPLOADED").
func (a *MockArchive) InjectFault(remote string, fault Fault) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults[remote] = fault
}

// GetFile writes the bytes stored for remote to local unchanged (PutFile
// stores already-gzipped contents), subject to any injected fault.
func (a *MockArchive) GetFile(ctx context.Context, remote, local string) error {
	a.mu.Lock()
	data, ok := a.objects[remote]
	fault := a.faults[remote]
	a.mu.Unlock()

	switch fault {
	case FileNotUploaded:
		return fmt.Errorf("archive %s: object %s not found", a.name, remote)
	case CorruptedZippedFile:
		data = []byte("not a gzip stream")
	case HashMismatch:
		// Valid gzip, but content a reader will hash-check and reject:
		// substitute unrelated random bytes for the real payload.
		corrupt := make([]byte, 64)
		_, _ = rand.Read(corrupt)
		data = gzipBytes(corrupt)
	default:
		if !ok {
			return fmt.Errorf("archive %s: object %s not found", a.name, remote)
		}
	}
	return writeLocal(local, data)
}

// PutFile stores local's (already-gzipped) contents as the object at
// remote.
func (a *MockArchive) PutFile(ctx context.Context, local, remote string) error {
	if a.readOnly {
		return fmt.Errorf("archive %s: read-only", a.name)
	}
	data, err := readLocal(local)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.objects[remote] = data
	a.mu.Unlock()
	return nil
}

// MkdirRemote is a no-op for the in-memory archive.
func (a *MockArchive) MkdirRemote(ctx context.Context, path string) error { return nil }

// InitializeArchive is a no-op: the mock archive starts empty and ready.
func (a *MockArchive) InitializeArchive(ctx context.Context) error { return nil }

// Has reports whether remote has ever been uploaded (ignoring faults), used
// by the test harness's validator to assert a bucket is still hosted.
func (a *MockArchive) Has(remote string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.objects[remote]
	return ok
}

func gzipBytes(b []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(b)
	_ = w.Close()
	return buf.Bytes()
}

func writeLocal(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func readLocal(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
