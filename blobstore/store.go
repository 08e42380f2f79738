package blobstore

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when a blob does not exist. It matches
// os.ErrNotExist under errors.Is.
var ErrNotFound = os.ErrNotExist

// ErrExists is returned by PutIfAbsent when the blob already exists. It
// matches os.ErrExist under errors.Is.
var ErrExists = os.ErrExist

// Store reads and writes named blobs. Implementations are safe for
// concurrent use.
type Store interface {
	// Open opens name for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create opens name for streaming writes.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes name in one step, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes name. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ExclusivePutter is implemented by stores that can publish a blob only if
// no blob of that name exists.
type ExclusivePutter interface {
	// PutIfAbsent writes name in one step. It fails with ErrExists when name
	// exists.
	PutIfAbsent(ctx context.Context, name string, data []byte) error
}

// Blob is a read-only handle.
type Blob interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	Size() int64
	Close() error
}

// WritableBlob is a blob being written.
type WritableBlob interface {
	io.Writer
	// Sync makes written data durable where the backend supports it.
	Sync() error
	// Close publishes the blob.
	Close() error
	// Abort discards the blob. It is a no-op after Close.
	Abort() error
}

// NewBytesBlob returns a read-only blob over data.
func NewBytesBlob(data []byte) Blob {
	return &memoryBlob{data: data}
}

// ReadAll reads the whole blob name.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	buf := make([]byte, b.Size())
	if len(buf) == 0 {
		return buf, nil
	}
	n, err := b.ReadAt(ctx, buf, 0)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, errors.Wrapf(err, "blobstore: read %s", name)
	}
	if n != len(buf) {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "blobstore: read %s: %d of %d bytes", name, n, len(buf))
	}
	return buf, nil
}

// readAt copies data[off:] into p with io.ReaderAt semantics.
func readAt(data []byte, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Newf("blobstore: negative offset %d", off)
	}
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
