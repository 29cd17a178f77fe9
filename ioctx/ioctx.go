// Package ioctx defines the host I/O capability the writer and reader need:
// positioned reads and writes plus a flush/sync point. It stands in for the
// four C-level callbacks (read_fn, write_fn, flush_fn, and seek implicit in
// both) as a single Go interface, so writer/reader never talk to the
// filesystem directly and can be driven in tests by an in-memory fake.
package ioctx

import (
	"context"
	"os"
)

// IO is the host collaborator the engine reads and writes pages through.
// Every method is context-aware so a caller can cancel a long append run;
// the engine itself never times out or retries on its own.
type IO interface {
	// ReadAt reads len(buf) bytes at absolute file position pos.
	ReadAt(ctx context.Context, buf []byte, pos int64) (int, error)
	// WriteAt writes buf at absolute file position pos.
	WriteAt(ctx context.Context, buf []byte, pos int64) (int, error)
	// Flush syncs buffered writes to durable storage.
	Flush(ctx context.Context) error
	// Truncate resizes the backing store to exactly size bytes, used by
	// init_for_append to discard any previously written interior levels.
	Truncate(ctx context.Context, size int64) error
	// Size returns the current length of the backing store in bytes.
	Size(ctx context.Context) (int64, error)
}

// FileIO adapts an *os.File to IO.
type FileIO struct {
	f *os.File
}

// NewFileIO wraps an already-open file.
func NewFileIO(f *os.File) *FileIO {
	return &FileIO{f: f}
}

func (io *FileIO) ReadAt(_ context.Context, buf []byte, pos int64) (int, error) {
	return io.f.ReadAt(buf, pos)
}

func (io *FileIO) WriteAt(_ context.Context, buf []byte, pos int64) (int, error) {
	return io.f.WriteAt(buf, pos)
}

func (io *FileIO) Flush(_ context.Context) error {
	return io.f.Sync()
}

func (io *FileIO) Truncate(_ context.Context, size int64) error {
	return io.f.Truncate(size)
}

func (io *FileIO) Size(_ context.Context) (int64, error) {
	fi, err := io.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
