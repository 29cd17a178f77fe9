package ioctx

import (
	"context"
	"io"
)

// MemIO is an in-memory IO backed by a growable byte slice. It exists for
// tests: the writer and reader packages exercise their full logic against it
// without touching a filesystem, and the real on-disk byte layout it
// produces is exactly what FileIO would have written.
type MemIO struct {
	buf []byte
}

// NewMemIO returns an empty in-memory backing store.
func NewMemIO() *MemIO {
	return &MemIO{}
}

// Bytes returns the current backing slice. Callers must not retain it across
// further writes, which may reallocate.
func (m *MemIO) Bytes() []byte { return m.buf }

func (m *MemIO) ReadAt(_ context.Context, buf []byte, pos int64) (int, error) {
	if pos < 0 || pos > int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(buf, m.buf[pos:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemIO) WriteAt(_ context.Context, buf []byte, pos int64) (int, error) {
	end := pos + int64(len(buf))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[pos:end], buf)
	return len(buf), nil
}

func (m *MemIO) Flush(_ context.Context) error { return nil }

func (m *MemIO) Truncate(_ context.Context, size int64) error {
	if size <= int64(len(m.buf)) {
		m.buf = m.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

func (m *MemIO) Size(_ context.Context) (int64, error) {
	return int64(len(m.buf)), nil
}
