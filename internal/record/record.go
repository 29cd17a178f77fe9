// Package record implements the SQLite record format: a varint header of
// serial types followed by the concatenated column bodies. Serialisation is
// split into a measure phase and a place phase because the caller (the
// append writer) must know a cell's total size before it can decide which
// leaf page the row belongs on.
package record

import (
	"fmt"

	"github.com/gosqlitelog/ulogsqlite/internal/codec"
)

// Type identifies the logical type of a column value before it is reduced to
// a SQLite serial type.
type Type int

const (
	// Null represents an absent value; it occupies zero body bytes.
	Null Type = iota
	// Int represents a big-endian signed integer of width 1, 2, 4 or 8 bytes.
	Int
	// Real represents an IEEE-754 double, always 8 bytes wide.
	Real
	// Text represents a UTF-8 string body.
	Text
	// Blob represents an opaque byte string body.
	Blob
)

// Value is one column's contribution to a record: its logical type plus its
// already-encoded body bytes (for Int, big-endian of the chosen width; for
// Real, the 8-byte IEEE-754 encoding; for Text/Blob, the raw bytes; for Null,
// Data is ignored).
type Value struct {
	Type Type
	Data []byte
}

// ErrUnsupportedWidth is returned when an Int value's width isn't one the
// writer knows how to emit (the reader still decodes widths 3 and 6, which
// the writer never produces but a resumed/foreign file might contain).
var ErrUnsupportedWidth = fmt.Errorf("record: unsupported integer width")

// SerialType returns the SQLite serial type byte for v.
func SerialType(v Value) (uint64, error) {
	switch v.Type {
	case Null:
		return 0, nil
	case Int:
		switch len(v.Data) {
		case 1:
			return 1, nil
		case 2:
			return 2, nil
		case 4:
			return 4, nil
		case 8:
			return 6, nil
		default:
			return 0, fmt.Errorf("%w: %d bytes", ErrUnsupportedWidth, len(v.Data))
		}
	case Real:
		if len(v.Data) != 8 {
			return 0, fmt.Errorf("%w: REAL requires 8 bytes, got %d", ErrUnsupportedWidth, len(v.Data))
		}
		return 7, nil
	case Blob:
		return uint64(len(v.Data))*2 + 12, nil
	case Text:
		return uint64(len(v.Data))*2 + 13, nil
	default:
		return 0, fmt.Errorf("record: unknown column type %d", v.Type)
	}
}

// DataLen returns the number of body bytes a serial type occupies. Widths 3
// and 6 (24-bit and 48-bit integers) are never produced by Measure/Write
// below but must still be understood when reading a foreign file.
func DataLen(serialType uint64) int {
	switch serialType {
	case 0, 8, 9:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 3
	case 4:
		return 4
	case 5:
		return 6
	case 6, 7:
		return 8
	default:
		if serialType >= 12 && serialType%2 == 0 {
			return int((serialType - 12) / 2)
		}
		if serialType >= 13 && serialType%2 == 1 {
			return int((serialType - 13) / 2)
		}
		return 0
	}
}

// ValueType maps a serial type back to the logical Type a reader should
// reconstitute it as.
func ValueType(serialType uint64) Type {
	switch serialType {
	case 0:
		return Null
	case 7:
		return Real
	case 8, 9:
		return Int
	}
	if serialType >= 1 && serialType <= 6 {
		return Int
	}
	if serialType >= 12 && serialType%2 == 0 {
		return Blob
	}
	return Text
}

// Sizes holds the three lengths Measure computes for a set of column values.
type Sizes struct {
	HeaderLen int // bytes in the record header, including its own length varint
	BodyLen   int // bytes in the record body
	Total     int // HeaderLen + BodyLen; the payload size placed in the leaf cell
}

// Measure computes the header and body sizes for values without writing
// anything, so the append writer can decide whether the resulting cell fits
// on the current page before committing to place it.
func Measure(values []Value) (Sizes, error) {
	serialTypes := make([]uint64, len(values))
	headerPayload := 0
	bodyLen := 0
	for i, v := range values {
		st, err := SerialType(v)
		if err != nil {
			return Sizes{}, err
		}
		serialTypes[i] = st
		headerPayload += codec.VarintLen(st)
		if v.Type != Null {
			bodyLen += len(v.Data)
		}
	}

	// The header's own length varint is self-inclusive: growing the length
	// can itself widen the varint that encodes it. Converge to a fixed
	// point; VarintLen is monotonic in its argument so this always settles.
	guess := 1
	var headerLen int
	for {
		total := headerPayload + guess
		need := codec.VarintLen(uint64(total))
		if need == guess {
			headerLen = total
			break
		}
		guess = need
	}

	return Sizes{
		HeaderLen: headerLen,
		BodyLen:   bodyLen,
		Total:     headerLen + bodyLen,
	}, nil
}

// Write serialises values into buf (which must be at least Measure(values).Total
// bytes) and returns the number of bytes written.
func Write(buf []byte, values []Value) (int, error) {
	sizes, err := Measure(values)
	if err != nil {
		return 0, err
	}

	off := 0
	off += codec.WriteVarint(buf[off:], uint64(sizes.HeaderLen))
	for _, v := range values {
		st, err := SerialType(v)
		if err != nil {
			return 0, err
		}
		off += codec.WriteVarint(buf[off:], st)
	}
	if off != sizes.HeaderLen {
		return 0, fmt.Errorf("record: header length mismatch: measured %d, wrote %d", sizes.HeaderLen, off)
	}

	for _, v := range values {
		if v.Type == Null {
			continue
		}
		off += copy(buf[off:], v.Data)
	}

	return off, nil
}

// Header is a parsed record header: one serial type per column.
type Header struct {
	Len         int // total header length in bytes, including its own varint
	SerialTypes []uint64
}

// ReadHeader parses a record header from data starting at offset.
func ReadHeader(data []byte, offset int) (Header, int, error) {
	headerLen, n := codec.ReadVarint(data, offset)
	if n == 0 {
		return Header{}, offset, fmt.Errorf("record: malformed header length varint")
	}
	cursor := offset + n
	end := offset + int(headerLen)
	if end > len(data) {
		return Header{}, offset, fmt.Errorf("record: header length %d exceeds payload", headerLen)
	}

	var types []uint64
	for cursor < end {
		st, n := codec.ReadVarint(data, cursor)
		if n == 0 {
			return Header{}, offset, fmt.Errorf("record: malformed serial type varint")
		}
		types = append(types, st)
		cursor += n
	}

	return Header{Len: int(headerLen), SerialTypes: types}, end, nil
}

// ColumnOffsets returns the body byte offset (relative to bodyStart) and
// length of each column described by h.
func ColumnOffsets(h Header) (offsets []int, lengths []int) {
	offsets = make([]int, len(h.SerialTypes))
	lengths = make([]int, len(h.SerialTypes))
	cursor := 0
	for i, st := range h.SerialTypes {
		offsets[i] = cursor
		l := DataLen(st)
		lengths[i] = l
		cursor += l
	}
	return offsets, lengths
}
