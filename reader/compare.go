package reader

import (
	"bytes"
	"fmt"

	"github.com/gosqlitelog/ulogsqlite/internal/codec"
	"github.com/gosqlitelog/ulogsqlite/internal/page"
	"github.com/gosqlitelog/ulogsqlite/internal/record"
)

// binSearchLeafRowID binary-searches a leaf's cell-pointer array, which is
// always in ascending row-id order (insertion order), for an exact match.
func binSearchLeafRowID(buf []byte, pageNum uint32, h page.Header, target int64) (int, bool, error) {
	lo, hi := 0, int(h.CellCount)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		off := page.ReadCellOffset(buf, pageNum, h, mid)
		rowid, err := page.LeafCellRowID(buf, off)
		if err != nil {
			return 0, false, err
		}
		switch {
		case rowid == target:
			return mid, true, nil
		case rowid < target:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, false, nil
}

// interiorChildForRowID binary-searches an interior page's ascending divider
// keys for the child whose range contains target, following the right-most
// child when target exceeds every key.
func interiorChildForRowID(buf []byte, pageNum uint32, h page.Header, target int64) (uint32, error) {
	lo, hi := 0, int(h.CellCount)
	for lo < hi {
		mid := (lo + hi) / 2
		off := page.ReadCellOffset(buf, pageNum, h, mid)
		_, key, err := page.InteriorCellChildAndKey(buf, off)
		if err != nil {
			return 0, err
		}
		if key >= target {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == int(h.CellCount) {
		return h.RightChild, nil
	}
	off := page.ReadCellOffset(buf, pageNum, h, lo)
	child, _, err := page.InteriorCellChildAndKey(buf, off)
	return child, err
}

// binSearchLeafByColumn binary-searches a leaf's rows by an arbitrary
// column's value, which the caller guarantees is non-decreasing across the
// leaf's cells.
func binSearchLeafByColumn(buf []byte, pageNum uint32, h page.Header, colIdx int, target record.Value) (int, bool, error) {
	lo, hi := 0, int(h.CellCount)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		off := page.ReadCellOffset(buf, pageNum, h, mid)
		hdr, bodyStart, err := parseCellRecord(buf, off)
		if err != nil {
			return 0, false, err
		}
		val, err := extractColumnValue(buf, hdr, bodyStart, colIdx)
		if err != nil {
			return 0, false, err
		}
		cmp := compareValues(val, target)
		switch {
		case cmp == 0:
			return mid, true, nil
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, false, nil
}

// extractColumnValue decodes column colIdx of a record already parsed into
// hdr/bodyStart, copying its bytes out of buf so the result survives buf
// being overwritten by a later page read.
func extractColumnValue(buf []byte, hdr record.Header, bodyStart, colIdx int) (record.Value, error) {
	if colIdx < 0 || colIdx >= len(hdr.SerialTypes) {
		return record.Value{}, fmt.Errorf("reader: column index %d out of range", colIdx)
	}
	st := hdr.SerialTypes[colIdx]
	switch st {
	case 0:
		return record.Value{Type: record.Null}, nil
	case 8:
		return record.Value{Type: record.Int, Data: []byte{0}}, nil
	case 9:
		return record.Value{Type: record.Int, Data: []byte{1}}, nil
	}

	offsets, lengths := record.ColumnOffsets(hdr)
	off := bodyStart + offsets[colIdx]
	l := lengths[colIdx]
	data := make([]byte, l)
	copy(data, buf[off:off+l])
	return record.Value{Type: record.ValueType(st), Data: data}, nil
}

// compareValues implements the type-aware ordering the spec calls for: NULL
// sorts smallest, INT/REAL compare numerically (INT promoted to float64 when
// compared against a REAL), TEXT/BLOB compare lexicographically byte by byte.
func compareValues(a, b record.Value) int {
	if a.Type == record.Null || b.Type == record.Null {
		switch {
		case a.Type == record.Null && b.Type == record.Null:
			return 0
		case a.Type == record.Null:
			return -1
		default:
			return 1
		}
	}

	aNumeric := a.Type == record.Int || a.Type == record.Real
	bNumeric := b.Type == record.Int || b.Type == record.Real
	if aNumeric && bNumeric {
		af, bf := numericFloat(a), numericFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	return bytes.Compare(a.Data, b.Data)
}

func numericFloat(v record.Value) float64 {
	if v.Type == record.Real {
		return codec.BitsToFloat64(codec.ReadU64(v.Data))
	}
	return float64(decodeBigEndianSignedInt(v.Data))
}

// decodeBigEndianSignedInt sign-extends and decodes a big-endian two's
// complement integer of any width SQLite produces (1, 2, 3, 4, 6 or 8 bytes).
func decodeBigEndianSignedInt(data []byte) int64 {
	var v int64
	if len(data) > 0 && data[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range data {
		v = (v << 8) | int64(b)
	}
	return v
}

func valueAsRowID(v record.Value) (int64, error) {
	if v.Type != record.Int {
		return 0, fmt.Errorf("reader: row-id search value must be INT")
	}
	return decodeBigEndianSignedInt(v.Data), nil
}
