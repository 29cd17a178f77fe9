package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gosqlitelog/ulogsqlite/internal/codec"
	"github.com/gosqlitelog/ulogsqlite/internal/record"
)

// parseRow splits one CSV row ("no comma in data", matching the original
// driver's constraint) into column values, inferring each column's type the
// way the original resolve_value/add_col did: digits/'-'/'.' only and no
// embedded '.' means an integer, the same charset with a '.' means a real,
// anything else is text.
func parseRow(csv string) []record.Value {
	fields := strings.Split(csv, ",")
	values := make([]record.Value, len(fields))
	for i, f := range fields {
		values[i] = inferValue(f)
	}
	return values
}

// inferValue classifies one field's text and encodes it into the narrowest
// column value the writer can place: an integer picks the smallest of the
// 1/2/4/8-byte widths that holds it (matching scenario 5's 127/128/32768/
// 2147483648 boundaries), a real is always 8 bytes, everything else is text.
func inferValue(field string) record.Value {
	if looksNumeric(field) {
		if ival, err := strconv.ParseInt(field, 10, 64); err == nil {
			return record.Value{Type: record.Int, Data: encodeIntWidth(ival)}
		}
		if dval, err := strconv.ParseFloat(field, 64); err == nil {
			b := make([]byte, 8)
			codec.WriteU64(b, codec.Float64ToBits(dval))
			return record.Value{Type: record.Real, Data: b}
		}
	}
	return record.Value{Type: record.Text, Data: []byte(field)}
}

// looksNumeric mirrors the original driver's single-pass scan: only
// digits, a leading '-', and at most the decimal-point characters a number
// can contain are allowed.
func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '-' && i == 0:
		case r == '.':
		default:
			return false
		}
	}
	return true
}

// encodeIntWidth picks the narrowest of the writer's four supported
// integer widths that represents v exactly.
func encodeIntWidth(v int64) []byte {
	switch {
	case v >= -128 && v <= 127:
		b := make([]byte, 1)
		b[0] = byte(int8(v))
		return b
	case v >= -32768 && v <= 32767:
		b := make([]byte, 2)
		codec.WriteU16(b, uint16(int16(v)))
		return b
	case v >= -2147483648 && v <= 2147483647:
		b := make([]byte, 4)
		codec.WriteU32(b, uint32(int32(v)))
		return b
	default:
		b := make([]byte, 8)
		codec.WriteU64(b, uint64(v))
		return b
	}
}

// decodeInt reconstructs a signed integer from a big-endian value of width
// 1, 2, 4, or 8 bytes, the widths the writer ever produces.
func decodeInt(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(codec.ReadU16(b)))
	case 4:
		return int64(int32(codec.ReadU32(b)))
	case 8:
		return int64(codec.ReadU64(b))
	default:
		return 0
	}
}

// displayRow formats a row the way the original driver's display_row did:
// pipe-separated columns, integers and reals printed in decimal, blobs
// printed as hex pairs, text printed verbatim.
func displayRow(values []record.Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		switch v.Type {
		case record.Null:
			parts[i] = "null"
		case record.Int:
			parts[i] = strconv.FormatInt(decodeInt(v.Data), 10)
		case record.Real:
			parts[i] = strconv.FormatFloat(codec.BitsToFloat64(codec.ReadU64(v.Data)), 'f', -1, 64)
		case record.Text:
			parts[i] = string(v.Data)
		case record.Blob:
			var sb strings.Builder
			for _, b := range v.Data {
				fmt.Fprintf(&sb, "x%02x ", b)
			}
			parts[i] = strings.TrimSpace(sb.String())
		}
	}
	return strings.Join(parts, "|")
}
