// Package schema builds and patches page 1 of the database file: the
// 100-byte database header and the single-row sqlite_master leaf describing
// the one user table this engine ever writes.
package schema

import (
	"fmt"
	"regexp"

	"github.com/xwb1989/sqlparser"

	"github.com/gosqlitelog/ulogsqlite/internal/codec"
	"github.com/gosqlitelog/ulogsqlite/internal/page"
	"github.com/gosqlitelog/ulogsqlite/internal/record"
)

// Magic is the 16-byte file-format identifier every SQLite 3 file starts with.
var Magic = [16]byte{'S', 'Q', 'L', 'i', 't', 'e', ' ', 'f', 'o', 'r', 'm', 'a', 't', ' ', '3', 0}

// HeaderLen is the fixed size of the database header at the start of page 1.
const HeaderLen = 100

// SQLiteVersionNumber is a frozen constant recognised by mainline SQLite
// readers (the encoding used by the 3.45.x release series:
// 1000000*major + 1000*minor + patch).
const SQLiteVersionNumber = 3045001

// SchemaFormat is the schema format number this engine always writes.
const SchemaFormat = 4

// TextEncodingUTF8 is the text-encoding code for UTF-8.
const TextEncodingUTF8 = 1

// ErrBadMagic is returned when a file's first 16 bytes aren't the SQLite
// format string.
var ErrBadMagic = fmt.Errorf("schema: bad magic number")

// ErrInvalidPageSize is returned when a page size is not one of the eight
// values SQLite allows.
var ErrInvalidPageSize = fmt.Errorf("schema: invalid page size")

// PageSizeExp returns the exponent n such that 2^n == pageSize, for the
// eight legal page sizes (512 through 65536), or 0 if pageSize is not legal.
func PageSizeExp(pageSize int) int {
	switch pageSize {
	case 512:
		return 9
	case 1024:
		return 10
	case 2048:
		return 11
	case 4096:
		return 12
	case 8192:
		return 13
	case 16384:
		return 14
	case 32768:
		return 15
	case 65536:
		return 16
	default:
		return 0
	}
}

// Header is the parsed form of the 100-byte database header.
type Header struct {
	PageSize          int
	ReservedBytes     int
	FileChangeCounter uint32
	InHeaderDBSize    uint32
	SchemaCookie      uint32
	SchemaFormat      uint32
	TextEncoding      uint32
	VersionValidFor   uint32
	SQLiteVersion     uint32
}

// encodedPageSize returns the on-disk 16-bit encoding of pageSize, where
// 65536 is represented as 1.
func encodedPageSize(pageSize int) uint16 {
	if pageSize == 65536 {
		return 1
	}
	return uint16(pageSize)
}

func decodedPageSize(raw uint16) int {
	if raw == 1 {
		return 65536
	}
	return int(raw)
}

// WriteHeader renders h into buf[0:100].
func WriteHeader(buf []byte, h Header) error {
	if len(buf) < HeaderLen {
		return fmt.Errorf("schema: buffer shorter than header")
	}
	if PageSizeExp(h.PageSize) == 0 {
		return ErrInvalidPageSize
	}

	copy(buf[0:16], Magic[:])
	codec.WriteU16(buf[16:18], encodedPageSize(h.PageSize))
	buf[18] = 1 // file format write version: legacy rollback journal
	buf[19] = 1 // file format read version
	buf[20] = byte(h.ReservedBytes)
	buf[21] = 64 // max embedded payload fraction
	buf[22] = 32 // min embedded payload fraction
	buf[23] = 32 // leaf payload fraction
	codec.WriteU32(buf[24:28], h.FileChangeCounter)
	codec.WriteU32(buf[28:32], h.InHeaderDBSize)
	codec.WriteU32(buf[32:36], 0) // first freelist trunk page
	codec.WriteU32(buf[36:40], 0) // total freelist pages
	codec.WriteU32(buf[40:44], h.SchemaCookie)
	codec.WriteU32(buf[44:48], h.SchemaFormat)
	codec.WriteU32(buf[48:52], 0) // default page cache size
	codec.WriteU32(buf[52:56], 0) // largest root b-tree page (vacuum)
	codec.WriteU32(buf[56:60], h.TextEncoding)
	codec.WriteU32(buf[60:64], 0) // user version
	codec.WriteU32(buf[64:68], 0) // incremental vacuum mode
	codec.WriteU32(buf[68:72], 0) // application ID
	for i := 72; i < 92; i++ {
		buf[i] = 0 // reserved for expansion
	}
	codec.WriteU32(buf[92:96], h.VersionValidFor)
	codec.WriteU32(buf[96:100], h.SQLiteVersion)
	return nil
}

// ReadHeader parses buf[0:100] into a Header, validating the magic number.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("schema: buffer shorter than header")
	}
	for i := 0; i < 16; i++ {
		if buf[i] != Magic[i] {
			return Header{}, ErrBadMagic
		}
	}
	pageSize := decodedPageSize(codec.ReadU16(buf[16:18]))
	if PageSizeExp(pageSize) == 0 {
		return Header{}, ErrInvalidPageSize
	}
	return Header{
		PageSize:          pageSize,
		ReservedBytes:     int(buf[20]),
		FileChangeCounter: codec.ReadU32(buf[24:28]),
		InHeaderDBSize:    codec.ReadU32(buf[28:32]),
		SchemaCookie:      codec.ReadU32(buf[40:44]),
		SchemaFormat:      codec.ReadU32(buf[44:48]),
		TextEncoding:      codec.ReadU32(buf[56:60]),
		VersionValidFor:   codec.ReadU32(buf[92:96]),
		SQLiteVersion:     codec.ReadU32(buf[96:100]),
	}, nil
}

// TableInfo names the single user table this engine writes.
type TableInfo struct {
	Name     string
	ColCount int
}

// CreateTableSQL renders the CREATE TABLE text stored in sqlite_master, with
// placeholder column names c0, c1, ... matching the original C driver's
// schema convention.
func CreateTableSQL(t TableInfo) string {
	sql := "CREATE TABLE " + t.Name + " ("
	for i := 0; i < t.ColCount; i++ {
		if i > 0 {
			sql += ", "
		}
		sql += fmt.Sprintf("c%d", i)
	}
	sql += ")"
	return sql
}

// masterColumnRootPageIndex is the sqlite_master column holding the root
// page number: (type, name, tbl_name, rootpage, sql).
const masterColumnRootPageIndex = 3

// BuildPageOne writes the complete page 1 (100-byte header plus the
// sqlite_master leaf with its single CREATE TABLE row) into buf, which must
// be exactly pageSize bytes. The rootpage column is written as a zero
// placeholder, reserved at serial type 6 (8-byte integer) so Finalize can
// overwrite it in place without resizing the record.
func BuildPageOne(buf []byte, pageSize, reservedBytes int, table TableInfo) error {
	if err := WriteHeader(buf, Header{
		PageSize:          pageSize,
		ReservedBytes:     reservedBytes,
		FileChangeCounter: 1,
		InHeaderDBSize:    0,
		SchemaCookie:      1,
		SchemaFormat:      SchemaFormat,
		TextEncoding:      TextEncodingUTF8,
		VersionValidFor:   1,
		SQLiteVersion:     SQLiteVersionNumber,
	}); err != nil {
		return err
	}

	values := []record.Value{
		{Type: record.Text, Data: []byte("table")},
		{Type: record.Text, Data: []byte(table.Name)},
		{Type: record.Text, Data: []byte(table.Name)},
		{Type: record.Int, Data: make([]byte, 8)}, // rootpage placeholder, patched later
		{Type: record.Text, Data: []byte(CreateTableSQL(table))},
	}

	sizes, err := record.Measure(values)
	if err != nil {
		return err
	}
	recordBuf := make([]byte, sizes.Total)
	if _, err := record.Write(recordBuf, values); err != nil {
		return err
	}

	p := page.New(buf, 1, pageSize, reservedBytes)
	p.Init(page.KindLeafTable)
	if err := p.AddCell(1, recordBuf); err != nil {
		return err
	}
	p.FinalizeHeader()
	return nil
}

// parseMasterRecord locates the sqlite_master row's single cell and parses
// its record header, returning the header plus where its body begins.
func parseMasterRecord(page1Buf []byte) (record.Header, int, error) {
	h, err := page.ParseHeader(page1Buf, 1)
	if err != nil {
		return record.Header{}, 0, err
	}
	if h.CellCount == 0 {
		return record.Header{}, 0, fmt.Errorf("schema: page 1 has no sqlite_master row")
	}
	cellOff := page.ReadCellOffset(page1Buf, 1, h, 0)

	payloadLen, n := codec.ReadVarint(page1Buf, cellOff)
	if n == 0 {
		return record.Header{}, 0, fmt.Errorf("schema: malformed sqlite_master cell")
	}
	_, n2 := codec.ReadVarint(page1Buf, cellOff+n)
	if n2 == 0 {
		return record.Header{}, 0, fmt.Errorf("schema: malformed sqlite_master cell rowid")
	}
	recordStart := cellOff + n + n2
	recordEnd := recordStart + int(payloadLen)
	if recordEnd > len(page1Buf) {
		return record.Header{}, 0, fmt.Errorf("schema: sqlite_master record exceeds page")
	}

	return record.ReadHeader(page1Buf, recordStart)
}

// PatchRootPage overwrites the rootpage field of the sqlite_master row
// already present in page1Buf (as built by BuildPageOne) with root, in
// place, without touching any other byte of the record.
func PatchRootPage(page1Buf []byte, root uint32) error {
	hdr, bodyStart, err := parseMasterRecord(page1Buf)
	if err != nil {
		return err
	}
	if len(hdr.SerialTypes) <= masterColumnRootPageIndex {
		return fmt.Errorf("schema: sqlite_master row missing rootpage column")
	}
	offsets, lengths := record.ColumnOffsets(hdr)
	if lengths[masterColumnRootPageIndex] != 8 {
		return fmt.Errorf("schema: rootpage column is not an 8-byte placeholder")
	}

	fieldOff := bodyStart + offsets[masterColumnRootPageIndex]
	codec.WriteU64(page1Buf[fieldOff:fieldOff+8], uint64(root))
	return nil
}

// PatchHeaderCounters updates the in-header database size, increments the
// change counter and sets version-valid-for to the new change counter (so
// SQLite trusts the in-header size), leaving every other header byte
// untouched.
func PatchHeaderCounters(page1Buf []byte, pageCount uint32) error {
	h, err := ReadHeader(page1Buf)
	if err != nil {
		return err
	}
	h.InHeaderDBSize = pageCount
	h.FileChangeCounter++
	h.VersionValidFor = h.FileChangeCounter
	return WriteHeader(page1Buf, h)
}

// MasterRootPage reads back the rootpage field of the sqlite_master row, for
// use by the reader when opening a finalised file.
func MasterRootPage(page1Buf []byte) (uint32, error) {
	hdr, bodyStart, err := parseMasterRecord(page1Buf)
	if err != nil {
		return 0, err
	}
	offsets, lengths := record.ColumnOffsets(hdr)
	if len(offsets) <= masterColumnRootPageIndex {
		return 0, fmt.Errorf("schema: sqlite_master row missing rootpage column")
	}
	fieldOff := bodyStart + offsets[masterColumnRootPageIndex]
	l := lengths[masterColumnRootPageIndex]
	switch l {
	case 1:
		return uint32(int8(page1Buf[fieldOff])), nil
	case 2:
		return uint32(codec.ReadU16(page1Buf[fieldOff : fieldOff+2])), nil
	case 4:
		return codec.ReadU32(page1Buf[fieldOff : fieldOff+4]), nil
	case 8:
		return uint32(codec.ReadU64(page1Buf[fieldOff : fieldOff+8])), nil
	default:
		return 0, fmt.Errorf("schema: unexpected rootpage field width %d", l)
	}
}

// MasterSQL returns the CREATE TABLE text stored in the sqlite_master row,
// for internal/schema's sqlparser-backed column recovery.
func MasterSQL(page1Buf []byte) (string, error) {
	hdr, bodyStart, err := parseMasterRecord(page1Buf)
	if err != nil {
		return "", err
	}
	offsets, lengths := record.ColumnOffsets(hdr)
	const sqlColumnIndex = 4
	if len(offsets) <= sqlColumnIndex {
		return "", fmt.Errorf("schema: sqlite_master row missing sql column")
	}
	fieldOff := bodyStart + offsets[sqlColumnIndex]
	l := lengths[sqlColumnIndex]
	return string(page1Buf[fieldOff : fieldOff+l]), nil
}

// bareColumnRe matches a comma-separated column list entry with no type, as
// this engine always emits (c0, c1, ...), since sqlparser's MySQL-flavoured
// grammar requires a type on every column definition.
var bareColumnRe = regexp.MustCompile(`(?i)(\bc\d+\b)(\s*[,)])`)

// normalizeForParser rewrites this engine's bare "CREATE TABLE t (c0, c1)"
// into "CREATE TABLE t (c0 TEXT, c1 TEXT)" so sqlparser's grammar accepts it.
func normalizeForParser(sql string) string {
	return bareColumnRe.ReplaceAllString(sql, "$1 TEXT$2")
}

// ColumnNames parses the CREATE TABLE SQL stored in sqlite_master back into
// its column name list via sqlparser, confirming the schema text this engine
// wrote is still well-formed SQL and giving the reader and the resumable
// append path a column count independent of the caller's own bookkeeping.
func ColumnNames(createTableSQL string) ([]string, error) {
	stmt, err := sqlparser.Parse(normalizeForParser(createTableSQL))
	if err != nil {
		return nil, fmt.Errorf("schema: parsing stored CREATE TABLE: %w", err)
	}

	ddl, ok := stmt.(*sqlparser.DDL)
	if !ok || ddl.Action != "create" || ddl.TableSpec == nil {
		return nil, fmt.Errorf("schema: stored SQL is not a CREATE TABLE statement")
	}

	names := make([]string, len(ddl.TableSpec.Columns))
	for i, col := range ddl.TableSpec.Columns {
		names[i] = col.Name.String()
	}
	return names, nil
}
