// Package reader implements the read path (C7): opening a finalized file,
// descending the row-id B-tree, binary searching within a leaf, and exposing
// the current row's columns. After ReadInit it holds exactly one page buffer.
package reader

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gosqlitelog/ulogsqlite/internal/codec"
	"github.com/gosqlitelog/ulogsqlite/internal/page"
	"github.com/gosqlitelog/ulogsqlite/internal/record"
	"github.com/gosqlitelog/ulogsqlite/internal/schema"
	"github.com/gosqlitelog/ulogsqlite/ioctx"
	"github.com/gosqlitelog/ulogsqlite/ulogerr"
)

// Config holds reader-side options; unlike the writer, page geometry and
// column count are always recovered from the file itself.
type Config struct {
	Logger *logrus.Logger
}

// Option configures a Reader.
type Option func(*Config)

// WithLogger overrides the structured logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() Config {
	return Config{Logger: logrus.StandardLogger()}
}

// Reader descends a finalized database's row-id B-tree using a single
// page-sized buffer, reloaded on every descent step.
type Reader struct {
	io  ioctx.IO
	cfg Config

	pageSize      int
	reservedBytes int
	rootPage      uint32
	colCount      int

	buf []byte

	curPage      uint32
	curHeader    record.Header
	curBodyStart int
	curRowID     int64
	hasCurrent   bool
}

// New constructs a Reader against io, ready for ReadInit.
func New(io ioctx.IO, opts ...Option) *Reader {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Reader{io: io, cfg: cfg}
}

// ReadInit loads page 1, validates the magic, caches the page geometry, and
// parses the sqlite_master row to learn the root page and column count.
func (r *Reader) ReadInit(ctx context.Context) error {
	hdrBuf := make([]byte, schema.HeaderLen)
	if _, err := r.io.ReadAt(ctx, hdrBuf, 0); err != nil {
		return ulogerr.New("read_init", ulogerr.ErrRead, map[string]interface{}{"cause": err})
	}
	hdr, err := schema.ReadHeader(hdrBuf)
	if err != nil {
		return ulogerr.New("read_init", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	r.pageSize = hdr.PageSize
	r.reservedBytes = hdr.ReservedBytes

	page1 := make([]byte, r.pageSize)
	if _, err := r.io.ReadAt(ctx, page1, 0); err != nil {
		return ulogerr.New("read_init", ulogerr.ErrRead, map[string]interface{}{"cause": err})
	}
	root, err := schema.MasterRootPage(page1)
	if err != nil {
		return ulogerr.New("read_init", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	sql, err := schema.MasterSQL(page1)
	if err != nil {
		return ulogerr.New("read_init", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	cols, err := schema.ColumnNames(sql)
	if err != nil {
		return ulogerr.New("read_init", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}

	r.rootPage = root
	r.colCount = len(cols)
	r.buf = make([]byte, r.pageSize)

	r.cfg.Logger.WithFields(logrus.Fields{
		"op": "read_init", "root_page": root, "columns": r.colCount, "page_size": r.pageSize,
	}).Info("reader initialised")
	return nil
}

// ColCount returns the number of columns in the table, recovered from the
// stored schema.
func (r *Reader) ColCount() int { return r.colCount }

func (r *Reader) readPage(ctx context.Context, pageNum uint32) error {
	offset := int64(pageNum-1) * int64(r.pageSize)
	if _, err := r.io.ReadAt(ctx, r.buf, offset); err != nil {
		return ulogerr.New("read_page", ulogerr.ErrRead, map[string]interface{}{"page": pageNum, "cause": err})
	}
	return nil
}

// SrchRowByID descends the tree by binary-searching row-id keys at every
// interior page and the leaf's cell-pointer array, loading the matching row
// as the current row on success.
func (r *Reader) SrchRowByID(ctx context.Context, rowid int64) error {
	pageNum := r.rootPage
	for {
		if err := r.readPage(ctx, pageNum); err != nil {
			return err
		}
		h, err := page.ParseHeader(r.buf, pageNum)
		if err != nil {
			return ulogerr.New("srch_row_by_id", ulogerr.ErrMalformed, map[string]interface{}{"page": pageNum, "cause": err})
		}

		if h.Kind == page.KindLeafTable {
			idx, found, err := binSearchLeafRowID(r.buf, pageNum, h, rowid)
			if err != nil {
				return ulogerr.New("srch_row_by_id", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
			}
			if !found {
				return ulogerr.New("srch_row_by_id", ulogerr.ErrNotFound, map[string]interface{}{"rowid": rowid})
			}
			return r.loadCell(pageNum, h, idx, rowid)
		}

		child, err := interiorChildForRowID(r.buf, pageNum, h, rowid)
		if err != nil {
			return ulogerr.New("srch_row_by_id", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
		}
		pageNum = child
	}
}

// BinSrchRowByVal finds a row by an arbitrary column's value, assumed
// non-decreasing across the file (as row-id is). When isRowID is true this
// is exactly SrchRowByID. Otherwise it exploits this engine's own leaf
// layout invariant — leaves always occupy the contiguous page range
// [2, rightmost leaf] in row-id order — to binary search leaf pages
// directly by their first row's column value, one page at a time.
func (r *Reader) BinSrchRowByVal(ctx context.Context, colIdx int, target record.Value, isRowID bool) error {
	if isRowID {
		rowid, err := valueAsRowID(target)
		if err != nil {
			return err
		}
		return r.SrchRowByID(ctx, rowid)
	}

	rightmost, err := r.rightmostLeaf(ctx)
	if err != nil {
		return err
	}

	// Find the last leaf whose first row's value is <= target: any row equal
	// to target that is not on that leaf's first row lies inside that leaf.
	lo, hi := uint32(2), rightmost
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		firstVal, err := r.firstColumnValue(ctx, mid, colIdx)
		if err != nil {
			return err
		}
		if compareValues(firstVal, target) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	if err := r.readPage(ctx, lo); err != nil {
		return err
	}
	h, err := page.ParseHeader(r.buf, lo)
	if err != nil {
		return ulogerr.New("bin_srch_row_by_val", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}

	idx, found, err := binSearchLeafByColumn(r.buf, lo, h, colIdx, target)
	if err != nil {
		return ulogerr.New("bin_srch_row_by_val", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	if !found {
		return ulogerr.New("bin_srch_row_by_val", ulogerr.ErrNotFound, map[string]interface{}{"col": colIdx})
	}

	rowidOff := page.ReadCellOffset(r.buf, lo, h, idx)
	rowid, err := page.LeafCellRowID(r.buf, rowidOff)
	if err != nil {
		return ulogerr.New("bin_srch_row_by_val", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	return r.loadCell(lo, h, idx, rowid)
}

// rightmostLeaf follows right-child pointers from the root down to the
// last leaf, one page at a time.
func (r *Reader) rightmostLeaf(ctx context.Context) (uint32, error) {
	pageNum := r.rootPage
	for {
		if err := r.readPage(ctx, pageNum); err != nil {
			return 0, err
		}
		h, err := page.ParseHeader(r.buf, pageNum)
		if err != nil {
			return 0, ulogerr.New("bin_srch_row_by_val", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
		}
		if h.Kind == page.KindLeafTable {
			return pageNum, nil
		}
		pageNum = h.RightChild
	}
}

// firstColumnValue reads leaf pageNum and returns a value-copy of its first
// row's colIdx'th column, safe to compare after the buffer is reused.
func (r *Reader) firstColumnValue(ctx context.Context, pageNum uint32, colIdx int) (record.Value, error) {
	if err := r.readPage(ctx, pageNum); err != nil {
		return record.Value{}, err
	}
	h, err := page.ParseHeader(r.buf, pageNum)
	if err != nil {
		return record.Value{}, ulogerr.New("bin_srch_row_by_val", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	if h.CellCount == 0 {
		return record.Value{}, fmt.Errorf("reader: leaf page %d has no rows", pageNum)
	}
	off := page.ReadCellOffset(r.buf, pageNum, h, 0)
	hdr, bodyStart, err := parseCellRecord(r.buf, off)
	if err != nil {
		return record.Value{}, err
	}
	return extractColumnValue(r.buf, hdr, bodyStart, colIdx)
}

func (r *Reader) loadCell(pageNum uint32, h page.Header, idx int, rowid int64) error {
	off := page.ReadCellOffset(r.buf, pageNum, h, idx)
	hdr, bodyStart, err := parseCellRecord(r.buf, off)
	if err != nil {
		return err
	}
	r.curPage = pageNum
	r.curHeader = hdr
	r.curBodyStart = bodyStart
	r.curRowID = rowid
	r.hasCurrent = true
	return nil
}

// parseCellRecord parses a leaf cell's payload-length and row-id varints
// followed by its record header, returning the header and its body start.
func parseCellRecord(buf []byte, cellOffset int) (record.Header, int, error) {
	_, n := codec.ReadVarint(buf, cellOffset)
	if n == 0 {
		return record.Header{}, 0, fmt.Errorf("reader: malformed payload-length varint")
	}
	_, n2 := codec.ReadVarint(buf, cellOffset+n)
	if n2 == 0 {
		return record.Header{}, 0, fmt.Errorf("reader: malformed rowid varint")
	}
	return record.ReadHeader(buf, cellOffset+n+n2)
}

// CurRowColCount returns the number of columns in the current row.
func (r *Reader) CurRowColCount() (int, error) {
	if !r.hasCurrent {
		return 0, ulogerr.New("cur_row_col_count", ulogerr.ErrNotFound, nil)
	}
	return len(r.curHeader.SerialTypes), nil
}

// CurRowID returns the row-id of the current row.
func (r *Reader) CurRowID() (int64, error) {
	if !r.hasCurrent {
		return 0, ulogerr.New("cur_row_id", ulogerr.ErrNotFound, nil)
	}
	return r.curRowID, nil
}

// ReadColVal decodes column colIdx of the current row.
func (r *Reader) ReadColVal(colIdx int) (record.Value, error) {
	if !r.hasCurrent {
		return record.Value{}, ulogerr.New("read_col_val", ulogerr.ErrNotFound, nil)
	}
	return extractColumnValue(r.buf, r.curHeader, r.curBodyStart, colIdx)
}

// DeriveDataLen returns the number of body bytes a serial type occupies.
func DeriveDataLen(serialType uint64) int {
	return record.DataLen(serialType)
}
