// Package writer implements the append-only write path (C5): a state
// machine that accumulates column values into a pending row, places rows
// into the current leaf page, flushes full leaves, allocates new ones, and
// can resume into a previously finalized file. Tree finalisation (C6) lives
// in finalize.go.
package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gosqlitelog/ulogsqlite/internal/page"
	"github.com/gosqlitelog/ulogsqlite/internal/record"
	"github.com/gosqlitelog/ulogsqlite/internal/schema"
	"github.com/gosqlitelog/ulogsqlite/ioctx"
	"github.com/gosqlitelog/ulogsqlite/ulogerr"
)

type state int

const (
	stateEmpty state = iota
	stateLeafOpen
	stateFinalizing
	stateClosed
)

// Writer drives row accumulation and page flushing against a single
// caller-supplied IO. It keeps two page-sized buffers for its whole life
// (page 1 and the current leaf), and Finalize allocates further page-sized
// buffers while it builds interior levels, so it does not stay within a
// single page buffer.
type Writer struct {
	io  ioctx.IO
	cfg Config

	state state

	page1Buf []byte

	pageNum  uint32
	leafBuf  []byte
	leafPage *page.Page

	lastRowID  int64
	pendingRow []record.Value
}

// New constructs a Writer against io, ready for WriteInit or InitForAppend.
func New(io ioctx.IO, opts ...Option) *Writer {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Writer{io: io, cfg: cfg, state: stateEmpty}
}

// WriteInit formats a brand-new database: page 1 (header + sqlite_master)
// followed by an empty first leaf at page 2.
func (w *Writer) WriteInit(ctx context.Context) error {
	if w.state != stateEmpty {
		return ulogerr.New("write_init", ulogerr.ErrFinalized, nil)
	}
	if schema.PageSizeExp(w.cfg.PageSize) == 0 {
		return ulogerr.New("write_init", ulogerr.ErrInvalidPageSize, map[string]interface{}{"page_size": w.cfg.PageSize})
	}
	if w.cfg.ColCount <= 0 {
		return fmt.Errorf("writer: ColCount must be set before write_init")
	}

	w.page1Buf = make([]byte, w.cfg.PageSize)
	table := schema.TableInfo{Name: w.cfg.TableName, ColCount: w.cfg.ColCount}
	if err := schema.BuildPageOne(w.page1Buf, w.cfg.PageSize, w.cfg.ReservedBytes, table); err != nil {
		return ulogerr.New("write_init", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	if _, err := w.io.WriteAt(ctx, w.page1Buf, 0); err != nil {
		return ulogerr.New("write_init", ulogerr.ErrWrite, map[string]interface{}{"cause": err})
	}
	if err := w.io.Flush(ctx); err != nil {
		return ulogerr.New("write_init", ulogerr.ErrFlush, map[string]interface{}{"cause": err})
	}

	w.pageNum = 2
	w.leafBuf = make([]byte, w.cfg.PageSize)
	w.leafPage = page.New(w.leafBuf, w.pageNum, w.cfg.PageSize, w.cfg.ReservedBytes)
	w.leafPage.Init(page.KindLeafTable)
	w.lastRowID = 0
	w.pendingRow = make([]record.Value, w.cfg.ColCount)
	w.state = stateLeafOpen

	w.cfg.Logger.WithFields(logrus.Fields{
		"op": "write_init", "page_size": w.cfg.PageSize, "table": w.cfg.TableName, "columns": w.cfg.ColCount,
	}).Info("writer initialised")
	return nil
}

// InitForAppend reopens a previously finalized file for further appends. It
// reads page 1 for geometry and schema, discovers the surviving leaves, and
// truncates away any interior levels finalize had built — those are rebuilt
// from scratch by the next Finalize.
func (w *Writer) InitForAppend(ctx context.Context) error {
	if w.state != stateEmpty {
		return ulogerr.New("init_for_append", ulogerr.ErrFinalized, nil)
	}

	hdrBuf := make([]byte, schema.HeaderLen)
	if _, err := w.io.ReadAt(ctx, hdrBuf, 0); err != nil {
		return ulogerr.New("init_for_append", ulogerr.ErrRead, map[string]interface{}{"cause": err})
	}
	hdr, err := schema.ReadHeader(hdrBuf)
	if err != nil {
		return ulogerr.New("init_for_append", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	w.cfg.PageSize = hdr.PageSize
	w.cfg.ReservedBytes = hdr.ReservedBytes

	w.page1Buf = make([]byte, w.cfg.PageSize)
	if _, err := w.io.ReadAt(ctx, w.page1Buf, 0); err != nil {
		return ulogerr.New("init_for_append", ulogerr.ErrRead, map[string]interface{}{"cause": err})
	}

	sql, err := schema.MasterSQL(w.page1Buf)
	if err != nil {
		return ulogerr.New("init_for_append", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	cols, err := schema.ColumnNames(sql)
	if err != nil {
		return ulogerr.New("init_for_append", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	if w.cfg.ColCount != 0 && w.cfg.ColCount != len(cols) {
		return fmt.Errorf("writer: resumed file has %d columns, configured for %d", len(cols), w.cfg.ColCount)
	}
	w.cfg.ColCount = len(cols)

	size, err := w.io.Size(ctx)
	if err != nil {
		return ulogerr.New("init_for_append", ulogerr.ErrRead, map[string]interface{}{"cause": err})
	}
	totalPages := uint32(size / int64(w.cfg.PageSize))

	leafBuf := make([]byte, w.cfg.PageSize)
	lastLeaf := uint32(0)
	for p := uint32(2); p <= totalPages; p++ {
		if _, err := w.io.ReadAt(ctx, leafBuf, int64(p-1)*int64(w.cfg.PageSize)); err != nil {
			return ulogerr.New("init_for_append", ulogerr.ErrRead, map[string]interface{}{"cause": err, "page": p})
		}
		h, err := page.ParseHeader(leafBuf, p)
		if err != nil || h.Kind != page.KindLeafTable {
			break
		}
		lastLeaf = p
	}
	if lastLeaf == 0 {
		return ulogerr.New("init_for_append", ulogerr.ErrMalformed, map[string]interface{}{"reason": "no leaf pages found"})
	}

	// Interior levels built by a previous finalize (if any) start right
	// after the leaves; discard them, the next Finalize rebuilds them.
	if err := w.io.Truncate(ctx, int64(lastLeaf)*int64(w.cfg.PageSize)); err != nil {
		return ulogerr.New("init_for_append", ulogerr.ErrWrite, map[string]interface{}{"cause": err})
	}

	if _, err := w.io.ReadAt(ctx, leafBuf, int64(lastLeaf-1)*int64(w.cfg.PageSize)); err != nil {
		return ulogerr.New("init_for_append", ulogerr.ErrRead, map[string]interface{}{"cause": err})
	}
	h, err := page.ParseHeader(leafBuf, lastLeaf)
	if err != nil {
		return ulogerr.New("init_for_append", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}

	var lastRowID int64
	if h.CellCount > 0 {
		off := page.ReadCellOffset(leafBuf, lastLeaf, h, int(h.CellCount)-1)
		lastRowID, err = page.LeafCellRowID(leafBuf, off)
		if err != nil {
			return ulogerr.New("init_for_append", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
		}
	}

	leafPage, err := reopenLeaf(leafBuf, lastLeaf, w.cfg.PageSize, w.cfg.ReservedBytes, h)
	if err != nil {
		return ulogerr.New("init_for_append", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}

	w.pageNum = lastLeaf
	w.leafBuf = leafBuf
	w.leafPage = leafPage
	w.lastRowID = lastRowID
	w.pendingRow = make([]record.Value, w.cfg.ColCount)
	w.state = stateLeafOpen

	w.cfg.Logger.WithFields(logrus.Fields{
		"op": "init_for_append", "last_leaf": lastLeaf, "last_rowid": lastRowID, "columns": w.cfg.ColCount,
	}).Info("resumed writer")
	return nil
}

func reopenLeaf(buf []byte, pageNum uint32, pageSize, reservedBytes int, h page.Header) (*page.Page, error) {
	if h.Kind != page.KindLeafTable {
		return nil, fmt.Errorf("writer: resumed page %d is not a leaf", pageNum)
	}
	p := page.New(buf, pageNum, pageSize, reservedBytes)
	p.Reopen(h)
	return p, nil
}

// SetColVal records a typed value into the pending row's column slot. It
// affects the next row committed by AppendEmptyRow, not any row already
// committed.
func (w *Writer) SetColVal(colIdx int, v record.Value) error {
	if w.state != stateLeafOpen {
		return ulogerr.New("set_col_val", ulogerr.ErrNotFinalized, nil)
	}
	if colIdx < 0 || colIdx >= len(w.pendingRow) {
		return fmt.Errorf("writer: column index %d out of range [0,%d)", colIdx, len(w.pendingRow))
	}
	w.pendingRow[colIdx] = v
	return nil
}

// AppendEmptyRow commits the row accumulated via SetColVal (unset columns
// default to NULL) and starts a fresh pending row.
func (w *Writer) AppendEmptyRow(ctx context.Context) error {
	if err := w.commitRow(ctx, w.pendingRow); err != nil {
		return err
	}
	w.pendingRow = make([]record.Value, w.cfg.ColCount)
	return nil
}

// AppendRowWithValues commits values directly as one row without reading the
// pending-row side buffer; values already set through SetColVal are
// discarded.
func (w *Writer) AppendRowWithValues(ctx context.Context, values []record.Value) error {
	if len(values) != w.cfg.ColCount {
		return fmt.Errorf("writer: expected %d columns, got %d", w.cfg.ColCount, len(values))
	}
	if err := w.commitRow(ctx, values); err != nil {
		return err
	}
	w.pendingRow = make([]record.Value, w.cfg.ColCount)
	return nil
}

func (w *Writer) commitRow(ctx context.Context, values []record.Value) error {
	if w.state != stateLeafOpen {
		return ulogerr.New("append_row", ulogerr.ErrNotFinalized, nil)
	}

	sizes, err := record.Measure(values)
	if err != nil {
		return ulogerr.New("append_row", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	recBuf := make([]byte, sizes.Total)
	if _, err := record.Write(recBuf, values); err != nil {
		return ulogerr.New("append_row", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}

	rowid := w.lastRowID + 1

	if err := w.leafPage.AddCell(rowid, recBuf); err != nil {
		if errors.Is(err, page.ErrRowTooBig) {
			return ulogerr.New("append_row", ulogerr.ErrRowTooBig, map[string]interface{}{"rowid": rowid, "size": sizes.Total})
		}

		if err := w.writeAndFlushPage(ctx, w.leafPage); err != nil {
			return err
		}
		if err := w.allocateNextLeaf(ctx); err != nil {
			return err
		}
		if err := w.leafPage.AddCell(rowid, recBuf); err != nil {
			return ulogerr.New("append_row", ulogerr.ErrRowTooBig, map[string]interface{}{"rowid": rowid, "size": sizes.Total})
		}
	}

	w.lastRowID = rowid
	w.cfg.Logger.WithFields(logrus.Fields{
		"op": "append_row", "rowid": rowid, "page": w.leafPage.PageNum(),
	}).Debug("row appended")
	return nil
}

func (w *Writer) allocateNextLeaf(ctx context.Context) error {
	next := w.pageNum + 1
	if err := w.checkPageLimit(next); err != nil {
		return err
	}
	w.pageNum = next
	w.leafPage = page.New(w.leafBuf, w.pageNum, w.cfg.PageSize, w.cfg.ReservedBytes)
	w.leafPage.Init(page.KindLeafTable)
	return nil
}

func (w *Writer) checkPageLimit(pageNum uint32) error {
	if w.cfg.MaxPagesExp == 0 {
		return nil
	}
	limit := uint32(1) << uint(w.cfg.MaxPagesExp)
	if pageNum > limit {
		return ulogerr.New("page_limit", ulogerr.ErrPageLimit, map[string]interface{}{"page": pageNum, "limit": limit})
	}
	return nil
}

func (w *Writer) writeAndFlushPage(ctx context.Context, p *page.Page) error {
	p.FinalizeHeader()
	offset := int64(p.PageNum()-1) * int64(w.cfg.PageSize)
	if _, err := w.io.WriteAt(ctx, p.Bytes(), offset); err != nil {
		return ulogerr.New("write_page", ulogerr.ErrWrite, map[string]interface{}{"page": p.PageNum(), "cause": err})
	}
	if err := w.io.Flush(ctx); err != nil {
		return ulogerr.New("flush_page", ulogerr.ErrFlush, map[string]interface{}{"page": p.PageNum(), "cause": err})
	}
	return nil
}
