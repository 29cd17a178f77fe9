package writer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gosqlitelog/ulogsqlite/internal/page"
	"github.com/gosqlitelog/ulogsqlite/internal/schema"
	"github.com/gosqlitelog/ulogsqlite/ulogerr"
)

// Finalize flushes the current leaf, builds every interior level bottom-up
// by rereading just-written siblings through the IO's read path, patches
// page 1 with the final root page and page count, and closes the writer.
// After Finalize returns nil the Writer must not be used for further
// appends.
func (w *Writer) Finalize(ctx context.Context) error {
	if w.state == stateClosed {
		return ulogerr.New("finalize", ulogerr.ErrFinalized, nil)
	}
	if w.state != stateLeafOpen {
		return ulogerr.New("finalize", ulogerr.ErrNotFinalized, nil)
	}
	w.state = stateFinalizing

	if err := w.writeAndFlushPage(ctx, w.leafPage); err != nil {
		return err
	}

	root := w.pageNum
	levelFirst, levelLast := uint32(2), w.pageNum
	for levelFirst != levelLast {
		levelPages, err := w.buildLevel(ctx, levelFirst, levelLast)
		if err != nil {
			return err
		}
		levelFirst, levelLast = levelPages[0], levelPages[len(levelPages)-1]
		root = levelLast
	}

	if err := schema.PatchRootPage(w.page1Buf, root); err != nil {
		return ulogerr.New("finalize", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	if err := schema.PatchHeaderCounters(w.page1Buf, root); err != nil {
		return ulogerr.New("finalize", ulogerr.ErrMalformed, map[string]interface{}{"cause": err})
	}
	if _, err := w.io.WriteAt(ctx, w.page1Buf, 0); err != nil {
		return ulogerr.New("finalize", ulogerr.ErrWrite, map[string]interface{}{"cause": err})
	}
	if err := w.io.Flush(ctx); err != nil {
		return ulogerr.New("finalize", ulogerr.ErrFlush, map[string]interface{}{"cause": err})
	}

	w.state = stateClosed
	w.cfg.Logger.WithFields(logrus.Fields{
		"op": "finalize", "root_page": root, "page_count": root,
	}).Info("database finalized")
	return nil
}

// buildLevel builds one interior level over the contiguous page range
// [first, last], returning the page numbers of the pages it produced (in
// order). Pages are allocated starting at last+1. If first == last there is
// nothing to build: the single input page is itself the level's output.
//
// Page p in [first, last) contributes a divider entry (left_child=p,
// key=max_rowid(p)) to the current output page; whichever input page didn't
// fit becomes that output page's right-most child instead of a divider
// entry, and the loop resumes with the next input page on a fresh output
// page. The final input page in the range always becomes the right-most
// child of the level's last output page.
func (w *Writer) buildLevel(ctx context.Context, first, last uint32) ([]uint32, error) {
	if first == last {
		return []uint32{first}, nil
	}

	nextPageNum := last + 1
	var outPages []uint32

	scratch := make([]byte, w.cfg.PageSize)
	cur := page.New(scratch, nextPageNum, w.cfg.PageSize, w.cfg.ReservedBytes)
	cur.Init(page.KindInteriorTable)

	for p := first; p < last; p++ {
		key, err := w.maxRowIDOf(ctx, p)
		if err != nil {
			return nil, err
		}

		if err := cur.AddInteriorEntry(p, key); err != nil {
			cur.SetRightChild(p)
			if err := w.writeAndFlushPage(ctx, cur); err != nil {
				return nil, err
			}
			outPages = append(outPages, cur.PageNum())

			nextPageNum++
			if err := w.checkPageLimit(nextPageNum); err != nil {
				return nil, err
			}
			scratch = make([]byte, w.cfg.PageSize)
			cur = page.New(scratch, nextPageNum, w.cfg.PageSize, w.cfg.ReservedBytes)
			cur.Init(page.KindInteriorTable)
			continue
		}
	}

	cur.SetRightChild(last)
	if err := w.writeAndFlushPage(ctx, cur); err != nil {
		return nil, err
	}
	outPages = append(outPages, cur.PageNum())

	return outPages, nil
}

// maxRowIDOf returns the largest row-id in the subtree rooted at pageNum,
// discovered by reading one page at a time: a leaf's answer is its last
// cell's row-id; an interior page's answer is its right-most child's,
// recovered by following the right-child pointer down to a leaf. At most one
// page is ever resident while doing this.
func (w *Writer) maxRowIDOf(ctx context.Context, pageNum uint32) (int64, error) {
	buf := make([]byte, w.cfg.PageSize)
	for {
		if _, err := w.io.ReadAt(ctx, buf, int64(pageNum-1)*int64(w.cfg.PageSize)); err != nil {
			return 0, ulogerr.New("finalize", ulogerr.ErrRead, map[string]interface{}{"page": pageNum, "cause": err})
		}
		h, err := page.ParseHeader(buf, pageNum)
		if err != nil {
			return 0, ulogerr.New("finalize", ulogerr.ErrMalformed, map[string]interface{}{"page": pageNum, "cause": err})
		}

		if h.Kind == page.KindLeafTable {
			if h.CellCount == 0 {
				return 0, fmt.Errorf("writer: leaf page %d has no rows to derive a max row-id from", pageNum)
			}
			off := page.ReadCellOffset(buf, pageNum, h, int(h.CellCount)-1)
			return page.LeafCellRowID(buf, off)
		}

		pageNum = h.RightChild
	}
}
